package pg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"backoffice/internal/domain"
)

const feeColumns = `f.id, f.tenant_id, f.client_id, c.name, c.email, f.description, f.amount::text, f.currency,
	f.status, COALESCE(f.payment_method,''), f.sent_at, f.opened_at, f.selected_at, f.reminder_count, f.last_reminder_at`

// MatchFees returns the tenant's fees whose current state satisfies the rule's trigger
// conditions at now. It has no side effects.
func (s *Store) MatchFees(ctx context.Context, tenantID string, rule domain.ReminderRule, now time.Time) ([]domain.FeeRecord, error) {
	sql, args := buildFeeMatchQuery(tenantID, rule, now)
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FeeRecord
	for rows.Next() {
		var (
			f      domain.FeeRecord
			amount string
			status string
		)
		if err := rows.Scan(&f.ID, &f.TenantID, &f.ClientID, &f.ClientName, &f.ClientEmail, &f.Description,
			&amount, &f.Currency, &status, &f.PaymentMethod, &f.SentAt, &f.OpenedAt, &f.SelectedAt,
			&f.ReminderCount, &f.LastReminderAt); err != nil {
			return nil, err
		}
		f.Status = domain.FeeStatus(status)
		if f.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("fee %s amount: %w", f.ID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// buildFeeMatchQuery translates a rule into SQL. Elapsed-day thresholds become timestamp
// cutoffs relative to now so the query is deterministic for a given snapshot and clock.
func buildFeeMatchQuery(tenantID string, rule domain.ReminderRule, now time.Time) (string, []any) {
	args := []any{tenantID}
	where := []string{
		"f.tenant_id = $1",
		fmt.Sprintf("f.status NOT IN ('%s','%s','%s')", domain.FeeStatusDraft, domain.FeeStatusPaid, domain.FeeStatusCancelled),
	}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	cutoff := func(days int) time.Time { return now.AddDate(0, 0, -days) }

	t := rule.Trigger
	if t.DaysSinceSent != nil {
		where = append(where, "f.sent_at IS NOT NULL", "f.sent_at <= "+arg(cutoff(*t.DaysSinceSent)))
	}
	if t.DaysSinceOpened != nil {
		where = append(where, "f.opened_at IS NOT NULL", "f.opened_at <= "+arg(cutoff(*t.DaysSinceOpened)))
	}
	if t.DaysSinceSelected != nil {
		where = append(where, "f.selected_at IS NOT NULL", "f.selected_at <= "+arg(cutoff(*t.DaysSinceSelected)))
	}
	if t.NotOpened != nil {
		if *t.NotOpened {
			where = append(where, "f.opened_at IS NULL")
		} else {
			where = append(where, "f.opened_at IS NOT NULL")
		}
	}
	if len(t.PaymentMethods) > 0 {
		where = append(where, "f.payment_method = ANY("+arg(t.PaymentMethods)+")")
	}
	if len(t.Statuses) > 0 {
		where = append(where, "f.status = ANY("+arg(t.Statuses)+")")
	}

	switch rule.EffectiveCategory() {
	case domain.CategoryNoOpen:
		if t.NotOpened == nil {
			where = append(where, "f.opened_at IS NULL")
		}
	case domain.CategoryNoSelection:
		where = append(where, "f.selected_at IS NULL")
	}

	sql := "SELECT " + feeColumns + "\n\tFROM fees f JOIN clients c ON c.id = f.client_id\n\tWHERE " +
		strings.Join(where, "\n\t  AND ") +
		"\n\tORDER BY f.sent_at ASC NULLS LAST, f.id ASC"
	return sql, args
}
