package pg

import (
	"context"

	"backoffice/internal/domain"
	"backoffice/internal/store"
)

// ClaimReminder reserves today's reminder slot for a fee and category. The fee row is locked
// so concurrent runs serialize on it; the unique (fee_id, reminder_type, sent_on) constraint
// is the final guard. A granted claim leaves a pending log row that must be confirmed or
// released.
func (s *Store) ClaimReminder(ctx context.Context, in store.ReminderClaim) (store.ClaimResult, error) {
	day := in.Day.Format("2006-01-02")

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return store.ClaimResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT 1 FROM fees WHERE id=$1 FOR UPDATE`, in.FeeID); err != nil {
		return store.ClaimResult{}, err
	}

	var (
		sentToday    int
		categorySent bool
	)
	if err := tx.QueryRow(ctx, `
		SELECT count(*), COALESCE(bool_or(reminder_type=$3), FALSE)
		FROM reminder_log WHERE fee_id=$1 AND sent_on=$2::date
	`, in.FeeID, day, string(in.Category)).Scan(&sentToday, &categorySent); err != nil {
		return store.ClaimResult{}, err
	}
	if categorySent {
		return store.ClaimResult{Reason: store.ClaimAlreadySent, SentToday: sentToday}, nil
	}
	if in.MaxPerDay > 0 && sentToday >= in.MaxPerDay {
		return store.ClaimResult{Reason: store.ClaimDailyCap, SentToday: sentToday}, nil
	}

	ct, err := tx.Exec(ctx, `
		INSERT INTO reminder_log (id, tenant_id, fee_id, client_id, rule_id, reminder_type, channel, template_used, status, sent_on, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending',$9::date,$10)
		ON CONFLICT (fee_id, reminder_type, sent_on) DO NOTHING
	`, in.LogID, in.TenantID, in.FeeID, in.ClientID, nullIfEmpty(in.RuleID), string(in.Category), in.Channel,
		in.TemplateUsed, day, in.Now)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ClaimResult{Reason: store.ClaimAlreadySent, SentToday: sentToday}, nil
		}
		return store.ClaimResult{}, err
	}
	if ct.RowsAffected() == 0 {
		return store.ClaimResult{Reason: store.ClaimAlreadySent, SentToday: sentToday}, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return store.ClaimResult{}, err
	}
	return store.ClaimResult{Claimed: true, SentToday: sentToday + 1}, nil
}

// ConfirmReminder marks the log row sent and bumps the fee's reminder counter.
func (s *Store) ConfirmReminder(ctx context.Context, in store.ReminderConfirm) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE reminder_log SET status='sent', sent_at=$2 WHERE id=$1
	`, in.LogID, in.SentAt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE fees SET reminder_count = reminder_count + 1, last_reminder_at=$2, updated_at=$2 WHERE id=$1
	`, in.FeeID, in.SentAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReleaseReminder drops a pending claim after a failed send so the next run may retry.
func (s *Store) ReleaseReminder(ctx context.Context, logID string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM reminder_log WHERE id=$1 AND status='pending'`, logID)
	return err
}

// ReminderLog lists the sent reminders of a fee, newest first. Pending claims are excluded.
func (s *Store) ReminderLog(ctx context.Context, feeID string) ([]domain.ReminderLogEntry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, tenant_id, fee_id, client_id, COALESCE(rule_id,''), reminder_type, channel,
		       template_used, sent_on, sent_at, opened
		FROM reminder_log WHERE fee_id=$1 AND status='sent'
		ORDER BY sent_at DESC, id
	`, feeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReminderLogEntry
	for rows.Next() {
		var (
			e        domain.ReminderLogEntry
			category string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.FeeID, &e.ClientID, &e.RuleID, &category, &e.Channel,
			&e.TemplateUsed, &e.SentOn, &e.SentAt, &e.Opened); err != nil {
			return nil, err
		}
		e.Category = domain.ReminderCategory(category)
		out = append(out, e)
	}
	return out, rows.Err()
}
