package pg

import (
	"context"

	"backoffice/internal/domain"
	"backoffice/internal/store"
)

// CountAlerts evaluates every alert category for one tenant in a single round trip.
func (s *Store) CountAlerts(ctx context.Context, th store.AlertThresholds) (domain.AlertCounts, error) {
	days := func(n int) any { return th.Now.AddDate(0, 0, -n) }

	var out domain.AlertCounts
	err := s.DB.QueryRow(ctx, `
		SELECT
		  (SELECT count(*) FROM fees
		     WHERE tenant_id=$1 AND status='sent' AND opened_at IS NULL
		       AND sent_at IS NOT NULL AND sent_at <= $2),
		  (SELECT count(*) FROM fees
		     WHERE tenant_id=$1 AND status='sent' AND opened_at IS NOT NULL
		       AND selected_at IS NULL AND opened_at <= $3),
		  (SELECT count(DISTINCT t.fee_id) FROM payment_transactions t
		     JOIN fees f ON f.id = t.fee_id
		     WHERE t.tenant_id=$1 AND t.provider='cardcom' AND t.status IN ('pending','failed')
		       AND f.status <> 'paid' AND t.created_at <= $4),
		  (SELECT count(*) FROM payment_checks
		     WHERE tenant_id=$1 AND deposited = FALSE AND check_date <= $5::date),
		  (SELECT count(*) FROM payment_disputes
		     WHERE tenant_id=$1 AND status='pending' AND created_at <= $6)
	`, th.TenantID, days(th.UnopenedDays), days(th.NoSelectionDays), days(th.AbandonedPaymentDays),
		days(th.CheckOverdueDays), days(th.DisputeDays)).Scan(
		&out.UnopenedLetters, &out.NoSelection, &out.AbandonedCardcom, &out.ChecksOverdue, &out.PendingDisputes)
	if err != nil {
		return domain.AlertCounts{}, err
	}
	return out, nil
}
