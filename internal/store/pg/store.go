package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"backoffice/internal/domain"
	"backoffice/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) ListActiveTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, company_name, is_active FROM tenants WHERE is_active = TRUE ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.CompanyName, &t.Active); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (domain.Tenant, error) {
	var t domain.Tenant
	err := s.DB.QueryRow(ctx, `
		SELECT id, company_name, is_active FROM tenants WHERE id=$1
	`, tenantID).Scan(&t.ID, &t.CompanyName, &t.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Tenant{}, store.ErrNotFound
		}
		return domain.Tenant{}, err
	}
	return t, nil
}

// GetNotificationSettings returns the tenant's saved settings, or the defaults when the
// tenant never saved any.
func (s *Store) GetNotificationSettings(ctx context.Context, tenantID string) (domain.NotificationSettings, error) {
	out := domain.NotificationSettings{TenantID: tenantID}
	err := s.DB.QueryRow(ctx, `
		SELECT enabled, alert_email, unopened_days, no_selection_days, abandoned_payment_days,
		       check_overdue_days, dispute_days, notify_unopened, notify_no_selection,
		       notify_abandoned, notify_checks, notify_disputes, notify_failures
		FROM tenant_notification_settings WHERE tenant_id=$1
	`, tenantID).Scan(&out.Enabled, &out.AlertEmail, &out.UnopenedDays, &out.NoSelectionDays,
		&out.AbandonedPaymentDays, &out.CheckOverdueDays, &out.DisputeDays, &out.NotifyUnopened,
		&out.NotifyNoSelection, &out.NotifyAbandoned, &out.NotifyChecks, &out.NotifyDisputes, &out.NotifyFailures)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DefaultNotificationSettings(tenantID), nil
		}
		return domain.NotificationSettings{}, err
	}
	return out, nil
}

func (s *Store) GetSenderSettings(ctx context.Context, tenantID string) (domain.SenderSettings, error) {
	out := domain.SenderSettings{TenantID: tenantID}
	err := s.DB.QueryRow(ctx, `
		SELECT from_email, from_name, reply_to FROM tenant_email_settings WHERE tenant_id=$1
	`, tenantID).Scan(&out.FromEmail, &out.FromName, &out.ReplyTo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return out, nil
		}
		return domain.SenderSettings{}, err
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
