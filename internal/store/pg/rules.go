package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"backoffice/internal/domain"
)

const ruleColumns = `id, tenant_id, name, category, trigger_conditions, actions, priority, is_active, created_at, updated_at`

// ListActiveRules returns the tenant's active rules in evaluation order.
func (s *Store) ListActiveRules(ctx context.Context, tenantID string) ([]domain.ReminderRule, error) {
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM reminder_rules
		WHERE tenant_id=$1 AND is_active = TRUE
		ORDER BY priority ASC, created_at ASC, id ASC
	`, tenantID)
}

func (s *Store) ListRules(ctx context.Context, tenantID string) ([]domain.ReminderRule, error) {
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM reminder_rules
		WHERE tenant_id=$1
		ORDER BY priority ASC, created_at ASC, id ASC
	`, tenantID)
}

func (s *Store) InsertRule(ctx context.Context, r domain.ReminderRule) error {
	trig, err := json.Marshal(r.Trigger)
	if err != nil {
		return err
	}
	acts, err := json.Marshal(r.Actions)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO reminder_rules (id, tenant_id, name, category, trigger_conditions, actions, priority, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, r.ID, r.TenantID, r.Name, string(r.Category), trig, acts, r.Priority, r.Active, r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *Store) queryRules(ctx context.Context, sql string, args ...any) ([]domain.ReminderRule, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReminderRule
	for rows.Next() {
		var (
			r          domain.ReminderRule
			category   string
			trig, acts []byte
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &category, &trig, &acts, &r.Priority, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Category = domain.ReminderCategory(category)
		if err := json.Unmarshal(trig, &r.Trigger); err != nil {
			return nil, fmt.Errorf("rule %s trigger_conditions: %w", r.ID, err)
		}
		if err := json.Unmarshal(acts, &r.Actions); err != nil {
			return nil, fmt.Errorf("rule %s actions: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
