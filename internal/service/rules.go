package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"backoffice/internal/domain"
)

type RuleStore interface {
	ListRules(ctx context.Context, tenantID string) ([]domain.ReminderRule, error)
	InsertRule(ctx context.Context, r domain.ReminderRule) error
}

type RuleService struct {
	Store RuleStore
}

// Create validates and stores a new rule. Rules without an explicit category get the one
// derived from their trigger so the stored row is never ambiguous.
func (s *RuleService) Create(ctx context.Context, r domain.ReminderRule, now time.Time) (domain.ReminderRule, error) {
	if err := r.Validate(); err != nil {
		return domain.ReminderRule{}, err
	}
	r.ID = uuid.NewString()
	r.Category = r.EffectiveCategory()
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := s.Store.InsertRule(ctx, r); err != nil {
		return domain.ReminderRule{}, err
	}
	return r, nil
}

func (s *RuleService) List(ctx context.Context, tenantID string) ([]domain.ReminderRule, error) {
	return s.Store.ListRules(ctx, tenantID)
}
