package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"backoffice/internal/domain"
	"backoffice/internal/store"
)

type MonitorStore interface {
	ListActiveTenants(ctx context.Context) ([]domain.Tenant, error)
	GetNotificationSettings(ctx context.Context, tenantID string) (domain.NotificationSettings, error)
	CountAlerts(ctx context.Context, th store.AlertThresholds) (domain.AlertCounts, error)
}

// AlertMonitor counts the items needing operator attention per tenant.
type AlertMonitor struct {
	Store    MonitorStore
	Notifier Notifier
	Log      *slog.Logger
}

func (m *AlertMonitor) Summary(ctx context.Context, tenantID string, now time.Time) (domain.AlertSummary, error) {
	settings, err := m.Store.GetNotificationSettings(ctx, tenantID)
	if err != nil {
		return domain.AlertSummary{}, fmt.Errorf("load notification settings: %w", err)
	}
	counts, err := m.Store.CountAlerts(ctx, store.ThresholdsFrom(settings, now))
	if err != nil {
		return domain.AlertSummary{}, fmt.Errorf("count alerts: %w", err)
	}
	return domain.AlertSummary{
		TenantID:    tenantID,
		Alerts:      counts,
		TotalAlerts: counts.Total(),
		CheckedAt:   now,
	}, nil
}

// SummaryAll summarizes every active tenant. A tenant whose counts fail is logged and left out.
func (m *AlertMonitor) SummaryAll(ctx context.Context, now time.Time) ([]domain.AlertSummary, error) {
	tenants, err := m.Store.ListActiveTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	out := make([]domain.AlertSummary, 0, len(tenants))
	for _, t := range tenants {
		s, err := m.Summary(ctx, t.ID, now)
		if err != nil {
			m.logger().Error("alert summary failed", "tenant_id", t.ID, "err", err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Dispatch sends one admin alert per nonzero category of the summary and returns how many
// were sent.
func (m *AlertMonitor) Dispatch(ctx context.Context, s domain.AlertSummary) int {
	if m.Notifier == nil || s.TotalAlerts == 0 {
		return 0
	}
	sent := 0
	for _, a := range alertsFor(s.Alerts) {
		if m.Notifier.Notify(ctx, s.TenantID, a) {
			sent++
		}
	}
	return sent
}

func alertsFor(c domain.AlertCounts) []Alert {
	candidates := []struct {
		kind  AlertKind
		count int
		title string
	}{
		{AlertUnopenedLetters, c.UnopenedLetters, "%d fee letters were not opened"},
		{AlertNoSelection, c.NoSelection, "%d fee letters were opened without choosing a payment method"},
		{AlertAbandonedPayment, c.AbandonedCardcom, "%d card payments were started but not completed"},
		{AlertChecksOverdue, c.ChecksOverdue, "%d checks are overdue for deposit"},
		{AlertPendingDisputes, c.PendingDisputes, "%d payment disputes are waiting for a decision"},
	}
	var out []Alert
	for _, cand := range candidates {
		if cand.count == 0 {
			continue
		}
		title := fmt.Sprintf(cand.title, cand.count)
		out = append(out, Alert{Kind: cand.kind, Title: title, Message: title + ".", Count: cand.count})
	}
	return out
}

func (m *AlertMonitor) logger() *slog.Logger {
	if m.Log != nil {
		return m.Log
	}
	return slog.Default()
}
