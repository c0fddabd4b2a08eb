package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"backoffice/internal/domain"
	"backoffice/internal/store"
)

type settingsStore struct {
	settings map[string]domain.NotificationSettings
	senders  map[string]domain.SenderSettings
	err      error

	tenants []domain.Tenant
	counts  map[string]domain.AlertCounts
	seen    []store.AlertThresholds
}

func (s *settingsStore) GetNotificationSettings(_ context.Context, id string) (domain.NotificationSettings, error) {
	if s.err != nil {
		return domain.NotificationSettings{}, s.err
	}
	if v, ok := s.settings[id]; ok {
		return v, nil
	}
	return domain.DefaultNotificationSettings(id), nil
}

func (s *settingsStore) GetSenderSettings(_ context.Context, id string) (domain.SenderSettings, error) {
	return s.senders[id], nil
}

func (s *settingsStore) ListActiveTenants(context.Context) ([]domain.Tenant, error) {
	return s.tenants, nil
}

func (s *settingsStore) CountAlerts(_ context.Context, th store.AlertThresholds) (domain.AlertCounts, error) {
	s.seen = append(s.seen, th)
	if th.TenantID == "broken" {
		return domain.AlertCounts{}, errors.New("boom")
	}
	return s.counts[th.TenantID], nil
}

func enabledSettings(id string) domain.NotificationSettings {
	s := domain.DefaultNotificationSettings(id)
	s.Enabled = true
	s.AlertEmail = "admin@example.com"
	return s
}

func TestAlerterNotify(t *testing.T) {
	st := &settingsStore{
		settings: map[string]domain.NotificationSettings{"t1": enabledSettings("t1")},
		senders:  map[string]domain.SenderSettings{"t1": {FromEmail: "office@acme.test", FromName: "Acme"}},
	}
	m := &fakeMailer{}
	a := &Alerter{Store: st, Mailer: m, Defaults: domain.SenderSettings{FromEmail: "billing@example.com"}}

	ok := a.Notify(context.Background(), "t1", Alert{Kind: AlertUnopenedLetters, Title: "7 fees <unopened>", Count: 7})
	if !ok {
		t.Fatalf("expected alert to be sent")
	}
	if len(m.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(m.sent))
	}
	got := m.sent[0]
	if got.To.Email != "admin@example.com" || got.From.Email != "office@acme.test" {
		t.Fatalf("unexpected addressing %+v", got)
	}
	if !strings.Contains(got.HTML, "7 fees &lt;unopened&gt;") {
		t.Fatalf("title not escaped into body: %s", got.HTML)
	}
}

func TestAlerterReturnsFalse(t *testing.T) {
	disabledKind := enabledSettings("t3")
	disabledKind.NotifyFailures = false

	cases := []struct {
		name  string
		store *settingsStore
		mail  *fakeMailer
		kind  AlertKind
	}{
		{"disabled tenant", &settingsStore{}, &fakeMailer{}, AlertUnopenedLetters},
		{"settings error", &settingsStore{err: errors.New("db down")}, &fakeMailer{}, AlertUnopenedLetters},
		{"kind disabled", &settingsStore{settings: map[string]domain.NotificationSettings{"t1": disabledKind}}, &fakeMailer{}, AlertHighFailureRate},
		{"send failure", &settingsStore{settings: map[string]domain.NotificationSettings{"t1": enabledSettings("t1")}},
			&fakeMailer{failFor: map[string]bool{"admin@example.com": true}}, AlertUnopenedLetters},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &Alerter{Store: tc.store, Mailer: tc.mail, Defaults: domain.SenderSettings{FromEmail: "billing@example.com"}}
			if a.Notify(context.Background(), "t1", Alert{Kind: tc.kind, Title: "x"}) {
				t.Fatalf("expected false")
			}
		})
	}
}

func TestMonitorSummary(t *testing.T) {
	custom := enabledSettings("t1")
	custom.UnopenedDays = 10
	st := &settingsStore{
		settings: map[string]domain.NotificationSettings{"t1": custom},
		tenants:  []domain.Tenant{{ID: "t1", Active: true}, {ID: "broken", Active: true}, {ID: "t2", Active: true}},
		counts: map[string]domain.AlertCounts{
			"t1": {UnopenedLetters: 7, ChecksOverdue: 1},
		},
	}
	mon := &AlertMonitor{Store: st}
	now := time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)

	s, err := mon.Summary(context.Background(), "t1", now)
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalAlerts != 8 || s.Alerts.UnopenedLetters != 7 || !s.CheckedAt.Equal(now) {
		t.Fatalf("unexpected summary %+v", s)
	}
	if st.seen[0].UnopenedDays != 10 || st.seen[0].NoSelectionDays != 3 {
		t.Fatalf("thresholds not taken from settings: %+v", st.seen[0])
	}

	all, err := mon.SummaryAll(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].TenantID != "t1" || all[1].TenantID != "t2" {
		t.Fatalf("unexpected summaries %+v", all)
	}
}

func TestMonitorDispatchOnePerCategory(t *testing.T) {
	n := &fakeNotifier{}
	mon := &AlertMonitor{Store: &settingsStore{}, Notifier: n}
	c := domain.AlertCounts{UnopenedLetters: 7, PendingDisputes: 2}
	sent := mon.Dispatch(context.Background(), domain.AlertSummary{TenantID: "t1", Alerts: c, TotalAlerts: c.Total()})
	if sent != 2 {
		t.Fatalf("expected 2 alerts, got %d", sent)
	}
	if got := n.alerts["t1"][0].Title; got != "7 fee letters were not opened" {
		t.Fatalf("unexpected title %q", got)
	}
	if mon.Dispatch(context.Background(), domain.AlertSummary{TenantID: "t1"}) != 0 {
		t.Fatalf("empty summary must not alert")
	}
}
