package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"backoffice/internal/domain"
	"backoffice/internal/providers/sendgrid"
	"backoffice/internal/store"
)

type logKey struct {
	fee      string
	category domain.ReminderCategory
	day      string
}

type memStore struct {
	mu sync.Mutex

	tenants  []domain.Tenant
	rules    map[string][]domain.ReminderRule
	fees     map[string][]domain.FeeRecord
	matchErr map[string]error
	senders  map[string]domain.SenderSettings

	log      map[logKey]string // -> status
	byID     map[string]logKey
	counts   map[string]int
	released int
}

func newMemStore() *memStore {
	return &memStore{
		rules:    map[string][]domain.ReminderRule{},
		fees:     map[string][]domain.FeeRecord{},
		matchErr: map[string]error{},
		senders:  map[string]domain.SenderSettings{},
		log:      map[logKey]string{},
		byID:     map[string]logKey{},
		counts:   map[string]int{},
	}
}

func (m *memStore) ListActiveTenants(context.Context) ([]domain.Tenant, error) {
	var out []domain.Tenant
	for _, t := range m.tenants {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) GetTenant(_ context.Context, id string) (domain.Tenant, error) {
	for _, t := range m.tenants {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Tenant{}, store.ErrNotFound
}

func (m *memStore) GetSenderSettings(_ context.Context, id string) (domain.SenderSettings, error) {
	return m.senders[id], nil
}

func (m *memStore) ListActiveRules(_ context.Context, id string) ([]domain.ReminderRule, error) {
	var out []domain.ReminderRule
	for _, r := range m.rules[id] {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) MatchFees(_ context.Context, _ string, r domain.ReminderRule, _ time.Time) ([]domain.FeeRecord, error) {
	if err := m.matchErr[r.ID]; err != nil {
		return nil, err
	}
	return m.fees[r.ID], nil
}

func (m *memStore) ClaimReminder(_ context.Context, in store.ReminderClaim) (store.ClaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day := in.Day.Format("2006-01-02")
	k := logKey{in.FeeID, in.Category, day}
	today := 0
	for lk := range m.log {
		if lk.fee == in.FeeID && lk.day == day {
			today++
		}
	}
	if _, ok := m.log[k]; ok {
		return store.ClaimResult{Reason: store.ClaimAlreadySent, SentToday: today}, nil
	}
	if today >= in.MaxPerDay {
		return store.ClaimResult{Reason: store.ClaimDailyCap, SentToday: today}, nil
	}
	m.log[k] = "pending"
	m.byID[in.LogID] = k
	return store.ClaimResult{Claimed: true, SentToday: today + 1}, nil
}

func (m *memStore) ConfirmReminder(ctx context.Context, in store.ReminderConfirm) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log[m.byID[in.LogID]] = "sent"
	m.counts[in.FeeID]++
	return nil
}

func (m *memStore) ReleaseReminder(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.byID[id]; ok && m.log[k] == "pending" {
		delete(m.log, k)
		m.released++
	}
	return nil
}

func (m *memStore) sentFor(fee string) int {
	n := 0
	for k, st := range m.log {
		if k.fee == fee && st == "sent" {
			n++
		}
	}
	return n
}

type fakeMailer struct {
	mu      sync.Mutex
	sent    []sendgrid.Message
	failFor map[string]bool
}

func (f *fakeMailer) Send(_ context.Context, m sendgrid.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[m.To.Email] {
		return "", &sendgrid.SendError{Status: 503, Body: "unavailable"}
	}
	f.sent = append(f.sent, m)
	return fmt.Sprintf("m-%d", len(f.sent)), nil
}

type fakeNotifier struct {
	alerts map[string][]Alert
}

func (f *fakeNotifier) Notify(_ context.Context, tenantID string, a Alert) bool {
	if f.alerts == nil {
		f.alerts = map[string][]Alert{}
	}
	f.alerts[tenantID] = append(f.alerts[tenantID], a)
	return true
}

func (f *fakeNotifier) count(kind AlertKind) int {
	n := 0
	for _, as := range f.alerts {
		for _, a := range as {
			if a.Kind == kind {
				n++
			}
		}
	}
	return n
}

var testNow = time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)

func intp(v int) *int { return &v }

func ago(days int) *time.Time {
	t := testNow.AddDate(0, 0, -days)
	return &t
}

func newDispatcher(st *memStore, m *fakeMailer, n *fakeNotifier) *Dispatcher {
	return &Dispatcher{
		Store:    st,
		Mailer:   m,
		Notifier: n,
		Now:      func() time.Time { return testNow },
		Config: DispatcherConfig{
			EmailAPIKey:      "key",
			BatchSize:        2,
			MaxPerFeePerDay:  3,
			FailureAlertRate: 0.10,
			Policy:           PolicyAll,
			AppBaseURL:       "https://app.example.com/",
			Location:         time.UTC,
			DefaultSender:    domain.SenderSettings{FromEmail: "billing@example.com", FromName: "Billing"},
		},
	}
}

func fee(id, email string) domain.FeeRecord {
	return domain.FeeRecord{
		ID: id, TenantID: "t1", ClientID: "c-" + id, ClientName: "Client " + id, ClientEmail: email,
		Amount: decimal.RequireFromString("100"), Currency: "ILS", Status: domain.FeeStatusSent, SentAt: ago(10),
	}
}

func emailRule(id string, cat domain.ReminderCategory, prio int) domain.ReminderRule {
	return domain.ReminderRule{
		ID: id, TenantID: "t1", Name: "rule " + id, Category: cat, Priority: prio, Active: true,
		Trigger: domain.TriggerConditions{DaysSinceSent: intp(7)},
		Actions: domain.RuleActions{SendEmail: true, EmailTemplate: "T1"},
	}
}

func TestRunSendsTemplatedReminder(t *testing.T) {
	st := newMemStore()
	st.tenants = []domain.Tenant{{ID: "t1", CompanyName: "Acme", Active: true}}
	r := emailRule("r1", "", 1)
	st.rules["t1"] = []domain.ReminderRule{r}
	st.fees["r1"] = []domain.FeeRecord{fee("f1", "a@example.com")}
	m := &fakeMailer{}

	stats, err := newDispatcher(st, m, &fakeNotifier{}).Run(context.Background(), domain.RunRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.EmailsSent != 1 || stats.RemindersSent != 1 || len(stats.Errors) != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(m.sent) != 1 || m.sent[0].TemplateID != "T1" {
		t.Fatalf("expected one T1 email, got %+v", m.sent)
	}
	data := m.sent[0].Data
	if data["company_name"] != "Acme" || data["amount"] != "100.00" || data["days_since_sent"] != "10" {
		t.Fatalf("unexpected template data %v", data)
	}
	if data["payment_link"] != "https://app.example.com/pay/f1" {
		t.Fatalf("unexpected payment link %v", data["payment_link"])
	}
	if m.sent[0].From.Email != "billing@example.com" {
		t.Fatalf("expected default sender, got %+v", m.sent[0].From)
	}
	if st.counts["f1"] != 1 {
		t.Fatalf("expected reminder_count 1, got %d", st.counts["f1"])
	}
	// days_since_sent without an explicit category logs as no_open.
	if _, ok := st.log[logKey{"f1", domain.CategoryNoOpen, "2025-05-20"}]; !ok {
		t.Fatalf("expected no_open log entry, got %v", st.log)
	}
}

func TestRunIsIdempotentWithinDay(t *testing.T) {
	st := newMemStore()
	st.tenants = []domain.Tenant{{ID: "t1", Active: true}}
	st.rules["t1"] = []domain.ReminderRule{emailRule("r1", domain.CategoryNoOpen, 1)}
	st.fees["r1"] = []domain.FeeRecord{fee("f1", "a@example.com")}
	m := &fakeMailer{}
	d := newDispatcher(st, m, &fakeNotifier{})

	if _, err := d.Run(context.Background(), domain.RunRequest{}); err != nil {
		t.Fatal(err)
	}
	stats, err := d.Run(context.Background(), domain.RunRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.EmailsSent != 0 || stats.Skipped != 1 {
		t.Fatalf("second run should skip, got %+v", stats)
	}
	if len(m.sent) != 1 || st.sentFor("f1") != 1 {
		t.Fatalf("expected exactly one reminder today")
	}
}

func TestRunCapsRemindersPerFeePerDay(t *testing.T) {
	st := newMemStore()
	st.tenants = []domain.Tenant{{ID: "t1", Active: true}}
	cats := []domain.ReminderCategory{
		domain.CategoryNoOpen, domain.CategoryNoSelection, domain.CategoryAbandonedPayment,
		domain.CategoryCheckOverdue, domain.CategoryGeneral,
	}
	for i, c := range cats {
		id := fmt.Sprintf("r%d", i)
		st.rules["t1"] = append(st.rules["t1"], emailRule(id, c, i))
		st.fees[id] = []domain.FeeRecord{fee("f1", "a@example.com")}
	}

	stats, err := newDispatcher(st, &fakeMailer{}, &fakeNotifier{}).Run(context.Background(), domain.RunRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if got := st.sentFor("f1"); got != 3 {
		t.Fatalf("expected 3 reminders, got %d", got)
	}
	if stats.Skipped != 2 {
		t.Fatalf("expected 2 capped skips, got %d", stats.Skipped)
	}
}

func TestRunFirstMatchPolicy(t *testing.T) {
	st := newMemStore()
	st.tenants = []domain.Tenant{{ID: "t1", Active: true}}
	st.rules["t1"] = []domain.ReminderRule{
		emailRule("r1", domain.CategoryNoOpen, 1),
		emailRule("r2", domain.CategoryGeneral, 2),
	}
	st.fees["r1"] = []domain.FeeRecord{fee("f1", "a@example.com")}
	st.fees["r2"] = []domain.FeeRecord{fee("f1", "a@example.com"), fee("f2", "b@example.com")}
	m := &fakeMailer{}
	d := newDispatcher(st, m, &fakeNotifier{})
	d.Config.Policy = PolicyFirstMatch

	stats, err := d.Run(context.Background(), domain.RunRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.EmailsSent != 2 || st.sentFor("f1") != 1 || st.sentFor("f2") != 1 {
		t.Fatalf("unexpected sends %+v", stats)
	}
}

func TestRunTenantWithoutRulesIsQuiet(t *testing.T) {
	st := newMemStore()
	st.tenants = []domain.Tenant{{ID: "t1", Active: true}, {ID: "t2", Active: true}}
	inactive := emailRule("r1", domain.CategoryNoOpen, 1)
	inactive.Active = false
	st.rules["t1"] = []domain.ReminderRule{inactive}
	st.fees["r1"] = []domain.FeeRecord{fee("f1", "a@example.com")}
	m := &fakeMailer{}

	stats, err := newDispatcher(st, m, &fakeNotifier{}).Run(context.Background(), domain.RunRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(m.sent) != 0 || len(stats.Errors) != 0 || stats.TenantsProcessed != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRunHighFailureRateAlertsOncePerTenant(t *testing.T) {
	st := newMemStore()
	st.tenants = []domain.Tenant{{ID: "t1", Active: true}, {ID: "t2", Active: true}, {ID: "t3", Active: false}}
	st.rules["t1"] = []domain.ReminderRule{emailRule("r1", domain.CategoryNoOpen, 1)}
	var fees []domain.FeeRecord
	failing := map[string]bool{}
	for i := 0; i < 5; i++ {
		email := fmt.Sprintf("c%d@example.com", i)
		fees = append(fees, fee(fmt.Sprintf("f%d", i), email))
		failing[email] = true
	}
	st.fees["r1"] = fees
	n := &fakeNotifier{}

	stats, err := newDispatcher(st, &fakeMailer{failFor: failing}, n).Run(context.Background(), domain.RunRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.EmailsFailed != 5 || stats.FailureRate != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if n.count(AlertHighFailureRate) != 2 || len(n.alerts["t1"]) != 1 || len(n.alerts["t2"]) != 1 {
		t.Fatalf("expected one failure alert per active tenant, got %v", n.alerts)
	}
	if st.released != 5 || len(stats.Errors) != 5 {
		t.Fatalf("failed sends must release claims and record errors: released=%d errors=%d", st.released, len(stats.Errors))
	}
}

func TestRunRuleErrorDoesNotStopOtherRules(t *testing.T) {
	st := newMemStore()
	st.tenants = []domain.Tenant{{ID: "t1", Active: true}}
	st.rules["t1"] = []domain.ReminderRule{
		emailRule("bad", domain.CategoryNoOpen, 1),
		emailRule("good", domain.CategoryGeneral, 2),
	}
	st.matchErr["bad"] = errors.New("syntax error")
	st.fees["good"] = []domain.FeeRecord{fee("f1", "a@example.com")}

	stats, err := newDispatcher(st, &fakeMailer{}, &fakeNotifier{}).Run(context.Background(), domain.RunRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.EmailsSent != 1 || len(stats.Errors) != 1 || stats.RulesProcessed != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRunNotifyAdminOncePerRule(t *testing.T) {
	st := newMemStore()
	st.tenants = []domain.Tenant{{ID: "t1", Active: true}}
	r := emailRule("r1", domain.CategoryNoOpen, 1)
	r.Actions.NotifyAdmin = true
	st.rules["t1"] = []domain.ReminderRule{r}
	st.fees["r1"] = []domain.FeeRecord{fee("f1", "a@example.com"), fee("f2", "b@example.com"), fee("f3", "c@example.com")}
	n := &fakeNotifier{}

	stats, err := newDispatcher(st, &fakeMailer{failFor: map[string]bool{"a@example.com": true}}, n).Run(context.Background(), domain.RunRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if n.count(AlertRuleMatched) != 1 || n.alerts["t1"][0].Count != 3 {
		t.Fatalf("expected one rule summary alert, got %v", n.alerts)
	}
	// 1 of 3 failed is above the 10% threshold.
	if stats.AdminAlertsSent != 2 {
		t.Fatalf("expected summary plus failure alert, got %d", stats.AdminAlertsSent)
	}
}

func TestRunMissingAPIKeyIsConfigurationError(t *testing.T) {
	d := newDispatcher(newMemStore(), &fakeMailer{}, &fakeNotifier{})
	d.Config.EmailAPIKey = ""
	if _, err := d.Run(context.Background(), domain.RunRequest{}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestRunSingleTenant(t *testing.T) {
	st := newMemStore()
	st.tenants = []domain.Tenant{{ID: "t1", Active: true}, {ID: "t2", Active: true}}
	d := newDispatcher(st, &fakeMailer{}, &fakeNotifier{})

	stats, err := d.Run(context.Background(), domain.RunRequest{TenantID: "t2"})
	if err != nil {
		t.Fatal(err)
	}
	if stats.TenantsProcessed != 1 {
		t.Fatalf("expected one tenant, got %d", stats.TenantsProcessed)
	}
	if _, err := d.Run(context.Background(), domain.RunRequest{TenantID: "missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// cancellingMailer delivers the email and then cancels the run, as a shutdown mid-send would.
type cancellingMailer struct {
	fakeMailer
	cancel context.CancelFunc
}

func (c *cancellingMailer) Send(ctx context.Context, m sendgrid.Message) (string, error) {
	id, err := c.fakeMailer.Send(ctx, m)
	c.cancel()
	return id, err
}

func TestDeliveredReminderRecordedAfterCancel(t *testing.T) {
	st := newMemStore()
	st.tenants = []domain.Tenant{{ID: "t1", CompanyName: "Acme", Active: true}}
	st.rules["t1"] = []domain.ReminderRule{emailRule("r1", domain.CategoryGeneral, 1)}
	st.fees["r1"] = []domain.FeeRecord{fee("f1", "a@example.com")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := &cancellingMailer{cancel: cancel}
	d := newDispatcher(st, &m.fakeMailer, &fakeNotifier{})
	d.Mailer = m

	stats, err := d.Run(ctx, domain.RunRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.RemindersSent != 1 || st.counts["f1"] != 1 || st.sentFor("f1") != 1 {
		t.Fatalf("delivered email must be recorded, stats %+v counts %v log %v", stats, st.counts, st.log)
	}
}
