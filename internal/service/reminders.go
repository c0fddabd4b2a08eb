package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"backoffice/internal/domain"
	"backoffice/internal/observability"
	"backoffice/internal/providers/sendgrid"
	"backoffice/internal/store"
	"backoffice/internal/util"
)

// ErrConfiguration aborts a whole run before any tenant is touched.
var ErrConfiguration = errors.New("reminder engine misconfigured")

type RulePolicy string

const (
	// PolicyAll fires every matching rule, bounded by the per-category and per-day caps.
	PolicyAll RulePolicy = "all"
	// PolicyFirstMatch lets the first matching rule claim a fee for the rest of the run.
	PolicyFirstMatch RulePolicy = "first_match"
)

type ReminderStore interface {
	ListActiveTenants(ctx context.Context) ([]domain.Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (domain.Tenant, error)
	GetSenderSettings(ctx context.Context, tenantID string) (domain.SenderSettings, error)
	ListActiveRules(ctx context.Context, tenantID string) ([]domain.ReminderRule, error)
	MatchFees(ctx context.Context, tenantID string, rule domain.ReminderRule, now time.Time) ([]domain.FeeRecord, error)
	ClaimReminder(ctx context.Context, in store.ReminderClaim) (store.ClaimResult, error)
	ConfirmReminder(ctx context.Context, in store.ReminderConfirm) error
	ReleaseReminder(ctx context.Context, logID string) error
}

type DispatcherConfig struct {
	EmailAPIKey      string
	BatchSize        int
	MaxPerFeePerDay  int
	FailureAlertRate float64
	Policy           RulePolicy
	AppBaseURL       string
	Location         *time.Location
	DefaultSender    domain.SenderSettings
}

type Dispatcher struct {
	Store    ReminderStore
	Mailer   Mailer
	Notifier Notifier
	Limiter  *rate.Limiter
	Config   DispatcherConfig
	Log      *slog.Logger
	Now      func() time.Time
}

// runState is everything scoped to one run. It is created by Run and passed down; nothing
// survives into the next run.
type runState struct {
	now     time.Time
	day     time.Time
	stats   *domain.RunStats
	senders map[string]domain.SenderSettings
	claimed map[string]bool
}

func (rs *runState) fail(format string, args ...any) {
	rs.stats.Errors = append(rs.stats.Errors, fmt.Sprintf(format, args...))
}

func (d *Dispatcher) checkConfig() error {
	var missing []string
	if d.Config.EmailAPIKey == "" {
		missing = append(missing, "EMAIL_API_KEY")
	}
	if d.Store == nil {
		missing = append(missing, "store")
	}
	if d.Mailer == nil {
		missing = append(missing, "mailer")
	}
	if d.Config.DefaultSender.FromEmail == "" {
		missing = append(missing, "EMAIL_DEFAULT_FROM")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

func (d *Dispatcher) clock() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Run processes every active tenant, or only req.TenantID when set. Failures inside a tenant
// are collected in the returned stats; only configuration and tenant-listing failures abort.
func (d *Dispatcher) Run(ctx context.Context, req domain.RunRequest) (domain.RunStats, error) {
	start := time.Now()
	if err := d.checkConfig(); err != nil {
		observability.ReminderRuns.WithLabelValues("config_error").Inc()
		return domain.RunStats{}, err
	}

	now := d.clock()
	stats := domain.RunStats{RunID: util.NewRunID(), Errors: []string{}}
	rs := &runState{
		now:     now,
		day:     util.StartOfDay(now, d.Config.Location),
		stats:   &stats,
		senders: map[string]domain.SenderSettings{},
		claimed: map[string]bool{},
	}
	log := d.logger().With("run_id", stats.RunID)

	tenants, err := d.tenants(ctx, req)
	if err != nil {
		observability.ReminderRuns.WithLabelValues("error").Inc()
		return domain.RunStats{}, err
	}

	for _, t := range tenants {
		if ctx.Err() != nil {
			rs.fail("run cancelled: %v", ctx.Err())
			break
		}
		if err := d.runTenant(ctx, rs, t); err != nil {
			log.Error("tenant run failed", "tenant_id", t.ID, "err", err)
			rs.fail("tenant %s: %v", t.ID, err)
		}
	}

	stats.FailureRate = stats.ComputeFailureRate()
	if stats.EmailsSent+stats.EmailsFailed > 0 && stats.FailureRate > d.Config.FailureAlertRate {
		d.alertHighFailureRate(ctx, rs, tenants)
	}

	stats.ExecutionTimeMs = time.Since(start).Milliseconds()
	observability.RunDuration.Observe(time.Since(start).Seconds())
	observability.ReminderRuns.WithLabelValues("ok").Inc()
	log.Info("reminder run finished",
		"tenants_processed", stats.TenantsProcessed,
		"rules_processed", stats.RulesProcessed,
		"fees_matched", stats.FeesMatched,
		"reminders_sent", stats.RemindersSent,
		"emails_failed", stats.EmailsFailed,
		"skipped", stats.Skipped,
		"errors", len(stats.Errors),
		"failure_rate", stats.FailureRate,
	)
	return stats, nil
}

func (d *Dispatcher) tenants(ctx context.Context, req domain.RunRequest) ([]domain.Tenant, error) {
	if req.TenantID == "" {
		ts, err := d.Store.ListActiveTenants(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tenants: %w", err)
		}
		return ts, nil
	}
	t, err := d.Store.GetTenant(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", req.TenantID, err)
	}
	if !t.Active {
		return nil, nil
	}
	return []domain.Tenant{t}, nil
}

func (d *Dispatcher) sender(ctx context.Context, rs *runState, tenantID string) domain.SenderSettings {
	if s, ok := rs.senders[tenantID]; ok {
		return s
	}
	s, err := d.Store.GetSenderSettings(ctx, tenantID)
	if err != nil {
		d.logger().Warn("load sender settings, using defaults", "tenant_id", tenantID, "err", err)
	}
	s = s.WithDefaults(d.Config.DefaultSender)
	s.TenantID = tenantID
	rs.senders[tenantID] = s
	return s
}

func (d *Dispatcher) runTenant(ctx context.Context, rs *runState, t domain.Tenant) error {
	rs.stats.TenantsProcessed++

	rules, err := d.Store.ListActiveRules(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	if len(rules) == 0 {
		return nil
	}
	sender := d.sender(ctx, rs, t.ID)

	for _, rule := range rules {
		rs.stats.RulesProcessed++
		fees, err := d.Store.MatchFees(ctx, t.ID, rule, rs.now)
		if err != nil {
			d.logger().Error("match fees", "tenant_id", t.ID, "rule_id", rule.ID, "err", err)
			rs.fail("rule %s: match fees: %v", rule.ID, err)
			continue
		}
		rs.stats.FeesMatched += len(fees)

		if rule.Actions.SendEmail {
			if err := d.processFees(ctx, rs, t, rule, sender, fees); err != nil {
				return err
			}
		}

		if rule.Actions.NotifyAdmin && len(fees) > 0 && d.Notifier != nil {
			s := sender
			title := fmt.Sprintf("%d fees matched reminder rule %q", len(fees), rule.Name)
			if d.Notifier.Notify(ctx, t.ID, Alert{Kind: AlertRuleMatched, Title: title, Message: title + ".", Count: len(fees), Sender: &s}) {
				rs.stats.AdminAlertsSent++
			}
		}
	}
	return nil
}

// processFees walks the fees in fixed-size chunks, one chunk at a time. A cancelled context
// stops the walk between chunks.
func (d *Dispatcher) processFees(ctx context.Context, rs *runState, t domain.Tenant, rule domain.ReminderRule, sender domain.SenderSettings, fees []domain.FeeRecord) error {
	size := d.Config.BatchSize
	if size <= 0 {
		size = 100
	}
	for i := 0; i < len(fees); i += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, fee := range fees[i:min(i+size, len(fees))] {
			d.processFee(ctx, rs, t, rule, sender, fee)
		}
	}
	return nil
}

func (d *Dispatcher) skip(rs *runState, reason string, rule domain.ReminderRule, fee domain.FeeRecord) {
	rs.stats.Skipped++
	observability.ReminderSkips.WithLabelValues(reason).Inc()
	d.logger().Debug("reminder skipped", "reason", reason, "tenant_id", fee.TenantID, "rule_id", rule.ID, "fee_id", fee.ID)
}

func (d *Dispatcher) processFee(ctx context.Context, rs *runState, t domain.Tenant, rule domain.ReminderRule, sender domain.SenderSettings, fee domain.FeeRecord) {
	log := d.logger().With("tenant_id", t.ID, "rule_id", rule.ID, "fee_id", fee.ID)
	category := rule.EffectiveCategory()

	if d.Config.Policy == PolicyFirstMatch {
		if rs.claimed[fee.ID] {
			d.skip(rs, "claimed_by_earlier_rule", rule, fee)
			return
		}
		rs.claimed[fee.ID] = true
	}
	if fee.ClientEmail == "" {
		d.skip(rs, "no_email", rule, fee)
		return
	}

	maxPerDay := d.Config.MaxPerFeePerDay
	if maxPerDay <= 0 {
		maxPerDay = 3
	}
	logID := util.NewLogID()
	claim, err := d.Store.ClaimReminder(ctx, store.ReminderClaim{
		LogID:        logID,
		TenantID:     t.ID,
		FeeID:        fee.ID,
		ClientID:     fee.ClientID,
		RuleID:       rule.ID,
		Category:     category,
		Channel:      domain.ChannelEmail,
		TemplateUsed: rule.Actions.EmailTemplate,
		Day:          rs.day,
		MaxPerDay:    maxPerDay,
		Now:          rs.now,
	})
	if err != nil {
		log.Error("claim reminder", "err", err)
		rs.fail("fee %s: claim reminder: %v", fee.ID, err)
		return
	}
	if !claim.Claimed {
		d.skip(rs, string(claim.Reason), rule, fee)
		return
	}

	if d.Limiter != nil {
		if err := d.Limiter.Wait(ctx); err != nil {
			d.release(ctx, logID, log)
			rs.fail("fee %s: rate limiter: %v", fee.ID, err)
			return
		}
	}

	msg := d.reminderMessage(rs, t, rule, sender, fee)
	if _, err := d.Mailer.Send(ctx, msg); err != nil {
		rs.stats.EmailsFailed++
		log.Error("send reminder email", "err", err)
		rs.fail("fee %s: send email: %v", fee.ID, err)
		d.release(ctx, logID, log)
		return
	}
	rs.stats.EmailsSent++

	// The email is out; record it even if the run is being cancelled.
	if err := d.Store.ConfirmReminder(context.WithoutCancel(ctx), store.ReminderConfirm{LogID: logID, FeeID: fee.ID, SentAt: d.clock()}); err != nil {
		// The pending log row still blocks a duplicate today.
		log.Error("confirm reminder", "err", err)
		rs.fail("fee %s: record reminder: %v", fee.ID, err)
		return
	}
	rs.stats.RemindersSent++
	observability.RemindersSent.WithLabelValues(string(category)).Inc()
}

func (d *Dispatcher) release(ctx context.Context, logID string, log *slog.Logger) {
	if err := d.Store.ReleaseReminder(context.WithoutCancel(ctx), logID); err != nil {
		log.Warn("release reminder claim", "log_id", logID, "err", err)
	}
}

func (d *Dispatcher) reminderMessage(rs *runState, t domain.Tenant, rule domain.ReminderRule, sender domain.SenderSettings, fee domain.FeeRecord) sendgrid.Message {
	return sendgrid.Message{
		From:       sendgrid.Address{Email: sender.FromEmail, Name: sender.FromName},
		ReplyTo:    sender.ReplyTo,
		To:         sendgrid.Address{Email: fee.ClientEmail, Name: fee.ClientName},
		TemplateID: rule.Actions.EmailTemplate,
		Data:       templateData(d.Config.AppBaseURL, t, rule, fee, rs.now),
		Categories: []string{"reminder", string(rule.EffectiveCategory())},
	}
}

func templateData(baseURL string, t domain.Tenant, rule domain.ReminderRule, fee domain.FeeRecord, now time.Time) map[string]any {
	base := strings.TrimRight(baseURL, "/")
	days := func(ts *time.Time) string {
		n := domain.DaysSince(ts, now)
		if n < 0 {
			return ""
		}
		return strconv.Itoa(n)
	}
	return map[string]any{
		"company_name":        t.CompanyName,
		"client_name":         fee.ClientName,
		"amount":              fee.Amount.StringFixed(2),
		"currency":            fee.Currency,
		"days_since_sent":     days(fee.SentAt),
		"days_since_opened":   days(fee.OpenedAt),
		"payment_link":        base + "/pay/" + fee.ID,
		"view_link":           base + "/fees/" + fee.ID,
		"show_payment_button": rule.Actions.IncludePaymentButton,
		"fee_description":     fee.Description,
	}
}

// alertHighFailureRate sends exactly one alert per tenant of the run.
func (d *Dispatcher) alertHighFailureRate(ctx context.Context, rs *runState, tenants []domain.Tenant) {
	if d.Notifier == nil {
		return
	}
	st := rs.stats
	title := fmt.Sprintf("High reminder failure rate: %.1f%%", st.FailureRate*100)
	msg := fmt.Sprintf("%d of %d reminder emails failed in run %s.", st.EmailsFailed, st.EmailsSent+st.EmailsFailed, st.RunID)
	for _, t := range tenants {
		s := d.sender(ctx, rs, t.ID)
		if d.Notifier.Notify(ctx, t.ID, Alert{Kind: AlertHighFailureRate, Title: title, Message: msg, Count: st.EmailsFailed, Sender: &s}) {
			st.AdminAlertsSent++
		}
	}
}
