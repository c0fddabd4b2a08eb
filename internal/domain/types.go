package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ReminderCategory tags a rule with the kind of reminder it produces. It is also the
// dedup key of the reminder log: one entry per fee, category and calendar day.
type ReminderCategory string

const (
	CategoryNoOpen           ReminderCategory = "no_open"
	CategoryNoSelection      ReminderCategory = "no_selection"
	CategoryAbandonedPayment ReminderCategory = "abandoned_payment"
	CategoryCheckOverdue     ReminderCategory = "check_overdue"
	CategoryGeneral          ReminderCategory = "general"
)

func (c ReminderCategory) Valid() bool {
	switch c {
	case CategoryNoOpen, CategoryNoSelection, CategoryAbandonedPayment, CategoryCheckOverdue, CategoryGeneral:
		return true
	}
	return false
}

type FeeStatus string

const (
	FeeStatusDraft     FeeStatus = "draft"
	FeeStatusSent      FeeStatus = "sent"
	FeeStatusSelected  FeeStatus = "payment_method_selected"
	FeeStatusPaid      FeeStatus = "paid"
	FeeStatusCancelled FeeStatus = "cancelled"
)

type TriggerConditions struct {
	DaysSinceSent     *int     `json:"days_since_sent,omitempty"`
	DaysSinceOpened   *int     `json:"days_since_opened,omitempty"`
	DaysSinceSelected *int     `json:"days_since_selected,omitempty"`
	NotOpened         *bool    `json:"not_opened,omitempty"`
	PaymentMethods    []string `json:"payment_methods,omitempty"`
	Statuses          []string `json:"statuses,omitempty"`
}

func (t TriggerConditions) Empty() bool {
	return t.DaysSinceSent == nil && t.DaysSinceOpened == nil && t.DaysSinceSelected == nil &&
		t.NotOpened == nil && len(t.PaymentMethods) == 0 && len(t.Statuses) == 0
}

type RuleActions struct {
	SendEmail            bool   `json:"send_email"`
	EmailTemplate        string `json:"email_template,omitempty"`
	NotifyAdmin          bool   `json:"notify_admin"`
	IncludePaymentButton bool   `json:"include_payment_button"`
}

type ReminderRule struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	Name      string            `json:"name"`
	Category  ReminderCategory  `json:"category"`
	Trigger   TriggerConditions `json:"trigger_conditions"`
	Actions   RuleActions       `json:"actions"`
	Priority  int               `json:"priority"`
	Active    bool              `json:"is_active"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// EffectiveCategory returns the explicit category. Rows written before categories were
// stored fall back to deriving it from whichever trigger field is set.
func (r ReminderRule) EffectiveCategory() ReminderCategory {
	if r.Category != "" {
		return r.Category
	}
	if r.Trigger.DaysSinceSent != nil {
		return CategoryNoOpen
	}
	return CategoryNoSelection
}

func (r ReminderRule) Validate() error {
	if r.TenantID == "" || r.Name == "" {
		return ErrMissingFields
	}
	if r.Category != "" && !r.Category.Valid() {
		return ErrInvalidCategory
	}
	if r.Priority < 0 {
		return ErrInvalidPriority
	}
	if r.Trigger.Empty() {
		return ErrNoTrigger
	}
	if !r.Actions.SendEmail && !r.Actions.NotifyAdmin {
		return ErrNoAction
	}
	if r.Actions.SendEmail && r.Actions.EmailTemplate == "" {
		return ErrMissingTemplate
	}
	return nil
}

var (
	ErrMissingFields   = errors.New("missing required fields")
	ErrInvalidCategory = errors.New("invalid reminder category")
	ErrInvalidPriority = errors.New("priority must not be negative")
	ErrNoTrigger       = errors.New("rule has no trigger conditions")
	ErrNoAction        = errors.New("rule has no actions")
	ErrMissingTemplate = errors.New("send_email requires email_template")
)

// FeeRecord is owned by billing. The reminder engine reads matching subsets and only
// writes back the reminder counter and timestamp.
type FeeRecord struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	ClientID       string          `json:"client_id"`
	ClientName     string          `json:"client_name"`
	ClientEmail    string          `json:"client_email"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         FeeStatus       `json:"status"`
	PaymentMethod  string          `json:"payment_method,omitempty"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	OpenedAt       *time.Time      `json:"opened_at,omitempty"`
	SelectedAt     *time.Time      `json:"selected_at,omitempty"`
	ReminderCount  int             `json:"reminder_count"`
	LastReminderAt *time.Time      `json:"last_reminder_at,omitempty"`
}

// DaysSince returns whole days elapsed from t to now, or -1 when t is unset.
func DaysSince(t *time.Time, now time.Time) int {
	if t == nil {
		return -1
	}
	d := now.Sub(*t)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

type ReminderLogEntry struct {
	ID           string           `json:"id"`
	TenantID     string           `json:"tenant_id"`
	FeeID        string           `json:"fee_id"`
	ClientID     string           `json:"client_id"`
	RuleID       string           `json:"rule_id"`
	Category     ReminderCategory `json:"reminder_type"`
	Channel      string           `json:"channel"`
	TemplateUsed string           `json:"template_used"`
	SentOn       time.Time        `json:"sent_on"`
	SentAt       time.Time        `json:"sent_at"`
	Opened       bool             `json:"opened"`
}

const ChannelEmail = "email"

type Tenant struct {
	ID          string `json:"id"`
	CompanyName string `json:"company_name"`
	Active      bool   `json:"is_active"`
}

// NotificationSettings are the per-tenant alerting thresholds (days) and switches.
type NotificationSettings struct {
	TenantID             string `json:"tenant_id"`
	Enabled              bool   `json:"enabled"`
	AlertEmail           string `json:"alert_email"`
	UnopenedDays         int    `json:"unopened_days"`
	NoSelectionDays      int    `json:"no_selection_days"`
	AbandonedPaymentDays int    `json:"abandoned_payment_days"`
	CheckOverdueDays     int    `json:"check_overdue_days"`
	DisputeDays          int    `json:"dispute_days"`
	NotifyUnopened       bool   `json:"notify_unopened"`
	NotifyNoSelection    bool   `json:"notify_no_selection"`
	NotifyAbandoned      bool   `json:"notify_abandoned"`
	NotifyChecks         bool   `json:"notify_checks"`
	NotifyDisputes       bool   `json:"notify_disputes"`
	NotifyFailures       bool   `json:"notify_failures"`
}

// DefaultNotificationSettings applies when a tenant never saved its own.
func DefaultNotificationSettings(tenantID string) NotificationSettings {
	return NotificationSettings{
		TenantID:             tenantID,
		Enabled:              false,
		UnopenedDays:         7,
		NoSelectionDays:      3,
		AbandonedPaymentDays: 1,
		CheckOverdueDays:     30,
		DisputeDays:          7,
		NotifyUnopened:       true,
		NotifyNoSelection:    true,
		NotifyAbandoned:      true,
		NotifyChecks:         true,
		NotifyDisputes:       true,
		NotifyFailures:       true,
	}
}

// SenderSettings is the per-tenant email identity. Empty fields fall back to the
// configured defaults.
type SenderSettings struct {
	TenantID  string `json:"tenant_id"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
	ReplyTo   string `json:"reply_to"`
}

func (s SenderSettings) WithDefaults(def SenderSettings) SenderSettings {
	if s.FromEmail == "" {
		s.FromEmail = def.FromEmail
	}
	if s.FromName == "" {
		s.FromName = def.FromName
	}
	if s.ReplyTo == "" {
		s.ReplyTo = def.ReplyTo
	}
	return s
}

type RunStats struct {
	RunID            string   `json:"run_id"`
	TenantsProcessed int      `json:"tenants_processed"`
	RulesProcessed   int      `json:"rules_processed"`
	FeesMatched      int      `json:"fees_matched"`
	RemindersSent    int      `json:"reminders_sent"`
	EmailsSent       int      `json:"emails_sent"`
	EmailsFailed     int      `json:"emails_failed"`
	AdminAlertsSent  int      `json:"admin_alerts_sent"`
	Skipped          int      `json:"skipped"`
	Errors           []string `json:"errors"`
	ExecutionTimeMs  int64    `json:"execution_time_ms"`
	FailureRate      float64  `json:"failure_rate"`
}

// ComputeFailureRate is failed / attempted, 0 when nothing was attempted.
func (s RunStats) ComputeFailureRate() float64 {
	attempted := s.EmailsSent + s.EmailsFailed
	if attempted == 0 {
		return 0
	}
	return float64(s.EmailsFailed) / float64(attempted)
}

type AlertCounts struct {
	UnopenedLetters  int `json:"unopened_letters"`
	NoSelection      int `json:"no_selection"`
	AbandonedCardcom int `json:"abandoned_cardcom"`
	ChecksOverdue    int `json:"checks_overdue"`
	PendingDisputes  int `json:"pending_disputes"`
}

func (c AlertCounts) Total() int {
	return c.UnopenedLetters + c.NoSelection + c.AbandonedCardcom + c.ChecksOverdue + c.PendingDisputes
}

type AlertSummary struct {
	TenantID    string      `json:"tenant_id"`
	Alerts      AlertCounts `json:"alerts"`
	TotalAlerts int         `json:"total_alerts"`
	CheckedAt   time.Time   `json:"checked_at"`
}

type RunRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
}
