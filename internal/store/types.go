package store

import (
	"errors"
	"time"

	"backoffice/internal/domain"
)

var ErrNotFound = errors.New("not found")

// ClaimReason explains why a reminder slot was not granted.
type ClaimReason string

const (
	ClaimAlreadySent ClaimReason = "already_sent_today"
	ClaimDailyCap    ClaimReason = "daily_cap"
)

type ReminderClaim struct {
	LogID        string
	TenantID     string
	FeeID        string
	ClientID     string
	RuleID       string
	Category     domain.ReminderCategory
	Channel      string
	TemplateUsed string
	Day          time.Time
	MaxPerDay    int
	Now          time.Time
}

type ClaimResult struct {
	Claimed bool
	Reason  ClaimReason
	// SentToday is the number of log entries for the fee on Day, including this claim.
	SentToday int
}

type ReminderConfirm struct {
	LogID  string
	FeeID  string
	SentAt time.Time
}

// AlertThresholds are resolved cutoffs for the alert counters.
type AlertThresholds struct {
	TenantID             string
	Now                  time.Time
	UnopenedDays         int
	NoSelectionDays      int
	AbandonedPaymentDays int
	CheckOverdueDays     int
	DisputeDays          int
}

func ThresholdsFrom(s domain.NotificationSettings, now time.Time) AlertThresholds {
	return AlertThresholds{
		TenantID:             s.TenantID,
		Now:                  now,
		UnopenedDays:         s.UnopenedDays,
		NoSelectionDays:      s.NoSelectionDays,
		AbandonedPaymentDays: s.AbandonedPaymentDays,
		CheckOverdueDays:     s.CheckOverdueDays,
		DisputeDays:          s.DisputeDays,
	}
}
