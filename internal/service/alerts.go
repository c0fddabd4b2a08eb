package service

import (
	"context"
	"log/slog"
	"strconv"

	"backoffice/internal/domain"
	"backoffice/internal/observability"
	"backoffice/internal/providers/sendgrid"
	"backoffice/internal/util"
)

type AlertKind string

const (
	AlertRuleMatched      AlertKind = "rule_matched"
	AlertHighFailureRate  AlertKind = "high_failure_rate"
	AlertUnopenedLetters  AlertKind = "unopened_letters"
	AlertNoSelection      AlertKind = "no_selection"
	AlertAbandonedPayment AlertKind = "abandoned_payment"
	AlertChecksOverdue    AlertKind = "checks_overdue"
	AlertPendingDisputes  AlertKind = "pending_disputes"
)

// Alert is one admin notification. Sender, when set, skips the sender-settings lookup.
type Alert struct {
	Kind    AlertKind
	Title   string
	Message string
	Count   int
	Sender  *domain.SenderSettings
}

type Notifier interface {
	Notify(ctx context.Context, tenantID string, alert Alert) bool
}

type AlertSettingsStore interface {
	GetNotificationSettings(ctx context.Context, tenantID string) (domain.NotificationSettings, error)
	GetSenderSettings(ctx context.Context, tenantID string) (domain.SenderSettings, error)
}

const alertHTML = `<div dir="auto" style="font-family:sans-serif">
<h2>{{title}}</h2>
<p>{{message}}</p>
<p style="color:#888">{{kind}}</p>
</div>`

type Alerter struct {
	Store    AlertSettingsStore
	Mailer   Mailer
	Defaults domain.SenderSettings
	Log      *slog.Logger
}

func alertEnabled(s domain.NotificationSettings, k AlertKind) bool {
	switch k {
	case AlertUnopenedLetters:
		return s.NotifyUnopened
	case AlertNoSelection:
		return s.NotifyNoSelection
	case AlertAbandonedPayment:
		return s.NotifyAbandoned
	case AlertChecksOverdue:
		return s.NotifyChecks
	case AlertPendingDisputes:
		return s.NotifyDisputes
	case AlertHighFailureRate:
		return s.NotifyFailures
	default:
		return true
	}
}

// Notify emails the tenant's alert address. It reports whether an email was actually sent;
// disabled or misconfigured tenants get false. Errors are logged, never returned, so alerting
// cannot abort the caller's flow.
func (a *Alerter) Notify(ctx context.Context, tenantID string, alert Alert) bool {
	sent := a.notify(ctx, tenantID, alert)
	observability.AdminAlerts.WithLabelValues(string(alert.Kind), strconv.FormatBool(sent)).Inc()
	return sent
}

func (a *Alerter) notify(ctx context.Context, tenantID string, alert Alert) bool {
	log := a.logger().With("tenant_id", tenantID, "alert_kind", string(alert.Kind))

	settings, err := a.Store.GetNotificationSettings(ctx, tenantID)
	if err != nil {
		log.Error("load notification settings", "err", err)
		return false
	}
	if !settings.Enabled || settings.AlertEmail == "" || !alertEnabled(settings, alert.Kind) {
		log.Debug("admin alert disabled")
		return false
	}

	var sender domain.SenderSettings
	if alert.Sender != nil {
		sender = *alert.Sender
	} else {
		sender, err = a.Store.GetSenderSettings(ctx, tenantID)
		if err != nil {
			log.Warn("load sender settings, using defaults", "err", err)
		}
		sender = sender.WithDefaults(a.Defaults)
	}

	body := util.RenderTemplate(alertHTML, map[string]string{
		"title":   alert.Title,
		"message": alert.Message,
		"kind":    string(alert.Kind),
	})
	_, err = a.Mailer.Send(ctx, sendgrid.Message{
		From:       sendgrid.Address{Email: sender.FromEmail, Name: sender.FromName},
		ReplyTo:    sender.ReplyTo,
		To:         sendgrid.Address{Email: settings.AlertEmail},
		Subject:    alert.Title,
		HTML:       body,
		Categories: []string{"admin_alert", string(alert.Kind)},
	})
	if err != nil {
		log.Error("send admin alert", "err", err)
		return false
	}
	log.Info("admin alert sent", "count", alert.Count)
	return true
}

func (a *Alerter) logger() *slog.Logger {
	if a.Log != nil {
		return a.Log
	}
	return slog.Default()
}
