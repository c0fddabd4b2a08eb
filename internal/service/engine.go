package service

import (
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"backoffice/internal/config"
	"backoffice/internal/domain"
	"backoffice/internal/providers/sendgrid"
)

type EngineStore interface {
	ReminderStore
	AlertSettingsStore
	MonitorStore
}

// Engine bundles the reminder and alerting services built from one EngineConfig. Admin alerts
// go through their own breaker: a run whose client emails tripped the reminder breaker still
// has to report its failure rate.
type Engine struct {
	Dispatcher *Dispatcher
	Alerter    *Alerter
	Monitor    *AlertMonitor
}

func NewEngine(st EngineStore, cfg config.EngineConfig, log *slog.Logger) (*Engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	policy := RulePolicy(cfg.RulePolicy)
	if policy != PolicyAll && policy != PolicyFirstMatch {
		return nil, fmt.Errorf("unknown rule policy %q", cfg.RulePolicy)
	}

	client := &sendgrid.Client{APIKey: cfg.EmailAPIKey, BaseURL: cfg.EmailBaseURL, HTTP: &http.Client{}}
	mailer := &BreakerMailer{
		Inner:   client,
		Breaker: NewEmailBreaker("email-reminders", cfg.EmailBreakerFailures, cfg.EmailBreakerCooldown),
		Timeout: cfg.EmailTimeout,
	}
	alertMailer := &BreakerMailer{
		Inner:   client,
		Breaker: NewEmailBreaker("email-admin-alerts", cfg.EmailBreakerFailures, cfg.EmailBreakerCooldown),
		Timeout: cfg.EmailTimeout,
	}
	defaults := domain.SenderSettings{
		FromEmail: cfg.DefaultFrom,
		FromName:  cfg.DefaultFromName,
		ReplyTo:   cfg.DefaultReplyTo,
	}

	alerter := &Alerter{Store: st, Mailer: alertMailer, Defaults: defaults, Log: log}

	var limiter *rate.Limiter
	if cfg.SendInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.SendInterval), 1)
	}

	return &Engine{
		Dispatcher: &Dispatcher{
			Store:    st,
			Mailer:   mailer,
			Notifier: alerter,
			Limiter:  limiter,
			Log:      log,
			Config: DispatcherConfig{
				EmailAPIKey:      cfg.EmailAPIKey,
				BatchSize:        cfg.BatchSize,
				MaxPerFeePerDay:  cfg.MaxPerFeePerDay,
				FailureAlertRate: cfg.FailureAlertRate,
				Policy:           policy,
				AppBaseURL:       cfg.AppBaseURL,
				Location:         loc,
				DefaultSender:    defaults,
			},
		},
		Alerter: alerter,
		Monitor: &AlertMonitor{Store: st, Notifier: alerter, Log: log},
	}, nil
}
