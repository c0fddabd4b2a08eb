package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "backoffice_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	ReminderRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reminder_runs_total", Help: "Reminder runs by result"},
		[]string{"result"},
	)
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "reminder_run_duration_seconds", Help: "Reminder run duration",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10)},
	)
	RemindersSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reminders_sent_total", Help: "Reminders sent by category"},
		[]string{"category"},
	)
	ReminderSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reminder_skips_total", Help: "Fees skipped by reason"},
		[]string{"reason"},
	)
	EmailSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "email_send_total", Help: "Email provider send outcomes"},
		[]string{"result"},
	)
	EmailLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "email_send_latency_seconds", Help: "Email provider send latency"},
	)
	AdminAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "admin_alerts_total", Help: "Admin alerts by kind and outcome"},
		[]string{"kind", "sent"},
	)
	RunTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reminder_run_triggers_total", Help: "Run trigger enqueue results"},
		[]string{"result"},
	)
	MonthRangeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "month_range_transitions_total", Help: "Month range actions by outcome"},
		[]string{"action", "result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, ReminderRuns, RunDuration, RemindersSent, ReminderSkips, EmailSend,
		EmailLatency, AdminAlerts, RunTriggers, MonthRangeTransitions)
}
