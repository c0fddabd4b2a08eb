package worker

import (
	"context"
	"errors"
	"log/slog"

	"backoffice/internal/domain"
	sqsqueue "backoffice/internal/queue/sqs"
	"backoffice/internal/service"
	"backoffice/internal/store"
)

type Runner interface {
	Run(ctx context.Context, req domain.RunRequest) (domain.RunStats, error)
}

// Processor executes reminder runs requested over the queue.
type Processor struct {
	Runner Runner
	Log    *slog.Logger
}

// Process returns an error only when the trigger should be redelivered. A trigger for an
// unknown tenant is acknowledged and dropped.
func (p *Processor) Process(ctx context.Context, trig sqsqueue.RunTrigger) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("trigger_run_id", trig.RunID, "tenant_id", trig.TenantID)

	stats, err := p.Runner.Run(ctx, domain.RunRequest{TenantID: trig.TenantID})
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Warn("run trigger for unknown tenant dropped")
		return nil
	case errors.Is(err, service.ErrConfiguration):
		log.Error("reminder run aborted: configuration", "err", err)
		return err
	case err != nil:
		log.Error("reminder run failed", "err", err)
		return err
	}

	log.Info("reminder run processed",
		"run_id", stats.RunID,
		"reminders_sent", stats.RemindersSent,
		"emails_failed", stats.EmailsFailed,
		"errors", len(stats.Errors),
		"execution_time_ms", stats.ExecutionTimeMs,
	)
	return nil
}
