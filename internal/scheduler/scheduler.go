package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"backoffice/internal/observability"
	sqsqueue "backoffice/internal/queue/sqs"
	"backoffice/internal/util"
)

type Enqueuer interface {
	EnqueueRun(ctx context.Context, trig sqsqueue.RunTrigger) error
}

// Scheduler enqueues an all-tenant reminder run on a cron schedule. The run itself happens
// on a worker.
type Scheduler struct {
	cron    *cron.Cron
	queue   Enqueuer
	log     *slog.Logger
	timeout time.Duration
}

func New(queue Enqueuer, loc *time.Location, log *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelError))
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithChain(cron.Recover(cronLogger))),
		queue:   queue,
		log:     log,
		timeout: 10 * time.Second,
	}
}

// Start registers the run job and starts the cron loop.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { _ = s.Trigger(context.Background()) }); err != nil {
		return err
	}
	s.log.Info("scheduled reminder run", "schedule", spec)
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Trigger enqueues one run now.
func (s *Scheduler) Trigger(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	trig := sqsqueue.RunTrigger{RunID: util.NewRunID(), RequestedAt: util.NowUTC()}
	if err := s.queue.EnqueueRun(ctx, trig); err != nil {
		observability.RunTriggers.WithLabelValues("error").Inc()
		s.log.Error("enqueue reminder run failed", "trigger_run_id", trig.RunID, "err", err)
		return err
	}
	observability.RunTriggers.WithLabelValues("ok").Inc()
	s.log.Info("reminder run enqueued", "trigger_run_id", trig.RunID)
	return nil
}
