package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"backoffice/internal/awsutil"
	"backoffice/internal/config"
	"backoffice/internal/logging"
	"backoffice/internal/observability"
	sqsqueue "backoffice/internal/queue/sqs"
	"backoffice/internal/scheduler"
)

func main() {
	cfg := config.LoadScheduler()
	logging.Init("scheduler", cfg.LogFormat, cfg.LogLevel)

	loc, err := time.LoadLocation(cfg.BusinessTimezone)
	if err != nil {
		slog.Error("invalid BUSINESS_TIMEZONE", "tz", cfg.BusinessTimezone, "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("scheduler sqs client init failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	producer := &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.SQSQueueURL}
	sched := scheduler.New(producer, loc, slog.Default())
	if err := sched.Start(cfg.RunSchedule); err != nil {
		slog.Error("invalid REMINDER_RUN_SCHEDULE", "schedule", cfg.RunSchedule, "err", err)
		os.Exit(1)
	}

	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("scheduler metrics server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("scheduler shutdown", "signal", sig.String())

	stopped := sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	select {
	case <-stopped.Done():
	case <-shutdownCtx.Done():
		slog.Info("scheduler shutdown timeout waiting for running job")
	}
}
