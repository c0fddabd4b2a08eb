package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"backoffice/internal/observability"
	"backoffice/internal/providers/sendgrid"
)

// Mailer delivers one transactional email and returns the provider's message id.
type Mailer interface {
	Send(ctx context.Context, m sendgrid.Message) (string, error)
}

// BreakerMailer bounds each send with a timeout and fails fast while the provider is unhealthy.
type BreakerMailer struct {
	Inner   Mailer
	Breaker *gobreaker.CircuitBreaker
	Timeout time.Duration
}

// NewEmailBreaker trips after `failures` consecutive transient provider errors. Rejections of
// a single message (bad address, unknown template) never open it.
func NewEmailBreaker(name string, failures uint32, cooldown time.Duration) *gobreaker.CircuitBreaker {
	if failures == 0 {
		failures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !sendgrid.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

func (b *BreakerMailer) Send(ctx context.Context, m sendgrid.Message) (string, error) {
	call := func() (any, error) {
		sendCtx := ctx
		if b.Timeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, b.Timeout)
			defer cancel()
		}
		return b.Inner.Send(sendCtx, m)
	}

	start := time.Now()
	var (
		res any
		err error
	)
	if b.Breaker == nil {
		res, err = call()
	} else {
		res, err = b.Breaker.Execute(call)
	}
	observability.EmailLatency.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		observability.EmailSend.WithLabelValues("cb_open").Inc()
		return "", err
	case err != nil:
		observability.EmailSend.WithLabelValues("error").Inc()
		return "", err
	}
	observability.EmailSend.WithLabelValues("ok").Inc()
	id, _ := res.(string)
	return id, nil
}
