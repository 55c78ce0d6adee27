package realtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/txerr"
)

// BreakerSettings configures a Breaker.
type BreakerSettings struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval is the closed-state window after which counts reset.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
}

// DefaultBreakerSettings returns the settings used when none are configured.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             15 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Breaker decorates a Channel with a circuit breaker on Invoke.
//
// Only transport failures count against the breaker: a server rejecting one
// bad request says nothing about the health of the link. While the breaker is
// open, Invoke fails fast with a retryable TransportError so the queue backs
// off instead of piling requests onto a dead connection.
type Breaker struct {
	next   Channel
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerLogger sets the logger for state changes.
func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// NewBreaker wraps next.
func NewBreaker(next Channel, settings BreakerSettings, opts ...BreakerOption) *Breaker {
	b := &Breaker{next: next, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}

	threshold := settings.ConsecutiveFailures
	if threshold == 0 {
		threshold = DefaultBreakerSettings().ConsecutiveFailures
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "realtime",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !txerr.IsTransport(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return b
}

// Invoke calls the wrapped channel unless the breaker is open.
func (b *Breaker) Invoke(ctx context.Context, method Method, input any) (Result, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.Invoke(ctx, method, input)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Result{}, txerr.WrapTransport("realtime unavailable", err)
	}
	if err != nil {
		return Result{}, err
	}
	return out.(Result), nil
}

// Updates returns the wrapped channel's push stream.
func (b *Breaker) Updates() <-chan model.UpdateBatch {
	return b.next.Updates()
}

// State reports the breaker state ("closed", "half-open" or "open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}
