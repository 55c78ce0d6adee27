package txn

import (
	"math"
	"math/rand/v2"
	"time"
)

// Limits bound how long a transaction keeps retrying. Zero fields are
// unlimited.
type Limits struct {
	MaxAttempts int
	MaxAge      time.Duration
}

// Decision is the outcome of classifying an execute error.
type Decision int

const (
	// Retry schedules another attempt after a backoff.
	Retry Decision = iota
	// Terminal ends the transaction and runs DidFail.
	Terminal
)

func (d Decision) String() string {
	if d == Retry {
		return "retry"
	}
	return "terminal"
}

// RetryPolicy decides whether and when a failed execute is retried.
type RetryPolicy struct {
	// Base is the first backoff step; each attempt doubles it.
	Base time.Duration
	// Max caps a single backoff.
	Max time.Duration
	// ExecuteTimeout bounds one Execute call.
	ExecuteTimeout time.Duration
	// PerKind overrides Default for specific kinds.
	PerKind map[Kind]Limits
	// Default applies to kinds missing from PerKind.
	Default Limits

	// Jitter picks the actual delay in [0, d). Defaults to full jitter.
	Jitter func(d time.Duration) time.Duration
}

// DefaultRetryPolicy returns the built-in policy. Message sends retry for the
// longest because a lost message costs the most; reaction toggles give up
// quickly.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:           time.Second,
		Max:            time.Minute,
		ExecuteTimeout: 10 * time.Second,
		Default:        Limits{MaxAttempts: 10, MaxAge: 10 * time.Minute},
		PerKind: map[Kind]Limits{
			KindSendMessage:    {MaxAttempts: 30, MaxAge: 30 * time.Minute},
			KindEditMessage:    {MaxAttempts: 10, MaxAge: 10 * time.Minute},
			KindDeleteMessages: {MaxAttempts: 10, MaxAge: 10 * time.Minute},
			KindAddReaction:    {MaxAttempts: 5, MaxAge: 2 * time.Minute},
			KindDeleteReaction: {MaxAttempts: 5, MaxAge: 2 * time.Minute},
			KindCreateChat:     {MaxAttempts: 5, MaxAge: 5 * time.Minute},
		},
	}
}

// Limits returns the limits for kind.
func (p RetryPolicy) Limits(kind Kind) Limits {
	if l, ok := p.PerKind[kind]; ok {
		return l
	}
	return p.Default
}

// Exhausted reports whether a transaction that has made attempts, and was
// created age ago, may not try again.
func (p RetryPolicy) Exhausted(kind Kind, attempts int, age time.Duration) bool {
	l := p.Limits(kind)
	if l.MaxAttempts > 0 && attempts >= l.MaxAttempts {
		return true
	}
	return l.MaxAge > 0 && age >= l.MaxAge
}

// Classify decides what happens after attempt number attempts failed with err.
func (p RetryPolicy) Classify(tx Transaction, err error, attempts int, age time.Duration) Decision {
	if !tx.ShouldRetryOnFail(err) {
		return Terminal
	}
	if p.Exhausted(tx.Kind(), attempts, age) {
		return Terminal
	}
	return Retry
}

// Backoff returns the delay before retry number attempt (1-based): a full
// jitter draw from a window that doubles per attempt up to Max.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	window := Exponential(p.Base, attempt-1)
	if p.Max > 0 && window > p.Max {
		window = p.Max
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = FullJitter
	}
	return jitter(window)
}

// Timeout returns the per-attempt execute timeout.
func (p RetryPolicy) Timeout() time.Duration {
	if p.ExecuteTimeout <= 0 {
		return 10 * time.Second
	}
	return p.ExecuteTimeout
}

const maxShift = 62

// Exponential returns base * 2^attempt, saturating instead of overflowing.
// Negative attempts count as 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(int64(base) * multiplier)
}

// FullJitter returns a random duration in [0, d). Zero or negative d yields 0.
func FullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)))
}
