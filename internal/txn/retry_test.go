package txn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/inflight/internal/txerr"
)

func noJitter(d time.Duration) time.Duration { return d }

func TestRetryPolicy_Classify(t *testing.T) {
	p := DefaultRetryPolicy()
	send := NewSendMessage(5, "hi")
	react := NewAddReaction(5, 1, "👍")

	tests := []struct {
		name     string
		tx       Transaction
		err      error
		attempts int
		age      time.Duration
		want     Decision
	}{
		{"transport retried", send, txerr.Transport(txerr.CodeUnavailable, "down"), 1, time.Second, Retry},
		{"timeout retried", send, fmt.Errorf("attempt: %w", context.DeadlineExceeded), 1, time.Second, Retry},
		{"unknown error retried", send, errors.New("boom"), 1, 0, Retry},
		{"permission terminal", send, txerr.FromCode(txerr.CodeForbidden, "no"), 1, 0, Terminal},
		{"conflict terminal", send, txerr.FromCode(txerr.CodeConflict, "dup"), 1, 0, Terminal},
		{"local store terminal", send, txerr.Store("write", errors.New("disk")), 1, 0, Terminal},
		{"send attempts exhausted", send, txerr.Transport(txerr.CodeInternal, "x"), 30, 0, Terminal},
		{"send age exhausted", send, txerr.Transport(txerr.CodeInternal, "x"), 2, 30 * time.Minute, Terminal},
		{"reaction gives up sooner", react, txerr.Transport(txerr.CodeInternal, "x"), 5, 0, Terminal},
		{"reaction still within limits", react, txerr.Transport(txerr.CodeInternal, "x"), 4, time.Minute, Retry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Classify(tt.tx, tt.err, tt.attempts, tt.age))
		})
	}
}

func TestRetryPolicy_LimitsFallBackToDefault(t *testing.T) {
	p := RetryPolicy{Default: Limits{MaxAttempts: 3}}
	assert.Equal(t, Limits{MaxAttempts: 3}, p.Limits(KindCreateChat))

	assert.False(t, p.Exhausted(KindCreateChat, 2, 24*time.Hour), "zero MaxAge is unlimited")
	assert.True(t, p.Exhausted(KindCreateChat, 3, 0))
}

func TestRetryPolicy_BackoffDoublesUpToMax(t *testing.T) {
	p := RetryPolicy{Base: time.Second, Max: 10 * time.Second, Jitter: noJitter}

	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 8*time.Second, p.Backoff(4))
	assert.Equal(t, 10*time.Second, p.Backoff(5))
	assert.Equal(t, 10*time.Second, p.Backoff(500))
}

func TestRetryPolicy_BackoffJitterBounded(t *testing.T) {
	p := RetryPolicy{Base: 100 * time.Millisecond, Max: time.Second}
	for attempt := 1; attempt <= 20; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, time.Second)
	}
}

func TestRetryPolicy_Timeout(t *testing.T) {
	assert.Equal(t, 10*time.Second, RetryPolicy{}.Timeout())
	assert.Equal(t, time.Second, RetryPolicy{ExecuteTimeout: time.Second}.Timeout())
}

func TestExponential(t *testing.T) {
	assert.Equal(t, time.Duration(0), Exponential(0, 3))
	assert.Equal(t, time.Second, Exponential(time.Second, -1))
	assert.Equal(t, 4*time.Second, Exponential(time.Second, 2))
	assert.Equal(t, time.Duration(math.MaxInt64), Exponential(time.Hour, 62))
	assert.Equal(t, time.Duration(math.MaxInt64), Exponential(time.Hour, 1000))
}

func TestFullJitter(t *testing.T) {
	assert.Equal(t, time.Duration(0), FullJitter(0))
	assert.Equal(t, time.Duration(0), FullJitter(-time.Second))
	for i := 0; i < 100; i++ {
		assert.Less(t, FullJitter(time.Millisecond), time.Millisecond)
	}
}

func TestNewRandomID(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		id := NewRandomID()
		assert.Positive(t, id)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
