package testutil

import (
	"sync"
	"time"
)

// DefaultTime is the instant a ManualClock starts at unless told otherwise.
var DefaultTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// ManualClock is a wall clock that only moves when told to.
//
// Pass clock.Now wherever a func() time.Time is expected so row dates and
// retry ages are reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock reading start. A zero start means DefaultTime.
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = DefaultTime
	}
	return &ManualClock{now: start}
}

// Now returns the current reading.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new reading.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Sequence hands out consecutive int64 values starting at a fixed value.
//
// Used as a deterministic correlation id source: the same scenario with the
// same Sequence produces byte-identical local state.
type Sequence struct {
	mu   sync.Mutex
	next int64
}

// NewSequence creates a Sequence whose first value is start.
func NewSequence(start int64) *Sequence {
	return &Sequence{next: start}
}

// Next returns the next value.
func (s *Sequence) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.next
	s.next++
	return v
}
