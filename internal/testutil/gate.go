package testutil

import (
	"context"
	"sync"

	"github.com/roach88/inflight/internal/realtime"
)

// Gate holds calls in flight until released, so a test can act while an
// execute is outstanding.
type Gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// NewGate creates a gate that holds calls.
func NewGate() *Gate {
	return &Gate{
		entered: make(chan struct{}, 64),
		release: make(chan struct{}),
	}
}

// Wrap returns a handler that blocks until Release (or until the call's ctx
// is done) and then delegates to next.
func (g *Gate) Wrap(next Handler) Handler {
	return func(ctx context.Context, input any) (realtime.Result, error) {
		g.entered <- struct{}{}
		select {
		case <-g.release:
		case <-ctx.Done():
			return realtime.Result{}, ctx.Err()
		}
		return next(ctx, input)
	}
}

// Entered receives one value for every call that reached the gate.
func (g *Gate) Entered() <-chan struct{} {
	return g.entered
}

// Release opens the gate for every held and future call.
func (g *Gate) Release() {
	g.once.Do(func() { close(g.release) })
}
