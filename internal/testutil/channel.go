package testutil

import (
	"context"
	"sync"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/realtime"
	"github.com/roach88/inflight/internal/txerr"
)

// Call is one recorded Invoke.
type Call struct {
	Method realtime.Method
	Input  any
}

// Handler answers an Invoke for one method.
type Handler func(ctx context.Context, input any) (realtime.Result, error)

// FakeChannel is a scripted realtime.Channel.
//
// Resolution order for Invoke: offline mode, queued failures for the method,
// the method's handler, and finally an empty Result.
type FakeChannel struct {
	mu       sync.Mutex
	handlers map[realtime.Method]Handler
	failures map[realtime.Method][]error
	calls    []Call
	offline  bool

	updates   chan model.UpdateBatch
	closeOnce sync.Once
}

// NewFakeChannel creates a channel with no handlers.
func NewFakeChannel() *FakeChannel {
	return &FakeChannel{
		handlers: make(map[realtime.Method]Handler),
		failures: make(map[realtime.Method][]error),
		updates:  make(chan model.UpdateBatch, 16),
	}
}

// Handle installs the handler for method.
func (f *FakeChannel) Handle(method realtime.Method, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

// FailNext queues errors returned by the next calls to method, one per call.
func (f *FakeChannel) FailNext(method realtime.Method, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = append(f.failures[method], errs...)
}

// SetOffline makes every Invoke fail with a retryable transport error.
func (f *FakeChannel) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

func (f *FakeChannel) Invoke(ctx context.Context, method realtime.Method, input any) (realtime.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Method: method, Input: input})
	if f.offline {
		f.mu.Unlock()
		return realtime.Result{}, txerr.Transport(txerr.CodeUnavailable, "offline")
	}
	if queued := f.failures[method]; len(queued) > 0 {
		err := queued[0]
		f.failures[method] = queued[1:]
		f.mu.Unlock()
		return realtime.Result{}, err
	}
	h := f.handlers[method]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return realtime.Result{}, txerr.WrapTransport(string(method), err)
	}
	if h == nil {
		return realtime.Result{}, nil
	}
	return h(ctx, input)
}

// Calls returns every recorded Invoke in order.
func (f *FakeChannel) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded Invokes of method.
func (f *FakeChannel) CallsTo(method realtime.Method) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Push delivers a batch on the push stream.
func (f *FakeChannel) Push(batch model.UpdateBatch) {
	f.updates <- batch
}

// CloseUpdates closes the push stream.
func (f *FakeChannel) CloseUpdates() {
	f.closeOnce.Do(func() { close(f.updates) })
}

func (f *FakeChannel) Updates() <-chan model.UpdateBatch {
	return f.updates
}
