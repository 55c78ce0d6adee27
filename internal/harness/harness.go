package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/queue"
	"github.com/roach88/inflight/internal/realtime"
	"github.com/roach88/inflight/internal/reconcile"
	"github.com/roach88/inflight/internal/store"
	"github.com/roach88/inflight/internal/testutil"
	"github.com/roach88/inflight/internal/txerr"
	"github.com/roach88/inflight/internal/txn"
)

// stepTimeout bounds every blocking step so a broken scenario fails instead
// of hanging.
const stepTimeout = 5 * time.Second

// FirstRandomID is the correlation id of the first message sent in a run.
const FirstRandomID = 7001

// Harness is the test execution engine. It runs one scenario against a real
// queue with a deterministic clock and deterministic ids.
type Harness struct {
	store   *store.Store
	channel *testutil.FakeChannel
	server  *testutil.FakeServer
	clock   *testutil.ManualClock
	ids     *sequentialIDs
	tracer  *tracer
	env     txn.Env
	policy  txn.RetryPolicy
	logger  *slog.Logger

	queue   *queue.Queue
	handles map[string]*queue.Handle
	gates   map[realtime.Method]*testutil.Gate
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
// 1. Seed the store
// 2. Execute steps, checking each expect
// 3. Close the queue so nothing moves while assertions run
// 4. Evaluate assertions against the trace and the store
//
// An error is returned when the scenario could not be run at all; failed
// expectations and assertions are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := newHarness(st, scenario)
	ctx := context.Background()

	if err := h.seed(ctx, scenario.Seed); err != nil {
		return nil, fmt.Errorf("failed to seed store: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			h.shutdown(ctx)
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	if err := h.shutdown(ctx); err != nil {
		return nil, err
	}

	result.Trace = h.tracer.snapshot()

	actx := &AssertionContext{
		Store:   st,
		Channel: h.channel,
		Ctx:     ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

func newHarness(st *store.Store, scenario *Scenario) *Harness {
	userID := scenario.UserID
	if userID == 0 {
		userID = 1
	}
	maxAttempts := scenario.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 5
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	clock := testutil.NewManualClock(testutil.DefaultTime)
	ch := testutil.NewFakeChannel()
	server := testutil.NewFakeServer(userID, clock.Now)
	server.Install(ch)

	tr := &tracer{}
	rec := reconcile.New(st, tr, reconcile.WithLogger(logger))

	return &Harness{
		store:   st,
		channel: ch,
		server:  server,
		clock:   clock,
		ids:     &sequentialIDs{},
		tracer:  tr,
		env: txn.Env{
			UserID:     userID,
			Store:      st,
			Channel:    ch,
			Reconciler: rec,
			Publisher:  tr,
			Logger:     logger,
			Now:        clock.Now,
			RandomID:   testutil.NewSequence(FirstRandomID).Next,
		},
		policy: txn.RetryPolicy{
			Base:           time.Millisecond,
			Max:            4 * time.Millisecond,
			ExecuteTimeout: stepTimeout,
			Default:        txn.Limits{MaxAttempts: maxAttempts},
			Jitter:         func(d time.Duration) time.Duration { return d },
		},
		logger:  logger,
		handles: make(map[string]*queue.Handle),
		gates:   make(map[realtime.Method]*testutil.Gate),
	}
}

func (h *Harness) newQueue() *queue.Queue {
	return queue.New(h.store, h.env,
		queue.WithPolicy(h.policy),
		queue.WithIDGenerator(h.ids),
		queue.WithLogger(h.logger),
		queue.WithNow(h.clock.Now),
	)
}

func (h *Harness) seed(ctx context.Context, seed Seed) error {
	h.queue = h.newQueue()

	now := h.clock.Now()
	return h.store.Write(ctx, func(tx *store.Tx) error {
		for _, c := range seed.Chats {
			if err := tx.UpsertChat(model.Chat{ID: c.ID, Title: c.Title, LastMsgID: c.LastMsgID, Date: now}); err != nil {
				return err
			}
		}
		for _, m := range seed.Messages {
			if _, err := tx.InsertMessage(model.Message{
				ChatID:    m.ChatID,
				MessageID: m.MessageID,
				FromID:    m.FromID,
				Text:      m.Text,
				Date:      now,
				Status:    model.MessageSent,
				Out:       m.Out,
			}); err != nil {
				return err
			}
		}
		for _, r := range seed.Reactions {
			if _, err := tx.InsertReaction(model.Reaction{
				ChatID:    r.ChatID,
				MessageID: r.MessageID,
				UserID:    r.UserID,
				Emoji:     r.Emoji,
				Date:      now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// execute runs one step. Unmet expectations are added to result; an error
// means the run cannot continue.
func (h *Harness) execute(ctx context.Context, i int, step Step, result *Result) error {
	switch {
	case step.Submit != "":
		return h.submit(ctx, i, step, result)

	case step.Wait != "":
		return h.await(ctx, i, step.Wait, step.Expect, result)

	case step.Cancel != "":
		return h.queue.Cancel(step.Cancel)

	case step.Offline != nil:
		h.channel.SetOffline(*step.Offline)

	case step.Fail != nil:
		times := step.Fail.Times
		if times == 0 {
			times = 1
		}
		errs := make([]error, times)
		for n := range errs {
			errs[n] = txerr.FromCode(txerr.Code(step.Fail.Code), step.Fail.Message)
		}
		h.channel.FailNext(realtime.Method(step.Fail.Method), errs...)

	case step.Hold != "":
		m := realtime.Method(step.Hold)
		handler := h.server.Handler(m)
		if handler == nil {
			return fmt.Errorf("hold: unknown method %q", step.Hold)
		}
		gate := testutil.NewGate()
		h.gates[m] = gate
		h.channel.Handle(m, gate.Wrap(handler))

	case step.Entered != "":
		gate, ok := h.gates[realtime.Method(step.Entered)]
		if !ok {
			return fmt.Errorf("entered: %s is not held", step.Entered)
		}
		select {
		case <-gate.Entered():
		case <-time.After(stepTimeout):
			return fmt.Errorf("no call to %s within %s", step.Entered, stepTimeout)
		}

	case step.Release != "":
		m := realtime.Method(step.Release)
		gate, ok := h.gates[m]
		if !ok {
			return fmt.Errorf("release: %s is not held", step.Release)
		}
		gate.Release()
		h.channel.Handle(m, h.server.Handler(m))
		delete(h.gates, m)

	case step.Push != nil:
		return h.push(ctx, step.Push)

	case step.Advance > 0:
		h.clock.Advance(step.Advance)

	case step.Restart:
		return h.restart(ctx)
	}
	return nil
}

func (h *Harness) submit(ctx context.Context, i int, step Step, result *Result) error {
	payload, err := json.Marshal(step.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	tx, err := txn.Decode(txn.Kind(step.Submit), payload)
	if err != nil {
		return err
	}

	// The id is traced before Submit so the optimistic changes follow it.
	id := h.ids.peek()
	h.tracer.add(TraceEvent{Type: EventSubmit, TxID: id, Kind: step.Submit})

	handle, err := h.queue.Submit(ctx, tx)
	if err != nil {
		h.tracer.add(TraceEvent{Type: EventReject, TxID: id, Kind: step.Submit, Error: err.Error()})
		if step.Expect != ExpectRejected {
			result.AddError(fmt.Sprintf("step %d: %s was rejected: %v", i, id, err))
		}
		return nil
	}
	h.handles[handle.ID()] = handle

	switch step.Expect {
	case "":
		return nil
	case ExpectRejected:
		result.AddError(fmt.Sprintf("step %d: %s was accepted, expected a rejection", i, id))
		return nil
	}
	return h.await(ctx, i, handle.ID(), step.Expect, result)
}

// await waits for id to resolve and traces the outcome.
func (h *Harness) await(ctx context.Context, i int, id, expect string, result *Result) error {
	status, txErr, err := h.outcome(ctx, id)
	if err != nil {
		return err
	}

	ev := TraceEvent{Type: EventResolve, TxID: id, Status: status.String()}
	if txErr != nil {
		ev.Error = txErr.Error()
	}
	h.tracer.add(ev)

	if expect != "" && status.String() != expect {
		result.AddError(fmt.Sprintf("step %d: %s resolved %s, expected %s", i, id, status, expect))
	}
	return nil
}

func (h *Harness) outcome(ctx context.Context, id string) (queue.Status, error, error) {
	handle, ok := h.handles[id]
	if !ok {
		handle, ok = h.queue.Lookup(id)
	}
	if !ok {
		if status, resolved := h.queue.Outcome(id); resolved {
			return status, nil, nil
		}
		return 0, nil, fmt.Errorf("wait: unknown transaction %s", id)
	}

	wctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	status, err := handle.Wait(wctx)
	if wctx.Err() != nil {
		return 0, nil, fmt.Errorf("%s did not resolve within %s (still %s)", id, stepTimeout, status)
	}
	return status, err, nil
}

func (h *Harness) push(ctx context.Context, raw []map[string]any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode push: %w", err)
	}
	var updates []model.Update
	if err := json.Unmarshal(data, &updates); err != nil {
		return fmt.Errorf("decode push: %w", err)
	}

	h.tracer.add(TraceEvent{Type: EventPush, Count: len(updates)})
	if _, err := h.env.Reconciler.Apply(ctx, model.UpdateBatch{Updates: updates}); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

// restart simulates a process restart: the queue is closed with whatever is
// in flight, held calls are let go and a new queue resumes from the store.
func (h *Harness) restart(ctx context.Context) error {
	if err := h.closeQueue(ctx); err != nil {
		return err
	}

	pending, err := h.store.LoadPending(ctx)
	if err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	h.tracer.add(TraceEvent{Type: EventRestart, Count: len(pending)})

	h.queue = h.newQueue()
	clear(h.handles)
	if _, err := h.queue.Resume(ctx); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	return nil
}

func (h *Harness) closeQueue(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	err := h.queue.Close(cctx)

	for _, gate := range h.gates {
		gate.Release()
	}
	clear(h.gates)
	h.server.Install(h.channel)

	return err
}

func (h *Harness) shutdown(ctx context.Context) error {
	if h.queue == nil {
		return nil
	}
	return h.closeQueue(ctx)
}
