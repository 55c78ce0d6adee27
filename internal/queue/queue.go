package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/inflight/internal/store"
	"github.com/roach88/inflight/internal/txerr"
	"github.com/roach88/inflight/internal/txn"
)

// Queue is the TransactionQueue.
//
// Thread-safety model:
//   - Submit, Cancel, Pending, Wait: safe from any goroutine
//   - Resume: call before the first Submit, so resumed entries keep their
//     place ahead of new work; only the first call loads anything
//   - Close: call once; Submit and Resume fail afterwards
type Queue struct {
	store  *store.Store
	env    txn.Env
	policy txn.RetryPolicy
	ids    IDGenerator
	clock  *Clock
	now    func() time.Time
	logger *slog.Logger

	// ctx scopes every task goroutine; stop cancels it on Close.
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	// submitMu spans a submission from Optimistic to scheduling, so the
	// order in which optimistic effects land is the seq order they run in.
	submitMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	resumed  bool
	tasks    map[string]*task
	lanes    map[string]chan struct{}
	resolved map[string]Status
}

// Option configures a Queue.
type Option func(*Queue)

// WithPolicy sets the retry policy. Default: txn.DefaultRetryPolicy().
func WithPolicy(p txn.RetryPolicy) Option {
	return func(q *Queue) {
		q.policy = p
	}
}

// WithIDGenerator sets the transaction id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(q *Queue) {
		q.ids = g
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithNow sets the wall clock used for entry ages. Defaults to env.Now, or
// time.Now when env has none.
func WithNow(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// New creates a queue that runs transactions against env. env.Store must be
// the same store the queue persists to.
func New(s *store.Store, env txn.Env, opts ...Option) *Queue {
	ctx, stop := context.WithCancel(context.Background())
	q := &Queue{
		store:    s,
		env:      env,
		policy:   txn.DefaultRetryPolicy(),
		ids:      UUIDv7Generator{},
		clock:    NewClock(),
		now:      env.Now,
		logger:   slog.Default(),
		ctx:      ctx,
		stop:     stop,
		tasks:    make(map[string]*task),
		lanes:    make(map[string]chan struct{}),
		resolved: make(map[string]Status),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.now == nil {
		q.now = func() time.Time { return time.Now().UTC() }
	}
	if q.env.Logger == nil {
		q.env.Logger = q.logger
	}
	if q.env.Store == nil {
		q.env.Store = s
	}
	return q
}

// Submit applies tx's optimistic effect, persists it and schedules its
// execution. When Submit returns without error the local effect is already
// visible. An Optimistic error aborts the submission and is returned as is.
// Concurrent submissions are serialized: transactions sharing a target run in
// the order their optimistic effects were applied.
func (q *Queue) Submit(ctx context.Context, tx txn.Transaction) (*Handle, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}

	q.submitMu.Lock()
	defer q.submitMu.Unlock()

	id := q.ids.Generate()
	env := q.env.WithTx(id)

	if err := tx.Optimistic(ctx, env); err != nil {
		q.logger.Debug("optimistic update rejected", "tx_id", id, "kind", tx.Kind(), "error", err)
		return nil, err
	}

	payload, err := txn.Encode(tx)
	if err != nil {
		q.undoOptimistic(env, tx)
		return nil, txerr.Store("encode transaction", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.undoOptimistic(env, tx)
		return nil, ErrQueueClosed
	}

	created := q.now()
	t := newTask(id, q.clock.Next(), tx, created)
	if err := q.store.SavePending(ctx, store.PendingEntry{
		ID:        id,
		Seq:       t.seq,
		Kind:      string(tx.Kind()),
		Payload:   payload,
		Status:    StatusPending.String(),
		CreatedAt: created,
	}); err != nil {
		q.undoOptimistic(env, tx)
		return nil, txerr.Store("persist transaction", err)
	}

	q.scheduleLocked(t)
	q.logger.Info("transaction submitted",
		"tx_id", id,
		"kind", tx.Kind(),
		"seq", t.seq,
		"targets", t.keys,
	)
	return &Handle{t: t}, nil
}

// undoOptimistic compensates a submission that could not be persisted.
func (q *Queue) undoOptimistic(env txn.Env, tx txn.Transaction) {
	if err := tx.Rollback(context.WithoutCancel(q.ctx), env); err != nil {
		q.logger.Error("rollback of unpersisted transaction failed",
			"tx_id", env.TxID,
			"kind", tx.Kind(),
			"error", err,
		)
	}
}

// Resume reloads persisted entries and schedules them in seq order under
// their original ids. Optimistic effects are not reapplied; they are already
// in the store. It returns the number of transactions scheduled.
//
// Entries whose kind or payload cannot be decoded are left in place and
// logged. Calls after the first successful one return 0.
func (q *Queue) Resume(ctx context.Context) (int, error) {
	q.mu.Lock()
	closed, alreadyResumed := q.closed, q.resumed
	q.mu.Unlock()
	if closed {
		return 0, ErrQueueClosed
	}
	if alreadyResumed {
		return 0, nil
	}

	maxSeq, err := q.store.MaxPendingSeq(ctx)
	if err != nil {
		return 0, txerr.Store("resume", err)
	}
	q.clock.AdvanceTo(maxSeq)

	entries, err := q.store.LoadPending(ctx)
	if err != nil {
		return 0, txerr.Store("resume", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.resumed {
		return 0, nil
	}
	q.resumed = true

	resumed := 0
	for _, e := range entries {
		if _, running := q.tasks[e.ID]; running {
			continue
		}
		if _, err := ParseStatus(e.Status); err != nil {
			q.logger.Warn("skipping pending entry", "tx_id", e.ID, "error", err)
			continue
		}
		tx, err := txn.Decode(txn.Kind(e.Kind), e.Payload)
		if err != nil {
			q.logger.Warn("skipping pending entry", "tx_id", e.ID, "kind", e.Kind, "error", err)
			continue
		}

		t := newTask(e.ID, e.Seq, tx, e.CreatedAt)
		t.attempts = e.AttemptCount
		if e.LastError != "" {
			t.lastErr = errors.New(e.LastError)
		}
		q.scheduleLocked(t)
		resumed++

		q.logger.Info("transaction resumed",
			"tx_id", e.ID,
			"kind", e.Kind,
			"seq", e.Seq,
			"attempts", e.AttemptCount,
			"was", e.Status,
		)
	}
	return resumed, nil
}

// scheduleLocked chains t behind the current tail of each of its lanes and
// starts its goroutine. Caller holds q.mu.
func (q *Queue) scheduleLocked(t *task) {
	for _, key := range t.keys {
		if prev, ok := q.lanes[key]; ok {
			t.after = append(t.after, prev)
		}
		q.lanes[key] = t.lane
	}
	q.tasks[t.id] = t

	q.wg.Add(1)
	go q.run(t)
}

// Cancel requests cancellation. A transaction that has not started executing
// is rolled back without running; one that is executing is rolled back once
// its current attempt returns, unless that attempt succeeds. Cancelling a
// resolved transaction is a no-op.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t, ok := q.tasks[id]; ok {
		t.requestCancel()
		q.logger.Info("cancellation requested", "tx_id", id)
		return nil
	}
	if _, ok := q.resolved[id]; ok {
		return nil
	}
	return fmt.Errorf("cancel %s: %w", id, ErrUnknownTransaction)
}

// Lookup returns the handle of an unresolved transaction, including one
// loaded by Resume.
func (q *Queue) Lookup(id string) (*Handle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return nil, false
	}
	return &Handle{t: t}, true
}

// Outcome reports how a transaction resolved. ok is false while it is still
// unresolved or if this queue never ran it.
func (q *Queue) Outcome(id string) (status Status, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	status, ok = q.resolved[id]
	return status, ok
}

// Pending returns the unresolved transactions in seq order.
func (q *Queue) Pending() []Snapshot {
	q.mu.Lock()
	tasks := make([]*task, 0, len(q.tasks))
	for _, t := range q.tasks {
		tasks = append(tasks, t)
	}
	q.mu.Unlock()

	out := make([]Snapshot, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Wait blocks until no transaction is unresolved or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		var next *task
		for _, t := range q.tasks {
			next = t
			break
		}
		q.mu.Unlock()

		if next == nil {
			return nil
		}
		select {
		case <-next.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ClearAll cancels every unresolved transaction, waits for the rollbacks and
// then drops whatever pending entries remain in the store, including ones
// never resumed.
func (q *Queue) ClearAll(ctx context.Context) error {
	q.mu.Lock()
	for _, t := range q.tasks {
		t.requestCancel()
	}
	q.mu.Unlock()

	if err := q.Wait(ctx); err != nil {
		return err
	}

	n, err := q.store.ClearPending(ctx)
	if err != nil {
		return txerr.Store("clear pending", err)
	}
	q.logger.Info("pending queue cleared", "removed", n)
	return nil
}

// Close stops the queue. Attempts in flight are cancelled and their entries
// stay persisted for the next Resume. Close waits for every task goroutine to
// exit or for ctx to be done.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.stop()

	exited := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(exited)
	}()

	select {
	case <-exited:
		q.logger.Info("queue closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close queue: %w", ctx.Err())
	}
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
