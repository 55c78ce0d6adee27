package queue

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/inflight/internal/txn"
)

// task is the queue's record of one transaction. tx is only touched by the
// goroutine running the task once it has been scheduled.
type task struct {
	id      string
	seq     int64
	tx      txn.Transaction
	created time.Time
	keys    []string

	// after holds the lanes of earlier transactions sharing a key.
	after []<-chan struct{}
	// lane is closed once this task and everything it waited on are done.
	lane chan struct{}
	// done is closed when the task resolves.
	done chan struct{}

	cancelOnce sync.Once
	cancelCh   chan struct{}

	mu       sync.Mutex
	status   Status
	attempts int
	lastErr  error
	err      error
}

func newTask(id string, seq int64, tx txn.Transaction, created time.Time) *task {
	return &task{
		id:       id,
		seq:      seq,
		tx:       tx,
		created:  created,
		keys:     uniqueKeys(tx.Targets()),
		lane:     make(chan struct{}),
		done:     make(chan struct{}),
		cancelCh: make(chan struct{}),
		status:   StatusPending,
	}
}

func (t *task) requestCancel() {
	t.cancelOnce.Do(func() { close(t.cancelCh) })
}

func (t *task) cancelled() bool {
	select {
	case <-t.cancelCh:
		return true
	default:
		return false
	}
}

func (t *task) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

func (t *task) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		ID:        t.id,
		Seq:       t.seq,
		Kind:      t.tx.Kind(),
		Status:    t.status.String(),
		Attempts:  t.attempts,
		Targets:   t.keys,
		CreatedAt: t.created,
	}
	if t.lastErr != nil {
		s.LastError = t.lastErr.Error()
	}
	return s
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// Handle lets a caller observe a submitted transaction.
type Handle struct {
	t *task
}

// ID returns the transaction id.
func (h *Handle) ID() string { return h.t.id }

// Done is closed when the transaction resolves.
func (h *Handle) Done() <-chan struct{} { return h.t.done }

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	return h.t.status
}

// Err returns the terminal error of a Failed transaction.
func (h *Handle) Err() error {
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	return h.t.err
}

// Wait blocks until the transaction resolves or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Status, error) {
	select {
	case <-h.t.done:
		return h.Status(), h.Err()
	case <-ctx.Done():
		return h.Status(), ctx.Err()
	}
}
