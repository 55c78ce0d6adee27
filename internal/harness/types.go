package harness

import (
	"fmt"
	"sync"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/publish"
)

// Trace event types.
const (
	EventSubmit  = "submit"
	EventReject  = "reject"
	EventChange  = "change"
	EventResolve = "resolve"
	EventPush    = "push"
	EventRestart = "restart"
)

// TraceEvent is one observable step of a scenario run.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Type   string `json:"type"`
	TxID   string `json:"tx_id,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Change string `json:"change,omitempty"`
	Ref    string `json:"ref,omitempty"`
	Origin string `json:"origin,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
	// Count is the number of updates of a push, or the number of pending
	// entries found by a restart.
	Count int `json:"count,omitempty"`
}

// fields exposes the event to subset matching by its JSON names.
func (e TraceEvent) fields() map[string]string {
	return map[string]string{
		"seq":    fmt.Sprint(e.Seq),
		"type":   e.Type,
		"tx_id":  e.TxID,
		"kind":   e.Kind,
		"change": e.Change,
		"ref":    e.Ref,
		"origin": e.Origin,
		"status": e.Status,
		"error":  e.Error,
		"count":  fmt.Sprint(e.Count),
	}
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect and assertion held.
	Pass bool `json:"pass"`

	// Trace lists what happened, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors explains each failed expect or assertion.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// tracer numbers events as they happen. It is the publisher of the run, so
// entity changes land in the trace in the order they were published.
type tracer struct {
	mu     sync.Mutex
	seq    int64
	events []TraceEvent
}

func (t *tracer) add(ev TraceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	ev.Seq = t.seq
	t.events = append(t.events, ev)
}

func (t *tracer) snapshot() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TraceEvent{}, t.events...)
}

func (t *tracer) change(change publish.Change, ref model.EntityRef, pc publish.Context) {
	t.add(TraceEvent{
		Type:   EventChange,
		TxID:   pc.TxID,
		Change: string(change),
		Ref:    ref.String(),
		Origin: string(pc.Origin),
	})
}

func (t *tracer) EntityAdded(ref model.EntityRef, pc publish.Context) {
	t.change(publish.Added, ref, pc)
}

func (t *tracer) EntityUpdated(ref model.EntityRef, pc publish.Context) {
	t.change(publish.Updated, ref, pc)
}

func (t *tracer) EntityDeleted(ref model.EntityRef, pc publish.Context) {
	t.change(publish.Deleted, ref, pc)
}

// sequentialIDs hands out tx-1, tx-2, ... so traces are reproducible.
type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (g *sequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("tx-%d", g.n)
}

// peek returns the id the next Generate call will return.
func (g *sequentialIDs) peek() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fmt.Sprintf("tx-%d", g.n+1)
}
