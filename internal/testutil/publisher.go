package testutil

import (
	"sync"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/publish"
)

// Recorder is a publish.Publisher that keeps every event in order.
type Recorder struct {
	mu     sync.Mutex
	events []publish.Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) EntityAdded(ref model.EntityRef, pc publish.Context) {
	r.record(publish.Event{Change: publish.Added, Ref: ref, Context: pc})
}

func (r *Recorder) EntityUpdated(ref model.EntityRef, pc publish.Context) {
	r.record(publish.Event{Change: publish.Updated, Ref: ref, Context: pc})
}

func (r *Recorder) EntityDeleted(ref model.EntityRef, pc publish.Context) {
	r.record(publish.Event{Change: publish.Deleted, Ref: ref, Context: pc})
}

func (r *Recorder) record(ev publish.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []publish.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]publish.Event(nil), r.events...)
}

// Changes returns the recorded events touching ref, as change kinds.
func (r *Recorder) Changes(ref model.EntityRef) []publish.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []publish.Change
	for _, ev := range r.events {
		if ev.Ref == ref {
			out = append(out, ev.Change)
		}
	}
	return out
}

// Reset forgets all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
