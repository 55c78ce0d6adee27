package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/store"
	"github.com/roach88/inflight/internal/txn"
)

// run drives one task from scheduling to resolution.
func (q *Queue) run(t *task) {
	defer q.wg.Done()
	defer q.releaseLane(t)

	env := q.env.WithTx(t.id)
	log := q.logger.With("tx_id", t.id, "kind", t.tx.Kind())

	for _, prev := range t.after {
		select {
		case <-prev:
		case <-t.cancelCh:
			q.rollback(t, env)
			// Successors must still queue behind the remaining predecessors.
			q.drain(t)
			return
		case <-q.ctx.Done():
			return
		}
	}

	for {
		if q.ctx.Err() != nil {
			return
		}
		if t.cancelled() {
			q.rollback(t, env)
			return
		}

		t.setStatus(StatusExecuting)
		q.persist(t, log)

		batch, err := q.attempt(t, env)

		t.mu.Lock()
		t.attempts++
		attempts := t.attempts
		t.mu.Unlock()

		if err == nil {
			q.succeed(t, env, batch, log)
			return
		}

		if q.ctx.Err() != nil {
			// Shutting down: the outcome is unknown, so the entry stays
			// pending for the next Resume.
			t.mu.Lock()
			t.status = StatusPending
			t.lastErr = err
			t.mu.Unlock()
			q.persist(t, log)
			return
		}
		if t.cancelled() {
			q.rollback(t, env)
			return
		}

		age := q.now().Sub(t.created)
		if q.policy.Classify(t.tx, err, attempts, age) == txn.Terminal {
			q.fail(t, env, err, log)
			return
		}

		t.mu.Lock()
		t.status = StatusPending
		t.lastErr = err
		t.mu.Unlock()
		q.persist(t, log)

		delay := q.policy.Backoff(attempts)
		log.Warn("execute failed, retrying",
			"attempt", attempts,
			"backoff", delay,
			"error", err,
		)

		if !q.sleep(t, delay) {
			return
		}
	}
}

// sleep waits out a backoff. A cancellation request cuts it short so the
// rollback is not delayed; it returns false only when the queue is closing.
func (q *Queue) sleep(t *task, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-t.cancelCh:
		return true
	case <-q.ctx.Done():
		return false
	}
}

// attempt runs one Execute bounded by the policy timeout.
func (q *Queue) attempt(t *task, env txn.Env) (model.UpdateBatch, error) {
	ctx, cancel := context.WithTimeout(q.ctx, q.policy.Timeout())
	defer cancel()
	return t.tx.Execute(ctx, env)
}

func (q *Queue) succeed(t *task, env txn.Env, batch model.UpdateBatch, log *slog.Logger) {
	ctx := context.WithoutCancel(q.ctx)
	if err := t.tx.DidSucceed(ctx, env, batch); err != nil {
		// The server accepted the mutation; the push stream will deliver
		// the same deltas.
		log.Error("reconcile of execute result failed", "error", err)
	}
	if t.cancelled() {
		log.Info("transaction succeeded after cancellation was requested")
	}
	q.resolve(t, StatusSucceeded, nil)
}

func (q *Queue) fail(t *task, env txn.Env, cause error, log *slog.Logger) {
	if err := t.tx.DidFail(context.WithoutCancel(q.ctx), env, cause); err != nil {
		log.Error("compensation failed", "error", err)
	}
	q.resolve(t, StatusFailed, cause)
}

func (q *Queue) rollback(t *task, env txn.Env) {
	if err := t.tx.Rollback(context.WithoutCancel(q.ctx), env); err != nil {
		q.logger.Error("rollback failed", "tx_id", t.id, "kind", t.tx.Kind(), "error", err)
	}
	q.resolve(t, StatusRolledBack, nil)
}

// drain waits out the predecessors of a task that resolved early.
func (q *Queue) drain(t *task) {
	for _, prev := range t.after {
		select {
		case <-prev:
		case <-q.ctx.Done():
			return
		}
	}
}

// persist writes the task's mutable state to its pending entry. The payload
// is re-encoded because Execute may record progress in it.
func (q *Queue) persist(t *task, log *slog.Logger) {
	payload, err := txn.Encode(t.tx)
	if err != nil {
		log.Warn("encode pending entry failed", "error", err)
		return
	}

	t.mu.Lock()
	e := store.PendingEntry{
		ID:           t.id,
		Payload:      payload,
		AttemptCount: t.attempts,
		Status:       t.status.String(),
		UpdatedAt:    q.now(),
	}
	if t.lastErr != nil {
		e.LastError = t.lastErr.Error()
	}
	t.mu.Unlock()

	if err := q.store.UpdatePending(context.WithoutCancel(q.ctx), e); err != nil {
		log.Warn("update pending entry failed", "error", err)
	}
}

// resolve records the final state, drops the pending entry and wakes
// waiters.
func (q *Queue) resolve(t *task, status Status, err error) {
	if derr := q.store.DeletePending(context.WithoutCancel(q.ctx), t.id); derr != nil {
		q.logger.Warn("delete pending entry failed", "tx_id", t.id, "error", derr)
	}

	t.mu.Lock()
	t.status = status
	t.err = err
	attempts := t.attempts
	t.mu.Unlock()

	q.mu.Lock()
	delete(q.tasks, t.id)
	q.resolved[t.id] = status
	q.mu.Unlock()

	close(t.done)

	attrs := []any{"tx_id", t.id, "kind", t.tx.Kind(), "status", status, "attempts", attempts}
	if err != nil {
		attrs = append(attrs, "error", err)
		q.logger.Warn("transaction resolved", attrs...)
		return
	}
	q.logger.Info("transaction resolved", attrs...)
}

// releaseLane lets successors run. Lanes still pointing at t are dropped so
// the next submission on those keys starts immediately.
func (q *Queue) releaseLane(t *task) {
	q.mu.Lock()
	for _, key := range t.keys {
		if q.lanes[key] == t.lane {
			delete(q.lanes, key)
		}
	}
	q.mu.Unlock()
	close(t.lane)
}
