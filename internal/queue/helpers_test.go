package queue

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/realtime"
	"github.com/roach88/inflight/internal/reconcile"
	"github.com/roach88/inflight/internal/store"
	"github.com/roach88/inflight/internal/testutil"
	"github.com/roach88/inflight/internal/txn"
)

const testUser = int64(10)

// fastPolicy retries without waiting and gives up after three attempts.
func fastPolicy() txn.RetryPolicy {
	return txn.RetryPolicy{
		ExecuteTimeout: 2 * time.Second,
		Default:        txn.Limits{MaxAttempts: 3},
	}
}

type fixture struct {
	path   string
	store  *store.Store
	ch     *testutil.FakeChannel
	server *testutil.FakeServer
	rec    *testutil.Recorder
	clock  *testutil.ManualClock
	env    txn.Env
	logger *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "queue.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{path: path, store: s, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	f.rec = testutil.NewRecorder()
	f.clock = testutil.NewManualClock(testutil.DefaultTime)
	f.server = testutil.NewFakeServer(testUser, f.clock.Now)
	f.ch = testutil.NewFakeChannel()
	f.server.Install(f.ch)
	f.env = f.envFor(f.ch)

	require.NoError(t, s.Write(context.Background(), func(tx *store.Tx) error {
		for _, id := range []int64{1, 2} {
			if _, err := tx.InsertMessage(model.Message{
				ChatID: 5, MessageID: id, FromID: 20, Text: "original",
				Date: testutil.DefaultTime, Status: model.MessageSent,
			}); err != nil {
				return err
			}
		}
		return tx.UpsertChat(model.Chat{ID: 5, Title: "general", Date: testutil.DefaultTime, LastMsgID: model.Int64(2)})
	}))
	return f
}

func (f *fixture) envFor(ch *testutil.FakeChannel) txn.Env {
	return txn.Env{
		UserID:     testUser,
		Store:      f.store,
		Channel:    ch,
		Reconciler: reconcile.New(f.store, f.rec, reconcile.WithLogger(f.logger)),
		Publisher:  f.rec,
		Logger:     f.logger,
		Now:        f.clock.Now,
		RandomID:   testutil.NewSequence(9001).Next,
	}
}

func (f *fixture) newQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	opts = append([]Option{WithPolicy(fastPolicy()), WithLogger(f.logger)}, opts...)
	q := New(f.store, f.env, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		q.Close(ctx)
	})
	return q
}

// gate holds method's calls until released, then answers as the server.
func (f *fixture) gate(method realtime.Method) *testutil.Gate {
	g := testutil.NewGate()
	f.ch.Handle(method, g.Wrap(f.server.Handler(method)))
	return g
}

func (f *fixture) message(t *testing.T, id int64) model.Message {
	t.Helper()
	m, err := f.store.Message(context.Background(), 5, id)
	require.NoError(t, err)
	return m
}

func (f *fixture) pendingEntries(t *testing.T) []store.PendingEntry {
	t.Helper()
	entries, err := f.store.LoadPending(context.Background())
	require.NoError(t, err)
	return entries
}

func wait(t *testing.T, h *Handle) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, _ := h.Wait(ctx)
	require.NoError(t, ctx.Err(), "transaction %s did not resolve", h.ID())
	return st
}

func entered(t *testing.T, g *testutil.Gate) {
	t.Helper()
	select {
	case <-g.Entered():
	case <-time.After(5 * time.Second):
		t.Fatal("execute never started")
	}
}
