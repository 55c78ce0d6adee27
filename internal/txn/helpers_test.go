package txn

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/reconcile"
	"github.com/roach88/inflight/internal/store"
	"github.com/roach88/inflight/internal/testutil"
)

const testUser = int64(10)

type fixture struct {
	env    Env
	store  *store.Store
	ch     *testutil.FakeChannel
	server *testutil.FakeServer
	rec    *testutil.Recorder
	clock  *testutil.ManualClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := testutil.NewRecorder()
	clock := testutil.NewManualClock(testutil.DefaultTime)
	ch := testutil.NewFakeChannel()
	srv := testutil.NewFakeServer(testUser, clock.Now)
	srv.Install(ch)

	return &fixture{
		env: Env{
			TxID:       "tx-1",
			UserID:     testUser,
			Store:      s,
			Channel:    ch,
			Reconciler: reconcile.New(s, rec, reconcile.WithLogger(logger)),
			Publisher:  rec,
			Logger:     logger,
			Now:        clock.Now,
			RandomID:   testutil.NewSequence(9001).Next,
		},
		store:  s,
		ch:     ch,
		server: srv,
		rec:    rec,
		clock:  clock,
	}
}

func (f *fixture) seed(t *testing.T, fn func(tx *store.Tx) error) {
	t.Helper()
	require.NoError(t, f.store.Write(context.Background(), fn))
}

// seedChat stores chat 5 with confirmed messages ids and points it at the
// highest one.
func (f *fixture) seedChat(t *testing.T, ids ...int64) {
	t.Helper()
	f.seed(t, func(tx *store.Tx) error {
		var last *int64
		for _, id := range ids {
			if _, err := tx.InsertMessage(model.Message{
				ChatID: 5, MessageID: id, FromID: 20, Text: "original",
				Date: testutil.DefaultTime, Status: model.MessageSent,
			}); err != nil {
				return err
			}
			if last == nil || id > *last {
				last = model.Int64(id)
			}
		}
		return tx.UpsertChat(model.Chat{ID: 5, Title: "general", Date: testutil.DefaultTime, LastMsgID: last})
	})
}

// run drives Execute and DidSucceed, the way the queue does on success.
func (f *fixture) run(t *testing.T, tx Transaction) {
	t.Helper()
	ctx := context.Background()
	batch, err := tx.Execute(ctx, f.env)
	require.NoError(t, err)
	require.NoError(t, tx.DidSucceed(ctx, f.env, batch))
}

func (f *fixture) lastMessage(t *testing.T) *int64 {
	t.Helper()
	c, err := f.store.Chat(context.Background(), 5)
	require.NoError(t, err)
	return c.LastMsgID
}
