package txn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/store"
	"github.com/roach88/inflight/internal/txerr"
)

func TestEditMessage_OptimisticAndSuccess(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1)
	ctx := context.Background()

	edit := NewEditMessage(5, 1, "changed")
	require.NoError(t, edit.Optimistic(ctx, f.env))

	row, err := f.store.Message(ctx, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "changed", row.Text)
	require.NotNil(t, row.EditDate)

	f.clock.Advance(time.Second)
	f.run(t, edit)

	row, err = f.store.Message(ctx, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "changed", row.Text)
	assert.True(t, row.EditDate.Equal(f.clock.Now()), "authoritative edit date wins")
}

func TestEditMessage_TerminalFailureRestoresText(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1)
	ctx := context.Background()

	edit := NewEditMessage(5, 1, "changed")
	require.NoError(t, edit.Optimistic(ctx, f.env))
	require.NoError(t, edit.DidFail(ctx, f.env, txerr.FromCode(txerr.CodeForbidden, "not yours")))

	row, err := f.store.Message(ctx, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "original", row.Text)
	assert.Nil(t, row.EditDate)
}

func TestEditMessage_RollbackRestoresText(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1)
	ctx := context.Background()

	edit := NewEditMessage(5, 1, "changed")
	require.NoError(t, edit.Optimistic(ctx, f.env))
	require.NoError(t, edit.Rollback(ctx, f.env))

	row, err := f.store.Message(ctx, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "original", row.Text)
}

func TestEditMessage_RestoreSkipsNewerText(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1)
	ctx := context.Background()
	e1, e2 := f.env.WithTx("e1"), f.env.WithTx("e2")

	first := NewEditMessage(5, 1, "first")
	require.NoError(t, first.Optimistic(ctx, e1))
	second := NewEditMessage(5, 1, "second")
	require.NoError(t, second.Optimistic(ctx, e2))

	require.NoError(t, first.DidFail(ctx, e1, nil))

	row, err := f.store.Message(ctx, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "second", row.Text)
}

func TestEditMessage_FailedChainReturnsToServerText(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1)
	ctx := context.Background()
	e1, e2 := f.env.WithTx("e1"), f.env.WithTx("e2")

	first := NewEditMessage(5, 1, "b")
	require.NoError(t, first.Optimistic(ctx, e1))
	second := NewEditMessage(5, 1, "c")
	require.NoError(t, second.Optimistic(ctx, e2))

	require.NoError(t, first.DidFail(ctx, e1, nil))
	require.NoError(t, second.DidFail(ctx, e2, nil))

	row, err := f.store.Message(ctx, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "original", row.Text)
	assert.Nil(t, row.EditDate)
}

func TestEditMessage_CancelLaterEditShowsEarlierOne(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1)
	ctx := context.Background()
	e1, e2 := f.env.WithTx("e1"), f.env.WithTx("e2")

	first := NewEditMessage(5, 1, "b")
	require.NoError(t, first.Optimistic(ctx, e1))
	second := NewEditMessage(5, 1, "c")
	require.NoError(t, second.Optimistic(ctx, e2))

	require.NoError(t, second.Rollback(ctx, e2))

	row, err := f.store.Message(ctx, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", row.Text)

	require.NoError(t, first.DidFail(ctx, e1, nil))

	row, err = f.store.Message(ctx, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "original", row.Text)
}

func TestEditMessage_FailureAfterAcceptedEditKeepsAcceptedText(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1)
	ctx := context.Background()
	e1, e2 := f.env.WithTx("e1"), f.env.WithTx("e2")

	first := NewEditMessage(5, 1, "b")
	require.NoError(t, first.Optimistic(ctx, e1))
	second := NewEditMessage(5, 1, "c")
	require.NoError(t, second.Optimistic(ctx, e2))

	require.NoError(t, first.DidSucceed(ctx, e1, model.UpdateBatch{}))
	row, err := f.store.Message(ctx, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "c", row.Text, "later edit stays on display")

	require.NoError(t, second.DidFail(ctx, e2, nil))

	row, err = f.store.Message(ctx, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", row.Text)
	require.NotNil(t, row.EditDate)
}

func TestEditMessage_ServerTextDuringEditBecomesFallback(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1)
	ctx := context.Background()

	edit := NewEditMessage(5, 1, "mine")
	require.NoError(t, edit.Optimistic(ctx, f.env))

	remote := f.clock.Now().Add(time.Minute)
	f.seed(t, func(tx *store.Tx) error {
		shown, err := tx.SetMessageText(5, 1, "theirs", &remote)
		assert.False(t, shown)
		return err
	})

	row, err := f.store.Message(ctx, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "mine", row.Text)

	require.NoError(t, edit.DidFail(ctx, f.env, nil))

	row, err = f.store.Message(ctx, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "theirs", row.Text)
	require.NotNil(t, row.EditDate)
	assert.True(t, remote.Equal(*row.EditDate))
}

func TestEditMessage_SameTextClearsEditDate(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1)
	ctx := context.Background()

	edited := f.clock.Now()
	f.seed(t, func(tx *store.Tx) error {
		_, err := tx.SetMessageText(5, 1, "original", &edited)
		return err
	})

	edit := NewEditMessage(5, 1, "original")
	require.NoError(t, edit.Optimistic(ctx, f.env))

	row, err := f.store.Message(ctx, 5, 1)
	require.NoError(t, err)
	assert.Nil(t, row.EditDate)

	require.NoError(t, edit.DidFail(ctx, f.env, nil))

	row, err = f.store.Message(ctx, 5, 1)
	require.NoError(t, err)
	require.NotNil(t, row.EditDate)
	assert.True(t, row.EditDate.Equal(edited))
}

func TestEditMessage_MissingMessage(t *testing.T) {
	f := newFixture(t)

	err := NewEditMessage(5, 42, "x").Optimistic(context.Background(), f.env)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.True(t, txerr.IsLocalStore(err))
}
