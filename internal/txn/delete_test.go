package txn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/publish"
	"github.com/roach88/inflight/internal/realtime"
	"github.com/roach88/inflight/internal/store"
	"github.com/roach88/inflight/internal/txerr"
)

func TestDeleteMessages_RepointsLastMessage(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1, 2, 3)
	ctx := context.Background()

	del := NewDeleteMessages(5, 3)
	require.NoError(t, del.Optimistic(ctx, f.env))

	assert.Equal(t, int64(2), *f.lastMessage(t))
	assert.Equal(t, []publish.Change{publish.Updated}, f.rec.Changes(model.ChatRef(5)))
}

func TestDeleteMessages_LastOneLeavesNilPointer(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1)
	ctx := context.Background()

	require.NoError(t, NewDeleteMessages(5, 1).Optimistic(ctx, f.env))
	assert.Nil(t, f.lastMessage(t))
}

func TestDeleteMessages_TwoDeletesInOrder(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1, 2, 3, 4)
	ctx := context.Background()

	require.NoError(t, NewDeleteMessages(5, 4).Optimistic(ctx, f.env))
	require.NoError(t, NewDeleteMessages(5, 2).Optimistic(ctx, f.env))

	assert.Equal(t, int64(3), *f.lastMessage(t))

	var updates int
	for _, c := range f.rec.Changes(model.ChatRef(5)) {
		if c == publish.Updated {
			updates++
		}
	}
	assert.Equal(t, 1, updates, "pointer moves exactly once")
}

func TestDeleteMessages_OlderMessageKeepsPointer(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1, 2, 3)
	ctx := context.Background()

	require.NoError(t, NewDeleteMessages(5, 1).Optimistic(ctx, f.env))
	assert.Equal(t, int64(3), *f.lastMessage(t))
	assert.Empty(t, f.rec.Changes(model.ChatRef(5)))
}

func TestDeleteMessages_PointerBeyondLocalPageIsKept(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1, 2, 3)
	f.seed(t, func(tx *store.Tx) error {
		return tx.SetChatLastMessage(5, model.Int64(100))
	})
	ctx := context.Background()

	require.NoError(t, NewDeleteMessages(5, 2).Optimistic(ctx, f.env))
	assert.Equal(t, int64(100), *f.lastMessage(t))
	assert.Empty(t, f.rec.Changes(model.ChatRef(5)))
}

func TestDeleteMessages_ExecuteAndFailure(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1, 2)
	ctx := context.Background()

	del := NewDeleteMessages(5, 1, 2)
	assert.Equal(t, []string{"msg:5:1", "msg:5:2"}, del.Targets())

	require.NoError(t, del.Optimistic(ctx, f.env))
	f.run(t, del)

	in := f.ch.CallsTo(realtime.MethodDeleteMessages)[0].Input.(realtime.DeleteMessagesInput)
	assert.Equal(t, []int64{1, 2}, in.MessageIDs)

	// No compensation: the rows stay deleted.
	require.NoError(t, del.DidFail(ctx, f.env, txerr.FromCode(txerr.CodeForbidden, "no")))
	require.NoError(t, del.Rollback(ctx, f.env))

	messages, err := f.store.Messages(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestDeleteMessages_EmptyIsInvalid(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, NewDeleteMessages(5).Optimistic(context.Background(), f.env), ErrInvalid)
}
