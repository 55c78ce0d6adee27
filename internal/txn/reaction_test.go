package txn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/realtime"
	"github.com/roach88/inflight/internal/store"
	"github.com/roach88/inflight/internal/testutil"
	"github.com/roach88/inflight/internal/txerr"
)

func (f *fixture) reactions(t *testing.T) []model.Reaction {
	t.Helper()
	rs, err := f.store.Reactions(context.Background(), 5, 1)
	require.NoError(t, err)
	return rs
}

func TestAddReaction_LifecycleAndFailure(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1)
	ctx := context.Background()

	add := NewAddReaction(5, 1, "👍")
	require.NoError(t, add.Optimistic(ctx, f.env))
	assert.True(t, add.Inserted)
	assert.Len(t, f.reactions(t), 1)

	require.NoError(t, add.DidFail(ctx, f.env, txerr.FromCode(txerr.CodeBadRequest, "no")))
	assert.Empty(t, f.reactions(t))
}

func TestAddReaction_AlreadyPresentIsNotRemoved(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1)
	ctx := context.Background()

	f.seed(t, func(tx *store.Tx) error {
		_, err := tx.InsertReaction(model.Reaction{ChatID: 5, MessageID: 1, UserID: testUser, Emoji: "👍", Date: testutil.DefaultTime})
		return err
	})

	add := NewAddReaction(5, 1, "👍")
	require.NoError(t, add.Optimistic(ctx, f.env))
	assert.False(t, add.Inserted)

	require.NoError(t, add.Rollback(ctx, f.env))
	assert.Len(t, f.reactions(t), 1)
}

func TestAddReaction_Success(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1)
	ctx := context.Background()

	add := NewAddReaction(5, 1, "👍")
	require.NoError(t, add.Optimistic(ctx, f.env))
	f.run(t, add)

	assert.Len(t, f.reactions(t), 1, "confirmation does not duplicate the row")
}

func TestDeleteReaction_AbsentLocally(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1)
	ctx := context.Background()

	del := NewDeleteReaction(5, 1, "👍")
	require.NoError(t, del.Optimistic(ctx, f.env))
	assert.Nil(t, del.Removed)
	assert.Empty(t, f.rec.Events())

	_, err := del.Execute(ctx, f.env)
	require.NoError(t, err)
	assert.Len(t, f.ch.CallsTo(realtime.MethodDeleteReaction), 1, "remote delete still issued")

	require.NoError(t, del.DidFail(ctx, f.env, txerr.FromCode(txerr.CodeBadRequest, "no")))
	assert.Empty(t, f.reactions(t))
	assert.Empty(t, f.rec.Events())
}

func TestDeleteReaction_FailureRestores(t *testing.T) {
	f := newFixture(t)
	f.seedChat(t, 1)
	ctx := context.Background()

	f.seed(t, func(tx *store.Tx) error {
		_, err := tx.InsertReaction(model.Reaction{ChatID: 5, MessageID: 1, UserID: testUser, Emoji: "🔥", Date: testutil.DefaultTime})
		return err
	})

	del := NewDeleteReaction(5, 1, "🔥")
	require.NoError(t, del.Optimistic(ctx, f.env))
	require.NotNil(t, del.Removed)
	assert.Empty(t, f.reactions(t))

	require.NoError(t, del.DidFail(ctx, f.env, txerr.FromCode(txerr.CodeBadRequest, "no")))
	rs := f.reactions(t)
	require.Len(t, rs, 1)
	assert.Equal(t, "🔥", rs[0].Emoji)
	assert.True(t, rs[0].Date.Equal(testutil.DefaultTime))
}

func TestReaction_EmptyEmojiIsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, NewAddReaction(5, 1, " ").Optimistic(ctx, f.env), ErrInvalid)
	assert.ErrorIs(t, NewDeleteReaction(5, 1, "").Optimistic(ctx, f.env), ErrInvalid)
}

func TestReactionKey_Normalised(t *testing.T) {
	assert.Equal(t,
		NewAddReaction(5, 1, "\u00e9").Targets(),
		NewDeleteReaction(5, 1, "e\u0301").Targets(),
	)
}
