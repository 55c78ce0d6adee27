package txn

import (
	"context"
	"time"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/publish"
	"github.com/roach88/inflight/internal/realtime"
	"github.com/roach88/inflight/internal/store"
)

// AddReaction adds the current user's emoji to a message.
type AddReaction struct {
	ChatID    int64     `json:"chat_id"`
	MessageID int64     `json:"message_id"`
	Emoji     string    `json:"emoji"`
	Date      time.Time `json:"date"`

	// Inserted records whether Optimistic created the row, so compensation
	// only removes what this transaction added.
	Inserted bool `json:"inserted"`
}

// NewAddReaction creates a reaction add.
func NewAddReaction(chatID, messageID int64, emoji string) *AddReaction {
	return &AddReaction{ChatID: chatID, MessageID: messageID, Emoji: emoji}
}

func (a *AddReaction) Kind() Kind { return KindAddReaction }

func (a *AddReaction) Targets() []string {
	return []string{ReactionKey(a.ChatID, a.MessageID, a.Emoji)}
}

func (a *AddReaction) reaction(env Env) model.Reaction {
	return model.Reaction{
		ChatID:    a.ChatID,
		MessageID: a.MessageID,
		UserID:    env.UserID,
		Emoji:     model.NormalizeEmoji(a.Emoji),
		Date:      a.Date,
	}
}

func (a *AddReaction) Optimistic(ctx context.Context, env Env) error {
	if model.NormalizeEmoji(a.Emoji) == "" {
		return invalid("empty emoji")
	}
	if a.Date.IsZero() {
		a.Date = env.now()
	}
	r := a.reaction(env)

	return write(ctx, env, publish.OriginOptimistic, func(tx *store.Tx, c *changes) error {
		inserted, err := tx.InsertReaction(r)
		if err != nil {
			return err
		}
		a.Inserted = inserted
		if inserted {
			c.add(publish.Added, r.Ref())
		}
		return nil
	})
}

func (a *AddReaction) Execute(ctx context.Context, env Env) (model.UpdateBatch, error) {
	return invoke(ctx, env, realtime.MethodAddReaction, realtime.ReactionInput{
		ChatID:    a.ChatID,
		MessageID: a.MessageID,
		Emoji:     model.NormalizeEmoji(a.Emoji),
	})
}

func (a *AddReaction) ShouldRetryOnFail(err error) bool {
	return retryable(err)
}

func (a *AddReaction) DidSucceed(ctx context.Context, env Env, batch model.UpdateBatch) error {
	return reconcileResult(ctx, env, a.Kind(), batch)
}

func (a *AddReaction) DidFail(ctx context.Context, env Env, _ error) error {
	return a.undo(ctx, env, publish.OriginFailed)
}

func (a *AddReaction) Rollback(ctx context.Context, env Env) error {
	return a.undo(ctx, env, publish.OriginRollback)
}

func (a *AddReaction) undo(ctx context.Context, env Env, origin publish.Origin) error {
	if !a.Inserted {
		return nil
	}
	r := a.reaction(env)

	return write(ctx, env, origin, func(tx *store.Tx, c *changes) error {
		deleted, err := tx.DeleteReaction(r.Key())
		if err != nil {
			return err
		}
		if deleted {
			c.add(publish.Deleted, r.Ref())
		}
		return nil
	})
}

// DeleteReaction removes the current user's emoji from a message. The remote
// delete is issued even when nothing was removed locally.
type DeleteReaction struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`

	// Removed is the row Optimistic deleted, re-inserted by compensation.
	Removed *model.Reaction `json:"removed,omitempty"`
}

// NewDeleteReaction creates a reaction removal.
func NewDeleteReaction(chatID, messageID int64, emoji string) *DeleteReaction {
	return &DeleteReaction{ChatID: chatID, MessageID: messageID, Emoji: emoji}
}

func (d *DeleteReaction) Kind() Kind { return KindDeleteReaction }

func (d *DeleteReaction) Targets() []string {
	return []string{ReactionKey(d.ChatID, d.MessageID, d.Emoji)}
}

func (d *DeleteReaction) Optimistic(ctx context.Context, env Env) error {
	if model.NormalizeEmoji(d.Emoji) == "" {
		return invalid("empty emoji")
	}
	key := model.Reaction{
		ChatID:    d.ChatID,
		MessageID: d.MessageID,
		UserID:    env.UserID,
		Emoji:     d.Emoji,
	}.Key()

	return write(ctx, env, publish.OriginOptimistic, func(tx *store.Tx, c *changes) error {
		r, found, err := tx.Reaction(key)
		if err != nil || !found {
			return err
		}
		if _, err := tx.DeleteReaction(key); err != nil {
			return err
		}
		d.Removed = &r
		c.add(publish.Deleted, r.Ref())
		return nil
	})
}

func (d *DeleteReaction) Execute(ctx context.Context, env Env) (model.UpdateBatch, error) {
	return invoke(ctx, env, realtime.MethodDeleteReaction, realtime.ReactionInput{
		ChatID:    d.ChatID,
		MessageID: d.MessageID,
		Emoji:     model.NormalizeEmoji(d.Emoji),
	})
}

func (d *DeleteReaction) ShouldRetryOnFail(err error) bool {
	return retryable(err)
}

func (d *DeleteReaction) DidSucceed(ctx context.Context, env Env, batch model.UpdateBatch) error {
	return reconcileResult(ctx, env, d.Kind(), batch)
}

func (d *DeleteReaction) DidFail(ctx context.Context, env Env, _ error) error {
	return d.restore(ctx, env, publish.OriginFailed)
}

func (d *DeleteReaction) Rollback(ctx context.Context, env Env) error {
	return d.restore(ctx, env, publish.OriginRollback)
}

func (d *DeleteReaction) restore(ctx context.Context, env Env, origin publish.Origin) error {
	if d.Removed == nil {
		return nil
	}
	r := *d.Removed

	return write(ctx, env, origin, func(tx *store.Tx, c *changes) error {
		inserted, err := tx.InsertReaction(r)
		if err != nil {
			return err
		}
		if inserted {
			c.add(publish.Added, r.Ref())
		}
		return nil
	})
}
