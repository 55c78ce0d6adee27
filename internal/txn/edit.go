package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/publish"
	"github.com/roach88/inflight/internal/realtime"
	"github.com/roach88/inflight/internal/store"
)

// EditMessage replaces a message's text.
type EditMessage struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

// NewEditMessage creates an edit.
func NewEditMessage(chatID, messageID int64, text string) *EditMessage {
	return &EditMessage{ChatID: chatID, MessageID: messageID, Text: text}
}

func (e *EditMessage) Kind() Kind { return KindEditMessage }

func (e *EditMessage) Targets() []string {
	return []string{MessageKey(e.ChatID, e.MessageID)}
}

// Optimistic applies the new text and records it under the transaction id so
// DidFail and Rollback fall back to the newest surviving edit or the server's
// text. Setting the text the message already
// has clears the edit date instead of bumping it.
func (e *EditMessage) Optimistic(ctx context.Context, env Env) error {
	text := model.NormalizeText(e.Text)

	return write(ctx, env, publish.OriginOptimistic, func(tx *store.Tx, c *changes) error {
		msg, found, err := tx.Message(e.ChatID, e.MessageID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("edit message %d/%d: %w", e.ChatID, e.MessageID, store.ErrNotFound)
		}

		var editDate *time.Time
		if text != msg.Text {
			now := env.now()
			editDate = &now
		}
		if _, err := tx.ApplyEdit(env.TxID, e.ChatID, e.MessageID, text, editDate); err != nil {
			return err
		}
		c.add(publish.Updated, msg.Ref())
		return nil
	})
}

func (e *EditMessage) Execute(ctx context.Context, env Env) (model.UpdateBatch, error) {
	return invoke(ctx, env, realtime.MethodEditMessage, realtime.EditMessageInput{
		ChatID:    e.ChatID,
		MessageID: e.MessageID,
		Text:      model.NormalizeText(e.Text),
	})
}

func (e *EditMessage) ShouldRetryOnFail(err error) bool {
	return retryable(err)
}

func (e *EditMessage) DidSucceed(ctx context.Context, env Env, batch model.UpdateBatch) error {
	if err := e.resolve(ctx, env, publish.OriginSucceeded, true); err != nil {
		return err
	}
	return reconcileResult(ctx, env, e.Kind(), batch)
}

func (e *EditMessage) DidFail(ctx context.Context, env Env, _ error) error {
	return e.resolve(ctx, env, publish.OriginFailed, false)
}

func (e *EditMessage) Rollback(ctx context.Context, env Env) error {
	return e.resolve(ctx, env, publish.OriginRollback, false)
}

// resolve settles this edit. A rejected edit gives way to the newest edit of
// the message still in flight, or to the last text the server confirmed.
func (e *EditMessage) resolve(ctx context.Context, env Env, origin publish.Origin, accepted bool) error {
	return write(ctx, env, origin, func(tx *store.Tx, c *changes) error {
		changed, err := tx.ResolveEdit(env.TxID, accepted)
		if err != nil || !changed {
			return err
		}
		c.add(publish.Updated, model.MessageRef(e.ChatID, e.MessageID))
		return nil
	})
}
