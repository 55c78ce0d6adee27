package txn

import (
	"context"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/publish"
	"github.com/roach88/inflight/internal/realtime"
	"github.com/roach88/inflight/internal/store"
)

// DeleteMessages removes messages from a chat.
//
// Deletes have no compensation: a delete that fails terminally stays applied
// locally and converges with the server through the push stream.
type DeleteMessages struct {
	ChatID     int64   `json:"chat_id"`
	MessageIDs []int64 `json:"message_ids"`
}

// NewDeleteMessages creates a delete of one or more messages.
func NewDeleteMessages(chatID int64, messageIDs ...int64) *DeleteMessages {
	return &DeleteMessages{ChatID: chatID, MessageIDs: messageIDs}
}

func (d *DeleteMessages) Kind() Kind { return KindDeleteMessages }

func (d *DeleteMessages) Targets() []string {
	keys := make([]string, 0, len(d.MessageIDs))
	for _, id := range d.MessageIDs {
		keys = append(keys, MessageKey(d.ChatID, id))
	}
	return keys
}

// Optimistic removes the rows and, if the chat's last-message pointer
// referenced one of them, re-points it to the highest surviving message.
func (d *DeleteMessages) Optimistic(ctx context.Context, env Env) error {
	if len(d.MessageIDs) == 0 {
		return invalid("no messages to delete")
	}

	return write(ctx, env, publish.OriginOptimistic, func(tx *store.Tx, c *changes) error {
		for _, id := range d.MessageIDs {
			deleted, err := tx.DeleteMessage(d.ChatID, id)
			if err != nil {
				return err
			}
			if deleted {
				c.add(publish.Deleted, model.MessageRef(d.ChatID, id))
			}
		}

		repointed, err := tx.RepointAfterDelete(d.ChatID, d.MessageIDs)
		if err != nil {
			return err
		}
		if repointed {
			c.add(publish.Updated, model.ChatRef(d.ChatID))
		}
		return nil
	})
}

func (d *DeleteMessages) Execute(ctx context.Context, env Env) (model.UpdateBatch, error) {
	return invoke(ctx, env, realtime.MethodDeleteMessages, realtime.DeleteMessagesInput{
		ChatID:     d.ChatID,
		MessageIDs: d.MessageIDs,
	})
}

func (d *DeleteMessages) ShouldRetryOnFail(err error) bool {
	return retryable(err)
}

func (d *DeleteMessages) DidSucceed(ctx context.Context, env Env, batch model.UpdateBatch) error {
	return reconcileResult(ctx, env, d.Kind(), batch)
}

func (d *DeleteMessages) DidFail(_ context.Context, env Env, err error) error {
	env.logger().Warn("delete failed, keeping local delete",
		"tx_id", env.TxID,
		"chat_id", d.ChatID,
		"message_ids", d.MessageIDs,
		"error", err,
	)
	return nil
}

func (d *DeleteMessages) Rollback(context.Context, Env) error {
	return nil
}
