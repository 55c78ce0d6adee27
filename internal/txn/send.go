package txn

import (
	"context"
	"strings"
	"time"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/publish"
	"github.com/roach88/inflight/internal/realtime"
	"github.com/roach88/inflight/internal/store"
	"github.com/roach88/inflight/internal/txerr"
)

// Attachment is a local file sent with a message. FileID is recorded once
// the upload succeeds so a resumed send does not upload it again.
type Attachment struct {
	Path     string `json:"path"`
	MimeType string `json:"mime_type,omitempty"`
	FileID   int64  `json:"file_id,omitempty"`
}

// SendMessage posts a new message.
//
// The optimistic row is keyed by the correlation id (RandomID) and has status
// Sending until the server's message id delta upgrades it in place.
type SendMessage struct {
	ChatID       int64        `json:"chat_id"`
	Text         string       `json:"text"`
	ReplyToMsgID *int64       `json:"reply_to_msg_id,omitempty"`
	IsSticker    bool         `json:"is_sticker,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`

	// Assigned by Optimistic when zero.
	RandomID int64     `json:"random_id"`
	Date     time.Time `json:"date"`
}

// NewSendMessage creates a text message send.
func NewSendMessage(chatID int64, text string) *SendMessage {
	return &SendMessage{ChatID: chatID, Text: text}
}

func (s *SendMessage) Kind() Kind { return KindSendMessage }

func (s *SendMessage) Targets() []string {
	return []string{OutboxKey(s.ChatID)}
}

func (s *SendMessage) Optimistic(ctx context.Context, env Env) error {
	if strings.TrimSpace(s.Text) == "" && len(s.Attachments) == 0 {
		return invalid("empty message")
	}
	if s.RandomID == 0 {
		s.RandomID = env.randomID()
	}
	if s.Date.IsZero() {
		s.Date = env.now()
	}

	row := model.Message{
		ChatID:        s.ChatID,
		MessageID:     s.RandomID,
		RandomID:      model.Int64(s.RandomID),
		FromID:        env.UserID,
		Text:          model.NormalizeText(s.Text),
		Date:          s.Date,
		Status:        model.MessageSending,
		Out:           true,
		ReplyToMsgID:  s.ReplyToMsgID,
		IsSticker:     s.IsSticker,
		TransactionID: env.TxID,
	}

	return write(ctx, env, publish.OriginOptimistic, func(tx *store.Tx, c *changes) error {
		inserted, err := tx.InsertMessage(row)
		if err != nil {
			return err
		}
		if !inserted {
			return &txerr.ConflictError{Message: "correlation id already in use"}
		}
		c.add(publish.Added, row.Ref())
		return nil
	})
}

func (s *SendMessage) Execute(ctx context.Context, env Env) (model.UpdateBatch, error) {
	fileIDs := make([]int64, 0, len(s.Attachments))
	for i := range s.Attachments {
		a := &s.Attachments[i]
		if a.FileID == 0 {
			id, err := env.uploader().Upload(ctx, a.Path, a.MimeType)
			if err != nil {
				return model.UpdateBatch{}, err
			}
			a.FileID = id
		}
		fileIDs = append(fileIDs, a.FileID)
	}

	return invoke(ctx, env, realtime.MethodSendMessage, realtime.SendMessageInput{
		ChatID:       s.ChatID,
		RandomID:     s.RandomID,
		Text:         model.NormalizeText(s.Text),
		ReplyToMsgID: s.ReplyToMsgID,
		FileIDs:      fileIDs,
		IsSticker:    s.IsSticker,
	})
}

func (s *SendMessage) ShouldRetryOnFail(err error) bool {
	return retryable(err)
}

func (s *SendMessage) DidSucceed(ctx context.Context, env Env, batch model.UpdateBatch) error {
	return reconcileResult(ctx, env, s.Kind(), batch)
}

// DidFail keeps the row and marks it Failed so the user can resend it.
func (s *SendMessage) DidFail(ctx context.Context, env Env, _ error) error {
	return write(ctx, env, publish.OriginFailed, func(tx *store.Tx, c *changes) error {
		row, found, err := tx.MessageByRandomID(s.RandomID)
		if err != nil || !found || row.Status == model.MessageSent {
			return err
		}
		if _, err := tx.SetMessageStatus(row.ChatID, row.MessageID, model.MessageFailed); err != nil {
			return err
		}
		c.add(publish.Updated, row.Ref())
		return nil
	})
}

// Rollback deletes the optimistic row. A row the server already confirmed is
// left alone.
func (s *SendMessage) Rollback(ctx context.Context, env Env) error {
	return write(ctx, env, publish.OriginRollback, func(tx *store.Tx, c *changes) error {
		row, found, err := tx.MessageByRandomID(s.RandomID)
		if err != nil || !found || row.Status == model.MessageSent {
			return err
		}
		if _, err := tx.DeleteMessage(row.ChatID, row.MessageID); err != nil {
			return err
		}
		c.add(publish.Deleted, row.Ref())
		return nil
	})
}
