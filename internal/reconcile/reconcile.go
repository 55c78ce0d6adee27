// Package reconcile merges authoritative server deltas into the local store.
//
// A batch is applied inside one store write as an ordered sequence of
// conditional upserts and deletes keyed by authoritative ids. Every delta
// checks current state first, so a batch delivered twice (once as an execute
// result and once on the push stream, or replayed after a reconnect) leaves
// the store unchanged the second time.
//
// Observers are notified only after the write commits.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/publish"
	"github.com/roach88/inflight/internal/store"
)

// Stats counts what a batch did.
type Stats struct {
	// Applied deltas changed local state.
	Applied int
	// Skipped deltas were already reflected locally.
	Skipped int
}

// Reconciler applies UpdateBatches.
type Reconciler struct {
	store     *store.Store
	publisher publish.Publisher
	logger    *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// New creates a Reconciler. A nil publisher discards events.
func New(s *store.Store, pub publish.Publisher, opts ...Option) *Reconciler {
	if pub == nil {
		pub = publish.Nop{}
	}
	r := &Reconciler{
		store:     s,
		publisher: pub,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply reconciles a batch that arrived on the push stream.
func (r *Reconciler) Apply(ctx context.Context, batch model.UpdateBatch) (Stats, error) {
	return r.apply(ctx, batch, publish.Context{Origin: publish.OriginReconcile})
}

// ApplyResult reconciles the batch returned by a transaction's execute call.
func (r *Reconciler) ApplyResult(ctx context.Context, txID string, batch model.UpdateBatch) (Stats, error) {
	return r.apply(ctx, batch, publish.Context{TxID: txID, Origin: publish.OriginSucceeded})
}

// Consume applies batches from updates until the stream closes (returns nil)
// or ctx is done (returns ctx.Err()). A batch that fails to apply is logged
// and skipped; the stream keeps flowing.
func (r *Reconciler) Consume(ctx context.Context, updates <-chan model.UpdateBatch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-updates:
			if !ok {
				return nil
			}
			if _, err := r.Apply(ctx, batch); err != nil {
				r.logger.Error("push batch rejected", "error", err, "updates", len(batch.Updates))
			}
		}
	}
}

func (r *Reconciler) apply(ctx context.Context, batch model.UpdateBatch, pc publish.Context) (Stats, error) {
	for i, u := range batch.Updates {
		if err := u.Validate(); err != nil {
			return Stats{}, fmt.Errorf("update %d: %w", i, err)
		}
	}

	var (
		stats  Stats
		events []publish.Event
	)
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		a := &applier{tx: tx, pc: pc}
		for i, u := range batch.Updates {
			changed, err := a.apply(u)
			if err != nil {
				return fmt.Errorf("update %d (%s): %w", i, u.Kind, err)
			}
			if changed {
				stats.Applied++
			} else {
				stats.Skipped++
			}
		}
		events = a.events
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	for _, ev := range events {
		publish.Emit(r.publisher, ev)
	}

	attrs := []any{
		"origin", pc.Origin,
		"tx_id", pc.TxID,
		"applied", stats.Applied,
		"skipped", stats.Skipped,
	}
	if digest, err := model.BatchDigest(batch); err != nil {
		r.logger.Warn("batch digest failed", "tx_id", pc.TxID, "error", err)
	} else {
		attrs = append(attrs, "digest", digest)
	}
	r.logger.Debug("batch reconciled", attrs...)
	return stats, nil
}

// applier runs deltas against one store transaction and collects the events
// to publish after commit.
type applier struct {
	tx     *store.Tx
	pc     publish.Context
	events []publish.Event
}

func (a *applier) emit(change publish.Change, ref model.EntityRef) {
	a.events = append(a.events, publish.Event{Change: change, Ref: ref, Context: a.pc})
}

func (a *applier) apply(u model.Update) (bool, error) {
	switch u.Kind {
	case model.UpdateNewMessage:
		return a.newMessage(*u.Message)
	case model.UpdateMessageID:
		return a.messageID(*u.MessageID)
	case model.UpdateEditMessage:
		return a.editMessage(*u.Message)
	case model.UpdateDeleteMessages:
		return a.deleteMessages(*u.DeleteMessages)
	case model.UpdateReaction:
		return a.addReaction(*u.Reaction)
	case model.UpdateDeleteReaction:
		return a.deleteReaction(*u.Reaction)
	case model.UpdateNewChat:
		return a.newChat(*u.Chat)
	default:
		return false, fmt.Errorf("unknown update kind %q", u.Kind)
	}
}

func (a *applier) newMessage(m model.Message) (bool, error) {
	m.Status = model.MessageSent

	if m.RandomID != nil {
		temp, found, err := a.tx.MessageByRandomID(*m.RandomID)
		if err != nil {
			return false, err
		}
		if found && temp.MessageID != m.MessageID {
			return true, a.upgrade(temp, m.MessageID, &m)
		}
	}

	existing, found, err := a.tx.Message(m.ChatID, m.MessageID)
	if err != nil {
		return false, err
	}
	if !found {
		inserted, err := a.tx.InsertMessage(m)
		if err != nil || !inserted {
			return false, err
		}
		a.emit(publish.Added, m.Ref())
		return true, a.advanceLastMessage(m.ChatID, m.MessageID)
	}

	merged := mergeMessage(existing, m)
	if messagesEqual(existing, merged) {
		return false, nil
	}
	if err := a.tx.SaveMessage(existing.MessageID, merged); err != nil {
		return false, err
	}
	a.emit(publish.Updated, m.Ref())
	return true, a.advanceLastMessage(m.ChatID, m.MessageID)
}

func (a *applier) messageID(u model.MessageIDUpdate) (bool, error) {
	row, found, err := a.tx.MessageByRandomID(u.RandomID)
	if err != nil || !found {
		return false, err
	}
	if row.ChatID != u.ChatID {
		return false, fmt.Errorf("random id %d belongs to chat %d, not %d", u.RandomID, row.ChatID, u.ChatID)
	}

	if row.MessageID == u.MessageID {
		if row.Status == model.MessageSent {
			return false, nil
		}
		if _, err := a.tx.SetMessageStatus(row.ChatID, row.MessageID, model.MessageSent); err != nil {
			return false, err
		}
		a.emit(publish.Updated, row.Ref())
		return true, a.advanceLastMessage(row.ChatID, row.MessageID)
	}

	return true, a.upgrade(row, u.MessageID, nil)
}

// upgrade replaces an optimistic row by its authoritative counterpart. If the
// authoritative row already exists (its push won the race), the optimistic row
// is folded into it and removed.
func (a *applier) upgrade(temp model.Message, authID int64, incoming *model.Message) error {
	chatID := temp.ChatID

	auth, exists, err := a.tx.Message(chatID, authID)
	if err != nil {
		return err
	}

	if err := a.tx.MoveReactions(chatID, temp.MessageID, authID); err != nil {
		return err
	}

	if exists {
		if _, err := a.tx.DeleteMessage(chatID, temp.MessageID); err != nil {
			return err
		}
		a.emit(publish.Deleted, temp.Ref())

		row := auth
		if incoming != nil {
			row = mergeMessage(auth, *incoming)
		}
		if row.TransactionID == "" {
			row.TransactionID = temp.TransactionID
		}
		row.Status = model.MessageSent
		if !messagesEqual(auth, row) {
			if err := a.tx.SaveMessage(authID, row); err != nil {
				return err
			}
			a.emit(publish.Updated, row.Ref())
		}
		return a.advanceLastMessage(chatID, authID)
	}

	row := temp
	if incoming != nil {
		row = mergeMessage(temp, *incoming)
	}
	row.MessageID = authID
	row.Status = model.MessageSent
	if err := a.tx.SaveMessage(temp.MessageID, row); err != nil {
		return err
	}
	a.emit(publish.Deleted, temp.Ref())
	a.emit(publish.Added, row.Ref())
	return a.advanceLastMessage(chatID, authID)
}

func (a *applier) editMessage(m model.Message) (bool, error) {
	shown, err := a.tx.SetMessageText(m.ChatID, m.MessageID, m.Text, m.EditDate)
	if err != nil || !shown {
		return false, err
	}
	a.emit(publish.Updated, m.Ref())
	return true, nil
}

func (a *applier) deleteMessages(d model.DeleteMessagesUpdate) (bool, error) {
	changed := false
	for _, id := range d.MessageIDs {
		deleted, err := a.tx.DeleteMessage(d.ChatID, id)
		if err != nil {
			return false, err
		}
		if deleted {
			changed = true
			a.emit(publish.Deleted, model.MessageRef(d.ChatID, id))
		}
	}

	repointed, err := a.tx.RepointAfterDelete(d.ChatID, d.MessageIDs)
	if err != nil {
		return false, err
	}
	if repointed {
		a.emit(publish.Updated, model.ChatRef(d.ChatID))
	}
	return changed || repointed, nil
}

func (a *applier) addReaction(r model.Reaction) (bool, error) {
	inserted, err := a.tx.InsertReaction(r)
	if err != nil || !inserted {
		return false, err
	}
	a.emit(publish.Added, r.Ref())
	return true, nil
}

func (a *applier) deleteReaction(r model.Reaction) (bool, error) {
	deleted, err := a.tx.DeleteReaction(r.Key())
	if err != nil || !deleted {
		return false, err
	}
	a.emit(publish.Deleted, r.Ref())
	return true, nil
}

func (a *applier) newChat(c model.Chat) (bool, error) {
	existing, found, err := a.tx.Chat(c.ID)
	if err != nil {
		return false, err
	}
	if found && chatsEqual(existing, c) {
		return false, nil
	}
	if err := a.tx.UpsertChat(c); err != nil {
		return false, err
	}
	if found {
		a.emit(publish.Updated, model.ChatRef(c.ID))
	} else {
		a.emit(publish.Added, model.ChatRef(c.ID))
	}
	return true, nil
}

// advanceLastMessage moves a chat's pointer forward to messageID if it is
// newer than the current one.
func (a *applier) advanceLastMessage(chatID, messageID int64) error {
	chat, found, err := a.tx.Chat(chatID)
	if err != nil || !found {
		return err
	}
	if chat.LastMsgID != nil && *chat.LastMsgID >= messageID {
		return nil
	}
	if err := a.tx.SetChatLastMessage(chatID, &messageID); err != nil {
		return err
	}
	a.emit(publish.Updated, model.ChatRef(chatID))
	return nil
}

// mergeMessage overlays the authoritative fields of incoming onto a local row,
// keeping local-only bookkeeping.
func mergeMessage(local, incoming model.Message) model.Message {
	out := incoming
	out.Status = model.MessageSent
	if out.RandomID == nil {
		out.RandomID = local.RandomID
	}
	if out.TransactionID == "" {
		out.TransactionID = local.TransactionID
	}
	return out
}

func messagesEqual(a, b model.Message) bool {
	return a.ChatID == b.ChatID &&
		a.MessageID == b.MessageID &&
		int64PtrEqual(a.RandomID, b.RandomID) &&
		a.FromID == b.FromID &&
		a.Text == b.Text &&
		a.Date.Equal(b.Date) &&
		timesEqual(a.EditDate, b.EditDate) &&
		a.Status == b.Status &&
		a.Out == b.Out &&
		int64PtrEqual(a.ReplyToMsgID, b.ReplyToMsgID) &&
		int64PtrEqual(a.FileID, b.FileID) &&
		a.IsSticker == b.IsSticker &&
		a.TransactionID == b.TransactionID
}

// chatsEqual compares the fields an upsert would write. A nil incoming
// pointer never overwrites the local one.
func chatsEqual(local, incoming model.Chat) bool {
	return local.Title == incoming.Title &&
		local.Emoji == incoming.Emoji &&
		local.IsPublic == incoming.IsPublic &&
		local.SpaceID == incoming.SpaceID &&
		(incoming.LastMsgID == nil || int64PtrEqual(local.LastMsgID, incoming.LastMsgID))
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
