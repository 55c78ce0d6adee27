package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/publish"
	"github.com/roach88/inflight/internal/realtime"
	"github.com/roach88/inflight/internal/reconcile"
	"github.com/roach88/inflight/internal/store"
	"github.com/roach88/inflight/internal/txerr"
)

// Kind identifies a transaction variant. It is persisted with the payload.
type Kind string

const (
	KindSendMessage    Kind = "send_message"
	KindEditMessage    Kind = "edit_message"
	KindDeleteMessages Kind = "delete_messages"
	KindAddReaction    Kind = "add_reaction"
	KindDeleteReaction Kind = "delete_reaction"
	KindCreateChat     Kind = "create_chat"
)

// Kinds lists every registered kind.
func Kinds() []Kind {
	return []Kind{
		KindSendMessage,
		KindEditMessage,
		KindDeleteMessages,
		KindAddReaction,
		KindDeleteReaction,
		KindCreateChat,
	}
}

// ErrInvalid is returned by Optimistic when a transaction cannot be submitted.
var ErrInvalid = errors.New("invalid transaction")

// Transaction is one optimistic mutation.
type Transaction interface {
	Kind() Kind

	// Targets lists the entity keys the transaction mutates. Transactions
	// sharing a key run in submission order.
	Targets() []string

	// Optimistic applies the local effect. It must not touch the network.
	// An error aborts submission.
	Optimistic(ctx context.Context, env Env) error

	// Execute performs the remote call and returns the authoritative deltas.
	Execute(ctx context.Context, env Env) (model.UpdateBatch, error)

	// ShouldRetryOnFail classifies an Execute error.
	ShouldRetryOnFail(err error) bool

	// DidSucceed reconciles the Execute result.
	DidSucceed(ctx context.Context, env Env, batch model.UpdateBatch) error

	// DidFail compensates after a terminal failure.
	DidFail(ctx context.Context, env Env, err error) error

	// Rollback undoes Optimistic after cancellation. It must be idempotent.
	Rollback(ctx context.Context, env Env) error
}

// Uploader sends an attachment and returns the server file id.
type Uploader interface {
	Upload(ctx context.Context, path, mimeType string) (int64, error)
}

// Env carries the services a transaction runs against. The queue hands each
// lifecycle call a copy with TxID set.
type Env struct {
	TxID       string
	UserID     int64
	Store      *store.Store
	Channel    realtime.Channel
	Reconciler *reconcile.Reconciler
	Publisher  publish.Publisher
	// Uploader sends attachments. Defaults to a realtime.FileUploader on
	// Channel.
	Uploader Uploader
	Logger   *slog.Logger

	// Now stamps optimistic rows. Defaults to time.Now.
	Now func() time.Time
	// RandomID mints correlation ids. Defaults to NewRandomID.
	RandomID func() int64
}

// WithTx returns a copy of env bound to a transaction id.
func (e Env) WithTx(id string) Env {
	e.TxID = id
	return e
}

func (e Env) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now()
}

func (e Env) randomID() int64 {
	if e.RandomID == nil {
		return NewRandomID()
	}
	return e.RandomID()
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e Env) uploader() Uploader {
	if e.Uploader == nil {
		return realtime.FileUploader{Channel: e.Channel}
	}
	return e.Uploader
}

func (e Env) publisher() publish.Publisher {
	if e.Publisher == nil {
		return publish.Nop{}
	}
	return e.Publisher
}

// Entity keys used for per-entity ordering.

// MessageKey orders transactions on one message.
func MessageKey(chatID, messageID int64) string {
	return fmt.Sprintf("msg:%d:%d", chatID, messageID)
}

// OutboxKey orders sends within a chat so they reach the server in the order
// the user typed them.
func OutboxKey(chatID int64) string {
	return fmt.Sprintf("outbox:%d", chatID)
}

// ReactionKey orders toggles of one emoji on one message.
func ReactionKey(chatID, messageID int64, emoji string) string {
	return fmt.Sprintf("reaction:%d:%d:%s", chatID, messageID, model.NormalizeEmoji(emoji))
}

// changes collects publisher events inside a store write.
type changes struct {
	events []publish.Event
	pc     publish.Context
}

func (c *changes) add(change publish.Change, ref model.EntityRef) {
	c.events = append(c.events, publish.Event{Change: change, Ref: ref, Context: c.pc})
}

// write runs fn in a store transaction and publishes the collected changes
// once it commits.
func write(ctx context.Context, env Env, origin publish.Origin, fn func(tx *store.Tx, c *changes) error) error {
	c := &changes{pc: publish.Context{TxID: env.TxID, Origin: origin}}
	if err := env.Store.Write(ctx, func(tx *store.Tx) error {
		return fn(tx, c)
	}); err != nil {
		return err
	}

	p := env.publisher()
	for _, ev := range c.events {
		publish.Emit(p, ev)
	}
	return nil
}

// reconcileResult is the DidSucceed shared by every kind.
func reconcileResult(ctx context.Context, env Env, kind Kind, batch model.UpdateBatch) error {
	if len(batch.Updates) == 0 {
		env.logger().Warn("no updates in execute result", "tx_id", env.TxID, "kind", kind)
		return nil
	}
	if env.Reconciler == nil {
		return txerr.Store("reconcile", errors.New("no reconciler configured"))
	}
	_, err := env.Reconciler.ApplyResult(ctx, env.TxID, batch)
	return err
}

// invoke calls method and returns the deltas it produced.
func invoke(ctx context.Context, env Env, method realtime.Method, input any) (model.UpdateBatch, error) {
	res, err := env.Channel.Invoke(ctx, method, input)
	if err != nil {
		return model.UpdateBatch{}, err
	}
	return res.Batch, nil
}

// retryable is the default classification: anything not terminal is retried.
func retryable(err error) bool {
	return !txerr.IsTerminal(err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
