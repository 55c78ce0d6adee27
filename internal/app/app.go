// Package app wires the store, transport, reconciler and queue together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/inflight/internal/config"
	"github.com/roach88/inflight/internal/publish"
	"github.com/roach88/inflight/internal/queue"
	"github.com/roach88/inflight/internal/realtime"
	"github.com/roach88/inflight/internal/reconcile"
	"github.com/roach88/inflight/internal/store"
	"github.com/roach88/inflight/internal/txn"
)

// ErrUpdatesClosed is returned by Run when the push stream ends.
var ErrUpdatesClosed = errors.New("push stream closed")

// Dialer connects the transport. The returned Closer is closed by App.Close.
type Dialer func(cfg config.Realtime, logger *slog.Logger) (realtime.Channel, io.Closer, error)

// App owns every long-lived service.
type App struct {
	Store      *store.Store
	Channel    *realtime.Breaker
	Events     *publish.Broadcaster
	Reconciler *reconcile.Reconciler
	Queue      *queue.Queue

	logger       *slog.Logger
	transport    io.Closer
	closeTimeout time.Duration
}

type options struct {
	logger *slog.Logger
	ids    queue.IDGenerator
	now    func() time.Time
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger every service logs to.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithIDGenerator overrides the transaction id source (for testing).
func WithIDGenerator(ids queue.IDGenerator) Option {
	return func(o *options) {
		o.ids = ids
	}
}

// WithNow overrides the wall clock (for testing).
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New opens the store, dials the transport and builds the queue. Nothing runs
// until Run or Submit.
func New(cfg config.Config, dial Dialer, opts ...Option) (*App, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if dial == nil {
		return nil, errors.New("no transport dialer")
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	ch, transport, err := dial(cfg.Realtime, o.logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("dial transport: %w", err)
	}

	breaker := realtime.NewBreaker(ch, cfg.Realtime.Breaker, realtime.WithBreakerLogger(o.logger))
	events := publish.NewBroadcaster(o.logger)
	rec := reconcile.New(st, events, reconcile.WithLogger(o.logger))

	env := txn.Env{
		UserID:     cfg.UserID,
		Store:      st,
		Channel:    breaker,
		Reconciler: rec,
		Publisher:  events,
		Logger:     o.logger,
		Now:        o.now,
	}

	qopts := []queue.Option{queue.WithPolicy(cfg.Retry), queue.WithLogger(o.logger)}
	if o.ids != nil {
		qopts = append(qopts, queue.WithIDGenerator(o.ids))
	}

	return &App{
		Store:        st,
		Channel:      breaker,
		Events:       events,
		Reconciler:   rec,
		Queue:        queue.New(st, env, qopts...),
		logger:       o.logger,
		transport:    transport,
		closeTimeout: 10 * time.Second,
	}, nil
}

// Run resumes persisted transactions and applies pushed batches until ctx is
// done (returns nil) or the push stream ends (returns ErrUpdatesClosed).
// The queue keeps accepting Submit while Run is active.
func (a *App) Run(ctx context.Context) error {
	n, err := a.Queue.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	a.logger.Info("inflight running", "resumed", n)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.Reconciler.Consume(gctx, a.Channel.Updates()); err != nil {
			return err
		}
		return ErrUpdatesClosed
	})
	g.Go(func() error {
		a.logEvents(gctx)
		return nil
	})

	err = g.Wait()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// logEvents traces every published change at debug level until ctx is done.
func (a *App) logEvents(ctx context.Context) {
	events, cancel := a.Events.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			a.logger.Debug("entity changed",
				"change", ev.Change,
				"ref", ev.Ref.String(),
				"tx_id", ev.Context.TxID,
				"origin", ev.Context.Origin,
			)
		}
	}
}

// Submit hands tx to the queue.
func (a *App) Submit(ctx context.Context, tx txn.Transaction) (*queue.Handle, error) {
	return a.Queue.Submit(ctx, tx)
}

// Close stops the queue, then closes the transport and the store. Unresolved
// transactions stay persisted.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.closeTimeout)
	defer cancel()

	var errs []error
	if err := a.Queue.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.transport != nil {
		if err := a.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
