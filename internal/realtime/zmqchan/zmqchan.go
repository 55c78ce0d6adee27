// Package zmqchan implements realtime.Channel over ZeroMQ.
//
// RPCs travel over a DEALER socket connected to the server's ROUTER; every
// request frame carries an id that the server echoes in its response, so many
// calls can be in flight at once. Authoritative pushes arrive on a SUB socket
// subscribed to the "updates" topic as two-part messages [topic, frame].
//
// ZeroMQ sockets are not safe for concurrent use, so each socket is owned by
// exactly one goroutine.
package zmqchan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/realtime"
	"github.com/roach88/inflight/internal/txerr"
)

// UpdatesTopic is the SUB topic carrying push frames.
const UpdatesTopic = "updates"

// ErrClosed is returned by Invoke after Close.
var ErrClosed = errors.New("channel closed")

// Config holds the endpoints to connect to.
type Config struct {
	RPCEndpoint  string
	PushEndpoint string
	// PollInterval bounds how long the socket loops block before checking
	// for shutdown. Defaults to 100ms.
	PollInterval time.Duration
}

type outbound struct {
	id   uint64
	data []byte
}

// Channel is a ZeroMQ realtime.Channel.
type Channel struct {
	cfg    Config
	logger *slog.Logger

	zctx   *zmq.Context
	dealer *zmq.Socket
	sub    *zmq.Socket

	outbox  chan outbound
	updates chan model.UpdateBatch

	mu      sync.Mutex
	pending map[uint64]chan realtime.Frame
	nextID  atomic.Uint64

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

// Dial connects both sockets and starts their loops.
func Dial(cfg Config, opts ...Option) (*Channel, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}

	c := &Channel{
		cfg:     cfg,
		logger:  slog.Default(),
		outbox:  make(chan outbound, 64),
		updates: make(chan model.UpdateBatch, 64),
		pending: make(map[uint64]chan realtime.Frame),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	zctx, err := zmq.NewContext()
	if err != nil {
		return nil, txerr.WrapTransport("create zmq context", err)
	}
	c.zctx = zctx

	if c.dealer, err = zctx.NewSocket(zmq.DEALER); err != nil {
		c.term()
		return nil, txerr.WrapTransport("create dealer socket", err)
	}
	if err := c.dealer.SetLinger(0); err != nil {
		c.term()
		return nil, txerr.WrapTransport("set dealer linger", err)
	}
	if err := c.dealer.Connect(cfg.RPCEndpoint); err != nil {
		c.term()
		return nil, txerr.WrapTransport("connect "+cfg.RPCEndpoint, err)
	}

	if c.sub, err = zctx.NewSocket(zmq.SUB); err != nil {
		c.term()
		return nil, txerr.WrapTransport("create sub socket", err)
	}
	if err := c.sub.SetRcvtimeo(cfg.PollInterval); err != nil {
		c.term()
		return nil, txerr.WrapTransport("set sub timeout", err)
	}
	if err := c.sub.SetSubscribe(UpdatesTopic); err != nil {
		c.term()
		return nil, txerr.WrapTransport("subscribe", err)
	}
	if err := c.sub.Connect(cfg.PushEndpoint); err != nil {
		c.term()
		return nil, txerr.WrapTransport("connect "+cfg.PushEndpoint, err)
	}

	c.wg.Add(2)
	go c.rpcLoop()
	go c.subLoop()

	c.logger.Info("realtime channel connected",
		"rpc", cfg.RPCEndpoint,
		"push", cfg.PushEndpoint,
	)
	return c, nil
}

// Invoke sends a request and waits for the matching response.
func (c *Channel) Invoke(ctx context.Context, method realtime.Method, input any) (realtime.Result, error) {
	id := c.nextID.Add(1)
	req, err := realtime.NewRequest(id, method, input)
	if err != nil {
		return realtime.Result{}, txerr.FromCode(txerr.CodeBadRequest, err.Error())
	}
	data, err := realtime.EncodeFrame(req)
	if err != nil {
		return realtime.Result{}, txerr.FromCode(txerr.CodeBadRequest, err.Error())
	}

	reply := make(chan realtime.Frame, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer c.forget(id)

	select {
	case c.outbox <- outbound{id: id, data: data}:
	case <-ctx.Done():
		return realtime.Result{}, txerr.WrapTransport(string(method), ctx.Err())
	case <-c.done:
		return realtime.Result{}, txerr.WrapTransport(string(method), ErrClosed)
	}

	select {
	case f := <-reply:
		return f.Outcome()
	case <-ctx.Done():
		return realtime.Result{}, txerr.WrapTransport(string(method), ctx.Err())
	case <-c.done:
		return realtime.Result{}, txerr.WrapTransport(string(method), ErrClosed)
	}
}

// Updates returns the push stream. It is closed by Close.
func (c *Channel) Updates() <-chan model.UpdateBatch {
	return c.updates
}

// Close stops both loops and releases the sockets.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		close(c.updates)
		c.term()
		c.logger.Info("realtime channel closed")
	})
	return nil
}

func (c *Channel) term() {
	if c.dealer != nil {
		c.dealer.Close()
	}
	if c.sub != nil {
		c.sub.Close()
	}
	if c.zctx != nil {
		c.zctx.Term()
	}
}

func (c *Channel) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Channel) deliver(f realtime.Frame) {
	c.mu.Lock()
	reply, ok := c.pending[f.ID]
	c.mu.Unlock()
	if !ok {
		// The caller gave up (timeout or cancel) before the response.
		c.logger.Debug("dropping late response", "id", f.ID)
		return
	}
	select {
	case reply <- f:
	default:
	}
}

func (c *Channel) fail(id uint64, err error) {
	c.deliver(realtime.Frame{
		Type:  realtime.FrameResponse,
		ID:    id,
		Error: &realtime.FrameError{Code: txerr.CodeUnavailable, Message: err.Error()},
	})
}

// rpcLoop owns the DEALER socket: it flushes queued requests and reads
// responses until Close.
func (c *Channel) rpcLoop() {
	defer c.wg.Done()

	poller := zmq.NewPoller()
	poller.Add(c.dealer, zmq.POLLIN)

	for {
		select {
		case <-c.done:
			return
		default:
		}

	flush:
		for {
			select {
			case out := <-c.outbox:
				if _, err := c.dealer.SendBytes(out.data, zmq.DONTWAIT); err != nil {
					c.fail(out.id, err)
				}
			default:
				break flush
			}
		}

		polled, err := poller.Poll(c.cfg.PollInterval)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EINTR) {
				continue
			}
			c.logger.Error("rpc poll failed", "error", err)
			continue
		}
		for range polled {
			data, err := c.dealer.RecvBytes(zmq.DONTWAIT)
			if err != nil {
				continue
			}
			f, err := realtime.DecodeFrame(data)
			if err != nil {
				c.logger.Warn("dropping malformed response", "error", err)
				continue
			}
			c.deliver(f)
		}
	}
}

// subLoop owns the SUB socket and forwards push batches to Updates.
func (c *Channel) subLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		parts, err := c.sub.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) != zmq.Errno(syscall.EAGAIN) {
				c.logger.Warn("push receive failed", "error", err)
			}
			continue
		}
		if len(parts) < 2 {
			continue
		}

		f, err := realtime.DecodeFrame(parts[1])
		if err != nil || f.Type != realtime.FramePush || f.Batch == nil {
			c.logger.Warn("dropping malformed push", "topic", string(parts[0]), "error", err)
			continue
		}

		select {
		case c.updates <- *f.Batch:
		case <-c.done:
			return
		}
	}
}
