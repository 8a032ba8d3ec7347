// Package client implements the stateful websocket session to a game gateway.
//
// One Connection owns one socket and runs two background goroutines next to
// any number of callers:
//
//	listener  ── ReadFrame → Decode ──┬─ pong → log, drop
//	                                  └─ other → inbound queue
//	heartbeat ── every interval: ping → WriteFrame
//	callers   ── SendAndReceive: WriteFrame, then pop inbound until op code matches;
//	             non-matching messages move to the unsolicited queue in order
//
// Replies are correlated by op code only: the first queued message carrying the
// expected op code satisfies whichever caller is waiting. Two in-flight requests
// expecting the same op code may therefore swap replies.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mini-ws/message"
	"mini-ws/protocol"
	"mini-ws/result"
	"mini-ws/transport"
)

const (
	DefaultTimeout           = 5 * time.Second
	DefaultHeartbeatInterval = 7 * time.Second
)

// State is the lifecycle stage of a Connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a Connection.
type Options struct {
	URL string
	// ReceiveInit makes Connect wait for the one message the gateway pushes
	// right after the handshake. It is available from InitPush.
	ReceiveInit       bool
	Timeout           time.Duration // default wait for a response, 5s when zero
	HeartbeatInterval time.Duration // 7s when zero
	Dialer            transport.Dialer
	Logger            *zap.Logger
}

// Connection is one websocket session with the gateway. A single listener
// goroutine owns reads; sends are serialized.
type Connection struct {
	opts   Options
	frames *protocol.FrameCodec
	logger *zap.Logger
	state  atomic.Int32

	// mu serializes Connect and Close and guards the lifecycle fields below.
	mu            sync.Mutex
	initPush      *result.Result
	stopListener  context.CancelFunc
	listenerDone  chan struct{}
	stopHeartbeat context.CancelFunc
	heartbeatDone chan struct{}

	// sending serializes frame writes; it also guards tr.
	sending sync.Mutex
	tr      transport.Transport

	errMu       sync.Mutex
	listenerErr error
	pongs       atomic.Int64

	inbound     *Queue[*message.Message]
	unsolicited *Queue[*message.Message]
}

// NewConnection fills in defaults and returns a Disconnected session.
func NewConnection(opts Options) *Connection {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.Dialer == nil {
		opts.Dialer = &transport.WebSocketDialer{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Connection{
		opts:        opts,
		frames:      protocol.NewFrameCodec(),
		logger:      opts.Logger.With(zap.String("url", opts.URL)),
		inbound:     NewQueue[*message.Message](),
		unsolicited: NewQueue[*message.Message](),
	}
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

// Connect opens the transport, starts the listener, optionally waits for the
// initial push, then starts the heartbeat. On failure the connection is back
// in Disconnected and the error is a *ConnectionError.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.CompareAndSwap(int32(Disconnected), int32(Connecting)) {
		return fmt.Errorf("%w: connect while %s", ErrInvalidState, c.State())
	}

	tr, err := c.opts.Dialer.Dial(ctx, c.opts.URL)
	if err != nil {
		c.setState(Disconnected)
		c.logger.Error("connect failed", zap.Error(err))
		return &ConnectionError{URL: c.opts.URL, Err: err}
	}

	c.sending.Lock()
	c.tr = tr
	c.sending.Unlock()
	c.setErr(nil)
	c.inbound.Drain()
	c.startListener(tr)

	if c.opts.ReceiveInit {
		res := c.next(ctx, c.opts.Timeout)
		if res.IsFault() {
			c.teardown()
			c.setState(Disconnected)
			return &ConnectionError{URL: c.opts.URL, Err: fmt.Errorf("%w: initial push: %s", ErrTimeout, res.Message)}
		}
		c.initPush = res
	}

	c.setState(Connected)
	c.startHeartbeat()
	c.logger.Info("connected", zap.Bool("receive_init", c.opts.ReceiveInit))
	return nil
}

// Close stops the heartbeat, then the listener, then closes the transport,
// waiting for each goroutine to exit. It is idempotent and always returns nil;
// a closed Connection cannot reconnect.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case Closed, Closing:
		return nil
	case Disconnected:
		c.setState(Closed)
		return nil
	}

	c.setState(Closing)
	c.teardown()
	c.setState(Closed)
	c.logger.Info("closed")
	return nil
}

// teardown runs with mu held.
func (c *Connection) teardown() {
	if c.stopHeartbeat != nil {
		c.logger.Info("stopping heartbeat")
		c.stopHeartbeat()
		<-c.heartbeatDone
		c.stopHeartbeat = nil
	}
	if c.stopListener != nil {
		c.logger.Info("stopping listener")
		c.stopListener()
		<-c.listenerDone
		c.stopListener = nil
	}

	c.sending.Lock()
	tr := c.tr
	c.tr = nil
	c.sending.Unlock()
	if tr != nil {
		if err := tr.Close(); err != nil {
			c.logger.Warn("close transport", zap.Error(err))
		}
	}
}

// InitPush returns the message captured during Connect when ReceiveInit is set.
func (c *Connection) InitPush() *result.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initPush
}

// Err returns the fault that stopped the listener, if any. Once set, no further
// messages will be received on this session.
func (c *Connection) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.listenerErr
}

func (c *Connection) setErr(err error) {
	c.errMu.Lock()
	c.listenerErr = err
	c.errMu.Unlock()
}

// ListenerDone is closed when the listener goroutine of the current session
// exits. It is nil before the first Connect.
func (c *Connection) ListenerDone() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listenerDone
}

// Pongs reports how many pongs this connection has received.
func (c *Connection) Pongs() int64 {
	return c.pongs.Load()
}

// Unsolicited returns the messages that arrived while callers waited for other
// op codes, oldest first, without removing them.
func (c *Connection) Unsolicited() []*message.Message {
	return c.unsolicited.Snapshot()
}

// DrainUnsolicited removes and returns the unsolicited messages.
func (c *Connection) DrainUnsolicited() []*message.Message {
	return c.unsolicited.Drain()
}

// Send writes m without waiting for any reply.
func (c *Connection) Send(m *message.Message) error {
	if c.State() != Connected {
		return ErrNotConnected
	}
	return c.send(m)
}

func (c *Connection) send(m *message.Message) error {
	frame, err := c.frames.Encode(m)
	if err != nil {
		return err
	}

	c.sending.Lock()
	defer c.sending.Unlock()
	if c.tr == nil {
		return ErrNotConnected
	}

	level := zapcore.InfoLevel
	if m.OpCode == message.OpPing {
		level = zapcore.DebugLevel
	}
	if ce := c.logger.Check(level, "send"); ce != nil {
		ce.Write(zap.Uint32("op_code", uint32(m.OpCode)), zap.Uint32("sub_code", m.Sub()), zap.Int("frame_len", len(frame)))
	}

	if err := c.tr.WriteFrame(frame); err != nil {
		return err
	}
	framesSent.Inc()
	return nil
}

// SendAndReceive sends m and waits for the first inbound message whose op code
// is expected. Messages with other op codes are moved to the unsolicited queue.
// A timeout of zero or less uses Options.Timeout. Faults come back as results:
// 500 when not connected or the send fails, 408 when nothing matched in time.
func (c *Connection) SendAndReceive(ctx context.Context, m *message.Message, expected message.OpCode, timeout time.Duration) *result.Result {
	if c.State() != Connected {
		return result.NotConnected("")
	}
	if err := c.send(m); err != nil {
		c.logger.Error("send failed", zap.Uint32("op_code", uint32(m.OpCode)), zap.Error(err))
		return result.NotConnected(fmt.Sprintf("send failed: %v", err))
	}
	return c.await(ctx, expected, timeout)
}

// WaitForMessage waits for a pushed message with the expected op code without
// sending anything first.
func (c *Connection) WaitForMessage(ctx context.Context, expected message.OpCode, timeout time.Duration) *result.Result {
	if c.State() != Connected {
		return result.NotConnected("")
	}
	return c.await(ctx, expected, timeout)
}

// ReceiveNext pops the next inbound message whatever its op code.
func (c *Connection) ReceiveNext(ctx context.Context) *result.Result {
	if c.State() != Connected {
		return result.NotConnected("")
	}
	return c.next(ctx, c.opts.Timeout)
}

func (c *Connection) next(ctx context.Context, timeout time.Duration) *result.Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m, err := c.inbound.Pop(ctx)
	if err != nil {
		responseTimeouts.Inc()
		c.logger.Error("timed out waiting for response", zap.Duration("timeout", timeout), zap.Error(err))
		return result.Cancelled(0, err)
	}
	c.logger.Info("receive", zap.Uint32("op_code", uint32(m.OpCode)), zap.Uint32("sub_code", m.Sub()))
	return result.FromMessage(m)
}

func (c *Connection) await(ctx context.Context, expected message.OpCode, timeout time.Duration) *result.Result {
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		m, err := c.inbound.Pop(ctx)
		if err != nil {
			responseTimeouts.Inc()
			c.logger.Error("timed out waiting for response",
				zap.Uint32("expected_op_code", uint32(expected)),
				zap.Duration("timeout", timeout),
				zap.Error(err))
			return result.Cancelled(expected, err)
		}

		if m.OpCode == expected {
			c.logger.Info("receive (expected)", zap.Uint32("op_code", uint32(m.OpCode)), zap.Uint32("sub_code", m.Sub()))
			return result.FromMessage(m)
		}

		c.logger.Warn("unexpected message while waiting",
			zap.Uint32("expected_op_code", uint32(expected)),
			zap.Uint32("op_code", uint32(m.OpCode)))
		unsolicitedQueued.Inc()
		c.unsolicited.Push(m)
	}
}

func (c *Connection) startListener(tr transport.Transport) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.stopListener = cancel
	c.listenerDone = done
	go c.listen(ctx, tr, done)
}

func (c *Connection) startHeartbeat() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.stopHeartbeat = cancel
	c.heartbeatDone = done
	go c.heartbeat(ctx, c.opts.HeartbeatInterval, done)
}

// listen is the only reader of tr. A decode failure ends it: the fault is
// logged with the offending frame and kept for Err.
func (c *Connection) listen(ctx context.Context, tr transport.Transport, done chan struct{}) {
	defer close(done)

	for {
		frame, err := tr.ReadFrame(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				c.logger.Info("listener cancelled")
			case errors.Is(err, transport.ErrClosed):
				c.logger.Info("listener stopped: transport closed", zap.Error(err))
			default:
				c.logger.Error("listener read failed", zap.Error(err))
				c.setErr(err)
			}
			return
		}
		framesReceived.Inc()

		m, err := c.frames.Decode(frame)
		if err != nil {
			protocolErrors.Inc()
			c.logger.Error("listener decode failed",
				zap.Int("frame_len", len(frame)),
				zap.Binary("frame", frame),
				zap.Error(err))
			c.setErr(err)
			return
		}

		if m.OpCode == message.OpPong {
			pongsReceived.Inc()
			c.pongs.Add(1)
			c.logger.Info("received pong")
			continue
		}
		c.inbound.Push(m)
	}
}

// heartbeat sends a ping every interval, the first one after a full interval.
func (c *Connection) heartbeat(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("heartbeat stopped")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				c.logger.Info("heartbeat stopped")
				return
			}
			if err := c.send(message.Ping()); err != nil {
				if errors.Is(err, transport.ErrClosed) || errors.Is(err, ErrNotConnected) {
					c.logger.Info("heartbeat stopped", zap.Error(err))
				} else {
					c.logger.Warn("heartbeat send failed", zap.Error(err))
				}
				return
			}
			heartbeatsSent.Inc()
		}
	}
}
