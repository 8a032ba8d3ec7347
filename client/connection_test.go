package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"mini-ws/message"
	"mini-ws/protocol"
	"mini-ws/transport"
)

// fakeTransport is an in-memory socket: frames pushed to in are read by the
// listener, written frames are recorded.
type fakeTransport struct {
	in chan []byte

	mu     sync.Mutex
	writes [][]byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (f *fakeTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-f.in:
		return frame, nil
	case <-f.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) WriteFrame(frame []byte) error {
	select {
	case <-f.closed:
		return transport.ErrClosed
	default:
	}
	f.mu.Lock()
	f.writes = append(f.writes, frame)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// written decodes every recorded frame.
func (f *fakeTransport) written(t *testing.T) []*message.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*message.Message, 0, len(f.writes))
	for _, frame := range f.writes {
		m, err := protocol.Decode(frame)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func (f *fakeTransport) push(t *testing.T, m *message.Message) {
	t.Helper()
	frame, err := protocol.Encode(m)
	require.NoError(t, err)
	f.in <- frame
}

type fakeDialer struct {
	tr    *fakeTransport
	err   error
	dials int
}

func (d *fakeDialer) Dial(context.Context, string) (transport.Transport, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.tr, nil
}

func newTestConnection(t *testing.T, opts Options) (*Connection, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	if opts.Dialer == nil {
		opts.Dialer = &fakeDialer{tr: tr}
	}
	if opts.URL == "" {
		opts.URL = "ws://fake/ws"
	}
	c := NewConnection(opts)
	t.Cleanup(func() { _ = c.Close() })
	return c, tr
}

func countOp(msgs []*message.Message, op message.OpCode) int {
	n := 0
	for _, m := range msgs {
		if m.OpCode == op {
			n++
		}
	}
	return n
}

func TestConnectAndClose(t *testing.T) {
	c, tr := newTestConnection(t, Options{})
	assert.Equal(t, Disconnected, c.State())

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, Connected, c.State())
	assert.Nil(t, c.InitPush())

	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.State())
	assert.True(t, tr.isClosed())

	select {
	case <-c.ListenerDone():
	default:
		t.Fatal("listener still running after Close")
	}

	// idempotent, and no way back
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Connect(context.Background()), ErrInvalidState)
}

func TestCloseFromDisconnected(t *testing.T) {
	c, _ := newTestConnection(t, Options{})
	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.State())
}

func TestConnectTwice(t *testing.T) {
	c, _ := newTestConnection(t, Options{})
	require.NoError(t, c.Connect(context.Background()))
	assert.ErrorIs(t, c.Connect(context.Background()), ErrInvalidState)
	assert.Equal(t, Connected, c.State())
}

func TestConnectFailure(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{err: errors.New("connection refused")}
	c, _ := newTestConnection(t, Options{Dialer: d})

	err := c.Connect(context.Background())
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "ws://fake/ws", connErr.URL)
	assert.Equal(t, Disconnected, c.State())

	// a failed attempt may be retried
	d.err = nil
	d.tr = tr
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 2, d.dials)
}

func TestReceiveInit(t *testing.T) {
	c, tr := newTestConnection(t, Options{ReceiveInit: true})
	tr.push(t, message.New(message.OpPlayerFlowResponse).WithData(map[string]any{"userID": int64(9)}))

	require.NoError(t, c.Connect(context.Background()))
	push := c.InitPush()
	require.NotNil(t, push)
	assert.Equal(t, message.OpPlayerFlowResponse, push.OpCode)
	assert.Equal(t, int64(9), push.Data["user_id"])
}

func TestReceiveInitTimeout(t *testing.T) {
	c, tr := newTestConnection(t, Options{ReceiveInit: true, Timeout: 50 * time.Millisecond})

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	var connErr *ConnectionError
	assert.ErrorAs(t, err, &connErr)
	assert.Equal(t, Disconnected, c.State())
	assert.True(t, tr.isClosed())
}

func TestRequestsBeforeConnect(t *testing.T) {
	c, _ := newTestConnection(t, Options{})
	ctx := context.Background()

	res := c.SendAndReceive(ctx, message.New(message.OpPlayerFlowRequest), message.OpPlayerFlowResponse, 0)
	assert.Equal(t, 500, res.StatusCode)
	assert.Equal(t, "websocket not connected", res.Message)

	assert.Equal(t, 500, c.WaitForMessage(ctx, message.OpItemFlowResponse, 0).StatusCode)
	assert.Equal(t, 500, c.ReceiveNext(ctx).StatusCode)
	assert.ErrorIs(t, c.Send(message.Ping()), ErrNotConnected)
}

func TestSendAndReceiveCorrelation(t *testing.T) {
	c, tr := newTestConnection(t, Options{})
	require.NoError(t, c.Connect(context.Background()))

	tr.push(t, message.New(message.OpItemFlowResponse).WithSubCode(1))
	tr.push(t, message.New(message.OpCode(42)))
	tr.push(t, message.New(message.OpPlayerFlowResponse).WithSubCode(2).WithData(map[string]any{"name": "neo"}))

	req := message.PlayerFlow.NewRequest(message.UpdateName, map[string]any{"name": "neo"})
	res := c.SendAndReceive(context.Background(), req, message.OpPlayerFlowResponse, time.Second)
	require.False(t, res.IsFault(), res.String())
	assert.Equal(t, message.OpPlayerFlowResponse, res.OpCode)
	assert.Equal(t, uint32(2), res.SubCode)
	assert.True(t, res.Success)
	assert.Equal(t, "neo", res.Data["name"])

	// skipped messages are kept in arrival order
	unsolicited := c.Unsolicited()
	require.Len(t, unsolicited, 2)
	assert.Equal(t, message.OpItemFlowResponse, unsolicited[0].OpCode)
	assert.Equal(t, message.OpCode(42), unsolicited[1].OpCode)
	assert.Len(t, c.DrainUnsolicited(), 2)
	assert.Empty(t, c.Unsolicited())

	sent := tr.written(t)
	require.Len(t, sent, 1)
	assert.Equal(t, message.OpPlayerFlowRequest, sent[0].OpCode)
	assert.Equal(t, uint32(message.UpdateName), sent[0].Sub())
	assert.Equal(t, "neo", sent[0].Data["name"])
}

func TestSendAndReceiveTimeout(t *testing.T) {
	c, tr := newTestConnection(t, Options{})
	require.NoError(t, c.Connect(context.Background()))
	tr.push(t, message.New(message.OpItemFlowResponse))

	start := time.Now()
	res := c.SendAndReceive(context.Background(), message.New(message.OpPlayerFlowRequest), message.OpPlayerFlowResponse, 100*time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, 408, res.StatusCode)
	assert.Equal(t, "timeout waiting for op_code 4", res.Message)
	assert.False(t, res.Success)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Len(t, c.Unsolicited(), 1)

	// the session survives a timeout
	assert.Equal(t, Connected, c.State())
}

func TestSendAndReceiveContextCancelled(t *testing.T) {
	c, _ := newTestConnection(t, Options{})
	require.NoError(t, c.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	res := c.SendAndReceive(ctx, message.New(message.OpItemFlowRequest), message.OpItemFlowResponse, time.Second)
	assert.Equal(t, 408, res.StatusCode)
	assert.Contains(t, res.Message, "context canceled")
}

func TestWaitForMessage(t *testing.T) {
	c, tr := newTestConnection(t, Options{})
	require.NoError(t, c.Connect(context.Background()))

	go func() {
		time.Sleep(20 * time.Millisecond)
		tr.push(t, message.New(message.OpItemFlowResponse).WithData(map[string]any{"itemList": []any{}}))
	}()
	res := c.WaitForMessage(context.Background(), message.OpItemFlowResponse, time.Second)
	require.False(t, res.IsFault(), res.String())
	assert.Contains(t, res.Data, "item_list")
	assert.Empty(t, tr.written(t))
}

func TestReceiveNext(t *testing.T) {
	c, tr := newTestConnection(t, Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, c.Connect(context.Background()))

	tr.push(t, message.New(message.OpCode(77)).WithMemo("hello"))
	res := c.ReceiveNext(context.Background())
	assert.Equal(t, message.OpCode(77), res.OpCode)
	assert.Equal(t, "hello", res.Fields["memo"])

	res = c.ReceiveNext(context.Background())
	assert.Equal(t, 408, res.StatusCode)
	assert.Equal(t, "timeout waiting for next message", res.Message)
}

func TestPongIsDropped(t *testing.T) {
	c, tr := newTestConnection(t, Options{})
	require.NoError(t, c.Connect(context.Background()))

	tr.push(t, message.New(message.OpPong))
	tr.push(t, message.New(message.OpPlayerFlowResponse))

	res := c.ReceiveNext(context.Background())
	assert.Equal(t, message.OpPlayerFlowResponse, res.OpCode)
	assert.Empty(t, c.Unsolicited())
	assert.Equal(t, int64(1), c.Pongs())
}

func TestHeartbeatCadence(t *testing.T) {
	c, tr := newTestConnection(t, Options{HeartbeatInterval: 100 * time.Millisecond})
	require.NoError(t, c.Connect(context.Background()))

	time.Sleep(450 * time.Millisecond)
	require.NoError(t, c.Close())

	pings := countOp(tr.written(t), message.OpPing)
	assert.GreaterOrEqual(t, pings, 3)
	assert.LessOrEqual(t, pings, 5)
}

func TestHeartbeatFrameBytes(t *testing.T) {
	c, tr := newTestConnection(t, Options{HeartbeatInterval: 20 * time.Millisecond})
	require.NoError(t, c.Connect(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Close())

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.NotEmpty(t, tr.writes)
	want, err := protocol.Encode(message.Ping())
	require.NoError(t, err)
	assert.Equal(t, want, tr.writes[0])
}

func TestDecodeFailureStopsListener(t *testing.T) {
	c, tr := newTestConnection(t, Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, c.Connect(context.Background()))
	assert.NoError(t, c.Err())

	tr.in <- []byte{0x07, 0x80}

	select {
	case <-c.ListenerDone():
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
	assert.ErrorIs(t, c.Err(), protocol.ErrBadFlag)

	// later frames are never read
	tr.push(t, message.New(message.OpPlayerFlowResponse))
	res := c.ReceiveNext(context.Background())
	assert.True(t, res.IsFault())
}

func TestPeerCloseStopsListener(t *testing.T) {
	c, tr := newTestConnection(t, Options{})
	require.NoError(t, c.Connect(context.Background()))

	_ = tr.Close()
	select {
	case <-c.ListenerDone():
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
	assert.NoError(t, c.Err())

	res := c.SendAndReceive(context.Background(), message.New(message.OpPlayerFlowRequest), message.OpPlayerFlowResponse, 0)
	assert.Equal(t, 500, res.StatusCode)
	assert.Contains(t, res.Message, "send failed")
}

func TestShutdownOrder(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c, _ := newTestConnection(t, Options{Logger: zap.New(core)})
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Close())

	want := []string{"stopping heartbeat", "heartbeat stopped", "stopping listener", "listener cancelled", "closed"}
	var got []string
	for _, e := range logs.All() {
		for _, w := range want {
			if e.Message == w {
				got = append(got, e.Message)
			}
		}
	}
	assert.Equal(t, want, got)
	assert.Equal(t, "ws://fake/ws", logs.FilterMessage("closed").All()[0].ContextMap()["url"])
}
