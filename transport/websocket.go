package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultHandshakeTimeout bounds the HTTP upgrade when the dialer sets none.
	DefaultHandshakeTimeout = 10 * time.Second

	// MaxFrameSize is the largest frame accepted from the peer.
	MaxFrameSize = 16 << 20

	writeWait = 10 * time.Second
)

// WebSocketDialer dials gateways over ws:// or wss://.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial websocket: %w (http status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return NewWebSocket(conn), nil
}

// WebSocket adapts a gorilla connection to Transport. It is used on both ends:
// the client wraps dialed connections, the gateway wraps upgraded ones.
type WebSocket struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func NewWebSocket(conn *websocket.Conn) *WebSocket {
	conn.SetReadLimit(MaxFrameSize)
	return &WebSocket{conn: conn}
}

func (w *WebSocket) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w.closed.Load() {
		return nil, ErrClosed
	}

	// Unblock the pending read when ctx ends. gorilla marks the connection
	// broken after a read error, so a cancelled transport is only good for Close.
	stop := context.AfterFunc(ctx, func() {
		_ = w.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, frame, err := w.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, w.mapErr(err)
	}
	return frame, nil
}

func (w *WebSocket) WriteFrame(frame []byte) error {
	if w.closed.Load() {
		return ErrClosed
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return w.mapErr(err)
	}
	return nil
}

// Close sends a normal-closure control frame when the socket is still usable,
// then closes it. Repeated calls return the first result.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		w.closeErr = w.conn.Close()
		if errors.Is(w.closeErr, net.ErrClosed) {
			w.closeErr = nil
		}
	})
	return w.closeErr
}

// RemoteAddr returns the peer address.
func (w *WebSocket) RemoteAddr() net.Addr {
	return w.conn.RemoteAddr()
}

func (w *WebSocket) mapErr(err error) error {
	var ce *websocket.CloseError
	switch {
	case w.closed.Load():
		return ErrClosed
	case errors.As(err, &ce):
		return fmt.Errorf("%w: %v", ErrClosed, ce)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed),
		errors.Is(err, websocket.ErrCloseSent):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	default:
		return err
	}
}
