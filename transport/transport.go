// Package transport carries opaque binary frames over a persistent socket.
//
// The client engine never touches the socket directly: one goroutine reads
// (the listener), writers are serialized by the caller, and Close may be called
// from anywhere.
//
//	Connection ──WriteFrame──┐
//	                         ├──→ websocket ──→ gateway
//	listener  ←──ReadFrame───┘
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by reads and writes once the socket has been closed by
// either side.
var ErrClosed = errors.New("transport closed")

// Transport is one established socket. ReadFrame must only be called from a
// single goroutine at a time.
type Transport interface {
	// ReadFrame blocks until a whole frame arrives, the transport closes
	// (ErrClosed) or ctx is done (ctx.Err()).
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}
