package client

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("websocket not connected")
	ErrInvalidState = errors.New("invalid connection state")
	ErrTimeout      = errors.New("timed out")
)

// ConnectionError is returned by Connect when the session could not be
// established. The connection is left Disconnected.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
