package realtime

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected       = errors.New("realtime: not connected")
	ErrAlreadyConnected   = errors.New("realtime: already connected")
	ErrSessionMismatch    = errors.New("realtime: publish for a session this channel is not bound to")
	ErrDisconnectTimedOut = errors.New("realtime: broker did not acknowledge disconnect")
)

// ConnectionError reports a channel that failed to open, or that dropped.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("realtime: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
