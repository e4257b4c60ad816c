package transport

import (
	"errors"
	"fmt"
)

var ErrNoToken = errors.New("transport: no access token; log in first")

// NetworkError is a failure to reach the server at all.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("transport: %s: network: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-success status or an unreadable response body.
type ServerError struct {
	Op      string
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("transport: %s: malformed response: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("transport: %s: server returned %d: %s", e.Op, e.Status, e.Message)
}
