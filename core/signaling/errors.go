package signaling

import (
	"errors"
	"fmt"
)

var (
	ErrHandshakeTimeout = errors.New("agent did not acknowledge the session in time")
	ErrHeartbeatTimeout = errors.New("heartbeat round-trip timed out")
	ErrUnknownMessage   = errors.New("unknown message type")
	ErrClosed           = errors.New("signaling channel closed")
)

// DisconnectedError is reported once reconnection has been exhausted.
type DisconnectedError struct {
	Attempts int
	Err      error
}

func (e *DisconnectedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("signaling disconnected after %d reconnect attempts", e.Attempts)
	}
	return fmt.Sprintf("signaling disconnected after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *DisconnectedError) Unwrap() error {
	return e.Err
}
