package turnstate

import (
	"errors"
	"fmt"
)

var (
	ErrRemoteTimeout = errors.New("the agent did not respond in time, please try again")
	ErrNotConnected  = errors.New("not connected to the agent")
	ErrAgentBusy     = errors.New("the agent is responding, interrupt it first")
)

// ConnectionLostError is surfaced when either transport drops while a
// conversation is active.
type ConnectionLostError struct {
	Transport string
	Terminal  bool
	Attempts  int
	Err       error
}

func (e *ConnectionLostError) Error() string {
	if e.Terminal {
		return fmt.Sprintf("%s connection lost after %d reconnect attempts, reconnect to continue", e.Transport, e.Attempts)
	}
	return fmt.Sprintf("%s connection lost, reconnecting", e.Transport)
}

func (e *ConnectionLostError) Unwrap() error {
	return e.Err
}

// AgentError wraps an error reported by the agent itself.
type AgentError struct {
	Message string
}

func (e *AgentError) Error() string {
	return "agent error: " + e.Message
}
