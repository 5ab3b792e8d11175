package orchestration

import (
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/JSluo888/MedJourney-sub000/core/agentapi"
	"github.com/JSluo888/MedJourney-sub000/core/media"
	"github.com/JSluo888/MedJourney-sub000/core/recorder"
	"github.com/JSluo888/MedJourney-sub000/core/signaling"
	"github.com/JSluo888/MedJourney-sub000/core/turnstate"
)

// Errors a caller may match with errors.Is or errors.As.
type (
	TransportInitError    = media.TransportInitError
	SignalingDisconnected = signaling.DisconnectedError
	ConnectionLostError   = turnstate.ConnectionLostError
)

var (
	ErrNoRecording      = recorder.ErrNoRecording
	ErrRemoteTimeout    = turnstate.ErrRemoteTimeout
	ErrUnknownMessage   = signaling.ErrUnknownMessage
	ErrNotConnected     = turnstate.ErrNotConnected
	ErrAlreadyConnected = errors.New("conversation already initialized")
	ErrClosed           = errors.New("orchestrator closed")

	ErrRecordingUnavailable = errors.New("voice recording unavailable, text input still works")
)

// shownVerbatim errors are already worded for the user.
var shownVerbatim = []error{
	ErrRemoteTimeout,
	ErrNotConnected,
	turnstate.ErrAgentBusy,
	ErrNoRecording,
	ErrAlreadyConnected,
	ErrClosed,
	ErrRecordingUnavailable,
}

const (
	unreachableMessage = "could not reach the agent service, please retry"
	genericMessage     = "something went wrong, please retry"
)

// describe turns an error into the single line shown to the user. Transport
// errors are summarised; causes are only logged. Anything unrecognised gets a
// fixed sentence so no raw transport detail reaches the UI.
func describe(err error) string {
	if err == nil {
		return ""
	}

	var initErr *TransportInitError
	var disconnected *SignalingDisconnected
	var lost *ConnectionLostError
	var agentErr *turnstate.AgentError
	var statusErr *agentapi.StatusError
	var urlErr *url.Error
	var opErr *net.OpError
	switch {
	case errors.As(err, &lost):
		return lost.Error()
	case errors.As(err, &initErr):
		return "could not connect the audio session, please retry"
	case errors.As(err, &disconnected):
		return "lost connection to the agent, reconnect to continue"
	case errors.As(err, &agentErr):
		return firstLine(agentErr.Error())
	case errors.Is(err, signaling.ErrHandshakeTimeout):
		return "the agent did not accept the connection, please retry"
	case errors.As(err, &statusErr), errors.As(err, &urlErr), errors.As(err, &opErr):
		return unreachableMessage
	}
	for _, known := range shownVerbatim {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return genericMessage
}

func firstLine(message string) string {
	message = strings.TrimSpace(message)
	if i := strings.IndexAny(message, "\r\n"); i >= 0 {
		return message[:i]
	}
	return message
}
