package orchestration

import (
	"context"
	"time"

	"github.com/JSluo888/MedJourney-sub000/core/agentapi"
	"github.com/JSluo888/MedJourney-sub000/core/audio"
	"github.com/JSluo888/MedJourney-sub000/core/media"
	"github.com/JSluo888/MedJourney-sub000/core/recorder"
	"github.com/JSluo888/MedJourney-sub000/core/signaling"
)

const (
	DefaultProcessingTimeout = 30 * time.Second
	DefaultLevelPollInterval = 100 * time.Millisecond
)

type OrchestratorOption func(*Orchestrator)

// MediaSession is the realtime audio side of a conversation.
type MediaSession interface {
	Initialize(ctx context.Context, sessionID string) error
	StartPublishing(ctx context.Context) error
	StopPublishing(ctx context.Context) error
	VolumeLevel() float64
	StopRemotePlayback()
	Leave(ctx context.Context) error

	OnRemoteTrackAvailable(callback func(user media.RemoteUser))
	OnRemoteTrackEnded(callback func(user media.RemoteUser))
	OnConnectionChange(callback func(connected bool, err error))
	OnError(callback func(err error))
}

var _ MediaSession = (*media.Session)(nil)

// SignalingChannel carries control messages to and from the agent.
type SignalingChannel interface {
	Connect(ctx context.Context, sessionID, userID string, opts ...signaling.ConnectOption) error
	Send(messageType string, payload any)
	OnMessage(messageType string, handler signaling.Handler)
	OnConnectionChange(callback func(event signaling.ConnectionEvent))
	Status() signaling.Status
	Close() error
}

var _ SignalingChannel = (*signaling.Channel)(nil)

// Recorder captures the user's voice for a single turn.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() ([]byte, error)
	Discard()
	EncodingInfo() audio.EncodingInfo
}

var _ Recorder = (*recorder.Recorder)(nil)

func WithMediaSession(session MediaSession) OrchestratorOption {
	return func(o *Orchestrator) { o.media = session }
}

func WithSignalingChannel(channel SignalingChannel) OrchestratorOption {
	return func(o *Orchestrator) { o.signaling = channel }
}

func WithRecorder(recorder Recorder) OrchestratorOption {
	return func(o *Orchestrator) { o.recorder = recorder }
}

// WithSessionProvider sets where session ids come from. Without one, ids are
// generated locally.
func WithSessionProvider(provider agentapi.SessionProvider) OrchestratorOption {
	return func(o *Orchestrator) {
		if provider != nil {
			o.sessions = provider
		}
	}
}

// WithProcessingTimeout bounds how long a turn may wait for the agent.
func WithProcessingTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.processingTimeout = timeout
		}
	}
}

func WithLevelPollInterval(interval time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.levelPollInterval = interval
		}
	}
}

// WithMessageCallback is invoked for every message appended to the history,
// in history order.
func WithMessageCallback(callback func(message ConversationMessage)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onMessage = callback }
}

func WithStatusChangeCallback(callback func(status TurnState)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onStatusChange = callback }
}

// WithAudioLevelCallback receives the microphone level while listening. It
// is called from the polling goroutine, not the one delivering messages.
func WithAudioLevelCallback(callback func(level float64)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onAudioLevel = callback }
}

// WithErrorCallback receives single-line, user-presentable error messages.
func WithErrorCallback(callback func(message string)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onError = callback }
}

func WithWarningCallback(callback func(message string)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onWarning = callback }
}
