package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JSluo888/MedJourney-sub000/core/agentapi"
	"github.com/JSluo888/MedJourney-sub000/core/events"
	"github.com/JSluo888/MedJourney-sub000/core/signaling"
	"github.com/JSluo888/MedJourney-sub000/core/turnstate"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrEmptyMessage = errors.New("message is empty")

type callbacks struct {
	onMessage      func(ConversationMessage)
	onStatusChange func(TurnState)
	onAudioLevel   func(float64)
	onError        func(string)
	onWarning      func(string)
}

// Orchestrator runs one conversation with a remote agent. It owns the turn
// state and is the only component that changes it; the media session,
// recorder and signaling channel are driven through effects of the turn
// reducer.
type Orchestrator struct {
	media     MediaSession
	signaling SignalingChannel
	recorder  Recorder
	sessions  agentapi.SessionProvider

	processingTimeout time.Duration
	levelPollInterval time.Duration
	callbacks         callbacks

	mu              sync.Mutex
	state           turnstate.State
	session         *agentapi.Session
	userID          string
	connecting      bool
	processingTimer *time.Timer
	speakingTimer   *time.Timer
	levelStop       chan struct{}
	levelDone       chan struct{}

	baseContext context.Context
	cancelBase  context.CancelFunc
	closeOnce   sync.Once
	runtime     *effectRuntime
}

func New(opts ...OrchestratorOption) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		sessions:          agentapi.LocalSessions{},
		processingTimeout: DefaultProcessingTimeout,
		levelPollInterval: DefaultLevelPollInterval,
		state:             turnstate.Initial(),
		baseContext:       ctx,
		cancelBase:        cancel,
		runtime:           newEffectRuntime(),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.bindSignaling()
	o.bindMedia()
	o.runtime.start(o.execute)
	return o
}

// Initialize starts a session for the user, joins its media channel and
// connects signaling. It returns once the agent acknowledged the session.
func (o *Orchestrator) Initialize(ctx context.Context, userID string) (err error) {
	ctx, span := tracer.Start(ctx, "initialize conversation", trace.WithAttributes(attribute.String("user.id", userID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to initialize conversation")
		}
		span.End()
	}()

	if o.runtime.isClosed() {
		return ErrClosed
	}
	if o.media == nil || o.signaling == nil {
		return fmt.Errorf("media session and signaling channel are required")
	}

	o.mu.Lock()
	if o.session != nil || o.connecting {
		o.mu.Unlock()
		return ErrAlreadyConnected
	}
	o.connecting = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.connecting = false
		o.mu.Unlock()
	}()

	session, err := o.sessions.StartSession(ctx, userID)
	if err != nil {
		err = fmt.Errorf("failed to start session: %w", err)
		o.reportError(err)
		return err
	}
	span.SetAttributes(attribute.String("session.id", session.ID), attribute.String("media.channel", session.Channel))

	if err := o.media.Initialize(ctx, session.Channel); err != nil {
		o.stopSession(ctx, session.ID)
		o.reportError(err)
		return err
	}
	o.dispatch(events.NewMediaConnectionChanged(true, nil))

	if err := o.signaling.Connect(ctx, session.ID, userID, signaling.WithMediaChannel(session.Channel)); err != nil {
		if leaveErr := o.media.Leave(ctx); leaveErr != nil {
			logger.Warn("failed to leave media session", "error", leaveErr)
		}
		o.resetTurnState()
		o.stopSession(ctx, session.ID)
		err = fmt.Errorf("failed to connect signaling: %w", err)
		o.reportError(err)
		return err
	}
	o.dispatch(events.NewSignalingConnectionChanged(true, false, 0, nil))

	o.mu.Lock()
	o.session = &session
	o.userID = userID
	o.mu.Unlock()

	o.startLevelPolling()
	logger.Info("conversation initialized", "session_id", session.ID, "user_id", userID, "channel", session.Channel)
	return nil
}

// Disconnect ends the session. History is kept; the state returns to idle.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.mu.Lock()
	session := o.session
	o.session = nil
	o.stopTimersLocked()
	o.mu.Unlock()

	o.stopLevelPolling()
	o.resetTurnState()
	if session == nil {
		return nil
	}

	if o.recorder != nil {
		o.recorder.Discard()
	}

	var errs []error
	if err := o.signaling.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close signaling channel: %w", err))
	}
	if err := o.media.Leave(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to leave media session: %w", err))
	}
	o.stopSession(ctx, session.ID)

	logger.Info("conversation disconnected", "session_id", session.ID)
	return errors.Join(errs...)
}

func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		if err := o.Disconnect(o.baseContext); err != nil {
			recordedErr := fmt.Errorf("failed to disconnect: %w", err)
			span := trace.SpanFromContext(o.baseContext)
			span.RecordError(recordedErr)
			span.SetStatus(codes.Error, recordedErr.Error())
		}

		if queued := o.runtime.queuedEffectCount(); queued > 0 {
			logger.Debug("dropping queued effects", "count", queued)
		}
		o.runtime.end()
		o.runtime.waitUntilEnded()
		o.cancelBase()
	})
}

func (o *Orchestrator) SendTextMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if o.runtime.isClosed() {
		return ErrClosed
	}

	turnID := uuid.NewString()
	_, span := tracer.Start(ctx, "submit text message", trace.WithAttributes(attribute.String("turn.id", turnID)))
	defer span.End()

	o.dispatch(events.NewTextSubmitted(turnID, uuid.NewString(), uuid.NewString(), text))
	return nil
}

// SendImage uploads an image as the user's turn.
func (o *Orchestrator) SendImage(ctx context.Context, fileName string, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyMessage
	}
	if o.runtime.isClosed() {
		return ErrClosed
	}

	turnID := uuid.NewString()
	_, span := tracer.Start(ctx, "submit image", trace.WithAttributes(
		attribute.String("turn.id", turnID),
		attribute.Int("image.size", len(data)),
	))
	defer span.End()

	o.dispatch(events.NewImageSubmitted(turnID, uuid.NewString(), uuid.NewString(), fileName, data))
	return nil
}

func (o *Orchestrator) StartRecording() {
	o.dispatch(events.NewRecordingRequested(uuid.NewString()))
}

func (o *Orchestrator) StopRecording() {
	o.dispatch(events.NewRecordingStopRequested())
}

// Interrupt stops remote playback before it returns and hands the turn back
// to the user. Replies to the interrupted turn are dropped.
func (o *Orchestrator) Interrupt() {
	o.dispatch(events.NewInterruptRequested(uuid.NewString()))
}

func (o *Orchestrator) State() TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Turn
}

func (o *Orchestrator) Health() ConnectionHealth {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Health
}

// Snapshot returns a deep copy of the conversation.
func (o *Orchestrator) Snapshot() Conversation {
	o.mu.Lock()
	state := o.state
	o.mu.Unlock()

	conversation, err := snapshotOf(state)
	if err != nil {
		logger.Warn("failed to copy conversation", "error", err)
	}
	return conversation
}

func (o *Orchestrator) Status() SessionStatus {
	o.mu.Lock()
	status := SessionStatus{UserID: o.userID, Health: o.state.Health}
	if o.session != nil {
		status.SessionID = o.session.ID
		status.Channel = o.session.Channel
		status.CreatedAt = o.session.CreatedAt
	}
	o.mu.Unlock()

	if o.signaling != nil {
		signalingStatus := o.signaling.Status()
		status.Signaling = signalingStatus.State
		status.Health.ReconnectAttempts = signalingStatus.ReconnectAttempts
	}
	return status
}

// dispatch applies one event. Playback and timer effects are executed before
// it returns; everything else is handed to the effect runtime in order.
func (o *Orchestrator) dispatch(event events.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.runtime.isClosed() {
		return
	}

	previous := o.state.Turn
	next, effects := turnstate.Reduce(o.state, event)
	o.state = next
	if previous != next.Turn {
		logger.Debug("turn state changed", "from", previous, "to", next.Turn, "event", event.Kind())
	}

	deferred := make([]turnstate.Effect, 0, len(effects))
	for _, effect := range effects {
		switch effect := effect.(type) {
		case turnstate.StopRemotePlayback:
			if o.media != nil {
				o.media.StopRemotePlayback()
			}
		case turnstate.StartProcessingTimer:
			o.processingTimer = restartTimer(o.processingTimer, o.processingTimeout, func() {
				o.dispatch(events.NewProcessingTimedOut(effect.TurnID))
			})
		case turnstate.CancelProcessingTimer:
			o.processingTimer = stopTimer(o.processingTimer)
		case turnstate.StartSpeakingTimer:
			o.speakingTimer = restartTimer(o.speakingTimer, effect.Duration, func() {
				o.dispatch(events.NewSpeakingTimedOut(effect.TurnID))
			})
		case turnstate.CancelSpeakingTimer:
			o.speakingTimer = stopTimer(o.speakingTimer)
		default:
			deferred = append(deferred, effect)
		}
	}
	o.runtime.enqueue(deferred...)
}

// resetTurnState drops everything but the history after the session ended.
func (o *Orchestrator) resetTurnState() {
	o.mu.Lock()
	defer o.mu.Unlock()

	previous := o.state.Turn
	o.state = turnstate.State{Turn: turnstate.Idle, History: o.state.History}
	if previous != turnstate.Idle {
		o.runtime.enqueue(turnstate.EmitStatus{Turn: turnstate.Idle})
	}
}

func (o *Orchestrator) stopTimersLocked() {
	o.processingTimer = stopTimer(o.processingTimer)
	o.speakingTimer = stopTimer(o.speakingTimer)
}

// Stale timer fires are dropped by the reducer, which checks the turn id.
func restartTimer(timer *time.Timer, after time.Duration, fire func()) *time.Timer {
	stopTimer(timer)
	return time.AfterFunc(after, fire)
}

func stopTimer(timer *time.Timer) *time.Timer {
	if timer != nil {
		timer.Stop()
	}
	return nil
}

func (o *Orchestrator) stopSession(ctx context.Context, sessionID string) {
	if err := o.sessions.StopSession(ctx, sessionID); err != nil {
		logger.Warn("failed to stop session", "session_id", sessionID, "error", err)
	}
}

func (o *Orchestrator) reportError(err error) {
	logger.Warn("conversation error", "error", err)
	if o.callbacks.onError != nil {
		o.callbacks.onError(describe(err))
	}
}

func (o *Orchestrator) reportWarning(err error) {
	logger.Info("conversation warning", "warning", err)
	if o.callbacks.onWarning != nil {
		o.callbacks.onWarning(describe(err))
	}
}
