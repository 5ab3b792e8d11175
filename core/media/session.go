package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JSluo888/MedJourney-sub000/core/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Session adapts a media Transport for the conversation: it joins one channel,
// publishes the shared microphone on demand and plays every remote track it
// is offered. It knows nothing about turns and never reconnects by itself.
type Session struct {
	transport Transport
	source    *audio.Source
	output    audio.Output
	uid       string

	callbacksMu        sync.RWMutex
	onRemoteTrack      func(user RemoteUser)
	onRemoteTrackEnded func(user RemoteUser)
	onError            func(err error)
	onConnectionChange func(connected bool, err error)

	mu           sync.Mutex
	joined       bool
	leaving      bool
	channel      string
	localTrack   LocalTrack
	publishing   bool
	remoteTracks map[string]RemoteTrack
}

func NewSession(transport Transport, source *audio.Source, opts ...SessionOption) *Session {
	s := &Session{
		transport:    transport,
		source:       source,
		remoteTracks: map[string]RemoteTrack{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize joins the media channel for the session. Failures are returned
// as *TransportInitError and are not retried.
func (s *Session) Initialize(ctx context.Context, sessionID string) (err error) {
	ctx, span := tracer.Start(ctx, "join media session", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to join media session")
		}
		span.End()
	}()

	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		return nil
	}
	s.leaving = false
	s.mu.Unlock()

	if s.transport == nil {
		return &TransportInitError{Op: "join", Err: errors.New("no media transport configured")}
	}

	events := TransportEvents{
		OnUserPublished:         s.handleUserPublished,
		OnUserUnpublished:       s.handleUserUnpublished,
		OnConnectionStateChange: s.handleConnectionStateChange,
	}
	if err := s.transport.Join(ctx, sessionID, s.uid, events); err != nil {
		return &TransportInitError{Op: "join", Err: err}
	}

	s.mu.Lock()
	s.joined = true
	s.channel = sessionID
	s.mu.Unlock()

	logger.Info("joined media session", "channel", sessionID, "uid", s.uid)
	return nil
}

// StartPublishing publishes the local microphone track, creating it first if
// needed. Calling it while already publishing is a no-op.
func (s *Session) StartPublishing(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.joined {
		return &TransportInitError{Op: "publish", Err: ErrNotJoined}
	}
	if s.publishing {
		return nil
	}

	if s.localTrack == nil {
		track, err := s.transport.CreateLocalAudioTrack(ctx, TrackConfig{Source: s.source})
		if err != nil {
			return &TransportInitError{Op: "create local audio track", Err: err}
		}
		s.localTrack = track
	}

	if err := s.transport.Publish(ctx, s.localTrack); err != nil {
		return &TransportInitError{Op: "publish", Err: err}
	}
	s.publishing = true
	return nil
}

// StopPublishing unpublishes and releases the local track. It is a no-op
// when nothing is published.
func (s *Session) StopPublishing(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopPublishingLocked(ctx)
}

func (s *Session) stopPublishingLocked(ctx context.Context) error {
	if s.localTrack == nil {
		s.publishing = false
		return nil
	}

	var errs []error
	if s.publishing {
		if err := s.transport.Unpublish(ctx, s.localTrack); err != nil {
			errs = append(errs, fmt.Errorf("failed to unpublish local track: %w", err))
		}
	}
	if err := s.localTrack.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close local track: %w", err))
	}
	s.localTrack = nil
	s.publishing = false
	return errors.Join(errs...)
}

func (s *Session) Publishing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishing
}

// OnRemoteTrackAvailable registers the callback invoked after a remote track
// was subscribed and started playing.
func (s *Session) OnRemoteTrackAvailable(callback func(user RemoteUser)) {
	s.callbacksMu.Lock()
	defer s.callbacksMu.Unlock()
	s.onRemoteTrack = callback
}

func (s *Session) OnRemoteTrackEnded(callback func(user RemoteUser)) {
	s.callbacksMu.Lock()
	defer s.callbacksMu.Unlock()
	s.onRemoteTrackEnded = callback
}

func (s *Session) OnError(callback func(err error)) {
	s.callbacksMu.Lock()
	defer s.callbacksMu.Unlock()
	s.onError = callback
}

func (s *Session) OnConnectionChange(callback func(connected bool, err error)) {
	s.callbacksMu.Lock()
	defer s.callbacksMu.Unlock()
	s.onConnectionChange = callback
}

// VolumeLevel is the local microphone level in [0,1]. It is 0 while not
// publishing.
func (s *Session) VolumeLevel() float64 {
	if !s.Publishing() || s.source == nil {
		return 0
	}
	return s.source.Level()
}

// StopRemotePlayback silences every remote track immediately. Subscriptions
// are kept so the next remote publish plays again.
func (s *Session) StopRemotePlayback() {
	s.mu.Lock()
	tracks := make([]RemoteTrack, 0, len(s.remoteTracks))
	for _, track := range s.remoteTracks {
		tracks = append(tracks, track)
	}
	s.mu.Unlock()

	for _, track := range tracks {
		track.Stop()
	}
	if s.output != nil {
		s.output.ClearBuffer()
	}
}

// Leave unpublishes, stops remote playback and leaves the channel.
func (s *Session) Leave(ctx context.Context) error {
	s.StopRemotePlayback()

	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return nil
	}
	s.leaving = true
	errs := []error{s.stopPublishingLocked(ctx)}
	s.remoteTracks = map[string]RemoteTrack{}
	s.joined = false
	s.mu.Unlock()

	if err := s.transport.Leave(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to leave media session: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Session) handleUserPublished(user RemoteUser) {
	track, err := s.transport.Subscribe(context.Background(), user)
	if err != nil {
		s.reportError(fmt.Errorf("could not receive audio from %s: %w", user.UID, err))
		return
	}
	if s.output != nil {
		if err := track.Play(s.output); err != nil {
			s.reportError(fmt.Errorf("could not play audio from %s: %w", user.UID, err))
			return
		}
	}

	s.mu.Lock()
	s.remoteTracks[user.UID] = track
	s.mu.Unlock()

	logger.Debug("remote track available", "uid", user.UID)

	s.callbacksMu.RLock()
	callback := s.onRemoteTrack
	s.callbacksMu.RUnlock()
	if callback != nil {
		callback(user)
	}
}

func (s *Session) handleUserUnpublished(user RemoteUser) {
	s.mu.Lock()
	track, ok := s.remoteTracks[user.UID]
	delete(s.remoteTracks, user.UID)
	s.mu.Unlock()
	if !ok {
		return
	}

	ended := func(string) {
		track.Stop()
		s.callbacksMu.RLock()
		callback := s.onRemoteTrackEnded
		s.callbacksMu.RUnlock()
		if callback != nil {
			callback(user)
		}
	}

	// let queued audio drain before reporting the end of playback
	if marking, ok := s.output.(audio.MarkingOutput); ok {
		if err := marking.Mark("remote-"+user.UID, ended); err == nil {
			return
		}
	}
	ended(user.UID)
}

func (s *Session) handleConnectionStateChange(current, previous ConnectionState, reason string) {
	logger.Info("media connection state changed", "current", current, "previous", previous, "reason", reason)

	s.callbacksMu.RLock()
	onChange := s.onConnectionChange
	s.callbacksMu.RUnlock()

	switch current {
	case ConnectionStateConnected:
		if onChange != nil {
			onChange(true, nil)
		}
	case ConnectionStateDisconnected, ConnectionStateReconnecting:
		s.mu.Lock()
		leaving := s.leaving
		s.mu.Unlock()
		if leaving && reason == ReasonLeave {
			return
		}

		err := fmt.Errorf("media connection %s: %s", stateWord(current), reason)
		if onChange != nil {
			onChange(false, err)
		}
		s.reportError(err)
	}
}

func (s *Session) reportError(err error) {
	logger.Warn("media session error", "error", err)

	s.callbacksMu.RLock()
	onError := s.onError
	s.callbacksMu.RUnlock()
	if onError != nil {
		onError(err)
	}
}

func stateWord(state ConnectionState) string {
	if state == ConnectionStateReconnecting {
		return "interrupted"
	}
	return "lost"
}
