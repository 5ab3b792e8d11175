package orchestration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JSluo888/MedJourney-sub000/core/audio"
	"github.com/JSluo888/MedJourney-sub000/core/media"
	"github.com/JSluo888/MedJourney-sub000/core/signaling"
)

type fakeMedia struct {
	initErr error
	level   float64

	initialized   atomic.Int32
	publishes     atomic.Int32
	unpublishes   atomic.Int32
	playbackStops atomic.Int32
	leaves        atomic.Int32
	publishing    atomic.Bool

	mu            sync.Mutex
	onRemoteTrack func(media.RemoteUser)
	onRemoteEnded func(media.RemoteUser)
	onConnection  func(bool, error)
	onError       func(error)
}

func (m *fakeMedia) Initialize(context.Context, string) error {
	if m.initErr != nil {
		return &media.TransportInitError{Op: "join", Err: m.initErr}
	}
	m.initialized.Add(1)
	return nil
}

func (m *fakeMedia) StartPublishing(context.Context) error {
	m.publishes.Add(1)
	m.publishing.Store(true)
	return nil
}

func (m *fakeMedia) StopPublishing(context.Context) error {
	m.unpublishes.Add(1)
	m.publishing.Store(false)
	return nil
}

func (m *fakeMedia) VolumeLevel() float64 {
	if !m.publishing.Load() {
		return 0
	}
	return m.level
}

func (m *fakeMedia) StopRemotePlayback() { m.playbackStops.Add(1) }

func (m *fakeMedia) Leave(context.Context) error {
	m.leaves.Add(1)
	return nil
}

func (m *fakeMedia) OnRemoteTrackAvailable(callback func(media.RemoteUser)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRemoteTrack = callback
}

func (m *fakeMedia) OnRemoteTrackEnded(callback func(media.RemoteUser)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRemoteEnded = callback
}

func (m *fakeMedia) OnConnectionChange(callback func(bool, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnection = callback
}

func (m *fakeMedia) OnError(callback func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = callback
}

func (m *fakeMedia) remoteTrack(uid string) {
	m.mu.Lock()
	callback := m.onRemoteTrack
	m.mu.Unlock()
	callback(media.RemoteUser{UID: uid})
}

func (m *fakeMedia) remoteEnded(uid string) {
	m.mu.Lock()
	callback := m.onRemoteEnded
	m.mu.Unlock()
	callback(media.RemoteUser{UID: uid})
}

type sentMessage struct {
	Type    string
	Payload any
}

type fakeSignaling struct {
	connectErr error

	sent   chan sentMessage
	closed atomic.Bool

	mu       sync.Mutex
	handlers map[string]signaling.Handler
	onChange func(signaling.ConnectionEvent)
	attempts int
}

func newFakeSignaling() *fakeSignaling {
	return &fakeSignaling{
		sent:     make(chan sentMessage, 64),
		handlers: map[string]signaling.Handler{},
	}
}

func (s *fakeSignaling) Connect(context.Context, string, string, ...signaling.ConnectOption) error {
	if s.connectErr != nil {
		return s.connectErr
	}
	s.closed.Store(false)
	return nil
}

func (s *fakeSignaling) Send(messageType string, payload any) {
	s.sent <- sentMessage{Type: messageType, Payload: payload}
}

func (s *fakeSignaling) OnMessage(messageType string, handler signaling.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[messageType] = handler
}

func (s *fakeSignaling) OnConnectionChange(callback func(signaling.ConnectionEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = callback
}

func (s *fakeSignaling) Status() signaling.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := signaling.StateConnected
	if s.closed.Load() {
		state = signaling.StateDisconnected
	}
	return signaling.Status{State: state, ReconnectAttempts: s.attempts}
}

func (s *fakeSignaling) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeSignaling) deliver(t *testing.T, messageType string, payload any) {
	t.Helper()

	envelope, err := signaling.NewEnvelope(messageType, payload, "session", time.Now())
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}
	s.mu.Lock()
	handler := s.handlers[messageType]
	s.mu.Unlock()
	if handler == nil {
		t.Fatalf("no handler registered for %q", messageType)
	}
	handler(envelope)
}

func (s *fakeSignaling) connectionChanged(event signaling.ConnectionEvent) {
	s.mu.Lock()
	s.attempts = event.Attempts
	callback := s.onChange
	s.mu.Unlock()
	callback(event)
}

type fakeRecorder struct {
	startErr  error
	recording []byte

	starts   atomic.Int32
	stops    atomic.Int32
	discards atomic.Int32
}

func (r *fakeRecorder) Start(context.Context) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.starts.Add(1)
	return nil
}

func (r *fakeRecorder) Stop() ([]byte, error) {
	r.stops.Add(1)
	if len(r.recording) == 0 {
		return nil, ErrNoRecording
	}
	return r.recording, nil
}

func (r *fakeRecorder) Discard() { r.discards.Add(1) }

func (r *fakeRecorder) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

// harness runs an initialized orchestrator over fakes and collects every
// callback it makes.
type harness struct {
	orchestrator *Orchestrator
	media        *fakeMedia
	signaling    *fakeSignaling
	recorder     *fakeRecorder

	messages chan ConversationMessage
	statuses chan TurnState
	errors   chan string
	warnings chan string
	levels   chan float64
}

func newHarness(t *testing.T, opts ...OrchestratorOption) *harness {
	t.Helper()

	h := &harness{
		media:     &fakeMedia{},
		signaling: newFakeSignaling(),
		recorder:  &fakeRecorder{},
		messages:  make(chan ConversationMessage, 64),
		statuses:  make(chan TurnState, 64),
		errors:    make(chan string, 64),
		warnings:  make(chan string, 64),
		levels:    make(chan float64, 1024),
	}
	return h.start(t, opts...)
}

func (h *harness) start(t *testing.T, opts ...OrchestratorOption) *harness {
	t.Helper()

	opts = append([]OrchestratorOption{
		WithMediaSession(h.media),
		WithSignalingChannel(h.signaling),
		WithRecorder(h.recorder),
		WithMessageCallback(func(message ConversationMessage) { h.messages <- message }),
		WithStatusChangeCallback(func(status TurnState) { h.statuses <- status }),
		WithErrorCallback(func(message string) { h.errors <- message }),
		WithWarningCallback(func(message string) { h.warnings <- message }),
	}, opts...)
	h.orchestrator = New(opts...)
	t.Cleanup(h.orchestrator.Close)

	if err := h.orchestrator.Initialize(context.Background(), "u1"); err != nil {
		t.Fatalf("expected initialize to succeed, got %v", err)
	}
	return h
}

func (h *harness) expectStatus(t *testing.T, want TurnState) {
	t.Helper()
	select {
	case got := <-h.statuses:
		if got != want {
			t.Fatalf("expected status %q, got %q", want, got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for status %q", want)
	}
}

func (h *harness) expectMessage(t *testing.T) ConversationMessage {
	t.Helper()
	select {
	case message := <-h.messages:
		return message
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a message")
	}
	return ConversationMessage{}
}

func (h *harness) expectError(t *testing.T) string {
	t.Helper()
	select {
	case message := <-h.errors:
		return message
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for an error")
	}
	return ""
}

func (h *harness) expectWarning(t *testing.T) string {
	t.Helper()
	select {
	case message := <-h.warnings:
		return message
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a warning")
	}
	return ""
}

// expectSent skips other outbound messages until one of the given type.
func (h *harness) expectSent(t *testing.T, messageType string) sentMessage {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case sent := <-h.signaling.sent:
			if sent.Type == messageType {
				return sent
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s to be sent", messageType)
		}
	}
}

func (h *harness) expectNothing(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case message := <-h.messages:
		t.Fatalf("expected no message, got %+v", message)
	case status := <-h.statuses:
		t.Fatalf("expected no status change, got %q", status)
	case message := <-h.errors:
		t.Fatalf("expected no error, got %q", message)
	case <-time.After(within):
	}
}

// waitFor polls until condition holds.
func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", description)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
