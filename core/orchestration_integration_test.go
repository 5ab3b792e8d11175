package orchestration

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JSluo888/MedJourney-sub000/core/agentapi"
	"github.com/JSluo888/MedJourney-sub000/core/audio"
	"github.com/JSluo888/MedJourney-sub000/core/media"
	"github.com/JSluo888/MedJourney-sub000/core/media/wsrelay"
	"github.com/JSluo888/MedJourney-sub000/core/recorder"
	"github.com/JSluo888/MedJourney-sub000/core/signaling"
	"github.com/JSluo888/MedJourney-sub000/internal/fakeagent"
)

func TestMicrophoneOpenedOnceForTrackAndRecorder(t *testing.T) {
	device := &countingDevice{}
	source := audio.NewSource(device)
	transport := &loopbackTransport{}
	session := media.NewSession(transport, source)
	rec := recorder.New(source)

	h := &harness{
		signaling: newFakeSignaling(),
		messages:  make(chan ConversationMessage, 64),
		statuses:  make(chan TurnState, 64),
		errors:    make(chan string, 64),
		warnings:  make(chan string, 64),
	}
	h.orchestrator = New(
		WithMediaSession(session),
		WithSignalingChannel(h.signaling),
		WithRecorder(rec),
		WithStatusChangeCallback(func(status TurnState) { h.statuses <- status }),
		WithWarningCallback(func(message string) { h.warnings <- message }),
	)
	t.Cleanup(h.orchestrator.Close)
	if err := h.orchestrator.Initialize(context.Background(), "u1"); err != nil {
		t.Fatalf("expected initialize to succeed, got %v", err)
	}

	h.orchestrator.StartRecording()
	h.expectStatus(t, StateListening)
	waitFor(t, "track and recorder to be active", func() bool {
		return transport.published.Load() && rec.Recording()
	})

	if got := device.starts.Load(); got != 1 {
		t.Fatalf("expected the capture device to be opened once, got %d", got)
	}

	device.emit(make([]byte, 3200))
	h.orchestrator.StopRecording()
	h.expectStatus(t, StateProcessing)
	h.expectSent(t, signaling.TypeVoiceMessage)

	waitFor(t, "capture device to stop", func() bool { return device.stops.Load() == 1 })
	if source.Active() {
		t.Fatalf("expected every lease to be released")
	}
}

func TestConversationWithFakeAgent(t *testing.T) {
	agent := fakeagent.New(
		fakeagent.WithResponseDelay(10*time.Millisecond),
		fakeagent.WithSpeech(200*time.Millisecond),
	)
	server := httptest.NewServer(agent)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	source := audio.NewSource(&countingDevice{})
	output := &collectingOutput{}
	session := media.NewSession(wsrelay.New(wsURL+"/media"), source, media.WithOutput(output), media.WithUID("u1"))
	channel := signaling.NewChannel(wsURL, signaling.WithHeartbeat(time.Second, time.Second))

	messages := make(chan ConversationMessage, 16)
	statuses := make(chan TurnState, 16)
	o := New(
		WithMediaSession(session),
		WithSignalingChannel(channel),
		WithRecorder(recorder.New(source)),
		WithSessionProvider(agentapi.NewClient(server.URL)),
		WithMessageCallback(func(message ConversationMessage) { messages <- message }),
		WithStatusChangeCallback(func(status TurnState) { statuses <- status }),
	)
	defer o.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Initialize(ctx, "u1"); err != nil {
		t.Fatalf("expected initialize to succeed, got %v", err)
	}
	if status := o.Status(); !strings.HasPrefix(status.Channel, "channel-") {
		t.Fatalf("expected the channel assigned by the agent, got %q", status.Channel)
	}

	if err := o.SendTextMessage(ctx, "hello"); err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}

	var history []string
	var seen []TurnState
	deadline := time.After(5 * time.Second)
	for len(seen) == 0 || seen[len(seen)-1] != StateIdle {
		select {
		case message := <-messages:
			history = append(history, message.Content)
		case status := <-statuses:
			seen = append(seen, status)
		case <-deadline:
			t.Fatalf("timed out, statuses so far %v", seen)
		}
	}

	want := []TurnState{StateProcessing, StateSpeaking, StateIdle}
	if len(seen) != len(want) {
		t.Fatalf("expected statuses %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected statuses %v, got %v", want, seen)
		}
	}

	waitFor(t, "agent reply", func() bool { return len(o.Snapshot().History) == 2 })
	snapshot := o.Snapshot()
	if snapshot.History[1].Content != "You said: hello" {
		t.Fatalf("unexpected reply %q (callbacks saw %v)", snapshot.History[1].Content, history)
	}
	if output.received() == 0 {
		t.Fatalf("expected agent speech to be played")
	}
}

type countingDevice struct {
	starts atomic.Int32
	stops  atomic.Int32

	mu      sync.Mutex
	onAudio func([]byte)
}

func (d *countingDevice) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (d *countingDevice) StartCapture(_ context.Context, onAudio func([]byte)) error {
	d.starts.Add(1)
	d.mu.Lock()
	d.onAudio = onAudio
	d.mu.Unlock()
	return nil
}

func (d *countingDevice) StopCapture() error {
	d.stops.Add(1)
	d.mu.Lock()
	d.onAudio = nil
	d.mu.Unlock()
	return nil
}

func (d *countingDevice) emit(frame []byte) {
	d.mu.Lock()
	onAudio := d.onAudio
	d.mu.Unlock()
	if onAudio != nil {
		onAudio(frame)
	}
}

// loopbackTransport is a media transport with no remote side. Publishing
// leases the shared source the way a real track does.
type loopbackTransport struct {
	published atomic.Bool
}

type loopbackTrack struct {
	source  *audio.Source
	release func() error
}

func (t *loopbackTransport) Join(_ context.Context, _, _ string, events media.TransportEvents) error {
	events.OnConnectionStateChange(media.ConnectionStateConnected, media.ConnectionStateConnecting, "")
	return nil
}

func (t *loopbackTransport) Leave(context.Context) error { return nil }

func (t *loopbackTransport) CreateLocalAudioTrack(_ context.Context, cfg media.TrackConfig) (media.LocalTrack, error) {
	return &loopbackTrack{source: cfg.Source}, nil
}

func (t *loopbackTransport) Publish(ctx context.Context, track media.LocalTrack) error {
	local := track.(*loopbackTrack)
	release, err := local.source.Acquire(ctx)
	if err != nil {
		return err
	}
	local.release = release
	t.published.Store(true)
	return nil
}

func (t *loopbackTransport) Unpublish(_ context.Context, track media.LocalTrack) error {
	t.published.Store(false)
	return track.Close()
}

func (t *loopbackTransport) Subscribe(context.Context, media.RemoteUser) (media.RemoteTrack, error) {
	return nil, nil
}

func (t *loopbackTrack) Close() error {
	if t.release == nil {
		return nil
	}
	return t.release()
}

type collectingOutput struct {
	bytes atomic.Int64
}

func (o *collectingOutput) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (o *collectingOutput) SendAudio(audio []byte) error {
	o.bytes.Add(int64(len(audio)))
	return nil
}

func (o *collectingOutput) ClearBuffer() {}

func (o *collectingOutput) received() int64 { return o.bytes.Load() }
