package turnstate

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/JSluo888/MedJourney-sub000/core/events"
)

func connectedState() State {
	s := Initial()
	s.Health = Health{MediaConnected: true, SignalingConnected: true}
	return s
}

func apply(s State, evs ...events.Event) (State, []Effect) {
	var all []Effect
	for _, event := range evs {
		var effects []Effect
		s, effects = Reduce(s, event)
		all = append(all, effects...)
	}
	return s, all
}

func statuses(effects []Effect) []Turn {
	var turns []Turn
	for _, effect := range effects {
		if status, ok := effect.(EmitStatus); ok {
			turns = append(turns, status.Turn)
		}
	}
	return turns
}

func countEffects[T Effect](effects []Effect) int {
	count := 0
	for _, effect := range effects {
		if _, ok := effect.(T); ok {
			count++
		}
	}
	return count
}

func agentMessages(s State) []Message {
	var messages []Message
	for _, message := range s.History {
		if message.Origin == OriginAgent {
			messages = append(messages, message)
		}
	}
	return messages
}

func TestTextTurnScenario(t *testing.T) {
	s := connectedState()

	s, effects := apply(s, events.NewTextSubmitted("turn-1", "user-1", "agent-1", "hello"))
	if s.Turn != Processing {
		t.Fatalf("expected processing, got %s", s.Turn)
	}
	if len(s.History) != 1 || s.History[0].Origin != OriginUser || s.History[0].Content != "hello" {
		t.Fatalf("expected user message to be appended immediately, got %+v", s.History)
	}
	if s.Pending == nil || s.Pending.ID != "agent-1" {
		t.Fatalf("expected thinking placeholder, got %+v", s.Pending)
	}
	if countEffects[SendText](effects) != 1 || countEffects[StartProcessingTimer](effects) != 1 {
		t.Fatalf("expected text send and processing timer, got %#v", effects)
	}

	s, effects = apply(s, events.NewAgentResponseReceived("generated", "turn-1", "hi there", "", 0))
	if s.Turn != Speaking {
		t.Fatalf("expected speaking, got %s", s.Turn)
	}
	if len(s.History) != 2 || s.History[1].Content != "hi there" || s.History[1].Origin != OriginAgent {
		t.Fatalf("expected agent message, got %+v", s.History)
	}
	if s.History[1].ID != "agent-1" {
		t.Fatalf("expected reply to take over the placeholder id, got %q", s.History[1].ID)
	}
	if s.Pending != nil {
		t.Fatalf("expected placeholder to be replaced")
	}
	if countEffects[StartSpeakingTimer](effects) != 1 {
		t.Fatalf("expected speaking timer for a reply without audio, got %#v", effects)
	}

	s, _ = apply(s, events.NewRemotePlaybackEnded("agent"))
	if s.Turn != Idle {
		t.Fatalf("expected idle after playback end, got %s", s.Turn)
	}
}

func TestUserMessageIsRecordedBeforeAwaitingReply(t *testing.T) {
	s := connectedState()
	_, effects := apply(s, events.NewTextSubmitted("turn-1", "user-1", "agent-1", "hello"))

	messageAt, sendAt := -1, -1
	for i, effect := range effects {
		switch effect.(type) {
		case EmitMessage:
			messageAt = i
		case SendText:
			sendAt = i
		}
	}
	if messageAt < 0 || sendAt < 0 || messageAt > sendAt {
		t.Fatalf("expected user message before send, got %#v", effects)
	}
}

func TestStartStopSequencesVisitStatesInOrder(t *testing.T) {
	allowed := map[Turn][]Turn{
		Idle:       {Listening, Speaking},
		Error:      {Listening, Idle},
		Listening:  {Processing},
		Processing: {Speaking, Idle, Error},
		Speaking:   {Idle},
	}

	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 200; run++ {
		s := connectedState()
		turn := 0
		for step := 0; step < 40; step++ {
			var event events.Event
			turnID := s.ActiveTurnID
			switch rng.Intn(6) {
			case 0:
				turn++
				event = events.NewRecordingRequested(turnIDFor(turn))
			case 1:
				event = events.NewRecordingStopRequested()
			case 2:
				event = events.NewRecordingEmpty(turnID, errors.New("no recording"))
			case 3:
				event = events.NewProcessingTimedOut(turnID)
			case 4:
				event = events.NewAgentResponseReceived("m", turnID, "reply", "", 0)
			case 5:
				event = events.NewRemotePlaybackEnded("agent")
			}

			before := s.Turn
			var effects []Effect
			s, effects = Reduce(s, event)
			turns := statuses(effects)
			if len(turns) == 0 {
				if s.Turn != before {
					t.Fatalf("run %d step %d: state changed to %s without a status effect", run, step, s.Turn)
				}
				continue
			}
			if last := turns[len(turns)-1]; last != s.Turn {
				t.Fatalf("run %d step %d: status effect %s disagrees with state %s", run, step, last, s.Turn)
			}
			from := before
			for _, to := range turns {
				if !containsTurn(allowed[from], to) {
					t.Fatalf("run %d step %d: illegal transition %s -> %s", run, step, from, to)
				}
				from = to
			}
		}
	}
}

func TestInterruptDuringProcessingDropsLateResponse(t *testing.T) {
	testCases := []struct {
		name   string
		turnID string
	}{
		{name: "tagged reply", turnID: "turn-1"},
		{name: "untagged reply", turnID: ""},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			s := connectedState()
			s, _ = apply(s, events.NewTextSubmitted("turn-1", "user-1", "agent-1", "hello"))

			s, effects := apply(s, events.NewInterruptRequested("turn-2"))
			if s.Turn != Listening {
				t.Fatalf("expected listening after interrupt, got %s", s.Turn)
			}
			if _, ok := effects[0].(StopRemotePlayback); !ok {
				t.Fatalf("expected playback to stop first, got %#v", effects)
			}
			if countEffects[CancelProcessingTimer](effects) != 1 || countEffects[SendInterrupt](effects) != 1 {
				t.Fatalf("expected timer cancel and interrupt signal, got %#v", effects)
			}

			s, effects = apply(s, events.NewAgentResponseReceived("late", testCase.turnID, "stale", "", 0))
			if s.Turn != Listening || len(agentMessages(s)) != 0 || len(effects) != 0 {
				t.Fatalf("expected stale reply to be dropped, got turn %s history %+v", s.Turn, s.History)
			}

			s, _ = apply(s, events.NewRecordingStopRequested())
			s, _ = apply(s, events.NewAgentResponseReceived("late", testCase.turnID, "stale", "", 0))
			if s.Turn == Speaking || len(agentMessages(s)) != 0 {
				t.Fatalf("expected stale reply to stay dropped in the next turn, got turn %s history %+v", s.Turn, s.History)
			}
			if s.Pending != nil {
				t.Fatalf("expected no placeholder before the recording is finalized")
			}
		})
	}
}

func TestUntaggedRepliesResumeAfterAgentStatus(t *testing.T) {
	s := connectedState()
	s, _ = apply(s,
		events.NewTextSubmitted("turn-1", "user-1", "agent-1", "hello"),
		events.NewInterruptRequested("turn-2"),
		events.NewAgentStatusReceived(StatusConnected),
		events.NewRecordingStopRequested(),
		events.NewRecordingFinalized("turn-2", "user-2", "agent-2", []byte{1, 2}, "audio/l16", 16000, time.Second),
		events.NewAgentResponseReceived("m", "", "answer", "", 0),
	)

	if s.Turn != Speaking {
		t.Fatalf("expected speaking, got %s", s.Turn)
	}
	if messages := agentMessages(s); len(messages) != 1 || messages[0].Content != "answer" {
		t.Fatalf("expected one agent message, got %+v", messages)
	}
}

func TestTextAndAudioMergeIntoOneMessage(t *testing.T) {
	testCases := []struct {
		name   string
		events []events.Event
		final  Turn
	}{
		{
			name: "text then audio",
			events: []events.Event{
				events.NewAgentResponseReceived("m", "turn-1", "hi", "", 0),
				events.NewRemoteTrackAvailable("agent"),
				events.NewRemotePlaybackEnded("agent"),
			},
			final: Idle,
		},
		{
			name: "audio then text",
			events: []events.Event{
				events.NewRemoteTrackAvailable("agent"),
				events.NewAgentResponseReceived("m", "turn-1", "hi", "", 0),
				events.NewRemotePlaybackEnded("agent"),
			},
			final: Idle,
		},
		{
			name: "audio ends before text",
			events: []events.Event{
				events.NewRemoteTrackAvailable("agent"),
				events.NewRemotePlaybackEnded("agent"),
				events.NewAgentResponseReceived("m", "turn-1", "hi", "", 0),
			},
			final: Idle,
		},
		{
			name: "duplicate text",
			events: []events.Event{
				events.NewAgentResponseReceived("m", "turn-1", "hi", "", 0),
				events.NewAgentResponseReceived("m2", "turn-1", "hi", "", 0),
			},
			final: Speaking,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			s := connectedState()
			s, _ = apply(s, events.NewTextSubmitted("turn-1", "user-1", "agent-1", "hello"))
			s, _ = apply(s, testCase.events...)

			if s.Turn != testCase.final {
				t.Fatalf("expected %s, got %s", testCase.final, s.Turn)
			}
			messages := agentMessages(s)
			if len(messages) != 1 {
				t.Fatalf("expected exactly one agent message, got %+v", messages)
			}
			if messages[0].ID != "agent-1" || messages[0].Content != "hi" {
				t.Fatalf("unexpected agent message %+v", messages[0])
			}
		})
	}
}

func TestEmptyRecordingWarnsAndReturnsToIdle(t *testing.T) {
	noRecording := errors.New("no recording")
	s := connectedState()
	s, _ = apply(s, events.NewRecordingRequested("turn-1"), events.NewRecordingStopRequested())

	s, effects := apply(s, events.NewRecordingEmpty("turn-1", noRecording))
	if s.Turn != Idle {
		t.Fatalf("expected idle, got %s", s.Turn)
	}
	if countEffects[SendVoice](effects) != 0 {
		t.Fatalf("expected no voice message, got %#v", effects)
	}
	if countEffects[EmitError](effects) != 0 {
		t.Fatalf("expected no error, got %#v", effects)
	}

	warned := false
	for _, effect := range effects {
		if warning, ok := effect.(EmitWarning); ok && errors.Is(warning.Err, noRecording) {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected no-recording warning, got %#v", effects)
	}
}

func TestVoiceTurnSendsRecordingAndAppendsUserMessage(t *testing.T) {
	s := connectedState()
	s, effects := apply(s, events.NewRecordingRequested("turn-1"))
	if countEffects[StartPublishing](effects) != 1 || countEffects[StartRecorder](effects) != 1 || countEffects[SendStartVoiceSession](effects) != 1 {
		t.Fatalf("expected publishing, recorder and voice session, got %#v", effects)
	}

	s, effects = apply(s, events.NewRecordingStopRequested())
	if countEffects[StopPublishing](effects) != 1 || countEffects[FinalizeRecorder](effects) != 1 {
		t.Fatalf("expected publishing stop and recorder finalize, got %#v", effects)
	}

	s, effects = apply(s, events.NewRecordingFinalized("turn-1", "user-1", "agent-1", []byte{1, 2, 3, 4}, "audio/l16", 16000, 1500*time.Millisecond))
	if countEffects[SendVoice](effects) != 1 {
		t.Fatalf("expected voice message, got %#v", effects)
	}
	if len(s.History) != 1 || s.History[0].Modality != ModalityAudio {
		t.Fatalf("expected user audio message, got %+v", s.History)
	}
}

func TestProcessingTimeoutPassesThroughErrorToIdle(t *testing.T) {
	s := connectedState()
	s, _ = apply(s, events.NewTextSubmitted("turn-1", "user-1", "agent-1", "hello"))

	s, effects := apply(s, events.NewProcessingTimedOut("turn-1"))
	if s.Turn != Idle {
		t.Fatalf("expected idle, got %s", s.Turn)
	}
	if got := statuses(effects); !slices.Equal(got, []Turn{Error, Idle}) {
		t.Fatalf("expected error then idle, got %v", got)
	}
	if countEffects[EmitError](effects) != 1 || s.LastError != ErrRemoteTimeout.Error() {
		t.Fatalf("expected remote timeout error, got %#v", effects)
	}
	if s.Pending != nil {
		t.Fatalf("expected placeholder to be dropped")
	}

	for _, turnID := range []string{"turn-1", ""} {
		var lateEffects []Effect
		s, lateEffects = apply(s, events.NewAgentResponseReceived("late", turnID, "late", "", 0))
		if len(agentMessages(s)) != 0 || len(lateEffects) != 0 {
			t.Fatalf("expected reply %q after timeout to be dropped, got %+v", turnID, s.History)
		}
	}
	s, effects = apply(s, events.NewRemoteTrackAvailable("agent"))
	if s.Turn != Idle || countEffects[StopRemotePlayback](effects) != 1 {
		t.Fatalf("expected late audio after timeout to be stopped, got %s %#v", s.Turn, effects)
	}

	s, _ = apply(s, events.NewTextSubmitted("turn-2", "user-2", "agent-2", "again"))
	if s.Turn != Processing || s.LastError != "" {
		t.Fatalf("expected retry to start processing, got %s (%q)", s.Turn, s.LastError)
	}
}

func TestRetryAfterTimeoutStartsFromIdle(t *testing.T) {
	s := Initial()
	s, _ = apply(s,
		events.NewMediaConnectionChanged(true, nil),
		events.NewSignalingConnectionChanged(true, false, 0, nil),
		events.NewTextSubmitted("turn-1", "user-1", "agent-1", "hello"),
	)

	var observed []Turn
	for _, event := range []events.Event{
		events.NewProcessingTimedOut("turn-1"),
		events.NewRecordingRequested("turn-2"),
		events.NewRecordingStopRequested(),
	} {
		var effects []Effect
		s, effects = Reduce(s, event)
		observed = append(observed, statuses(effects)...)
	}

	want := []Turn{Error, Idle, Listening, Processing}
	if !slices.Equal(observed, want) {
		t.Fatalf("expected %v, got %v", want, observed)
	}
}

func TestAgentErrorWhileProcessingSettlesAtIdle(t *testing.T) {
	s := connectedState()
	s, _ = apply(s, events.NewTextSubmitted("turn-1", "user-1", "agent-1", "hello"))

	s, effects := apply(s, events.NewAgentErrorReceived("model unavailable"))
	if got := statuses(effects); !slices.Equal(got, []Turn{Error, Idle}) {
		t.Fatalf("expected error then idle, got %v", got)
	}
	if countEffects[CancelProcessingTimer](effects) != 1 || countEffects[EmitError](effects) != 1 {
		t.Fatalf("expected timer cancel and error, got %#v", effects)
	}
	if s.Turn != Idle || s.Pending != nil {
		t.Fatalf("expected idle without placeholder, got %s %+v", s.Turn, s.Pending)
	}
}

func TestStaleTimeoutIsIgnored(t *testing.T) {
	s := connectedState()
	s, _ = apply(s, events.NewTextSubmitted("turn-1", "user-1", "agent-1", "hello"))

	s, effects := apply(s, events.NewProcessingTimedOut("turn-0"))
	if s.Turn != Processing || len(effects) != 0 {
		t.Fatalf("expected stale timeout to be ignored, got %s %#v", s.Turn, effects)
	}
}

func TestConnectionLossStopsActivityAndRecovers(t *testing.T) {
	s := connectedState()
	s, _ = apply(s, events.NewRecordingRequested("turn-1"))

	s, effects := apply(s, events.NewSignalingConnectionChanged(false, false, 1, errors.New("closed")))
	if s.Turn != Error {
		t.Fatalf("expected error, got %s", s.Turn)
	}
	if countEffects[StopPublishing](effects) != 1 || countEffects[DiscardRecorder](effects) != 1 {
		t.Fatalf("expected publishing and recording to stop, got %#v", effects)
	}
	var lost *ConnectionLostError
	for _, effect := range effects {
		if emitted, ok := effect.(EmitError); ok {
			errors.As(emitted.Err, &lost)
		}
	}
	if lost == nil || lost.Transport != "signaling" {
		t.Fatalf("expected signaling connection lost error, got %#v", effects)
	}

	s, _ = apply(s, events.NewSignalingConnectionChanged(true, false, 1, nil))
	if s.Turn != Idle || s.LastError != "" {
		t.Fatalf("expected idle after reconnect, got %s (%q)", s.Turn, s.LastError)
	}
}

func TestTerminalDisconnectRequiresReinitialize(t *testing.T) {
	s := connectedState()
	s, _ = apply(s, events.NewSignalingConnectionChanged(false, false, 1, nil))
	s, effects := apply(s, events.NewSignalingConnectionChanged(false, true, 5, nil))
	if s.Turn != Error || countEffects[EmitError](effects) != 1 {
		t.Fatalf("expected terminal error to be surfaced, got %s %#v", s.Turn, effects)
	}

	s, effects = apply(s, events.NewRecordingRequested("turn-1"))
	if s.Turn != Error || countEffects[StartPublishing](effects) != 0 {
		t.Fatalf("expected recording to be refused while disconnected, got %s %#v", s.Turn, effects)
	}
}

func TestHealthChangesBeforeConnectDoNotError(t *testing.T) {
	s := Initial()
	s, effects := apply(s, events.NewMediaConnectionChanged(true, nil))
	if s.Turn != Idle || len(effects) != 0 {
		t.Fatalf("expected idle while connecting, got %s %#v", s.Turn, effects)
	}
	s, _ = apply(s, events.NewSignalingConnectionChanged(true, false, 0, nil))
	if !s.Health.FullyConnected() {
		t.Fatalf("expected fully connected")
	}
}

func TestRemoteAudioWhileListeningIsStopped(t *testing.T) {
	s := connectedState()
	s, _ = apply(s, events.NewRecordingRequested("turn-1"))

	s, effects := apply(s, events.NewRemoteTrackAvailable("agent"))
	if s.Turn != Listening || countEffects[StopRemotePlayback](effects) != 1 {
		t.Fatalf("expected listening to win over remote audio, got %s %#v", s.Turn, effects)
	}
}

func TestSpeakingTimerEndsTextOnlyReply(t *testing.T) {
	s := connectedState()
	s, _ = apply(s,
		events.NewTextSubmitted("turn-1", "user-1", "agent-1", "hello"),
		events.NewAgentResponseReceived("m", "turn-1", "hi", "", 2*time.Second),
		events.NewAgentStatusReceived(StatusConnected),
	)
	if s.Turn != Speaking {
		t.Fatalf("expected reply to keep speaking until its duration elapses, got %s", s.Turn)
	}

	s, _ = apply(s, events.NewSpeakingTimedOut("turn-1"))
	if s.Turn != Idle {
		t.Fatalf("expected idle after speaking timer, got %s", s.Turn)
	}
}

func TestAgentStatusIdleEndsSpeaking(t *testing.T) {
	s := connectedState()
	s, _ = apply(s,
		events.NewTextSubmitted("turn-1", "user-1", "agent-1", "hello"),
		events.NewAgentStatusReceived(StatusSpeaking),
	)
	if s.Turn != Speaking {
		t.Fatalf("expected speaking, got %s", s.Turn)
	}

	s, _ = apply(s, events.NewAgentStatusReceived(StatusIdle))
	if s.Turn != Idle {
		t.Fatalf("expected idle, got %s", s.Turn)
	}
}

func TestReduceDoesNotAliasHistory(t *testing.T) {
	base := connectedState()
	base, _ = apply(base, events.NewTextSubmitted("turn-1", "user-1", "agent-1", "hello"))
	base, _ = apply(base, events.NewAgentResponseReceived("m", "turn-1", "hi", "", 0), events.NewRemotePlaybackEnded("agent"))

	first, _ := apply(base, events.NewTextSubmitted("turn-2", "a", "b", "first"))
	second, _ := apply(base, events.NewTextSubmitted("turn-3", "c", "d", "second"))

	if first.History[2].Content != "first" || second.History[2].Content != "second" {
		t.Fatalf("expected independent histories, got %+v and %+v", first.History, second.History)
	}
	if len(base.History) != 2 {
		t.Fatalf("expected base history to be untouched, got %+v", base.History)
	}
}

func turnIDFor(n int) string {
	return fmt.Sprintf("turn-%d", n)
}

func containsTurn(turns []Turn, turn Turn) bool {
	for _, candidate := range turns {
		if candidate == turn {
			return true
		}
	}
	return false
}
