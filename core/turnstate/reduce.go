package turnstate

import (
	"fmt"
	"time"

	"github.com/JSluo888/MedJourney-sub000/core/events"
)

// Agent status values carried by agent_status messages. StatusConnected is
// sent by the agent once it has finished producing a reply.
const (
	StatusIdle       = "idle"
	StatusConnected  = "connected"
	StatusListening  = "listening"
	StatusProcessing = "processing"
	StatusSpeaking   = "speaking"
)

// Reduce applies one event to the state. Unknown events leave the state
// untouched.
func Reduce(s State, event events.Event) (State, []Effect) {
	switch e := event.(type) {
	case events.RecordingRequested:
		return reduceRecordingRequested(s, e)
	case events.RecordingStopRequested:
		return reduceRecordingStopRequested(s)
	case events.RecordingFinalized:
		return reduceRecordingFinalized(s, e)
	case events.RecordingEmpty:
		return reduceRecordingEmpty(s, e)
	case events.RecordingFailed:
		return s, []Effect{EmitWarning{Err: e.Err}}
	case events.TextSubmitted:
		message := Message{
			ID:        e.MessageID,
			Origin:    OriginUser,
			Modality:  ModalityText,
			Content:   e.Text,
			Timestamp: e.Timestamp(),
		}
		return submitTurn(s, e.TurnID, message, e.PlaceholderID, SendText{TurnID: e.TurnID, Text: e.Text})
	case events.ImageSubmitted:
		message := Message{
			ID:        e.MessageID,
			Origin:    OriginUser,
			Modality:  ModalityImage,
			Content:   e.FileName,
			Timestamp: e.Timestamp(),
		}
		return submitTurn(s, e.TurnID, message, e.PlaceholderID, SendImage{TurnID: e.TurnID, FileName: e.FileName, Data: e.Data})
	case events.InterruptRequested:
		return reduceInterrupt(s, e)
	case events.AgentStatusReceived:
		return reduceAgentStatus(s, e)
	case events.AgentResponseReceived:
		return reduceAgentResponse(s, e)
	case events.AgentErrorReceived:
		return reduceAgentError(s, e)
	case events.RemoteTrackAvailable:
		return reduceRemoteTrack(s)
	case events.RemotePlaybackEnded:
		if s.Turn != Speaking {
			return s, nil
		}
		return finishSpeaking(s, nil)
	case events.ProcessingTimedOut:
		if s.Turn != Processing || e.TurnID != s.ActiveTurnID {
			return s, nil
		}
		// the timed out reply may still arrive untagged
		s.DropUntagged = true
		return failTurn(s, ErrRemoteTimeout, nil)
	case events.SpeakingTimedOut:
		if s.Turn != Speaking || e.TurnID != s.ActiveTurnID || s.AudioStarted {
			return s, nil
		}
		return finishSpeaking(s, nil)
	case events.MediaConnectionChanged:
		next := s
		next.Health.MediaConnected = e.Connected
		var cause error
		if !e.Connected {
			cause = &ConnectionLostError{Transport: "media", Err: e.Err}
		}
		return applyHealth(s, next, cause)
	case events.SignalingConnectionChanged:
		next := s
		next.Health.SignalingConnected = e.Connected
		next.Health.ReconnectAttempts = e.Attempts
		next.Health.Terminal = e.Terminal
		var cause error
		if !e.Connected {
			cause = &ConnectionLostError{Transport: "signaling", Terminal: e.Terminal, Attempts: e.Attempts, Err: e.Err}
		}
		return applyHealth(s, next, cause)
	}
	return s, nil
}

func transition(s State, turn Turn, effects []Effect) (State, []Effect) {
	if s.Turn == turn {
		return s, effects
	}
	s.Turn = turn
	return s, append(effects, EmitStatus{Turn: turn})
}

func canAct(s State) bool {
	return s.Health.FullyConnected() && !s.Health.Terminal
}

func placeholder(id string, timestamp time.Time) *Message {
	return &Message{
		ID:        id,
		Origin:    OriginAgent,
		Modality:  ModalityText,
		Content:   ThinkingContent,
		Timestamp: timestamp,
	}
}

func reduceRecordingRequested(s State, e events.RecordingRequested) (State, []Effect) {
	switch s.Turn {
	case Listening:
		return s, nil
	case Processing, Speaking:
		return s, []Effect{EmitWarning{Err: ErrAgentBusy}}
	}
	if !canAct(s) {
		return s, []Effect{EmitWarning{Err: ErrNotConnected}}
	}

	s = s.startTurn(e.TurnID)
	s.LastError = ""
	return transition(s, Listening, []Effect{
		StartPublishing{},
		StartRecorder{TurnID: e.TurnID},
		SendStartVoiceSession{TurnID: e.TurnID},
	})
}

func reduceRecordingStopRequested(s State) (State, []Effect) {
	if s.Turn != Listening {
		return s, nil
	}
	return transition(s, Processing, []Effect{
		StopPublishing{},
		FinalizeRecorder{TurnID: s.ActiveTurnID},
		StartProcessingTimer{TurnID: s.ActiveTurnID},
	})
}

func reduceRecordingFinalized(s State, e events.RecordingFinalized) (State, []Effect) {
	if s.Turn != Processing || e.TurnID != s.ActiveTurnID || s.Pending != nil || s.ResponseReceived {
		return s, nil
	}

	message := Message{
		ID:        e.MessageID,
		Origin:    OriginUser,
		Modality:  ModalityAudio,
		Content:   fmt.Sprintf("voice message (%.1fs)", e.Duration.Seconds()),
		Timestamp: e.Timestamp(),
	}
	s = s.appendMessage(message)
	s.Pending = placeholder(e.PlaceholderID, e.Timestamp())

	return s, []Effect{
		EmitMessage{Message: message},
		SendVoice{TurnID: e.TurnID, Audio: e.Audio, MimeType: e.MimeType, SampleRate: e.SampleRate},
	}
}

func reduceRecordingEmpty(s State, e events.RecordingEmpty) (State, []Effect) {
	if s.Turn != Processing || e.TurnID != s.ActiveTurnID || s.Pending != nil {
		return s, nil
	}
	s.ActiveTurnID = ""
	return transition(s, Idle, []Effect{CancelProcessingTimer{}, EmitWarning{Err: e.Err}})
}

func submitTurn(s State, turnID string, message Message, placeholderID string, send Effect) (State, []Effect) {
	switch s.Turn {
	case Processing, Speaking:
		return s, []Effect{EmitWarning{Err: ErrAgentBusy}}
	}
	if !canAct(s) {
		return s, []Effect{EmitWarning{Err: ErrNotConnected}}
	}

	var effects []Effect
	if s.Turn == Listening {
		effects = append(effects, StopPublishing{}, DiscardRecorder{})
	}

	s = s.startTurn(turnID)
	s.LastError = ""
	s = s.appendMessage(message)
	s.Pending = placeholder(placeholderID, message.Timestamp)

	effects = append(effects,
		EmitMessage{Message: message},
		send,
		StartProcessingTimer{TurnID: turnID},
	)
	return transition(s, Processing, effects)
}

func reduceInterrupt(s State, e events.InterruptRequested) (State, []Effect) {
	effects := []Effect{StopRemotePlayback{}}
	if !canAct(s) || s.Turn == Listening {
		return s, effects
	}

	effects = append(effects, CancelProcessingTimer{}, CancelSpeakingTimer{})
	if s.Turn == Processing || s.Turn == Speaking {
		s.DropUntagged = true
		effects = append(effects, SendInterrupt{TurnID: s.ActiveTurnID})
	}

	s = s.startTurn(e.TurnID)
	s.LastError = ""
	effects = append(effects,
		StartPublishing{},
		StartRecorder{TurnID: e.TurnID},
		SendStartVoiceSession{TurnID: e.TurnID},
	)
	return transition(s, Listening, effects)
}

func reduceAgentStatus(s State, e events.AgentStatusReceived) (State, []Effect) {
	switch e.Status {
	case StatusSpeaking:
		if s.Turn != Processing || s.DropUntagged {
			return s, nil
		}
		return transition(s, Speaking, []Effect{
			CancelProcessingTimer{},
			StartSpeakingTimer{TurnID: s.ActiveTurnID, Duration: DefaultResponseDuration},
		})
	case StatusIdle:
		s.DropUntagged = false
		if s.Turn != Speaking {
			return s, nil
		}
		return finishSpeaking(s, []Effect{CancelSpeakingTimer{}})
	case StatusConnected:
		s.DropUntagged = false
		// connected follows the reply immediately; a reply that is still
		// being played ends on playback end or its announced duration.
		if s.Turn != Speaking || s.ResponseReceived || s.AudioStarted {
			return s, nil
		}
		return finishSpeaking(s, []Effect{CancelSpeakingTimer{}})
	case StatusListening:
		s.DropUntagged = false
		return s, nil
	}
	return s, nil
}

// accepts reports whether a reply belongs to the turn being awaited, and
// whether it should be merged into a turn whose audio already finished.
func accepts(s State, e events.AgentResponseReceived) (accepted bool) {
	if e.TurnID != "" && e.TurnID != s.ActiveTurnID {
		return false
	}
	if e.TurnID == "" && s.DropUntagged {
		return false
	}
	if s.ResponseReceived && (e.TurnID != "" || s.Turn != Idle) {
		return false
	}

	switch s.Turn {
	case Processing, Speaking:
		return true
	case Idle:
		if e.TurnID != "" {
			return s.AudioStarted
		}
		return true
	}
	return false
}

func reduceAgentResponse(s State, e events.AgentResponseReceived) (State, []Effect) {
	if !accepts(s, e) {
		return s, nil
	}

	lateText := s.Turn == Idle && s.AudioStarted && !s.ResponseReceived
	if s.Turn == Idle && !lateText {
		// unsolicited reply such as a greeting starts its own turn
		s = s.startTurn(e.TurnID)
	}

	message := Message{
		ID:             e.MessageID,
		Origin:         OriginAgent,
		Modality:       ModalityText,
		Content:        e.Text,
		Timestamp:      e.Timestamp(),
		AudioReference: e.AudioURL,
	}
	if s.Pending != nil {
		message.ID = s.Pending.ID
	}
	if e.AudioURL != "" || s.AudioStarted {
		message.Modality = ModalityAudio
	}

	s = s.appendMessage(message)
	s.Pending = nil
	s.ResponseReceived = true

	effects := []Effect{CancelProcessingTimer{}, EmitMessage{Message: message}}
	if lateText {
		return s, effects
	}
	if !s.AudioStarted {
		duration := e.Duration
		if duration <= 0 {
			duration = DefaultResponseDuration
		}
		effects = append(effects, StartSpeakingTimer{TurnID: s.ActiveTurnID, Duration: duration})
	}
	return transition(s, Speaking, effects)
}

func reduceAgentError(s State, e events.AgentErrorReceived) (State, []Effect) {
	err := &AgentError{Message: e.Message}
	if s.Turn != Processing {
		return s, []Effect{EmitError{Err: err}}
	}
	return failTurn(s, err, []Effect{CancelProcessingTimer{}})
}

// failTurn surfaces err for the active turn. The connection is still healthy,
// so the machine passes through error and settles at idle.
func failTurn(s State, err error, effects []Effect) (State, []Effect) {
	s.Pending = nil
	s.LastError = err.Error()
	s, effects = transition(s, Error, append(effects, EmitError{Err: err}))
	if !canAct(s) {
		return s, effects
	}
	return transition(s, Idle, effects)
}

func reduceRemoteTrack(s State) (State, []Effect) {
	switch s.Turn {
	case Listening, Error:
		return s, []Effect{StopRemotePlayback{}}
	case Processing:
		if s.DropUntagged {
			return s, []Effect{StopRemotePlayback{}}
		}
		s.AudioStarted = true
		return transition(s, Speaking, []Effect{CancelProcessingTimer{}})
	case Speaking:
		s.AudioStarted = true
		return s, []Effect{CancelSpeakingTimer{}}
	case Idle:
		if s.DropUntagged {
			return s, []Effect{StopRemotePlayback{}}
		}
		s = s.startTurn("")
		s.AudioStarted = true
		return transition(s, Speaking, nil)
	}
	return s, nil
}

func finishSpeaking(s State, effects []Effect) (State, []Effect) {
	// the placeholder survives when the audio finished ahead of its text
	if s.ResponseReceived || !s.AudioStarted {
		s.Pending = nil
	}
	return transition(s, Idle, effects)
}

// applyHealth moves to error when the connection stops being fully connected
// and back to idle once it is restored.
func applyHealth(prev, next State, cause error) (State, []Effect) {
	wasConnected := canAct(prev)
	connected := canAct(next)

	if !connected {
		active := next.Turn == Listening || next.Turn == Processing || next.Turn == Speaking
		terminalNow := next.Health.Terminal && !prev.Health.Terminal
		if !wasConnected && !active && !terminalNow {
			return next, nil
		}

		var effects []Effect
		switch next.Turn {
		case Listening:
			effects = append(effects, StopPublishing{}, DiscardRecorder{})
		case Processing:
			effects = append(effects, CancelProcessingTimer{})
		case Speaking:
			effects = append(effects, StopRemotePlayback{}, CancelSpeakingTimer{})
		}
		if cause == nil {
			cause = ErrNotConnected
		}
		next = next.startTurn("")
		next.LastError = cause.Error()
		effects = append(effects, EmitError{Err: cause})
		return transition(next, Error, effects)
	}

	if !wasConnected && next.Turn == Error {
		next.LastError = ""
		return transition(next, Idle, nil)
	}
	return next, nil
}
