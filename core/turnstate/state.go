// Package turnstate holds the conversation turn-taking model as a pure
// reducer. Reduce never performs I/O: everything the caller has to do in
// response to an event is returned as an ordered list of effects.
package turnstate

import (
	"slices"
	"time"
)

type Turn string

const (
	Idle       Turn = "idle"
	Listening  Turn = "listening"
	Processing Turn = "processing"
	Speaking   Turn = "speaking"
	Error      Turn = "error"
)

type Origin string

const (
	OriginUser  Origin = "user"
	OriginAgent Origin = "agent"
)

type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
	ModalityImage Modality = "image"
)

// DefaultResponseDuration bounds the speaking phase of a reply that announces
// no duration and never produces a playback end.
const DefaultResponseDuration = 3 * time.Second

// ThinkingContent is the text of the placeholder shown while a reply is
// pending.
const ThinkingContent = "..."

// Message is one entry of the visible conversation history. Messages are never
// changed once appended.
type Message struct {
	ID             string    `json:"id"`
	Origin         Origin    `json:"origin"`
	Modality       Modality  `json:"modality"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	AudioReference string    `json:"audioReference,omitempty"`
}

type Health struct {
	MediaConnected     bool
	SignalingConnected bool
	ReconnectAttempts  int
	// Terminal is set once the signaling channel gave up reconnecting.
	Terminal bool
}

func (h Health) FullyConnected() bool {
	return h.MediaConnected && h.SignalingConnected
}

type State struct {
	Turn    Turn
	Health  Health
	History []Message
	// Pending is the thinking placeholder of the active turn. It is not part
	// of History until the reply replaces it.
	Pending *Message

	ActiveTurnID     string
	ResponseReceived bool
	AudioStarted     bool
	// DropUntagged discards replies without turn correlation after an
	// interrupt, until the agent reports it is done with the cancelled turn.
	DropUntagged bool

	LastError string
}

func Initial() State {
	return State{Turn: Idle}
}

func (s State) appendMessage(message Message) State {
	s.History = append(slices.Clip(s.History), message)
	return s
}

func (s State) startTurn(turnID string) State {
	s.ActiveTurnID = turnID
	s.Pending = nil
	s.ResponseReceived = false
	s.AudioStarted = false
	return s
}
