package orchestration

import (
	"time"

	"github.com/JSluo888/MedJourney-sub000/core/signaling"
	"github.com/JSluo888/MedJourney-sub000/core/turnstate"
	"github.com/jinzhu/copier"
)

type (
	TurnState           = turnstate.Turn
	ConversationMessage = turnstate.Message
	ConnectionHealth    = turnstate.Health
	MessageOrigin       = turnstate.Origin
	MessageModality     = turnstate.Modality
)

const (
	StateIdle       = turnstate.Idle
	StateListening  = turnstate.Listening
	StateProcessing = turnstate.Processing
	StateSpeaking   = turnstate.Speaking
	StateError      = turnstate.Error

	OriginUser  = turnstate.OriginUser
	OriginAgent = turnstate.OriginAgent

	ModalityText  = turnstate.ModalityText
	ModalityAudio = turnstate.ModalityAudio
	ModalityImage = turnstate.ModalityImage
)

// Conversation is a point-in-time copy of the conversation. It shares no
// memory with the orchestrator.
type Conversation struct {
	State   TurnState
	History []ConversationMessage
	// Pending is the placeholder of the reply being waited for.
	Pending   *ConversationMessage
	Health    ConnectionHealth
	LastError string
}

// SessionStatus describes the session the orchestrator is attached to.
type SessionStatus struct {
	SessionID string
	UserID    string
	Channel   string
	CreatedAt time.Time

	Health    ConnectionHealth
	Signaling signaling.State
}

// snapshotOf copies the history into a fresh slice. Messages hold only
// values, so copying the elements is enough to share nothing.
func snapshotOf(state turnstate.State) (Conversation, error) {
	conversation := Conversation{
		State:     state.Turn,
		Health:    state.Health,
		LastError: state.LastError,
	}
	if len(state.History) > 0 {
		if err := copier.Copy(&conversation.History, state.History); err != nil {
			return Conversation{}, err
		}
	}
	if state.Pending != nil {
		pending := *state.Pending
		conversation.Pending = &pending
	}
	return conversation, nil
}
