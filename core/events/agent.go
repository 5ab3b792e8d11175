package events

import "time"

const (
	KindAgentStatusReceived   Kind = "agent.status"
	KindAgentResponseReceived Kind = "agent.response"
	KindAgentErrorReceived    Kind = "agent.error"
)

type AgentStatusReceived struct {
	Base
	Status string
}

func NewAgentStatusReceived(status string) AgentStatusReceived {
	return AgentStatusReceived{Base: NewBase(KindAgentStatusReceived), Status: status}
}

// AgentResponseReceived carries agent content. TurnID is empty when the agent
// does not echo turn correlation. MessageID is allocated by the receiver.
type AgentResponseReceived struct {
	Base
	MessageID string
	TurnID    string
	Text      string
	AudioURL  string
	Duration  time.Duration
}

func NewAgentResponseReceived(messageID, turnID, text, audioURL string, duration time.Duration) AgentResponseReceived {
	return AgentResponseReceived{
		Base:      NewBase(KindAgentResponseReceived),
		MessageID: messageID,
		TurnID:    turnID,
		Text:      text,
		AudioURL:  audioURL,
		Duration:  duration,
	}
}

type AgentErrorReceived struct {
	Base
	Message string
}

func NewAgentErrorReceived(message string) AgentErrorReceived {
	return AgentErrorReceived{Base: NewBase(KindAgentErrorReceived), Message: message}
}
