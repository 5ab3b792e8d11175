package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Outbound message types.
const (
	TypeInitialize        = "initialize"
	TypeTextMessage       = "text_message"
	TypeStartVoiceSession = "start_voice_session"
	TypeVoiceMessage      = "voice_message"
	TypeImageUpload       = "image_upload"
	TypeInterrupt         = "interrupt"
	TypePing              = "ping"
)

// Inbound message types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeInitialized           = "initialized"
	TypeAgentStatus           = "agent_status"
	TypeAgentResponse         = "agent_response"
	TypeError                 = "error"
	TypePong                  = "pong"
)

// Envelope is the frame every message travels in. Timestamp is ISO8601.
type Envelope struct {
	Type      string          `json:"type" jsonschema:"required"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type InitializePayload struct {
	UserID  string `json:"userId" jsonschema:"required"`
	Channel string `json:"channel,omitempty"`
}

type TextMessagePayload struct {
	Text   string `json:"text" jsonschema:"required"`
	TurnID string `json:"turnId,omitempty"`
}

type StartVoiceSessionPayload struct {
	TurnID string `json:"turnId,omitempty"`
}

// VoiceMessagePayload carries one recorded utterance. Audio is base64.
type VoiceMessagePayload struct {
	Audio      string `json:"audio" jsonschema:"required,contentEncoding=base64"`
	MimeType   string `json:"mimeType" jsonschema:"required"`
	SampleRate int    `json:"sampleRate" jsonschema:"required"`
	TurnID     string `json:"turnId,omitempty"`
}

type ImageUploadPayload struct {
	FileName string `json:"fileName"`
	Image    string `json:"image" jsonschema:"required,contentEncoding=base64"`
	MimeType string `json:"mimeType,omitempty"`
	TurnID   string `json:"turnId,omitempty"`
}

type InterruptPayload struct {
	TurnID string `json:"turnId,omitempty"`
}

type PingPayload struct{}

type InitializedPayload struct {
	SessionID string `json:"sessionId,omitempty"`
	Status    string `json:"status,omitempty"`
}

type AgentStatusPayload struct {
	Status string `json:"status" jsonschema:"required,enum=idle,enum=connected,enum=listening,enum=processing,enum=speaking"`
}

// AgentResponsePayload is agent content. Duration is in milliseconds.
type AgentResponsePayload struct {
	Text     string `json:"text"`
	AudioURL string `json:"audioUrl,omitempty"`
	Duration int    `json:"duration,omitempty"`
	TurnID   string `json:"turnId,omitempty"`
}

func (p AgentResponsePayload) PlaybackDuration() time.Duration {
	return time.Duration(p.Duration) * time.Millisecond
}

type ErrorPayload struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func (p ErrorPayload) Text() string {
	if p.Error != "" {
		return p.Error
	}
	return p.Message
}

// NewEnvelope wraps payload for sending.
func NewEnvelope(messageType string, payload any, sessionID string, now time.Time) (Envelope, error) {
	envelope := Envelope{
		Type:      messageType,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
	}
	if payload == nil {
		return envelope, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", messageType, err)
	}
	envelope.Data = data
	return envelope, nil
}

// DecodeEnvelope parses an inbound frame. Frames that carry their fields at
// the top level instead of under data are accepted; the whole object is then
// used as the payload.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if envelope.Type == "" {
		return Envelope{}, fmt.Errorf("envelope has no type")
	}
	if len(envelope.Data) == 0 || bytes.Equal(envelope.Data, []byte("null")) {
		envelope.Data = json.RawMessage(frame)
	}
	return envelope, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}
