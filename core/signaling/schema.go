package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

var payloads = map[string]any{
	TypeInitialize:        InitializePayload{},
	TypeTextMessage:       TextMessagePayload{},
	TypeStartVoiceSession: StartVoiceSessionPayload{},
	TypeVoiceMessage:      VoiceMessagePayload{},
	TypeImageUpload:       ImageUploadPayload{},
	TypeInterrupt:         InterruptPayload{},
	TypePing:              PingPayload{},
	TypeInitialized:       InitializedPayload{},
	TypeAgentStatus:       AgentStatusPayload{},
	TypeAgentResponse:     AgentResponsePayload{},
	TypeError:             ErrorPayload{},
}

// Schema describes the wire protocol as JSON schema: the envelope plus one
// payload schema per message type.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}

	document := struct {
		Envelope *jsonschema.Schema            `json:"envelope"`
		Payloads map[string]*jsonschema.Schema `json:"payloads"`
	}{
		Envelope: reflector.Reflect(Envelope{}),
		Payloads: map[string]*jsonschema.Schema{},
	}
	for messageType, payload := range payloads {
		document.Payloads[messageType] = reflector.Reflect(payload)
	}

	data, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode protocol schema: %w", err)
	}
	return data, nil
}
