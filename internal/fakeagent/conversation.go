package fakeagent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/JSluo888/MedJourney-sub000/core/signaling"
	"github.com/gorilla/websocket"
)

// conversation is one signaling socket.
type conversation struct {
	agent     *Agent
	sessionID string
	ws        *websocket.Conn

	writeMu sync.Mutex

	mu         sync.Mutex
	channel    string
	cancelTurn context.CancelFunc
}

func newConversation(agent *Agent, sessionID string, ws *websocket.Conn) *conversation {
	return &conversation{agent: agent, sessionID: sessionID, ws: ws, channel: sessionID}
}

func (c *conversation) run() {
	defer c.cancel()
	defer c.ws.Close()

	// the greeting travels flat, without a data object
	c.writeRaw(map[string]string{
		"type":      signaling.TypeConnectionEstablished,
		"sessionId": c.sessionID,
		"status":    "connected",
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("conversation socket closed unexpectedly", "session_id", c.sessionID, "error", err)
			}
			return
		}

		envelope, err := signaling.DecodeEnvelope(data)
		if err != nil {
			c.send(signaling.TypeError, signaling.ErrorPayload{Error: "malformed message"})
			continue
		}
		c.agent.record(envelope)
		c.handle(envelope)
	}
}

func (c *conversation) handle(envelope signaling.Envelope) {
	switch envelope.Type {
	case signaling.TypeInitialize:
		var payload signaling.InitializePayload
		_ = envelope.Decode(&payload)
		c.mu.Lock()
		if payload.Channel != "" {
			c.channel = payload.Channel
		}
		c.mu.Unlock()
		c.send(signaling.TypeInitialized, signaling.InitializedPayload{SessionID: c.sessionID, Status: "connected"})

	case signaling.TypePing:
		c.send(signaling.TypePong, nil)

	case signaling.TypeTextMessage:
		var payload signaling.TextMessagePayload
		_ = envelope.Decode(&payload)
		c.respond(payload.TurnID, payload.Text)

	case signaling.TypeVoiceMessage:
		var payload signaling.VoiceMessagePayload
		_ = envelope.Decode(&payload)
		audio, err := base64.StdEncoding.DecodeString(payload.Audio)
		if err != nil || payload.SampleRate <= 0 {
			c.send(signaling.TypeError, signaling.ErrorPayload{Error: "unreadable voice message"})
			return
		}
		seconds := float64(len(audio)) / float64(payload.SampleRate*2)
		c.respond(payload.TurnID, fmt.Sprintf("a %.1f second voice message", seconds))

	case signaling.TypeImageUpload:
		var payload signaling.ImageUploadPayload
		_ = envelope.Decode(&payload)
		c.respond(payload.TurnID, "an image named "+payload.FileName)

	case signaling.TypeStartVoiceSession:
		c.send(signaling.TypeAgentStatus, signaling.AgentStatusPayload{Status: "listening"})

	case signaling.TypeInterrupt:
		c.cancel()
		c.send(signaling.TypeAgentStatus, signaling.AgentStatusPayload{Status: "listening"})

	default:
		c.send(signaling.TypeError, signaling.ErrorPayload{Error: "unsupported message type " + envelope.Type})
	}
}

// respond runs one reply turn: processing, speaking, the reply itself,
// optional speech on the media relay, then connected.
func (c *conversation) respond(turnID, input string) {
	if c.agent.isSilent() {
		return
	}

	c.cancel()
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancelTurn = cancel
	channel := c.channel
	c.mu.Unlock()

	if !c.agent.echoTurn {
		turnID = ""
	}

	go func() {
		defer cancel()

		c.send(signaling.TypeAgentStatus, signaling.AgentStatusPayload{Status: "processing"})
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.agent.responseDelay):
		}

		c.send(signaling.TypeAgentStatus, signaling.AgentStatusPayload{Status: "speaking"})
		response := signaling.AgentResponsePayload{Text: c.agent.reply(input), TurnID: turnID}
		if c.agent.speechDuration > 0 {
			response.Duration = int(c.agent.speechDuration / time.Millisecond)
		}
		c.send(signaling.TypeAgentResponse, response)

		if c.agent.speechDuration > 0 {
			c.agent.relay.speak(ctx, channel, c.agent.speechDuration)
		}
		if ctx.Err() != nil {
			return
		}
		c.send(signaling.TypeAgentStatus, signaling.AgentStatusPayload{Status: "connected"})
	}()
}

func (c *conversation) cancel() {
	c.mu.Lock()
	cancel := c.cancelTurn
	c.cancelTurn = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *conversation) drop() {
	c.cancel()
	_ = c.ws.Close()
}

func (c *conversation) send(messageType string, payload any) {
	envelope, err := signaling.NewEnvelope(messageType, payload, c.sessionID, time.Now())
	if err != nil {
		logger.Error("failed to encode reply", "type", messageType, "error", err)
		return
	}
	c.writeRaw(envelope)
}

func (c *conversation) writeRaw(message any) {
	data, err := json.Marshal(message)
	if err != nil {
		logger.Error("failed to encode frame", "error", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Debug("failed to write frame", "session_id", c.sessionID, "error", err)
	}
}
