// Package fakeagent is an in-process agent backend for tests and demos. It
// speaks the signaling protocol on /conversation/{sessionId}, relays media on
// /media/{channel} and answers the session REST API on /api/sessions.
package fakeagent

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JSluo888/MedJourney-sub000/core/signaling"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/JSluo888/MedJourney-sub000/internal/fakeagent"

var logger = otelslog.NewLogger(scopeName)

// AgentUID is the media participant id the agent speaks as.
const AgentUID = "agent"

type Option func(*Agent)

// WithResponseDelay sets how long the agent "thinks" before answering.
func WithResponseDelay(delay time.Duration) Option {
	return func(a *Agent) {
		a.responseDelay = delay
	}
}

// WithReply replaces the default echo reply.
func WithReply(reply func(input string) string) Option {
	return func(a *Agent) {
		a.reply = reply
	}
}

// WithSpeech makes the agent speak its replies over the media relay for the
// given duration.
func WithSpeech(duration time.Duration) Option {
	return func(a *Agent) {
		a.speechDuration = duration
	}
}

// WithTurnEcho controls whether replies carry the turnId they answer.
func WithTurnEcho(echo bool) Option {
	return func(a *Agent) {
		a.echoTurn = echo
	}
}

type Agent struct {
	responseDelay  time.Duration
	speechDuration time.Duration
	echoTurn       bool
	reply          func(input string) string

	upgrader websocket.Upgrader
	relay    *relay
	mux      *http.ServeMux

	mu       sync.Mutex
	silent   bool
	reject   bool
	dials    int
	sessions map[string]*conversation
	received []signaling.Envelope
	rest     map[string]string
}

func New(opts ...Option) *Agent {
	a := &Agent{
		responseDelay: 20 * time.Millisecond,
		echoTurn:      true,
		reply: func(input string) string {
			return "You said: " + input
		},
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		sessions: map[string]*conversation{},
		rest:     map[string]string{},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.relay = newRelay(&a.upgrader)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversation/{sessionId}", a.serveConversation)
	mux.HandleFunc("GET /media/{channel}", a.relay.serve)
	mux.HandleFunc("POST /api/sessions", a.createSession)
	mux.HandleFunc("DELETE /api/sessions/{sessionId}", a.deleteSession)
	a.mux = mux
	return a
}

func (a *Agent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// SetSilent stops the agent from answering conversation messages. Handshake
// and heartbeat keep working.
func (a *Agent) SetSilent(silent bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.silent = silent
}

// SetReject makes new conversation connections fail with 503.
func (a *Agent) SetReject(reject bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reject = reject
}

// DropConnections closes every conversation socket without a close frame.
func (a *Agent) DropConnections() {
	a.mu.Lock()
	sessions := make([]*conversation, 0, len(a.sessions))
	for _, session := range a.sessions {
		sessions = append(sessions, session)
	}
	a.mu.Unlock()

	for _, session := range sessions {
		session.drop()
	}
}

// Received returns every envelope received so far, in arrival order.
func (a *Agent) Received() []signaling.Envelope {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]signaling.Envelope(nil), a.received...)
}

// ReceivedOfType filters Received by message type.
func (a *Agent) ReceivedOfType(messageType string) []signaling.Envelope {
	var matching []signaling.Envelope
	for _, envelope := range a.Received() {
		if envelope.Type == messageType {
			matching = append(matching, envelope)
		}
	}
	return matching
}

func (a *Agent) Dials() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dials
}

// Published reports whether uid is currently publishing audio on channel.
func (a *Agent) Published(channel, uid string) bool {
	return a.relay.published(channel, uid)
}

// AudioReceived is the number of audio bytes uid published on channel.
func (a *Agent) AudioReceived(channel, uid string) int {
	return a.relay.audioReceived(channel, uid)
}

func (a *Agent) serveConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")

	a.mu.Lock()
	a.dials++
	reject := a.reject
	a.mu.Unlock()
	if reject {
		http.Error(w, "agent unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	session := newConversation(a, sessionID, ws)
	a.mu.Lock()
	if previous, ok := a.sessions[sessionID]; ok {
		previous.drop()
	}
	a.sessions[sessionID] = session
	a.mu.Unlock()

	session.run()

	a.mu.Lock()
	if a.sessions[sessionID] == session {
		delete(a.sessions, sessionID)
	}
	a.mu.Unlock()
}

func (a *Agent) record(envelope signaling.Envelope) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.received = append(a.received, envelope)
}

func (a *Agent) isSilent() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.silent
}

type createSessionRequest struct {
	UserID string `json:"userId"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
	Channel   string `json:"channel"`
	UserID    string `json:"userId"`
}

func (a *Agent) createSession(w http.ResponseWriter, r *http.Request) {
	var request createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	sessionID := uuid.NewString()
	a.mu.Lock()
	a.rest[sessionID] = request.UserID
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createSessionResponse{
		SessionID: sessionID,
		Channel:   fmt.Sprintf("channel-%s", sessionID),
		UserID:    request.UserID,
	})
}

func (a *Agent) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")

	a.mu.Lock()
	_, ok := a.rest[sessionID]
	delete(a.rest, sessionID)
	a.mu.Unlock()

	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
