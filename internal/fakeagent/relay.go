package fakeagent

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/JSluo888/MedJourney-sub000/core/media/wsrelay"
	"github.com/gorilla/websocket"
)

const speechFrame = 20 * time.Millisecond

type relay struct {
	upgrader *websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]map[string]*participant
}

type participant struct {
	uid string
	ws  *websocket.Conn

	writeMu sync.Mutex

	published     bool
	subscriptions map[string]bool
	audioBytes    int
}

func newRelay(upgrader *websocket.Upgrader) *relay {
	return &relay{upgrader: upgrader, rooms: map[string]map[string]*participant{}}
}

func (r *relay) serve(w http.ResponseWriter, req *http.Request) {
	channel := req.PathValue("channel")
	uid := req.URL.Query().Get("uid")
	if uid == "" || uid == AgentUID {
		http.Error(w, "a uid other than the agent's is required", http.StatusBadRequest)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logger.Warn("media upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	p := &participant{uid: uid, ws: ws, subscriptions: map[string]bool{}}
	defer r.remove(channel, p)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		if messageType == websocket.BinaryMessage {
			r.forward(channel, p, data)
			continue
		}

		var message wsrelay.ControlMessage
		if err := json.Unmarshal(data, &message); err != nil {
			p.writeControl(wsrelay.ControlMessage{Type: wsrelay.TypeError, Reason: "malformed control message"})
			continue
		}
		switch message.Type {
		case wsrelay.TypeJoin:
			r.join(channel, p)
		case wsrelay.TypePublish:
			r.setPublished(channel, p, true)
		case wsrelay.TypeUnpublish:
			r.setPublished(channel, p, false)
		case wsrelay.TypeSubscribe:
			r.mu.Lock()
			p.subscriptions[message.UID] = true
			r.mu.Unlock()
		case wsrelay.TypeLeave:
			return
		}
	}
}

func (r *relay) join(channel string, p *participant) {
	r.mu.Lock()
	room, ok := r.rooms[channel]
	if !ok {
		room = map[string]*participant{}
		r.rooms[channel] = room
	}
	room[p.uid] = p
	var publishers []string
	for uid, other := range room {
		if uid != p.uid && other.published {
			publishers = append(publishers, uid)
		}
	}
	r.mu.Unlock()

	p.writeControl(wsrelay.ControlMessage{Type: wsrelay.TypeJoined, Channel: channel, UID: p.uid})
	for _, uid := range publishers {
		p.writeControl(wsrelay.ControlMessage{Type: wsrelay.TypeUserPublished, UID: uid})
	}
}

func (r *relay) remove(channel string, p *participant) {
	r.mu.Lock()
	room := r.rooms[channel]
	if room[p.uid] == p {
		delete(room, p.uid)
	}
	wasPublished := p.published
	r.mu.Unlock()

	if wasPublished {
		r.broadcast(channel, p.uid, wsrelay.ControlMessage{Type: wsrelay.TypeUserUnpublished, UID: p.uid})
	}
}

func (r *relay) setPublished(channel string, p *participant, published bool) {
	r.mu.Lock()
	changed := p.published != published
	p.published = published
	r.mu.Unlock()
	if !changed {
		return
	}

	messageType := wsrelay.TypeUserUnpublished
	if published {
		messageType = wsrelay.TypeUserPublished
	}
	r.broadcast(channel, p.uid, wsrelay.ControlMessage{Type: messageType, UID: p.uid})
}

func (r *relay) forward(channel string, sender *participant, frame []byte) {
	uid, audio, err := wsrelay.DecodeAudioFrame(frame)
	if err != nil || uid != sender.uid {
		return
	}

	r.mu.Lock()
	sender.audioBytes += len(audio)
	var targets []*participant
	for _, p := range r.rooms[channel] {
		if p != sender && p.subscriptions[uid] {
			targets = append(targets, p)
		}
	}
	r.mu.Unlock()

	for _, p := range targets {
		p.write(websocket.BinaryMessage, frame)
	}
}

// speak plays a tone as the agent for duration or until ctx is done.
func (r *relay) speak(ctx context.Context, channel string, duration time.Duration) {
	r.broadcast(channel, AgentUID, wsrelay.ControlMessage{Type: wsrelay.TypeUserPublished, UID: AgentUID})
	defer r.broadcast(channel, AgentUID, wsrelay.ControlMessage{Type: wsrelay.TypeUserUnpublished, UID: AgentUID})

	ticker := time.NewTicker(speechFrame)
	defer ticker.Stop()

	tone := newTone(440, 8000)
	for elapsed := time.Duration(0); elapsed < duration; elapsed += speechFrame {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := wsrelay.EncodeAudioFrame(AgentUID, tone.next(speechFrame))
		r.mu.Lock()
		var targets []*participant
		for _, p := range r.rooms[channel] {
			if p.subscriptions[AgentUID] {
				targets = append(targets, p)
			}
		}
		r.mu.Unlock()

		for _, p := range targets {
			p.write(websocket.BinaryMessage, frame)
		}
	}
}

func (r *relay) broadcast(channel, from string, message wsrelay.ControlMessage) {
	r.mu.Lock()
	var targets []*participant
	for uid, p := range r.rooms[channel] {
		if uid != from {
			targets = append(targets, p)
		}
	}
	r.mu.Unlock()

	for _, p := range targets {
		p.writeControl(message)
	}
}

func (r *relay) published(channel, uid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rooms[channel][uid]
	return ok && p.published
}

func (r *relay) audioReceived(channel, uid string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.rooms[channel][uid]; ok {
		return p.audioBytes
	}
	return 0
}

func (p *participant) writeControl(message wsrelay.ControlMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}
	p.write(websocket.TextMessage, data)
}

func (p *participant) write(messageType int, data []byte) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = p.ws.WriteMessage(messageType, data)
}
