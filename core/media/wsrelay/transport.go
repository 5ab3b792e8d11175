// Package wsrelay implements media.Transport over a websocket audio relay.
// Control messages travel as JSON text frames; audio travels as binary frames
// tagged with the sender uid.
package wsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/JSluo888/MedJourney-sub000/core/audio"
	"github.com/JSluo888/MedJourney-sub000/core/media"
	"github.com/JSluo888/MedJourney-sub000/internal/wsconn"
	"github.com/gorilla/websocket"
)

var (
	_ media.Transport   = (*Transport)(nil)
	_ media.LocalTrack  = (*localTrack)(nil)
	_ media.RemoteTrack = (*remoteTrack)(nil)
)

var ErrForeignTrack = errors.New("track was not created by this transport")

type Transport struct {
	baseURL      string
	dialer       *websocket.Dialer
	header       http.Header
	joinTimeout  time.Duration
	pingInterval time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	uid      string
	events   media.TransportEvents
	state    media.ConnectionState
	leaving  bool
	priority chan wsconn.Frame
	normal   chan wsconn.Frame
	cancel   context.CancelFunc
	readDone chan struct{}
	remote   map[string]*remoteTrack
}

// New creates a transport for a relay rooted at baseURL. Channels are joined
// at baseURL/{channel}.
func New(baseURL string, opts ...TransportOption) *Transport {
	t := &Transport{
		baseURL:      strings.TrimRight(baseURL, "/"),
		dialer:       websocket.DefaultDialer,
		joinTimeout:  DefaultJoinTimeout,
		pingInterval: DefaultPingInterval,
		state:        media.ConnectionStateDisconnected,
		remote:       map[string]*remoteTrack{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Join(ctx context.Context, channel, uid string, events media.TransportEvents) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return fmt.Errorf("already joined")
	}
	t.events = events
	t.uid = uid
	t.leaving = false
	t.mu.Unlock()

	t.setState(media.ConnectionStateConnecting, "")

	endpoint := fmt.Sprintf("%s/%s?uid=%s", t.baseURL, url.PathEscape(channel), url.QueryEscape(uid))
	conn, _, err := t.dialer.DialContext(ctx, endpoint, t.header)
	if err != nil {
		t.setState(media.ConnectionStateDisconnected, err.Error())
		return fmt.Errorf("failed to dial media relay: %w", err)
	}

	if err := t.handshake(ctx, conn, channel, uid); err != nil {
		_ = conn.Close()
		t.setState(media.ConnectionStateDisconnected, err.Error())
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	priority := make(chan wsconn.Frame, 32)
	normal := make(chan wsconn.Frame, 64)
	readDone := make(chan struct{})

	t.mu.Lock()
	t.conn = conn
	t.priority = priority
	t.normal = normal
	t.cancel = cancel
	t.readDone = readDone
	t.mu.Unlock()

	writer := &wsconn.Writer{Conn: conn, Priority: priority, Normal: normal, PingInterval: t.pingInterval}
	go func() {
		if err := writer.Run(runCtx); err != nil {
			logger.Warn("media relay writer stopped", "error", err)
			_ = conn.Close()
		}
	}()
	go t.readLoop(conn, readDone)

	t.setState(media.ConnectionStateConnected, "")
	return nil
}

func (t *Transport) handshake(ctx context.Context, conn *websocket.Conn, channel, uid string) error {
	deadline := time.Now().Add(t.joinTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(ControlMessage{Type: TypeJoin, Channel: channel, UID: uid}); err != nil {
		return fmt.Errorf("failed to send join: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	_ = conn.SetReadDeadline(deadline)
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("media relay did not acknowledge join: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var message ControlMessage
		if err := json.Unmarshal(data, &message); err != nil {
			continue
		}
		switch message.Type {
		case TypeJoined:
			return nil
		case TypeError:
			return fmt.Errorf("media relay rejected join: %s", message.Reason)
		}
	}
}

func (t *Transport) Leave(ctx context.Context) error {
	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return nil
	}
	t.leaving = true
	cancel, readDone := t.cancel, t.readDone
	t.mu.Unlock()

	t.sendControl(ControlMessage{Type: TypeLeave})
	cancel()

	select {
	case <-readDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) CreateLocalAudioTrack(_ context.Context, cfg media.TrackConfig) (media.LocalTrack, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("no audio source for local track")
	}
	return &localTrack{transport: t, source: cfg.Source}, nil
}

func (t *Transport) Publish(ctx context.Context, track media.LocalTrack) error {
	local, ok := track.(*localTrack)
	if !ok || local.transport != t {
		return ErrForeignTrack
	}
	if err := local.start(ctx); err != nil {
		return err
	}
	t.sendControl(ControlMessage{Type: TypePublish})
	return nil
}

func (t *Transport) Unpublish(_ context.Context, track media.LocalTrack) error {
	local, ok := track.(*localTrack)
	if !ok || local.transport != t {
		return ErrForeignTrack
	}
	t.sendControl(ControlMessage{Type: TypeUnpublish})
	return local.stop()
}

func (t *Transport) Subscribe(_ context.Context, user media.RemoteUser) (media.RemoteTrack, error) {
	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return nil, media.ErrNotJoined
	}
	track := &remoteTrack{uid: user.UID}
	t.remote[user.UID] = track
	t.mu.Unlock()

	t.sendControl(ControlMessage{Type: TypeSubscribe, UID: user.UID})
	return track, nil
}

func (t *Transport) sendControl(message ControlMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		logger.Error("failed to encode control message", "type", message.Type, "error", err)
		return
	}

	t.mu.Lock()
	priority := t.priority
	t.mu.Unlock()
	if priority == nil {
		logger.Debug("dropping control message, not joined", "type", message.Type)
		return
	}

	select {
	case priority <- wsconn.Text(data):
	default:
		logger.Warn("dropping control message, queue full", "type", message.Type)
	}
}

func (t *Transport) sendAudio(frame []byte) {
	t.mu.Lock()
	normal, uid := t.normal, t.uid
	t.mu.Unlock()
	if normal == nil {
		return
	}

	select {
	case normal <- wsconn.Binary(EncodeAudioFrame(uid, frame)):
	default:
		// realtime audio is not worth queueing behind a slow link
	}
}

func (t *Transport) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	var readErr error
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}

		switch messageType {
		case websocket.BinaryMessage:
			t.routeAudio(data)
		case websocket.TextMessage:
			t.handleControl(data)
		}
	}

	t.mu.Lock()
	leaving := t.leaving
	t.conn = nil
	t.priority = nil
	t.normal = nil
	t.remote = map[string]*remoteTrack{}
	cancel := t.cancel
	t.mu.Unlock()
	cancel()

	reason := media.ReasonLeave
	if !leaving {
		reason = readErr.Error()
	}
	t.setState(media.ConnectionStateDisconnected, reason)
}

func (t *Transport) handleControl(data []byte) {
	var message ControlMessage
	if err := json.Unmarshal(data, &message); err != nil {
		logger.Warn("ignoring malformed control message", "error", err)
		return
	}

	t.mu.Lock()
	events := t.events
	t.mu.Unlock()

	switch message.Type {
	case TypeUserPublished:
		if events.OnUserPublished != nil {
			events.OnUserPublished(media.RemoteUser{UID: message.UID})
		}
	case TypeUserUnpublished:
		t.mu.Lock()
		delete(t.remote, message.UID)
		t.mu.Unlock()
		if events.OnUserUnpublished != nil {
			events.OnUserUnpublished(media.RemoteUser{UID: message.UID})
		}
	case TypeError:
		logger.Warn("media relay reported an error", "reason", message.Reason)
	default:
		logger.Debug("ignoring control message", "type", message.Type)
	}
}

func (t *Transport) routeAudio(frame []byte) {
	uid, data, err := DecodeAudioFrame(frame)
	if err != nil {
		logger.Warn("ignoring audio frame", "error", err)
		return
	}

	t.mu.Lock()
	track := t.remote[uid]
	t.mu.Unlock()
	if track != nil {
		track.deliver(data)
	}
}

func (t *Transport) setState(current media.ConnectionState, reason string) {
	t.mu.Lock()
	previous := t.state
	t.state = current
	onChange := t.events.OnConnectionStateChange
	t.mu.Unlock()

	if previous != current && onChange != nil {
		onChange(current, previous, reason)
	}
}

type localTrack struct {
	transport *Transport
	source    *audio.Source

	mu      sync.Mutex
	release func() error
	untap   func()
}

func (l *localTrack) start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.release != nil {
		return nil
	}
	untap := l.source.Tap(l.transport.sendAudio)
	release, err := l.source.Acquire(ctx)
	if err != nil {
		untap()
		return fmt.Errorf("failed to open microphone: %w", err)
	}
	l.release, l.untap = release, untap
	return nil
}

func (l *localTrack) stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.release == nil {
		return nil
	}
	l.untap()
	err := l.release()
	l.release, l.untap = nil, nil
	return err
}

func (l *localTrack) Close() error {
	return l.stop()
}

type remoteTrack struct {
	uid string

	mu     sync.Mutex
	output audio.Output
}

func (r *remoteTrack) Play(output audio.Output) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = output
	return nil
}

func (r *remoteTrack) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = nil
}

func (r *remoteTrack) deliver(data []byte) {
	r.mu.Lock()
	output := r.output
	r.mu.Unlock()
	if output == nil {
		return
	}
	if err := output.SendAudio(data); err != nil {
		logger.Warn("failed to play remote audio", "uid", r.uid, "error", err)
	}
}
