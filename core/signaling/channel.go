package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/JSluo888/MedJourney-sub000/internal/wsconn"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	// StateFailed is terminal: reconnection was exhausted.
	StateFailed State = "failed"
)

// ConnectionEvent reports a connectivity change. Terminal is set once, when
// reconnection gives up.
type ConnectionEvent struct {
	Connected bool
	Terminal  bool
	Attempts  int
	Err       error
}

type Status struct {
	State             State
	SessionID         string
	UserID            string
	ReconnectAttempts int
	LastPong          time.Time
	UnknownMessages   int
}

type Handler func(envelope Envelope)

// Channel is the control connection to the agent backend. It owns its socket:
// all writes go through Send.
type Channel struct {
	baseURL           string
	dialer            *websocket.Dialer
	header            http.Header
	backoff           Backoff
	maxAttempts       int
	handshakeTimeout  time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	sendQueueSize     int

	handlersMu         sync.RWMutex
	handlers           map[string]Handler
	onConnectionChange func(event ConnectionEvent)

	mu              sync.Mutex
	state           State
	sessionID       string
	userID          string
	mediaChannel    string
	attempts        int
	current         *connection
	closed          bool
	terminalSent    bool
	lastPong        time.Time
	unknownMessages int
	done            chan struct{}
}

// NewChannel creates a channel for an agent at baseURL. Sessions are opened at
// baseURL/conversation/{sessionId}.
func NewChannel(baseURL string, opts ...ChannelOption) *Channel {
	c := &Channel{
		baseURL:           strings.TrimRight(baseURL, "/"),
		dialer:            websocket.DefaultDialer,
		backoff:           ConstantBackoff{Interval: DefaultReconnectInterval},
		maxAttempts:       DefaultMaxAttempts,
		handshakeTimeout:  DefaultHandshakeTimeout,
		heartbeatInterval: DefaultHeartbeatInterval,
		heartbeatTimeout:  DefaultHeartbeatTimeout,
		sendQueueSize:     DefaultSendQueueSize,
		handlers:          map[string]Handler{},
		state:             StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnMessage registers the handler for one inbound message type, replacing any
// previous one. Handlers run on the read goroutine in arrival order.
func (c *Channel) OnMessage(messageType string, handler Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[messageType] = handler
}

// OnConnectionChange replaces the connectivity callback.
func (c *Channel) OnConnectionChange(callback func(event ConnectionEvent)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onConnectionChange = callback
}

// Connect opens the control connection and returns once the agent has
// acknowledged the initialize handshake. A failed Connect is not retried.
func (c *Channel) Connect(ctx context.Context, sessionID, userID string, opts ...ConnectOption) (err error) {
	connectOptions := ConnectOptions{MediaChannel: sessionID}
	for _, opt := range opts {
		opt(&connectOptions)
	}

	ctx, span := tracer.Start(ctx, "connect signaling", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("user.id", userID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to connect signaling")
		}
		span.End()
	}()

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return fmt.Errorf("signaling channel already connected")
	}
	c.sessionID = sessionID
	c.userID = userID
	c.mediaChannel = connectOptions.MediaChannel
	c.attempts = 0
	c.closed = false
	c.terminalSent = false
	c.done = make(chan struct{})
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.close()
		return ErrClosed
	}
	c.current = conn
	c.state = StateConnected
	c.mu.Unlock()

	logger.Info("signaling connected", "session_id", sessionID)
	c.checkAlive(conn)
	return nil
}

// Send enqueues a typed message. It never fails: when the channel is down or
// the queue is full the message is dropped and logged.
func (c *Channel) Send(messageType string, payload any) {
	c.mu.Lock()
	conn, sessionID := c.current, c.sessionID
	c.mu.Unlock()

	if conn == nil {
		logger.Warn("dropping message, signaling channel is down", "type", messageType)
		return
	}
	conn.send(messageType, payload, sessionID)
}

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:             c.state,
		SessionID:         c.sessionID,
		UserID:            c.userID,
		ReconnectAttempts: c.attempts,
		LastPong:          c.lastPong,
		UnknownMessages:   c.unknownMessages,
	}
}

// Close shuts the channel down without reconnecting.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.done != nil {
		close(c.done)
	}
	conn := c.current
	c.current = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.close()
		<-conn.done
	}
	return nil
}

func (c *Channel) dial(ctx context.Context) (*connection, error) {
	c.mu.Lock()
	sessionID, userID, mediaChannel := c.sessionID, c.userID, c.mediaChannel
	c.mu.Unlock()

	endpoint := fmt.Sprintf("%s/conversation/%s", c.baseURL, url.PathEscape(sessionID))
	ws, _, err := c.dialer.DialContext(ctx, endpoint, c.header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial signaling endpoint: %w", err)
	}

	conn := newConnection(ws, c.sendQueueSize)
	go conn.writeLoop()
	go c.readLoop(conn)

	conn.send(TypeInitialize, InitializePayload{UserID: userID, Channel: mediaChannel}, sessionID)

	timer := time.NewTimer(c.handshakeTimeout)
	defer timer.Stop()
	select {
	case <-conn.acknowledged:
	case <-conn.done:
		return nil, fmt.Errorf("signaling connection closed during handshake: %w", conn.err())
	case <-timer.C:
		conn.close()
		return nil, ErrHandshakeTimeout
	case <-ctx.Done():
		conn.close()
		return nil, ctx.Err()
	}

	if c.heartbeatInterval > 0 {
		go c.heartbeat(conn, sessionID)
	}
	return conn, nil
}

func (c *Channel) readLoop(conn *connection) {
	var readErr error
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			readErr = err
			break
		}

		envelope, err := DecodeEnvelope(data)
		if err != nil {
			logger.Warn("ignoring malformed signaling frame", "error", err)
			continue
		}
		c.route(conn, envelope)
	}

	conn.finish(readErr)
	c.handleLost(conn)
}

func (c *Channel) route(conn *connection, envelope Envelope) {
	switch envelope.Type {
	case TypeInitialized:
		conn.acknowledge()
	case TypePong:
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		conn.pong()
	case TypeConnectionEstablished:
		logger.Info("signaling connection established", "session_id", envelope.SessionID)
	}

	c.handlersMu.RLock()
	handler, ok := c.handlers[envelope.Type]
	c.handlersMu.RUnlock()
	if ok {
		handler(envelope)
		return
	}

	switch envelope.Type {
	case TypeInitialized, TypePong, TypeConnectionEstablished:
		return
	}
	c.mu.Lock()
	c.unknownMessages++
	c.mu.Unlock()
	logger.Warn("ignoring signaling message", "error", fmt.Errorf("%w: %s", ErrUnknownMessage, envelope.Type))
}

func (c *Channel) heartbeat(conn *connection, sessionID string) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
		}

		conn.drainPong()
		conn.send(TypePing, PingPayload{}, sessionID)

		timer := time.NewTimer(c.heartbeatTimeout)
		select {
		case <-conn.done:
			timer.Stop()
			return
		case <-conn.pongs:
			timer.Stop()
		case <-timer.C:
			logger.Warn("signaling heartbeat failed", "session_id", sessionID)
			conn.fail(ErrHeartbeatTimeout)
			return
		}
	}
}

func (c *Channel) handleLost(conn *connection) {
	c.mu.Lock()
	if c.closed || c.current != conn {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.state = StateReconnecting
	done := c.done
	c.mu.Unlock()

	err := conn.err()
	logger.Warn("signaling connection lost", "error", err)
	c.emit(ConnectionEvent{Connected: false, Err: err})

	go c.reconnect(done, err)
}

func (c *Channel) reconnect(done <-chan struct{}, cause error) {
	lastErr := cause
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.attempts = attempt
		c.mu.Unlock()

		select {
		case <-done:
			return
		case <-time.After(c.backoff.Delay(attempt)):
		}

		conn, err := c.reconnectAttempt(attempt)
		if err != nil {
			lastErr = err
			logger.Warn("signaling reconnect attempt failed", "attempt", attempt, "max_attempts", c.maxAttempts, "error", err)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.close()
			return
		}
		c.current = conn
		c.state = StateConnected
		c.attempts = 0
		c.mu.Unlock()

		logger.Info("signaling reconnected", "attempt", attempt)
		c.emit(ConnectionEvent{Connected: true, Attempts: attempt})
		c.checkAlive(conn)
		return
	}

	c.mu.Lock()
	if c.closed || c.terminalSent {
		c.mu.Unlock()
		return
	}
	c.terminalSent = true
	c.state = StateFailed
	attempts := c.maxAttempts
	c.mu.Unlock()

	logger.Error("signaling reconnection exhausted", "attempts", attempts, "error", lastErr)
	c.emit(ConnectionEvent{Connected: false, Terminal: true, Attempts: attempts, Err: &DisconnectedError{Attempts: attempts, Err: lastErr}})
}

func (c *Channel) reconnectAttempt(attempt int) (conn *connection, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*c.handshakeTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "reconnect signaling", trace.WithAttributes(attribute.Int("attempt", attempt)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reconnect attempt failed")
		}
		span.End()
	}()

	return c.dial(ctx)
}

// checkAlive covers a connection that dropped before it became current, when
// its read loop could not hand it to handleLost yet.
func (c *Channel) checkAlive(conn *connection) {
	select {
	case <-conn.done:
		c.handleLost(conn)
	default:
	}
}

func (c *Channel) emit(event ConnectionEvent) {
	c.handlersMu.RLock()
	onConnectionChange := c.onConnectionChange
	c.handlersMu.RUnlock()
	if onConnectionChange != nil {
		onConnectionChange(event)
	}
}

// connection is one websocket lifetime. A reconnect creates a new one.
type connection struct {
	ws       *websocket.Conn
	outbound chan wsconn.Frame
	cancel   context.CancelFunc
	ctx      context.Context

	acknowledged chan struct{}
	ackOnce      sync.Once
	pongs        chan struct{}
	done         chan struct{}

	mu      sync.Mutex
	failure error
}

func newConnection(ws *websocket.Conn, queueSize int) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		ws:           ws,
		outbound:     make(chan wsconn.Frame, queueSize),
		ctx:          ctx,
		cancel:       cancel,
		acknowledged: make(chan struct{}),
		pongs:        make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

func (c *connection) writeLoop() {
	writer := &wsconn.Writer{Conn: c.ws, Priority: c.outbound}
	if err := writer.Run(c.ctx); err != nil {
		c.fail(fmt.Errorf("failed to write to signaling connection: %w", err))
	}
}

func (c *connection) send(messageType string, payload any, sessionID string) {
	envelope, err := NewEnvelope(messageType, payload, sessionID, time.Now())
	if err != nil {
		logger.Error("dropping message, failed to encode", "type", messageType, "error", err)
		return
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		logger.Error("dropping message, failed to encode", "type", messageType, "error", err)
		return
	}

	select {
	case <-c.done:
		logger.Warn("dropping message, signaling connection closed", "type", messageType)
	case c.outbound <- wsconn.Text(data):
	default:
		logger.Warn("dropping message, send queue full", "type", messageType)
	}
}

func (c *connection) acknowledge() {
	c.ackOnce.Do(func() { close(c.acknowledged) })
}

func (c *connection) pong() {
	select {
	case c.pongs <- struct{}{}:
	default:
	}
}

func (c *connection) drainPong() {
	select {
	case <-c.pongs:
	default:
	}
}

// fail records why the connection is being torn down and closes the socket,
// which ends the read loop.
func (c *connection) fail(err error) {
	c.mu.Lock()
	if c.failure == nil {
		c.failure = err
	}
	c.mu.Unlock()
	c.cancel()
	_ = c.ws.Close()
}

func (c *connection) finish(readErr error) {
	c.mu.Lock()
	if c.failure == nil {
		c.failure = readErr
	}
	c.mu.Unlock()
	c.cancel()
	close(c.done)
}

// close ends the connection cleanly: the writer sends a close frame.
func (c *connection) close() {
	c.cancel()
}

func (c *connection) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}
