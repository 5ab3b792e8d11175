package signaling

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultReconnectInterval = 3 * time.Second
	DefaultMaxAttempts       = 5
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 10 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultSendQueueSize     = 64
)

type ChannelOption func(*Channel)

func WithDialer(dialer *websocket.Dialer) ChannelOption {
	return func(c *Channel) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

func WithHeader(header http.Header) ChannelOption {
	return func(c *Channel) {
		c.header = header
	}
}

func WithBackoff(backoff Backoff) ChannelOption {
	return func(c *Channel) {
		if backoff != nil {
			c.backoff = backoff
		}
	}
}

func WithMaxAttempts(attempts int) ChannelOption {
	return func(c *Channel) {
		if attempts >= 0 {
			c.maxAttempts = attempts
		}
	}
}

func WithHandshakeTimeout(timeout time.Duration) ChannelOption {
	return func(c *Channel) {
		if timeout > 0 {
			c.handshakeTimeout = timeout
		}
	}
}

// WithHeartbeat sets the ping interval and how long a pong may take. A zero
// interval disables the heartbeat.
func WithHeartbeat(interval, timeout time.Duration) ChannelOption {
	return func(c *Channel) {
		c.heartbeatInterval = interval
		if timeout > 0 {
			c.heartbeatTimeout = timeout
		}
	}
}

// WithConnectionChange receives connectivity changes after Connect succeeded.
// A terminal event is delivered at most once per Connect.
func WithConnectionChange(callback func(event ConnectionEvent)) ChannelOption {
	return func(c *Channel) {
		c.onConnectionChange = callback
	}
}

func WithSendQueueSize(size int) ChannelOption {
	return func(c *Channel) {
		if size > 0 {
			c.sendQueueSize = size
		}
	}
}

type ConnectOptions struct {
	// MediaChannel names the media session the agent should speak on. It
	// defaults to the session id.
	MediaChannel string
}

type ConnectOption func(*ConnectOptions)

func WithMediaChannel(channel string) ConnectOption {
	return func(o *ConnectOptions) {
		if channel != "" {
			o.MediaChannel = channel
		}
	}
}
