package wsrelay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultJoinTimeout  = 10 * time.Second
	DefaultPingInterval = 20 * time.Second
)

type TransportOption func(*Transport)

func WithDialer(dialer *websocket.Dialer) TransportOption {
	return func(t *Transport) {
		if dialer != nil {
			t.dialer = dialer
		}
	}
}

func WithHeader(header http.Header) TransportOption {
	return func(t *Transport) {
		t.header = header
	}
}

func WithJoinTimeout(timeout time.Duration) TransportOption {
	return func(t *Transport) {
		if timeout > 0 {
			t.joinTimeout = timeout
		}
	}
}

func WithPingInterval(interval time.Duration) TransportOption {
	return func(t *Transport) {
		t.pingInterval = interval
	}
}
