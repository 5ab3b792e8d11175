// Package wsconn holds the single-writer loop shared by every websocket
// connection in the module. gorilla/websocket allows one concurrent writer,
// so all frames go through Writer.Run.
package wsconn

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultWriteTimeout = 5 * time.Second
)

type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type Frame struct {
	MessageType int
	Data        []byte
}

func Text(data []byte) Frame {
	return Frame{MessageType: websocket.TextMessage, Data: data}
}

func Binary(data []byte) Frame {
	return Frame{MessageType: websocket.BinaryMessage, Data: data}
}

// Writer drains two queues onto a connection. Priority frames always go
// before normal frames that have not been written yet.
type Writer struct {
	Conn     Conn
	Priority <-chan Frame
	Normal   <-chan Frame

	// PingInterval enables websocket level pings when positive.
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// Run writes until ctx is done, both queues are closed or a write fails. On
// ctx cancellation it sends a normal closure frame and closes the connection.
func (w *Writer) Run(ctx context.Context) error {
	writeTimeout := w.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	var pingC <-chan time.Time
	if w.PingInterval > 0 {
		pingTicker := time.NewTicker(w.PingInterval)
		defer pingTicker.Stop()
		pingC = pingTicker.C
	}

	priority, normal := w.Priority, w.Normal
	for {
		select {
		case <-ctx.Done():
			w.flushPriority(priority, writeTimeout)
			_ = w.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			_ = w.Conn.Close()
			return nil
		default:
		}

		select {
		case frame, ok := <-priority:
			if !ok {
				priority = nil
				continue
			}
			if err := w.write(frame, writeTimeout); err != nil {
				return err
			}
			continue
		default:
		}

		if priority == nil && normal == nil {
			return nil
		}

		select {
		case <-ctx.Done():
		case <-pingC:
			if err := w.Conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case frame, ok := <-priority:
			if !ok {
				priority = nil
				continue
			}
			if err := w.write(frame, writeTimeout); err != nil {
				return err
			}
		case frame, ok := <-normal:
			if !ok {
				normal = nil
				continue
			}
			if err := w.write(frame, writeTimeout); err != nil {
				return err
			}
		}
	}
}

func (w *Writer) write(frame Frame, writeTimeout time.Duration) error {
	if err := w.Conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.Conn.WriteMessage(frame.MessageType, frame.Data)
}

func (w *Writer) flushPriority(priority <-chan Frame, writeTimeout time.Duration) {
	if priority == nil {
		return
	}

	flushTimeout := min(100*time.Millisecond, writeTimeout)
	deadline := time.Now().Add(flushTimeout)
	for i := 0; i < 8 && time.Now().Before(deadline); i++ {
		select {
		case frame, ok := <-priority:
			if !ok {
				return
			}
			_ = w.write(frame, writeTimeout)
		default:
			return
		}
	}
}
