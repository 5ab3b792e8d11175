package media

import (
	"context"

	"github.com/JSluo888/MedJourney-sub000/core/audio"
)

type ConnectionState string

const (
	ConnectionStateConnecting   ConnectionState = "CONNECTING"
	ConnectionStateConnected    ConnectionState = "CONNECTED"
	ConnectionStateReconnecting ConnectionState = "RECONNECTING"
	ConnectionStateDisconnected ConnectionState = "DISCONNECTED"
)

// ReasonLeave is the disconnect reason reported after a caller-initiated
// Leave.
const ReasonLeave = "LEAVE"

type RemoteUser struct {
	UID string
}

// TransportEvents are invoked from the transport's own goroutines.
type TransportEvents struct {
	OnUserPublished         func(user RemoteUser)
	OnUserUnpublished       func(user RemoteUser)
	OnConnectionStateChange func(current, previous ConnectionState, reason string)
}

// TrackConfig describes the local microphone track. The track reads from
// Source and must never open a capture device itself.
type TrackConfig struct {
	Source *audio.Source
}

type LocalTrack interface {
	Close() error
}

type RemoteTrack interface {
	Play(output audio.Output) error
	Stop()
}

// Transport is the realtime media capability the session consumes.
type Transport interface {
	Join(ctx context.Context, channel, uid string, events TransportEvents) error
	Leave(ctx context.Context) error
	CreateLocalAudioTrack(ctx context.Context, cfg TrackConfig) (LocalTrack, error)
	Publish(ctx context.Context, track LocalTrack) error
	Unpublish(ctx context.Context, track LocalTrack) error
	Subscribe(ctx context.Context, user RemoteUser) (RemoteTrack, error)
}
