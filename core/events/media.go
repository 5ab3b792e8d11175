package events

const (
	KindRemoteTrackAvailable   Kind = "media.remote_track_available"
	KindRemotePlaybackEnded    Kind = "media.remote_playback_ended"
	KindMediaConnectionChanged Kind = "media.connection_changed"
)

type RemoteTrackAvailable struct {
	Base
	UserID string
}

func NewRemoteTrackAvailable(userID string) RemoteTrackAvailable {
	return RemoteTrackAvailable{Base: NewBase(KindRemoteTrackAvailable), UserID: userID}
}

type RemotePlaybackEnded struct {
	Base
	UserID string
}

func NewRemotePlaybackEnded(userID string) RemotePlaybackEnded {
	return RemotePlaybackEnded{Base: NewBase(KindRemotePlaybackEnded), UserID: userID}
}

// MediaConnectionChanged reports media transport connectivity. Err describes
// why the connection was lost and is nil on connect.
type MediaConnectionChanged struct {
	Base
	Connected bool
	Err       error
}

func NewMediaConnectionChanged(connected bool, err error) MediaConnectionChanged {
	return MediaConnectionChanged{Base: NewBase(KindMediaConnectionChanged), Connected: connected, Err: err}
}
