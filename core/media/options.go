package media

import "github.com/JSluo888/MedJourney-sub000/core/audio"

type SessionOption func(*Session)

// WithOutput sets where subscribed remote audio is played.
func WithOutput(output audio.Output) SessionOption {
	return func(s *Session) {
		s.output = output
	}
}

// WithUID sets the local participant id used when joining.
func WithUID(uid string) SessionOption {
	return func(s *Session) {
		s.uid = uid
	}
}

func WithRemoteTrackAvailable(callback func(user RemoteUser)) SessionOption {
	return func(s *Session) {
		s.onRemoteTrack = callback
	}
}

// WithRemoteTrackEnded is invoked once a remote participant stopped sending
// and its queued audio finished playing.
func WithRemoteTrackEnded(callback func(user RemoteUser)) SessionOption {
	return func(s *Session) {
		s.onRemoteTrackEnded = callback
	}
}

// WithErrorCallback receives human-readable transport failures.
func WithErrorCallback(callback func(err error)) SessionOption {
	return func(s *Session) {
		s.onError = callback
	}
}

func WithConnectionChange(callback func(connected bool, err error)) SessionOption {
	return func(s *Session) {
		s.onConnectionChange = callback
	}
}
