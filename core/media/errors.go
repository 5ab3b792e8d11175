package media

import "errors"

var ErrNotJoined = errors.New("media session not joined")

// TransportInitError reports a failure to join the media session or to bring
// up the local microphone track. The caller decides whether to retry.
type TransportInitError struct {
	Op  string
	Err error
}

func (e *TransportInitError) Error() string {
	return "media transport failed to " + e.Op + ": " + e.Err.Error()
}

func (e *TransportInitError) Unwrap() error {
	return e.Err
}
