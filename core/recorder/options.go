package recorder

import "time"

const (
	DefaultFlushInterval = 100 * time.Millisecond
	DefaultMaxDuration   = 2 * time.Minute
)

type RecorderOption func(*Recorder)

// WithFlushInterval sets how often captured audio is cut into a chunk.
func WithFlushInterval(interval time.Duration) RecorderOption {
	return func(r *Recorder) {
		if interval > 0 {
			r.flushInterval = interval
		}
	}
}

// WithMaxDuration caps how much audio a single turn may buffer. Audio past the
// cap is dropped.
func WithMaxDuration(duration time.Duration) RecorderOption {
	return func(r *Recorder) {
		if duration > 0 {
			r.maxDuration = duration
		}
	}
}
