package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// Device is a capture device. Frames are delivered to onAudio from the
// device's own goroutine until StopCapture returns.
type Device interface {
	EncodingInfo() EncodingInfo
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

// Output plays raw audio in the encoding it reports.
type Output interface {
	EncodingInfo() EncodingInfo
	SendAudio(audio []byte) error
	ClearBuffer()
}

var ErrSourceClosed = errors.New("audio source closed")

// Source is the single owner of a capture device. Every consumer of the
// microphone (a published media track, the local recorder) acquires a lease
// on the same Source instead of opening the device itself, so the device is
// started at most once no matter how many consumers are active.
//
// Frame delivery never takes a lock: devices join their capture goroutine in
// StopCapture, which is called while the lease lock is held.
type Source struct {
	device Device

	// mu serializes lease changes together with StartCapture and StopCapture.
	mu     sync.Mutex
	leases int
	closed bool

	tapsMu  sync.Mutex
	taps    atomic.Pointer[[]tap]
	nextTap int

	level atomic.Uint64
}

type tap struct {
	id      int
	onAudio func([]byte)
}

func NewSource(device Device) *Source {
	return &Source{device: device}
}

func (s *Source) EncodingInfo() EncodingInfo {
	if s == nil || s.device == nil {
		return GetDefaultEncodingInfo()
	}
	return s.device.EncodingInfo()
}

// Acquire takes a lease on the device, starting capture if this is the first
// lease. The returned release func is safe to call more than once.
func (s *Source) Acquire(ctx context.Context) (release func() error, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSourceClosed
	}
	if s.device == nil {
		return nil, fmt.Errorf("no capture device configured")
	}

	if s.leases == 0 {
		if err := s.device.StartCapture(ctx, s.onAudio); err != nil {
			return nil, fmt.Errorf("failed to start capture device: %w", err)
		}
	}
	s.leases++

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() { err = s.release() })
		return err
	}, nil
}

func (s *Source) release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leases == 0 {
		return nil
	}
	s.leases--
	if s.leases > 0 || s.closed {
		return nil
	}

	err := s.device.StopCapture()
	s.level.Store(0)
	if err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

// Active reports whether any consumer currently holds a lease.
func (s *Source) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leases > 0
}

// Tap registers a raw frame listener. Frames are passed as-is; listeners that
// retain them must copy. Listeners run on the device goroutine and must not
// acquire or release leases on this Source.
func (s *Source) Tap(onAudio func([]byte)) (untap func()) {
	s.tapsMu.Lock()
	defer s.tapsMu.Unlock()

	id := s.nextTap
	s.nextTap++
	s.storeTaps(append(s.loadTaps(), tap{id: id, onAudio: onAudio}))

	return func() {
		s.tapsMu.Lock()
		defer s.tapsMu.Unlock()

		current := s.loadTaps()
		remaining := make([]tap, 0, len(current))
		for _, t := range current {
			if t.id != id {
				remaining = append(remaining, t)
			}
		}
		s.storeTaps(remaining)
	}
}

// loadTaps returns a slice the caller must not modify in place.
func (s *Source) loadTaps() []tap {
	if taps := s.taps.Load(); taps != nil {
		return *taps
	}
	return nil
}

func (s *Source) storeTaps(taps []tap) {
	copied := make([]tap, len(taps))
	copy(copied, taps)
	s.taps.Store(&copied)
}

// Level is the RMS level of the most recent captured frame in [0,1].
func (s *Source) Level() float64 {
	return math.Float64frombits(s.level.Load())
}

// Close stops the device regardless of outstanding leases.
func (s *Source) Close() error {
	s.tapsMu.Lock()
	s.storeTaps(nil)
	s.tapsMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.leases > 0 && s.device != nil {
		s.leases = 0
		err = s.device.StopCapture()
	}
	s.level.Store(0)
	return err
}

func (s *Source) onAudio(frame []byte) {
	s.level.Store(math.Float64bits(Level(frame, s.device.EncodingInfo())))

	for _, t := range s.loadTaps() {
		t.onAudio(frame)
	}
}

// MarkingOutput reports, through the callback, when all audio sent before the
// mark has been played.
type MarkingOutput interface {
	Output
	Mark(name string, callback func(string)) error
}
