package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JSluo888/MedJourney-sub000/core/audio"
)

// ErrNoRecording is returned by Stop when the turn captured no audio.
var ErrNoRecording = errors.New("no audio was recorded")

// AudioChunk is one flush interval worth of captured audio.
type AudioChunk struct {
	Sequence   int
	Data       []byte
	CapturedAt time.Time
}

// Recorder buffers the shared microphone into chunks for upload to the agent.
// It never opens the capture device itself; it holds a lease on the same
// audio.Source the published media track uses.
type Recorder struct {
	source        *audio.Source
	flushInterval time.Duration
	maxDuration   time.Duration

	// startMu keeps concurrent Start calls from each taking a lease.
	startMu sync.Mutex

	mu        sync.Mutex
	recording bool
	pending   []byte
	chunks    []AudioChunk
	sequence  int
	buffered  int
	truncated bool

	release   func() error
	untap     func()
	stopFlush chan struct{}
	flushDone chan struct{}
}

func New(source *audio.Source, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		source:        source,
		flushInterval: DefaultFlushInterval,
		maxDuration:   DefaultMaxDuration,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins buffering a new turn. Calling Start while recording is a
// no-op.
func (r *Recorder) Start(ctx context.Context) error {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return nil
	}
	r.resetLocked()
	r.mu.Unlock()

	untap := r.source.Tap(r.onAudio)
	release, err := r.source.Acquire(ctx)
	if err != nil {
		untap()
		return fmt.Errorf("failed to start recording: %w", err)
	}

	r.mu.Lock()
	r.recording = true
	r.release = release
	r.untap = untap
	r.stopFlush = make(chan struct{})
	r.flushDone = make(chan struct{})
	go r.flushLoop(r.stopFlush, r.flushDone)
	r.mu.Unlock()

	return nil
}

// Stop finalizes the turn and returns every byte captured since Start,
// clearing the buffers. It returns ErrNoRecording when nothing was captured.
func (r *Recorder) Stop() ([]byte, error) {
	chunks, err := r.finish()
	if err != nil {
		return nil, err
	}

	recorded := bytes.Buffer{}
	for _, chunk := range chunks {
		recorded.Write(chunk.Data)
	}
	if recorded.Len() == 0 {
		return nil, ErrNoRecording
	}
	return recorded.Bytes(), nil
}

// Discard stops recording and drops whatever was captured.
func (r *Recorder) Discard() {
	if _, err := r.finish(); err != nil {
		logger.Debug("discarded recorder was not recording", "error", err)
	}
}

// Chunks returns a snapshot of the chunks flushed so far in the current turn.
func (r *Recorder) Chunks() []AudioChunk {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunks := make([]AudioChunk, len(r.chunks))
	copy(chunks, r.chunks)
	return chunks
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *Recorder) EncodingInfo() audio.EncodingInfo {
	return r.source.EncodingInfo()
}

func (r *Recorder) finish() ([]AudioChunk, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, ErrNoRecording
	}
	r.recording = false
	untap, release := r.untap, r.release
	stopFlush, flushDone := r.stopFlush, r.flushDone
	r.untap, r.release = nil, nil
	r.mu.Unlock()

	untap()
	close(stopFlush)
	<-flushDone
	if err := release(); err != nil {
		logger.Warn("failed to release capture lease", "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked(time.Now())
	chunks := r.chunks
	if r.truncated {
		logger.Warn("recording exceeded the maximum duration and was truncated", "max_duration", r.maxDuration)
	}
	r.resetLocked()
	return chunks, nil
}

func (r *Recorder) onAudio(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return
	}

	limit := r.maxBytes()
	if r.buffered+len(frame) > limit {
		r.truncated = true
		frame = frame[:max(0, limit-r.buffered)]
	}
	r.pending = append(r.pending, frame...)
	r.buffered += len(frame)
}

func (r *Recorder) flushLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			r.mu.Lock()
			r.flushLocked(now)
			r.mu.Unlock()
		}
	}
}

func (r *Recorder) flushLocked(now time.Time) {
	if len(r.pending) == 0 {
		return
	}
	r.chunks = append(r.chunks, AudioChunk{Sequence: r.sequence, Data: r.pending, CapturedAt: now})
	r.sequence++
	r.pending = nil
}

func (r *Recorder) resetLocked() {
	r.pending = nil
	r.chunks = nil
	r.sequence = 0
	r.buffered = 0
	r.truncated = false
}

func (r *Recorder) maxBytes() int {
	bytesPerSecond := r.source.EncodingInfo().BytesPerSecond()
	return int(r.maxDuration.Seconds() * float64(bytesPerSecond))
}
