package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/JSluo888/MedJourney-sub000/core/audio"
	"github.com/gordonklaus/portaudio"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/JSluo888/MedJourney-sub000/core/audio/portaudio"

var logger = otelslog.NewLogger(scopeName)

var (
	_ audio.Device        = (*Client)(nil)
	_ audio.MarkingOutput = (*Client)(nil)
)

// Client drives one duplex default stream. Capture runs on its own read loop;
// playback is fed from a queue drained by a writer goroutine so SendAudio
// never blocks on the device.
type Client struct {
	bufferSize int
	stream     *portaudio.Stream

	in  []int16
	out []int16

	captureMu     sync.Mutex
	captureCancel context.CancelFunc
	captureDone   chan struct{}

	playMu        sync.Mutex
	leftoverAudio []byte
	marks         []playbackMark
	playSignal    chan struct{}
	closed        chan struct{}
}

type playbackMark struct {
	name     string
	position int
	callback func(string)
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 1, audio.DefaultSampleRate, bufferSize, in, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start portaudio stream: %w", err)
	}

	c := &Client{
		bufferSize: bufferSize,
		stream:     stream,
		in:         in,
		out:        out,
		playSignal: make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
	go c.playLoop()
	return c, nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Channels:   1,
		Format:     audio.EncodingLinear16,
	}
}

func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	if c.captureCancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.captureCancel = cancel
	c.captureDone = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			default:
			}

			if err := c.stream.Read(); err != nil {
				logger.Warn("failed to read from portaudio stream", "error", err)
				continue
			}

			frame := bytes.Buffer{}
			_ = binary.Write(&frame, binary.LittleEndian, c.in)
			onAudio(frame.Bytes())
		}
	}(c.captureDone)

	return nil
}

func (c *Client) StopCapture() error {
	c.captureMu.Lock()
	cancel, done := c.captureCancel, c.captureDone
	c.captureCancel, c.captureDone = nil, nil
	c.captureMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (c *Client) SendAudio(audio []byte) error {
	select {
	case <-c.closed:
		return fmt.Errorf("portaudio client closed")
	default:
	}

	c.playMu.Lock()
	c.leftoverAudio = append(c.leftoverAudio, audio...)
	c.playMu.Unlock()

	select {
	case c.playSignal <- struct{}{}:
	default:
	}
	return nil
}

func (c *Client) ClearBuffer() {
	c.playMu.Lock()
	c.leftoverAudio = nil
	marks := c.marks
	c.marks = nil
	c.playMu.Unlock()

	go firePlaybackMarks(marks)
}

func (c *Client) Mark(name string, callback func(string)) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	if len(c.leftoverAudio) == 0 {
		go callback(name)
		return nil
	}
	c.marks = append(c.marks, playbackMark{name: name, position: len(c.leftoverAudio), callback: callback})
	return nil
}

func (c *Client) Close() {
	select {
	case <-c.closed:
		return
	default:
		close(c.closed)
	}

	_ = c.StopCapture()
	_ = c.stream.Stop()
	_ = c.stream.Close()
	_ = portaudio.Terminate()
}

func (c *Client) playLoop() {
	chunkSize := c.bufferSize * 2
	for {
		select {
		case <-c.closed:
			return
		case <-c.playSignal:
		}

		for {
			c.playMu.Lock()
			if len(c.leftoverAudio) < chunkSize {
				if len(c.leftoverAudio) > 0 {
					// pad the tail with silence so short replies are not lost
					c.leftoverAudio = append(c.leftoverAudio, make([]byte, chunkSize-len(c.leftoverAudio))...)
				} else {
					c.playMu.Unlock()
					break
				}
			}
			chunk := c.leftoverAudio[:chunkSize]
			c.leftoverAudio = c.leftoverAudio[chunkSize:]
			passed := c.advanceMarks(chunkSize)
			_ = binary.Read(bytes.NewReader(chunk), binary.LittleEndian, c.out)
			c.playMu.Unlock()

			if err := c.stream.Write(); err != nil {
				logger.Warn("failed to write to portaudio stream", "error", err)
			}
			if len(passed) > 0 {
				go firePlaybackMarks(passed)
			}
		}
	}
}

// advanceMarks must be called with playMu held.
func (c *Client) advanceMarks(played int) []playbackMark {
	var passed []playbackMark
	kept := c.marks[:0]
	for _, mark := range c.marks {
		mark.position -= played
		if mark.position <= 0 {
			passed = append(passed, mark)
			continue
		}
		kept = append(kept, mark)
	}
	c.marks = kept
	return passed
}

func firePlaybackMarks(marks []playbackMark) {
	for _, mark := range marks {
		mark.callback(mark.name)
	}
}
