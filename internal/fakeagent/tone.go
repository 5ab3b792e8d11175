package fakeagent

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/JSluo888/MedJourney-sub000/core/audio"
)

// tone generates a continuous sine wave as 16kHz mono linear16.
type tone struct {
	frequency float64
	amplitude float64
	sample    int
}

func newTone(frequency, amplitude float64) *tone {
	return &tone{frequency: frequency, amplitude: amplitude}
}

func (t *tone) next(duration time.Duration) []byte {
	samples := int(duration.Seconds() * audio.DefaultSampleRate)
	frame := make([]byte, samples*2)
	for i := range samples {
		value := t.amplitude * math.Sin(2*math.Pi*t.frequency*float64(t.sample)/audio.DefaultSampleRate)
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(int16(value)))
		t.sample++
	}
	return frame
}
