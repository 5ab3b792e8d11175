package audio

import (
	"encoding/binary"
	"math"
)

// Level returns the RMS level of a little-endian linear16 frame normalised to
// [0,1]. Other formats and empty frames report 0.
func Level(frame []byte, info EncodingInfo) float64 {
	if info.Format != EncodingLinear16 || len(frame) < 2 {
		return 0
	}

	samples := len(frame) / 2
	var sum float64
	for i := range samples {
		sample := float64(int16(binary.LittleEndian.Uint16(frame[i*2:])))
		sum += sample * sample
	}

	rms := math.Sqrt(sum/float64(samples)) / 32768
	return clampUnit(rms)
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
