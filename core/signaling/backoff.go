package signaling

import (
	"math/rand/v2"
	"time"
)

// Backoff decides how long to wait before a reconnect attempt. Attempts are
// numbered from 1.
type Backoff interface {
	Delay(attempt int) time.Duration
}

type ConstantBackoff struct {
	Interval time.Duration
}

func (b ConstantBackoff) Delay(int) time.Duration {
	return b.Interval
}

// ExponentialBackoff doubles the delay from Initial up to Max. Jitter in
// [0,1] randomizes that fraction of each delay.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	delay := b.Initial
	for i := 1; i < attempt && (b.Max <= 0 || delay < b.Max); i++ {
		delay *= 2
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	if b.Jitter > 0 {
		spread := float64(delay) * min(b.Jitter, 1)
		delay = time.Duration(float64(delay) - spread + rand.Float64()*spread)
	}
	return delay
}
