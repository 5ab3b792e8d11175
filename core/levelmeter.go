package orchestration

import (
	"time"

	"github.com/JSluo888/MedJourney-sub000/core/turnstate"
)

func (o *Orchestrator) startLevelPolling() {
	if o.callbacks.onAudioLevel == nil {
		return
	}

	stop, done := make(chan struct{}), make(chan struct{})
	o.mu.Lock()
	o.levelStop, o.levelDone = stop, done
	o.mu.Unlock()

	go o.pollLevel(stop, done)
}

func (o *Orchestrator) stopLevelPolling() {
	o.mu.Lock()
	stop, done := o.levelStop, o.levelDone
	o.levelStop, o.levelDone = nil, nil
	o.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// pollLevel reports the microphone level while the user holds the turn and a
// single 0 when they stop.
func (o *Orchestrator) pollLevel(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(o.levelPollInterval)
	defer ticker.Stop()

	reporting := false
	for {
		select {
		case <-stop:
			if reporting {
				o.callbacks.onAudioLevel(0)
			}
			return
		case <-ticker.C:
		}

		o.mu.Lock()
		listening := o.state.Turn == turnstate.Listening
		o.mu.Unlock()

		switch {
		case listening:
			reporting = true
			o.callbacks.onAudioLevel(o.media.VolumeLevel())
		case reporting:
			reporting = false
			o.callbacks.onAudioLevel(0)
		}
	}
}
