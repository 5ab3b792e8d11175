package orchestration

import (
	"sync"
	"sync/atomic"

	"github.com/JSluo888/MedJourney-sub000/core/turnstate"
)

// effectRuntime executes effects one at a time in the order they were
// enqueued. The queue is unbounded so enqueueing never blocks a reducer step.
type effectRuntime struct {
	mu      sync.Mutex
	pending []turnstate.Effect
	signal  chan struct{}

	closeCh chan struct{}
	done    chan struct{}

	startOnce sync.Once
	endOnce   sync.Once
	started   atomic.Bool
}

func newEffectRuntime() *effectRuntime {
	return &effectRuntime{
		signal:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (runtime *effectRuntime) start(execute func(turnstate.Effect)) (started bool) {
	runtime.startOnce.Do(func() {
		if runtime.isClosed() {
			return
		}

		started = true
		runtime.started.Store(true)
		go func() {
			defer close(runtime.done)

			for {
				select {
				case <-runtime.closeCh:
					return
				case <-runtime.signal:
				}

				for {
					effect, ok := runtime.next()
					if !ok {
						break
					}
					if runtime.isClosed() {
						return
					}
					execute(effect)
				}
			}
		}()
	})
	return started
}

func (runtime *effectRuntime) next() (turnstate.Effect, bool) {
	runtime.mu.Lock()
	defer runtime.mu.Unlock()

	if len(runtime.pending) == 0 {
		return nil, false
	}
	effect := runtime.pending[0]
	runtime.pending[0] = nil
	runtime.pending = runtime.pending[1:]
	return effect, true
}

func (runtime *effectRuntime) enqueue(effects ...turnstate.Effect) bool {
	if len(effects) == 0 {
		return true
	}
	if runtime.isClosed() {
		return false
	}

	runtime.mu.Lock()
	runtime.pending = append(runtime.pending, effects...)
	runtime.mu.Unlock()

	select {
	case runtime.signal <- struct{}{}:
	default:
	}
	return true
}

func (runtime *effectRuntime) end() {
	runtime.endOnce.Do(func() {
		close(runtime.closeCh)
	})
}

func (runtime *effectRuntime) waitUntilEnded() {
	if runtime.started.Load() {
		<-runtime.done
	}
}

func (runtime *effectRuntime) isClosed() bool {
	select {
	case <-runtime.closeCh:
		return true
	default:
		return false
	}
}

func (runtime *effectRuntime) queuedEffectCount() int {
	runtime.mu.Lock()
	defer runtime.mu.Unlock()
	return len(runtime.pending)
}
