package orchestrator

import (
	"sync"
	"time"
)

// defaultSilenceWindow is how long the conversation may sit idle before the
// agent proactively re-engages.
const defaultSilenceWindow = 30 * time.Second

// KeepAlive is a single-shot silence timer. Every activity on the session
// rearms it; when it expires while the pipeline is idle it emits one fire
// signal, prompting a proactive turn. If the pipeline is busy at expiry the
// fire is skipped entirely — the next activity rearms the timer.
//
// All methods are safe for concurrent use.
type KeepAlive struct {
	window time.Duration
	busy   func() bool
	fire   chan struct{}

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewKeepAlive creates a scheduler with the given silence window (zero or
// less uses the 30 s default). busy reports whether playback is active or a
// turn is in flight; a fire is skipped while busy returns true. The timer
// starts disarmed; call [KeepAlive.Touch] once the session is live.
func NewKeepAlive(window time.Duration, busy func() bool) *KeepAlive {
	if window <= 0 {
		window = defaultSilenceWindow
	}
	if busy == nil {
		busy = func() bool { return false }
	}
	return &KeepAlive{
		window: window,
		busy:   busy,
		fire:   make(chan struct{}, 1),
	}
}

// Touch rearms the timer. Call on every activity: blob received, text
// submitted, turn closed.
func (k *KeepAlive) Touch() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stopped {
		return
	}
	if k.timer != nil {
		k.timer.Stop()
	}
	k.timer = time.AfterFunc(k.window, k.expire)
}

// expire runs on the timer goroutine.
func (k *KeepAlive) expire() {
	k.mu.Lock()
	stopped := k.stopped
	k.mu.Unlock()
	if stopped {
		return
	}

	if k.busy() {
		// Skip; the activity that made us busy will rearm.
		return
	}

	select {
	case k.fire <- struct{}{}:
	default:
		// A previous fire is still pending.
	}
}

// C emits one signal per proactive prompt the orchestrator should run.
func (k *KeepAlive) C() <-chan struct{} {
	return k.fire
}

// Stop disarms the timer permanently. Safe to call more than once.
func (k *KeepAlive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopped = true
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
}
