package turn

import (
	"sync"
	"time"
)

// Stage names a lifecycle position of a turn.
type Stage string

const (
	StageOpened       Stage = "opened"
	StageTranscribing Stage = "transcribing"
	StageGenerating   Stage = "generating"
	StageSynthesizing Stage = "synthesizing"
	StagePlaying      Stage = "playing"
	StageClosed       Stage = "closed"
	StageStale        Stage = "stale"
)

// Event is one entry of the turn-scoped event stream: a turn entering or
// leaving a stage, or going stale. The UI shell consumes these for debugging
// in place of ad-hoc logging.
type Event struct {
	// TurnID is the turn the event belongs to.
	TurnID uint64

	// Stage is the lifecycle position reached.
	Stage Stage

	// Detail optionally carries a short free-form note (e.g. the failure kind
	// that ended a stage). Never contains internal error details.
	Detail string

	// Timestamp is the wall-clock instant the event was recorded.
	Timestamp time.Time
}

const defaultRecorderSize = 256

// Recorder keeps a bounded ring of recent turn events and fans each event out
// to subscribers. Slow subscribers never block the pipeline: when a
// subscriber's channel is full the event is dropped for that subscriber.
//
// All methods are safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	ring    []Event
	next    int // write position in ring
	filled  bool
	subs    map[int]chan Event
	nextSub int
}

// NewRecorder creates a recorder retaining the last size events. A size of
// zero or less uses the default of 256.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = defaultRecorderSize
	}
	return &Recorder{
		ring: make([]Event, size),
		subs: make(map[int]chan Event),
	}
}

// Record appends an event, stamping it with the current time if unset, and
// delivers it to all subscribers on a best-effort basis.
func (r *Recorder) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	r.mu.Lock()
	r.ring[r.next] = ev
	r.next++
	if r.next == len(r.ring) {
		r.next = 0
		r.filled = true
	}
	subs := make([]chan Event, 0, len(r.subs))
	for _, ch := range r.subs {
		subs = append(subs, ch)
	}
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; drop rather than stall the pipeline.
		}
	}
}

// Recent returns the retained events in recording order, oldest first.
func (r *Recorder) Recent() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.filled {
		out := make([]Event, r.next)
		copy(out, r.ring[:r.next])
		return out
	}
	out := make([]Event, 0, len(r.ring))
	out = append(out, r.ring[r.next:]...)
	out = append(out, r.ring[:r.next]...)
	return out
}

// Subscribe registers a new subscriber and returns its event channel together
// with a cancel function. The channel is buffered; events that arrive while
// the buffer is full are dropped for this subscriber. Cancel closes the
// channel and releases the registration; it is safe to call more than once.
func (r *Recorder) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
