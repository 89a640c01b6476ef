// Package capture converts the continuous microphone stream into discrete
// user utterances.
//
// Two types cooperate: [Detector] watches PCM frames for speech using a
// moving-average level with hysteresis thresholds, and [Queue] decouples the
// detector (a real-time producer) from the orchestrator (a variable-latency
// consumer) while bounding memory and staleness.
package capture

import (
	"errors"
	"sync"

	"github.com/antiphonlabs/antiphon/pkg/types"
)

// ErrQueueClosed is returned by [Queue.Pop] after [Queue.Close].
var ErrQueueClosed = errors.New("capture: queue closed")

// defaultQueueBound keeps at most this many pending utterances. If the
// orchestrator falls further behind, older utterances are no longer
// semantically relevant — the user has spoken again — and transcribing them
// wastes ASR budget.
const defaultQueueBound = 2

// Queue is a bounded FIFO of captured utterance blobs with a
// coalesce-on-overflow policy: a Push that would exceed the bound discards
// every queued entry and retains only the newest.
//
// Push never blocks. Pop blocks until a blob is available or the queue is
// closed. All methods are safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	ch     chan types.Blob
	done   chan struct{}
	closed bool
}

// NewQueue creates a queue holding at most bound pending blobs. A bound of
// zero or less uses the default of 2.
func NewQueue(bound int) *Queue {
	if bound <= 0 {
		bound = defaultQueueBound
	}
	return &Queue{
		ch:   make(chan types.Blob, bound),
		done: make(chan struct{}),
	}
}

// Push enqueues blob without blocking. When the queue is full, all queued
// entries are dropped and only blob is retained. Pushing to a closed queue is
// a no-op.
func (q *Queue) Push(blob types.Blob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	if len(q.ch) == cap(q.ch) {
		// Coalesce: everything already queued is stale relative to blob.
		for {
			select {
			case <-q.ch:
			default:
				goto drained
			}
		}
	}
drained:
	q.ch <- blob
}

// C returns the receive face of the queue for use in select loops. Receiving
// from C is equivalent to a successful Pop. The channel is never closed; use
// [Queue.Done] to observe shutdown.
func (q *Queue) C() <-chan types.Blob {
	return q.ch
}

// Done is closed when the queue is closed.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Pop blocks until a blob is available and returns it, or returns
// [ErrQueueClosed] once the queue has been closed and drained.
func (q *Queue) Pop() (types.Blob, error) {
	select {
	case blob := <-q.ch:
		return blob, nil
	case <-q.done:
		// Closed; drain any remaining entry before reporting closure.
		select {
		case blob := <-q.ch:
			return blob, nil
		default:
			return types.Blob{}, ErrQueueClosed
		}
	}
}

// Len reports the number of pending blobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close releases Pop callers. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
