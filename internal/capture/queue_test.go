package capture

import (
	"testing"
	"time"

	"github.com/antiphonlabs/antiphon/pkg/types"
)

func blobWithLabel(label byte) types.Blob {
	return types.Blob{PCM: []byte{label}, SampleRate: 16000, Channels: 1}
}

func TestQueue_PushPop(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	q.Push(blobWithLabel(1))

	got, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if got.PCM[0] != 1 {
		t.Fatalf("Pop returned blob %d, want 1", got.PCM[0])
	}
}

// Q2: if no Push arrives after the one being popped, that blob is delivered
// exactly once.
func TestQueue_ExactlyOnceOnIdle(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	q.Push(blobWithLabel(7))

	first, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if first.PCM[0] != 7 {
		t.Fatalf("Pop returned blob %d, want 7", first.PCM[0])
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty after Pop, len=%d", q.Len())
	}
}

// Q1: once the coalesce rule drops a blob, it is never delivered.
func TestQueue_CoalesceDropsStale(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	q.Push(blobWithLabel(1))
	q.Push(blobWithLabel(2))
	// This push exceeds the bound: 1 and 2 must be discarded.
	q.Push(blobWithLabel(3))

	if q.Len() != 1 {
		t.Fatalf("queue len after coalesce = %d, want 1", q.Len())
	}
	got, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if got.PCM[0] != 3 {
		t.Fatalf("Pop returned blob %d, want the newest (3)", got.PCM[0])
	}
}

func TestQueue_FIFOWithinBound(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	q.Push(blobWithLabel(1))
	q.Push(blobWithLabel(2))

	for want := byte(1); want <= 2; want++ {
		got, err := q.Pop()
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if got.PCM[0] != want {
			t.Fatalf("Pop returned blob %d, want %d", got.PCM[0], want)
		}
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	got := make(chan types.Blob, 1)
	go func() {
		b, err := q.Pop()
		if err != nil {
			return
		}
		got <- b
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before any Push")
	case <-time.After(50 * time.Millisecond):
	}

	q.Push(blobWithLabel(9))
	select {
	case b := <-got:
		if b.PCM[0] != 9 {
			t.Fatalf("Pop returned blob %d, want 9", b.PCM[0])
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestQueue_CloseReleasesPop(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop()
		errCh <- err
	}()

	q.Close()
	select {
	case err := <-errCh:
		if err != ErrQueueClosed {
			t.Fatalf("Pop after Close = %v, want ErrQueueClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Close")
	}
}

func TestQueue_CloseIdempotent(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	q.Close()
	q.Close() // must not panic
	q.Push(blobWithLabel(1))
	if q.Len() != 0 {
		t.Fatal("Push after Close must be a no-op")
	}
}

func TestQueue_DrainsPendingAfterClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	q.Push(blobWithLabel(5))
	q.Close()

	got, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop after Close with pending blob: %v", err)
	}
	if got.PCM[0] != 5 {
		t.Fatalf("Pop returned blob %d, want 5", got.PCM[0])
	}
	if _, err := q.Pop(); err != ErrQueueClosed {
		t.Fatalf("second Pop = %v, want ErrQueueClosed", err)
	}
}
