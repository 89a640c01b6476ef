package audio

import (
	"testing"
	"time"
)

// TestMuted_InputStaysOpenAndSilent verifies that a muted connection delivers
// no microphone frames but keeps the input channel open, so a consumer blocks
// instead of treating the stream as lost.
func TestMuted_InputStaysOpenAndSilent(t *testing.T) {
	t.Parallel()

	c := Muted()
	defer func() { _ = c.Disconnect() }()

	select {
	case frame, ok := <-c.Input():
		if !ok {
			t.Fatal("input closed while the connection is alive")
		}
		t.Fatalf("unexpected frame from muted input: %+v", frame)
	case <-time.After(20 * time.Millisecond):
	}
}

// TestMuted_OutputNeverBlocks verifies that agent audio written to a muted
// connection is discarded without backpressure.
func TestMuted_OutputNeverBlocks(t *testing.T) {
	t.Parallel()

	c := Muted()
	defer func() { _ = c.Disconnect() }()

	frame := Frame{Data: make([]byte, 320), SampleRate: 48000, Channels: 2}
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			c.Output() <- frame
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writes to muted output blocked")
	}
}

// TestMuted_DisconnectIdempotent verifies Disconnect closes the input exactly
// once and tolerates repeated calls.
func TestMuted_DisconnectIdempotent(t *testing.T) {
	t.Parallel()

	c := Muted()
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}

	select {
	case _, ok := <-c.Input():
		if ok {
			t.Fatal("frame delivered after disconnect")
		}
	case <-time.After(time.Second):
		t.Fatal("input not closed after disconnect")
	}
}
