// Package playback owns the audio output device for one segment at a time.
//
// The controller writes a synthesized blob to the platform output as a
// sequence of 20 ms frames. Pacing comes from the platform sink: the output
// channel applies backpressure at playback rate, so the writer goroutine
// finishes close to the moment the audio does. Exactly one segment may play
// at a time; overlap is a caller bug and is rejected.
package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/antiphonlabs/antiphon/pkg/audio"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

// ErrBusy is returned by [Controller.Play] while a previous segment is still
// playing. Segments never overlap on the output device.
var ErrBusy = errors.New("playback: a segment is already playing")

// frameDuration is the slice size blobs are written in. Matches the Opus
// frame size used by the platform adapters.
const frameDuration = 20 * time.Millisecond

// Controller plays one audio segment at a time on a platform connection.
//
// All exported methods are safe for concurrent use.
type Controller struct {
	out chan<- audio.Frame

	mu      sync.Mutex
	playing bool
	cancel  chan struct{} // closed by Stop to halt the active playback
}

// NewController creates a controller writing to the connection's output sink.
func NewController(conn audio.Connection) *Controller {
	return &Controller{out: conn.Output()}
}

// Play begins playback of blob and returns immediately. onDone fires exactly
// once: on natural completion or on [Controller.Stop]. Returns [ErrBusy] if a
// segment is already playing, or an error for an empty blob.
func (c *Controller) Play(blob types.Blob, onDone func()) error {
	if blob.Empty() {
		return errors.New("playback: blob must not be empty")
	}

	c.mu.Lock()
	if c.playing {
		c.mu.Unlock()
		return ErrBusy
	}
	c.playing = true
	cancel := make(chan struct{})
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(blob, cancel, onDone)
	return nil
}

// run writes the blob frame by frame, then clears the playing state and
// invokes onDone. It exits early when cancel closes.
func (c *Controller) run(blob types.Blob, cancel chan struct{}, onDone func()) {
	defer func() {
		c.mu.Lock()
		c.playing = false
		c.mu.Unlock()
		if onDone != nil {
			onDone()
		}
	}()

	frameBytes := int(int64(blob.SampleRate) * int64(blob.Channels) * 2 *
		int64(frameDuration) / int64(time.Second))
	if frameBytes <= 0 {
		frameBytes = len(blob.PCM)
	}

	for off := 0; off < len(blob.PCM); off += frameBytes {
		end := off + frameBytes
		if end > len(blob.PCM) {
			end = len(blob.PCM)
		}
		frame := audio.Frame{
			Data:       blob.PCM[off:end],
			SampleRate: blob.SampleRate,
			Channels:   blob.Channels,
		}
		select {
		case <-cancel:
			return
		case c.out <- frame:
		}
	}
}

// Stop halts the active playback, if any, and resets the output state.
// Idempotent; safe to call with nothing playing.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing || c.cancel == nil {
		return
	}
	select {
	case <-c.cancel:
		// Already stopped.
	default:
		close(c.cancel)
	}
}

// IsPlaying reports whether a segment is currently on the output device.
func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}
