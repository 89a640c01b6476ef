// Package mock provides in-memory mock implementations of the
// [audio.Platform] and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	conn := mock.NewConnection(16)
//	platform := &mock.Platform{ConnectResult: conn}
//	got, err := platform.Connect(ctx, "channel-42")
//	conn.PushInput(audio.Frame{Data: pcm, SampleRate: 48000, Channels: 2})
package mock

import (
	"context"
	"sync"

	"github.com/antiphonlabs/antiphon/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection]. Feed microphone
// frames to consumers via [Connection.PushInput] and inspect written output
// frames via [Connection.OutputFrames].
type Connection struct {
	mu sync.Mutex

	in  chan audio.Frame
	out chan audio.Frame

	// DisconnectError is returned by the first Disconnect call.
	DisconnectError error

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	outFrames    []audio.Frame
	disconnected bool
	drainDone    chan struct{}
}

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

// NewConnection creates a connected mock with the given channel buffer depth.
// A background goroutine collects every frame written to Output so tests can
// assert on them without pacing reads themselves.
func NewConnection(buffer int) *Connection {
	if buffer <= 0 {
		buffer = 16
	}
	c := &Connection{
		in:        make(chan audio.Frame, buffer),
		out:       make(chan audio.Frame, buffer),
		drainDone: make(chan struct{}),
	}
	go func() {
		defer close(c.drainDone)
		for f := range c.out {
			c.mu.Lock()
			c.outFrames = append(c.outFrames, f)
			c.mu.Unlock()
		}
	}()
	return c
}

// Input implements [audio.Connection].
func (c *Connection) Input() <-chan audio.Frame { return c.in }

// Output implements [audio.Connection].
func (c *Connection) Output() chan<- audio.Frame { return c.out }

// Disconnect implements [audio.Connection]. The first call closes the input
// channel and returns DisconnectError; subsequent calls are no-ops.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	if c.disconnected {
		return nil
	}
	c.disconnected = true
	close(c.in)
	return c.DisconnectError
}

// PushInput delivers a microphone frame to the Input channel. It blocks if
// the buffer is full. Calling PushInput after Disconnect panics, matching the
// contract that the platform stops producing once torn down.
func (c *Connection) PushInput(f audio.Frame) {
	c.in <- f
}

// OutputFrames returns a snapshot of all frames written to Output so far.
func (c *Connection) OutputFrames() []audio.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.Frame, len(c.outFrames))
	copy(out, c.outFrames)
	return out
}

// CloseOutput closes the output channel and waits for the collector goroutine
// to finish. Call at the end of a test that wrote output frames.
func (c *Connection) CloseOutput() {
	close(c.out)
	<-c.drainDone
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	// ChannelID is the channelID argument passed to Connect.
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Connection] returned by Connect.
	ConnectResult audio.Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Connect implements [audio.Platform]. Records the call and returns
// ConnectResult / ConnectError.
func (p *Platform) Connect(_ context.Context, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{ChannelID: channelID})
	return p.ConnectResult, p.ConnectError
}
