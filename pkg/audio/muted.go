package audio

import "sync"

// Muted returns a [Connection] with no capture stream and a discarded output
// stream. The session layer falls back to it when the platform denies
// microphone access, keeping the conversation alive text-only: the input
// channel stays open but never produces a frame, and agent audio written to
// the output is drained so playback pacing never blocks.
func Muted() Connection {
	m := &mutedConnection{
		input:  make(chan Frame),
		output: make(chan Frame, 8),
		done:   make(chan struct{}),
	}
	go m.drainOutput()
	return m
}

type mutedConnection struct {
	input  chan Frame
	output chan Frame
	done   chan struct{}
	once   sync.Once
}

func (m *mutedConnection) Input() <-chan Frame  { return m.input }
func (m *mutedConnection) Output() chan<- Frame { return m.output }

func (m *mutedConnection) Disconnect() error {
	m.once.Do(func() {
		close(m.done)
		close(m.input)
	})
	return nil
}

func (m *mutedConnection) drainOutput() {
	for {
		select {
		case <-m.done:
			return
		case <-m.output:
		}
	}
}
