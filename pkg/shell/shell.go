// Package shell defines the boundary between the turn pipeline and a user
// interface. A shell renders what the conversation runtime pushes at it and
// hands back what the user does: typed submissions, typing activity, and
// session control.
//
// The runtime never blocks on a shell. Push methods must return promptly;
// slow shells drop updates rather than stall the pipeline.
package shell

import (
	"time"

	"github.com/antiphonlabs/antiphon/pkg/types"
)

// State is the coarse pipeline state a shell renders as indicators.
type State struct {
	// Speaking is true while agent audio is on the output device.
	Speaking bool

	// Recording is true while the microphone is being captured (i.e. the
	// detector is running and not suppressed).
	Recording bool

	// CurrentTurn is the most recent turn id, or types.NoTurn before the
	// first turn.
	CurrentTurn uint64
}

// TurnEvent mirrors one turn lifecycle event for display. Stage values
// follow internal/turn (opened, transcribing, generating, synthesizing,
// playing, closed, stale).
type TurnEvent struct {
	TurnID    uint64
	Stage     string
	Detail    string
	Timestamp time.Time
}

// Command is a session control action produced by the shell.
type Command int

const (
	// CommandStartSession asks the runtime to begin a conversation.
	CommandStartSession Command = iota

	// CommandStopSession asks the runtime to end the conversation.
	CommandStopSession
)

// String returns the human-readable name of the command.
func (c Command) String() string {
	switch c {
	case CommandStartSession:
		return "start_session"
	case CommandStopSession:
		return "stop_session"
	default:
		return "unknown"
	}
}

// Shell is the abstraction over any user interface.
//
// The push methods (TranscriptAppended, StateChanged, TurnEvent, Intent)
// are called from pipeline goroutines and must not block. The channels on
// the producing side stay open for the shell's lifetime; Close releases
// them.
type Shell interface {
	// TranscriptAppended delivers one new transcript entry, in global
	// append order.
	TranscriptAppended(entry types.TranscriptEntry)

	// StateChanged delivers the current pipeline state whenever a flag or
	// the turn id changes.
	StateChanged(state State)

	// TurnEvent delivers one turn lifecycle event.
	TurnEvent(ev TurnEvent)

	// Intent delivers an intent classification attached to a reply.
	Intent(ev types.IntentEvent)

	// Submissions emits user-typed text, one submission per element.
	Submissions() <-chan string

	// TypingChanges emits transitions of the user-is-typing flag.
	TypingChanges() <-chan bool

	// Commands emits session control actions.
	Commands() <-chan Command

	// Close releases the shell and closes its producing channels.
	Close() error
}
