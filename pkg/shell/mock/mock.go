// Package mock provides a scriptable test double for the shell.Shell
// interface.
//
// Tests push user behaviour through SubmitText, SetTyping, and SendCommand,
// and inspect what the pipeline rendered via the recorded entries, states,
// and events.
package mock

import (
	"sync"

	"github.com/antiphonlabs/antiphon/pkg/shell"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

// Shell is a mock implementation of shell.Shell.
type Shell struct {
	mu sync.Mutex

	// --- Records (read after test) ---

	// Entries records every TranscriptAppended call in order.
	Entries []types.TranscriptEntry

	// States records every StateChanged call in order.
	States []shell.State

	// TurnEvents records every TurnEvent call in order.
	TurnEvents []shell.TurnEvent

	// Intents records every Intent call in order.
	Intents []types.IntentEvent

	submissions chan string
	typing      chan bool
	commands    chan shell.Command

	closed    bool
	closeOnce sync.Once
}

// NewShell creates a mock shell with buffered producing channels.
func NewShell() *Shell {
	return &Shell{
		submissions: make(chan string, 16),
		typing:      make(chan bool, 16),
		commands:    make(chan shell.Command, 16),
	}
}

// TranscriptAppended implements shell.Shell.
func (s *Shell) TranscriptAppended(entry types.TranscriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Entries = append(s.Entries, entry)
}

// StateChanged implements shell.Shell.
func (s *Shell) StateChanged(state shell.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.States = append(s.States, state)
}

// TurnEvent implements shell.Shell.
func (s *Shell) TurnEvent(ev shell.TurnEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TurnEvents = append(s.TurnEvents, ev)
}

// Intent implements shell.Shell.
func (s *Shell) Intent(ev types.IntentEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Intents = append(s.Intents, ev)
}

// Submissions implements shell.Shell.
func (s *Shell) Submissions() <-chan string { return s.submissions }

// TypingChanges implements shell.Shell.
func (s *Shell) TypingChanges() <-chan bool { return s.typing }

// Commands implements shell.Shell.
func (s *Shell) Commands() <-chan shell.Command { return s.commands }

// Close implements shell.Shell. Idempotent.
func (s *Shell) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.submissions)
		close(s.typing)
		close(s.commands)
	})
	return nil
}

// SubmitText scripts a user text submission.
func (s *Shell) SubmitText(text string) { s.submissions <- text }

// SetTyping scripts a typing-flag transition.
func (s *Shell) SetTyping(active bool) { s.typing <- active }

// SendCommand scripts a session control action.
func (s *Shell) SendCommand(c shell.Command) { s.commands <- c }

// EntryTexts returns the Text of every rendered transcript entry, in order.
func (s *Shell) EntryTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.Text
	}
	return out
}

// EntryRecords returns a copy of the rendered transcript entries, in order.
func (s *Shell) EntryRecords() []types.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.TranscriptEntry, len(s.Entries))
	copy(out, s.Entries)
	return out
}

// TurnEventRecords returns a copy of the rendered turn events, in order.
func (s *Shell) TurnEventRecords() []shell.TurnEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]shell.TurnEvent, len(s.TurnEvents))
	copy(out, s.TurnEvents)
	return out
}

// IntentRecords returns a copy of the rendered intent events, in order.
func (s *Shell) IntentRecords() []types.IntentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.IntentEvent, len(s.Intents))
	copy(out, s.Intents)
	return out
}

// StageSeen reports whether a turn event with the given id and stage was
// rendered.
func (s *Shell) StageSeen(turnID uint64, stage string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.TurnEvents {
		if ev.TurnID == turnID && ev.Stage == stage {
			return true
		}
	}
	return false
}

// StateRecords returns a copy of the rendered states, in order.
func (s *Shell) StateRecords() []shell.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]shell.State, len(s.States))
	copy(out, s.States)
	return out
}

// LastState returns the most recent rendered state, or false when none.
func (s *Shell) LastState() (shell.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.States) == 0 {
		return shell.State{}, false
	}
	return s.States[len(s.States)-1], true
}

// Ensure Shell implements shell.Shell at compile time.
var _ shell.Shell = (*Shell)(nil)
