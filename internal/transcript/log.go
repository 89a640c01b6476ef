// Package transcript holds the per-session conversation record and the
// correction stage applied to raw ASR output before it is used.
//
// The [Log] is append-only: entries are never edited or removed once
// appended, so every consumer (UI shells, the brief assembler, the archive)
// observes the same global order. All writes flow through the orchestrator
// goroutine; the Log itself is still locked so readers on other goroutines
// see consistent snapshots.
package transcript

import (
	"sync"
	"time"

	"github.com/antiphonlabs/antiphon/pkg/types"
)

// Log is the append-only transcript of one session.
type Log struct {
	mu      sync.RWMutex
	entries []types.TranscriptEntry
}

// NewLog creates an empty transcript log.
func NewLog() *Log {
	return &Log{}
}

// Append adds one entry to the log and returns it. A zero Timestamp is
// stamped with the current time.
func (l *Log) Append(entry types.TranscriptEntry) types.TranscriptEntry {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return entry
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of all entries in append order.
func (l *Log) Entries() []types.TranscriptEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.TranscriptEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Last returns the most recent entry, or false when the log is empty.
func (l *Log) Last() (types.TranscriptEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return types.TranscriptEntry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Window returns the newest n entries in chronological order. When the log
// holds fewer than n entries, all of them are returned.
func (l *Log) Window(n int) []types.TranscriptEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || len(l.entries) == 0 {
		return nil
	}
	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]types.TranscriptEntry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}
