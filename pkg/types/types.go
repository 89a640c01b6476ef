// Package types defines the shared types used across all Antiphon packages.
//
// These types form the lingua franca between the capture pipeline, the turn
// orchestrator, provider adapters, and the history layer. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// SessionCredentials identifies one live conversation session with the external
// Session Service. Both values are opaque to the runtime: they are passed
// verbatim on every ASR and Generator call and never interpreted.
type SessionCredentials struct {
	// ID is the session identifier issued by the Session Service.
	ID string

	// Secret authenticates calls made on behalf of this session.
	Secret string
}

// Blob is a single captured user utterance or a synthesized agent segment:
// a self-contained, immutable PCM payload delimited by the voice activity
// detector (capture side) or produced by a TTS service (playback side).
type Blob struct {
	// PCM holds 16-bit signed little-endian samples.
	PCM []byte

	// SampleRate in Hz (e.g., 16000 for ASR input, 48000 for Discord output).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Start marks when capture of this blob began, relative to stream start.
	// Zero for synthesized audio.
	Start time.Duration

	// Duration is the audible length of the payload.
	Duration time.Duration
}

// Empty reports whether the blob carries no samples.
func (b Blob) Empty() bool { return len(b.PCM) == 0 }

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	// SpeakerUser marks entries transcribed from the user's speech or typed
	// by the user.
	SpeakerUser Speaker = "user"

	// SpeakerAgent marks entries spoken by the agent, one per reply segment.
	SpeakerAgent Speaker = "agent"

	// SpeakerSystem marks one-line runtime notices (e.g. a transient failure
	// apology). Never used for conversational content.
	SpeakerSystem Speaker = "system"
)

// IsValid reports whether s is a recognised speaker.
func (s Speaker) IsValid() bool {
	switch s {
	case SpeakerUser, SpeakerAgent, SpeakerSystem:
		return true
	}
	return false
}

// NoTurn is the TurnID value for transcript entries that do not belong to a
// turn (system notices, overlap speech recorded while another turn played).
// Turn ids issued by the registry start at 1.
const NoTurn uint64 = 0

// NoSegment is the SegmentIndex value for entries that are not an agent reply
// segment.
const NoSegment = -1

// TranscriptEntry is one line of the session transcript. Entries are
// append-only and globally ordered by append time within a session.
type TranscriptEntry struct {
	// Speaker is who produced the text.
	Speaker Speaker

	// Text is the entry content. For agent entries this is a single reply
	// segment with pause tokens stripped.
	Text string

	// Timestamp is the wall-clock append instant.
	Timestamp time.Time

	// TurnID tags the turn this entry belongs to, or NoTurn.
	TurnID uint64

	// SegmentIndex is the position of this segment within its reply for
	// agent entries, or NoSegment.
	SegmentIndex int
}

// IntentEvent carries an optional intent classification emitted alongside a
// generator reply. The runtime forwards these to the UI shell verbatim and
// never acts on them.
type IntentEvent struct {
	// TurnID is the turn whose reply produced this event.
	TurnID uint64

	// Intent is the generator-assigned label (e.g. "question", "farewell").
	Intent string

	// Score is the generator-assigned confidence or lead score.
	Score float64
}
