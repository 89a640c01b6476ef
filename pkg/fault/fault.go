// Package fault defines the error taxonomy shared by the Antiphon runtime.
//
// Every recoverable failure in the capture → transcribe → generate → synthesize
// → play pipeline is classified into a [Kind]. The kind determines recovery:
// most kinds drop a single turn or segment and leave the session running,
// [KindSessionExpired] tears the session down, and [KindInvalidated] is the one
// "error" that is entirely expected (barge-in and staleness) and must never be
// surfaced to the user.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// KindUnknown is the zero value; used when an error was not classified.
	KindUnknown Kind = iota

	// KindPermissionDenied: the microphone could not be acquired because the
	// platform denied access. The session stays alive but mute.
	KindPermissionDenied

	// KindDeviceBusy: the audio device is held by another process.
	KindDeviceBusy

	// KindNotSupported: the platform has no usable capture or playback path.
	KindNotSupported

	// KindTranscriptionFailed: the ASR service errored or timed out. The turn
	// is dropped and the capture loop resumes.
	KindTranscriptionFailed

	// KindGenerationFailed: the Generator service errored or timed out. The
	// turn is dropped and the capture loop resumes.
	KindGenerationFailed

	// KindSynthesisFailed: TTS failed after retry exhaustion for one segment.
	// The segment is skipped and the turn continues.
	KindSynthesisFailed

	// KindPlaybackFailed: the output device errored mid-segment. Treated like
	// KindSynthesisFailed for that segment.
	KindPlaybackFailed

	// KindSessionExpired: a collaborator rejected the session credentials.
	// The only kind that ends the session.
	KindSessionExpired

	// KindInvalidated: the turn went stale through barge-in, a text
	// submission, or teardown. Expected outcome; silent.
	KindInvalidated
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindDeviceBusy:
		return "device_busy"
	case KindNotSupported:
		return "not_supported"
	case KindTranscriptionFailed:
		return "transcription_failed"
	case KindGenerationFailed:
		return "generation_failed"
	case KindSynthesisFailed:
		return "synthesis_failed"
	case KindPlaybackFailed:
		return "playback_failed"
	case KindSessionExpired:
		return "session_expired"
	case KindInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// EndsSession reports whether an error of this kind tears the session down.
func (k Kind) EndsSession() bool { return k == KindSessionExpired }

// Silent reports whether an error of this kind must never produce a
// user-visible message.
func (k Kind) Silent() bool { return k == KindInvalidated }

// Error is a classified pipeline failure. It wraps the underlying cause so
// that errors.Is and errors.As keep working through it.
type Error struct {
	// Kind classifies the failure and selects the recovery path.
	Kind Kind

	// Op names the operation that failed (e.g. "asr.transcribe").
	Op string

	// Err is the underlying cause. May be nil for signal-only errors such as
	// invalidation.
	Err error
}

// New builds a classified error wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the [Kind] from err, walking the wrap chain. Returns
// KindUnknown for nil or unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Invalidated returns the silent staleness error for the given operation.
func Invalidated(op string) *Error {
	return &Error{Kind: KindInvalidated, Op: op}
}

// IsInvalidated reports whether err is (or wraps) an invalidation.
func IsInvalidated(err error) bool { return KindOf(err) == KindInvalidated }
