// Package asr defines the Service interface for speech-to-text backends.
//
// The capture pipeline hands over one finished utterance at a time as a PCM
// blob; Transcribe is a single batch call per utterance. There is no
// streaming contract — partial transcripts never drive the conversation, so
// the interface stays a plain request/response pair.
//
// Implementations must be safe for concurrent use.
package asr

import (
	"context"
	"time"

	"github.com/antiphonlabs/antiphon/pkg/types"
)

// Request carries one utterance to be transcribed.
type Request struct {
	// Credentials are the opaque session credentials issued by the session
	// service. Every external call carries them; backends that reject them
	// return a fault with kind SessionExpired.
	Credentials types.SessionCredentials

	// Audio is the utterance blob: 16-bit little-endian PCM, typically
	// 16 kHz mono as produced by the capture detector.
	Audio types.Blob

	// ModelHint optionally names the model to use. Empty means the
	// adapter's configured default.
	ModelHint string
}

// Result is the transcription of a single utterance.
type Result struct {
	// Text is the transcribed text. May be empty when the utterance
	// contained no recognisable speech.
	Text string

	// Duration is the audio duration the backend reports it processed.
	// Zero when the backend does not report one.
	Duration time.Duration
}

// Service is the abstraction over any speech-to-text backend.
type Service interface {
	// Transcribe converts one utterance blob to text. It blocks until the
	// backend answers or ctx is cancelled. An empty Result.Text with a nil
	// error is a valid outcome (silence, breath noise).
	Transcribe(ctx context.Context, req Request) (Result, error)
}
