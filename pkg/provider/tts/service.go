// Package tts defines the Service interface for text-to-speech backends.
//
// Synthesis is per segment: the speech driver splits a reply at its pause
// tokens, strips them, and synthesizes each spoken span as one blocking
// call. Because playback never overlaps and pauses separate segments
// anyway, a whole-segment blob is the natural unit — no streaming contract
// is needed.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/antiphonlabs/antiphon/pkg/types"
)

// Request carries one spoken span to synthesize. Text must not contain
// pause tokens; the caller strips them first.
type Request struct {
	// Text is the plain text to speak.
	Text string

	// VoiceRef names the voice. Its meaning is backend-specific (an
	// ElevenLabs voice id, an OpenAI voice name). Empty means the
	// adapter's configured default.
	VoiceRef string
}

// Service is the abstraction over any text-to-speech backend.
type Service interface {
	// Synthesize converts the request text into a PCM blob. It blocks
	// until synthesis completes or ctx is cancelled. The returned blob
	// carries its own sample rate and channel count; the playback layer
	// converts to the platform format.
	Synthesize(ctx context.Context, req Request) (types.Blob, error)
}
