// Package mock provides a test double for the tts.Service interface.
//
// Use Service in unit tests to verify the driver strips pause tokens before
// synthesis and to feed controlled audio blobs without a live backend.
//
// Example:
//
//	s := &mock.Service{Blob: types.Blob{PCM: pcm, SampleRate: 24000, Channels: 1}}
//	blob, err := s.Synthesize(ctx, tts.Request{Text: "hello"})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/antiphonlabs/antiphon/pkg/provider/tts"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

// SynthesizeCall records a single invocation of Service.Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the Request passed to Synthesize.
	Req tts.Request
}

// Scripted is one scripted Synthesize outcome.
type Scripted struct {
	Blob types.Blob
	Err  error
}

// Service is a mock implementation of tts.Service.
// When no blob is configured, Synthesize fabricates a short silent blob so
// downstream playback code has something playable.
type Service struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Replies, when non-empty, is consumed one element per call in order.
	// After the last element the fixed Blob/Err fields apply.
	Replies []Scripted

	// Blob is returned by Synthesize once Replies is exhausted. A zero
	// Blob makes Synthesize fabricate a 20 ms silent 24 kHz mono blob.
	Blob types.Blob

	// Err, if non-nil, is returned by Synthesize once Replies is exhausted.
	Err error

	// --- Call records (read after test) ---

	// SynthesizeCalls records every invocation in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the next scripted outcome.
func (s *Service) Synthesize(ctx context.Context, req tts.Request) (types.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})

	if len(s.Replies) > 0 {
		out := s.Replies[0]
		s.Replies = s.Replies[1:]
		return out.Blob, out.Err
	}
	if s.Err != nil {
		return types.Blob{}, s.Err
	}
	if s.Blob.Empty() {
		return silentBlob(), nil
	}
	return s.Blob, nil
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (s *Service) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SynthesizeCalls)
}

// Texts returns the Text field of every recorded call, in order.
func (s *Service) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.SynthesizeCalls))
	for i, c := range s.SynthesizeCalls {
		out[i] = c.Req.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SynthesizeCalls = nil
}

// silentBlob returns 20 ms of 24 kHz mono silence.
func silentBlob() types.Blob {
	const rate = 24000
	samples := rate / 50
	return types.Blob{
		PCM:        make([]byte, samples*2),
		SampleRate: rate,
		Channels:   1,
		Duration:   20 * time.Millisecond,
	}
}

// Ensure Service implements tts.Service at compile time.
var _ tts.Service = (*Service)(nil)
