package resilience

import (
	"context"

	"github.com/antiphonlabs/antiphon/pkg/provider/tts"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

// TTSFallback wraps a [FallbackChain] of tts.Service providers and exposes
// the result as a tts.Service itself, so the speech driver stays unaware of
// how many backends sit behind it.
type TTSFallback struct {
	chain *FallbackChain[tts.Service]
}

// NewTTSFallback creates a fallback service with the given primary backend.
func NewTTSFallback(primary tts.Service, name string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		chain: NewFallbackChain(primary, name, cfg),
	}
}

// AddFallback appends a lower-priority backend.
func (t *TTSFallback) AddFallback(provider tts.Service, name string, cfg FallbackConfig) {
	t.chain.AddFallback(provider, name, cfg)
}

// Synthesize implements tts.Service by delegating to the first healthy
// backend in the chain.
func (t *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (types.Blob, error) {
	return ExecuteWithResult(ctx, t.chain, func(ctx context.Context, provider tts.Service) (types.Blob, error) {
		return provider.Synthesize(ctx, req)
	})
}

// Ensure TTSFallback implements tts.Service at compile time.
var _ tts.Service = (*TTSFallback)(nil)
