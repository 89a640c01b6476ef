package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned by [FallbackChain.Execute] when the primary and
// every fallback either failed or was skipped by its circuit breaker.
var ErrAllFailed = errors.New("all providers in the chain failed")

// chainEntry pairs a provider with its own circuit breaker so that a flaky
// backend is skipped quickly instead of being probed on every call.
type chainEntry[T any] struct {
	provider T
	name     string
	breaker  *CircuitBreaker
}

// FallbackConfig controls how a chain entry's circuit breaker behaves.
type FallbackConfig struct {
	// Breaker holds the circuit breaker tuning for the entry. The Name
	// field is overwritten with the entry name.
	Breaker BreakerConfig
}

// FallbackChain holds an ordered list of interchangeable providers. Execute
// tries them in order, skipping any whose breaker is open, and returns the
// first success.
//
// T is the provider interface type, e.g. tts.Service.
type FallbackChain[T any] struct {
	mu      sync.RWMutex
	entries []chainEntry[T]
}

// NewFallbackChain creates a chain with the given primary provider.
func NewFallbackChain[T any](primary T, name string, cfg FallbackConfig) *FallbackChain[T] {
	c := &FallbackChain[T]{}
	c.add(primary, name, cfg)
	return c
}

// AddFallback appends a lower-priority provider to the chain.
func (c *FallbackChain[T]) AddFallback(provider T, name string, cfg FallbackConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(provider, name, cfg)
}

func (c *FallbackChain[T]) add(provider T, name string, cfg FallbackConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(provider, name, cfg)
}

func (c *FallbackChain[T]) addLocked(provider T, name string, cfg FallbackConfig) {
	bcfg := cfg.Breaker
	bcfg.Name = name
	c.entries = append(c.entries, chainEntry[T]{
		provider: provider,
		name:     name,
		breaker:  NewCircuitBreaker(bcfg),
	})
}

// Len returns the number of providers in the chain.
func (c *FallbackChain[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Execute tries fn against each provider in priority order. Providers whose
// breakers are open are skipped. The first nil error wins. If every entry
// fails or is skipped, the returned error wraps [ErrAllFailed] together with
// the last provider error observed.
func (c *FallbackChain[T]) Execute(ctx context.Context, fn func(ctx context.Context, provider T) error) error {
	c.mu.RLock()
	entries := make([]chainEntry[T], len(c.entries))
	copy(entries, c.entries)
	c.mu.RUnlock()

	var lastErr error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := entry.breaker.Execute(func() error {
			return fn(ctx, entry.provider)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider with open breaker",
				"provider", entry.name)
			continue
		}

		lastErr = err
		slog.Warn("provider failed, trying next in chain",
			"provider", entry.name,
			"error", err)
	}

	if lastErr != nil {
		return fmt.Errorf("%w: last error: %w", ErrAllFailed, lastErr)
	}
	return ErrAllFailed
}

// ExecuteWithResult runs fn against each provider in the chain and returns
// the first successful result. It is a package-level function because Go
// methods cannot introduce their own type parameters.
func ExecuteWithResult[T, R any](ctx context.Context, c *FallbackChain[T], fn func(ctx context.Context, provider T) (R, error)) (R, error) {
	var result R
	err := c.Execute(ctx, func(ctx context.Context, provider T) error {
		r, err := fn(ctx, provider)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}
