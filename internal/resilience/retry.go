package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig controls the retry loop in [Retry].
type RetryConfig struct {
	// Attempts is the total number of tries, including the first.
	// Default: 3.
	Attempts int

	// BaseDelay is the sleep before the second attempt; later attempts
	// double it. Default: 250ms.
	BaseDelay time.Duration

	// MaxDelay caps the per-attempt sleep. Default: 2s.
	MaxDelay time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 250 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	return c
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that [Retry] stops immediately instead of trying
// again. Use it for conditions a retry cannot fix, such as a reply that went
// stale mid-operation.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the [Permanent] marker.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Retry runs fn up to cfg.Attempts times with exponential backoff between
// attempts. It stops early when fn succeeds, returns an error wrapped by
// [Permanent], or ctx is cancelled. The op label only appears in logs.
func Retry(ctx context.Context, cfg RetryConfig, op string, fn func() error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			var pe *permanentError
			errors.As(lastErr, &pe)
			return pe.err
		}
		if attempt == cfg.Attempts {
			break
		}

		slog.Warn("operation failed, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", cfg.Attempts,
			"delay", delay,
			"error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, cfg.Attempts, lastErr)
}
