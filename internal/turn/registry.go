// Package turn provides the monotonic turn registry and the turn-scoped event
// stream.
//
// The registry is the single cancellation primitive of the runtime: every
// pipeline stage tags its work with the turn id it was opened under and
// re-checks [Registry.IsStale] at its graceful stopping points. There are no
// per-turn cancellation tokens — staleness is one integer comparison, which
// keeps the model cheap and easy to reason about under concurrency.
package turn

import "sync/atomic"

// Registry issues monotonically increasing turn identifiers for one session.
// Ids start at 1; 0 is reserved for "no turn" (types.NoTurn).
//
// All methods are safe for concurrent use; reads are lock-free.
type Registry struct {
	current atomic.Uint64
}

// NewRegistry returns a registry with no turns opened yet.
func NewRegistry() *Registry {
	return &Registry{}
}

// Open atomically increments the counter and returns the new current turn id.
// Opening a turn makes every previously issued id stale.
func (r *Registry) Open() uint64 {
	return r.current.Add(1)
}

// Current returns the latest issued turn id, or 0 if none has been opened.
func (r *Registry) Current() uint64 {
	return r.current.Load()
}

// IsStale reports whether id is no longer the current turn. Work tagged with a
// stale id must abandon its remaining steps at the next graceful stopping
// point; the current atomic step is allowed to finish.
func (r *Registry) IsStale(id uint64) bool {
	return id != r.current.Load()
}
