// Package mock provides a test double for the gen.Service interface.
//
// Use Service in unit tests to verify that the orchestrator sends correct
// Requests and to feed controlled replies without a live backend.
//
// Example:
//
//	s := &mock.Service{Reply: gen.Reply{Text: "Hello! [pause:0.5s] How are you?"}}
//	reply, err := s.Generate(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/antiphonlabs/antiphon/pkg/provider/gen"
)

// GenerateCall records a single invocation of Service.Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the Request passed to Generate.
	Req gen.Request
}

// Scripted is one scripted Generate outcome.
type Scripted struct {
	Reply gen.Reply
	Err   error
}

// Service is a mock implementation of gen.Service.
// Zero values cause Generate to return a zero Reply and nil error.
type Service struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Replies, when non-empty, is consumed one element per call in order.
	// After the last element the fixed Reply/Err fields apply.
	Replies []Scripted

	// Reply is returned by Generate once Replies is exhausted.
	Reply gen.Reply

	// Err, if non-nil, is returned by Generate once Replies is exhausted.
	Err error

	// Delay, if non-nil, is closed by the test to release blocked calls.
	// While non-nil and open, Generate waits on it (or ctx).
	Delay chan struct{}

	// --- Call records (read after test) ---

	// GenerateCalls records every invocation in order.
	GenerateCalls []GenerateCall
}

// Generate records the call and returns the next scripted reply.
func (s *Service) Generate(ctx context.Context, req gen.Request) (gen.Reply, error) {
	s.mu.Lock()
	s.GenerateCalls = append(s.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})
	var out Scripted
	if len(s.Replies) > 0 {
		out = s.Replies[0]
		s.Replies = s.Replies[1:]
	} else {
		out = Scripted{Reply: s.Reply, Err: s.Err}
	}
	delay := s.Delay
	s.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return gen.Reply{}, ctx.Err()
		}
	}
	return out.Reply, out.Err
}

// CallCount returns the number of Generate calls. Thread-safe.
func (s *Service) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.GenerateCalls)
}

// LastCall returns the most recent recorded call, or false when none exist.
func (s *Service) LastCall() (GenerateCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.GenerateCalls) == 0 {
		return GenerateCall{}, false
	}
	return s.GenerateCalls[len(s.GenerateCalls)-1], true
}

// Reset clears all recorded calls. Thread-safe.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GenerateCalls = nil
}

// Ensure Service implements gen.Service at compile time.
var _ gen.Service = (*Service)(nil)
