// Package mock provides a test double for the asr.Service interface.
//
// Use Service in unit tests to verify that the orchestrator sends correct
// Requests and to feed controlled transcripts without a live backend.
//
// Example:
//
//	s := &mock.Service{Result: asr.Result{Text: "hello there"}}
//	res, err := s.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/antiphonlabs/antiphon/pkg/provider/asr"
)

// TranscribeCall records a single invocation of Service.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the Request passed to Transcribe.
	Req asr.Request
}

// Reply is one scripted Transcribe outcome.
type Reply struct {
	Result asr.Result
	Err    error
}

// Service is a mock implementation of asr.Service.
// Zero values cause Transcribe to return a zero Result and nil error.
type Service struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Replies, when non-empty, is consumed one element per call in order.
	// After the last element the fixed Result/Err fields apply.
	Replies []Reply

	// Result is returned by Transcribe once Replies is exhausted.
	Result asr.Result

	// Err, if non-nil, is returned by Transcribe once Replies is exhausted.
	Err error

	// Delay, if non-nil, is closed by the test to release blocked calls.
	// While non-nil and open, Transcribe waits on it (or ctx).
	Delay chan struct{}

	// --- Call records (read after test) ---

	// TranscribeCalls records every invocation in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the next scripted reply.
func (s *Service) Transcribe(ctx context.Context, req asr.Request) (asr.Result, error) {
	s.mu.Lock()
	s.TranscribeCalls = append(s.TranscribeCalls, TranscribeCall{Ctx: ctx, Req: req})
	var reply Reply
	if len(s.Replies) > 0 {
		reply = s.Replies[0]
		s.Replies = s.Replies[1:]
	} else {
		reply = Reply{Result: s.Result, Err: s.Err}
	}
	delay := s.Delay
	s.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return asr.Result{}, ctx.Err()
		}
	}
	return reply.Result, reply.Err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (s *Service) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TranscribeCalls = nil
}

// Ensure Service implements asr.Service at compile time.
var _ asr.Service = (*Service)(nil)
