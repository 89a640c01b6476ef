// Package mock provides a test double for the embeddings.Service interface.
//
// Use Service to return pre-canned embedding vectors without a live model
// and to verify that the correct texts are submitted for embedding.
//
// Example:
//
//	s := &mock.Service{
//	    EmbedResult:     []float32{0.1, 0.2, 0.3},
//	    DimensionsValue: 3,
//	    ModelIDValue:    "test-embed-v1",
//	}
//	vec, _ := s.Embed(ctx, "hello world")
package mock

import (
	"context"
	"sync"

	"github.com/antiphonlabs/antiphon/pkg/provider/embeddings"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	// Ctx is the context passed to Embed.
	Ctx context.Context
	// Text is the string passed to Embed.
	Text string
}

// EmbedBatchCall records a single invocation of EmbedBatch.
type EmbedBatchCall struct {
	// Ctx is the context passed to EmbedBatch.
	Ctx context.Context
	// Texts is a copy of the string slice passed to EmbedBatch.
	Texts []string
}

// Service is a mock implementation of embeddings.Service.
type Service struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// EmbedResult is returned by Embed. If nil, a zero-length slice is returned.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// EmbedBatchResult is returned by EmbedBatch. If nil, a slice of nil
	// slices matching the input length is returned.
	EmbedBatchResult [][]float32

	// EmbedBatchErr, if non-nil, is returned as the error from EmbedBatch.
	EmbedBatchErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// --- Call records ---

	// EmbedCalls records every call to Embed in order.
	EmbedCalls []EmbedCall

	// EmbedBatchCalls records every call to EmbedBatch in order.
	EmbedBatchCalls []EmbedBatchCall
}

// Embed records the call and returns EmbedResult, EmbedErr.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EmbedCalls = append(s.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	return s.EmbedResult, s.EmbedErr
}

// EmbedBatch records the call and returns EmbedBatchResult, EmbedBatchErr.
// If EmbedBatchResult is nil, it returns a slice of nil slices matching the
// length of texts.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	s.EmbedBatchCalls = append(s.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: cp})
	if s.EmbedBatchErr != nil {
		return nil, s.EmbedBatchErr
	}
	if s.EmbedBatchResult != nil {
		return s.EmbedBatchResult, nil
	}
	return make([][]float32, len(texts)), nil
}

// Dimensions returns DimensionsValue.
func (s *Service) Dimensions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DimensionsValue
}

// ModelID returns ModelIDValue.
func (s *Service) ModelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ModelIDValue
}

// Reset clears all recorded calls. Thread-safe.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EmbedCalls = nil
	s.EmbedBatchCalls = nil
}

// Ensure Service implements embeddings.Service at compile time.
var _ embeddings.Service = (*Service)(nil)
