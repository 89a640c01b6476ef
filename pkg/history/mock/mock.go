// Package mock provides an in-memory implementation of history.Store.
//
// The store behaves like the real archive — entries accumulate in append
// order, Recent returns the newest window, Search ranks by cosine distance
// over the stored embeddings — so tests can exercise the recall path without
// a database.
package mock

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/antiphonlabs/antiphon/pkg/history"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

// Store is an in-memory mock implementation of history.Store.
type Store struct {
	mu sync.Mutex

	// AppendErr, if non-nil, is returned by every Append call.
	AppendErr error

	// RecentErr, if non-nil, is returned by every Recent call.
	RecentErr error

	// SearchErr, if non-nil, is returned by every Search call.
	SearchErr error

	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	records    []history.Record
	embeddings map[int64][]float32
	nextID     int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		embeddings: make(map[int64][]float32),
		nextID:     1,
	}
}

// Append implements history.Store.
func (s *Store) Append(_ context.Context, sessionID string, entry types.TranscriptEntry, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	rec := history.Record{ID: s.nextID, SessionID: sessionID, Entry: entry}
	s.nextID++
	s.records = append(s.records, rec)
	if len(embedding) > 0 {
		vec := make([]float32, len(embedding))
		copy(vec, embedding)
		s.embeddings[rec.ID] = vec
	}
	return nil
}

// Recent implements history.Store.
func (s *Store) Recent(_ context.Context, sessionID string, limit int) ([]types.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	var matched []types.TranscriptEntry
	for _, rec := range s.records {
		if rec.SessionID == sessionID {
			matched = append(matched, rec.Entry)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

// Search implements history.Store. It ranks stored embedded entries by
// cosine distance to the query embedding.
func (s *Store) Search(_ context.Context, q history.Query) ([]history.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}

	var results []history.Result
	for _, rec := range s.records {
		if q.SessionID != "" && rec.SessionID != q.SessionID {
			continue
		}
		if !q.Before.IsZero() && !rec.Entry.Timestamp.Before(q.Before) {
			continue
		}
		vec, ok := s.embeddings[rec.ID]
		if !ok {
			continue
		}
		results = append(results, history.Result{
			Record:   rec,
			Distance: cosineDistance(q.Embedding, vec),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if q.TopK > 0 && len(results) > q.TopK {
		results = results[:q.TopK]
	}
	return results, nil
}

// Ping implements history.Store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Len returns the number of archived records. Thread-safe.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records returns a copy of every archived record in append order.
func (s *Store) Records() []history.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.Record, len(s.records))
	copy(out, s.records)
	return out
}

// cosineDistance returns 1 − cosine similarity. Mismatched or zero-length
// vectors are treated as maximally distant.
func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// Ensure Store implements history.Store at compile time.
var _ history.Store = (*Store)(nil)
