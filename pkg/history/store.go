// Package history is the conversation archive: every transcript entry is
// appended as it happens, and past entries can be read back by recency or
// recalled by semantic similarity.
//
// The turn pipeline works against the Store interface only; the postgres
// subpackage provides the durable implementation (pgx pool + pgvector) and
// mock an in-memory one for tests.
package history

import (
	"context"
	"fmt"

	"github.com/antiphonlabs/antiphon/pkg/provider/embeddings"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

// Store is the abstraction over the conversation archive.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append archives one transcript entry. embedding may be nil when the
	// entry was not embedded (system lines); such entries are excluded
	// from Search but still returned by Recent.
	Append(ctx context.Context, sessionID string, entry types.TranscriptEntry, embedding []float32) error

	// Recent returns up to limit entries of one conversation in
	// chronological order, newest window last.
	Recent(ctx context.Context, sessionID string, limit int) ([]types.TranscriptEntry, error)

	// Search returns the entries whose embeddings are closest to the
	// query, most similar first.
	Search(ctx context.Context, q Query) ([]Result, error)

	// Ping reports whether the archive is reachable.
	Ping(ctx context.Context) error
}

// Recaller pairs a Store with an embeddings service: it embeds entries on
// the way in and queries on the way out, so callers deal in plain text.
type Recaller struct {
	store    Store
	embedder embeddings.Service
}

// NewRecaller creates a Recaller. Both collaborators are required.
func NewRecaller(store Store, embedder embeddings.Service) (*Recaller, error) {
	if store == nil {
		return nil, fmt.Errorf("history: store must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("history: embedder must not be nil")
	}
	return &Recaller{store: store, embedder: embedder}, nil
}

// Archive embeds the entry text and appends it to the store. System lines
// are archived without an embedding; they carry no recall value.
func (r *Recaller) Archive(ctx context.Context, sessionID string, entry types.TranscriptEntry) error {
	var embedding []float32
	if entry.Speaker != types.SpeakerSystem && entry.Text != "" {
		vec, err := r.embedder.Embed(ctx, entry.Text)
		if err != nil {
			return fmt.Errorf("history: embed entry: %w", err)
		}
		embedding = vec
	}
	if err := r.store.Append(ctx, sessionID, entry, embedding); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Recall embeds the query text and returns the topK most similar archived
// lines, formatted as "speaker: text".
func (r *Recaller) Recall(ctx context.Context, sessionID, query string, topK int) ([]string, error) {
	if query == "" || topK <= 0 {
		return nil, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("history: embed query: %w", err)
	}
	results, err := r.store.Search(ctx, Query{
		SessionID: sessionID,
		Embedding: vec,
		TopK:      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("history: search: %w", err)
	}
	lines := make([]string, 0, len(results))
	for _, res := range results {
		lines = append(lines, fmt.Sprintf("%s: %s", res.Record.Entry.Speaker, res.Record.Entry.Text))
	}
	return lines, nil
}
