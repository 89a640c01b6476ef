package history

import (
	"time"

	"github.com/antiphonlabs/antiphon/pkg/types"
)

// Record is one archived transcript entry, pinned to its conversation.
type Record struct {
	// ID is the store-assigned identifier. Zero until appended.
	ID int64

	// SessionID names the conversation the entry belongs to.
	SessionID string

	// Entry is the transcript entry as the orchestrator appended it.
	Entry types.TranscriptEntry
}

// Result is one semantic search hit.
type Result struct {
	Record Record

	// Distance is the cosine distance between the query embedding and the
	// record's embedding. Smaller is more similar.
	Distance float64
}

// Query describes a semantic search over a single conversation.
type Query struct {
	// SessionID limits the search to one conversation. Empty searches all.
	SessionID string

	// Embedding is the query vector. Must match the store's dimensions.
	Embedding []float32

	// TopK caps the number of results.
	TopK int

	// Before, when non-zero, only matches entries older than it.
	Before time.Time
}
