// Package embeddings defines the Service interface for vector embedding
// backends.
//
// An embeddings service maps text strings to dense float32 vectors. The
// conversation archive uses these vectors for semantic recall: transcript
// lines are embedded on append and queried by similarity when assembling
// generator context.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Service is the abstraction over any text-embedding backend.
//
// All embedding vectors returned by a single Service instance share the
// same dimensionality (returned by Dimensions). Callers must not mix
// vectors from different Service instances in the same similarity
// computation unless both use the same model and space.
type Service interface {
	// Embed computes the embedding vector for a single text string.
	// Returns a float32 slice of length Dimensions() or an error if the
	// request fails or ctx is cancelled. Text is passed through verbatim;
	// any model-specific formatting is the caller's responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of text strings
	// in a single backend call. The returned slice has the same length as
	// texts and the i-th element corresponds to texts[i]. Partial results
	// are not returned — on error the entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every embedding vector
	// produced by this service.
	Dimensions() int

	// ModelID returns the backend-specific model identifier
	// (e.g., "text-embedding-3-small"). Useful for logging and for
	// asserting consistent model usage across the archive.
	ModelID() string
}
