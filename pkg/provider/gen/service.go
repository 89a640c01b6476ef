// Package gen defines the Service interface for reply-generation backends.
//
// The orchestrator issues exactly one Generate call per turn, carrying the
// user's text and an opaque bag of context lines assembled upstream. The
// returned reply text may contain pause tokens (e.g. "[pause:1.5s]") which
// the segmentation layer interprets; generation backends pass them through
// untouched.
//
// Implementations must be safe for concurrent use.
package gen

import (
	"context"

	"github.com/antiphonlabs/antiphon/pkg/types"
)

// Request carries everything a backend needs to produce one reply.
type Request struct {
	// Credentials are the opaque session credentials issued by the session
	// service. Backends that reject them return a fault with kind
	// SessionExpired.
	Credentials types.SessionCredentials

	// UserText is the user's utterance or typed submission. Empty for a
	// proactive turn.
	UserText string

	// PersonaRef names the persona speaking. Opaque to the backend; it is
	// forwarded for tracing and prompt caching, while the persona's actual
	// voice lives in the Context lines.
	PersonaRef string

	// ModelRef names the model to use. Empty means the adapter's
	// configured default.
	ModelRef string

	// Context is an opaque ordered bag of context lines: persona summary,
	// recent transcript window, recalled history. The backend places them
	// verbatim into the system prompt.
	Context []string

	// Proactive marks a keep-alive turn: the agent re-engages after
	// silence instead of answering a user submission.
	Proactive bool
}

// Reply is the generated agent reply for one turn.
type Reply struct {
	// Text is the reply, possibly containing pause tokens.
	Text string

	// Intent optionally classifies the reply (e.g. "question",
	// "farewell") for UI shells that render it. Empty when the backend
	// does not classify.
	Intent string

	// Score is the backend's confidence in Intent, in [0,1]. Zero when
	// Intent is empty.
	Score float64
}

// Service is the abstraction over any reply-generation backend.
type Service interface {
	// Generate produces one reply. It blocks until the backend answers or
	// ctx is cancelled.
	Generate(ctx context.Context, req Request) (Reply, error)
}
