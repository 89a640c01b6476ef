// Package brief assembles the generation context for every generator call.
//
// A brief consists of three parts fetched concurrently: the persona summary,
// the recent conversation window from the archive, and semantic recalls of
// older conversation relevant to what the user just said. Use [Format] to
// convert a [Brief] into the opaque context lines the generator request
// carries.
package brief

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antiphonlabs/antiphon/internal/persona"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

// RecentSource provides the recent conversation window.
// pkg/history.Store satisfies it.
type RecentSource interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]types.TranscriptEntry, error)
}

// RecallSource provides semantic recall of older conversation.
// pkg/history.Recaller satisfies it.
type RecallSource interface {
	Recall(ctx context.Context, sessionID, query string, topK int) ([]string, error)
}

// Brief is the assembled context for one generator call.
type Brief struct {
	// Persona is the resolved agent identity.
	Persona persona.Persona

	// Recent is the recent conversation window, oldest first.
	Recent []types.TranscriptEntry

	// Recalls are semantically relevant lines from older conversation.
	Recalls []string

	// AssemblyDuration records how long [Assembler.Assemble] took.
	AssemblyDuration time.Duration
}

// Assembler fetches the brief components concurrently.
type Assembler struct {
	registry *persona.Registry
	recent   RecentSource
	recaller RecallSource

	maxEntries int
	recallTopK int
}

// Option is a functional option for [NewAssembler].
type Option func(*Assembler)

// WithMaxRecentEntries caps the recent conversation window. Default: 20.
func WithMaxRecentEntries(n int) Option {
	return func(a *Assembler) { a.maxEntries = n }
}

// WithRecallTopK sets how many semantic recalls are requested. Default: 3.
func WithRecallTopK(k int) Option {
	return func(a *Assembler) { a.recallTopK = k }
}

// NewAssembler creates an [Assembler]. registry and recent are required;
// recaller may be nil, in which case semantic recall is skipped.
func NewAssembler(registry *persona.Registry, recent RecentSource, recaller RecallSource, opts ...Option) (*Assembler, error) {
	if registry == nil {
		return nil, fmt.Errorf("brief: persona registry is required")
	}
	if recent == nil {
		return nil, fmt.Errorf("brief: recent source is required")
	}
	a := &Assembler{
		registry:   registry,
		recent:     recent,
		recaller:   recaller,
		maxEntries: 20,
		recallTopK: 3,
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Assemble resolves the persona and fetches the recent window and semantic
// recalls in parallel. userText seeds the recall query; when empty (e.g. a
// proactive keep-alive turn) recall is skipped and only the recent window is
// fetched.
//
// Any fetch error aborts assembly; callers decide whether to degrade to an
// uncontexted generation.
func (a *Assembler) Assemble(ctx context.Context, personaRef, sessionID, userText string) (*Brief, error) {
	start := time.Now()

	p, err := a.registry.Resolve(personaRef)
	if err != nil {
		return nil, fmt.Errorf("brief: %w", err)
	}

	var (
		recent  []types.TranscriptEntry
		recalls []string
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		entries, err := a.recent.Recent(egCtx, sessionID, a.maxEntries)
		if err != nil {
			return fmt.Errorf("brief: recent window for session %q: %w", sessionID, err)
		}
		recent = entries
		return nil
	})

	if a.recaller != nil && userText != "" {
		eg.Go(func() error {
			lines, err := a.recaller.Recall(egCtx, sessionID, userText, a.recallTopK)
			if err != nil {
				return fmt.Errorf("brief: recall for session %q: %w", sessionID, err)
			}
			recalls = lines
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &Brief{
		Persona:          p,
		Recent:           recent,
		Recalls:          recalls,
		AssemblyDuration: time.Since(start),
	}, nil
}
