// Package persona manages the agent identities a deployment can speak as.
//
// A persona bundles everything the pipeline resolves per conversation: the
// voice the synthesizer uses, the model the generator targets, the lexicon
// the transcript corrector aligns against, and the summary the briefing
// layer injects into generation context. Personas are declared in a YAML
// file loaded at startup ([LoadFile]) and served from an in-memory
// [Registry].
//
// All registry operations are safe for concurrent use.
package persona

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Resolve when no persona with that ref exists.
var ErrNotFound = errors.New("persona not found")

// Persona is one agent identity.
type Persona struct {
	// Ref is the stable identifier other components use to address this
	// persona. Required.
	Ref string `yaml:"ref"`

	// Name is the display name, also used when formatting transcript
	// context for the generator. Required.
	Name string `yaml:"name"`

	// VoiceRef names the synthesizer voice. Its meaning is TTS-backend
	// specific; empty means the backend default.
	VoiceRef string `yaml:"voice_ref"`

	// ModelRef names the generator model for this persona. Empty means
	// the generator adapter's configured default.
	ModelRef string `yaml:"model_ref"`

	// Summary is a short description of who the persona is and how it
	// speaks. It becomes part of the generation context.
	Summary string `yaml:"summary"`

	// Greeting is spoken when a session starts. Optional.
	Greeting string `yaml:"greeting"`

	// Lexicon lists names and domain terms the speech model is likely to
	// mishear. The transcript corrector aligns ASR output against it.
	Lexicon []string `yaml:"lexicon,omitempty"`
}

// validate reports whether the persona carries the required fields.
func (p Persona) validate() error {
	if p.Ref == "" {
		return errors.New("persona: ref is required")
	}
	if p.Name == "" {
		return fmt.Errorf("persona %q: name is required", p.Ref)
	}
	return nil
}

// Registry holds the loaded personas and resolves refs for the rest of the
// pipeline. It is read-only after construction.
type Registry struct {
	mu         sync.RWMutex
	personas   map[string]Persona
	defaultRef string
}

// NewRegistry builds a registry from the given personas. defaultRef selects
// the persona returned for an empty ref; when defaultRef is empty the first
// persona becomes the default. Duplicate refs and invalid personas are
// rejected.
func NewRegistry(defaultRef string, personas []Persona) (*Registry, error) {
	if len(personas) == 0 {
		return nil, errors.New("persona: at least one persona is required")
	}

	m := make(map[string]Persona, len(personas))
	for _, p := range personas {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, exists := m[p.Ref]; exists {
			return nil, fmt.Errorf("persona: duplicate ref %q", p.Ref)
		}
		m[p.Ref] = p
	}

	if defaultRef == "" {
		defaultRef = personas[0].Ref
	}
	if _, ok := m[defaultRef]; !ok {
		return nil, fmt.Errorf("persona: default ref %q is not defined", defaultRef)
	}

	return &Registry{personas: m, defaultRef: defaultRef}, nil
}

// Resolve returns the persona for ref. An empty ref resolves to the
// registry default. Returns [ErrNotFound] for unknown refs.
func (r *Registry) Resolve(ref string) (Persona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ref == "" {
		ref = r.defaultRef
	}
	p, ok := r.personas[ref]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %q", ErrNotFound, ref)
	}
	return p, nil
}

// Default returns the default persona.
func (r *Registry) Default() Persona {
	p, _ := r.Resolve("")
	return p
}

// Refs returns the refs of all loaded personas. Order is not guaranteed.
func (r *Registry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.personas))
	for ref := range r.personas {
		out = append(out, ref)
	}
	return out
}

// Len returns the number of loaded personas.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.personas)
}
