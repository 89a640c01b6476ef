package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/antiphonlabs/antiphon/pkg/audio"
	"github.com/antiphonlabs/antiphon/pkg/provider/asr"
	"github.com/antiphonlabs/antiphon/pkg/provider/embeddings"
	"github.com/antiphonlabs/antiphon/pkg/provider/gen"
	"github.com/antiphonlabs/antiphon/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	asr        map[string]func(ProviderEntry) (asr.Service, error)
	gen        map[string]func(ProviderEntry) (gen.Service, error)
	tts        map[string]func(ProviderEntry) (tts.Service, error)
	embeddings map[string]func(ProviderEntry) (embeddings.Service, error)
	audio      map[string]func(ProviderEntry) (audio.Platform, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		asr:        make(map[string]func(ProviderEntry) (asr.Service, error)),
		gen:        make(map[string]func(ProviderEntry) (gen.Service, error)),
		tts:        make(map[string]func(ProviderEntry) (tts.Service, error)),
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Service, error)),
		audio:      make(map[string]func(ProviderEntry) (audio.Platform, error)),
	}
}

// RegisterASR registers an ASR service factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterASR(name string, factory func(ProviderEntry) (asr.Service, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = factory
}

// RegisterGen registers a generator service factory under name.
func (r *Registry) RegisterGen(name string, factory func(ProviderEntry) (gen.Service, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen[name] = factory
}

// RegisterTTS registers a TTS service factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Service, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterEmbeddings registers an embeddings service factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Service, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// RegisterAudio registers an audio platform factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Platform, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateASR instantiates an ASR service using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateASR(entry ProviderEntry) (asr.Service, error) {
	r.mu.RLock()
	factory, ok := r.asr[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateGen instantiates a generator service using the factory registered
// under entry.Name.
func (r *Registry) CreateGen(entry ProviderEntry) (gen.Service, error) {
	r.mu.RLock()
	factory, ok := r.gen[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: gen/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS service using the factory registered under
// entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Service, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings service using the factory
// registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Service, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudio instantiates an audio platform using the factory registered
// under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Platform, error) {
	r.mu.RLock()
	factory, ok := r.audio[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
