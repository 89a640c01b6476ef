package persona

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the top-level structure of a persona YAML file.
//
// Example:
//
//	default: aria
//	personas:
//	  - ref: aria
//	    name: "Aria"
//	    voice_ref: "nova"
//	    summary: "A calm, concise assistant."
//	    greeting: "Hi, I'm Aria. What are we working on?"
//	    lexicon: ["Veliqora", "Brontide"]
type File struct {
	// Default selects the persona used when no ref is given. Empty means
	// the first persona in the list.
	Default string `yaml:"default"`

	// Personas lists the available identities.
	Personas []Persona `yaml:"personas"`
}

// LoadFile reads a persona YAML file from disk and builds a [Registry].
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persona: open file %q: %w", path, err)
	}
	defer f.Close()

	reg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("persona: parse file %q: %w", path, err)
	}
	return reg, nil
}

// LoadFromReader parses persona YAML from an [io.Reader] and builds a
// [Registry]. The reader is consumed entirely; the caller closes it.
func LoadFromReader(r io.Reader) (*Registry, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("persona: decode yaml: %w", err)
	}
	return NewRegistry(file.Default, file.Personas)
}
