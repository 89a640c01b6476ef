package persona_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/antiphonlabs/antiphon/internal/persona"
)

const validPersonaYAML = `
default: aria
personas:
  - ref: aria
    name: "Aria"
    voice_ref: "nova"
    model_ref: "gpt-4.1-mini"
    summary: "A calm, concise assistant."
    greeting: "Hi, I'm Aria."
    lexicon:
      - Veliqora
      - Brontide
  - ref: sage
    name: "Sage"
    voice_ref: "onyx"
    summary: "A slow, thoughtful narrator."
`

const minimalPersonaYAML = `
personas:
  - ref: solo
    name: "Solo"
`

func TestLoadFromReader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		input       string
		wantErr     bool
		wantDefault string
		wantCount   int
	}{
		{
			name:        "valid file",
			input:       validPersonaYAML,
			wantDefault: "aria",
			wantCount:   2,
		},
		{
			name:        "minimal file defaults to first persona",
			input:       minimalPersonaYAML,
			wantDefault: "solo",
			wantCount:   1,
		},
		{
			name:    "no personas",
			input:   "personas: []\n",
			wantErr: true,
		},
		{
			name:    "unknown top-level key",
			input:   "personas:\n  - ref: a\n    name: A\nunknown_key: true\n",
			wantErr: true,
		},
		{
			name:    "missing name",
			input:   "personas:\n  - ref: a\n",
			wantErr: true,
		},
		{
			name:    "duplicate refs",
			input:   "personas:\n  - ref: a\n    name: A\n  - ref: a\n    name: B\n",
			wantErr: true,
		},
		{
			name:    "default points at unknown ref",
			input:   "default: ghost\npersonas:\n  - ref: a\n    name: A\n",
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			input:   ":::not valid yaml:::",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			reg, err := persona.LoadFromReader(strings.NewReader(tc.input))
			if tc.wantErr {
				if err == nil {
					t.Fatal("LoadFromReader: expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadFromReader: %v", err)
			}
			if reg.Len() != tc.wantCount {
				t.Errorf("loaded %d personas, want %d", reg.Len(), tc.wantCount)
			}
			if got := reg.Default().Ref; got != tc.wantDefault {
				t.Errorf("default ref = %q, want %q", got, tc.wantDefault)
			}
		})
	}
}

func TestRegistry_Resolve(t *testing.T) {
	t.Parallel()

	reg, err := persona.LoadFromReader(strings.NewReader(validPersonaYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	p, err := reg.Resolve("sage")
	if err != nil {
		t.Fatalf("Resolve(sage): %v", err)
	}
	if p.Name != "Sage" || p.VoiceRef != "onyx" {
		t.Fatalf("Resolve(sage) = %+v, want the Sage persona", p)
	}

	// Empty ref resolves to the declared default.
	p, err = reg.Resolve("")
	if err != nil {
		t.Fatalf("Resolve(\"\"): %v", err)
	}
	if p.Ref != "aria" {
		t.Fatalf("Resolve(\"\") = %q, want the default persona", p.Ref)
	}
	if len(p.Lexicon) != 2 {
		t.Fatalf("default persona lexicon has %d terms, want 2", len(p.Lexicon))
	}

	_, err = reg.Resolve("ghost")
	if !errors.Is(err, persona.ErrNotFound) {
		t.Fatalf("Resolve(ghost) = %v, want ErrNotFound", err)
	}
}

func TestRegistry_Refs(t *testing.T) {
	t.Parallel()

	reg, err := persona.LoadFromReader(strings.NewReader(validPersonaYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	refs := reg.Refs()
	if len(refs) != 2 {
		t.Fatalf("Refs returned %d refs, want 2", len(refs))
	}
	seen := map[string]bool{}
	for _, r := range refs {
		seen[r] = true
	}
	if !seen["aria"] || !seen["sage"] {
		t.Fatalf("Refs = %v, want aria and sage", refs)
	}
}
