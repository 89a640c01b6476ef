package transcript_test

import (
	"testing"

	"github.com/antiphonlabs/antiphon/internal/transcript"
	"github.com/antiphonlabs/antiphon/internal/transcript/phonetic"
)

func TestCorrector_SingleWordSubstitution(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(phonetic.New())
	lexicon := []string{"Veliqora"}

	got, corrections := c.Correct("please call velikora now", lexicon)
	if got != "please call Veliqora now" {
		t.Fatalf("Correct = %q, want the misheard name substituted", got)
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	if corrections[0].Original != "velikora" || corrections[0].Corrected != "Veliqora" {
		t.Fatalf("correction = %+v, want velikora → Veliqora", corrections[0])
	}
	if corrections[0].Confidence <= 0 {
		t.Fatal("correction confidence must be positive")
	}
}

func TestCorrector_MultiWordTermWins(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(phonetic.New())
	lexicon := []string{"Harbor of Echoes"}

	got, corrections := c.Correct("harbor of ekoes was quiet", lexicon)
	if got != "Harbor of Echoes was quiet" {
		t.Fatalf("Correct = %q, want the three-word term substituted as one unit", got)
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	if corrections[0].Original != "harbor of ekoes" {
		t.Fatalf("correction original = %q, want the full window", corrections[0].Original)
	}
}

func TestCorrector_NoLexiconIsPassthrough(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(phonetic.New())

	text := "velikora said hi"
	got, corrections := c.Correct(text, nil)
	if got != text {
		t.Fatalf("Correct = %q, want text unchanged without a lexicon", got)
	}
	if corrections != nil {
		t.Fatalf("corrections = %v, want nil", corrections)
	}
}

func TestCorrector_NilMatcherIsPassthrough(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(nil)

	text := "velikora said hi"
	got, corrections := c.Correct(text, []string{"Veliqora"})
	if got != text {
		t.Fatalf("Correct = %q, want text unchanged without a matcher", got)
	}
	if corrections != nil {
		t.Fatalf("corrections = %v, want nil", corrections)
	}
}

func TestCorrector_ExactHitLeavesTextAlone(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(phonetic.New())
	lexicon := []string{"Veliqora"}

	text := "Veliqora said hi"
	got, corrections := c.Correct(text, lexicon)
	if got != text {
		t.Fatalf("Correct = %q, want text unchanged on an exact hit", got)
	}
	if len(corrections) != 0 {
		t.Fatalf("got %d corrections for exact text, want 0", len(corrections))
	}
}

func TestCorrector_EmptyText(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(phonetic.New())
	got, corrections := c.Correct("", []string{"Veliqora"})
	if got != "" {
		t.Fatalf("Correct(\"\") = %q, want empty", got)
	}
	if corrections != nil {
		t.Fatalf("corrections = %v, want nil", corrections)
	}
}
