package transcript

import (
	"strings"
)

// Correction records a single substitution made by the [Corrector].
type Correction struct {
	// Original is the span as produced by the ASR backend.
	Original string

	// Corrected is the lexicon term that replaced it.
	Corrected string

	// Confidence is the similarity score that justified the substitution
	// (0.0–1.0).
	Confidence float64
}

// Matcher resolves a word or short phrase to a known lexicon term based on
// pronunciation similarity. It must be fast enough for the real-time path:
// no network calls.
//
// When matched is false, corrected must equal the input unchanged and
// confidence must be 0. Implementations must be safe for concurrent use.
type Matcher interface {
	Match(span string, lexicon []string) (corrected string, confidence float64, matched bool)
}

// Corrector aligns raw ASR text against a persona's lexicon — names and
// domain terms the speech model is likely to mishear. It runs between
// transcription and everything downstream, so the generator, the transcript,
// and the archive all see the corrected text.
//
// Corrector is safe for concurrent use; it is read-only after construction.
type Corrector struct {
	matcher Matcher
}

// NewCorrector creates a corrector backed by the given matcher. A nil
// matcher yields a pass-through corrector.
func NewCorrector(matcher Matcher) *Corrector {
	return &Corrector{matcher: matcher}
}

// Correct applies lexicon alignment to text and returns the corrected text
// together with every substitution made. With no matcher, an empty lexicon,
// or no matches, the text is returned unchanged and the corrections slice
// is empty.
//
// The text is tokenised into whitespace-separated words. At each position,
// n-gram windows from the widest lexicon term down to a single word are
// tested against the matcher; the longest match wins, so multi-word terms
// take precedence over partial single-word matches.
func (c *Corrector) Correct(text string, lexicon []string) (string, []Correction) {
	if c.matcher == nil || len(lexicon) == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	maxTermWords := maxWordCount(lexicon)

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		maxN := maxTermWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			term, conf, ok := c.matcher.Match(window, lexicon)
			if !ok {
				continue
			}
			if window == term {
				// Exact hit, nothing to substitute.
				break
			}

			output = append(output, strings.Fields(term)...)
			corrections = append(corrections, Correction{
				Original:   window,
				Corrected:  term,
				Confidence: conf,
			})
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(output, " "), corrections
}

// maxWordCount returns the maximum number of whitespace-separated words in
// any lexicon term. Returns 1 when the lexicon is empty.
func maxWordCount(lexicon []string) int {
	max := 1
	for _, term := range lexicon {
		if n := len(strings.Fields(term)); n > max {
			max = n
		}
	}
	return max
}
