// Package phonetic implements the [transcript.Matcher] interface using
// Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity for ranked candidate selection.
//
// Speech models routinely mangle the proper nouns that matter most in a
// conversation — persona names, product names, project jargon. The matcher
// aligns such spans against a persona's lexicon in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word in the input and for each lexicon term. If any code from
//     the input overlaps with any code from a term, the term becomes a
//     phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the term with the
//     highest Jaro-Winkler similarity (computed on the original strings,
//     case-insensitive) is selected, provided its score exceeds the
//     phonetic threshold.
//
//     When no phonetic candidate is found, a secondary pass tests pure
//     Jaro-Winkler similarity against all terms using a higher fuzzy
//     threshold (default 0.85).
//
// Multi-word terms (e.g. "Harbor of Echoes") are supported: the matcher
// computes phonetic codes per word and considers the best pairwise score
// across all word pairs when ranking candidates.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher aligns spans against a lexicon by pronunciation. It implements
// [transcript.Matcher]. All methods are safe for concurrent use — the
// Matcher is read-only after construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match attempts to find the lexicon term most phonetically similar to span.
//
// span may be a single word or a space-separated phrase (n-gram). When span
// contains multiple tokens, the matcher checks whether any token
// phonetically aligns with any token of a multi-word term, then ranks by
// Jaro-Winkler on the full strings.
//
// When matched is false, corrected equals span unchanged and confidence
// is 0.
func (m *Matcher) Match(span string, lexicon []string) (corrected string, confidence float64, matched bool) {
	if len(lexicon) == 0 || strings.TrimSpace(span) == "" {
		return span, 0, false
	}

	spanLower := strings.ToLower(strings.TrimSpace(span))
	spanTokens := strings.Fields(spanLower)

	inputCodes := codesForTokens(spanTokens)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}

	var best candidate

	for _, term := range lexicon {
		termLower := strings.ToLower(strings.TrimSpace(term))
		if termLower == "" {
			continue
		}
		termTokens := strings.Fields(termLower)

		termCodes := codesForTokens(termTokens)
		phoneticMatch := codesOverlap(inputCodes, termCodes)

		// Several comparison strategies to stay robust against
		// multi-word splits and merges.
		jwScore := bestJWScore(spanTokens, termTokens, spanLower, termLower)

		if phoneticMatch {
			if jwScore >= m.phoneticThreshold {
				if !best.phonetic || jwScore > best.score {
					best = candidate{term: term, score: jwScore, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jwScore >= m.fuzzyThreshold && jwScore > best.score {
				best = candidate{term: term, score: jwScore, phonetic: false}
			}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return span, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (word too short or no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the span
// and the term using three strategies:
//
//  1. Full-string comparison ("vela cora" vs "veliqora").
//  2. Space-stripped comparison ("velacora" vs "veliqora").
//  3. Best pairwise word comparison, for when one spoken word corresponds
//     to one term word.
func bestJWScore(spanTokens, termTokens []string, spanFull, termFull string) float64 {
	score := matchr.JaroWinkler(spanFull, termFull, false)

	if len(spanTokens) > 1 || len(termTokens) > 1 {
		concat1 := strings.Join(spanTokens, "")
		concat2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, st := range spanTokens {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(st, tt, false); s > score {
				score = s
			}
		}
	}

	return score
}
