package reply

import (
	"strings"
	"time"
	"unicode/utf8"
)

// AdjustConfig holds the tuning knobs for pause-duration adjustment.
// The decision shape is fixed; the numeric values are deployment tuning.
type AdjustConfig struct {
	// ShortSegmentRunes is the length (in runes) below which a segment counts
	// as "short" for the shrink rule. Default: 24.
	ShortSegmentRunes int

	// ShrinkFactor scales a pause down when both neighbouring segments are
	// short and neither carries a transition marker. Range (0,1]. Default: 0.4.
	ShrinkFactor float64

	// MinPause is the floor below which a shrunk pause is clamped.
	// Default: 150ms.
	MinPause time.Duration

	// Markers are the transition phrases that protect a pause from shrinking.
	// Matching is case-insensitive on word boundaries. Defaults cover the
	// common conversational pivots ("but", "however", "actually", ...).
	Markers []string
}

// defaultMarkers protect pauses around conversational pivots, where the
// prescribed beat is deliberate and should be kept.
var defaultMarkers = []string{
	"but", "however", "actually", "plot twist", "turns out", "although", "wait",
}

// DefaultAdjustConfig returns the tuned defaults.
func DefaultAdjustConfig() AdjustConfig {
	return AdjustConfig{
		ShortSegmentRunes: 24,
		ShrinkFactor:      0.4,
		MinPause:          150 * time.Millisecond,
		Markers:           defaultMarkers,
	}
}

// withDefaults fills zero-valued fields so a partially specified config
// behaves sensibly.
func (c AdjustConfig) withDefaults() AdjustConfig {
	if c.ShortSegmentRunes <= 0 {
		c.ShortSegmentRunes = 24
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor > 1 {
		c.ShrinkFactor = 0.4
	}
	if c.MinPause <= 0 {
		c.MinPause = 150 * time.Millisecond
	}
	if c.Markers == nil {
		c.Markers = defaultMarkers
	}
	return c
}

// AdjustPause returns the pause duration to actually sleep between two
// segments. It is a pure function of (duration, prevText, nextText, config):
//
//   - When both neighbouring segments are short and neither contains a
//     transition marker, the pause is scaled down by ShrinkFactor (clamped to
//     MinPause) to favour natural conversational flow.
//   - When a marker is present on either side, or either neighbour is long,
//     the original duration is preserved.
//
// A zero or negative duration is returned unchanged.
func AdjustPause(d time.Duration, prevText, nextText string, cfg AdjustConfig) time.Duration {
	if d <= 0 {
		return d
	}
	cfg = cfg.withDefaults()

	if containsMarker(prevText, cfg.Markers) || containsMarker(nextText, cfg.Markers) {
		return d
	}
	if utf8.RuneCountInString(prevText) >= cfg.ShortSegmentRunes ||
		utf8.RuneCountInString(nextText) >= cfg.ShortSegmentRunes {
		return d
	}

	scaled := time.Duration(float64(d) * cfg.ShrinkFactor)
	if scaled < cfg.MinPause {
		scaled = cfg.MinPause
	}
	if scaled > d {
		return d
	}
	return scaled
}

// containsMarker reports whether text contains any marker phrase on word
// boundaries, case-insensitively.
func containsMarker(text string, markers []string) bool {
	lowered := strings.ToLower(text)
	for _, m := range markers {
		idx := 0
		for {
			i := strings.Index(lowered[idx:], m)
			if i < 0 {
				break
			}
			start := idx + i
			end := start + len(m)
			if boundaryBefore(lowered, start) && boundaryAfter(lowered, end) {
				return true
			}
			idx = start + 1
		}
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	return !isWordByte(s[i-1])
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	return !isWordByte(s[i])
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '\''
}
