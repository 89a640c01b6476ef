// Package reply implements pause-token segmentation of generator replies.
//
// A reply is a single text value containing zero or more pause tokens of the
// literal shape [pause:<seconds>s] (the trailing "s" is optional, matching is
// case-insensitive). Tokens partition the reply into an ordered sequence of
// segments; each segment carries the silence prescribed by the token that
// follows it. [Split] is the one normative definition of that partition — the
// synthesizer driver and the transcript renderer both consume its output and
// nothing else in the runtime parses pause tokens.
package reply

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// pauseTokenRe is the pause-token grammar. The capture group holds the
// duration in (decimal) seconds.
var pauseTokenRe = regexp.MustCompile(`(?i)\[pause:(\d+(?:\.\d+)?)s?\]`)

// Segment is a maximal run of non-pause text within a reply, together with
// the silence that follows it.
type Segment struct {
	// Text is the trimmed segment content. Empty for a standalone pause
	// (a token with no preceding text run).
	Text string

	// Pause is the silence prescribed after this segment. Zero when no token
	// follows the text.
	Pause time.Duration
}

// PauseOnly reports whether the segment carries no speakable text.
func (s Segment) PauseOnly() bool { return s.Text == "" }

// Split partitions text into its ordered segment sequence.
//
// Split is a pure function: equal inputs yield equal outputs, and it holds no
// state. A reply without tokens yields a single segment (or none, when the
// reply is empty or whitespace). Runs that are whitespace-only between two
// tokens yield pause-only segments so that every token is represented.
func Split(text string) []Segment {
	matches := pauseTokenRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []Segment{{Text: trimmed}}
	}

	segs := make([]Segment, 0, len(matches)+1)
	cursor := 0
	for _, m := range matches {
		run := strings.TrimSpace(text[cursor:m[0]])
		pause := parseSeconds(text[m[2]:m[3]])
		segs = append(segs, Segment{Text: run, Pause: pause})
		cursor = m[1]
	}
	if tail := strings.TrimSpace(text[cursor:]); tail != "" {
		segs = append(segs, Segment{Text: tail})
	}
	return segs
}

// Strip removes every pause token from text, collapsing the surrounding
// whitespace. This is the form handed to TTS.
func Strip(text string) string {
	parts := pauseTokenRe.Split(text, -1)
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	joined := strings.Join(parts, " ")
	return strings.TrimSpace(strings.Join(strings.Fields(joined), " "))
}

// Join reassembles a reply string from segments, re-inserting a pause token
// between every pair of consecutive segments and after a trailing pause.
// Join is the inverse of [Split] at the segment level:
// Split(Join(Split(r))) equals Split(r) for every r.
func Join(segs []Segment) string {
	var b strings.Builder
	for i, s := range segs {
		b.WriteString(s.Text)
		if i < len(segs)-1 || s.Pause > 0 {
			b.WriteString("[pause:")
			b.WriteString(formatSeconds(s.Pause))
			b.WriteString("s]")
		}
	}
	return b.String()
}

// parseSeconds converts the token's capture group to a duration. The grammar
// guarantees a non-negative decimal, so parse failures cannot occur for
// matched input.
func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

// formatSeconds renders a duration as the shortest decimal representation.
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
