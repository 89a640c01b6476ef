package brief

import (
	"fmt"
	"strings"
	"time"

	"github.com/antiphonlabs/antiphon/pkg/types"
)

// Format converts a [Brief] into the opaque context lines carried on the
// generator request. The first line is always the persona framing; empty
// sections are omitted entirely rather than rendering as empty headers.
//
// Format is pure: no I/O, no side effects, safe for concurrent use.
func Format(b *Brief) []string {
	if b == nil {
		return nil
	}

	var lines []string

	opening := fmt.Sprintf("You are %s.", personaName(b))
	if summary := strings.TrimSpace(b.Persona.Summary); summary != "" {
		opening += " " + summary
	}
	lines = append(lines, opening)

	if len(b.Recent) > 0 {
		lines = append(lines, "Recent conversation:")
		now := time.Now()
		for _, e := range b.Recent {
			lines = append(lines, formatEntry(e, personaName(b), now))
		}
	}

	if len(b.Recalls) > 0 {
		lines = append(lines, "Possibly relevant from earlier in this conversation:")
		for _, r := range b.Recalls {
			lines = append(lines, "- "+r)
		}
	}

	return lines
}

func personaName(b *Brief) string {
	if b.Persona.Name != "" {
		return b.Persona.Name
	}
	return "a voice assistant"
}

// formatEntry renders one transcript entry with a relative timestamp and a
// speaker label. The agent speaker is labelled with the persona name.
func formatEntry(e types.TranscriptEntry, agentName string, now time.Time) string {
	speaker := string(e.Speaker)
	if e.Speaker == types.SpeakerAgent && agentName != "" {
		speaker = agentName
	}
	return fmt.Sprintf("[%s] %s: %s", formatRelativeTime(now.Sub(e.Timestamp)), speaker, e.Text)
}

// formatRelativeTime converts a duration to a compact label such as
// "just now", "30s ago", "2m ago", "1h ago".
func formatRelativeTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < 5*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
