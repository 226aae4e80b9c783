// Package redact scrubs secret-shaped substrings from rendered text before it
// is written to disk.
package redact

import (
	"sort"
	"unicode/utf8"
)

// Marker replaces every redacted span.
const Marker = "[REDACTED]"

type span struct {
	start, end int
}

// Secrets replaces every catalogued secret in text with Marker. When enabled
// is false the text is returned unchanged.
func Secrets(text string, enabled bool) string {
	if !enabled || text == "" {
		return text
	}
	spans := mergeSpans(scan([]byte(text)))
	if len(spans) == 0 {
		return text
	}

	// Highest offset first so earlier offsets stay valid.
	for i := len(spans) - 1; i >= 0; i-- {
		start, end := runeAligned(text, spans[i].start, spans[i].end)
		text = text[:start] + Marker + text[end:]
	}
	return text
}

// Contains reports whether text holds at least one catalogued secret.
func Contains(text string) bool {
	return len(scan([]byte(text))) > 0
}

func scan(data []byte) []span {
	var spans []span
	for _, r := range catalog {
		for _, loc := range r.re.FindAllIndex(data, -1) {
			if loc[1] > loc[0] {
				spans = append(spans, span{start: loc[0], end: loc[1]})
			}
		}
	}
	return spans
}

// mergeSpans collapses overlapping or touching spans into maximal runs,
// returned in ascending order.
func mergeSpans(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end < spans[j].end
	})
	merged := []span{spans[0]}
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// runeAligned widens a byte span so it never splits a multi-byte character.
func runeAligned(text string, start, end int) (int, int) {
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return start, end
}
