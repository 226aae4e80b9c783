package termview

import (
	"regexp"
	"strings"
)

var csiRe = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)

// Highlight wraps every case-insensitive occurrence of query in text with
// wrap, leaving terminal escape sequences intact. Matches never span an
// escape sequence. It returns the new text and the 0-based numbers of the
// lines that matched.
func Highlight(text, query string, wrap func(string) string) (string, []int) {
	query = strings.TrimSpace(query)
	if query == "" {
		return text, nil
	}
	if wrap == nil {
		wrap = func(s string) string { return MatchStyle.Render(s) }
	}

	lines := strings.Split(text, "\n")
	var matched []int
	for i, line := range lines {
		var b strings.Builder
		hits := 0
		pos := 0
		for _, esc := range csiRe.FindAllStringIndex(line, -1) {
			hits += markPlain(&b, line[pos:esc[0]], query, wrap)
			b.WriteString(line[esc[0]:esc[1]])
			pos = esc[1]
		}
		hits += markPlain(&b, line[pos:], query, wrap)
		lines[i] = b.String()
		if hits > 0 {
			matched = append(matched, i)
		}
	}
	return strings.Join(lines, "\n"), matched
}

func markPlain(b *strings.Builder, s, query string, wrap func(string) string) int {
	lower := strings.ToLower(s)
	q := strings.ToLower(query)
	// Lowercasing can change byte lengths outside ASCII; fall back to an
	// exact search then so offsets stay valid.
	if len(lower) != len(s) {
		lower, q = s, query
	}

	hits := 0
	for {
		i := strings.Index(lower, q)
		if i < 0 {
			b.WriteString(s)
			return hits
		}
		b.WriteString(s[:i])
		b.WriteString(wrap(s[i : i+len(q)]))
		s, lower = s[i+len(q):], lower[i+len(q):]
		hits++
	}
}
