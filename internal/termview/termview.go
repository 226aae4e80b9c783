// Package termview prepares exported Markdown for display in a terminal.
package termview

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const (
	maxLineBytes    = 8000
	maxDisplayBytes = 1_000_000
	// Documents above this size are shown unstyled; glamour is slow on them.
	maxStyledBytes = 500_000
)

var (
	imageDataRe = regexp.MustCompile(`data:image/[A-Za-z0-9.+-]+;base64,[A-Za-z0-9+/=\r\n]*`)

	MatchStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("220"))
)

// Sanitize shrinks content that would swamp a terminal: inline base64
// images, very long lines and very large documents.
func Sanitize(md string) string {
	md = imageDataRe.ReplaceAllStringFunc(md, func(m string) string {
		payload := m[strings.Index(m, ";base64,")+len(";base64,"):]
		return "[embedded image data omitted: " + strconv.Itoa(len(payload)) + " base64 chars]"
	})

	lines := strings.Split(md, "\n")
	for i, line := range lines {
		if len(line) > maxLineBytes {
			lines[i] = cutAtRune(line, maxLineBytes) + " … [line truncated]"
		}
	}
	md = strings.Join(lines, "\n")

	if len(md) > maxDisplayBytes {
		md = strings.TrimRight(cutAtRune(md, maxDisplayBytes), "\n") +
			"\n\n… [transcript truncated for display; open the file for full content] …\n"
	}
	return md
}

func cutAtRune(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// Render styles md with glamour. It falls back to the sanitized source when
// styling fails or the document is too large.
func Render(md, style string, width int) string {
	md = Sanitize(md)
	if len(md) > maxStyledBytes {
		return md
	}
	if style == "" {
		style = "dark"
	}
	if width <= 0 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
