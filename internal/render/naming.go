package render

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"convx/internal/model"
)

const maxSlugLen = 60

var (
	whitespaceRe   = regexp.MustCompile(`\s+`)
	slugInvalidRe  = regexp.MustCompile(`[^a-z0-9._-]+`)
	segmentInvalid = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// Slugify lowercases value, folds accents and collapses everything outside
// [a-z0-9._-] into single dashes. fallback is used when nothing survives.
func Slugify(value, fallback string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), value)
	if err != nil {
		folded = value
	}
	s := whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(folded)), "-")
	s = strings.Trim(slugInvalidRe.ReplaceAllString(s, "-"), "-._")
	if s == "" {
		s = fallback
	}
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
	}
	s = strings.TrimRight(s, "-._")
	if s == "" {
		return fallback
	}
	return s
}

// SanitizeSegment makes s safe to use as a single path component.
func SanitizeSegment(s string) string {
	cleaned := strings.Trim(segmentInvalid.ReplaceAllString(s, "-"), ".-")
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}

// ParseTimestamp parses the ISO-8601 forms found in transcripts. Values
// without a zone are taken as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: unsupported format", value)
}

// FormatTimestamp renders t as an ISO-8601 UTC string with millisecond
// precision, the form used for started_at values.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Basename returns preferred when set, otherwise
// <YYYY-MM-DD-HHMM>-<slug> derived from the session.
func Basename(s *model.Session, preferred string) (string, error) {
	if preferred != "" {
		return preferred, nil
	}
	started, err := ParseTimestamp(s.StartedAt)
	if err != nil {
		return "", err
	}

	fallbackSeed := "session"
	if s.SessionID != "" {
		id := s.SessionID
		if len(id) > 8 {
			id = id[len(id)-8:]
		}
		fallbackSeed = id
	}

	seed := s.Summary
	if seed == "" {
		seed = FirstUserText(s)
	}
	slug := Slugify(seed, Slugify(fallbackSeed, "session"))
	return started.Format("2006-01-02-1504") + "-" + slug, nil
}

// Breadcrumb turns a working directory into sanitized path segments,
// dropping the /Users/<name> or /home/<name> prefix.
func Breadcrumb(cwd string) []string {
	var parts []string
	if cwd != "" {
		for _, p := range strings.Split(filepath.ToSlash(filepath.Clean(cwd)), "/") {
			if p != "" {
				parts = append(parts, p)
			}
		}
		absolute := strings.HasPrefix(filepath.ToSlash(cwd), "/")
		if absolute && len(parts) >= 2 && (parts[0] == "Users" || parts[0] == "home") {
			parts = parts[2:]
		}
	}
	if len(parts) == 0 {
		return []string{"unknown"}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, SanitizeSegment(p))
	}
	return out
}
