package adapter

import (
	"fmt"
	"strings"
)

const (
	Codex  = "codex"
	Claude = "claude"
	Cursor = "cursor"
)

// Names lists the supported source systems in a fixed order.
func Names() []string {
	return []string{Codex, Claude, Cursor}
}

// New returns the adapter registered under name, ignoring case and
// surrounding whitespace.
func New(name string) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Codex:
		return &CodexAdapter{}, nil
	case Claude:
		return &ClaudeAdapter{}, nil
	case Cursor:
		return &CursorAdapter{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
}
