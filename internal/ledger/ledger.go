// Package ledger persists the mapping from session key to the last exported
// state of that session. The ledger is read once at the start of a sync pass
// and written once, atomically, at the end.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"convx/internal/fsx"
)

const (
	// Dir is the ledger directory, relative to the output root.
	Dir = ".convx"
	// FileName is the ledger file inside Dir.
	FileName = "index.json"

	currentVersion = 1
	gitignoreBody  = "*\n!.gitignore\n"
)

// Record is the last exported state of one session. Paths are relative to
// the output root.
type Record struct {
	SessionKey   string `json:"session_key"`
	Fingerprint  string `json:"fingerprint"`
	SourceSystem string `json:"source_system"`
	SourcePath   string `json:"source_path"`
	MarkdownPath string `json:"markdown_path"`
	JSONPath     string `json:"json_path"`
	Basename     string `json:"basename"`
	UpdatedAt    string `json:"updated_at"`
	StartedAt    string `json:"started_at"`
}

type document struct {
	Sessions map[string]Record `json:"sessions"`
	Version  int               `json:"version"`
}

// Ledger is an in-memory view of the persisted index.
type Ledger struct {
	path     string
	version  int
	sessions map[string]Record
}

// Path returns the ledger location for an output root.
func Path(outputRoot string) string {
	return filepath.Join(outputRoot, Dir, FileName)
}

// Load reads the ledger under outputRoot. A missing or corrupt file yields an
// empty ledger; only I/O errors other than not-exist are returned.
func Load(outputRoot string) (*Ledger, error) {
	l := &Ledger{
		path:     Path(outputRoot),
		version:  currentVersion,
		sessions: map[string]Record{},
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", l.path, err)
	}

	var raw struct {
		Version  *int            `json:"version"`
		Sessions json.RawMessage `json:"sessions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return l, nil
	}
	if raw.Version != nil {
		l.version = *raw.Version
	}
	var sessions map[string]Record
	if err := json.Unmarshal(raw.Sessions, &sessions); err == nil && sessions != nil {
		l.sessions = sessions
	}
	return l, nil
}

// Get returns the record for key, if any.
func (l *Ledger) Get(key string) (Record, bool) {
	r, ok := l.sessions[key]
	return r, ok
}

// Put stores rec under its session key, replacing any previous record in
// full.
func (l *Ledger) Put(rec Record) {
	l.sessions[rec.SessionKey] = rec
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	return len(l.sessions)
}

// Records returns all records sorted by session key.
func (l *Ledger) Records() []Record {
	out := make([]Record, 0, len(l.sessions))
	for _, r := range l.sessions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionKey < out[j].SessionKey })
	return out
}

// Persist writes the ledger atomically along with a .gitignore that keeps the
// ledger directory out of version control.
func (l *Ledger) Persist() error {
	dir := filepath.Dir(l.path)
	if err := ensureGitignore(dir); err != nil {
		return err
	}

	data, err := json.MarshalIndent(document{Sessions: l.sessions, Version: l.version}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	data = append(data, '\n')
	if err := fsx.WriteFileAtomic(l.path, data, 0o644); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

func ensureGitignore(dir string) error {
	path := filepath.Join(dir, ".gitignore")
	if existing, err := os.ReadFile(path); err == nil && string(existing) == gitignoreBody {
		return nil
	}
	if err := fsx.WriteFileAtomic(path, []byte(gitignoreBody), 0o644); err != nil {
		return fmt.Errorf("write ledger gitignore: %w", err)
	}
	return nil
}
