// Package engine runs one incremental sync pass: it discovers sessions through
// an adapter, skips the ones whose fingerprint is unchanged, and writes
// Markdown and JSON artifacts for the rest.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"convx/internal/adapter"
	"convx/internal/fsx"
	"convx/internal/ledger"
	"convx/internal/model"
	"convx/internal/redact"
	"convx/internal/render"
)

const (
	DefaultHistorySubpath = "history"
	DefaultSkipMarker     = "CONVX_NO_SYNC"
)

type Options struct {
	InputRoot      string
	OutputRoot     string
	HistorySubpath string
	User           string
	SystemName     string

	// RepoFilter restricts the pass to sessions whose working directory
	// belongs to this repository. Empty disables scoping.
	RepoFilter string
	// Flat drops the system name and cwd breadcrumb from output paths.
	Flat bool

	DryRun       bool
	Redact       bool
	WithContext  bool
	WithThinking bool
	SkipMarker   string

	Logger  *log.Logger
	Verbose bool
	// Now stamps updated_at on ledger records; defaults to time.Now.
	Now func() time.Time
}

type Status string

const (
	StatusExported Status = "exported"
	StatusUpdated  Status = "updated"
	StatusSkipped  Status = "skipped"
	StatusFiltered Status = "filtered"
)

// SessionOutcome is the result of one discovered unit.
type SessionOutcome struct {
	Source       string
	SessionKey   string
	Status       Status
	Reason       string
	MarkdownPath string
}

type Result struct {
	SourceSystem string
	Discovered   int
	Exported     int
	Updated      int
	Skipped      int
	Filtered     int
	DryRun       bool
	Sessions     []SessionOutcome
}

func (r *Result) record(o SessionOutcome) {
	switch o.Status {
	case StatusExported:
		r.Exported++
	case StatusUpdated:
		r.Updated++
	case StatusSkipped:
		r.Skipped++
	case StatusFiltered:
		r.Filtered++
	}
	r.Sessions = append(r.Sessions, o)
}

// Add accumulates the counters of other into r.
func (r *Result) Add(other Result) {
	r.Discovered += other.Discovered
	r.Exported += other.Exported
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.Filtered += other.Filtered
	r.DryRun = r.DryRun || other.DryRun
	r.Sessions = append(r.Sessions, other.Sessions...)
}

type syncer struct {
	adapter adapter.Adapter
	opts    Options
	logger  *log.Logger
	ledger  *ledger.Ledger
	// owners maps a ledger markdown path to the session key that wrote it.
	owners map[string]string
}

// Sync runs one pass for a single source system. Per-session failures are
// reported as Filtered outcomes; only setup failures and cancellation are
// returned as errors. ctx is checked between sessions.
func Sync(ctx context.Context, a adapter.Adapter, opts Options) (Result, error) {
	if opts.HistorySubpath == "" {
		opts.HistorySubpath = DefaultHistorySubpath
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	result := Result{SourceSystem: a.Name(), DryRun: opts.DryRun}

	l, err := ledger.Load(opts.OutputRoot)
	if err != nil {
		return result, err
	}

	handles, err := a.Discover(opts.InputRoot, adapter.DiscoverOptions{RepoFilter: opts.RepoFilter})
	if err != nil {
		return result, fmt.Errorf("discover %s sessions: %w", a.Name(), err)
	}
	result.Discovered = len(handles)

	s := &syncer{adapter: a, opts: opts, logger: logger, ledger: l, owners: map[string]string{}}
	for _, rec := range l.Records() {
		s.owners[rec.MarkdownPath] = rec.SessionKey
	}

	var ctxErr error
	for _, h := range handles {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			break
		}
		outcome := s.syncOne(h)
		if opts.Verbose {
			s.logOutcome(outcome)
		}
		result.record(outcome)
	}

	if !opts.DryRun {
		if err := l.Persist(); err != nil {
			logger.Printf("warning: %v", err)
		}
	}
	return result, ctxErr
}

func (s *syncer) logOutcome(o SessionOutcome) {
	key := o.SessionKey
	if key == "" {
		key = o.Source
	}
	switch {
	case o.Reason != "":
		s.logger.Printf("%s %s: %s", o.Status, key, o.Reason)
	case o.MarkdownPath != "":
		s.logger.Printf("%s %s -> %s", o.Status, key, o.MarkdownPath)
	default:
		s.logger.Printf("%s %s", o.Status, key)
	}
}

func filtered(o SessionOutcome, format string, args ...any) SessionOutcome {
	o.Status = StatusFiltered
	o.Reason = fmt.Sprintf(format, args...)
	return o
}

func (s *syncer) syncOne(h adapter.Handle) SessionOutcome {
	out := SessionOutcome{Source: h.String()}

	ident, err := s.adapter.Peek(h)
	if err != nil {
		return filtered(out, "peek: %v", err)
	}
	out.SessionKey = ident.SessionKey

	fingerprint := ident.Fingerprint
	if fingerprint == "" {
		fh, ok := h.(adapter.FileHandle)
		if !ok {
			return filtered(out, "no fingerprint for %s", h)
		}
		if fingerprint, err = fsx.HashFile(fh.Path); err != nil {
			return filtered(out, "fingerprint: %v", err)
		}
	}

	if s.opts.RepoFilter != "" && !fsx.IsUnderRepo(ident.Cwd, s.opts.RepoFilter) {
		return filtered(out, "cwd %q outside repository", ident.Cwd)
	}

	prior, hasPrior := s.ledger.Get(ident.SessionKey)
	if hasPrior && prior.Fingerprint == fingerprint && s.artifactsExist(prior) {
		out.Status = StatusSkipped
		out.MarkdownPath = prior.MarkdownPath
		return out
	}

	session, err := s.adapter.Parse(h, adapter.ParseOptions{User: s.opts.User, SystemName: s.opts.SystemName})
	if err != nil {
		return filtered(out, "parse: %v", err)
	}
	if session.Summary == "" {
		session.Summary = ident.Summary
	}
	if s.opts.RepoFilter != "" && !fsx.IsUnderRepo(session.Cwd, s.opts.RepoFilter) {
		return filtered(out, "cwd %q outside repository", session.Cwd)
	}
	marker := s.opts.SkipMarker
	if marker == "" {
		marker = DefaultSkipMarker
	}
	if session.Contains(marker) {
		return filtered(out, "opt-out marker %s present", marker)
	}

	rec, err := s.write(session, fingerprint, prior)
	if err != nil {
		return filtered(out, "write: %v", err)
	}
	rec.SessionKey = ident.SessionKey
	rec.SourcePath = h.String()
	s.ledger.Put(rec)
	s.owners[rec.MarkdownPath] = rec.SessionKey

	out.MarkdownPath = rec.MarkdownPath
	out.Status = StatusExported
	if hasPrior {
		out.Status = StatusUpdated
	}
	return out
}

func (s *syncer) artifactsExist(rec ledger.Record) bool {
	if rec.MarkdownPath == "" || rec.JSONPath == "" {
		return false
	}
	return fsx.Exists(s.abs(rec.MarkdownPath)) && fsx.Exists(s.abs(rec.JSONPath))
}

func (s *syncer) abs(rel string) string {
	return filepath.Join(s.opts.OutputRoot, filepath.FromSlash(rel))
}

func (s *syncer) rel(path string) (string, error) {
	rel, err := filepath.Rel(s.opts.OutputRoot, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// outputDir is <history>/<user>/<source>, followed by the system name and
// cwd breadcrumb unless the layout is flat.
func (s *syncer) outputDir(session *model.Session) string {
	parts := []string{
		s.opts.OutputRoot,
		s.opts.HistorySubpath,
		render.SanitizeSegment(session.User),
		render.SanitizeSegment(session.SourceSystem),
	}
	if !s.opts.Flat {
		parts = append(parts, render.SanitizeSegment(session.SystemName))
		parts = append(parts, render.Breadcrumb(session.Cwd)...)
	}
	return filepath.Join(parts...)
}

type artifact struct {
	path string
	body string
}

func (s *syncer) write(session *model.Session, fingerprint string, prior ledger.Record) (ledger.Record, error) {
	basename, err := render.Basename(session, prior.Basename)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("basename for %s: %w", session.SessionKey, err)
	}
	dir := s.outputDir(session)
	if prior.Basename == "" {
		basename = s.claimBasename(dir, basename, session)
	}
	mdOpts := render.Options{WithContext: s.opts.WithContext, WithThinking: s.opts.WithThinking}

	body, err := render.JSON(session)
	if err != nil {
		return ledger.Record{}, err
	}

	var markdownPath, jsonPath string
	var files []artifact
	if session.HasChildren() {
		sessionDir := filepath.Join(dir, basename)
		markdownPath = filepath.Join(sessionDir, "index.md")
		jsonPath = filepath.Join(sessionDir, ".index.json")
		files = append(files,
			artifact{markdownPath, render.Markdown(session, mdOpts)},
			artifact{jsonPath, body},
		)
		for _, child := range session.ChildSessions {
			files = append(files, artifact{
				path: filepath.Join(sessionDir, "agent-"+render.SanitizeSegment(child.SessionID)+".md"),
				body: render.Markdown(child, mdOpts),
			})
		}
	} else {
		markdownPath = filepath.Join(dir, basename+".md")
		jsonPath = filepath.Join(dir, "."+basename+".json")
		files = append(files,
			artifact{markdownPath, render.Markdown(session, mdOpts)},
			artifact{jsonPath, body},
		)
	}

	if !s.opts.DryRun {
		for _, f := range files {
			if s.opts.Redact && s.opts.Verbose && redact.Contains(f.body) {
				s.logger.Printf("redacted secrets in %s", filepath.Base(f.path))
			}
			if err := fsx.WriteFileAtomic(f.path, []byte(redact.Secrets(f.body, s.opts.Redact)), 0o644); err != nil {
				return ledger.Record{}, err
			}
		}
	}

	mdRel, err := s.rel(markdownPath)
	if err != nil {
		return ledger.Record{}, err
	}
	jsonRel, err := s.rel(jsonPath)
	if err != nil {
		return ledger.Record{}, err
	}
	return ledger.Record{
		SessionKey:   session.SessionKey,
		Fingerprint:  fingerprint,
		SourceSystem: session.SourceSystem,
		SourcePath:   session.SourcePath,
		MarkdownPath: mdRel,
		JSONPath:     jsonRel,
		Basename:     basename,
		UpdatedAt:    render.FormatTimestamp(s.opts.Now()),
		StartedAt:    session.StartedAt,
	}, nil
}

// claimBasename returns base unless another session already owns output
// under that name in dir. Then the tail of the session id is appended, and
// a counter after that.
func (s *syncer) claimBasename(dir, base string, session *model.Session) string {
	id := session.SessionID
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	tail := render.Slugify(id, "session")

	name := base
	for n := 1; s.basenameTaken(dir, name, session.SessionKey); n++ {
		name = base + "-" + tail
		if n > 1 {
			name = fmt.Sprintf("%s-%s-%d", base, tail, n)
		}
	}
	return name
}

// basenameTaken checks both layouts, flat and packaged, against the ledger
// and against files already on disk.
func (s *syncer) basenameTaken(dir, name, key string) bool {
	layouts := [][2]string{
		{filepath.Join(dir, name+".md"), filepath.Join(dir, "."+name+".json")},
		{filepath.Join(dir, name, "index.md"), filepath.Join(dir, name, ".index.json")},
	}
	for _, l := range layouts {
		md, sidecar := l[0], l[1]
		if rel, err := s.rel(md); err == nil {
			if owner, ok := s.owners[rel]; ok && owner != key {
				return true
			}
		}
		if !fsx.Exists(md) && !fsx.Exists(sidecar) {
			continue
		}
		if sidecarKey(sidecar) != key {
			return true
		}
	}
	return false
}

// sidecarKey reads session_key from a JSON sidecar, or "" when it cannot.
func sidecarKey(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var doc struct {
		SessionKey string `json:"session_key"`
	}
	if json.Unmarshal(data, &doc) != nil {
		return ""
	}
	return doc.SessionKey
}

// IsCanceled reports whether err came from an aborted pass.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
