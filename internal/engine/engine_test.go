package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convx/internal/adapter"
	"convx/internal/ledger"
	"convx/internal/model"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func fixedNow() time.Time {
	return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
}

func codexRollout(id, cwd, userText string) string {
	return strings.Join([]string{
		fmt.Sprintf(`{"timestamp":"2026-01-15T10:00:00.000Z","type":"session_meta","payload":{"id":%q,"timestamp":"2026-01-15T10:00:00.000Z","cwd":%q}}`, id, cwd),
		fmt.Sprintf(`{"timestamp":"2026-01-15T10:00:01.000Z","type":"response_item","payload":{"type":"message","role":"user","content":[{"type":"input_text","text":%q}]}}`, userText),
		fmt.Sprintf(`{"timestamp":"2026-01-15T10:00:01.000Z","type":"event_msg","payload":{"type":"user_message","message":%q}}`, userText),
		`{"timestamp":"2026-01-15T10:00:02.000Z","type":"response_item","payload":{"type":"message","role":"assistant","content":[{"type":"output_text","text":"On it."}]}}`,
	}, "\n") + "\n"
}

type fixture struct {
	input  string
	output string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	base := t.TempDir()
	f := fixture{input: filepath.Join(base, "sessions"), output: filepath.Join(base, "out")}
	require.NoError(t, os.MkdirAll(f.input, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(f.output, ".git"), 0o755))
	return f
}

func (f fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.input, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f fixture) options() Options {
	return Options{
		InputRoot:  f.input,
		OutputRoot: f.output,
		User:       "alice",
		SystemName: "laptop",
		Redact:     true,
		Logger:     quietLogger(),
		Now:        fixedNow,
	}
}

func runCodex(t *testing.T, opts Options) Result {
	t.Helper()
	res, err := Sync(context.Background(), &adapter.CodexAdapter{}, opts)
	require.NoError(t, err)
	return res
}

func TestSyncExportsThenSkips(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.jsonl", codexRollout("s-a", "/Users/alice/Code/backend", "Plan the migration"))

	first := runCodex(t, f.options())
	assert.Equal(t, 1, first.Discovered)
	assert.Equal(t, 1, first.Exported)

	md := filepath.Join(f.output, "history", "alice", "codex", "laptop", "Code", "backend", "2026-01-15-1000-plan-the-migration.md")
	js := filepath.Join(filepath.Dir(md), ".2026-01-15-1000-plan-the-migration.json")
	require.FileExists(t, md)
	require.FileExists(t, js)

	l, err := ledger.Load(f.output)
	require.NoError(t, err)
	rec, ok := l.Get("codex:s-a")
	require.True(t, ok)
	assert.Equal(t, "history/alice/codex/laptop/Code/backend/2026-01-15-1000-plan-the-migration.md", rec.MarkdownPath)
	assert.Equal(t, "2026-02-01T12:00:00.000Z", rec.UpdatedAt)
	assert.Equal(t, "2026-01-15T10:00:00.000Z", rec.StartedAt)

	gi, err := os.ReadFile(filepath.Join(f.output, ".convx", ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "*\n!.gitignore\n", string(gi))

	before, err := os.ReadFile(md)
	require.NoError(t, err)
	second := runCodex(t, f.options())
	assert.Equal(t, 1, second.Skipped)
	assert.Zero(t, second.Exported+second.Updated+second.Filtered)
	after, err := os.ReadFile(md)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSyncNewSessionLeavesExistingUntouched(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.jsonl", codexRollout("s-a", "/Users/alice/Code/backend", "first task"))
	runCodex(t, f.options())

	md := filepath.Join(f.output, "history", "alice", "codex", "laptop", "Code", "backend", "2026-01-15-1000-first-task.md")
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(md, old, old))

	f.write(t, "b.jsonl", codexRollout("s-b", "/Users/alice/Code/backend", "second task"))
	res := runCodex(t, f.options())
	assert.Equal(t, 2, res.Discovered)
	assert.Equal(t, 1, res.Exported)
	assert.Equal(t, 1, res.Skipped)

	info, err := os.Stat(md)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "skipped session must not be rewritten")
}

func TestSyncFingerprintChangeUpdatesInPlace(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "a.jsonl", codexRollout("s-a", "/Users/alice/Code/backend", "original request"))
	runCodex(t, f.options())

	content := codexRollout("s-a", "/Users/alice/Code/backend", "original request") +
		`{"timestamp":"2026-01-15T10:05:00.000Z","type":"response_item","payload":{"type":"message","role":"assistant","content":[{"type":"output_text","text":"Follow-up done."}]}}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	res := runCodex(t, f.options())
	assert.Equal(t, 1, res.Updated)

	md := filepath.Join(f.output, "history", "alice", "codex", "laptop", "Code", "backend", "2026-01-15-1000-original-request.md")
	body, err := os.ReadFile(md)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Follow-up done.")
}

func TestSyncSelfHealsMissingArtifacts(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.jsonl", codexRollout("s-a", "/srv/app", "heal me"))
	runCodex(t, f.options())

	l, err := ledger.Load(f.output)
	require.NoError(t, err)
	rec, _ := l.Get("codex:s-a")
	require.NoError(t, os.Remove(filepath.Join(f.output, filepath.FromSlash(rec.JSONPath))))

	res := runCodex(t, f.options())
	assert.Equal(t, 1, res.Updated)
	assert.FileExists(t, filepath.Join(f.output, filepath.FromSlash(rec.JSONPath)))
	assert.FileExists(t, filepath.Join(f.output, filepath.FromSlash(rec.MarkdownPath)))
}

func TestSyncRepoScopeAndFlatLayout(t *testing.T) {
	f := newFixture(t)
	repo := filepath.Join(t.TempDir(), "backend")
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "svc"), 0o755))

	f.write(t, "in.jsonl", codexRollout("s-in", filepath.Join(repo, "svc"), "inside"))
	f.write(t, "named.jsonl", codexRollout("s-named", "/other/machine/backend", "same name"))
	f.write(t, "out.jsonl", codexRollout("s-out", "/work/frontend", "outside"))
	f.write(t, "nocwd.jsonl", codexRollout("s-none", "", "no cwd"))

	opts := f.options()
	opts.RepoFilter = repo
	opts.Flat = true
	res := runCodex(t, opts)

	assert.Equal(t, 4, res.Discovered)
	assert.Equal(t, 2, res.Exported)
	assert.Equal(t, 2, res.Filtered)
	assert.FileExists(t, filepath.Join(f.output, "history", "alice", "codex", "2026-01-15-1000-inside.md"))
	assert.FileExists(t, filepath.Join(f.output, "history", "alice", "codex", "2026-01-15-1000-same-name.md"))

	for _, o := range res.Sessions {
		if o.Status == StatusFiltered {
			assert.Contains(t, o.Reason, "outside repository")
		}
	}
}

func TestSyncDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.jsonl", codexRollout("s-a", "/srv/app", "preview"))

	opts := f.options()
	opts.DryRun = true
	res := runCodex(t, opts)
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Exported)

	_, err := os.Stat(filepath.Join(f.output, "history"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(f.output, ".convx"))
	assert.True(t, os.IsNotExist(err))
}

func TestSyncRedactsSecrets(t *testing.T) {
	f := newFixture(t)
	secret := "sk-proj-" + strings.Repeat("a1B2", 10)
	f.write(t, "a.jsonl", codexRollout("s-a", "/srv/app", "use key "+secret))

	runCodex(t, f.options())
	l, _ := ledger.Load(f.output)
	rec, _ := l.Get("codex:s-a")
	for _, rel := range []string{rec.MarkdownPath, rec.JSONPath} {
		body, err := os.ReadFile(filepath.Join(f.output, filepath.FromSlash(rel)))
		require.NoError(t, err)
		assert.NotContains(t, string(body), secret)
		assert.Contains(t, string(body), "[REDACTED]")
	}
}

func TestSyncUnreadableUnitIsFiltered(t *testing.T) {
	f := newFixture(t)
	f.write(t, "broken.jsonl", "not json\n")
	f.write(t, "ok.jsonl", codexRollout("s-ok", "/srv/app", "fine"))

	res := runCodex(t, f.options())
	assert.Equal(t, 1, res.Filtered)
	assert.Equal(t, 1, res.Exported)
	assert.Contains(t, res.Sessions[0].Reason, "cannot identify")
}

func TestSyncStopsWhenCanceled(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.jsonl", codexRollout("s-a", "/srv/app", "never"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Sync(ctx, &adapter.CodexAdapter{}, f.options())
	require.Error(t, err)
	assert.True(t, IsCanceled(err))
	assert.Equal(t, 1, res.Discovered)
	assert.Empty(t, res.Sessions)
}

func TestSyncVerboseLogsOutcomes(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.jsonl", codexRollout("s-a", "/srv/app", "log me"))

	var buf bytes.Buffer
	opts := f.options()
	opts.Logger = log.New(&buf, "[sync] ", 0)
	opts.Verbose = true
	runCodex(t, opts)
	assert.Contains(t, buf.String(), "[sync] exported codex:s-a -> history/alice/codex/laptop/srv/app/")
}

// stubAdapter serves fixed sessions through record handles.
type stubAdapter struct {
	sessions []*model.Session
	prints   map[string]string
}

func (a *stubAdapter) Name() string { return "stub" }

func (a *stubAdapter) Discover(string, adapter.DiscoverOptions) ([]adapter.Handle, error) {
	var out []adapter.Handle
	for _, s := range a.sessions {
		out = append(out, adapter.RecordHandle{Store: "mem", Kind: "session", ID: s.SessionID})
	}
	return out, nil
}

func (a *stubAdapter) find(h adapter.Handle) *model.Session {
	id := h.(adapter.RecordHandle).ID
	for _, s := range a.sessions {
		if s.SessionID == id {
			return s
		}
	}
	return nil
}

func (a *stubAdapter) Peek(h adapter.Handle) (adapter.Identity, error) {
	s := a.find(h)
	fp := a.prints[s.SessionID]
	if fp == "" {
		fp = "fp-1"
	}
	return adapter.Identity{SessionID: s.SessionID, SessionKey: s.SessionKey, StartedAt: s.StartedAt, Cwd: s.Cwd, Fingerprint: fp}, nil
}

func (a *stubAdapter) Parse(h adapter.Handle, opts adapter.ParseOptions) (*model.Session, error) {
	s := *a.find(h)
	s.User, s.SystemName = opts.User, opts.SystemName
	return &s, nil
}

func stubSession(id string, children ...*model.Session) *model.Session {
	return &model.Session{
		SessionKey:    "stub:" + id,
		SourceSystem:  "stub",
		SessionID:     id,
		StartedAt:     "2026-01-15T10:00:00Z",
		Cwd:           "/srv/app",
		Messages:      []model.Message{{Role: "user", Text: "parent " + id, Kind: model.KindUser}},
		ChildSessions: children,
	}
}

func childSession(id, text string) *model.Session {
	return &model.Session{
		SessionKey: "stub:" + id,
		SessionID:  id,
		StartedAt:  "2026-01-15T10:01:00Z",
		Messages:   []model.Message{{Role: "assistant", Text: text, Kind: model.KindAssistant}},
	}
}

func TestSyncPackagesChildren(t *testing.T) {
	f := newFixture(t)
	a := &stubAdapter{sessions: []*model.Session{
		stubSession("p1", childSession("c1", "child one"), childSession("c2", "child two")),
		stubSession("p2", []*model.Session{}...),
	}}

	res, err := Sync(context.Background(), a, f.options())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Exported)

	dir := filepath.Join(f.output, "history", "alice", "stub", "laptop", "srv", "app")
	pkg := filepath.Join(dir, "2026-01-15-1000-parent-p1")
	assert.FileExists(t, filepath.Join(pkg, "index.md"))
	assert.FileExists(t, filepath.Join(pkg, ".index.json"))
	assert.FileExists(t, filepath.Join(pkg, "agent-c1.md"))
	assert.FileExists(t, filepath.Join(pkg, "agent-c2.md"))

	child, err := os.ReadFile(filepath.Join(pkg, "agent-c2.md"))
	require.NoError(t, err)
	assert.Contains(t, string(child), "child two")

	assert.FileExists(t, filepath.Join(dir, "2026-01-15-1000-parent-p2.md"))
	assert.FileExists(t, filepath.Join(dir, ".2026-01-15-1000-parent-p2.json"))
}

func TestSyncOptOutMarkerInChild(t *testing.T) {
	f := newFixture(t)
	a := &stubAdapter{sessions: []*model.Session{
		stubSession("p1", childSession("c1", "please CONVX_NO_SYNC this")),
	}}

	res, err := Sync(context.Background(), a, f.options())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Filtered)
	assert.Contains(t, res.Sessions[0].Reason, "opt-out")

	_, err = os.Stat(filepath.Join(f.output, "history"))
	assert.True(t, os.IsNotExist(err))

	l, err := ledger.Load(f.output)
	require.NoError(t, err)
	assert.Zero(t, l.Len())
}

func TestSyncKeepsBasenameAcrossUpdates(t *testing.T) {
	f := newFixture(t)
	s := stubSession("p1")
	a := &stubAdapter{sessions: []*model.Session{s}, prints: map[string]string{}}
	_, err := Sync(context.Background(), a, f.options())
	require.NoError(t, err)

	s.Messages[0].Text = "a completely different opening"
	a.prints["p1"] = "fp-2"
	res, err := Sync(context.Background(), a, f.options())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	l, _ := ledger.Load(f.output)
	rec, _ := l.Get("stub:p1")
	assert.Equal(t, "2026-01-15-1000-parent-p1", rec.Basename)
	assert.Equal(t, "fp-2", rec.Fingerprint)
}

func TestSyncBasenameCollisionKeepsBothSessions(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.jsonl", codexRollout("s-a", "/srv/app", "same request"))
	f.write(t, "b.jsonl", codexRollout("s-b", "/srv/app", "same request"))

	res := runCodex(t, f.options())
	assert.Equal(t, 2, res.Exported)

	l, err := ledger.Load(f.output)
	require.NoError(t, err)
	a, _ := l.Get("codex:s-a")
	b, _ := l.Get("codex:s-b")
	assert.Equal(t, "2026-01-15-1000-same-request", a.Basename)
	assert.Equal(t, "2026-01-15-1000-same-request-s-b", b.Basename)
	assert.NotEqual(t, a.JSONPath, b.JSONPath)

	for key, rec := range map[string]ledger.Record{"codex:s-a": a, "codex:s-b": b} {
		data, err := os.ReadFile(filepath.Join(f.output, filepath.FromSlash(rec.JSONPath)))
		require.NoError(t, err)
		assert.Contains(t, string(data), fmt.Sprintf(`"session_key": %q`, key))
	}

	again := runCodex(t, f.options())
	assert.Equal(t, 2, again.Skipped)
}

func TestSyncBasenameAvoidsForeignFiles(t *testing.T) {
	f := newFixture(t)
	dir := filepath.Join(f.output, "history", "alice", "codex", "laptop", "srv", "app")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	foreign := filepath.Join(dir, "2026-01-15-1000-same-request.md")
	require.NoError(t, os.WriteFile(foreign, []byte("hand written\n"), 0o644))

	f.write(t, "a.jsonl", codexRollout("s-a", "/srv/app", "same request"))
	runCodex(t, f.options())

	data, err := os.ReadFile(foreign)
	require.NoError(t, err)
	assert.Equal(t, "hand written\n", string(data))
	assert.FileExists(t, filepath.Join(dir, "2026-01-15-1000-same-request-s-a.md"))
}

func TestSyncReusesOwnArtifactsWithoutLedger(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.jsonl", codexRollout("s-a", "/srv/app", "same request"))
	runCodex(t, f.options())
	require.NoError(t, os.RemoveAll(filepath.Join(f.output, ledger.Dir)))

	res := runCodex(t, f.options())
	assert.Equal(t, 1, res.Exported)
	l, err := ledger.Load(f.output)
	require.NoError(t, err)
	rec, _ := l.Get("codex:s-a")
	assert.Equal(t, "2026-01-15-1000-same-request", rec.Basename)
}

func TestSyncVerboseLogsRedaction(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.jsonl", codexRollout("s-a", "/srv/app", "use key sk-proj-"+strings.Repeat("a1B2", 10)))

	var buf bytes.Buffer
	opts := f.options()
	opts.Logger = log.New(&buf, "", 0)
	opts.Verbose = true
	runCodex(t, opts)
	assert.Contains(t, buf.String(), "redacted secrets in 2026-01-15-1000-")

	buf.Reset()
	opts.Redact = false
	require.NoError(t, os.RemoveAll(filepath.Join(f.output, "history")))
	runCodex(t, opts)
	assert.NotContains(t, buf.String(), "redacted secrets")
}

func TestResultAdd(t *testing.T) {
	total := Result{}
	total.Add(Result{Discovered: 2, Exported: 1, Skipped: 1})
	total.Add(Result{Discovered: 1, Filtered: 1, DryRun: true})
	assert.Equal(t, Result{Discovered: 3, Exported: 1, Skipped: 1, Filtered: 1, DryRun: true}, total)
}
