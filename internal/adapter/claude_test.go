package adapter

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"convx/internal/model"
)

const claudeSession = `{"type":"queue-operation","operation":"enqueue"}
{"type":"user","isMeta":true,"timestamp":"2026-01-15T09:59:00Z","message":{"role":"user","content":"<command-name>/clear</command-name>"}}
{"type":"user","sessionId":"abc","timestamp":"2026-01-15T10:30:00Z","cwd":"/Users/alice/Code/backend","message":{"role":"user","content":"Add a health check"}}
{"type":"assistant","timestamp":"2026-01-15T10:30:05Z","cwd":"/Users/alice/Code/backend","message":{"role":"assistant","content":[{"type":"thinking","thinking":"Where do routes live?"}]}}
{"type":"assistant","timestamp":"2026-01-15T10:30:06Z","message":{"role":"assistant","content":[{"type":"text","text":"Let me look."},{"type":"tool_use","name":"Read","id":"t1","input":{"file_path":"/tmp/<main>.go"}}]}}
{"type":"user","timestamp":"2026-01-15T10:30:07Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"package main"}]}}
{"type":"progress","data":{}}
{"type":"system","timestamp":"2026-01-15T10:30:08Z","content":"Conversation compacted"}
{"type":"assistant","timestamp":"2026-01-15T10:30:09Z","message":{"role":"assistant","content":[{"type":"text","text":"Added /healthz."}]}}
`

func TestClaudeParse(t *testing.T) {
	project := filepath.Join(t.TempDir(), "-Users-alice-Code-backend")
	path := filepath.Join(project, "abc.jsonl")
	writeFile(t, path, claudeSession)

	s, err := (&ClaudeAdapter{}).Parse(FileHandle{Path: path}, ParseOptions{User: "alice"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.SessionKey != "claude:abc" || s.StartedAt != "2026-01-15T10:30:00Z" || s.Cwd != "/Users/alice/Code/backend" {
		t.Fatalf("unexpected session header: %+v", s)
	}

	want := []struct {
		role string
		kind model.Kind
	}{
		{"user", model.KindUser},
		{"reasoning", model.KindThinking},
		{"tool", model.KindTool},
		{"tool", model.KindTool},
		{"system", model.KindSystem},
		{"assistant", model.KindAssistant},
	}
	if len(s.Messages) != len(want) {
		t.Fatalf("got %d messages, want %d: %+v", len(s.Messages), len(want), s.Messages)
	}
	for i, w := range want {
		if s.Messages[i].Role != w.role || s.Messages[i].Kind != w.kind {
			t.Errorf("message %d = %s/%s, want %s/%s", i, s.Messages[i].Role, s.Messages[i].Kind, w.role, w.kind)
		}
	}

	toolUse := s.Messages[2].Text
	if !strings.HasPrefix(toolUse, "Let me look.\n\n[tool_use] Read\n{\n  \"file_path\": \"/tmp/<main>.go\"\n}") {
		t.Errorf("tool_use text=%q", toolUse)
	}
	if s.Messages[3].Text != "package main" {
		t.Errorf("tool_result text=%q", s.Messages[3].Text)
	}
	if s.HasChildren() {
		t.Error("expected no children")
	}
}

func TestClaudeChildren(t *testing.T) {
	project := filepath.Join(t.TempDir(), "-repo")
	path := filepath.Join(project, "abc.jsonl")
	writeFile(t, path, jsonl(`{"type":"user","timestamp":"2026-01-15T10:30:00Z","message":{"content":"parent"}}`))
	writeFile(t, filepath.Join(project, "abc", "subagents", "agent-b2.jsonl"),
		jsonl(`{"type":"user","timestamp":"2026-01-15T10:31:00Z","message":{"content":"second"}}`))
	writeFile(t, filepath.Join(project, "abc", "subagents", "agent-a1.jsonl"),
		jsonl(`{"type":"assistant","timestamp":"2026-01-15T10:32:00Z","message":{"content":[{"type":"text","text":"first"}]}}`))
	writeFile(t, filepath.Join(project, "abc", "subagents", "notes.jsonl"), "{}\n")

	a := &ClaudeAdapter{}
	s, err := a.Parse(FileHandle{Path: path}, ParseOptions{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(s.ChildSessions) != 2 {
		t.Fatalf("got %d children, want 2", len(s.ChildSessions))
	}
	if s.ChildSessions[0].SessionID != "a1" || s.ChildSessions[1].SessionID != "b2" {
		t.Fatalf("children out of order: %s, %s", s.ChildSessions[0].SessionID, s.ChildSessions[1].SessionID)
	}
	if s.ChildSessions[0].SessionKey != "claude:a1" {
		t.Fatalf("child key=%q", s.ChildSessions[0].SessionKey)
	}

	before, err := a.Peek(FileHandle{Path: path})
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	writeFile(t, filepath.Join(project, "abc", "subagents", "agent-a1.jsonl"),
		jsonl(`{"type":"assistant","timestamp":"2026-01-15T10:32:00Z","message":{"content":[{"type":"text","text":"changed"}]}}`))
	after, err := a.Peek(FileHandle{Path: path})
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if before.Fingerprint == after.Fingerprint {
		t.Fatal("child change must alter the parent fingerprint")
	}
}

func TestClaudeManifest(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, "-Users-alice-Code-backend")
	writeFile(t, filepath.Join(project, "s1.jsonl"), jsonl(`{"type":"user","timestamp":"2026-01-15T10:30:00Z","message":{"content":"one"}}`))
	writeFile(t, filepath.Join(project, "s2.jsonl"), jsonl(`{"type":"user","timestamp":"2026-01-15T10:30:00Z","message":{"content":"two"}}`))
	writeFile(t, filepath.Join(project, "side.jsonl"), jsonl(`{"type":"user","message":{"content":"side"}}`))
	writeFile(t, filepath.Join(project, "sessions-index.json"), `{
  "originalPath": "/Users/alice/Code/backend",
  "entries": [
    {"sessionId": "s2", "fileMtime": 1700000001000, "created": "2026-01-14T08:00:00Z", "summary": "Health Check Endpoint"},
    {"sessionId": "side", "isSidechain": true},
    {"sessionId": "gone"},
    {"sessionId": "s1", "projectPath": "/Users/alice/Code/backend/api", "modified": "2026-01-13T08:00:00Z"}
  ]
}`)

	a := &ClaudeAdapter{}
	handles, err := a.Discover(root, DiscoverOptions{})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(handles) != 2 {
		t.Fatalf("got %d handles, want 2: %v", len(handles), handles)
	}
	if fileStem(handles[0].String()) != "s2" || fileStem(handles[1].String()) != "s1" {
		t.Fatalf("manifest order not kept: %v", handles)
	}

	id, err := a.Peek(handles[0])
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if id.Fingerprint != "1700000001000" || id.Cwd != "/Users/alice/Code/backend" || id.Summary != "Health Check Endpoint" || id.StartedAt != "2026-01-14T08:00:00Z" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	id, err = a.Peek(handles[1])
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if id.Cwd != "/Users/alice/Code/backend/api" || id.StartedAt != "2026-01-13T08:00:00Z" || len(id.Fingerprint) != 64 {
		t.Fatalf("unexpected identity: %+v", id)
	}

	s, err := a.Parse(handles[0], ParseOptions{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Summary != "Health Check Endpoint" {
		t.Fatalf("summary=%q", s.Summary)
	}
}

func TestClaudeDiscoverRepoFilter(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"-work-backend", "-work-backend-worktree", "-work-backend2", "-work-frontend"} {
		writeFile(t, filepath.Join(root, dir, "x.jsonl"), "{}\n")
	}

	handles, err := (&ClaudeAdapter{}).Discover(root, DiscoverOptions{RepoFilter: "/work/backend"})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	var dirs []string
	for _, h := range handles {
		dirs = append(dirs, filepath.Base(filepath.Dir(h.String())))
	}
	if strings.Join(dirs, ",") != "-work-backend,-work-backend-worktree" {
		t.Fatalf("unexpected project dirs: %v", dirs)
	}
}

func TestClaudePeekWithoutConversation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "-p", "empty.jsonl")
	writeFile(t, path, jsonl(`{"type":"summary","summary":"x"}`, `garbage`))

	if _, err := (&ClaudeAdapter{}).Peek(FileHandle{Path: path}); !errors.Is(err, ErrCannotIdentify) {
		t.Fatalf("err=%v, want ErrCannotIdentify", err)
	}
}
