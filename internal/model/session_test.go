package model

import "testing"

func TestSessionContainsSearchesChildren(t *testing.T) {
	s := &Session{
		Messages: []Message{{Role: "user", Text: "hello", Kind: KindUser}},
		ChildSessions: []*Session{
			{Messages: []Message{{Role: "assistant", Text: "skip CONVX_NO_SYNC please", Kind: KindAssistant}}},
		},
	}
	if !s.Contains("CONVX_NO_SYNC") {
		t.Fatal("expected marker in child session to be found")
	}
	if s.Contains("") {
		t.Fatal("empty needle must never match")
	}
	if s.Contains("absent") {
		t.Fatal("unexpected match for absent needle")
	}
}

func TestKey(t *testing.T) {
	if got := Key("codex", "abc"); got != "codex:abc" {
		t.Fatalf("Key()=%q, want codex:abc", got)
	}
}
