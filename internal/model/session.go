package model

import "strings"

// Kind controls how a message is rendered, independent of its role.
type Kind string

const (
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	KindSystem    Kind = "system"
	KindTool      Kind = "tool"
	KindReasoning Kind = "reasoning"
	KindThinking  Kind = "thinking"
)

type Message struct {
	Role      string
	Text      string
	Timestamp string
	Kind      Kind
}

type Session struct {
	SessionKey    string
	SourceSystem  string
	SessionID     string
	SourcePath    string
	StartedAt     string
	User          string
	SystemName    string
	Cwd           string
	Messages      []Message
	Summary       string
	ChildSessions []*Session
}

// Key builds the globally unique session key for a source system.
func Key(sourceSystem, sessionID string) string {
	return sourceSystem + ":" + sessionID
}

// HasChildren reports whether the session owns any sub-agent transcripts.
func (s *Session) HasChildren() bool {
	return len(s.ChildSessions) > 0
}

// Contains reports whether needle occurs in any message text of the session
// or of its children.
func (s *Session) Contains(needle string) bool {
	if needle == "" {
		return false
	}
	for _, m := range s.Messages {
		if m.Text != "" && strings.Contains(m.Text, needle) {
			return true
		}
	}
	for _, child := range s.ChildSessions {
		if child != nil && child.Contains(needle) {
			return true
		}
	}
	return false
}
