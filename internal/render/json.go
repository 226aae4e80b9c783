package render

import (
	"bytes"
	"encoding/json"
	"fmt"

	"convx/internal/model"
)

// Field order below is alphabetical so the encoded keys are sorted.

type messageDoc struct {
	Kind      model.Kind `json:"kind"`
	Role      string     `json:"role"`
	Text      string     `json:"text"`
	Timestamp *string    `json:"timestamp"`
}

type sessionDoc struct {
	ChildSessions []*sessionDoc `json:"child_sessions"`
	Cwd           string        `json:"cwd"`
	Messages      []messageDoc  `json:"messages"`
	SessionID     string        `json:"session_id"`
	SessionKey    string        `json:"session_key"`
	SourcePath    string        `json:"source_path"`
	SourceSystem  string        `json:"source_system"`
	StartedAt     string        `json:"started_at"`
	Summary       *string       `json:"summary"`
	SystemName    string        `json:"system_name"`
	User          string        `json:"user"`
}

// JSON renders the full canonical session with deterministic key order.
func JSON(s *model.Session) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(toDoc(s)); err != nil {
		return "", fmt.Errorf("encode session %s: %w", s.SessionKey, err)
	}
	return buf.String(), nil
}

func toDoc(s *model.Session) *sessionDoc {
	doc := &sessionDoc{
		Cwd:          s.Cwd,
		Messages:     make([]messageDoc, 0, len(s.Messages)),
		SessionID:    s.SessionID,
		SessionKey:   s.SessionKey,
		SourcePath:   s.SourcePath,
		SourceSystem: s.SourceSystem,
		StartedAt:    s.StartedAt,
		Summary:      optional(s.Summary),
		SystemName:   s.SystemName,
		User:         s.User,
	}
	for _, m := range s.Messages {
		doc.Messages = append(doc.Messages, messageDoc{
			Kind:      m.Kind,
			Role:      m.Role,
			Text:      m.Text,
			Timestamp: optional(m.Timestamp),
		})
	}
	if s.ChildSessions != nil {
		doc.ChildSessions = make([]*sessionDoc, 0, len(s.ChildSessions))
		for _, child := range s.ChildSessions {
			doc.ChildSessions = append(doc.ChildSessions, toDoc(child))
		}
	}
	return doc
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
