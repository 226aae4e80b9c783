package render

import (
	"strings"

	"convx/internal/model"
)

// Options gates the non-conversational content embedded in markdown.
type Options struct {
	// WithContext embeds system and tool messages as HTML comments.
	WithContext bool
	// WithThinking embeds reasoning and thinking messages as HTML comments.
	WithThinking bool
}

// Markdown renders a session as a human-readable transcript.
func Markdown(s *model.Session, opts Options) string {
	var b strings.Builder
	b.WriteString("# Conversation " + s.SessionID + "\n\n")
	b.WriteString("- Source: `" + s.SourceSystem + "`\n")
	b.WriteString("- User: `" + s.User + "`\n")
	b.WriteString("- System: `" + s.SystemName + "`\n")
	b.WriteString("- Started: `" + s.StartedAt + "`\n")
	b.WriteString("- CWD: `" + safeValue(s.Cwd, "(unknown)") + "`\n")
	b.WriteString("\n")

	if !hasVisibleMessages(s.Messages) {
		b.WriteString("_No user/assistant messages extracted._\n\n")
	}

	for _, m := range s.Messages {
		switch m.Kind {
		case model.KindSystem, model.KindTool:
			if !opts.WithContext {
				continue
			}
			writeHiddenBlock(&b, m)
		case model.KindReasoning, model.KindThinking:
			if !opts.WithThinking {
				continue
			}
			writeHiddenBlock(&b, m)
		case model.KindUser:
			writeSection(&b, "User", m)
		case model.KindAssistant:
			writeSection(&b, "Agent", m)
		}
	}

	out := b.String()
	// Line-joined output carries no trailing newline after the final blank line.
	return strings.TrimSuffix(out, "\n")
}

func writeSection(b *strings.Builder, title string, m model.Message) {
	b.WriteString("## " + title)
	if m.Timestamp != "" {
		b.WriteString("\n\n_`" + m.Timestamp + "`_")
	}
	b.WriteString("\n\n")
	b.WriteString(m.Text + "\n\n")
}

func writeHiddenBlock(b *strings.Builder, m model.Message) {
	label := strings.ToUpper(m.Role)
	if m.Timestamp != "" {
		label += " (" + m.Timestamp + ")"
	}
	b.WriteString(htmlComment("### "+label+"\n\n"+m.Text) + "\n\n")
}

// htmlComment wraps content in a comment block, escaping any comment-close
// sequence so the block cannot end early.
func htmlComment(content string) string {
	safe := strings.ReplaceAll(content, "-->", "-- >")
	return "<!--\n" + safe + "\n-->"
}

func hasVisibleMessages(messages []model.Message) bool {
	for _, m := range messages {
		if m.Kind == model.KindUser || m.Kind == model.KindAssistant {
			return true
		}
	}
	return false
}

// FirstUserText returns the first non-blank user message, trimmed.
func FirstUserText(s *model.Session) string {
	for _, m := range s.Messages {
		if m.Kind == model.KindUser {
			if text := strings.TrimSpace(m.Text); text != "" {
				return text
			}
		}
	}
	return ""
}

func safeValue(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
