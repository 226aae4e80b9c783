package adapter

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"convx/internal/model"
)

// CodexAdapter reads Codex rollout logs: one append-only JSONL file per
// session, stored in dated directories.
type CodexAdapter struct{}

func (*CodexAdapter) Name() string { return Codex }

func (*CodexAdapter) Discover(root string, _ DiscoverOptions) ([]Handle, error) {
	var paths []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() && strings.HasSuffix(d.Name(), ".jsonl") {
			paths = append(paths, path)
		}
		return nil
	})
	sort.Strings(paths)

	handles := make([]Handle, 0, len(paths))
	for _, p := range paths {
		handles = append(handles, FileHandle{Path: p})
	}
	return handles, nil
}

func (a *CodexAdapter) Peek(h Handle) (Identity, error) {
	fh, ok := h.(FileHandle)
	if !ok {
		return Identity{}, cannotIdentify(h, "not a file")
	}
	line, err := readFirstLine(fh.Path)
	if err != nil {
		return Identity{}, cannotIdentify(h, err.Error())
	}
	if line == nil {
		return Identity{}, cannotIdentify(h, "empty file")
	}
	first, err := decodeObject(line)
	if err != nil {
		return Identity{}, cannotIdentify(h, "first line is not a JSON object")
	}

	payload := asMap(first["payload"])
	id := firstNonEmpty(asString(payload["id"]), fileStem(fh.Path))
	return Identity{
		SessionID:  id,
		SessionKey: model.Key(a.Name(), id),
		StartedAt:  firstNonEmpty(asString(payload["timestamp"]), asString(first["timestamp"]), modTime(fh.Path)),
		Cwd:        asString(payload["cwd"]),
	}, nil
}

func (a *CodexAdapter) Parse(h Handle, opts ParseOptions) (*model.Session, error) {
	fh, ok := h.(FileHandle)
	if !ok {
		return nil, fmt.Errorf("codex: unsupported handle %s", h)
	}
	lines, err := readLines(fh.Path)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		if obj, err := decodeObject(line); err == nil {
			items = append(items, obj)
		}
	}
	typed := typedUserTexts(items)

	s := &model.Session{
		SourceSystem: a.Name(),
		SessionID:    fileStem(fh.Path),
		SourcePath:   fh.String(),
		User:         opts.User,
		SystemName:   opts.SystemName,
	}

	for _, item := range items {
		payload := asMap(item["payload"])
		ts := asString(item["timestamp"])

		switch asString(item["type"]) {
		case "session_meta":
			s.SessionID = firstNonEmpty(asString(payload["id"]), s.SessionID)
			s.StartedAt = firstNonEmpty(asString(payload["timestamp"]), ts, s.StartedAt)
			s.Cwd = firstNonEmpty(asString(payload["cwd"]), s.Cwd)
			if text := asString(firstByPath(payload, []string{"base_instructions", "text"})); text != "" {
				s.Messages = append(s.Messages, model.Message{Role: "system", Text: text, Timestamp: ts, Kind: model.KindSystem})
			}
		case "response_item":
			if msg, ok := codexResponseItem(payload, typed); ok {
				msg.Timestamp = ts
				s.Messages = append(s.Messages, msg)
			}
		}
	}

	if s.StartedAt == "" {
		s.StartedAt = modTime(fh.Path)
	}
	s.SessionKey = model.Key(a.Name(), s.SessionID)
	return s, nil
}

func codexResponseItem(payload map[string]any, typed map[string]struct{}) (model.Message, bool) {
	switch asString(payload["type"]) {
	case "function_call":
		name := firstNonEmpty(asString(payload["name"]), "unknown_tool")
		text := "[tool_call] " + name + "\n" + asText(payload["arguments"])
		return model.Message{Role: "tool", Text: text, Kind: model.KindTool}, true

	case "function_call_output":
		text := "[tool_result] call_id=" + asString(payload["call_id"]) + "\n" + ansi.Strip(asText(payload["output"]))
		return model.Message{Role: "tool", Text: text, Kind: model.KindTool}, true

	case "reasoning":
		var parts []string
		for _, item := range asSlice(payload["summary"]) {
			part := asMap(item)
			if asString(part["type"]) == "summary_text" {
				parts = append(parts, asString(part["text"]))
			}
		}
		text := strings.TrimSpace(strings.Join(parts, "\n"))
		if text == "" {
			return model.Message{}, false
		}
		return model.Message{Role: "reasoning", Text: text, Kind: model.KindReasoning}, true

	case "message":
		var parts []string
		for _, item := range asSlice(payload["content"]) {
			part := asMap(item)
			switch asString(part["type"]) {
			case "input_text", "output_text", "text":
				if t := strings.TrimSpace(asString(part["text"])); t != "" {
					parts = append(parts, t)
				}
			}
		}
		text := strings.TrimSpace(strings.Join(parts, "\n\n"))
		if text == "" {
			return model.Message{}, false
		}

		role := firstNonEmpty(asString(payload["role"]), "unknown")
		switch role {
		case "developer":
			return model.Message{Role: "system", Text: text, Kind: model.KindSystem}, true
		case "user":
			// Only texts echoed by a user_message event were typed by a human;
			// the rest is injected context such as AGENTS.md or environment.
			kind := model.KindSystem
			if _, ok := typed[text]; ok {
				kind = model.KindUser
			}
			return model.Message{Role: "user", Text: text, Kind: kind}, true
		case "assistant":
			return model.Message{Role: "assistant", Text: text, Kind: model.KindAssistant}, true
		default:
			return model.Message{Role: role, Text: text, Kind: model.KindSystem}, true
		}
	}
	return model.Message{}, false
}

func typedUserTexts(items []map[string]any) map[string]struct{} {
	texts := map[string]struct{}{}
	for _, item := range items {
		if asString(item["type"]) != "event_msg" {
			continue
		}
		payload := asMap(item["payload"])
		if asString(payload["type"]) != "user_message" {
			continue
		}
		msg, _ := payload["message"].(string)
		if msg = strings.TrimSpace(msg); msg != "" {
			texts[msg] = struct{}{}
		}
	}
	return texts
}
