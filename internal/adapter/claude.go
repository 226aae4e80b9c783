package adapter

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"convx/internal/fsx"
	"convx/internal/model"
)

const claudeManifest = "sessions-index.json"

var nonAlnumRe = regexp.MustCompile(`[^A-Za-z0-9]`)

// ClaudeAdapter reads Claude project logs: one directory per project, one
// JSONL file per session, and sub-agent transcripts under
// <session>/subagents/.
type ClaudeAdapter struct{}

func (*ClaudeAdapter) Name() string { return Claude }

type claudeManifestEntry struct {
	SessionID   string
	FullPath    string
	ProjectPath string
	Created     string
	Modified    string
	Summary     string
	FileMtime   string
	IsSidechain bool
}

type claudeManifestFile struct {
	OriginalPath string
	Entries      []claudeManifestEntry
}

// readClaudeManifest returns nil when the project has no usable manifest.
func readClaudeManifest(projectDir string) *claudeManifestFile {
	data, err := os.ReadFile(filepath.Join(projectDir, claudeManifest))
	if err != nil {
		return nil
	}
	obj, err := decodeObject(data)
	if err != nil {
		return &claudeManifestFile{}
	}

	m := &claudeManifestFile{OriginalPath: asString(obj["originalPath"])}
	for _, raw := range asSlice(obj["entries"]) {
		e := asMap(raw)
		if e == nil {
			continue
		}
		sidechain, _ := e["isSidechain"].(bool)
		m.Entries = append(m.Entries, claudeManifestEntry{
			SessionID:   asString(e["sessionId"]),
			FullPath:    asString(e["fullPath"]),
			ProjectPath: asString(e["projectPath"]),
			Created:     asString(e["created"]),
			Modified:    asString(e["modified"]),
			Summary:     asString(e["summary"]),
			FileMtime:   asString(e["fileMtime"]),
			IsSidechain: sidechain,
		})
	}
	return m
}

// encodeProjectPath mirrors how Claude names project directories.
func encodeProjectPath(path string) string {
	s := strings.ReplaceAll(path, "/", "-")
	if !strings.HasPrefix(s, "-") {
		s = "-" + s
	}
	return s
}

func projectDirMatchesRepo(dirName, repo string) bool {
	resolved := fsx.ResolvePath(repo)
	for _, encoded := range []string{encodeProjectPath(resolved), nonAlnumRe.ReplaceAllString(resolved, "-")} {
		if dirName == encoded || strings.HasPrefix(dirName, encoded+"-") {
			return true
		}
	}
	return false
}

func (*ClaudeAdapter) Discover(root string, opts DiscoverOptions) ([]Handle, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", root, err)
	}

	var handles []Handle
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if opts.RepoFilter != "" && !projectDirMatchesRepo(entry.Name(), opts.RepoFilter) {
			continue
		}
		projectDir := filepath.Join(root, entry.Name())

		if manifest := readClaudeManifest(projectDir); manifest != nil {
			for _, e := range manifest.Entries {
				if e.IsSidechain || e.SessionID == "" {
					continue
				}
				if e.FullPath != "" && fsx.Exists(e.FullPath) {
					handles = append(handles, FileHandle{Path: e.FullPath})
					continue
				}
				if p := filepath.Join(projectDir, e.SessionID+".jsonl"); fsx.Exists(p) {
					handles = append(handles, FileHandle{Path: p})
				}
			}
			continue
		}

		files, _ := filepath.Glob(filepath.Join(projectDir, "*.jsonl"))
		sort.Strings(files)
		for _, f := range files {
			if info, err := os.Stat(f); err == nil && info.Mode().IsRegular() {
				handles = append(handles, FileHandle{Path: f})
			}
		}
	}
	return handles, nil
}

func (a *ClaudeAdapter) Peek(h Handle) (Identity, error) {
	fh, ok := h.(FileHandle)
	if !ok {
		return Identity{}, cannotIdentify(h, "not a file")
	}
	id := fileStem(fh.Path)
	ident := Identity{SessionID: id, SessionKey: model.Key(a.Name(), id)}

	if manifest := readClaudeManifest(filepath.Dir(fh.Path)); manifest != nil {
		for _, e := range manifest.Entries {
			if e.SessionID != id || e.IsSidechain {
				continue
			}
			ident.Cwd = firstNonEmpty(e.ProjectPath, manifest.OriginalPath)
			ident.StartedAt = firstNonEmpty(e.Created, e.Modified, modTime(fh.Path))
			ident.Summary = e.Summary
			ident.Fingerprint = e.FileMtime
			if ident.Fingerprint == "" {
				fp, err := claudeContentHash(fh.Path)
				if err != nil {
					return Identity{}, cannotIdentify(h, err.Error())
				}
				ident.Fingerprint = fp
			}
			return ident, nil
		}
	}

	var turn map[string]any
	err := eachLine(fh.Path, func(line []byte) bool {
		obj, err := decodeObject(line)
		if err != nil {
			return true
		}
		switch asString(obj["type"]) {
		case "user", "assistant":
			turn = obj
			return false
		}
		return true
	})
	if err != nil {
		return Identity{}, cannotIdentify(h, err.Error())
	}
	if turn == nil {
		return Identity{}, cannotIdentify(h, "no user or assistant line")
	}
	fp, err := claudeContentHash(fh.Path)
	if err != nil {
		return Identity{}, cannotIdentify(h, err.Error())
	}
	ident.Cwd = asString(turn["cwd"])
	ident.StartedAt = firstNonEmpty(asString(turn["timestamp"]), modTime(fh.Path))
	ident.Fingerprint = fp
	return ident, nil
}

// claudeContentHash covers the session file and every sub-agent transcript,
// so a change in a child re-exports the parent.
func claudeContentHash(path string) (string, error) {
	return fsx.HashFiles(append([]string{path}, claudeSubagentFiles(path)...)...)
}

func claudeSubagentFiles(path string) []string {
	dir := filepath.Join(filepath.Dir(path), fileStem(path), "subagents")
	files, _ := filepath.Glob(filepath.Join(dir, "agent-*.jsonl"))
	out := files[:0]
	for _, f := range files {
		if info, err := os.Stat(f); err == nil && info.Mode().IsRegular() {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

func (a *ClaudeAdapter) Parse(h Handle, opts ParseOptions) (*model.Session, error) {
	fh, ok := h.(FileHandle)
	if !ok {
		return nil, fmt.Errorf("claude: unsupported handle %s", h)
	}
	s, err := a.parseFile(fh.Path, fileStem(fh.Path), opts)
	if err != nil {
		return nil, err
	}

	if manifest := readClaudeManifest(filepath.Dir(fh.Path)); manifest != nil {
		for _, e := range manifest.Entries {
			if e.SessionID == s.SessionID && !e.IsSidechain {
				s.Summary = e.Summary
				break
			}
		}
	}

	s.ChildSessions = []*model.Session{}
	for _, f := range claudeSubagentFiles(fh.Path) {
		child, err := a.parseFile(f, strings.TrimPrefix(fileStem(f), "agent-"), opts)
		if err != nil {
			return nil, err
		}
		s.ChildSessions = append(s.ChildSessions, child)
	}
	return s, nil
}

func (a *ClaudeAdapter) parseFile(path, id string, opts ParseOptions) (*model.Session, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	s := &model.Session{
		SessionKey:   model.Key(a.Name(), id),
		SourceSystem: a.Name(),
		SessionID:    id,
		SourcePath:   path,
		User:         opts.User,
		SystemName:   opts.SystemName,
	}

	for _, line := range lines {
		obj, err := decodeObject(line)
		if err != nil {
			continue
		}
		typ := asString(obj["type"])
		switch typ {
		case "queue-operation", "file-history-snapshot", "summary", "progress":
			continue
		}
		if meta, _ := obj["isMeta"].(bool); meta {
			continue
		}

		ts := asString(obj["timestamp"])
		content := firstByPath(obj, []string{"message", "content"})
		text, blockType := claudeContentText(content)

		switch typ {
		case "user", "assistant":
			if text == "" {
				continue
			}
			s.Messages = append(s.Messages, claudeMessage(typ, blockType, text, ts))
			if s.StartedAt == "" {
				s.StartedAt = ts
			}
			if s.Cwd == "" {
				s.Cwd = asString(obj["cwd"])
			}
		case "system":
			if text == "" {
				text, _ = claudeContentText(obj["content"])
			}
			if text != "" {
				s.Messages = append(s.Messages, model.Message{Role: "system", Text: text, Timestamp: ts, Kind: model.KindSystem})
			}
		}
	}

	if s.StartedAt == "" {
		s.StartedAt = modTime(path)
	}
	return s, nil
}

func claudeMessage(typ, blockType, text, ts string) model.Message {
	switch {
	case typ == "user" && blockType == "tool_result":
		return model.Message{Role: "tool", Text: text, Timestamp: ts, Kind: model.KindTool}
	case typ == "user":
		return model.Message{Role: "user", Text: text, Timestamp: ts, Kind: model.KindUser}
	case blockType == "tool_use":
		return model.Message{Role: "tool", Text: text, Timestamp: ts, Kind: model.KindTool}
	case blockType == "thinking":
		return model.Message{Role: "reasoning", Text: text, Timestamp: ts, Kind: model.KindThinking}
	default:
		return model.Message{Role: "assistant", Text: text, Timestamp: ts, Kind: model.KindAssistant}
	}
}

// claudeContentText flattens message content into text and reports the last
// non-text block type seen, which decides how the message is classified.
func claudeContentText(content any) (string, string) {
	if s, ok := content.(string); ok {
		return strings.TrimSpace(s), "text"
	}

	blockType := "text"
	var parts []string
	for _, item := range asSlice(content) {
		block := asMap(item)
		if block == nil {
			continue
		}
		switch asString(block["type"]) {
		case "text":
			if t := strings.TrimSpace(asString(block["text"])); t != "" {
				parts = append(parts, t)
			}
		case "tool_result":
			blockType = "tool_result"
			parts = append(parts, toolResultText(block["content"]))
		case "tool_use":
			blockType = "tool_use"
			name := firstNonEmpty(asString(block["name"]), "unknown")
			input := block["input"]
			if input == nil {
				input = map[string]any{}
			}
			parts = append(parts, "[tool_use] "+name+"\n"+encodeJSON(input, "  "))
		case "thinking":
			blockType = "thinking"
			if t := strings.TrimSpace(asString(block["thinking"])); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n")), blockType
}

func toolResultText(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	arr := asSlice(content)
	if arr == nil {
		return asText(content)
	}
	var parts []string
	for _, item := range arr {
		if text := asString(asMap(item)["text"]); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}
