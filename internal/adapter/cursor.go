package adapter

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"convx/internal/fsx"
	"convx/internal/model"
	"convx/internal/render"
)

const (
	cursorChatDataKey     = "workbench.panel.aichat.view.aichat.chatdata"
	cursorComposerDataKey = "composer.composerData"
	cursorComposerPrefix  = "composerData:"

	cursorKindChat     = "chat"
	cursorKindComposer = "composer"
)

// CursorAdapter reads Cursor's embedded SQLite stores. The input root is the
// workspaceStorage directory; composer sessions live in the sibling
// globalStorage database.
type CursorAdapter struct{}

func (*CursorAdapter) Name() string { return Cursor }

type cursorWorkspace struct {
	db  string
	cwd string
}

func cursorGlobalDB(root string) string {
	return filepath.Join(filepath.Dir(root), "globalStorage", "state.vscdb")
}

// folderToCwd converts a workspace.json folder URL into a local path.
func folderToCwd(folder string) string {
	if !strings.HasPrefix(folder, "file://") {
		return ""
	}
	path, err := url.PathUnescape(strings.TrimPrefix(folder, "file://"))
	if err != nil {
		return ""
	}
	return path
}

func cursorWorkspaces(root string) []cursorWorkspace {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []cursorWorkspace
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		db := filepath.Join(dir, "state.vscdb")
		wj := filepath.Join(dir, "workspace.json")
		if !fsx.Exists(db) || !fsx.Exists(wj) {
			continue
		}
		ws := cursorWorkspace{db: db}
		if data, err := os.ReadFile(wj); err == nil {
			if obj, err := decodeObject(data); err == nil {
				ws.cwd = folderToCwd(asString(obj["folder"]))
			}
		}
		out = append(out, ws)
	}
	return out
}

// openReadOnly opens a short-lived read-only connection to a store.
func openReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return db, nil
}

// queryValue returns the value stored under key, or nil when absent.
func queryValue(path, table, key string) ([]byte, error) {
	db, err := openReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var value []byte
	err = db.QueryRow("SELECT value FROM "+table+" WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query %s in %s: %w", key, path, err)
	}
	return value, nil
}

type kvRow struct {
	key   string
	value []byte
}

func queryPrefix(path, table, prefix string) ([]kvRow, error) {
	db, err := openReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query("SELECT key, value FROM "+table+" WHERE key LIKE ?", prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("query %s* in %s: %w", prefix, path, err)
	}
	defer rows.Close()

	var out []kvRow
	for rows.Next() {
		var r kvRow
		if err := rows.Scan(&r.key, &r.value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", path, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// cursorStartedAt dates a chat tab or composer from its own clock: the first
// epoch-millis field of keys present on obj, then the earliest bubble
// timestamp. The store mtime, which moves on every write, comes last.
func cursorStartedAt(obj map[string]any, bubbles []any, store string, keys ...string) string {
	for _, k := range keys {
		if ms, ok := asInt64(obj[k]); ok && ms > 0 {
			return render.FormatTimestamp(time.UnixMilli(ms))
		}
	}
	var earliest int64
	for _, raw := range bubbles {
		v := firstByPath(asMap(raw), []string{"timingInfo", "clientStartTime"}, []string{"createdAt"}, []string{"timestamp"})
		if ms, ok := asInt64(v); ok && ms > 0 && (earliest == 0 || ms < earliest) {
			earliest = ms
		}
	}
	if earliest > 0 {
		return render.FormatTimestamp(time.UnixMilli(earliest))
	}
	return modTime(store)
}

func (a *CursorAdapter) Discover(root string, opts DiscoverOptions) ([]Handle, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, nil
	}
	root = fsx.ResolvePath(root)
	workspaces := cursorWorkspaces(root)

	inScope := func(cwd string) bool {
		return opts.RepoFilter == "" || cwd == "" || fsx.IsUnderRepo(cwd, opts.RepoFilter)
	}

	composerCwd := map[string]string{}
	for _, ws := range workspaces {
		value, err := queryValue(ws.db, "ItemTable", cursorComposerDataKey)
		if err != nil || value == nil {
			continue
		}
		obj, err := decodeObject(value)
		if err != nil {
			continue
		}
		for _, c := range asSlice(obj["allComposers"]) {
			if id := asString(asMap(c)["composerId"]); id != "" {
				composerCwd[id] = ws.cwd
			}
		}
	}

	var handles []RecordHandle
	for _, ws := range workspaces {
		if !inScope(ws.cwd) {
			continue
		}
		handles = append(handles, cursorChatHandles(ws)...)
	}

	globalDB := cursorGlobalDB(root)
	if fsx.Exists(globalDB) {
		rows, err := queryPrefix(globalDB, "cursorDiskKV", cursorComposerPrefix)
		if err == nil {
			for _, row := range rows {
				id := strings.TrimPrefix(row.key, cursorComposerPrefix)
				if id == "" || len(row.value) == 0 {
					continue
				}
				cwd := composerCwd[id]
				if !inScope(cwd) {
					continue
				}
				if h, ok := cursorComposerHandle(globalDB, id, cwd, row.value); ok {
					handles = append(handles, h)
				}
			}
		}
	}

	sort.Slice(handles, func(i, j int) bool { return handles[i].String() < handles[j].String() })
	out := make([]Handle, 0, len(handles))
	for _, h := range handles {
		out = append(out, h)
	}
	return out, nil
}

func cursorChatHandles(ws cursorWorkspace) []RecordHandle {
	value, err := queryValue(ws.db, "ItemTable", cursorChatDataKey)
	if err != nil || value == nil {
		return nil
	}
	obj, err := decodeObject(value)
	if err != nil {
		return nil
	}

	var out []RecordHandle
	for _, raw := range asSlice(obj["tabs"]) {
		tab := asMap(raw)
		bubbles := asSlice(tab["bubbles"])
		if len(bubbles) == 0 || !chatHasText(bubbles) {
			continue
		}
		id := asString(tab["tabId"])
		if id == "" {
			continue
		}
		out = append(out, RecordHandle{
			Store:       ws.db,
			Kind:        cursorKindChat,
			ID:          id,
			Cwd:         ws.cwd,
			StartedAt:   cursorStartedAt(tab, bubbles, ws.db, "lastSendTime"),
			Fingerprint: fsx.HashBytes([]byte(encodeJSON(tab, ""))),
			Record:      tab,
		})
	}
	return out
}

func chatHasText(bubbles []any) bool {
	for _, raw := range bubbles {
		b := asMap(raw)
		switch asString(b["type"]) {
		case "user":
			if userBubbleText(b) != "" {
				return true
			}
		case "ai":
			if asString(b["rawText"]) != "" {
				return true
			}
		}
	}
	return false
}

func cursorComposerHandle(store, id, cwd string, value []byte) (RecordHandle, bool) {
	data, err := decodeObject(value)
	if err != nil {
		return RecordHandle{}, false
	}
	content := data["conversation"]
	if len(asSlice(content)) == 0 {
		content = data["fullConversationHeadersOnly"]
		if len(asSlice(content)) == 0 {
			return RecordHandle{}, false
		}
	}
	return RecordHandle{
		Store:       store,
		Kind:        cursorKindComposer,
		ID:          id,
		Cwd:         cwd,
		StartedAt:   cursorStartedAt(data, asSlice(data["conversation"]), store, "createdAt", "lastUpdatedAt"),
		Fingerprint: fsx.HashBytes([]byte(encodeJSON(content, ""))),
		Record:      data,
	}, true
}

// userBubbleText falls back from the plain text to the delegate field and
// then to the first node of the rich-text editor state.
func userBubbleText(b map[string]any) string {
	if t := strings.TrimSpace(asString(b["text"])); t != "" {
		return t
	}
	if t := strings.TrimSpace(asString(firstByPath(b, []string{"delegate", "a"}))); t != "" {
		return t
	}
	initText := asString(b["initText"])
	if strings.TrimSpace(initText) == "" {
		return ""
	}
	obj, err := decodeObject([]byte(initText))
	if err != nil {
		return ""
	}
	children := asSlice(firstByPath(obj, []string{"root", "children"}))
	if len(children) == 0 {
		return ""
	}
	inner := asSlice(asMap(children[0])["children"])
	if len(inner) == 0 {
		return ""
	}
	text, _ := asMap(inner[0])["text"].(string)
	return strings.TrimSpace(text)
}

func (a *CursorAdapter) Peek(h Handle) (Identity, error) {
	rh, ok := h.(RecordHandle)
	if !ok {
		return Identity{}, cannotIdentify(h, "not a Cursor record")
	}
	return Identity{
		SessionID:   rh.ID,
		SessionKey:  model.Key(a.Name(), rh.ID),
		StartedAt:   rh.StartedAt,
		Cwd:         rh.Cwd,
		Fingerprint: rh.Fingerprint,
	}, nil
}

func (a *CursorAdapter) Parse(h Handle, opts ParseOptions) (*model.Session, error) {
	rh, ok := h.(RecordHandle)
	if !ok {
		return nil, fmt.Errorf("cursor: unsupported handle %s", h)
	}
	s := &model.Session{
		SessionKey:   model.Key(a.Name(), rh.ID),
		SourceSystem: a.Name(),
		SessionID:    rh.ID,
		SourcePath:   rh.Store,
		StartedAt:    rh.StartedAt,
		User:         opts.User,
		SystemName:   opts.SystemName,
		Cwd:          rh.Cwd,
	}

	switch rh.Kind {
	case cursorKindChat:
		for _, raw := range asSlice(rh.Record["bubbles"]) {
			b := asMap(raw)
			switch asString(b["type"]) {
			case "user":
				if text := userBubbleText(b); text != "" {
					s.Messages = append(s.Messages, model.Message{Role: "user", Text: text, Kind: model.KindUser})
				}
			case "ai":
				if text := asString(b["rawText"]); text != "" {
					s.Messages = append(s.Messages, model.Message{Role: "assistant", Text: text, Kind: model.KindAssistant})
				}
			}
		}
	case cursorKindComposer:
		s.Summary = asString(rh.Record["name"])
		if conv := asSlice(rh.Record["conversation"]); len(conv) > 0 {
			for _, raw := range conv {
				msg := asMap(raw)
				if m, ok := composerMessage(msg["type"], asString(msg["text"])); ok {
					s.Messages = append(s.Messages, m)
				}
			}
		} else {
			msgs, err := composerBubbles(rh.Store, rh.ID, asSlice(rh.Record["fullConversationHeadersOnly"]))
			if err != nil {
				return nil, err
			}
			s.Messages = msgs
		}
	default:
		return nil, fmt.Errorf("cursor: unknown record kind %q", rh.Kind)
	}
	return s, nil
}

func composerMessage(typ any, text string) (model.Message, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, false
	}
	n, _ := asInt64(typ)
	switch n {
	case 1:
		return model.Message{Role: "user", Text: text, Kind: model.KindUser}, true
	case 2:
		return model.Message{Role: "assistant", Text: text, Kind: model.KindAssistant}, true
	}
	return model.Message{}, false
}

// composerBubbles resolves header-only composers by looking up each bubble
// in the global store.
func composerBubbles(store, composerID string, headers []any) ([]model.Message, error) {
	if len(headers) == 0 || !fsx.Exists(store) {
		return nil, nil
	}
	db, err := openReadOnly(store)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var out []model.Message
	for _, raw := range headers {
		header := asMap(raw)
		bubbleID := asString(header["bubbleId"])
		if bubbleID == "" {
			continue
		}
		if n, _ := asInt64(header["type"]); n != 1 && n != 2 {
			continue
		}

		var value []byte
		err := db.QueryRow("SELECT value FROM cursorDiskKV WHERE key = ?", "bubbleId:"+composerID+":"+bubbleID).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("query bubble %s in %s: %w", bubbleID, store, err)
		}
		bubble, err := decodeObject(value)
		if err != nil {
			continue
		}
		if m, ok := composerMessage(header["type"], asString(bubble["text"])); ok {
			out = append(out, m)
		}
	}
	return out, nil
}
