package adapter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"convx/internal/render"
)

// maxLineSize bounds one JSONL record. Longer lines are skipped so a single
// oversized tool output does not hide the rest of the transcript.
var maxLineSize = 32 * 1024 * 1024

// eachLine calls fn with every non-blank line of path until fn returns
// false. The slice passed to fn is reused between calls.
func eachLine(path string, fn func(line []byte) bool) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	r := bufio.NewReaderSize(file, 64*1024)
	var buf []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			buf = append(buf, chunk...)
			if len(bytes.TrimRight(buf, "\r\n")) > maxLineSize {
				tooLong, buf = true, buf[:0]
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if line := bytes.TrimSpace(buf); !tooLong && len(line) > 0 {
			if !fn(line) {
				return nil
			}
		}
		buf, tooLong = buf[:0], false
		if err != nil {
			return nil
		}
	}
}

// readLines returns the non-blank lines of a JSONL file.
func readLines(path string) ([][]byte, error) {
	var lines [][]byte
	err := eachLine(path, func(line []byte) bool {
		lines = append(lines, append([]byte(nil), line...))
		return true
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// readFirstLine returns the first non-blank line of a JSONL file, or nil for
// an empty file, without reading the rest.
func readFirstLine(path string) ([]byte, error) {
	var first []byte
	err := eachLine(path, func(line []byte) bool {
		first = append([]byte(nil), line...)
		return false
	})
	return first, err
}

// decodeObject decodes one JSON object, keeping numbers as json.Number so
// that large integers survive untouched. Anything but an object is rejected.
func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("not a JSON object")
	}
	return obj, nil
}

func firstByPath(obj map[string]any, path ...[]string) any {
	for _, p := range path {
		var cur any = obj
		ok := true
		for _, seg := range p {
			m, isMap := cur.(map[string]any)
			if !isMap {
				ok = false
				break
			}
			var exists bool
			cur, exists = m[seg]
			if !exists {
				ok = false
				break
			}
		}
		if ok {
			return cur
		}
	}
	return nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// asString renders scalars as text. Objects and arrays yield "".
func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// asText renders any JSON value as text: strings as-is, everything else as
// compact JSON.
func asText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		return encodeJSON(t, "")
	default:
		return asString(t)
	}
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// encodeJSON marshals v without HTML escaping. Map keys come out sorted, which
// makes the result canonical for hashing.
func encodeJSON(v any, indent string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// modTime returns the file modification time as a started_at value, the
// fallback when a transcript carries no timestamp of its own.
func modTime(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return render.FormatTimestamp(info.ModTime())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
