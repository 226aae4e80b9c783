// Package clipboard copies exported transcripts to the system clipboard by
// piping them into the platform's clipboard tool.
package clipboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

var ErrToolNotFound = errors.New("no clipboard tool found")

type Command struct {
	Path string
	Args []string
}

type candidate struct {
	name string
	args []string
}

// candidates are tried in order; the first one on PATH wins.
var candidates = map[string][]candidate{
	"darwin":  {{name: "pbcopy"}},
	"windows": {{name: "clip.exe"}, {name: "clip"}},
	"linux": {
		{name: "wl-copy"},
		{name: "xclip", args: []string{"-selection", "clipboard"}},
		{name: "xsel", args: []string{"--clipboard", "--input"}},
	},
}

func SelectCommand(goos string, lookPath func(string) (string, error)) (Command, error) {
	list, ok := candidates[goos]
	if !ok {
		// BSDs and friends usually ship the X11 tools.
		list = candidates["linux"]
	}
	for _, c := range list {
		if path, err := lookPath(c.name); err == nil {
			return Command{Path: path, Args: c.args}, nil
		}
	}
	return Command{}, fmt.Errorf("%w for %s", ErrToolNotFound, goos)
}

// Copy places text on the clipboard.
func Copy(ctx context.Context, text string) error {
	def, err := SelectCommand(runtime.GOOS, exec.LookPath)
	if err != nil {
		return err
	}
	return run(ctx, def, text)
}

func run(ctx context.Context, def Command, text string) error {
	cmd := exec.CommandContext(ctx, def.Path, def.Args...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", def.Path, err, msg)
		}
		return fmt.Errorf("%s: %w", def.Path, err)
	}
	return nil
}
