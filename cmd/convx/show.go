package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"convx/internal/clipboard"
	"convx/internal/ledger"
	"convx/internal/termview"
)

const defaultWrapWidth = 100

func (a *app) showCmd() *cobra.Command {
	var (
		outputPath string
		raw        bool
		copyText   bool
		find       string
	)
	cmd := &cobra.Command{
		Use:   "show <session_key>",
		Short: "Print the exported Markdown of one session",
		Long: `Show looks up a session in the index by its key (for example
codex:019c...) or by a unique suffix of it, and prints the exported Markdown
styled for the terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := resolveOutputRepo(outputPath)
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig(cmd, repo)
			if err != nil {
				return err
			}
			l, err := ledger.Load(repo)
			if err != nil {
				return err
			}
			rec, err := lookupRecord(l, args[0])
			if err != nil {
				return err
			}

			data, err := os.ReadFile(filepath.Join(repo, filepath.FromSlash(rec.MarkdownPath)))
			if err != nil {
				return fmt.Errorf("read %s: %w", rec.MarkdownPath, err)
			}
			md := string(data)

			if copyText {
				if err := clipboard.Copy(cmd.Context(), md); err != nil {
					return fmt.Errorf("copy to clipboard: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "copied %s (%d bytes)\n", rec.SessionKey, len(md))
			}

			out := cmd.OutOrStdout()
			text := md
			if !raw {
				style := cfg.GlamourStyle
				if !isTerminal(out) {
					style = "notty"
				}
				text = termview.Render(md, style, wrapWidth(out))
			}
			if find != "" {
				var wrap func(string) string
				if !isTerminal(out) {
					wrap = func(s string) string { return ">>" + s + "<<" }
				}
				var lines []int
				text, lines = termview.Highlight(text, find, wrap)
				fmt.Fprintf(cmd.ErrOrStderr(), "%d matching lines for %q\n", len(lines), find)
			}
			_, err = fmt.Fprint(out, text)
			return err
		},
	}
	cmd.Flags().StringVar(&outputPath, "output-path", "", "Git repo containing exported conversations (default: current repo)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the Markdown source without styling")
	cmd.Flags().BoolVar(&copyText, "copy", false, "Also copy the Markdown to the clipboard")
	cmd.Flags().StringVar(&find, "find", "", "Highlight case-insensitive matches of this text")
	return cmd
}

// lookupRecord resolves key exactly, then as a unique suffix of a session key.
func lookupRecord(l *ledger.Ledger, key string) (ledger.Record, error) {
	if rec, ok := l.Get(key); ok {
		return rec, nil
	}
	var matches []ledger.Record
	for _, rec := range l.Records() {
		if strings.HasSuffix(rec.SessionKey, key) {
			matches = append(matches, rec)
		}
	}
	switch len(matches) {
	case 0:
		return ledger.Record{}, fmt.Errorf("session %q not found in index", key)
	case 1:
		return matches[0], nil
	default:
		keys := make([]string, 0, len(matches))
		for _, m := range matches {
			keys = append(keys, m.SessionKey)
		}
		return ledger.Record{}, fmt.Errorf("session %q is ambiguous: %s", key, strings.Join(keys, ", "))
	}
}

func wrapWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return defaultWrapWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWrapWidth
	}
	return min(width, 120)
}
