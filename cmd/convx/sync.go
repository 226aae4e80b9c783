package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"convx/internal/adapter"
	"convx/internal/config"
	"convx/internal/engine"
	"convx/internal/render"
)

// passFlags are the flags shared by sync, backup and watch.
type passFlags struct {
	sourceSystem string
	inputPath    string
	dryRun       bool
}

func (f *passFlags) register(cmd *cobra.Command, defaultSources string) {
	flags := cmd.Flags()
	flags.StringVar(&f.sourceSystem, "source-system", defaultSources, "Source system(s): codex, claude, cursor, a comma-separated list, or all")
	flags.StringVar(&f.inputPath, "input-path", "", "Source sessions path override (applies to every selected source)")
	flags.BoolVar(&f.dryRun, "dry-run", false, "Plan the export without writing files")
	flags.String("user", "", "User namespace in the output history path")
	flags.String("system-name", "", "System namespace in the output history path")
	flags.String("history-subpath", "", "Subpath inside the repo where history is written")
	flags.String("skip-marker", "", "Sessions containing this text are never exported")
	flags.Bool("no-redact", false, "Do not redact API keys, tokens, or passwords in output")
	flags.Bool("with-context", false, "Include tool calls and injected context as HTML comments")
	flags.Bool("with-thinking", false, "Include reasoning blocks as HTML comments")
}

// parseSources expands "all" and splits comma-separated lists, rejecting
// unknown names.
func parseSources(value string) ([]string, error) {
	if strings.EqualFold(strings.TrimSpace(value), "all") {
		return adapter.Names(), nil
	}
	var sources []string
	seen := map[string]bool{}
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := render.SanitizeSegment(strings.ToLower(part))
		if seen[name] {
			continue
		}
		if _, err := adapter.New(name); err != nil {
			return nil, err
		}
		seen[name] = true
		sources = append(sources, name)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no source system selected in %q", value)
	}
	return sources, nil
}

// pass describes one invocation of the engine over a list of sources.
type pass struct {
	outputRoot string
	repoFilter string
	flat       bool
	sources    []string
	inputPath  string
	dryRun     bool
}

type sourceResult struct {
	source string
	result engine.Result
}

func (a *app) engineOptions(cfg *config.Config, p pass, inputRoot string) engine.Options {
	return engine.Options{
		InputRoot:      inputRoot,
		OutputRoot:     p.outputRoot,
		HistorySubpath: cfg.HistorySubpath,
		User:           cfg.User,
		SystemName:     cfg.SystemName,
		RepoFilter:     p.repoFilter,
		Flat:           p.flat,
		DryRun:         p.dryRun,
		Redact:         cfg.Redact,
		WithContext:    cfg.WithContext,
		WithThinking:   cfg.WithThinking,
		SkipMarker:     cfg.SkipMarker,
		Logger:         a.logger,
		Verbose:        a.verbose,
	}
}

func inputRoot(cfg *config.Config, override, source string) (string, error) {
	if override != "" {
		return filepath.Abs(override)
	}
	return cfg.InputPath(source)
}

// runPass syncs every source in order. A spinner is shown on status when it
// is a terminal and per-session logging is off.
func (a *app) runPass(ctx context.Context, cfg *config.Config, p pass, status io.Writer) (engine.Result, []sourceResult, error) {
	total := engine.Result{DryRun: p.dryRun}
	var per []sourceResult
	for i, source := range p.sources {
		ad, err := adapter.New(source)
		if err != nil {
			return total, per, err
		}
		root, err := inputRoot(cfg, p.inputPath, source)
		if err != nil {
			return total, per, fmt.Errorf("resolve %s input path: %w", source, err)
		}
		opts := a.engineOptions(cfg, p, root)

		var res engine.Result
		label := fmt.Sprintf("[%d/%d] Processing %s...", i+1, len(p.sources), source)
		work := func(ctx context.Context) error {
			var err error
			res, err = engine.Sync(ctx, ad, opts)
			return err
		}
		if !a.verbose && isTerminal(status) {
			err = withSpinner(ctx, status, label, work)
		} else {
			err = work(ctx)
		}
		total.Add(res)
		per = append(per, sourceResult{source: source, result: res})
		if err != nil {
			return total, per, err
		}
	}
	return total, per, nil
}

func (a *app) syncCmd() *cobra.Command {
	var f passFlags
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync conversations for the current Git repo into it",
		Long: `Sync exports every conversation whose working directory belongs to the
current Git repository into that repository, using a flat layout under
<history>/<user>/<source>/. Unchanged sessions are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := currentRepo()
			if err != nil {
				return err
			}
			sources, err := parseSources(f.sourceSystem)
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig(cmd, repo)
			if err != nil {
				return err
			}
			p := pass{
				outputRoot: repo,
				repoFilter: repo,
				flat:       true,
				sources:    sources,
				inputPath:  f.inputPath,
				dryRun:     f.dryRun,
			}
			total, per, err := a.runPass(cmd.Context(), cfg, p, cmd.ErrOrStderr())
			printSummary(cmd.OutOrStdout(), repo, cfg.HistorySubpath, total, per)
			return err
		},
	}
	f.register(cmd, "all")
	return cmd
}

func (a *app) backupCmd() *cobra.Command {
	var f passFlags
	var outputPath string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up all conversations into a target Git repo",
		Long: `Backup exports every conversation of the selected sources into the
repository at --output-path, nested by system name and working directory.
No repository scoping is applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := requireGitRepo(outputPath)
			if err != nil {
				return err
			}
			sources, err := parseSources(f.sourceSystem)
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig(cmd, repo)
			if err != nil {
				return err
			}
			p := pass{
				outputRoot: repo,
				sources:    sources,
				inputPath:  f.inputPath,
				dryRun:     f.dryRun,
			}
			total, per, err := a.runPass(cmd.Context(), cfg, p, cmd.ErrOrStderr())
			printSummary(cmd.OutOrStdout(), repo, cfg.HistorySubpath, total, per)
			return err
		},
	}
	f.register(cmd, adapter.Codex)
	cmd.Flags().StringVar(&outputPath, "output-path", "", "Git repo that stores all exported conversations")
	_ = cmd.MarkFlagRequired("output-path")
	return cmd
}
