package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"convx/internal/adapter"
	"convx/internal/config"
	"convx/internal/engine"
	"convx/internal/ledger"
	"convx/internal/watch"
)

func (a *app) watchCmd() *cobra.Command {
	var f passFlags
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run sync for the current repo whenever transcripts change",
		Args:  cobra.NoArgs,
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

			roots := watchRoots(cfg, p)
			w, err := watch.New(roots, watch.Options{
				Logger: a.logger,
				Ignore: []string{
					filepath.Join(repo, cfg.HistorySubpath),
					filepath.Join(repo, ledger.Dir),
				},
			})
			if err != nil {
				return err
			}

			runOnce := func(ctx context.Context) {
				total, _, err := a.runPass(ctx, cfg, p, nil)
				if err != nil && !engine.IsCanceled(err) {
					a.logger.Printf("sync failed: %v", err)
					return
				}
				a.logger.Printf("%s dry_run=%t", countsLine(total), total.DryRun)
			}

			a.logger.Printf("watching %d source root(s) for %s", len(roots), repo)
			runOnce(cmd.Context())
			err = w.Run(cmd.Context(), runOnce)
			if engine.IsCanceled(err) {
				return nil
			}
			return err
		},
	}
	f.register(cmd, "all")
	return cmd
}

// watchRoots lists the input roots of the pass's sources. Cursor keeps
// composer bodies in globalStorage next to workspaceStorage, so both are
// watched.
func watchRoots(cfg *config.Config, p pass) []string {
	var roots []string
	for _, source := range p.sources {
		root, err := inputRoot(cfg, p.inputPath, source)
		if err != nil {
			continue
		}
		roots = append(roots, root)
		if source == adapter.Cursor {
			roots = append(roots, filepath.Join(filepath.Dir(root), "globalStorage"))
		}
	}
	return roots
}
