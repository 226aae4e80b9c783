package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"convx/internal/fsx"
	"convx/internal/ledger"
)

func (a *app) statsCmd() *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index totals and last update time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := resolveOutputRepo(outputPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !fsx.Exists(ledger.Path(repo)) {
				fmt.Fprintln(out, "index_found=false sessions=0")
				return nil
			}
			l, err := ledger.Load(repo)
			if err != nil {
				return err
			}
			last := ""
			for _, rec := range l.Records() {
				if rec.UpdatedAt > last {
					last = rec.UpdatedAt
				}
			}
			fmt.Fprintf(out, "index_found=true sessions=%d last_updated=%s\n", l.Len(), last)
			return nil
		},
	}
	cmd.Flags().StringVar(&outputPath, "output-path", "", "Git repo containing exported conversations (default: current repo)")
	return cmd
}

// resolveOutputRepo validates an explicit --output-path or falls back to the
// repository containing the working directory.
func resolveOutputRepo(outputPath string) (string, error) {
	if outputPath != "" {
		return requireGitRepo(outputPath)
	}
	return currentRepo()
}
