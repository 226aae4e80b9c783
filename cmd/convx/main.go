package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"convx/internal/config"
	"convx/internal/fsx"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries state shared by all subcommands of one invocation.
type app struct {
	verbose bool
	logger  *log.Logger
	logSink io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "convx",
		Short:         "Export AI coding assistant conversations into a Git repo",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.closeLog()
		},
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log one line per session")
	root.PersistentFlags().String("log-file", "", "Write logs to a rotating file instead of stderr")

	root.AddCommand(
		a.syncCmd(),
		a.backupCmd(),
		a.statsCmd(),
		a.showCmd(),
		a.watchCmd(),
		a.configCmd(),
	)
	return root
}

// loadConfig merges configuration for repoRoot with the command's flags and
// points the logger at the configured sink.
func (a *app) loadConfig(cmd *cobra.Command, repoRoot string) (*config.Config, error) {
	cfg, err := config.Load(repoRoot, cmd.Flags())
	if err != nil {
		return nil, err
	}
	a.openLog(cmd, cfg.LogFile)
	return cfg, nil
}

func (a *app) openLog(cmd *cobra.Command, path string) {
	if a.logger != nil {
		return
	}
	if path == "" {
		a.logger = log.New(cmd.ErrOrStderr(), "[convx] ", log.LstdFlags)
		return
	}
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	a.logSink = sink
	a.logger = log.New(sink, "[convx] ", log.LstdFlags)
}

func (a *app) closeLog() error {
	if a.logSink == nil {
		return nil
	}
	err := a.logSink.Close()
	a.logSink = nil
	return err
}

// requireGitRepo resolves path and checks that it holds a .git entry.
func requireGitRepo(path string) (string, error) {
	resolved := fsx.ResolvePath(path)
	if _, err := os.Stat(resolved); err != nil {
		return "", fmt.Errorf("path does not exist: %s", resolved)
	}
	if !fsx.Exists(filepath.Join(resolved, ".git")) {
		return "", fmt.Errorf("not a git repository (missing .git): %s", resolved)
	}
	return resolved, nil
}

// currentRepo returns the git repository containing the working directory.
func currentRepo() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	root := fsx.FindRepoRoot(fsx.ResolvePath(cwd))
	if root == "" {
		return "", fmt.Errorf("not inside a git repository: %s", cwd)
	}
	return root, nil
}
