// Package cmd provides the CLI commands for loseme.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loseme/loseme/internal/config"
	"github.com/loseme/loseme/internal/logging"
	"github.com/loseme/loseme/pkg/version"
)

// Exit codes: 0 ok, 1 error, 2 interrupted by signal.
const (
	exitOK          = 0
	exitError       = 1
	exitInterrupted = 2
)

// NewRootCmd creates the root command for the loseme CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loseme",
		Short: "Local-first semantic memory indexer",
		Long: `loseme indexes local documents and mailboxes into a searchable
semantic memory. Discovery walks your sources, extraction turns them
into text, and embeddings land in a vector store you can query.

Run 'loseme serve' for the HTTP API or 'loseme scan <dir>' for a
one-shot local scan.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("loseme version {{.Version}}\n")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newSourcesCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if ctx.Err() != nil {
			return exitInterrupted
		}
		return exitError
	}
	if ctx.Err() != nil {
		return exitInterrupted
	}
	return exitOK
}

// loadConfig resolves configuration and sets up file logging. The
// returned cleanup flushes the log writer.
func loadConfig() (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("create data dir: %w", err)
	}

	logCfg := logging.DefaultConfig(cfg.DataDir)
	logCfg.Level = cfg.LogLevel
	logCfg.FilePath = cfg.LogPath()
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, cleanup, nil
}
