// Package cmd provides the CLI commands for ragtune.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragtune/ragtune/internal/errors"
	"github.com/ragtune/ragtune/internal/logging"
	"github.com/ragtune/ragtune/pkg/version"
)

// Persistent flags shared by every command.
var (
	configPath     string
	debugMode      bool
	noColor        bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the ragtune CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragtune",
		Short: "Budget-aware iterative retrieval and reranking",
		Long: `ragtune runs retrieval pipelines that decide, round by round, which
candidate documents are worth paying to rerank - and stop gracefully
when any resource budget runs out.

A pipeline is declared in ragtune.yaml: its retriever, reranker,
reformulator, estimator, scheduler, assembler, budget limits, and
retrieval depths. Start with 'ragtune init', index a corpus with
'ragtune index', then query it with 'ragtune run'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("ragtune version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ragtune.yaml in the working directory)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.ragtune/logs/")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newVisualizeCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging initializes file logging before any command runs. The serve
// command re-initializes in MCP mode itself: its stdout carries JSON-RPC
// exclusively and even stderr writes are suppressed there.
func startLogging(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "serve" {
		cleanup, err := logging.SetupMCPMode()
		if err != nil {
			// Serving without a log file beats not serving.
			return nil
		}
		loggingCleanup = cleanup
		return nil
	}

	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	cfg.WriteToStderr = debugMode

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		// Logging failure must not block the actual work.
		return nil
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the CLI. Errors are rendered once, here, in the structured
// user-facing format; cobra's own printing is silenced.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errors.FormatForCLI(err))
		return err
	}
	return nil
}
