package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ragtune/ragtune/internal/logging"
)

// logsOptions holds CLI flags for logs.
type logsOptions struct {
	file    string
	follow  bool
	lines   int
	level   string
	queryID string
	pattern string
}

// newLogsCmd creates the logs command.
func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View the pipeline log",
		Long: `View the structured pipeline log, with filtering by level, query id,
or pattern. Useful when the server runs in MCP mode, where nothing is
written to the terminal.`,
		Example: `  # Last 50 entries
  ragtune logs

  # Follow new entries for one query
  ragtune logs -f --query-id 3f2a

  # Only errors mentioning the reranker
  ragtune logs --level error --grep rerank`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "Log file to read (default: the pipeline log)")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow the log for new entries")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of entries to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Filter by level (debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.queryID, "query-id", "", "Filter by query id (prefix match)")
	cmd.Flags().StringVar(&opts.pattern, "grep", "", "Filter by regular expression")

	return cmd
}

func runLogs(ctx context.Context, cmd *cobra.Command, opts logsOptions) error {
	path := opts.file
	if path == "" {
		path = logging.DefaultLogPath()
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no log file at %s (run with --debug to enable logging)", path)
	}

	var pattern *regexp.Regexp
	if opts.pattern != "" {
		var err error
		pattern, err = regexp.Compile(opts.pattern)
		if err != nil {
			return fmt.Errorf("invalid --grep pattern: %w", err)
		}
	}

	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   opts.level,
		Pattern: pattern,
		QueryID: opts.queryID,
		NoColor: noColor,
	}, cmd.OutOrStdout())

	entries, err := viewer.Tail(path, opts.lines)
	if err != nil {
		return err
	}
	viewer.Print(entries)

	if !opts.follow {
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch := make(chan logging.LogEntry, 64)
	go func() {
		for entry := range ch {
			fmt.Fprintln(cmd.OutOrStdout(), viewer.FormatEntry(entry))
		}
	}()
	return viewer.Follow(ctx, path, ch)
}
