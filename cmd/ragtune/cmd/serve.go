package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ragtune/ragtune/internal/config"
	"github.com/ragtune/ragtune/internal/mcp"
	"github.com/ragtune/ragtune/internal/telemetry"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline over MCP stdio",
		Long: `Build the configured pipeline and expose it as an MCP server on
stdin/stdout. The server offers two tools: rag_query runs a query
through the pipeline, pipeline_info describes the configuration.

stdout carries JSON-RPC exclusively; logs go to ~/.ragtune/logs/.`,
		Example: `  # Typical MCP client entry
  ragtune serve

  # With an explicit config
  ragtune serve -c pipelines/prod.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	return cmd
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	pipeline, err := config.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = pipeline.Close() }()

	server, err := mcp.NewServer(pipeline, cfg)
	if err != nil {
		return err
	}

	// In-process run stats for the lifetime of this server. Persistence
	// stays opt-in through 'ragtune run --record'.
	if collector, err := telemetry.NewCollector(); err == nil {
		server.SetCollector(collector)
	}

	return server.Serve(ctx)
}
