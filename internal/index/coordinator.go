package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ragtune/ragtune/internal/watcher"
)

// CoordinatorConfig contains configuration for the Coordinator.
type CoordinatorConfig struct {
	// Runner performs index rebuilds (required).
	Runner *Runner

	// RunnerConfig is the configuration used for each rebuild. Force is
	// overridden to false: watch-mode rebuilds rely on the corpus hash
	// check to skip no-op changes such as touched-but-identical files.
	RunnerConfig RunnerConfig
}

// Coordinator reacts to corpus file events from watch mode by rebuilding the
// indexes. Rebuilds are serialized; events arriving during a rebuild wait for
// it to finish.
type Coordinator struct {
	config CoordinatorConfig
	mu     sync.Mutex
}

// NewCoordinator creates a new index coordinator.
func NewCoordinator(config CoordinatorConfig) (*Coordinator, error) {
	if config.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	return &Coordinator{
		config: config,
	}, nil
}

// HandleEvents processes a batch of debounced file events.
func (c *Coordinator) HandleEvents(ctx context.Context, events []watcher.FileEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, event := range events {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.handleEvent(ctx, event); err != nil {
			// One bad event must not starve the rest of the batch.
			slog.Warn("failed to process corpus event",
				slog.String("path", event.Path),
				slog.String("operation", event.Operation.String()),
				slog.String("error", err.Error()))
			continue
		}
	}

	return nil
}

// handleEvent processes a single file event.
func (c *Coordinator) handleEvent(ctx context.Context, event watcher.FileEvent) error {
	slog.Debug("processing corpus event",
		slog.String("path", event.Path),
		slog.String("operation", event.Operation.String()))

	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		return c.rebuild(ctx)
	case watcher.OpDelete, watcher.OpRename:
		// The corpus went away, possibly mid-regeneration. Keep serving the
		// existing index and wait for the file to come back.
		slog.Warn("corpus file removed, keeping existing index",
			slog.String("path", c.config.RunnerConfig.CorpusPath))
		return nil
	case watcher.OpConfigChange:
		return c.handleConfigChange()
	default:
		return nil
	}
}

// rebuild runs the indexing pipeline. The Runner's corpus hash check turns
// redundant rebuilds into cheap no-ops.
func (c *Coordinator) rebuild(ctx context.Context) error {
	cfg := c.config.RunnerConfig
	cfg.Force = false

	result, err := c.config.Runner.Run(ctx, cfg)
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	if result.Skipped {
		slog.Debug("corpus content unchanged, rebuild skipped")
		return nil
	}

	slog.Info("watch_rebuild_complete",
		slog.Int("documents", result.Documents),
		slog.Int("removed", result.Removed),
		slog.Duration("duration", result.Duration),
		slog.Int("warnings", result.Warnings))
	return nil
}

// handleConfigChange handles ragtune.yaml configuration file changes.
// Field mappings and component wiring are fixed at startup, so watch mode
// only surfaces the change.
func (c *Coordinator) handleConfigChange() error {
	slog.Info("configuration file changed",
		slog.String("note", "restart watch mode to apply the new configuration"))
	return nil
}

// ReconcileOnStartup rebuilds the index if the corpus changed while watch
// mode was not running. The Runner's hash check makes this a no-op for an
// unchanged corpus.
func (c *Coordinator) ReconcileOnStartup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.config.Runner.Run(ctx, c.config.RunnerConfig)
	if err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}

	if result.Skipped {
		slog.Debug("corpus unchanged since last run, skipping startup rebuild")
	} else {
		slog.Info("corpus changed since last run, index rebuilt",
			slog.Int("documents", result.Documents),
			slog.Int("removed", result.Removed))
	}
	return nil
}
