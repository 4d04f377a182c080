package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ragtune/ragtune/internal/config"
	"github.com/ragtune/ragtune/internal/embed"
	"github.com/ragtune/ragtune/internal/index"
	"github.com/ragtune/ragtune/internal/store"
	"github.com/ragtune/ragtune/internal/ui"
	"github.com/ragtune/ragtune/internal/watcher"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	force bool
	watch bool
	plain bool
}

// newIndexCmd creates the index command.
func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the corpus indexes",
		Long: `Build the on-disk indexes for the configured corpus: the SQLite
document store, the BM25 keyword index, and the HNSW vector index.

The corpus is the JSON Lines file named by data.collection_path: one
JSON object per line with at least an id and a text field. Rebuilds
are skipped when the corpus content and embedding model are unchanged.`,
		Example: `  # Index the configured corpus
  ragtune index

  # Rebuild even if the corpus is unchanged
  ragtune index --force

  # Keep the indexes in sync with a changing corpus file
  ragtune index --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Rebuild even when the corpus is unchanged")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Watch the corpus file and rebuild on change")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain progress output (no TUI)")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Pipeline.Data == nil {
		return fmt.Errorf("config has no data section; set data.collection_path to your corpus file")
	}

	dataDir := cfg.Pipeline.Index.Dir
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create index directory %s: %w", dataDir, err)
	}

	deps, cleanup, err := openIndexStores(ctx, cfg, cmd, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	runner, err := index.NewRunner(deps)
	if err != nil {
		return err
	}

	runnerCfg := index.RunnerConfig{
		CorpusPath: cfg.Pipeline.Data.CollectionPath,
		DataDir:    dataDir,
		Mapping: index.FieldMapping{
			IDField:        cfg.Pipeline.Data.IDField,
			TextField:      cfg.Pipeline.Data.TextField,
			MetadataFields: cfg.Pipeline.Data.MetadataFields,
		},
		Force: opts.force,
	}

	if err := deps.Renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = deps.Renderer.Stop() }()

	result, err := runner.Run(ctx, runnerCfg)
	if err != nil {
		return err
	}
	if result.Skipped {
		fmt.Fprintln(cmd.OutOrStdout(), "Index is up to date (use --force to rebuild)")
	}

	if opts.watch {
		return watchCorpus(ctx, cmd, runner, runnerCfg)
	}
	return nil
}

// openIndexStores opens every store an indexing run writes. The returned
// cleanup closes them in reverse order.
func openIndexStores(ctx context.Context, cfg *config.Config, cmd *cobra.Command, opts indexOptions) (index.RunnerDependencies, func(), error) {
	var deps index.RunnerDependencies
	dataDir := cfg.Pipeline.Index.Dir

	embedder, err := embed.NewEmbedder(ctx, embed.ParseProvider(cfg.Pipeline.Index.Embedder), cfg.Pipeline.Index.Model)
	if err != nil {
		return deps, nil, err
	}

	docs, err := store.NewSQLiteDocumentStore(store.GetDocStorePath(dataDir))
	if err != nil {
		_ = embedder.Close()
		return deps, nil, err
	}

	bm25, err := store.NewBM25IndexWithBackend(store.GetBM25BasePath(dataDir), store.DefaultBM25Config(), cfg.Pipeline.Index.Backend)
	if err != nil {
		_ = docs.Close()
		_ = embedder.Close()
		return deps, nil, err
	}

	vector, err := openVectorStore(dataDir, embedder.Dimensions())
	if err != nil {
		_ = bm25.Close()
		_ = docs.Close()
		_ = embedder.Close()
		return deps, nil, err
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.plain || opts.watch),
		ui.WithNoColor(noColor),
		ui.WithCorpusPath(cfg.Pipeline.Data.CollectionPath)))

	deps = index.RunnerDependencies{
		Renderer: renderer,
		Docs:     docs,
		BM25:     bm25,
		Vector:   vector,
		Embedder: embedder,
	}
	cleanup := func() {
		_ = vector.Close()
		_ = bm25.Close()
		_ = docs.Close()
		_ = embedder.Close()
	}
	return deps, cleanup, nil
}

// openVectorStore creates the HNSW store, loading the existing snapshot when
// its dimensions still match the embedder. A dimension change (embedder
// swap) starts from an empty index; the runner rebuilds it in full.
func openVectorStore(dataDir string, dims int) (store.VectorStore, error) {
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		return nil, err
	}

	path := store.GetVectorIndexPath(dataDir)
	if _, statErr := os.Stat(path); statErr != nil {
		return vector, nil
	}

	existing, err := store.ReadHNSWStoreDimensions(path)
	if err != nil || existing != dims {
		slog.Warn("existing vector index is incompatible, rebuilding",
			slog.String("path", path),
			slog.Int("existing_dimensions", existing),
			slog.Int("embedder_dimensions", dims))
		return vector, nil
	}

	if err := vector.Load(path); err != nil {
		_ = vector.Close()
		return nil, fmt.Errorf("load vector index %s: %w", path, err)
	}
	return vector, nil
}

// watchCorpus blocks, rebuilding the indexes whenever the corpus file
// changes, until the context is cancelled or an interrupt arrives.
func watchCorpus(ctx context.Context, cmd *cobra.Command, runner *index.Runner, runnerCfg index.RunnerConfig) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Start(ctx, runnerCfg.CorpusPath); err != nil {
		return fmt.Errorf("watch %s: %w", runnerCfg.CorpusPath, err)
	}
	defer func() { _ = w.Stop() }()

	coordinator, err := index.NewCoordinator(index.CoordinatorConfig{
		Runner:       runner,
		RunnerConfig: runnerCfg,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for changes (Ctrl-C to stop)\n", runnerCfg.CorpusPath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case events, ok := <-w.Events():
			if !ok {
				return nil
			}
			if err := coordinator.HandleEvents(ctx, events); err != nil {
				slog.Error("watch rebuild failed", slog.String("error", err.Error()))
			}
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			slog.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}
