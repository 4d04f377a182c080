package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ragtune/ragtune/internal/embed"
	"github.com/ragtune/ragtune/internal/store"
	"github.com/ragtune/ragtune/internal/ui"
)

// embeddingBatchSize is the number of passages sent to the embedder per call.
const embeddingBatchSize = 32

// saveBatchSize is the number of documents written to the store per
// transaction.
const saveBatchSize = 500

// RunnerConfig configures an indexing run.
type RunnerConfig struct {
	// CorpusPath is the JSONL corpus file to index.
	CorpusPath string

	// DataDir is the index data directory.
	DataDir string

	// Mapping maps corpus JSON fields onto document fields.
	Mapping FieldMapping

	// Force rebuilds the index even when the corpus content is unchanged.
	Force bool

	// InterBatchDelay is the cooling delay between embedding batches.
	InterBatchDelay time.Duration
}

// RunnerResult contains the outcome of an indexing operation.
type RunnerResult struct {
	// Documents is the number of documents indexed.
	Documents int

	// Removed is the number of stale documents deleted from the indexes.
	Removed int

	// Duration is the total indexing time.
	Duration time.Duration

	// Errors is the count of fatal errors.
	Errors int

	// Warnings is the count of non-fatal warnings.
	Warnings int

	// Skipped indicates the corpus was unchanged and no rebuild ran.
	Skipped bool
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Renderer for progress display (required).
	Renderer ui.Renderer

	// Docs is the document store (required).
	Docs store.DocumentStore

	// BM25 index for keyword search (required).
	BM25 store.BM25Index

	// Vector store for semantic search (required).
	Vector store.VectorStore

	// Embedder for generating embeddings (required).
	Embedder embed.Embedder
}

// Runner executes indexing runs with progress reporting.
// It accepts injected dependencies for testability and reusability.
type Runner struct {
	renderer ui.Renderer
	docs     store.DocumentStore
	bm25     store.BM25Index
	vector   store.VectorStore
	embedder embed.Embedder
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Docs == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if deps.BM25 == nil {
		return nil, fmt.Errorf("BM25 index is required")
	}
	if deps.Vector == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	return &Runner{
		renderer: deps.Renderer,
		docs:     deps.Docs,
		bm25:     deps.BM25,
		vector:   deps.Vector,
		embedder: deps.Embedder,
	}, nil
}

// stageTiming tracks duration for each indexing stage.
type stageTiming struct {
	read  time.Duration
	store time.Duration
	embed time.Duration
	index time.Duration
}

// Run executes the full indexing pipeline: read the corpus, reconcile stale
// documents, persist to the document store, embed, and build the keyword and
// vector indexes. When the corpus hash and embedding model match the previous
// run the rebuild is skipped unless cfg.Force is set.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	startTime := time.Now()
	var errorCount, warnCount int
	var timing stageTiming

	lock := NewIndexLock(cfg.DataDir)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("another indexing run holds the lock (%s)", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	corpusHash, err := HashCorpus(cfg.CorpusPath)
	if err != nil {
		return nil, err
	}

	// Skip unchanged corpora. The model has to match too: switching the
	// embedder invalidates the vector index even when the corpus is stable.
	if !cfg.Force {
		prevHash, hashErr := r.docs.GetState(ctx, store.StateKeyCorpusHash)
		prevModel, modelErr := r.docs.GetState(ctx, store.StateKeyIndexModel)
		if hashErr == nil && modelErr == nil &&
			prevHash == corpusHash && prevModel == r.embedder.ModelName() {
			slog.Info("index_up_to_date",
				slog.String("path", cfg.CorpusPath),
				slog.String("corpus_hash", corpusHash))
			return &RunnerResult{
				Skipped:  true,
				Duration: time.Since(startTime),
			}, nil
		}
	}

	// Stage 1: Read corpus
	readStart := time.Now()
	docs, readWarns, err := r.readCorpus(cfg)
	if err != nil {
		return nil, err
	}
	timing.read = time.Since(readStart)
	warnCount += readWarns

	if len(docs) == 0 {
		slog.Warn("corpus produced no documents, leaving existing index untouched",
			slog.String("path", cfg.CorpusPath))
		return &RunnerResult{
			Duration: time.Since(startTime),
			Warnings: warnCount,
		}, nil
	}

	// Stage 2: Reconcile and store documents
	storeStart := time.Now()
	removed, err := r.removeStale(ctx, docs)
	if err != nil {
		return nil, err
	}
	if err := r.storeDocuments(ctx, docs); err != nil {
		return nil, err
	}
	timing.store = time.Since(storeStart)

	// Stage 3: Generate embeddings
	embedStart := time.Now()
	embeddings, err := r.generateEmbeddings(ctx, docs, cfg)
	if err != nil {
		return nil, err
	}
	timing.embed = time.Since(embedStart)

	// Stage 4: Build indices
	indexStart := time.Now()
	if err := r.buildIndices(ctx, docs, embeddings, cfg.DataDir); err != nil {
		return nil, err
	}
	timing.index = time.Since(indexStart)

	if err := r.storeIndexState(ctx, corpusHash); err != nil {
		slog.Warn("failed to store index state", slog.String("error", err.Error()))
	}

	duration := time.Since(startTime)

	// Get embedder info for logging and display
	embedderInfo := embed.GetInfo(ctx, r.embedder)

	// Complete
	r.renderer.Complete(ui.CompletionStats{
		Documents: len(docs),
		Duration:  duration,
		Errors:    errorCount,
		Warnings:  warnCount,
		Stages: ui.StageTimings{
			Read:  timing.read,
			Store: timing.store,
			Embed: timing.embed,
			Index: timing.index,
		},
		Embedder: ui.EmbedderInfo{
			Backend:    string(embedderInfo.Provider),
			Model:      embedderInfo.Model,
			Dimensions: embedderInfo.Dimensions,
		},
	})

	docsPerSec := 0.0
	if timing.embed.Seconds() > 0 {
		docsPerSec = float64(len(docs)) / timing.embed.Seconds()
	}

	slog.Info("index_complete",
		slog.Int("documents", len(docs)),
		slog.Int("removed", removed),
		slog.String("duration_total", duration.String()),
		slog.Int64("duration_total_ms", duration.Milliseconds()),
		slog.Int64("duration_read_ms", timing.read.Milliseconds()),
		slog.Int64("duration_store_ms", timing.store.Milliseconds()),
		slog.Int64("duration_embed_ms", timing.embed.Milliseconds()),
		slog.Int64("duration_index_ms", timing.index.Milliseconds()),
		slog.String("embedder_backend", string(embedderInfo.Provider)),
		slog.String("embedder_model", embedderInfo.Model),
		slog.Int("embedder_dimensions", embedderInfo.Dimensions),
		slog.Float64("docs_per_sec", docsPerSec),
		slog.String("path", cfg.CorpusPath))

	return &RunnerResult{
		Documents: len(docs),
		Removed:   removed,
		Duration:  duration,
		Errors:    errorCount,
		Warnings:  warnCount,
	}, nil
}

// readCorpus loads the corpus file, routing per-line warnings to the renderer.
func (r *Runner) readCorpus(cfg RunnerConfig) ([]*store.Document, int, error) {
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageReading,
		Message: fmt.Sprintf("Reading %s...", cfg.CorpusPath),
	})
	slog.Info("index_read_started", slog.String("path", cfg.CorpusPath))

	var warnCount int
	docs, err := ReadCorpusWithWarnings(cfg.CorpusPath, cfg.Mapping, func(w CorpusWarning) {
		r.renderer.AddError(ui.ErrorEvent{
			Doc:    w.DocID,
			Err:    fmt.Errorf("line %d: %s", w.Line, w.Reason),
			IsWarn: true,
		})
		warnCount++
	})
	if err != nil {
		return nil, warnCount, err
	}

	slog.Info("index_read_complete", slog.Int("documents", len(docs)))
	return docs, warnCount, nil
}

// removeStale deletes documents that are indexed but no longer in the corpus.
// Stale ids leave all three indexes before any new content lands.
func (r *Runner) removeStale(ctx context.Context, docs []*store.Document) (int, error) {
	keep := make(map[string]bool, len(docs))
	for _, d := range docs {
		keep[d.ID] = true
	}

	var stale []string
	cursor := ""
	for {
		page, next, err := r.docs.ListDocuments(ctx, cursor, saveBatchSize)
		if err != nil {
			return 0, fmt.Errorf("list existing documents: %w", err)
		}
		for _, d := range page {
			if !keep[d.ID] {
				stale = append(stale, d.ID)
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}

	if len(stale) == 0 {
		return 0, nil
	}

	if err := r.bm25.Delete(ctx, stale); err != nil {
		return 0, fmt.Errorf("delete stale from BM25: %w", err)
	}
	if err := r.vector.Delete(ctx, stale); err != nil {
		return 0, fmt.Errorf("delete stale vectors: %w", err)
	}
	if err := r.docs.DeleteDocuments(ctx, stale); err != nil {
		return 0, fmt.Errorf("delete stale documents: %w", err)
	}

	slog.Info("index_stale_removed", slog.Int("count", len(stale)))
	return len(stale), nil
}

// storeDocuments persists corpus documents to the document store in batches.
func (r *Runner) storeDocuments(ctx context.Context, docs []*store.Document) error {
	total := len(docs)
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage: ui.StageStoring,
		Total: total,
	})

	for batchStart := 0; batchStart < total; batchStart += saveBatchSize {
		select {
		case <-ctx.Done():
			return fmt.Errorf("indexing interrupted while storing documents: %w", ctx.Err())
		default:
		}

		batchEnd := batchStart + saveBatchSize
		if batchEnd > total {
			batchEnd = total
		}

		if err := r.docs.SaveDocuments(ctx, docs[batchStart:batchEnd]); err != nil {
			return fmt.Errorf("save documents: %w", err)
		}

		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:      ui.StageStoring,
			Current:    batchEnd,
			Total:      total,
			CurrentDoc: docs[batchEnd-1].ID,
		})
	}

	slog.Info("index_store_complete", slog.Int("documents", total))
	return nil
}

// generateEmbeddings embeds all passages in batches, persisting each batch to
// the document store and returning the vectors in corpus order.
func (r *Runner) generateEmbeddings(ctx context.Context, docs []*store.Document, cfg RunnerConfig) ([][]float32, error) {
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage: ui.StageEmbedding,
		Total: len(docs),
	})

	modelName := r.embedder.ModelName()
	embeddings := make([][]float32, 0, len(docs))
	embeddedCount := 0

	for batchStart := 0; batchStart < len(docs); batchStart += embeddingBatchSize {
		select {
		case <-ctx.Done():
			slog.Info("index_interrupted",
				slog.Int("embedded", embeddedCount),
				slog.Int("total", len(docs)))
			return nil, fmt.Errorf("indexing interrupted at %d/%d documents: %w", embeddedCount, len(docs), ctx.Err())
		default:
		}

		batchEnd := batchStart + embeddingBatchSize
		if batchEnd > len(docs) {
			batchEnd = len(docs)
		}
		batch := docs[batchStart:batchEnd]

		contents := make([]string, len(batch))
		ids := make([]string, len(batch))
		for i, d := range batch {
			contents[i] = d.Content
			ids[i] = d.ID
		}

		batchEmbeddings, err := r.embedder.EmbedBatch(ctx, contents)
		if err != nil {
			return nil, fmt.Errorf("generate embeddings for batch %d-%d: %w", batchStart, batchEnd, err)
		}

		if err := r.docs.SaveEmbeddings(ctx, ids, batchEmbeddings, modelName); err != nil {
			return nil, fmt.Errorf("save embeddings: %w", err)
		}

		embeddings = append(embeddings, batchEmbeddings...)
		embeddedCount += len(batch)

		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:      ui.StageEmbedding,
			Current:    embeddedCount,
			Total:      len(docs),
			CurrentDoc: batch[len(batch)-1].ID,
		})

		// Inter-batch cooling delay (thermal management)
		if cfg.InterBatchDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.InterBatchDelay):
			}
		}
	}

	return embeddings, nil
}

// buildIndices adds all documents to the BM25 and vector indexes and persists
// the HNSW graph. The BM25 backends persist transactionally on their own.
func (r *Runner) buildIndices(ctx context.Context, docs []*store.Document, embeddings [][]float32, dataDir string) error {
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageIndexing,
		Message: "Building search indices...",
	})

	if err := r.bm25.Index(ctx, docs); err != nil {
		return fmt.Errorf("index in BM25: %w", err)
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	if err := r.vector.Add(ctx, ids, embeddings); err != nil {
		return fmt.Errorf("add to vector store: %w", err)
	}

	if err := r.vector.Save(store.GetVectorIndexPath(dataDir)); err != nil {
		return fmt.Errorf("save vector store: %w", err)
	}

	return nil
}

// storeIndexState records the embedding model, dimension, schema version, and
// corpus hash after a successful build. Searching detects embedder changes
// through the stored dimension; the hash enables the skip check on the next
// run.
func (r *Runner) storeIndexState(ctx context.Context, corpusHash string) error {
	dim := fmt.Sprintf("%d", r.embedder.Dimensions())
	model := r.embedder.ModelName()

	if err := r.docs.SetState(ctx, store.StateKeyIndexDimension, dim); err != nil {
		return fmt.Errorf("store index dimension: %w", err)
	}
	if err := r.docs.SetState(ctx, store.StateKeyIndexModel, model); err != nil {
		return fmt.Errorf("store index model: %w", err)
	}
	if err := r.docs.SetState(ctx, store.StateKeyCorpusVersion, fmt.Sprintf("%d", store.CurrentSchemaVersion)); err != nil {
		return fmt.Errorf("store corpus version: %w", err)
	}
	if err := r.docs.SetState(ctx, store.StateKeyCorpusHash, corpusHash); err != nil {
		return fmt.Errorf("store corpus hash: %w", err)
	}

	slog.Info("index_state_stored",
		slog.String("model", model),
		slog.Int("dimensions", r.embedder.Dimensions()),
		slog.String("corpus_hash", corpusHash))

	return nil
}
