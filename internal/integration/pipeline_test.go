package integration

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragtune/ragtune/internal/config"
	"github.com/ragtune/ragtune/internal/embed"
	"github.com/ragtune/ragtune/internal/index"
	"github.com/ragtune/ragtune/internal/store"
	"github.com/ragtune/ragtune/internal/ui"
	"github.com/ragtune/ragtune/pkg/ragtune"
)

// These tests exercise the full path a user walks: write a JSONL corpus,
// index it, build a pipeline over the index files, and query it.

var corpusLines = []string{
	`{"doc_id": "db-1", "content": "sqlite transactions use write ahead logging for durability", "source": "notes/db"}`,
	`{"doc_id": "db-2", "content": "the query planner chooses an index by estimated selectivity", "source": "notes/db"}`,
	`{"doc_id": "net-1", "content": "tcp congestion control backs off exponentially on packet loss", "source": "notes/net"}`,
	`{"doc_id": "net-2", "content": "keepalive probes detect dead peers behind silent middleboxes", "source": "notes/net"}`,
	`{"doc_id": "rag-1", "content": "reciprocal rank fusion merges keyword and vector result lists", "source": "notes/rag"}`,
}

func writeCorpus(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// buildIndexes runs a full indexing pass over the corpus and returns the
// index directory. All stores are closed before returning so a pipeline can
// reopen the files.
func buildIndexes(t *testing.T, corpusPath string, force bool) (string, index.RunnerResult) {
	t.Helper()
	dataDir := filepath.Join(filepath.Dir(corpusPath), "idx")
	require.NoError(t, os.MkdirAll(dataDir, 0755))
	return dataDir, runIndexer(t, corpusPath, dataDir, force)
}

func runIndexer(t *testing.T, corpusPath, dataDir string, force bool) index.RunnerResult {
	t.Helper()
	ctx := context.Background()

	embedder := embed.NewStaticEmbedder()
	docs, err := store.NewSQLiteDocumentStore(store.GetDocStorePath(dataDir))
	require.NoError(t, err)
	bm25, err := store.NewBM25IndexWithBackend(store.GetBM25BasePath(dataDir), store.DefaultBM25Config(), "")
	require.NoError(t, err)
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)

	renderer := ui.NewRenderer(ui.NewConfig(io.Discard, ui.WithForcePlain(true)))
	require.NoError(t, renderer.Start(ctx))
	defer func() { _ = renderer.Stop() }()

	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer: renderer,
		Docs:     docs,
		BM25:     bm25,
		Vector:   vector,
		Embedder: embedder,
	})
	require.NoError(t, err)

	result, err := runner.Run(ctx, index.RunnerConfig{
		CorpusPath: corpusPath,
		DataDir:    dataDir,
		Force:      force,
	})
	require.NoError(t, err)

	require.NoError(t, vector.Close())
	require.NoError(t, bm25.Close())
	require.NoError(t, docs.Close())
	return *result
}

func buildPipeline(t *testing.T, yamlDoc string) *config.Pipeline {
	t.Helper()
	cfg, err := config.Parse([]byte(yamlDoc))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	p, err := config.Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// =============================================================================
// Index then query
// =============================================================================

func TestIndexThenQuery_BM25(t *testing.T) {
	corpusPath := writeCorpus(t, corpusLines)
	dataDir, result := buildIndexes(t, corpusPath, false)

	assert.Equal(t, len(corpusLines), result.Documents)
	assert.False(t, result.Skipped)

	p := buildPipeline(t, fmt.Sprintf(`
pipeline:
  name: integration-bm25
  components:
    retriever:
      type: bm25
      params: {index_dir: %q}
    reranker: lexical
`, dataDir))

	out, err := p.Run(context.Background(), "sqlite transactions durability")

	require.NoError(t, err)
	require.NotEmpty(t, out.Documents)
	assert.Equal(t, "db-1", out.Documents[0].ID)
	assert.NotEmpty(t, out.QueryID)
	assert.Positive(t, out.FinalBudgetState[ragtune.ResourceRetrievalCalls])
}

func TestIndexThenQuery_HybridWithVectors(t *testing.T) {
	corpusPath := writeCorpus(t, corpusLines)
	dataDir, _ := buildIndexes(t, corpusPath, false)

	p := buildPipeline(t, fmt.Sprintf(`
pipeline:
  name: integration-hybrid
  components:
    retriever:
      - type: bm25
        params: {index_dir: %q}
      - type: vector
        params: {index_dir: %q, embedder: static}
`, dataDir, dataDir))

	out, err := p.Run(context.Background(), "merging keyword and vector result lists")

	require.NoError(t, err)
	require.NotEmpty(t, out.Documents)

	ids := make([]string, 0, len(out.Documents))
	for _, doc := range out.Documents {
		ids = append(ids, doc.ID)
	}
	assert.Contains(t, ids, "rag-1")
}

func TestIndexRun_SkipsUnchangedCorpus(t *testing.T) {
	corpusPath := writeCorpus(t, corpusLines)
	dataDir, first := buildIndexes(t, corpusPath, false)
	require.False(t, first.Skipped)

	second := runIndexer(t, corpusPath, dataDir, false)
	assert.True(t, second.Skipped)

	forced := runIndexer(t, corpusPath, dataDir, true)
	assert.False(t, forced.Skipped)
	assert.Equal(t, len(corpusLines), forced.Documents)
}

func TestIndexThenQuery_BudgetBoundsRerank(t *testing.T) {
	corpusPath := writeCorpus(t, corpusLines)
	dataDir, _ := buildIndexes(t, corpusPath, false)

	p := buildPipeline(t, fmt.Sprintf(`
pipeline:
  name: integration-budget
  budget:
    limits: {tokens: 4000, rerank_docs: 2, retrieval_calls: 5, latency_ms: 30000}
  components:
    retriever:
      type: bm25
      params: {index_dir: %q}
    reranker: lexical
`, dataDir))

	out, err := p.Run(context.Background(), "congestion control backoff")

	require.NoError(t, err)
	assert.LessOrEqual(t, out.FinalBudgetState[ragtune.ResourceRerankDocs], 2.0)
}
