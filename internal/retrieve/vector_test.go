package retrieve

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragtune/ragtune/internal/store"
)

func TestNewVectorRetriever_RequiresDependencies(t *testing.T) {
	vectors := &fakeVectorIndex{}
	embedder := &fakeQueryEmbedder{vec: []float32{0.1, 0.2}}
	docs := newFakeEnrichStore()

	_, err := NewVectorRetriever(nil, embedder, docs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector store is required")

	_, err = NewVectorRetriever(vectors, nil, docs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedder is required")

	_, err = NewVectorRetriever(vectors, embedder, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document store is required")
}

func TestVectorRetriever_AppliesQueryPrefix(t *testing.T) {
	// nomic-style asymmetric embedding: queries carry the search_query
	// prefix, documents were indexed with search_document.
	embedder := &fakeQueryEmbedder{vec: []float32{0.1, 0.2}}
	r, err := NewVectorRetriever(&fakeVectorIndex{}, embedder, newFakeEnrichStore())
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), rctxFor("what is rrf"), 5)

	require.NoError(t, err)
	assert.Equal(t, "search_query: what is rrf", embedder.gotText)
}

func TestVectorRetriever_EnrichesNearestNeighbors(t *testing.T) {
	vectors := &fakeVectorIndex{results: []*store.VectorResult{
		{ID: "near", Score: 0.93},
		{ID: "far", Score: 0.71},
	}}
	embedder := &fakeQueryEmbedder{vec: []float32{0.5, 0.5}}
	docs := newFakeEnrichStore(
		&store.Document{ID: "near", Content: "nearest passage", Source: "corpus.jsonl"},
		&store.Document{ID: "far", Content: "farther passage"},
	)
	r, err := NewVectorRetriever(vectors, embedder, docs)
	require.NoError(t, err)

	results, err := r.Retrieve(context.Background(), rctxFor("query"), 5)

	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "near", results[0].ID)
	assert.Equal(t, "nearest passage", results[0].Content)
	assert.InDelta(t, 0.93, results[0].Score, 1e-6)
	assert.Equal(t, map[string]any{"source": "corpus.jsonl"}, results[0].Metadata)

	assert.Equal(t, "far", results[1].ID)
	assert.InDelta(t, 0.71, results[1].Score, 1e-6)

	// The store searched with the query embedding at the requested depth
	assert.Equal(t, []float32{0.5, 0.5}, vectors.gotQuery)
	assert.Equal(t, 5, vectors.gotK)
}

func TestVectorRetriever_SkipsHitsMissingFromStore(t *testing.T) {
	vectors := &fakeVectorIndex{results: []*store.VectorResult{
		{ID: "ghost", Score: 0.99},
		{ID: "real", Score: 0.5},
	}}
	embedder := &fakeQueryEmbedder{vec: []float32{1}}
	docs := newFakeEnrichStore(&store.Document{ID: "real", Content: "still here"})
	r, err := NewVectorRetriever(vectors, embedder, docs)
	require.NoError(t, err)

	results, err := r.Retrieve(context.Background(), rctxFor("query"), 5)

	require.NoError(t, err)
	assert.Equal(t, []string{"real"}, resultIDs(results))
}

func TestVectorRetriever_NoHits(t *testing.T) {
	embedder := &fakeQueryEmbedder{vec: []float32{1}}
	r, err := NewVectorRetriever(&fakeVectorIndex{}, embedder, newFakeEnrichStore())
	require.NoError(t, err)

	results, err := r.Retrieve(context.Background(), rctxFor("query"), 5)

	require.NoError(t, err)
	require.NotNil(t, results)
	assert.Empty(t, results)
}

func TestVectorRetriever_ZeroTopK(t *testing.T) {
	embedder := &fakeQueryEmbedder{vec: []float32{1}}
	r, err := NewVectorRetriever(&fakeVectorIndex{}, embedder, newFakeEnrichStore())
	require.NoError(t, err)

	results, err := r.Retrieve(context.Background(), rctxFor("query"), 0)

	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, embedder.gotText, "a zero-depth request must not embed the query")
}

func TestVectorRetriever_EmbedError(t *testing.T) {
	embedder := &fakeQueryEmbedder{embedErr: fmt.Errorf("ollama unreachable")}
	r, err := NewVectorRetriever(&fakeVectorIndex{}, embedder, newFakeEnrichStore())
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), rctxFor("query"), 5)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed query")
	assert.Contains(t, err.Error(), "ollama unreachable")
}

func TestVectorRetriever_SearchError(t *testing.T) {
	vectors := &fakeVectorIndex{searchErr: store.ErrDimensionMismatch{Expected: 768, Got: 256}}
	embedder := &fakeQueryEmbedder{vec: []float32{1}}
	r, err := NewVectorRetriever(vectors, embedder, newFakeEnrichStore())
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), rctxFor("query"), 5)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector search")
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestVectorRetriever_EnrichmentError(t *testing.T) {
	vectors := &fakeVectorIndex{results: []*store.VectorResult{{ID: "a", Score: 0.9}}}
	embedder := &fakeQueryEmbedder{vec: []float32{1}}
	docs := newFakeEnrichStore()
	docs.getErr = fmt.Errorf("db closed")
	r, err := NewVectorRetriever(vectors, embedder, docs)
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), rctxFor("query"), 5)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "enrich vector results")
}

func TestVectorRetriever_CloseClosesEverything(t *testing.T) {
	vectors := &fakeVectorIndex{}
	embedder := &fakeQueryEmbedder{vec: []float32{1}}
	docs := newFakeEnrichStore()
	r, err := NewVectorRetriever(vectors, embedder, docs)
	require.NoError(t, err)

	require.NoError(t, r.Close())

	assert.True(t, vectors.closed)
	assert.True(t, docs.closed)
	assert.True(t, embedder.closed)
}
