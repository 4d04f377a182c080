package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Basic Embedding
// ============================================================================

func TestStaticEmbedder_Embed_ReturnsCorrectDimensions(t *testing.T) {
	// Given: static embedder with default dimensions
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// When: I embed a passage
	embedding, err := embedder.Embed(context.Background(), "dense retrieval uses vector similarity")

	// Then: a vector of the default dimension is returned
	require.NoError(t, err)
	assert.Len(t, embedding, StaticDimensions)
}

func TestStaticEmbedder_CustomDimensions(t *testing.T) {
	// Given: static embedder sized to match an existing 768-dim index
	embedder := NewStaticEmbedderWithDims(768)
	defer func() { _ = embedder.Close() }()

	embedding, err := embedder.Embed(context.Background(), "dimension compatibility")

	require.NoError(t, err)
	assert.Len(t, embedding, 768)
	assert.Equal(t, 768, embedder.Dimensions())
}

func TestStaticEmbedder_Embed_VectorIsNormalized(t *testing.T) {
	// Given: static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// When: I embed text
	embedding, err := embedder.Embed(context.Background(), "what is sparse retrieval")
	require.NoError(t, err)

	// Then: vector magnitude is ~1.0 (normalized)
	magnitude := vectorMagnitude(embedding)
	assert.InDelta(t, 1.0, magnitude, 0.001, "vector should be normalized to unit length")
}

func TestStaticEmbedder_Embed_EmptyTextReturnsZeroVector(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	for _, text := range []string{"", "   ", "\n\t"} {
		embedding, err := embedder.Embed(context.Background(), text)
		require.NoError(t, err)
		require.Len(t, embedding, StaticDimensions)
		assert.Zero(t, vectorMagnitude(embedding), "blank input should produce zero vector")
	}
}

// ============================================================================
// Deterministic Output
// ============================================================================

func TestStaticEmbedder_Embed_IsDeterministic(t *testing.T) {
	// Given: static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	text := "reranking improves precision at the cost of latency"

	// When: I embed same text twice
	emb1, err1 := embedder.Embed(context.Background(), text)
	emb2, err2 := embedder.Embed(context.Background(), text)

	// Then: identical vectors are returned
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, emb1, emb2, "same text should produce identical vectors")
}

func TestStaticEmbedder_Embed_DeterministicAcrossInstances(t *testing.T) {
	// Given: two separate embedder instances
	embedder1 := NewStaticEmbedder()
	embedder2 := NewStaticEmbedder()
	defer func() { _ = embedder1.Close() }()
	defer func() { _ = embedder2.Close() }()

	text := "query reformulation widens recall"

	// When: I embed same text with different instances
	emb1, _ := embedder1.Embed(context.Background(), text)
	emb2, _ := embedder2.Embed(context.Background(), text)

	// Then: identical vectors are returned
	assert.Equal(t, emb1, emb2, "same text should produce identical vectors across instances")
}

// ============================================================================
// Similarity Properties
// ============================================================================

func TestStaticEmbedder_SimilarTextsScoreHigherThanUnrelated(t *testing.T) {
	// Given: static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	ctx := context.Background()
	query, _ := embedder.Embed(ctx, "vector search with embeddings")
	related, _ := embedder.Embed(ctx, "embeddings enable vector search")
	unrelated, _ := embedder.Embed(ctx, "pasta carbonara cooking instructions")

	// Then: shared vocabulary produces higher cosine than disjoint vocabulary
	assert.Greater(t, Cosine(query, related), Cosine(query, unrelated),
		"overlapping texts should be more similar than disjoint texts")
}

func TestStaticEmbedder_StopWordsCarryNoTokenWeight(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// Stop words are filtered before token hashing, so adding them changes
	// only the trigram contribution, not the dominant token signal.
	ctx := context.Background()
	bare, _ := embedder.Embed(ctx, "retrieval pipeline")
	padded, _ := embedder.Embed(ctx, "the retrieval of the pipeline")

	assert.Greater(t, Cosine(bare, padded), 0.5,
		"stop word padding should not move the vector far")
}

// ============================================================================
// Batch and Lifecycle
// ============================================================================

func TestStaticEmbedder_EmbedBatch_MatchesSingleEmbed(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	ctx := context.Background()
	texts := []string{"first passage", "second passage", "third passage"}

	batch, err := embedder.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))

	for i, text := range texts {
		single, err := embedder.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i], "batch result should match single embed for %q", text)
	}
}

func TestStaticEmbedder_EmbedBatch_EmptyInput(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	result, err := embedder.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestStaticEmbedder_ClosedEmbedderRejectsRequests(t *testing.T) {
	embedder := NewStaticEmbedder()
	require.NoError(t, embedder.Close())

	_, err := embedder.Embed(context.Background(), "text")
	assert.Error(t, err)

	_, err = embedder.EmbedBatch(context.Background(), []string{"text"})
	assert.Error(t, err)

	assert.False(t, embedder.Available(context.Background()))
}

func TestStaticEmbedder_ModelName(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	assert.Equal(t, "static", embedder.ModelName())
}
