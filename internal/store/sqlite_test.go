package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// SQLite Document Store Tests
// ============================================================================

func newTestDocStore(t *testing.T) *SQLiteDocumentStore {
	t.Helper()
	s, err := NewSQLiteDocumentStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteDocumentStore_SaveAndGet(t *testing.T) {
	// Given: an empty store
	s := newTestDocStore(t)

	doc := &Document{
		ID:      "doc1",
		Title:   "Photosynthesis",
		Content: "Plants convert light into chemical energy.",
		Source:  "biology.md",
		Metadata: map[string]string{
			"section": "intro",
			"lang":    "en",
		},
	}

	// When: saving and fetching the document
	err := s.SaveDocuments(context.Background(), []*Document{doc})
	require.NoError(t, err)

	got, err := s.GetDocument(context.Background(), "doc1")
	require.NoError(t, err)

	// Then: all fields round-trip
	assert.Equal(t, "doc1", got.ID)
	assert.Equal(t, "Photosynthesis", got.Title)
	assert.Equal(t, "Plants convert light into chemical energy.", got.Content)
	assert.Equal(t, "biology.md", got.Source)
	assert.Equal(t, "intro", got.Metadata["section"])
	assert.Equal(t, "en", got.Metadata["lang"])

	// And: zero timestamps were filled in
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestSQLiteDocumentStore_Save_PreservesExplicitTimestamps(t *testing.T) {
	// Given: a document with explicit timestamps
	s := newTestDocStore(t)

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	updated := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	doc := &Document{ID: "doc1", Content: "text", CreatedAt: created, UpdatedAt: updated}

	// When: saving and fetching
	require.NoError(t, s.SaveDocuments(context.Background(), []*Document{doc}))
	got, err := s.GetDocument(context.Background(), "doc1")
	require.NoError(t, err)

	// Then: timestamps survive at millisecond precision
	assert.Equal(t, created.UnixMilli(), got.CreatedAt.UnixMilli())
	assert.Equal(t, updated.UnixMilli(), got.UpdatedAt.UnixMilli())
}

func TestSQLiteDocumentStore_Save_UpsertKeepsCreatedAt(t *testing.T) {
	// Given: a saved document
	s := newTestDocStore(t)

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := &Document{ID: "doc1", Content: "original", CreatedAt: created, UpdatedAt: created}
	require.NoError(t, s.SaveDocuments(context.Background(), []*Document{doc}))

	// When: saving the same ID with new content
	updated := &Document{ID: "doc1", Content: "revised"}
	require.NoError(t, s.SaveDocuments(context.Background(), []*Document{updated}))

	// Then: content is replaced
	got, err := s.GetDocument(context.Background(), "doc1")
	require.NoError(t, err)
	assert.Equal(t, "revised", got.Content)

	// And: created_at is preserved while updated_at moved
	assert.Equal(t, created.UnixMilli(), got.CreatedAt.UnixMilli())
	assert.Greater(t, got.UpdatedAt.UnixMilli(), created.UnixMilli())

	// And: no duplicate row was created
	count, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteDocumentStore_Save_EmptyID(t *testing.T) {
	// Given: a document with no ID
	s := newTestDocStore(t)

	// When: saving it
	err := s.SaveDocuments(context.Background(), []*Document{{Content: "orphan"}})

	// Then: the save is rejected
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty id")
}

func TestSQLiteDocumentStore_Save_EmptyList(t *testing.T) {
	s := newTestDocStore(t)

	// Saving nothing is a no-op
	require.NoError(t, s.SaveDocuments(context.Background(), nil))
	require.NoError(t, s.SaveDocuments(context.Background(), []*Document{}))
}

func TestSQLiteDocumentStore_Get_NotFound(t *testing.T) {
	// Given: an empty store
	s := newTestDocStore(t)

	// When: fetching a missing document
	_, err := s.GetDocument(context.Background(), "missing")

	// Then: an error is returned
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestSQLiteDocumentStore_GetDocuments_FollowsRequestOrder(t *testing.T) {
	// Given: several saved documents
	s := newTestDocStore(t)

	docs := []*Document{
		{ID: "a", Content: "alpha"},
		{ID: "b", Content: "beta"},
		{ID: "c", Content: "gamma"},
	}
	require.NoError(t, s.SaveDocuments(context.Background(), docs))

	// When: fetching in a different order with one missing ID
	got, err := s.GetDocuments(context.Background(), []string{"c", "missing", "a"})
	require.NoError(t, err)

	// Then: results follow the requested order, missing IDs skipped
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestSQLiteDocumentStore_GetDocuments_Empty(t *testing.T) {
	s := newTestDocStore(t)

	got, err := s.GetDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteDocumentStore_ListDocuments_Pagination(t *testing.T) {
	// Given: five documents
	s := newTestDocStore(t)

	docs := []*Document{
		{ID: "d1", Content: "one"},
		{ID: "d2", Content: "two"},
		{ID: "d3", Content: "three"},
		{ID: "d4", Content: "four"},
		{ID: "d5", Content: "five"},
	}
	require.NoError(t, s.SaveDocuments(context.Background(), docs))

	// When: paging through with limit 2
	page1, cursor1, err := s.ListDocuments(context.Background(), "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "d1", page1[0].ID)
	assert.Equal(t, "d2", page1[1].ID)
	require.NotEmpty(t, cursor1)

	page2, cursor2, err := s.ListDocuments(context.Background(), cursor1, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "d3", page2[0].ID)
	assert.Equal(t, "d4", page2[1].ID)
	require.NotEmpty(t, cursor2)

	// Then: the final page drains the listing and ends the cursor
	page3, cursor3, err := s.ListDocuments(context.Background(), cursor2, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "d5", page3[0].ID)
	assert.Empty(t, cursor3)
}

func TestSQLiteDocumentStore_ListDocuments_DefaultLimit(t *testing.T) {
	// Given: a store with one document
	s := newTestDocStore(t)
	require.NoError(t, s.SaveDocuments(context.Background(), []*Document{{ID: "d1", Content: "x"}}))

	// When: listing with a non-positive limit
	docs, cursor, err := s.ListDocuments(context.Background(), "", 0)
	require.NoError(t, err)

	// Then: the default limit applies and the single doc is returned
	assert.Len(t, docs, 1)
	assert.Empty(t, cursor)
}

func TestSQLiteDocumentStore_Delete_RemovesDocumentAndEmbedding(t *testing.T) {
	// Given: documents with stored embeddings
	s := newTestDocStore(t)

	docs := []*Document{
		{ID: "keep", Content: "staying"},
		{ID: "drop", Content: "leaving"},
	}
	require.NoError(t, s.SaveDocuments(context.Background(), docs))
	require.NoError(t, s.SaveEmbeddings(context.Background(),
		[]string{"keep", "drop"},
		[][]float32{{0.1, 0.2}, {0.3, 0.4}},
		"test-model"))

	// When: deleting one document
	require.NoError(t, s.DeleteDocuments(context.Background(), []string{"drop"}))

	// Then: the document is gone
	_, err := s.GetDocument(context.Background(), "drop")
	assert.Error(t, err)

	count, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// And: its embedding was removed with it
	embeddings, err := s.GetAllEmbeddings(context.Background())
	require.NoError(t, err)
	assert.Len(t, embeddings, 1)
	assert.Contains(t, embeddings, "keep")
}

func TestSQLiteDocumentStore_Delete_Empty(t *testing.T) {
	s := newTestDocStore(t)

	require.NoError(t, s.DeleteDocuments(context.Background(), nil))
	require.NoError(t, s.DeleteDocuments(context.Background(), []string{}))
}

func TestSQLiteDocumentStore_Embeddings_RoundTrip(t *testing.T) {
	// Given: saved documents
	s := newTestDocStore(t)

	docs := []*Document{
		{ID: "a", Content: "first"},
		{ID: "b", Content: "second"},
	}
	require.NoError(t, s.SaveDocuments(context.Background(), docs))

	vecs := [][]float32{
		{0.5, -0.25, 1.0},
		{-1.5, 0.0, 0.125},
	}

	// When: saving and reloading embeddings
	require.NoError(t, s.SaveEmbeddings(context.Background(), []string{"a", "b"}, vecs, "nomic-embed-text"))

	got, err := s.GetAllEmbeddings(context.Background())
	require.NoError(t, err)

	// Then: vectors round-trip exactly
	require.Len(t, got, 2)
	assert.Equal(t, vecs[0], got["a"])
	assert.Equal(t, vecs[1], got["b"])
}

func TestSQLiteDocumentStore_SaveEmbeddings_LengthMismatch(t *testing.T) {
	s := newTestDocStore(t)

	err := s.SaveEmbeddings(context.Background(), []string{"a", "b"}, [][]float32{{1}}, "m")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "length mismatch")
}

func TestSQLiteDocumentStore_State_GetSetOverwrite(t *testing.T) {
	// Given: an empty store
	s := newTestDocStore(t)

	// When: reading an unset key
	val, err := s.GetState(context.Background(), StateKeyIndexModel)
	require.NoError(t, err)

	// Then: empty string, no error
	assert.Equal(t, "", val)

	// When: setting and overwriting
	require.NoError(t, s.SetState(context.Background(), StateKeyIndexModel, "nomic-embed-text"))
	require.NoError(t, s.SetState(context.Background(), StateKeyIndexModel, "mxbai-embed-large"))

	// Then: the latest value wins
	val, err = s.GetState(context.Background(), StateKeyIndexModel)
	require.NoError(t, err)
	assert.Equal(t, "mxbai-embed-large", val)
}

func TestSQLiteDocumentStore_Persistence_RoundTrip(t *testing.T) {
	// Given: an on-disk store with a document
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "docs.db")

	s1, err := NewSQLiteDocumentStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.SaveDocuments(context.Background(), []*Document{
		{ID: "doc1", Content: "persistent text"},
	}))
	require.NoError(t, s1.SetState(context.Background(), StateKeyIndexDimension, "768"))
	require.NoError(t, s1.Close())

	// When: reopening the store
	s2, err := NewSQLiteDocumentStore(path)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	// Then: documents and state survive
	got, err := s2.GetDocument(context.Background(), "doc1")
	require.NoError(t, err)
	assert.Equal(t, "persistent text", got.Content)

	dim, err := s2.GetState(context.Background(), StateKeyIndexDimension)
	require.NoError(t, err)
	assert.Equal(t, "768", dim)
}

func TestSQLiteDocumentStore_Close_Idempotent(t *testing.T) {
	s, err := NewSQLiteDocumentStore("")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestSQLiteDocumentStore_OperationsAfterClose(t *testing.T) {
	// Given: a closed store
	s, err := NewSQLiteDocumentStore("")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Then: every operation reports closed
	err = s.SaveDocuments(context.Background(), []*Document{{ID: "x", Content: "y"}})
	assert.ErrorContains(t, err, "closed")

	_, err = s.GetDocument(context.Background(), "x")
	assert.ErrorContains(t, err, "closed")

	_, _, err = s.ListDocuments(context.Background(), "", 10)
	assert.ErrorContains(t, err, "closed")

	_, err = s.Count(context.Background())
	assert.ErrorContains(t, err, "closed")
}

// ============================================================================
// Vector Encoding Tests
// ============================================================================

func TestVectorEncoding_RoundTrip(t *testing.T) {
	vec := []float32{0.0, 1.5, -2.25, 3.14159}

	decoded, err := decodeVector(encodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)
}

func TestVectorEncoding_EmptyVector(t *testing.T) {
	decoded, err := decodeVector(encodeVector([]float32{}))
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodeVector_InvalidLength(t *testing.T) {
	// A blob that is not a multiple of 4 bytes cannot hold float32s
	_, err := decodeVector([]byte{0x01, 0x02, 0x03})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a multiple of 4")
}
