package retrieve

import (
	"context"
	"fmt"

	"github.com/ragtune/ragtune/internal/embed"
	"github.com/ragtune/ragtune/internal/store"
	"github.com/ragtune/ragtune/pkg/ragtune"
)

// stubRetriever is a canned retrieval leg for hybrid tests. It records the
// depth it was asked for and can fail on demand.
type stubRetriever struct {
	docs   []ragtune.ScoredDocument
	err    error
	gotK   int
	calls  int
	closed bool
}

var _ ragtune.Retriever = (*stubRetriever)(nil)

func (s *stubRetriever) Retrieve(ctx context.Context, rctx *ragtune.RequestContext, topK int) ([]ragtune.ScoredDocument, error) {
	s.calls++
	s.gotK = topK
	if s.err != nil {
		return nil, s.err
	}
	out := make([]ragtune.ScoredDocument, len(s.docs))
	copy(out, s.docs)
	return out, nil
}

func (s *stubRetriever) Close() error {
	s.closed = true
	return nil
}

// fakeBM25Index serves canned search results.
type fakeBM25Index struct {
	results   []*store.BM25Result
	searchErr error
	gotQuery  string
	gotLimit  int
	searches  int
	closed    bool
}

var _ store.BM25Index = (*fakeBM25Index)(nil)

func (f *fakeBM25Index) Index(ctx context.Context, docs []*store.Document) error { return nil }

func (f *fakeBM25Index) Search(ctx context.Context, query string, limit int) ([]*store.BM25Result, error) {
	f.searches++
	f.gotQuery = query
	f.gotLimit = limit
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeBM25Index) Delete(ctx context.Context, docIDs []string) error { return nil }
func (f *fakeBM25Index) AllIDs() ([]string, error)                         { return nil, nil }
func (f *fakeBM25Index) Stats() *store.IndexStats                          { return &store.IndexStats{} }

func (f *fakeBM25Index) Close() error {
	f.closed = true
	return nil
}

// fakeVectorIndex serves canned nearest-neighbor results.
type fakeVectorIndex struct {
	results   []*store.VectorResult
	searchErr error
	gotQuery  []float32
	gotK      int
	closed    bool
}

var _ store.VectorStore = (*fakeVectorIndex)(nil)

func (f *fakeVectorIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	return nil
}

func (f *fakeVectorIndex) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	f.gotQuery = query
	f.gotK = k
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeVectorIndex) Delete(ctx context.Context, ids []string) error { return nil }
func (f *fakeVectorIndex) AllIDs() []string                               { return nil }
func (f *fakeVectorIndex) Contains(id string) bool                        { return false }
func (f *fakeVectorIndex) Count() int                                     { return len(f.results) }
func (f *fakeVectorIndex) Save(path string) error                         { return nil }
func (f *fakeVectorIndex) Load(path string) error                         { return nil }

func (f *fakeVectorIndex) Close() error {
	f.closed = true
	return nil
}

// fakeEnrichStore holds documents for hit enrichment. Missing ids are
// silently absent from GetDocuments, matching the SQLite store.
type fakeEnrichStore struct {
	docs   map[string]*store.Document
	getErr error
	closed bool
}

var _ store.DocumentStore = (*fakeEnrichStore)(nil)

func newFakeEnrichStore(docs ...*store.Document) *fakeEnrichStore {
	byID := make(map[string]*store.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	return &fakeEnrichStore{docs: byID}
}

func (f *fakeEnrichStore) SaveDocuments(ctx context.Context, docs []*store.Document) error {
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return nil
}

func (f *fakeEnrichStore) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	return doc, nil
}

func (f *fakeEnrichStore) GetDocuments(ctx context.Context, ids []string) ([]*store.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := make([]*store.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := f.docs[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeEnrichStore) ListDocuments(ctx context.Context, cursor string, limit int) ([]*store.Document, string, error) {
	return nil, "", nil
}

func (f *fakeEnrichStore) DeleteDocuments(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(f.docs, id)
	}
	return nil
}

func (f *fakeEnrichStore) Count(ctx context.Context) (int, error) { return len(f.docs), nil }

func (f *fakeEnrichStore) SaveEmbeddings(ctx context.Context, ids []string, embeddings [][]float32, model string) error {
	return nil
}

func (f *fakeEnrichStore) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	return nil, nil
}

func (f *fakeEnrichStore) GetState(ctx context.Context, key string) (string, error) { return "", nil }
func (f *fakeEnrichStore) SetState(ctx context.Context, key, value string) error    { return nil }

func (f *fakeEnrichStore) Close() error {
	f.closed = true
	return nil
}

// fakeQueryEmbedder returns a fixed vector and records the text it embedded.
type fakeQueryEmbedder struct {
	vec      []float32
	embedErr error
	gotText  string
	closed   bool
}

var _ embed.Embedder = (*fakeQueryEmbedder)(nil)

func (f *fakeQueryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.gotText = text
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.vec, nil
}

func (f *fakeQueryEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeQueryEmbedder) Dimensions() int                    { return len(f.vec) }
func (f *fakeQueryEmbedder) ModelName() string                  { return "fake-embed" }
func (f *fakeQueryEmbedder) Available(ctx context.Context) bool { return true }

func (f *fakeQueryEmbedder) Close() error {
	f.closed = true
	return nil
}
