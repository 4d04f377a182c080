package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ragtune/ragtune/internal/embed"
	"github.com/ragtune/ragtune/internal/store"
	"github.com/ragtune/ragtune/internal/ui"
)

// fakeDocStore is an in-memory DocumentStore for runner and consistency tests.
type fakeDocStore struct {
	mu         sync.Mutex
	docs       map[string]*store.Document
	embeddings map[string][]float32
	embedModel string
	state      map[string]string
	saveErr    error
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{
		docs:       make(map[string]*store.Document),
		embeddings: make(map[string][]float32),
		state:      make(map[string]string),
	}
}

func (f *fakeDocStore) SaveDocuments(ctx context.Context, docs []*store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return nil
}

func (f *fakeDocStore) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	return d, nil
}

func (f *fakeDocStore) GetDocuments(ctx context.Context, ids []string) ([]*store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Document
	for _, id := range ids {
		if d, ok := f.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDocStore) ListDocuments(ctx context.Context, cursor string, limit int) ([]*store.Document, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}

	ids := make([]string, 0, len(f.docs))
	for id := range f.docs {
		if id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	next := ""
	if len(ids) > limit {
		ids = ids[:limit]
		next = ids[len(ids)-1]
	}

	out := make([]*store.Document, len(ids))
	for i, id := range ids {
		out[i] = f.docs[id]
	}
	return out, next, nil
}

func (f *fakeDocStore) DeleteDocuments(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.docs, id)
		delete(f.embeddings, id)
	}
	return nil
}

func (f *fakeDocStore) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs), nil
}

func (f *fakeDocStore) SaveEmbeddings(ctx context.Context, ids []string, embeddings [][]float32, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, id := range ids {
		f.embeddings[id] = embeddings[i]
	}
	f.embedModel = model
	return nil
}

func (f *fakeDocStore) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]float32, len(f.embeddings))
	for id, emb := range f.embeddings {
		out[id] = emb
	}
	return out, nil
}

func (f *fakeDocStore) GetState(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[key], nil
}

func (f *fakeDocStore) SetState(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[key] = value
	return nil
}

func (f *fakeDocStore) Close() error { return nil }

var _ store.DocumentStore = (*fakeDocStore)(nil)

// fakeBM25 is an in-memory BM25Index recording deletions.
type fakeBM25 struct {
	mu      sync.Mutex
	docs    map[string]string
	deleted []string
}

func newFakeBM25() *fakeBM25 {
	return &fakeBM25{docs: make(map[string]string)}
}

func (f *fakeBM25) Index(ctx context.Context, docs []*store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range docs {
		f.docs[d.ID] = d.Content
	}
	return nil
}

func (f *fakeBM25) Search(ctx context.Context, query string, limit int) ([]*store.BM25Result, error) {
	return nil, nil
}

func (f *fakeBM25) Delete(ctx context.Context, docIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range docIDs {
		delete(f.docs, id)
	}
	f.deleted = append(f.deleted, docIDs...)
	return nil
}

func (f *fakeBM25) AllIDs() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.docs))
	for id := range f.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeBM25) Stats() *store.IndexStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &store.IndexStats{DocumentCount: len(f.docs)}
}

func (f *fakeBM25) Close() error { return nil }

var _ store.BM25Index = (*fakeBM25)(nil)

// fakeVector is an in-memory VectorStore recording deletions and saves.
type fakeVector struct {
	mu        sync.Mutex
	vectors   map[string][]float32
	deleted   []string
	savedPath string
}

func newFakeVector() *fakeVector {
	return &fakeVector{vectors: make(map[string][]float32)}
}

func (f *fakeVector) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, id := range ids {
		f.vectors[id] = vectors[i]
	}
	return nil
}

func (f *fakeVector) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	return nil, nil
}

func (f *fakeVector) Delete(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.vectors, id)
	}
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *fakeVector) AllIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.vectors))
	for id := range f.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeVector) Contains(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.vectors[id]
	return ok
}

func (f *fakeVector) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.vectors)
}

func (f *fakeVector) Save(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedPath = path
	return nil
}

func (f *fakeVector) Load(path string) error { return nil }

func (f *fakeVector) Close() error { return nil }

var _ store.VectorStore = (*fakeVector)(nil)

// fakeEmbedder returns deterministic vectors and counts batch calls.
type fakeEmbedder struct {
	mu          sync.Mutex
	dims        int
	model       string
	batchCalls  int
	textsSeen   int
	failOnBatch int // 1-based batch number to fail on (0 = never)
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{dims: 4, model: "fake-embed"}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.failOnBatch > 0 && f.batchCalls >= f.failOnBatch {
		return nil, fmt.Errorf("embedding backend unavailable")
	}
	f.textsSeen += len(texts)

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dims)
		for j := range vec {
			vec[j] = float32(len(text)%7+j) * 0.1
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func (f *fakeEmbedder) ModelName() string { return f.model }

func (f *fakeEmbedder) Available(ctx context.Context) bool { return true }

func (f *fakeEmbedder) Close() error { return nil }

var _ embed.Embedder = (*fakeEmbedder)(nil)

// fakeRenderer records progress events for assertions.
type fakeRenderer struct {
	mu        sync.Mutex
	events    []ui.ProgressEvent
	errors    []ui.ErrorEvent
	completed *ui.CompletionStats
}

func newFakeRenderer() *fakeRenderer { return &fakeRenderer{} }

func (f *fakeRenderer) Start(ctx context.Context) error { return nil }

func (f *fakeRenderer) UpdateProgress(event ui.ProgressEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeRenderer) AddError(event ui.ErrorEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, event)
}

func (f *fakeRenderer) Complete(stats ui.CompletionStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = &stats
}

func (f *fakeRenderer) Stop() error { return nil }

func (f *fakeRenderer) stagesSeen() []ui.Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stages []ui.Stage
	for _, e := range f.events {
		if len(stages) == 0 || stages[len(stages)-1] != e.Stage {
			stages = append(stages, e.Stage)
		}
	}
	return stages
}

var _ ui.Renderer = (*fakeRenderer)(nil)
