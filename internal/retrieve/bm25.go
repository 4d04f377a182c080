package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ragtune/ragtune/internal/store"
	"github.com/ragtune/ragtune/pkg/ragtune"
)

// BM25Retriever serves keyword retrieval from a BM25 index, enriching hits
// with document content from the document store. Scores are raw BM25 values;
// callers that mix retrievers rely on rank-based fusion, not score scale.
type BM25Retriever struct {
	index store.BM25Index
	docs  store.DocumentStore
}

var _ ragtune.Retriever = (*BM25Retriever)(nil)

// NewBM25Retriever creates a BM25 retriever over the given index and store.
func NewBM25Retriever(index store.BM25Index, docs store.DocumentStore) (*BM25Retriever, error) {
	if index == nil {
		return nil, fmt.Errorf("bm25 index is required")
	}
	if docs == nil {
		return nil, fmt.Errorf("document store is required")
	}
	return &BM25Retriever{index: index, docs: docs}, nil
}

// Retrieve searches the index and returns enriched results in BM25 order.
func (r *BM25Retriever) Retrieve(ctx context.Context, rctx *ragtune.RequestContext, topK int) ([]ragtune.ScoredDocument, error) {
	if topK <= 0 {
		return []ragtune.ScoredDocument{}, nil
	}

	hits, err := r.index.Search(ctx, rctx.Query, topK)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}
	if len(hits) == 0 {
		return []ragtune.ScoredDocument{}, nil
	}

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.DocID
	}

	stored, err := r.docs.GetDocuments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("enrich bm25 results: %w", err)
	}
	byID := make(map[string]*store.Document, len(stored))
	for _, doc := range stored {
		byID[doc.ID] = doc
	}

	results := make([]ragtune.ScoredDocument, 0, len(hits))
	for _, hit := range hits {
		doc, ok := byID[hit.DocID]
		if !ok {
			// Index and store disagree: the index has an id the store lost.
			// Skip rather than emit an empty candidate.
			slog.Debug("bm25 hit missing from document store",
				slog.String("doc_id", hit.DocID))
			continue
		}
		results = append(results, ragtune.ScoredDocument{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: documentMetadata(doc),
			Score:    hit.Score,
		})
	}

	return results, nil
}

// Close releases the underlying index and document store. Only meaningful
// when the retriever owns the handles, as when built through the config
// loader.
func (r *BM25Retriever) Close() error {
	return errors.Join(r.index.Close(), r.docs.Close())
}
