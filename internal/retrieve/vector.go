package retrieve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ragtune/ragtune/internal/embed"
	"github.com/ragtune/ragtune/internal/store"
	"github.com/ragtune/ragtune/pkg/ragtune"
)

// QueryEmbeddingPrefix is the task prefix applied to queries before
// embedding. nomic-embed-text is trained with asymmetric prefixes; this
// pairs with the search_document prefix applied at indexing time.
const QueryEmbeddingPrefix = "search_query: "

// formatQueryForEmbedding formats a query with the retrieval task prefix.
func formatQueryForEmbedding(query string) string {
	return QueryEmbeddingPrefix + query
}

// VectorRetriever serves semantic retrieval: it embeds the query and
// searches the vector store, enriching hits with document content. Scores
// are cosine similarities in 0-1.
type VectorRetriever struct {
	vector   store.VectorStore
	embedder embed.Embedder
	docs     store.DocumentStore
}

var _ ragtune.Retriever = (*VectorRetriever)(nil)

// NewVectorRetriever creates a vector retriever over the given store and
// embedder.
func NewVectorRetriever(vector store.VectorStore, embedder embed.Embedder, docs store.DocumentStore) (*VectorRetriever, error) {
	if vector == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if docs == nil {
		return nil, fmt.Errorf("document store is required")
	}
	return &VectorRetriever{vector: vector, embedder: embedder, docs: docs}, nil
}

// Retrieve embeds the query and returns the nearest documents. A dimension
// mismatch between embedder and index surfaces as an error; the hybrid
// retriever degrades around it, a vector-only pipeline fails the request.
func (r *VectorRetriever) Retrieve(ctx context.Context, rctx *ragtune.RequestContext, topK int) ([]ragtune.ScoredDocument, error) {
	if topK <= 0 {
		return []ragtune.ScoredDocument{}, nil
	}

	embedding, err := r.embedder.Embed(ctx, formatQueryForEmbedding(rctx.Query))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.vector.Search(ctx, embedding, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return []ragtune.ScoredDocument{}, nil
	}

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
	}

	stored, err := r.docs.GetDocuments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("enrich vector results: %w", err)
	}
	byID := make(map[string]*store.Document, len(stored))
	for _, doc := range stored {
		byID[doc.ID] = doc
	}

	results := make([]ragtune.ScoredDocument, 0, len(hits))
	for _, hit := range hits {
		doc, ok := byID[hit.ID]
		if !ok {
			slog.Debug("vector hit missing from document store",
				slog.String("doc_id", hit.ID))
			continue
		}
		results = append(results, ragtune.ScoredDocument{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: documentMetadata(doc),
			Score:    float64(hit.Score),
		})
	}

	return results, nil
}

// Close releases the vector store, the document store, and the embedder.
// Only meaningful when the retriever owns the handles, as when built through
// the config loader.
func (r *VectorRetriever) Close() error {
	errs := []error{r.vector.Close(), r.docs.Close()}
	if c, ok := r.embedder.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
