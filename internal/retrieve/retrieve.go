// Package retrieve provides the retrieval backends that feed the candidate
// pool: an in-memory corpus for tests and demos, BM25 and vector retrievers
// over the persistent stores, and a hybrid retriever that fuses two legs
// with Reciprocal Rank Fusion (RRF).
package retrieve

import (
	"context"
	"sort"

	"github.com/ragtune/ragtune/internal/store"
	"github.com/ragtune/ragtune/pkg/ragtune"
)

// MemoryRetriever serves a fixed in-memory corpus, scoring documents by
// query-token overlap. When nothing overlaps it falls back to the seeded
// corpus order so small demo pipelines never run dry. Safe for concurrent
// use: the corpus is read-only after construction.
type MemoryRetriever struct {
	docs      []ragtune.ScoredDocument
	stopWords map[string]struct{}
}

var _ ragtune.Retriever = (*MemoryRetriever)(nil)

// NewMemoryRetriever creates a retriever over the given documents. The
// slice order is the fallback ranking for queries with no token overlap.
func NewMemoryRetriever(docs []ragtune.ScoredDocument) *MemoryRetriever {
	return &MemoryRetriever{
		docs:      docs,
		stopWords: store.BuildStopWordMap(store.DefaultTextStopWords),
	}
}

// Retrieve scores the corpus against the query and returns the top matches.
// Score is the fraction of distinct query terms present in the document.
func (r *MemoryRetriever) Retrieve(ctx context.Context, rctx *ragtune.RequestContext, topK int) ([]ragtune.ScoredDocument, error) {
	if topK <= 0 {
		return []ragtune.ScoredDocument{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryTokens := store.FilterStopWords(store.TokenizeText(rctx.Query), r.stopWords)
	if len(queryTokens) == 0 {
		return r.fallback(topK), nil
	}

	querySet := make(map[string]struct{}, len(queryTokens))
	for _, tok := range queryTokens {
		querySet[tok] = struct{}{}
	}

	type match struct {
		doc   ragtune.ScoredDocument
		score float64
	}

	matches := make([]match, 0, len(r.docs))
	for _, doc := range r.docs {
		overlap := 0
		seen := make(map[string]struct{})
		for _, tok := range store.TokenizeText(doc.Content) {
			if _, inQuery := querySet[tok]; !inQuery {
				continue
			}
			if _, counted := seen[tok]; counted {
				continue
			}
			seen[tok] = struct{}{}
			overlap++
		}
		if overlap == 0 {
			continue
		}
		matches = append(matches, match{
			doc:   doc,
			score: float64(overlap) / float64(len(querySet)),
		})
	}

	if len(matches) == 0 {
		return r.fallback(topK), nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].doc.ID < matches[j].doc.ID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}

	results := make([]ragtune.ScoredDocument, len(matches))
	for i, m := range matches {
		results[i] = m.doc
		results[i].Score = m.score
	}
	return results, nil
}

// fallback returns the corpus head with its seeded scores.
func (r *MemoryRetriever) fallback(topK int) []ragtune.ScoredDocument {
	n := len(r.docs)
	if n > topK {
		n = topK
	}
	out := make([]ragtune.ScoredDocument, n)
	copy(out, r.docs[:n])
	return out
}

// documentMetadata converts store document fields into result metadata.
// Returns nil when there is nothing to carry.
func documentMetadata(doc *store.Document) map[string]any {
	var meta map[string]any
	add := func(k string, v any) {
		if meta == nil {
			meta = make(map[string]any)
		}
		meta[k] = v
	}

	if doc.Title != "" {
		add("title", doc.Title)
	}
	if doc.Source != "" {
		add("source", doc.Source)
	}
	for k, v := range doc.Metadata {
		add(k, v)
	}
	return meta
}
