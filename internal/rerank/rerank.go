// Package rerank provides the scoring tiers behind the iteration loop. The
// cheap tiers (noop, lexical) run in-process; the cross-encoder and LLM tiers
// call external model servers and are wrapped so their failures drop a batch
// instead of a run.
package rerank

import (
	"context"

	"github.com/ragtune/ragtune/internal/store"
	"github.com/ragtune/ragtune/pkg/ragtune"
)

// Noop scores items by incoming batch position only. It keeps pipelines
// runnable without any model server and makes loop behavior deterministic in
// tests and benchmarks.
type Noop struct{}

var _ ragtune.Reranker = (*Noop)(nil)

// NewNoop creates a position-score reranker.
func NewNoop() *Noop {
	return &Noop{}
}

// Rerank assigns 1.0 to the first item and steps down 0.01 per position.
func (Noop) Rerank(_ context.Context, items []*ragtune.PoolItem, _ string, _ *ragtune.RequestContext) (map[string]float64, error) {
	scores := make(map[string]float64, len(items))
	for i, it := range items {
		scores[it.DocID] = 1.0 - float64(i)*0.01
	}
	return scores, nil
}

// Lexical scores items by query-term overlap using the same tokenization the
// keyword index uses, so its notion of a matching document lines up with
// BM25's.
type Lexical struct {
	stopWords map[string]struct{}
}

var _ ragtune.Reranker = (*Lexical)(nil)

// NewLexical creates an overlap reranker with the default stop word list.
func NewLexical() *Lexical {
	return &Lexical{
		stopWords: store.BuildStopWordMap(store.DefaultTextStopWords),
	}
}

// Rerank scores each item with the fraction of query terms its content
// contains. A query with no indexable terms scores everything zero.
func (l *Lexical) Rerank(_ context.Context, items []*ragtune.PoolItem, _ string, rctx *ragtune.RequestContext) (map[string]float64, error) {
	query := ""
	if rctx != nil {
		query = rctx.Query
	}
	queryTokens := store.FilterStopWords(store.TokenizeText(query), l.stopWords)

	scores := make(map[string]float64, len(items))
	if len(queryTokens) == 0 {
		for _, it := range items {
			scores[it.DocID] = 0
		}
		return scores, nil
	}

	for _, it := range items {
		contentTokens := make(map[string]struct{})
		for _, tok := range store.TokenizeText(it.Content) {
			contentTokens[tok] = struct{}{}
		}
		matched := 0
		for _, tok := range queryTokens {
			if _, ok := contentTokens[tok]; ok {
				matched++
			}
		}
		scores[it.DocID] = float64(matched) / float64(len(queryTokens))
	}
	return scores, nil
}
