// Package assemble turns the ranked survivors of a run into the final
// document list. Assemblers are the budget endpoint of the pipeline: every
// included document is paid for in tokens through the request tracker, so a
// run that went long on reranking returns fewer documents rather than
// overshooting the caller's context window.
package assemble

import (
	"context"
	"log/slog"

	"github.com/ragtune/ragtune/pkg/ragtune"
)

// Greedy walks the ranked items in order and includes every document whose
// token estimate still fits the remaining token budget. Documents that do not
// fit are skipped, not terminal: a large document mid-list does not block the
// smaller ones behind it.
type Greedy struct {
	maxDocs int
	logger  *slog.Logger
}

var _ ragtune.Assembler = (*Greedy)(nil)

// GreedyOption configures a Greedy assembler.
type GreedyOption func(*Greedy)

// WithMaxDocs caps the number of returned documents. Zero or negative means
// no cap; the token budget is then the only limit.
func WithMaxDocs(n int) GreedyOption {
	return func(g *Greedy) {
		g.maxDocs = n
	}
}

// WithLogger sets the logger used for skip diagnostics.
func WithLogger(logger *slog.Logger) GreedyOption {
	return func(g *Greedy) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGreedy creates a greedy assembler.
func NewGreedy(opts ...GreedyOption) *Greedy {
	g := &Greedy{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Assemble charges each document's token estimate against the tracker and
// keeps the ones that fit, preserving the incoming ranking order.
func (g *Greedy) Assemble(_ context.Context, items []*ragtune.PoolItem, rctx *ragtune.RequestContext) []ragtune.ScoredDocument {
	out := make([]ragtune.ScoredDocument, 0, len(items))
	for _, it := range items {
		if g.maxDocs > 0 && len(out) >= g.maxDocs {
			break
		}
		tokens := ragtune.EstimateTokens(it.Content)
		if rctx != nil && rctx.Tracker != nil {
			if !rctx.Tracker.TryConsume(ragtune.ResourceTokens, float64(tokens)) {
				g.logger.Debug("document skipped by token budget",
					"doc_id", it.DocID,
					"tokens", tokens)
				continue
			}
		}
		out = append(out, ragtune.ScoredDocument{
			ID:       it.DocID,
			Content:  it.Content,
			Metadata: it.Metadata,
			Score:    it.FinalScore(),
		})
	}
	return out
}
