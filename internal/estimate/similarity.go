package estimate

import (
	"context"
	"io"
	"log/slog"
	"sort"

	"github.com/ragtune/ragtune/internal/embed"
	"github.com/ragtune/ragtune/pkg/ragtune"
)

// Similarity estimator defaults.
const (
	// DefaultWinnerThreshold is the reranker score above which an item
	// counts as a winner worth steering toward.
	DefaultWinnerThreshold = 0.8

	// DefaultBoostWeight scales the similarity boost added on top of the
	// baseline value.
	DefaultBoostWeight = 1.0
)

// Similarity boosts candidates that look like the reranker's winners so far.
// Each eligible candidate starts at its baseline value (best retrieval
// score) and gains a boost in [0,1]: the highest embedding cosine similarity
// to any item the reranker scored above the winner threshold. Before any
// winner exists the estimator is identical to Baseline.
//
// Embedding failures degrade to the baseline values; purity means the
// estimator never surfaces an error and never touches pool state.
type Similarity struct {
	embedder        embed.Embedder
	winnerThreshold float64
	boostWeight     float64
	confidence      float64
	logger          *slog.Logger
}

var _ ragtune.Estimator = (*Similarity)(nil)

// SimilarityOption configures the similarity estimator.
type SimilarityOption func(*Similarity)

// WithWinnerThreshold overrides the reranker score above which an item
// counts as a winner.
func WithWinnerThreshold(threshold float64) SimilarityOption {
	return func(s *Similarity) { s.winnerThreshold = threshold }
}

// WithBoostWeight scales the similarity boost. The boost stays clamped to
// [0,1] after scaling.
func WithBoostWeight(weight float64) SimilarityOption {
	return func(s *Similarity) { s.boostWeight = weight }
}

// WithSimilarityConfidence sets the reformulation gate threshold, matching
// the baseline estimator's gate.
func WithSimilarityConfidence(threshold float64) SimilarityOption {
	return func(s *Similarity) { s.confidence = threshold }
}

// WithSimilarityLogger sets the logger used for degradation warnings.
func WithSimilarityLogger(l *slog.Logger) SimilarityOption {
	return func(s *Similarity) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSimilarity creates a similarity estimator over the given embedder.
func NewSimilarity(embedder embed.Embedder, opts ...SimilarityOption) *Similarity {
	s := &Similarity{
		embedder:        embedder,
		winnerThreshold: DefaultWinnerThreshold,
		boostWeight:     DefaultBoostWeight,
		confidence:      DefaultConfidenceThreshold,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Value returns baseline values plus a bounded similarity boost toward the
// reranked winners. With no winners, no embedder, or a failing embedder the
// baseline values are returned unchanged.
func (s *Similarity) Value(ctx context.Context, pool ragtune.PoolView, _ *ragtune.RequestContext) map[string]float64 {
	eligible := pool.Eligible()
	out := make(map[string]float64, len(eligible))
	for _, it := range eligible {
		out[it.DocID] = it.MaxSource()
	}
	if len(eligible) == 0 || s.embedder == nil {
		return out
	}

	winners := s.winners(pool)
	if len(winners) == 0 {
		return out
	}

	// Embed winners and candidates in one deterministic batch, winners first.
	texts := make([]string, 0, len(winners)+len(eligible))
	for _, w := range winners {
		texts = append(texts, w.Content)
	}
	for _, it := range eligible {
		texts = append(texts, it.Content)
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vectors) != len(texts) {
		if err != nil {
			s.logger.Debug("similarity boost skipped, embedding failed",
				slog.String("error", err.Error()))
		}
		return out
	}

	winnerVecs := vectors[:len(winners)]
	for i, it := range eligible {
		vec := vectors[len(winners)+i]
		best := 0.0
		for _, wv := range winnerVecs {
			if sim := embed.Cosine(vec, wv); sim > best {
				best = sim
			}
		}
		boost := best * s.boostWeight
		if boost < 0 {
			boost = 0
		}
		if boost > 1 {
			boost = 1
		}
		out[it.DocID] += boost
	}
	return out
}

// winners returns the reranked items scored above the winner threshold,
// ordered by doc id for determinism.
func (s *Similarity) winners(pool ragtune.PoolView) []*ragtune.PoolItem {
	var winners []*ragtune.PoolItem
	for _, it := range pool.All() {
		if it.State != ragtune.StateReranked || it.RerankerScore == nil {
			continue
		}
		if *it.RerankerScore >= s.winnerThreshold {
			winners = append(winners, it)
		}
	}
	sort.Slice(winners, func(i, j int) bool {
		return winners[i].DocID < winners[j].DocID
	})
	return winners
}

// NeedsReformulation applies the same confidence gate as Baseline.
func (s *Similarity) NeedsReformulation(_ context.Context, pool ragtune.PoolView, _ *ragtune.RequestContext) bool {
	if s.confidence <= 0 {
		return true
	}
	best := 0.0
	for _, it := range pool.Active() {
		if score := it.FinalScore(); score > best {
			best = score
		}
	}
	return best < s.confidence
}

// Close releases the embedder when it holds resources. Only meaningful when
// the estimator owns the embedder, as when built through the config loader.
func (s *Similarity) Close() error {
	if c, ok := s.embedder.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
