// Package estimate provides the estimators that assign priority values to
// eligible pool candidates. Estimators are pure readers: they never mutate
// the pool, the tracker, or the request context, and they are deterministic
// for identical inputs. They also gate the reformulation phase: a confident
// estimator can veto query rewriting before any budget is spent on it.
package estimate

import (
	"context"

	"github.com/ragtune/ragtune/pkg/ragtune"
)

// DefaultConfidenceThreshold disables the reformulation gate: with a zero
// threshold the estimator always asks for query rewrites.
const DefaultConfidenceThreshold = 0.0

// Baseline values every eligible candidate at its best retrieval score.
// It is the identity estimator: retrieval evidence passes through untouched,
// so scheduling order mirrors retrieval order until reranker evidence exists.
type Baseline struct {
	confidence float64
}

var _ ragtune.Estimator = (*Baseline)(nil)

// BaselineOption configures the baseline estimator.
type BaselineOption func(*Baseline)

// WithConfidenceThreshold sets the reformulation gate: when the best final
// score in the pool reaches the threshold, reformulation is vetoed. Zero
// (the default) always reformulates.
func WithConfidenceThreshold(threshold float64) BaselineOption {
	return func(b *Baseline) { b.confidence = threshold }
}

// NewBaseline creates the identity estimator.
func NewBaseline(opts ...BaselineOption) *Baseline {
	b := &Baseline{confidence: DefaultConfidenceThreshold}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Value returns max(sources) for every eligible candidate.
func (b *Baseline) Value(_ context.Context, pool ragtune.PoolView, _ *ragtune.RequestContext) map[string]float64 {
	eligible := pool.Eligible()
	out := make(map[string]float64, len(eligible))
	for _, it := range eligible {
		out[it.DocID] = it.MaxSource()
	}
	return out
}

// NeedsReformulation reports whether the current evidence is weak enough to
// justify spending budget on query rewrites. With no threshold configured it
// always returns true; otherwise it returns true while the best final score
// across active items stays below the threshold.
func (b *Baseline) NeedsReformulation(_ context.Context, pool ragtune.PoolView, _ *ragtune.RequestContext) bool {
	if b.confidence <= 0 {
		return true
	}
	best := 0.0
	for _, it := range pool.Active() {
		if s := it.FinalScore(); s > best {
			best = s
		}
	}
	return best < b.confidence
}
