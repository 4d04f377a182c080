package estimate

import (
	"context"
	"fmt"

	"github.com/ragtune/ragtune/pkg/ragtune"
)

// MergeRule selects how a composite combines its sub-estimators' values.
type MergeRule string

const (
	// MergeMean averages the values returned for each id.
	MergeMean MergeRule = "mean"
	// MergeMax keeps the highest value returned for each id.
	MergeMax MergeRule = "max"
)

// Composite runs a list of estimators in declaration order and merges their
// value maps. Ids absent from a sub-estimator's output simply do not
// participate in that id's merge. Reformulation gate votes are always merged
// pessimistically: if any sub-estimator wants rewrites, the composite does.
type Composite struct {
	subs  []ragtune.Estimator
	merge MergeRule
}

var _ ragtune.Estimator = (*Composite)(nil)

// NewComposite creates a composite over the given estimators.
func NewComposite(subs []ragtune.Estimator, merge MergeRule) (*Composite, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("composite estimator needs at least one sub-estimator")
	}
	for i, sub := range subs {
		if sub == nil {
			return nil, fmt.Errorf("composite estimator: sub-estimator %d is nil", i)
		}
	}
	switch merge {
	case MergeMean, MergeMax:
	case "":
		merge = MergeMean
	default:
		return nil, fmt.Errorf("composite estimator: unknown merge rule %q", merge)
	}
	return &Composite{subs: subs, merge: merge}, nil
}

// Value merges the sub-estimators' outputs under the configured rule.
func (c *Composite) Value(ctx context.Context, pool ragtune.PoolView, rctx *ragtune.RequestContext) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, sub := range c.subs {
		for id, v := range sub.Value(ctx, pool, rctx) {
			switch c.merge {
			case MergeMax:
				if n := counts[id]; n == 0 || v > sums[id] {
					sums[id] = v
				}
			default:
				sums[id] += v
			}
			counts[id]++
		}
	}

	out := make(map[string]float64, len(sums))
	for id, sum := range sums {
		if c.merge == MergeMean {
			out[id] = sum / float64(counts[id])
			continue
		}
		out[id] = sum
	}
	return out
}

// NeedsReformulation is the pessimistic gate merge: any yes vote wins.
func (c *Composite) NeedsReformulation(ctx context.Context, pool ragtune.PoolView, rctx *ragtune.RequestContext) bool {
	for _, sub := range c.subs {
		if sub.NeedsReformulation(ctx, pool, rctx) {
			return true
		}
	}
	return false
}
