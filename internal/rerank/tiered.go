package rerank

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ragtune/ragtune/pkg/ragtune"
)

// Tiered routes each batch to the reranker registered for the scheduler's
// strategy tag. Strategy tags are free-form strings: the scheduler and the
// tier map just have to agree on them.
type Tiered struct {
	tiers    map[string]ragtune.Reranker
	fallback ragtune.Reranker
}

var _ ragtune.Reranker = (*Tiered)(nil)

// NewTiered creates a strategy dispatcher. The fallback serves every tag with
// no registered tier and must not be nil.
func NewTiered(fallback ragtune.Reranker, tiers map[string]ragtune.Reranker) (*Tiered, error) {
	if fallback == nil {
		return nil, fmt.Errorf("tiered reranker needs a fallback tier")
	}
	for tag, r := range tiers {
		if r == nil {
			return nil, fmt.Errorf("tiered reranker: tier %q is nil", tag)
		}
	}
	out := make(map[string]ragtune.Reranker, len(tiers))
	for tag, r := range tiers {
		out[tag] = r
	}
	return &Tiered{tiers: out, fallback: fallback}, nil
}

// Rerank dispatches to the tier for the strategy tag, or the fallback.
// Tier errors pass through unchanged; the tiers carry their own error codes.
func (t *Tiered) Rerank(ctx context.Context, items []*ragtune.PoolItem, strategy string, rctx *ragtune.RequestContext) (map[string]float64, error) {
	tier, ok := t.tiers[strategy]
	if !ok {
		tier = t.fallback
	}
	return tier.Rerank(ctx, items, strategy, rctx)
}

// Close releases every tier that holds resources.
func (t *Tiered) Close() error {
	var errs []error
	if c, ok := t.fallback.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	for _, tier := range t.tiers {
		if c, ok := tier.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
