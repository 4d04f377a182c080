// Package reformulate generates query variants for supplemental retrieval.
// Variants widen recall when the original phrasing misses relevant documents;
// the controller pays for them out of the reformulations budget and retrieves
// each one at its own depth.
package reformulate

import (
	"context"
	"strings"

	"github.com/ragtune/ragtune/pkg/ragtune"
)

// Noop never produces variants. Pipelines using it run original-only
// retrieval regardless of the reformulation budget.
type Noop struct{}

var _ ragtune.Reformulator = (*Noop)(nil)

// NewNoop creates a no-variant reformulator.
func NewNoop() *Noop {
	return &Noop{}
}

// Generate returns no variants.
func (Noop) Generate(context.Context, *ragtune.RequestContext) ([]string, error) {
	return nil, nil
}

// Static expands a fixed set of templates against the incoming query. A
// "{query}" placeholder in a template is replaced with the original query;
// templates without the placeholder pass through as-is.
type Static struct {
	templates []string
}

var _ ragtune.Reformulator = (*Static)(nil)

// NewStatic creates a template reformulator. Blank templates are dropped at
// construction.
func NewStatic(templates []string) *Static {
	kept := make([]string, 0, len(templates))
	for _, tpl := range templates {
		if strings.TrimSpace(tpl) != "" {
			kept = append(kept, tpl)
		}
	}
	return &Static{templates: kept}
}

// Generate substitutes the query into each template, in template order.
func (s *Static) Generate(_ context.Context, rctx *ragtune.RequestContext) ([]string, error) {
	query := ""
	if rctx != nil {
		query = rctx.Query
	}
	out := make([]string, 0, len(s.templates))
	for _, tpl := range s.templates {
		out = append(out, strings.ReplaceAll(tpl, "{query}", query))
	}
	return out, nil
}
