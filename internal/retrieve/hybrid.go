package retrieve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ragtune/ragtune/pkg/ragtune"
)

// HybridRetriever runs two retrieval legs in parallel and fuses their
// ranked lists with RRF. Degrades gracefully: a single failing leg is
// logged and the surviving leg's results are used alone; it fails only
// when both legs fail.
type HybridRetriever struct {
	primary   ragtune.Retriever
	secondary ragtune.Retriever
	fusion    *RRFFusion
	weights   Weights
}

var _ ragtune.Retriever = (*HybridRetriever)(nil)

// HybridOption configures the hybrid retriever.
type HybridOption func(*HybridRetriever)

// WithWeights overrides the default leg weights.
func WithWeights(w Weights) HybridOption {
	return func(h *HybridRetriever) {
		h.weights = w
	}
}

// WithRRFConstant overrides the RRF smoothing constant.
func WithRRFConstant(k int) HybridOption {
	return func(h *HybridRetriever) {
		h.fusion = NewRRFFusionWithK(k)
	}
}

// NewHybridRetriever creates a hybrid retriever over two legs. The primary
// leg is conventionally lexical and the secondary semantic; the default
// weights assume that pairing.
func NewHybridRetriever(primary, secondary ragtune.Retriever, opts ...HybridOption) (*HybridRetriever, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary retriever is required")
	}
	if secondary == nil {
		return nil, fmt.Errorf("secondary retriever is required")
	}

	h := &HybridRetriever{
		primary:   primary,
		secondary: secondary,
		fusion:    NewRRFFusion(),
		weights:   DefaultWeights(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Retrieve runs both legs in parallel, fuses with RRF, and returns the top
// topK fused documents. Each leg fetches topK*2 so fusion has enough
// overlap to rank with.
func (h *HybridRetriever) Retrieve(ctx context.Context, rctx *ragtune.RequestContext, topK int) ([]ragtune.ScoredDocument, error) {
	if topK <= 0 {
		return []ragtune.ScoredDocument{}, nil
	}

	fetchK := topK * 2

	g, gctx := errgroup.WithContext(ctx)

	var (
		primaryResults, secondaryResults []ragtune.ScoredDocument
		primaryErr, secondaryErr         error
	)

	g.Go(func() error {
		primaryResults, primaryErr = h.primary.Retrieve(gctx, rctx, fetchK)
		// Leg errors are captured, not returned: the other leg may carry
		// the request.
		return nil
	})
	g.Go(func() error {
		secondaryResults, secondaryErr = h.secondary.Retrieve(gctx, rctx, fetchK)
		return nil
	})

	if err := g.Wait(); err != nil {
		// Context was cancelled
		return nil, err
	}

	if primaryErr != nil && secondaryErr != nil {
		return nil, fmt.Errorf("both retrieval legs failed: primary: %v; secondary: %w", primaryErr, secondaryErr)
	}
	if primaryErr != nil {
		slog.Warn("primary retrieval leg failed, continuing with secondary only",
			slog.String("error", primaryErr.Error()))
		primaryResults = nil
	}
	if secondaryErr != nil {
		slog.Warn("secondary retrieval leg failed, continuing with primary only",
			slog.String("error", secondaryErr.Error()))
		secondaryResults = nil
	}

	fused := h.fusion.Fuse(primaryResults, secondaryResults, h.weights)
	if len(fused) > topK {
		fused = fused[:topK]
	}

	// Rebuild documents from whichever leg carried the content; the primary
	// leg wins when both did.
	byID := make(map[string]ragtune.ScoredDocument, len(primaryResults)+len(secondaryResults))
	for _, doc := range secondaryResults {
		byID[doc.ID] = doc
	}
	for _, doc := range primaryResults {
		byID[doc.ID] = doc
	}

	results := make([]ragtune.ScoredDocument, 0, len(fused))
	for _, f := range fused {
		doc, ok := byID[f.DocID]
		if !ok {
			continue
		}
		doc.Score = f.RRFScore
		results = append(results, doc)
	}

	return results, nil
}

// Close releases both legs when they hold resources.
func (h *HybridRetriever) Close() error {
	var errs []error
	if c, ok := h.primary.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := h.secondary.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
