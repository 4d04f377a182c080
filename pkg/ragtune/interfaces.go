package ragtune

import "context"

// Retriever returns an ordered candidate list for the context's query.
// Failures on the original query are fatal for the run; failures on rewrite
// queries skip the variant.
type Retriever interface {
	Retrieve(ctx context.Context, rctx *RequestContext, topK int) ([]ScoredDocument, error)
}

// Reranker maps a batch of items and a strategy tag to new scores. Result
// keys must be a subset of the input ids; ids missing from the result are
// dropped by the Controller. Fallible: an error drops the whole batch and
// the loop continues.
type Reranker interface {
	Rerank(ctx context.Context, items []*PoolItem, strategy string, rctx *RequestContext) (map[string]float64, error)
}

// Reformulator produces query variants, excluding the original. Fallible: an
// error is recorded and the run continues with original-only retrieval.
type Reformulator interface {
	Generate(ctx context.Context, rctx *RequestContext) ([]string, error)
}

// Estimator assigns priority values to eligible candidates. Pure: it must
// not mutate the pool, tracker, or context, and must be deterministic for
// identical inputs. It may return a subset of the eligible ids; absent ids
// keep their previous priority. Implementations that need I/O (embeddings)
// degrade internally instead of erroring.
//
// NeedsReformulation gates the reformulation phase before any budget is
// spent on it: a confident estimator can veto query rewriting outright.
type Estimator interface {
	Value(ctx context.Context, pool PoolView, rctx *RequestContext) map[string]float64
	NeedsReformulation(ctx context.Context, pool PoolView, rctx *RequestContext) bool
}

// Scheduler selects the next batch worth reranking, or nil when nothing is
// worth proposing. Pure: no state mutation, no budget consumption. The
// expected cost must set at least rerank_docs and rerank_calls.
type Scheduler interface {
	SelectBatch(pool PoolView, remaining RemainingView) *BatchProposal
}

// Assembler selects the final token-bounded subsequence from the active
// items, which arrive already sorted in final ranking order. Token spend is
// charged through the context's tracker.
type Assembler interface {
	Assemble(ctx context.Context, items []*PoolItem, rctx *RequestContext) []ScoredDocument
}

// Feedback is an optional stop-condition plugin polled at every loop head
// with the estimates from the previous round (empty on the first poll). A
// true result breaks the loop with the returned reason in the trace.
type Feedback interface {
	ShouldStop(pool PoolView, remaining RemainingView, estimates map[string]float64) (stop bool, reason string)
}
