// Package schedule provides the schedulers that decide which candidates are
// worth paying to rerank next. Schedulers are pure: they read a pool view
// and a budget snapshot and either propose a batch or decline; they never
// mutate state or consume budget themselves.
package schedule

import (
	"sort"

	"github.com/ragtune/ragtune/pkg/ragtune"
)

// Strategy tags for the two reranker tiers. The tags are opaque to the
// Controller; the tiered reranker routes on them.
const (
	StrategyCrossEncoder = "cross_encoder"
	StrategyLLM          = "llm"
)

// Active scheduler defaults.
const (
	// DefaultBatchSize is the target batch size per rerank call.
	DefaultBatchSize = 5

	// DefaultConfidenceGap is the priority gap between the top two eligible
	// candidates below which the scheduler escalates to the expensive tier:
	// when the cheap evidence cannot separate the leaders, a stronger scorer
	// is worth its price.
	DefaultConfidenceGap = 0.05

	// DefaultMinEscalationPool disables pool-size escalation. When set above
	// zero, an eligible count below it escalates to the expensive tier.
	DefaultMinEscalationPool = 0
)

// Active is the default scheduler: an active-learning policy that batches
// the highest-priority eligible candidates, shrinks batches to fit the
// remaining rerank_docs budget, and escalates from the cross-encoder tier
// to the LLM tier when the priority signal stops discriminating.
type Active struct {
	batchSize         int
	confidenceGap     float64
	minEscalationPool int
	cheapStrategy     string
	expensiveStrategy string
}

var _ ragtune.Scheduler = (*Active)(nil)

// ActiveOption configures the active scheduler.
type ActiveOption func(*Active)

// WithBatchSize sets the target batch size.
func WithBatchSize(n int) ActiveOption {
	return func(a *Active) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithConfidenceGap sets the top-2 priority gap below which the scheduler
// escalates strategy.
func WithConfidenceGap(gap float64) ActiveOption {
	return func(a *Active) { a.confidenceGap = gap }
}

// WithMinEscalationPool escalates strategy when fewer than n candidates
// remain eligible. Zero disables the rule.
func WithMinEscalationPool(n int) ActiveOption {
	return func(a *Active) { a.minEscalationPool = n }
}

// WithStrategies overrides the cheap and expensive strategy tags.
func WithStrategies(cheap, expensive string) ActiveOption {
	return func(a *Active) {
		if cheap != "" {
			a.cheapStrategy = cheap
		}
		if expensive != "" {
			a.expensiveStrategy = expensive
		}
	}
}

// NewActive creates the default scheduler.
func NewActive(opts ...ActiveOption) *Active {
	a := &Active{
		batchSize:         DefaultBatchSize,
		confidenceGap:     DefaultConfidenceGap,
		minEscalationPool: DefaultMinEscalationPool,
		cheapStrategy:     StrategyCrossEncoder,
		expensiveStrategy: StrategyLLM,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SelectBatch proposes the next batch, or nil when no batch is worth
// proposing: nothing eligible, no rerank_docs left, or no rerank_calls left.
//
// Candidates are ranked by priority value desc, then initial rank asc, then
// doc id asc; the ordering is mandatory for determinism. Batch size is the
// minimum of the configured target, the eligible count, and the remaining
// rerank_docs budget.
func (a *Active) SelectBatch(pool ragtune.PoolView, remaining ragtune.RemainingView) *ragtune.BatchProposal {
	eligible := pool.Eligible()
	if len(eligible) == 0 {
		return nil
	}
	if remaining.Remaining(ragtune.ResourceRerankCalls) < 1 {
		return nil
	}

	ranked := make([]*ragtune.PoolItem, len(eligible))
	copy(ranked, eligible)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].PriorityValue != ranked[j].PriorityValue {
			return ranked[i].PriorityValue > ranked[j].PriorityValue
		}
		if ranked[i].InitialRank != ranked[j].InitialRank {
			return ranked[i].InitialRank < ranked[j].InitialRank
		}
		return ranked[i].DocID < ranked[j].DocID
	})

	n := a.batchSize
	if n > len(ranked) {
		n = len(ranked)
	}
	if rem := remaining.Remaining(ragtune.ResourceRerankDocs); float64(n) > rem {
		n = int(rem)
	}
	if n <= 0 {
		return nil
	}

	batch := ranked[:n]
	ids := make([]string, n)
	utility := 0.0
	for i, it := range batch {
		ids[i] = it.DocID
		utility += it.PriorityValue
	}
	utility /= float64(n)

	strategy := a.strategyFor(ranked)
	cost := ragtune.Cost{
		ragtune.ResourceRerankDocs:  float64(n),
		ragtune.ResourceRerankCalls: 1,
	}
	if strategy == a.expensiveStrategy {
		tokens := 0
		for _, it := range batch {
			tokens += ragtune.EstimateTokens(it.Content)
		}
		cost[ragtune.ResourceTokens] = float64(tokens)
	}

	return &ragtune.BatchProposal{
		DocIDs:           ids,
		Strategy:         strategy,
		ExpectedCost:     cost,
		EstimatedUtility: utility,
	}
}

// strategyFor picks the tier for the current round. Escalation fires when
// the eligible pool has shrunk below the configured floor, or when the
// priority gap between the two leaders is too small to trust the cheap
// ranking.
func (a *Active) strategyFor(ranked []*ragtune.PoolItem) string {
	if a.minEscalationPool > 0 && len(ranked) < a.minEscalationPool {
		return a.expensiveStrategy
	}
	if len(ranked) >= 2 && ranked[0].PriorityValue-ranked[1].PriorityValue < a.confidenceGap {
		return a.expensiveStrategy
	}
	return a.cheapStrategy
}
