package ragtune

// ScoredDocument is the unit retrieved from a backend and the unit returned
// to the caller after assembly. Immutable outside the pool.
type ScoredDocument struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// ItemState is the lifecycle state of a pool item.
type ItemState string

const (
	// StateCandidate marks an item admitted but not yet scheduled.
	StateCandidate ItemState = "candidate"
	// StateInFlight marks an item handed to the reranker for the current batch.
	StateInFlight ItemState = "in_flight"
	// StateReranked marks an item that received a reranker score.
	StateReranked ItemState = "reranked"
	// StateDropped is terminal: pruned, failed, or missing from a rerank result.
	StateDropped ItemState = "dropped"
)

// legalTransitions is the per-item state machine. Anything not listed here
// fails with IllegalTransitionError. No path returns to candidate, and no
// path leaves dropped.
var legalTransitions = map[ItemState]map[ItemState]bool{
	StateCandidate: {StateInFlight: true, StateDropped: true},
	StateInFlight:  {StateReranked: true, StateDropped: true},
	StateReranked:  {StateDropped: true},
	StateDropped:   {},
}

// PoolItem is the unit of work inside the engine; one per distinct document
// id in the current request. All fields are written only by the pool under
// Controller control.
type PoolItem struct {
	// DocID is the primary key; immutable for the request lifetime.
	DocID    string
	Content  string
	Metadata map[string]any

	State ItemState

	// Sources maps retrieval-round tags ("original", "rewrite_0", ...) to the
	// retrieval score observed in that round.
	Sources map[string]float64

	// InitialRank is the best (lowest) rank any round gave this document.
	// Used for deterministic tie-breaks.
	InitialRank int

	// Appearances counts how many times retrieval rounds produced this doc.
	Appearances int

	// PriorityValue is written from Estimator output; zero until estimated.
	PriorityValue float64

	// RerankerScore and RerankerStrategy are set together when a rerank batch
	// scores this item; nil/empty until then.
	RerankerScore    *float64
	RerankerStrategy string
}

// MaxSource returns the best retrieval score observed across rounds, or 0
// when the item has no provenance.
func (it *PoolItem) MaxSource() float64 {
	var best float64
	for _, s := range it.Sources {
		if s > best {
			best = s
		}
	}
	return best
}

// FinalScore derives the score used for assembly ordering. Precedence:
// reranker score, then a positive priority value, then the best retrieval
// score, then zero.
func (it *PoolItem) FinalScore() float64 {
	if it.RerankerScore != nil {
		return *it.RerankerScore
	}
	if it.PriorityValue > 0 {
		return it.PriorityValue
	}
	return it.MaxSource()
}

// Cost is an open-keyed mapping from resource name to amount. Schedulers
// declare expected batch costs with it and the tracker charges it.
type Cost map[string]float64

// Clone returns an independent copy of the cost map.
func (c Cost) Clone() Cost {
	out := make(Cost, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// BatchProposal is the Scheduler's answer: which eligible documents to rerank
// next, with which strategy tier, at what expected cost.
type BatchProposal struct {
	DocIDs           []string `json:"doc_ids"`
	Strategy         string   `json:"strategy"`
	ExpectedCost     Cost     `json:"expected_cost"`
	EstimatedUtility float64  `json:"estimated_utility"`
}

// AdmitStats summarizes one Admit call.
type AdmitStats struct {
	Added   int
	Merged  int
	Evicted []string
}

// ScoreUpdate summarizes one UpdateScores call. Applied lists ids that
// received a reranker score, Dropped the in-flight ids missing from the
// result, Skipped the unknown ids present in the result.
type ScoreUpdate struct {
	Applied []string
	Dropped []string
	Skipped []string
}

// Output is the result of one Controller run.
type Output struct {
	Query            string             `json:"query"`
	QueryID          string             `json:"query_id"`
	Documents        []ScoredDocument   `json:"documents"`
	Trace            []TraceEvent       `json:"trace"`
	FinalBudgetState map[string]float64 `json:"final_budget_state"`
}
