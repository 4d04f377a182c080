package retrieve

import (
	"sort"

	"github.com/ragtune/ragtune/pkg/ragtune"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is empirically validated across domains (used by Azure AI Search,
// OpenSearch, etc.).
const DefaultRRFConstant = 60

// Weights configures the relative importance of the two fused legs. In the
// conventional hybrid pairing the primary leg is lexical (BM25) and the
// secondary leg is semantic (vector).
type Weights struct {
	// Primary is the weight for the primary leg (0-1, default: 0.35).
	Primary float64

	// Secondary is the weight for the secondary leg (0-1, default: 0.65).
	Secondary float64
}

// DefaultWeights returns weights tuned for a lexical-primary, semantic-
// secondary pairing on mixed queries.
func DefaultWeights() Weights {
	return Weights{
		Primary:   0.35,
		Secondary: 0.65,
	}
}

// FusedResult represents a single result after RRF fusion.
type FusedResult struct {
	DocID          string  // Document identifier
	RRFScore       float64 // Combined RRF score (normalized 0-1)
	PrimaryScore   float64 // Original primary-leg score (preserved)
	PrimaryRank    int     // Position in primary list (1-indexed, 0 if absent)
	SecondaryScore float64 // Original secondary-leg score (preserved)
	SecondaryRank  int     // Position in secondary list (1-indexed, 0 if absent)
	InBothLists    bool    // Document appeared in both result lists
}

// RRFFusion combines two ranked result lists using Reciprocal Rank Fusion.
//
// Algorithm: RRF_score(d) = Σ weight_i / (k + rank_i)
//
// Where:
//   - k = smoothing constant (default: 60)
//   - rank_i = position in ranked list i (1-indexed)
//   - weight_i = weight for leg i
type RRFFusion struct {
	K int // RRF smoothing constant (default: 60)
}

// NewRRFFusion creates a new RRF fusion instance with default k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a new RRF fusion with custom k value.
// If k <= 0, defaults to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines two ranked document lists using Reciprocal Rank Fusion.
// Input lists must already be in ranked order (best first).
//
// Documents appearing in only one list use
// missing_rank = max(len(primary), len(secondary)) + 1 for the missing
// leg's contribution.
//
// Results are sorted by: RRFScore (desc) → InBothLists (true first) →
// PrimaryScore (desc) → DocID (asc).
func (f *RRFFusion) Fuse(primary, secondary []ragtune.ScoredDocument, weights Weights) []*FusedResult {
	// Return empty slice, not nil, for consistent API behavior
	if len(primary) == 0 && len(secondary) == 0 {
		return []*FusedResult{}
	}

	capacity := len(primary) + len(secondary)
	scores := make(map[string]*FusedResult, capacity)

	// Process primary results (1-indexed ranks)
	for rank, doc := range primary {
		result := f.getOrCreate(scores, doc.ID)
		result.PrimaryScore = doc.Score
		result.PrimaryRank = rank + 1
		result.RRFScore += weights.Primary / float64(f.K+rank+1)
	}

	// Process secondary results (1-indexed ranks)
	for rank, doc := range secondary {
		result := f.getOrCreate(scores, doc.ID)
		result.SecondaryScore = doc.Score
		result.SecondaryRank = rank + 1
		result.RRFScore += weights.Secondary / float64(f.K+rank+1)

		if result.PrimaryRank > 0 {
			result.InBothLists = true
		}
	}

	// Handle documents in only one list (use missing_rank)
	missingRank := f.calculateMissingRank(len(primary), len(secondary))
	for _, r := range scores {
		if r.PrimaryRank == 0 && r.SecondaryRank > 0 {
			r.RRFScore += weights.Primary / float64(f.K+missingRank)
		}
		if r.SecondaryRank == 0 && r.PrimaryRank > 0 {
			r.RRFScore += weights.Secondary / float64(f.K+missingRank)
		}
	}

	results := f.toSortedSlice(scores)

	// Normalize scores to 0-1 range
	f.normalize(results)

	return results
}

// getOrCreate returns existing result or creates new one.
func (f *RRFFusion) getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{DocID: id}
	m[id] = r
	return r
}

// calculateMissingRank returns rank for documents not in a list.
// Uses max(len1, len2) + 1 to penalize missing documents appropriately.
func (f *RRFFusion) calculateMissingRank(primaryLen, secondaryLen int) int {
	if primaryLen > secondaryLen {
		return primaryLen + 1
	}
	return secondaryLen + 1
}

// toSortedSlice converts map to slice and sorts by RRF score with tie-breaking.
func (f *RRFFusion) toSortedSlice(m map[string]*FusedResult) []*FusedResult {
	results := make([]*FusedResult, 0, len(m))
	for _, r := range m {
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})

	return results
}

// compare implements deterministic comparison for sorting.
// Returns true if a should rank before b.
//
// Priority:
//  1. Higher RRF score
//  2. In both lists (true before false)
//  3. Higher primary-leg score (exact match indicator)
//  4. Lexicographically smaller DocID (deterministic)
func (f *RRFFusion) compare(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}

	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}

	if a.PrimaryScore != b.PrimaryScore {
		return a.PrimaryScore > b.PrimaryScore
	}

	return a.DocID < b.DocID
}

// normalize scales all RRF scores to 0-1 range.
// Uses the maximum score as the reference (becomes 1.0).
func (f *RRFFusion) normalize(results []*FusedResult) {
	if len(results) == 0 {
		return
	}

	// Results are sorted, first has max score
	maxScore := results[0].RRFScore
	if maxScore == 0 {
		return
	}

	for _, r := range results {
		r.RRFScore = r.RRFScore / maxScore
	}
}
