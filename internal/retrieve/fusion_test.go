package retrieve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragtune/ragtune/pkg/ragtune"
)

func docs(idsAndScores ...any) []ragtune.ScoredDocument {
	out := make([]ragtune.ScoredDocument, 0, len(idsAndScores)/2)
	for i := 0; i+1 < len(idsAndScores); i += 2 {
		out = append(out, ragtune.ScoredDocument{
			ID:    idsAndScores[i].(string),
			Score: idsAndScores[i+1].(float64),
		})
	}
	return out
}

func fusedOrder(results []*FusedResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.DocID
	}
	return ids
}

// =============================================================================
// Construction
// =============================================================================

func TestNewRRFFusion_DefaultConstant(t *testing.T) {
	assert.Equal(t, DefaultRRFConstant, NewRRFFusion().K)
}

func TestNewRRFFusionWithK(t *testing.T) {
	assert.Equal(t, 10, NewRRFFusionWithK(10).K)
	assert.Equal(t, DefaultRRFConstant, NewRRFFusionWithK(0).K)
	assert.Equal(t, DefaultRRFConstant, NewRRFFusionWithK(-5).K)
}

func TestDefaultWeights(t *testing.T) {
	w := DefaultWeights()
	assert.Equal(t, 0.35, w.Primary)
	assert.Equal(t, 0.65, w.Secondary)
}

// =============================================================================
// Fusion
// =============================================================================

func TestFuse_EmptyLists(t *testing.T) {
	results := NewRRFFusion().Fuse(nil, nil, DefaultWeights())

	require.NotNil(t, results, "empty input must produce an empty slice, not nil")
	assert.Empty(t, results)
}

func TestFuse_DocumentInBothListsRanksFirst(t *testing.T) {
	// Given: b appears in both lists, a and c in one each
	primary := docs("a", 3.0, "b", 2.0)
	secondary := docs("b", 0.9, "c", 0.8)
	weights := Weights{Primary: 0.5, Secondary: 0.5}

	// When
	results := NewRRFFusion().Fuse(primary, secondary, weights)

	// Then: agreement between legs beats a better single-leg rank
	require.Len(t, results, 3)
	assert.Equal(t, []string{"b", "a", "c"}, fusedOrder(results))

	b := results[0]
	assert.True(t, b.InBothLists)
	assert.Equal(t, 2, b.PrimaryRank)
	assert.Equal(t, 1, b.SecondaryRank)
	assert.Equal(t, 2.0, b.PrimaryScore)
	assert.Equal(t, 0.9, b.SecondaryScore)
}

func TestFuse_TopScoreNormalizedToOne(t *testing.T) {
	results := NewRRFFusion().Fuse(docs("a", 3.0, "b", 2.0), docs("b", 0.9), DefaultWeights())

	require.NotEmpty(t, results)
	assert.Equal(t, 1.0, results[0].RRFScore)
	for _, r := range results[1:] {
		assert.LessOrEqual(t, r.RRFScore, 1.0)
		assert.Greater(t, r.RRFScore, 0.0)
	}
}

func TestFuse_SingleListPreservesOrder(t *testing.T) {
	results := NewRRFFusion().Fuse(docs("a", 3.0, "b", 2.0, "c", 1.0), nil, DefaultWeights())

	assert.Equal(t, []string{"a", "b", "c"}, fusedOrder(results))
	for _, r := range results {
		assert.False(t, r.InBothLists)
		assert.Zero(t, r.SecondaryRank)
	}
}

func TestFuse_OriginalScoresPreserved(t *testing.T) {
	// Raw leg scores ride along so downstream stages can see the BM25 value
	// or cosine similarity that produced a rank.
	results := NewRRFFusion().Fuse(docs("a", 7.25), docs("a", 0.91), DefaultWeights())

	require.Len(t, results, 1)
	assert.Equal(t, 7.25, results[0].PrimaryScore)
	assert.Equal(t, 0.91, results[0].SecondaryScore)
}

func TestFuse_WeightsShiftRanking(t *testing.T) {
	primary := docs("p", 1.0)
	secondary := docs("s", 1.0)

	// Given: all weight on the primary leg
	heavy := NewRRFFusion().Fuse(primary, secondary, Weights{Primary: 1.0, Secondary: 0.0})
	assert.Equal(t, []string{"p", "s"}, fusedOrder(heavy))

	// When: all weight on the secondary leg, the order flips
	flipped := NewRRFFusion().Fuse(primary, secondary, Weights{Primary: 0.0, Secondary: 1.0})
	assert.Equal(t, []string{"s", "p"}, fusedOrder(flipped))
}

func TestFuse_SmallerKSharpensRankGaps(t *testing.T) {
	// With a small k the rank-1 vs rank-2 gap dominates; with the default k
	// it is smoothed. Verify the normalized runner-up score drops as k does.
	primary := docs("a", 2.0, "b", 1.0)

	sharp := NewRRFFusionWithK(1).Fuse(primary, nil, Weights{Primary: 1.0})
	smooth := NewRRFFusion().Fuse(primary, nil, Weights{Primary: 1.0})

	require.Len(t, sharp, 2)
	require.Len(t, smooth, 2)
	assert.Less(t, sharp[1].RRFScore, smooth[1].RRFScore)
}

// =============================================================================
// Tie-breaking
// =============================================================================

func TestFuse_TieBreakByPrimaryScore(t *testing.T) {
	// Symmetric weights give the two single-leg docs identical RRF scores;
	// the primary-leg score decides.
	primary := docs("p", 5.0)
	secondary := docs("s", 0.9)

	results := NewRRFFusion().Fuse(primary, secondary, Weights{Primary: 0.5, Secondary: 0.5})

	require.Len(t, results, 2)
	assert.Equal(t, []string{"p", "s"}, fusedOrder(results))
}

func TestFuse_TieBreakByDocID(t *testing.T) {
	// Identical scores everywhere: the lexicographically smaller id wins so
	// fusion output is deterministic run to run.
	primary := docs("z", 0.0)
	secondary := docs("a", 0.0)

	results := NewRRFFusion().Fuse(primary, secondary, Weights{Primary: 0.5, Secondary: 0.5})

	require.Len(t, results, 2)
	assert.Equal(t, []string{"a", "z"}, fusedOrder(results))
}

func TestFuse_MissingRankPenalty(t *testing.T) {
	// A doc absent from a leg is treated as ranked just past that leg's end,
	// so a long list penalizes absences more than a short one.
	f := NewRRFFusion()
	weights := Weights{Primary: 0.5, Secondary: 0.5}

	primary := docs("a", 1.0, "b", 1.0)
	secondary := docs("b", 1.0, "c", 1.0)

	results := f.Fuse(primary, secondary, weights)
	require.Len(t, results, 3)

	// missing rank = max(2, 2) + 1 = 3
	k := float64(f.K)
	wantB := 0.5/(k+2) + 0.5/(k+1)
	wantA := 0.5/(k+1) + 0.5/(k+3)
	wantC := 0.5/(k+2) + 0.5/(k+3)

	byID := make(map[string]*FusedResult, 3)
	for _, r := range results {
		byID[r.DocID] = r
	}
	// Scores are normalized against the best (b)
	assert.InDelta(t, 1.0, byID["b"].RRFScore, 1e-9)
	assert.InDelta(t, wantA/wantB, byID["a"].RRFScore, 1e-9)
	assert.InDelta(t, wantC/wantB, byID["c"].RRFScore, 1e-9)
}
