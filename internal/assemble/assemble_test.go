package assemble

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragtune/ragtune/pkg/ragtune"
)

// ============================================================================
// Test helpers
// ============================================================================

// item builds a reranked pool item whose content estimates to exactly the
// given token count.
func item(id string, tokens int, score float64) *ragtune.PoolItem {
	s := score
	return &ragtune.PoolItem{
		DocID:         id,
		Content:       strings.Repeat("x", tokens*4),
		State:         ragtune.StateReranked,
		Sources:       map[string]float64{"original": 0.1},
		RerankerScore: &s,
	}
}

func requestWithBudget(limits map[string]float64) *ragtune.RequestContext {
	tracker := ragtune.NewCostTracker(ragtune.NewCostBudget(limits), nil)
	return ragtune.NewRequestContext("test query", tracker)
}

// ============================================================================
// Greedy assembly
// ============================================================================

func TestGreedy_IncludesEverythingUnderUnboundedBudget(t *testing.T) {
	items := []*ragtune.PoolItem{item("a", 5, 0.9), item("b", 5, 0.7), item("c", 5, 0.5)}

	docs := NewGreedy().Assemble(context.Background(), items, requestWithBudget(nil))

	require.Len(t, docs, 3)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)
	assert.Equal(t, "c", docs[2].ID)
	assert.Equal(t, 0.9, docs[0].Score)
}

func TestGreedy_SkipsOversizedDocAndContinues(t *testing.T) {
	// Given: 10 tokens of budget; the middle doc alone needs 20
	items := []*ragtune.PoolItem{item("a", 6, 0.9), item("big", 20, 0.8), item("c", 4, 0.7)}
	rctx := requestWithBudget(map[string]float64{ragtune.ResourceTokens: 10})

	// When
	docs := NewGreedy().Assemble(context.Background(), items, rctx)

	// Then: the oversized doc is skipped but the smaller one behind it fits
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "c", docs[1].ID)
}

func TestGreedy_ChargesTokensThroughTracker(t *testing.T) {
	items := []*ragtune.PoolItem{item("a", 6, 0.9), item("b", 3, 0.7)}
	rctx := requestWithBudget(map[string]float64{ragtune.ResourceTokens: 100})

	NewGreedy().Assemble(context.Background(), items, rctx)

	assert.Equal(t, 9.0, rctx.Tracker.Snapshot()[ragtune.ResourceTokens])
}

func TestGreedy_MaxDocsCapsTheList(t *testing.T) {
	items := []*ragtune.PoolItem{item("a", 1, 0.9), item("b", 1, 0.8), item("c", 1, 0.7)}

	docs := NewGreedy(WithMaxDocs(2)).Assemble(context.Background(), items, requestWithBudget(nil))

	require.Len(t, docs, 2)
	assert.Equal(t, []string{"a", "b"}, []string{docs[0].ID, docs[1].ID})
}

func TestGreedy_EmptyInputReturnsEmptyList(t *testing.T) {
	docs := NewGreedy().Assemble(context.Background(), nil, requestWithBudget(nil))

	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestGreedy_ScoreFollowsFinalScorePrecedence(t *testing.T) {
	// An item never reranked falls back to its best retrieval score.
	unreranked := &ragtune.PoolItem{
		DocID:   "raw",
		Content: "still a candidate at assembly time",
		State:   ragtune.StateCandidate,
		Sources: map[string]float64{"original": 0.42, "rewrite_0": 0.3},
	}

	docs := NewGreedy().Assemble(context.Background(), []*ragtune.PoolItem{unreranked}, requestWithBudget(nil))

	require.Len(t, docs, 1)
	assert.Equal(t, 0.42, docs[0].Score)
}

func TestGreedy_MetadataSurvivesAssembly(t *testing.T) {
	it := item("a", 2, 0.9)
	it.Metadata = map[string]any{"path": "docs/guide.md"}

	docs := NewGreedy().Assemble(context.Background(), []*ragtune.PoolItem{it}, requestWithBudget(nil))

	require.Len(t, docs, 1)
	assert.Equal(t, "docs/guide.md", docs[0].Metadata["path"])
}
