// Package feedback provides optional stop-condition plugins polled at every
// loop head. A feedback that fires ends the run early with its reason in the
// trace; a pipeline without feedback simply runs until the budget or the
// scheduler stops it.
package feedback

import (
	"fmt"
	"math"
	"sync"

	"github.com/ragtune/ragtune/pkg/ragtune"
)

// Stop reasons reported to the trace.
const (
	ReasonTokenFloor = "token_floor_reached"
	ReasonConverged  = "estimates_converged"
)

// Default thresholds.
const (
	// DefaultTokenFloor stops a run whose remaining token budget could no
	// longer pay for a typical document at assembly time.
	DefaultTokenFloor = 100

	// DefaultEpsilon is the per-document estimate delta under which two
	// consecutive rounds count as identical.
	DefaultEpsilon = 0.01
)

// BudgetStop ends the run when the remaining token budget drops below a
// floor. Reranking past that point is wasted work: assembly could not afford
// the documents the extra rounds would promote.
type BudgetStop struct {
	floor float64
}

var _ ragtune.Feedback = (*BudgetStop)(nil)

// BudgetStopOption configures a BudgetStop.
type BudgetStopOption func(*BudgetStop)

// WithTokenFloor overrides the remaining-token floor.
func WithTokenFloor(floor float64) BudgetStopOption {
	return func(b *BudgetStop) {
		if floor > 0 {
			b.floor = floor
		}
	}
}

// NewBudgetStop creates a token-floor feedback.
func NewBudgetStop(opts ...BudgetStopOption) *BudgetStop {
	b := &BudgetStop{floor: DefaultTokenFloor}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ShouldStop fires when tokens are limited and the remaining budget is under
// the floor. Unbounded token budgets never trigger it.
func (b *BudgetStop) ShouldStop(_ ragtune.PoolView, remaining ragtune.RemainingView, _ map[string]float64) (bool, string) {
	if !remaining.Limited(ragtune.ResourceTokens) {
		return false, ""
	}
	if left := remaining.Remaining(ragtune.ResourceTokens); left < b.floor {
		return true, fmt.Sprintf("%s: %.0f remaining", ReasonTokenFloor, left)
	}
	return false, ""
}

// Convergence ends the run when two consecutive rounds produce the same
// priority estimates for the same documents, within epsilon. Stable estimates
// mean further rounds would rerank the same leaders in the same order.
//
// The comparison window resets whenever the controller polls with an empty
// estimate map, which it does at the head of every run, so a shared instance
// does not carry state from one request into the next sequential one.
type Convergence struct {
	epsilon float64

	mu   sync.Mutex
	prev map[string]float64
}

var _ ragtune.Feedback = (*Convergence)(nil)

// ConvergenceOption configures a Convergence.
type ConvergenceOption func(*Convergence)

// WithEpsilon overrides the convergence threshold.
func WithEpsilon(epsilon float64) ConvergenceOption {
	return func(c *Convergence) {
		if epsilon > 0 {
			c.epsilon = epsilon
		}
	}
}

// NewConvergence creates an estimate-stability feedback.
func NewConvergence(opts ...ConvergenceOption) *Convergence {
	c := &Convergence{epsilon: DefaultEpsilon}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ShouldStop compares this round's estimates with the previous round's. It
// fires only when both rounds estimated the same document set and no estimate
// moved by epsilon or more.
func (c *Convergence) ShouldStop(_ ragtune.PoolView, _ ragtune.RemainingView, estimates map[string]float64) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(estimates) == 0 {
		c.prev = nil
		return false, ""
	}

	prev := c.prev
	c.prev = cloneEstimates(estimates)

	if len(prev) != len(estimates) {
		return false, ""
	}
	for id, v := range estimates {
		pv, ok := prev[id]
		if !ok || math.Abs(v-pv) >= c.epsilon {
			return false, ""
		}
	}
	return true, ReasonConverged
}

func cloneEstimates(estimates map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(estimates))
	for id, v := range estimates {
		out[id] = v
	}
	return out
}

// Composite polls feedbacks in order and stops when any of them fires. The
// first firing feedback supplies the reason.
type Composite struct {
	subs []ragtune.Feedback
}

var _ ragtune.Feedback = (*Composite)(nil)

// NewComposite wraps one or more feedbacks into an any-stop composite.
func NewComposite(subs []ragtune.Feedback) (*Composite, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("composite feedback needs at least one sub-feedback")
	}
	for i, s := range subs {
		if s == nil {
			return nil, fmt.Errorf("composite feedback: sub-feedback %d is nil", i)
		}
	}
	return &Composite{subs: subs}, nil
}

// ShouldStop returns the first sub-feedback's stop verdict, if any.
func (c *Composite) ShouldStop(pool ragtune.PoolView, remaining ragtune.RemainingView, estimates map[string]float64) (bool, string) {
	for _, s := range c.subs {
		if stop, reason := s.ShouldStop(pool, remaining, estimates); stop {
			return true, reason
		}
	}
	return false, ""
}
