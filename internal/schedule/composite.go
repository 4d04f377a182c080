package schedule

import (
	"fmt"

	"github.com/ragtune/ragtune/pkg/ragtune"
)

// MergeRule selects how a composite combines its sub-schedulers' proposals.
type MergeRule string

const (
	// MergeFirst returns the first non-nil proposal in declaration order.
	MergeFirst MergeRule = "first"

	// MergePessimistic lets any stop vote win: if any sub-scheduler declines
	// to propose, the composite declines. When all propose, the first
	// proposal is used, escalated to the expensive tier if any sub-scheduler
	// voted for it.
	MergePessimistic MergeRule = "pessimistic"
)

// Composite polls a list of schedulers in declaration order and merges their
// proposals under the configured rule.
type Composite struct {
	subs  []ragtune.Scheduler
	merge MergeRule
}

var _ ragtune.Scheduler = (*Composite)(nil)

// NewComposite creates a composite over the given schedulers.
func NewComposite(subs []ragtune.Scheduler, merge MergeRule) (*Composite, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("composite scheduler needs at least one sub-scheduler")
	}
	for i, sub := range subs {
		if sub == nil {
			return nil, fmt.Errorf("composite scheduler: sub-scheduler %d is nil", i)
		}
	}
	switch merge {
	case MergeFirst, MergePessimistic:
	case "":
		merge = MergeFirst
	default:
		return nil, fmt.Errorf("composite scheduler: unknown merge rule %q", merge)
	}
	return &Composite{subs: subs, merge: merge}, nil
}

// SelectBatch merges the sub-schedulers' votes.
func (c *Composite) SelectBatch(pool ragtune.PoolView, remaining ragtune.RemainingView) *ragtune.BatchProposal {
	if c.merge == MergeFirst {
		for _, sub := range c.subs {
			if p := sub.SelectBatch(pool, remaining); p != nil && len(p.DocIDs) > 0 {
				return p
			}
		}
		return nil
	}

	proposals := make([]*ragtune.BatchProposal, 0, len(c.subs))
	for _, sub := range c.subs {
		p := sub.SelectBatch(pool, remaining)
		if p == nil || len(p.DocIDs) == 0 {
			// Pessimistic: one stop vote stops the loop.
			return nil
		}
		proposals = append(proposals, p)
	}

	chosen := proposals[0]
	for _, p := range proposals[1:] {
		// An escalation vote from any sub-scheduler wins; the escalating
		// proposal carries the matching cost estimate.
		if p.Strategy == StrategyLLM && chosen.Strategy != StrategyLLM {
			chosen = p
		}
	}
	return chosen
}
