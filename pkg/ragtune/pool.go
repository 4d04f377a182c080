package ragtune

import "sort"

// PoolView is the read-only surface pure components receive. The concrete
// *CandidatePool implements it; mutating operations exist only on the
// concrete type, which only the Controller holds.
type PoolView interface {
	// All returns every item in insertion order.
	All() []*PoolItem
	// Eligible returns the CANDIDATE items in insertion order.
	Eligible() []*PoolItem
	// Active returns CANDIDATE and RERANKED items sorted by final score desc,
	// then initial rank asc, then doc id asc.
	Active() []*PoolItem
	// Get looks an item up by doc id.
	Get(docID string) (*PoolItem, bool)
	// ItemsFor resolves ids in the given order, skipping unknown ones.
	ItemsFor(docIDs []string) []*PoolItem
	// Len returns the item count.
	Len() int
	// StateCounts returns how many items sit in each state.
	StateCounts() map[ItemState]int
}

// CandidatePool is the exclusive owner of all PoolItems for one request.
// Lookup is O(1) by doc id and insertion order is preserved for
// reproducibility. Once admitted a doc id is never removed, with one
// exception: cap eviction of CANDIDATE items (see Admit).
type CandidatePool struct {
	items   map[string]*PoolItem
	order   []string
	maxSize int
}

var _ PoolView = (*CandidatePool)(nil)

// NewCandidatePool creates an empty pool. maxSize caps the item count after
// each admission; 0 means unbounded.
func NewCandidatePool(maxSize int) *CandidatePool {
	return &CandidatePool{
		items:   make(map[string]*PoolItem),
		maxSize: maxSize,
	}
}

// Admit creates or merges one item per document. New documents start as
// CANDIDATE with initial_rank = baseRank + offset. Re-admissions merge
// provenance: sources[roundTag] keeps the max of duplicate scores,
// appearances is incremented, initial_rank keeps the minimum, and state is
// untouched. When a cap is set, the lowest-valued CANDIDATE items beyond it
// are evicted (ordered by max source desc, doc id asc); items already
// scheduled or scored are exempt.
func (p *CandidatePool) Admit(docs []ScoredDocument, roundTag string, baseRank int) AdmitStats {
	var stats AdmitStats
	for offset, doc := range docs {
		rank := baseRank + offset
		if it, ok := p.items[doc.ID]; ok {
			if prev, dup := it.Sources[roundTag]; !dup || doc.Score > prev {
				it.Sources[roundTag] = doc.Score
			}
			it.Appearances++
			if rank < it.InitialRank {
				it.InitialRank = rank
			}
			stats.Merged++
			continue
		}
		p.items[doc.ID] = &PoolItem{
			DocID:       doc.ID,
			Content:     doc.Content,
			Metadata:    doc.Metadata,
			State:       StateCandidate,
			Sources:     map[string]float64{roundTag: doc.Score},
			InitialRank: rank,
			Appearances: 1,
		}
		p.order = append(p.order, doc.ID)
		stats.Added++
	}
	stats.Evicted = p.enforceCap()
	return stats
}

// enforceCap removes over-cap CANDIDATE items, keeping the top maxSize ids by
// (max source desc, doc id asc). Non-candidate items are never evicted, so
// the pool may stay above the cap while batches are in flight or scored.
func (p *CandidatePool) enforceCap() []string {
	if p.maxSize <= 0 || len(p.order) <= p.maxSize {
		return nil
	}
	ranked := make([]string, len(p.order))
	copy(ranked, p.order)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := p.items[ranked[i]], p.items[ranked[j]]
		sa, sb := a.MaxSource(), b.MaxSource()
		if sa != sb {
			return sa > sb
		}
		return a.DocID < b.DocID
	})

	var evicted []string
	for _, id := range ranked[p.maxSize:] {
		if p.items[id].State != StateCandidate {
			continue
		}
		delete(p.items, id)
		evicted = append(evicted, id)
	}
	if len(evicted) == 0 {
		return nil
	}
	kept := p.order[:0]
	for _, id := range p.order {
		if _, ok := p.items[id]; ok {
			kept = append(kept, id)
		}
	}
	p.order = kept
	return evicted
}

// Transition moves the given ids to the target state. Validation happens
// before any mutation: if any known id's current state makes the move
// illegal, an IllegalTransitionError is returned and nothing changes.
// Unknown ids are skipped and reported to the caller.
func (p *CandidatePool) Transition(docIDs []string, target ItemState) (skipped []string, err error) {
	apply := make([]*PoolItem, 0, len(docIDs))
	for _, id := range docIDs {
		it, ok := p.items[id]
		if !ok {
			skipped = append(skipped, id)
			continue
		}
		if !legalTransitions[it.State][target] {
			return nil, &IllegalTransitionError{DocID: id, From: it.State, To: target}
		}
		apply = append(apply, it)
	}
	for _, it := range apply {
		it.State = target
	}
	return skipped, nil
}

// UpdateScores applies a rerank result. Every scored id must currently be
// IN_FLIGHT; a known id in any other state fails the whole call atomically.
// Unknown ids are skipped and reported. After the scores are applied, any
// item still IN_FLIGHT is transitioned to DROPPED: a reranker that omits an
// id from its result has declared it not worth keeping.
func (p *CandidatePool) UpdateScores(scores map[string]float64, strategy string) (*ScoreUpdate, error) {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	update := &ScoreUpdate{}
	apply := make([]*PoolItem, 0, len(ids))
	for _, id := range ids {
		it, ok := p.items[id]
		if !ok {
			update.Skipped = append(update.Skipped, id)
			continue
		}
		if it.State != StateInFlight {
			return nil, &IllegalTransitionError{DocID: id, From: it.State, To: StateReranked}
		}
		apply = append(apply, it)
	}
	for _, it := range apply {
		score := scores[it.DocID]
		it.RerankerScore = &score
		it.RerankerStrategy = strategy
		it.State = StateReranked
		update.Applied = append(update.Applied, it.DocID)
	}
	for _, id := range p.order {
		if it := p.items[id]; it.State == StateInFlight {
			it.State = StateDropped
			update.Dropped = append(update.Dropped, id)
		}
	}
	return update, nil
}

// ApplyPriorities writes estimator values onto CANDIDATE items. Other states
// and unknown ids are silently ignored, which keeps estimators pure:
// whatever domain they return, only eligible items change. Idempotent for a
// fixed eligible set.
func (p *CandidatePool) ApplyPriorities(priorities map[string]float64) {
	for id, v := range priorities {
		if it, ok := p.items[id]; ok && it.State == StateCandidate {
			it.PriorityValue = v
		}
	}
}

// All returns every item in insertion order.
func (p *CandidatePool) All() []*PoolItem {
	out := make([]*PoolItem, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.items[id])
	}
	return out
}

// Eligible returns the CANDIDATE items in insertion order.
func (p *CandidatePool) Eligible() []*PoolItem {
	var out []*PoolItem
	for _, id := range p.order {
		if it := p.items[id]; it.State == StateCandidate {
			out = append(out, it)
		}
	}
	return out
}

// Active returns CANDIDATE and RERANKED items in final ranking order:
// final score desc, initial rank asc, doc id asc.
func (p *CandidatePool) Active() []*PoolItem {
	var out []*PoolItem
	for _, id := range p.order {
		if it := p.items[id]; it.State == StateCandidate || it.State == StateReranked {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].FinalScore(), out[j].FinalScore()
		if si != sj {
			return si > sj
		}
		if out[i].InitialRank != out[j].InitialRank {
			return out[i].InitialRank < out[j].InitialRank
		}
		return out[i].DocID < out[j].DocID
	})
	return out
}

// Get looks an item up by doc id.
func (p *CandidatePool) Get(docID string) (*PoolItem, bool) {
	it, ok := p.items[docID]
	return it, ok
}

// ItemsFor resolves ids in the given order, skipping unknown ones.
func (p *CandidatePool) ItemsFor(docIDs []string) []*PoolItem {
	out := make([]*PoolItem, 0, len(docIDs))
	for _, id := range docIDs {
		if it, ok := p.items[id]; ok {
			out = append(out, it)
		}
	}
	return out
}

// Len returns the item count.
func (p *CandidatePool) Len() int { return len(p.items) }

// StateCounts returns how many items sit in each state.
func (p *CandidatePool) StateCounts() map[ItemState]int {
	out := make(map[ItemState]int, 4)
	for _, it := range p.items {
		out[it.State]++
	}
	return out
}
