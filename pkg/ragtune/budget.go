package ragtune

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Resource names recognized by the engine. The tracker's resource map is
// open: arbitrary user-defined keys are accounted too, but only the
// hard-stop set below terminates the loop.
const (
	ResourceTokens         = "tokens"
	ResourceRerankDocs     = "rerank_docs"
	ResourceRerankCalls    = "rerank_calls"
	ResourceReformulations = "reformulations"
	ResourceRetrievalCalls = "retrieval_calls"
	ResourceLatencyMS      = "latency_ms"
)

// hardStopResources exhaust the run when their remaining budget reaches zero.
var hardStopResources = []string{
	ResourceTokens,
	ResourceRerankDocs,
	ResourceRerankCalls,
	ResourceLatencyMS,
}

// CostBudget maps resource names to limits. Resources without an entry are
// unbounded. latency_ms is a wall-clock deadline in milliseconds; everything
// else is a count.
type CostBudget struct {
	Limits map[string]float64
}

// NewCostBudget copies limits into a budget. A nil map means everything is
// unbounded.
func NewCostBudget(limits map[string]float64) CostBudget {
	out := make(map[string]float64, len(limits))
	for k, v := range limits {
		out[k] = v
	}
	return CostBudget{Limits: out}
}

// Limit reports the configured limit for a resource.
func (b CostBudget) Limit(resource string) (float64, bool) {
	v, ok := b.Limits[resource]
	return v, ok
}

// CostTracker is the request-scoped ledger. It never returns an error:
// exhaustion is answered with a boolean and a trace event, and the caller
// chooses what to do next. Usage is monotone per resource and is accounted
// even for unbounded resources so the final snapshot explains the full spend.
//
// Pure components see RemainingView snapshots, but the RequestContext hands
// retrievers the live tracker, including during parallel fan-out, so every
// method is safe for concurrent use.
type CostTracker struct {
	budget CostBudget
	trace  *Trace
	start  time.Time
	now    func() time.Time

	mu   sync.Mutex
	used map[string]float64
}

// NewCostTracker creates a tracker that records consume/deny events on trace.
func NewCostTracker(budget CostBudget, trace *Trace) *CostTracker {
	t := &CostTracker{
		budget: budget,
		used:   make(map[string]float64),
		trace:  trace,
		now:    time.Now,
	}
	t.start = t.now()
	return t
}

// touch refreshes the live latency charge. Elapsed time is charged on every
// check so latency usage is visible without an explicit consume. The caller
// must hold mu.
func (t *CostTracker) touch() {
	elapsed := t.elapsedMS()
	if elapsed > t.used[ResourceLatencyMS] {
		t.used[ResourceLatencyMS] = elapsed
	}
}

func (t *CostTracker) elapsedMS() float64 {
	return float64(t.now().Sub(t.start)) / float64(time.Millisecond)
}

// Elapsed returns wall time since the tracker was built.
func (t *CostTracker) Elapsed() time.Duration {
	return t.now().Sub(t.start)
}

// TryConsume checks then adds: if used + amount stays within the limit the
// charge is applied and true is returned; otherwise nothing is charged, a
// budget_deny event is recorded, and false is returned. Unset limits are
// unbounded (the charge is still accounted). latency_ms is live: the amount
// is ignored and the check passes while elapsed time is under the deadline.
func (t *CostTracker) TryConsume(resource string, amount float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()

	if resource == ResourceLatencyMS {
		limit, ok := t.budget.Limit(resource)
		if ok && t.elapsedMS() >= limit {
			t.deny(resource, amount, 0)
			return false
		}
		return true
	}

	limit, ok := t.budget.Limit(resource)
	if !ok {
		t.used[resource] += amount
		t.consumed(resource, amount)
		return true
	}
	if t.used[resource]+amount > limit {
		t.deny(resource, amount, math.Max(0, limit-t.used[resource]))
		return false
	}
	t.used[resource] += amount
	t.consumed(resource, amount)
	return true
}

// Consume force-charges a multi-resource cost with no limit check. The
// Controller uses it for the post-rerank charge: the batch already ran, so
// the spend is real even when it overshoots a limit. The tracker never
// clamps; IsExhausted picks the overage up at the next loop boundary.
func (t *CostTracker) Consume(cost Cost) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()
	if len(cost) == 0 {
		return
	}
	names := make([]string, 0, len(cost))
	for r := range cost {
		names = append(names, r)
	}
	sort.Strings(names)
	for _, r := range names {
		t.used[r] += cost[r]
	}
	if t.trace != nil {
		t.trace.Add("budget", ActionBudgetConsume, map[string]any{
			"cost":   map[string]float64(cost.Clone()),
			"forced": true,
		})
	}
}

func (t *CostTracker) consumed(resource string, amount float64) {
	if t.trace == nil {
		return
	}
	t.trace.Add("budget", ActionBudgetConsume, map[string]any{
		"resource": resource,
		"amount":   amount,
		"used":     t.used[resource],
	})
}

func (t *CostTracker) deny(resource string, requested, remaining float64) {
	if t.trace == nil {
		return
	}
	t.trace.Add("budget", ActionBudgetDeny, map[string]any{
		"resource":  resource,
		"requested": requested,
		"remaining": remaining,
	})
}

// IsExhausted reports whether any hard-stop resource has zero remaining
// budget, or the latency deadline has elapsed.
func (t *CostTracker) IsExhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()
	for _, r := range hardStopResources {
		limit, ok := t.budget.Limit(r)
		if !ok {
			continue
		}
		if r == ResourceLatencyMS {
			if t.elapsedMS() >= limit {
				return true
			}
			continue
		}
		if limit-t.used[r] <= 0 {
			return true
		}
	}
	return false
}

// RemainingView returns an immutable snapshot of remaining budgets.
func (t *CostTracker) RemainingView() RemainingView {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()
	remaining := make(map[string]float64, len(t.budget.Limits))
	for r, limit := range t.budget.Limits {
		remaining[r] = math.Max(0, limit-t.used[r])
	}
	return RemainingView{remaining: remaining}
}

// Snapshot returns a copy of the full usage ledger, including unbounded and
// user-defined resources and the live latency charge.
func (t *CostTracker) Snapshot() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()
	out := make(map[string]float64, len(t.used))
	for r, v := range t.used {
		out[r] = v
	}
	return out
}

// RemainingView is an immutable snapshot handed to pure components. The zero
// value treats every resource as unbounded.
type RemainingView struct {
	remaining map[string]float64
}

// Remaining returns the remaining budget for a resource, or +Inf when the
// resource is unbounded.
func (v RemainingView) Remaining(resource string) float64 {
	if r, ok := v.remaining[resource]; ok {
		return r
	}
	return math.Inf(1)
}

// Limited reports whether the resource has a configured limit.
func (v RemainingView) Limited(resource string) bool {
	_, ok := v.remaining[resource]
	return ok
}

// AsMap copies the limited resources and their remaining budgets.
func (v RemainingView) AsMap() map[string]float64 {
	out := make(map[string]float64, len(v.remaining))
	for r, rem := range v.remaining {
		out[r] = rem
	}
	return out
}
