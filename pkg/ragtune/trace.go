package ragtune

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Trace actions the engine emits. The event stream is sufficient to
// reconstruct every state transition of a run.
const (
	ActionRetrieve           = "retrieve"
	ActionRetrieveError      = "retrieve_error"
	ActionReformulate        = "reformulate"
	ActionReformulateFailed  = "reformulate_failed"
	ActionReformulateSkipped = "reformulate_skipped"
	ActionPoolInit           = "pool_init"
	ActionEstimate           = "estimate"
	ActionProposeBatch       = "propose_batch"
	ActionNoProposal         = "no_proposal"
	ActionRerankBatch        = "rerank_batch"
	ActionRerankError        = "rerank_error"
	ActionBudgetConsume      = "budget_consume"
	ActionBudgetDeny         = "budget_deny"
	ActionAssembly           = "assembly"
	ActionCancelled          = "cancelled"
	ActionLoopExit           = "loop_exit"
	ActionWarning            = "warning"
)

// Loop exit reasons recorded in the loop_exit event details.
const (
	ExitNoProposal      = "no_proposal"
	ExitBudgetExhausted = "budget_exhausted"
	ExitFeedbackStop    = "feedback_stop"
	ExitCancelled       = "cancelled"
)

// TraceEvent is one recorded decision.
type TraceEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Component string         `json:"component"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
}

// Trace is the append-only event log of a single run. It is written only by
// the Controller (the tracker writes through the handle the Controller gave
// it) and read freely after the run completes.
type Trace struct {
	queryID string
	now     func() time.Time

	mu     sync.Mutex
	events []TraceEvent
}

// NewTrace creates an empty trace with a fresh query id.
func NewTrace() *Trace {
	return &Trace{
		queryID: uuid.NewString(),
		now:     time.Now,
	}
}

// QueryID returns the unique id stamped on this run.
func (t *Trace) QueryID() string { return t.queryID }

// Add appends one event.
func (t *Trace) Add(component, action string, details map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, TraceEvent{
		Timestamp: t.now(),
		Component: component,
		Action:    action,
		Details:   details,
	})
}

// Events returns a copy of the recorded events in append order.
func (t *Trace) Events() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEvent, len(t.events))
	copy(out, t.events)
	return out
}

// ByAction returns the recorded events with the given action, in order.
func (t *Trace) ByAction(action string) []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []TraceEvent
	for _, ev := range t.events {
		if ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}

// Len returns the number of recorded events.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// MarshalJSON serializes the trace as {query_id, events}.
func (t *Trace) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		QueryID string       `json:"query_id"`
		Events  []TraceEvent `json:"events"`
	}{QueryID: t.queryID, Events: t.Events()})
}
