package ragtune

// RequestContext is the per-request value handed to every component: the
// current query, the live tracker, and free-form metadata. The tracker may
// be charged from any component, including retrievers running in the
// parallel fan-out. Copy-on-modify: reformulated queries get a copy with
// the query overridden, never a mutation of the shared value.
type RequestContext struct {
	Query    string
	Tracker  *CostTracker
	Metadata map[string]any
}

// NewRequestContext builds a context for one run.
func NewRequestContext(query string, tracker *CostTracker) *RequestContext {
	return &RequestContext{
		Query:    query,
		Tracker:  tracker,
		Metadata: make(map[string]any),
	}
}

// WithQuery returns a shallow copy with the query replaced. Tracker and
// metadata are shared with the original.
func (c *RequestContext) WithQuery(query string) *RequestContext {
	cp := *c
	cp.Query = query
	return &cp
}
