package ragtune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Retrieval defaults.
const (
	DefaultOriginalQueryDepth    = 10
	DefaultNumReformulations     = 2
	DefaultDepthPerReformulation = 5
)

// RoundTagOriginal tags provenance from the original-query retrieval;
// rewrites are tagged rewrite_0, rewrite_1, ... in variant order.
const RoundTagOriginal = "original"

// RetrievalConfig shapes the retrieval phases of a run.
type RetrievalConfig struct {
	// OriginalQueryDepth is the top-k for the original-query retrieval.
	OriginalQueryDepth int
	// NumReformulations caps how many query variants are fanned out; 0
	// disables reformulation even when a reformulator is configured.
	NumReformulations int
	// DepthPerReformulation is the top-k for each rewrite retrieval.
	DepthPerReformulation int
	// MaxPoolSize caps the candidate pool after each admission; 0 = unbounded.
	MaxPoolSize int
}

// DefaultRetrievalConfig returns the standard depths.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		OriginalQueryDepth:    DefaultOriginalQueryDepth,
		NumReformulations:     DefaultNumReformulations,
		DepthPerReformulation: DefaultDepthPerReformulation,
	}
}

// ControllerOption configures the Controller.
type ControllerOption func(*Controller)

// WithReformulator enables the reformulation phase.
func WithReformulator(r Reformulator) ControllerOption {
	return func(c *Controller) { c.reformulator = r }
}

// WithFeedback sets an optional stop-condition plugin polled at loop head.
func WithFeedback(f Feedback) ControllerOption {
	return func(c *Controller) { c.feedback = f }
}

// WithRetrieval overrides the retrieval configuration.
func WithRetrieval(cfg RetrievalConfig) ControllerOption {
	return func(c *Controller) { c.retrieval = cfg }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock injects the time source used by the tracker and trace.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller orchestrates one request: reformulation fan-out, the
// estimate/schedule/rerank loop, and assembly. It is the sole mutator of
// pool and budget state; components receive read-only snapshots or copies.
//
// Run is safe for concurrent use as long as the configured components are.
type Controller struct {
	retriever    Retriever
	reranker     Reranker
	estimator    Estimator
	scheduler    Scheduler
	assembler    Assembler
	reformulator Reformulator
	feedback     Feedback

	budget    CostBudget
	retrieval RetrievalConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewController validates the required components and applies options.
func NewController(
	retriever Retriever,
	reranker Reranker,
	estimator Estimator,
	scheduler Scheduler,
	assembler Assembler,
	budget CostBudget,
	opts ...ControllerOption,
) (*Controller, error) {
	if retriever == nil {
		return nil, fmt.Errorf("%w: retriever is required", ErrNilDependency)
	}
	if reranker == nil {
		return nil, fmt.Errorf("%w: reranker is required", ErrNilDependency)
	}
	if estimator == nil {
		return nil, fmt.Errorf("%w: estimator is required", ErrNilDependency)
	}
	if scheduler == nil {
		return nil, fmt.Errorf("%w: scheduler is required", ErrNilDependency)
	}
	if assembler == nil {
		return nil, fmt.Errorf("%w: assembler is required", ErrNilDependency)
	}
	c := &Controller{
		retriever: retriever,
		reranker:  reranker,
		estimator: estimator,
		scheduler: scheduler,
		assembler: assembler,
		budget:    budget,
		retrieval: DefaultRetrievalConfig(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retrieval.OriginalQueryDepth <= 0 {
		c.retrieval.OriginalQueryDepth = DefaultOriginalQueryDepth
	}
	if c.retrieval.DepthPerReformulation <= 0 {
		c.retrieval.DepthPerReformulation = DefaultDepthPerReformulation
	}
	return c, nil
}

// run bundles the per-request state so the phase methods stay small. It
// lives for exactly one Run call.
type run struct {
	c        *Controller
	ctx      context.Context
	rctx     *RequestContext
	pool     *CandidatePool
	tracker  *CostTracker
	trace    *Trace
	rounds   int
	rewrites []string
}

// Run executes the full state machine for one query and returns the ranked,
// token-bounded documents plus the decision trace. Only two error kinds
// escape: IllegalTransitionError (a programming error) and
// FatalRetrievalError (the original retrieval failed). Everything else,
// including cancellation, degrades to a partial but well-formed Output.
func (c *Controller) Run(ctx context.Context, query string) (*Output, error) {
	query = strings.TrimSpace(query)
	start := c.now()

	trace := NewTrace()
	trace.now = c.now
	tracker := NewCostTracker(c.budget, trace)
	tracker.now = c.now
	tracker.start = c.now()

	r := &run{
		c:       c,
		ctx:     ctx,
		rctx:    NewRequestContext(query, tracker),
		pool:    NewCandidatePool(c.retrieval.MaxPoolSize),
		tracker: tracker,
		trace:   trace,
	}

	if err := r.originalRetrieval(); err != nil {
		var fatal *FatalRetrievalError
		if errors.As(err, &fatal) {
			return nil, err
		}
		// Cancellation during the seed retrieval: assemble the (empty) pool.
		return r.finish(start), nil
	}

	if variants := r.reformulate(); len(variants) > 0 {
		r.fanOut(variants)
	}
	r.poolInit()

	if err := r.loop(); err != nil {
		return nil, err
	}
	return r.finish(start), nil
}

// cancelled reports cooperative cancellation without blocking.
func (r *run) cancelled() bool {
	select {
	case <-r.ctx.Done():
		return true
	default:
		return false
	}
}

// cancelExit records the cancellation pair of events.
func (r *run) cancelExit() {
	r.trace.Add("controller", ActionCancelled, nil)
	r.trace.Add("controller", ActionLoopExit, map[string]any{
		"reason": ExitCancelled,
		"rounds": r.rounds,
	})
}

// originalRetrieval seeds the pool from the original query. A failure here
// is the request's error unless it was caused by cancellation.
func (r *run) originalRetrieval() error {
	if r.cancelled() {
		r.cancelExit()
		return context.Cause(r.ctx)
	}
	depth := r.c.retrieval.OriginalQueryDepth
	docs, err := r.c.retriever.Retrieve(r.ctx, r.rctx, depth)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			r.cancelExit()
			return err
		}
		r.trace.Add("retriever", ActionRetrieveError, map[string]any{
			"round": RoundTagOriginal,
			"query": r.rctx.Query,
			"error": err.Error(),
		})
		return &FatalRetrievalError{Query: r.rctx.Query, Trace: r.trace, Err: err}
	}
	// The retrieval already happened, so the charge is accounting only, but
	// going through TryConsume leaves a deny event when retrieval_calls is
	// limited below one.
	_ = r.tracker.TryConsume(ResourceRetrievalCalls, 1)
	stats := r.pool.Admit(docs, RoundTagOriginal, 0)
	r.recordRetrieve(RoundTagOriginal, r.rctx.Query, depth, len(docs), stats)
	return nil
}

// reformulate runs the gated reformulation phase and returns the deduplicated
// variants to fan out. Every early exit leaves a trace explaining it.
func (r *run) reformulate() []string {
	if r.c.reformulator == nil || r.c.retrieval.NumReformulations <= 0 {
		return nil
	}
	if r.cancelled() {
		return nil
	}
	if !r.c.estimator.NeedsReformulation(r.ctx, r.pool, r.rctx) {
		r.trace.Add("controller", ActionReformulateSkipped, map[string]any{
			"reason": "estimator_confident",
		})
		return nil
	}
	if !r.tracker.TryConsume(ResourceReformulations, 1) {
		return nil
	}
	variants, err := r.c.reformulator.Generate(r.ctx, r.rctx)
	if err != nil {
		r.trace.Add("reformulator", ActionReformulateFailed, map[string]any{
			"error": err.Error(),
		})
		r.c.logger.Warn("reformulation failed",
			slog.String("query_id", r.trace.QueryID()),
			slog.String("error", err.Error()))
		return nil
	}

	// The reformulator already filters, but mocks and remote models do not
	// always honor the contract; the run must not re-retrieve the original
	// query or the same variant twice.
	seen := map[string]bool{normalizeQuery(r.rctx.Query): true}
	var out []string
	for _, v := range variants {
		v = strings.TrimSpace(v)
		key := normalizeQuery(v)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
		if len(out) == r.c.retrieval.NumReformulations {
			break
		}
	}
	r.trace.Add("reformulator", ActionReformulate, map[string]any{
		"variants": out,
		"count":    len(out),
	})
	return out
}

// normalizeQuery collapses whitespace for exact-match comparisons.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

// fanOut retrieves each approved variant. Budget approval is sequential so
// the deny point is deterministic; the approved retrievals run in parallel,
// but results are admitted in variant order so round tags and initial ranks
// never depend on completion order.
func (r *run) fanOut(variants []string) {
	approved := make([]string, 0, len(variants))
	for _, v := range variants {
		if !r.tracker.TryConsume(ResourceRetrievalCalls, 1) {
			break
		}
		approved = append(approved, v)
	}
	r.rewrites = approved
	if len(approved) == 0 {
		return
	}

	type variantResult struct {
		docs []ScoredDocument
		err  error
	}
	results := make([]variantResult, len(approved))
	depth := r.c.retrieval.DepthPerReformulation

	g, gctx := errgroup.WithContext(r.ctx)
	for i, v := range approved {
		g.Go(func() error {
			docs, err := r.c.retriever.Retrieve(gctx, r.rctx.WithQuery(v), depth)
			results[i] = variantResult{docs: docs, err: err}
			// Errors are captured per slot; one bad variant must not cancel
			// its siblings.
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		tag := fmt.Sprintf("rewrite_%d", i)
		if res.err != nil {
			r.trace.Add("retriever", ActionRetrieveError, map[string]any{
				"round": tag,
				"query": approved[i],
				"error": res.err.Error(),
			})
			continue
		}
		stats := r.pool.Admit(res.docs, tag, 0)
		r.recordRetrieve(tag, approved[i], depth, len(res.docs), stats)
	}
}

func (r *run) recordRetrieve(tag, query string, requested, returned int, stats AdmitStats) {
	details := map[string]any{
		"round":     tag,
		"query":     query,
		"requested": requested,
		"returned":  returned,
		"added":     stats.Added,
		"merged":    stats.Merged,
	}
	if len(stats.Evicted) > 0 {
		details["evicted"] = len(stats.Evicted)
		r.c.logger.Debug("pool cap evicted candidates",
			slog.String("query_id", r.trace.QueryID()),
			slog.String("round", tag),
			slog.Int("evicted", len(stats.Evicted)))
	}
	r.trace.Add("retriever", ActionRetrieve, details)
}

// poolInit records the post-fan-out pool shape: how much the rewrites
// overlapped the original round and how much genuinely new material they
// contributed.
func (r *run) poolInit() {
	all := r.pool.All()
	var overlap, rewriteOnly int
	for _, it := range all {
		_, fromOriginal := it.Sources[RoundTagOriginal]
		if fromOriginal && len(it.Sources) > 1 {
			overlap++
		}
		if !fromOriginal {
			rewriteOnly++
		}
	}
	ratio := 0.0
	if len(all) > 0 {
		ratio = float64(rewriteOnly) / float64(len(all))
	}
	rewrites := r.rewrites
	if rewrites == nil {
		rewrites = []string{}
	}
	r.trace.Add("controller", ActionPoolInit, map[string]any{
		"count":                 len(all),
		"reformulations":        rewrites,
		"overlap_count":         overlap,
		"rewrite_only_count":    rewriteOnly,
		"rewrite_utility_ratio": ratio,
	})
}

// loop is the iterative estimate/schedule/rerank cycle. It returns an error
// only for programming mistakes (illegal transitions); everything else ends
// with a loop_exit event and a reason.
func (r *run) loop() error {
	estimates := map[string]float64{}
	for {
		if r.cancelled() {
			r.cancelExit()
			return nil
		}
		if r.c.feedback != nil {
			if stop, reason := r.c.feedback.ShouldStop(r.pool, r.tracker.RemainingView(), estimates); stop {
				r.trace.Add("controller", ActionLoopExit, map[string]any{
					"reason":   ExitFeedbackStop,
					"feedback": reason,
					"rounds":   r.rounds,
				})
				return nil
			}
		}

		estimates = r.c.estimator.Value(r.ctx, r.pool, r.rctx)
		r.pool.ApplyPriorities(estimates)
		r.trace.Add("estimator", ActionEstimate, map[string]any{
			"count": len(estimates),
		})

		proposal := r.c.scheduler.SelectBatch(r.pool, r.tracker.RemainingView())
		if proposal == nil || len(proposal.DocIDs) == 0 {
			r.trace.Add("scheduler", ActionNoProposal, nil)
			r.trace.Add("controller", ActionLoopExit, map[string]any{
				"reason": ExitNoProposal,
				"rounds": r.rounds,
			})
			return nil
		}
		r.rounds++
		r.trace.Add("scheduler", ActionProposeBatch, map[string]any{
			"doc_ids":           proposal.DocIDs,
			"strategy":          proposal.Strategy,
			"expected_cost":     map[string]float64(proposal.ExpectedCost),
			"estimated_utility": proposal.EstimatedUtility,
			"round":             r.rounds,
		})

		skipped, err := r.pool.Transition(proposal.DocIDs, StateInFlight)
		if err != nil {
			return err
		}
		if len(skipped) > 0 {
			r.warn("transition", skipped)
		}
		items := r.pool.ItemsFor(proposal.DocIDs)

		scores, rerr := r.c.reranker.Rerank(r.ctx, items, proposal.Strategy, r.rctx)
		if rerr != nil {
			ids := make([]string, 0, len(items))
			for _, it := range items {
				ids = append(ids, it.DocID)
			}
			if _, terr := r.pool.Transition(ids, StateDropped); terr != nil {
				return terr
			}
			r.trace.Add("reranker", ActionRerankError, map[string]any{
				"strategy": proposal.Strategy,
				"doc_ids":  ids,
				"error":    rerr.Error(),
			})
			r.c.logger.Warn("rerank batch failed",
				slog.String("query_id", r.trace.QueryID()),
				slog.String("strategy", proposal.Strategy),
				slog.Int("batch", len(ids)),
				slog.String("error", rerr.Error()))
			// The batch is dropped but nothing was charged; keep looping over
			// what is still eligible.
			continue
		}

		update, uerr := r.pool.UpdateScores(scores, proposal.Strategy)
		if uerr != nil {
			return uerr
		}
		if len(update.Skipped) > 0 {
			r.warn("update_scores", update.Skipped)
		}
		r.trace.Add("reranker", ActionRerankBatch, map[string]any{
			"strategy": proposal.Strategy,
			"scored":   update.Applied,
			"dropped":  update.Dropped,
		})

		// The rerank already happened, so the charge is forced even when it
		// overshoots; the exhaustion check below turns an overshoot into the
		// final round.
		r.tracker.Consume(proposal.ExpectedCost)
		if r.tracker.IsExhausted() {
			r.trace.Add("controller", ActionLoopExit, map[string]any{
				"reason": ExitBudgetExhausted,
				"rounds": r.rounds,
			})
			return nil
		}
	}
}

func (r *run) warn(op string, ids []string) {
	r.trace.Add("pool", ActionWarning, map[string]any{
		"op":          op,
		"unknown_ids": ids,
	})
}

// finish assembles the active items under the remaining token budget and
// packages the output.
func (r *run) finish(start time.Time) *Output {
	active := r.pool.Active()
	docs := r.c.assembler.Assemble(r.ctx, active, r.rctx)
	r.trace.Add("assembler", ActionAssembly, map[string]any{
		"active":   len(active),
		"selected": len(docs),
		"tokens":   r.tracker.Snapshot()[ResourceTokens],
	})

	out := &Output{
		Query:            r.rctx.Query,
		QueryID:          r.trace.QueryID(),
		Documents:        docs,
		Trace:            r.trace.Events(),
		FinalBudgetState: r.tracker.Snapshot(),
	}
	r.c.logger.Info("run complete",
		slog.String("query_id", out.QueryID),
		slog.Int("rounds", r.rounds),
		slog.Int("pool", r.pool.Len()),
		slog.Int("documents", len(docs)),
		slog.Duration("took", r.c.now().Sub(start)))
	return out
}
