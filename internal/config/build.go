package config

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/ragtune/ragtune/internal/estimate"
	"github.com/ragtune/ragtune/internal/feedback"
	"github.com/ragtune/ragtune/internal/registry"
	"github.com/ragtune/ragtune/internal/retrieve"
	"github.com/ragtune/ragtune/internal/schedule"
	"github.com/ragtune/ragtune/pkg/ragtune"
)

// Pipeline is a runnable ragtune pipeline: the wired controller plus the
// resources its components opened.
type Pipeline struct {
	// Name is the pipeline name from the config.
	Name string

	// Controller runs requests.
	Controller *ragtune.Controller

	// Budget holds the per-request limits the controller charges against.
	Budget ragtune.CostBudget

	closers []io.Closer
}

// Run executes one request through the controller.
func (p *Pipeline) Run(ctx context.Context, query string) (*ragtune.Output, error) {
	return p.Controller.Run(ctx, query)
}

// Close releases component-owned resources: store handles, index files,
// cached embedders. Closes in reverse construction order.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i].Close())
	}
	return errors.Join(errs...)
}

// BuildOption adjusts how Build wires a pipeline.
type BuildOption func(*buildOptions)

type buildOptions struct {
	reg       *registry.Registry
	overrides map[string]float64
	logger    *slog.Logger
}

// WithRegistry builds against a custom component registry instead of the
// built-ins. Callers extending ragtune register their factories there first.
func WithRegistry(reg *registry.Registry) BuildOption {
	return func(o *buildOptions) { o.reg = reg }
}

// WithBudgetOverrides replaces individual budget limits after the config is
// applied. The CLI maps --budget flags here.
func WithBudgetOverrides(limits map[string]float64) BuildOption {
	return func(o *buildOptions) { o.overrides = limits }
}

// WithBuildLogger sets the logger handed to the controller.
func WithBuildLogger(logger *slog.Logger) BuildOption {
	return func(o *buildOptions) { o.logger = logger }
}

// Build wires cfg into a runnable pipeline.
//
// Slots holding a list build composites:
//
//   - retriever: two entries fuse into a hybrid retriever with default
//     weights; use the explicit hybrid type to tune fusion
//   - estimator: entries merge with the mean rule
//   - scheduler: entries merge with the first-proposal rule
//   - feedback: entries gate pessimistically, any stop vote stops the run
//
// A noop reformulator is not wired at all: the controller then skips the
// reformulation phase instead of charging the budget for rewrites that
// return nothing.
//
// The returned pipeline owns every resource its components opened; callers
// must Close it.
func Build(ctx context.Context, cfg *Config, opts ...BuildOption) (*Pipeline, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	bo := buildOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&bo)
	}
	if bo.reg == nil {
		bo.reg = BuiltinRegistry(ctx)
	}

	b := &builder{cfg: cfg, reg: bo.reg}
	p, err := b.assemble(bo)
	if err != nil {
		b.closeAll()
		return nil, err
	}
	return p, nil
}

// builder accumulates components and the resources they opened. A failed
// build closes everything opened so far.
type builder struct {
	cfg     *Config
	reg     *registry.Registry
	closers []io.Closer
}

// track remembers components that hold resources.
func (b *builder) track(v any) {
	if c, ok := v.(io.Closer); ok {
		b.closers = append(b.closers, c)
	}
}

func (b *builder) closeAll() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i].Close()
	}
}

// closeComponent closes v when it holds resources. Used on partial-build
// error paths inside factories, before the builder tracks anything.
func closeComponent(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}

// buildOne resolves and constructs a single component through the registry,
// tracking it for cleanup. Package-level because methods cannot take type
// parameters.
func buildOne[T any](b *builder, category registry.Category, typeName string, params map[string]any) (T, error) {
	v, err := registry.Build[T](b.reg, category, typeName, params)
	if err != nil {
		var zero T
		return zero, err
	}
	b.track(v)
	return v, nil
}

func (b *builder) assemble(bo buildOptions) (*Pipeline, error) {
	limits, err := b.budgetLimits(bo.overrides)
	if err != nil {
		return nil, err
	}

	retriever, err := b.buildRetriever()
	if err != nil {
		return nil, err
	}
	reranker, err := b.buildReranker()
	if err != nil {
		return nil, err
	}
	reformulator, err := b.buildReformulator()
	if err != nil {
		return nil, err
	}
	estimator, err := b.buildEstimator()
	if err != nil {
		return nil, err
	}
	scheduler, err := b.buildScheduler()
	if err != nil {
		return nil, err
	}
	assembler, err := b.buildAssembler()
	if err != nil {
		return nil, err
	}
	gate, err := b.buildFeedback()
	if err != nil {
		return nil, err
	}

	budget := ragtune.NewCostBudget(limits)
	ctrlOpts := []ragtune.ControllerOption{
		ragtune.WithRetrieval(b.retrievalConfig()),
		ragtune.WithLogger(bo.logger),
	}
	if reformulator != nil {
		ctrlOpts = append(ctrlOpts, ragtune.WithReformulator(reformulator))
	}
	if gate != nil {
		ctrlOpts = append(ctrlOpts, ragtune.WithFeedback(gate))
	}

	ctrl, err := ragtune.NewController(retriever, reranker, estimator, scheduler, assembler, budget, ctrlOpts...)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Name:       b.cfg.Pipeline.Name,
		Controller: ctrl,
		Budget:     budget,
		closers:    b.closers,
	}
	b.closers = nil
	return p, nil
}

// budgetLimits merges override limits over the config limits.
func (b *builder) budgetLimits(overrides map[string]float64) (map[string]float64, error) {
	cfgLimits := b.cfg.Pipeline.Budget.Limits
	limits := make(map[string]float64, len(cfgLimits)+len(overrides))
	for k, v := range cfgLimits {
		limits[k] = v
	}
	for k, v := range overrides {
		if v < 0 {
			return nil, invalidBudget("budget override %q is negative (%g)", k, v)
		}
		limits[k] = v
	}
	return limits, nil
}

func (b *builder) retrievalConfig() ragtune.RetrievalConfig {
	r := b.cfg.Pipeline.Retrieval
	return ragtune.RetrievalConfig{
		OriginalQueryDepth:    r.OriginalQueryDepth,
		NumReformulations:     r.NumReformulations,
		DepthPerReformulation: r.DepthPerReformulation,
		MaxPoolSize:           r.MaxPoolSize,
	}
}

func (b *builder) buildRetriever() (ragtune.Retriever, error) {
	specs := b.cfg.Pipeline.Components.Retriever
	switch len(specs) {
	case 0:
		spec := b.withIndexDefaults(ComponentSpec{Type: "bm25"})
		return buildOne[ragtune.Retriever](b, registry.CategoryRetriever, spec.Type, spec.Params)
	case 1:
		spec := b.withIndexDefaults(specs[0])
		return buildOne[ragtune.Retriever](b, registry.CategoryRetriever, spec.Type, spec.Params)
	case 2:
		spec := b.withIndexDefaults(specs[0])
		primary, err := buildOne[ragtune.Retriever](b, registry.CategoryRetriever, spec.Type, spec.Params)
		if err != nil {
			return nil, err
		}
		spec = b.withIndexDefaults(specs[1])
		secondary, err := buildOne[ragtune.Retriever](b, registry.CategoryRetriever, spec.Type, spec.Params)
		if err != nil {
			return nil, err
		}
		// The legs are tracked individually, so the fused retriever is not:
		// closing it would close them a second time.
		return retrieve.NewHybridRetriever(primary, secondary)
	default:
		return nil, configInvalid("components.retriever takes at most 2 entries, got %d", len(specs))
	}
}

func (b *builder) buildReranker() (ragtune.Reranker, error) {
	spec := firstOr(b.cfg.Pipeline.Components.Reranker, "noop")
	return buildOne[ragtune.Reranker](b, registry.CategoryReranker, spec.Type, spec.Params)
}

// buildReformulator returns nil for the noop reformulator so the controller
// skips the phase entirely. The noop is still built once to surface unknown
// params.
func (b *builder) buildReformulator() (ragtune.Reformulator, error) {
	specs := b.cfg.Pipeline.Components.Reformulator
	if len(specs) == 0 {
		return nil, nil
	}
	spec := specs[0]
	r, err := buildOne[ragtune.Reformulator](b, registry.CategoryReformulator, spec.Type, spec.Params)
	if err != nil {
		return nil, err
	}
	if spec.Type == "noop" {
		return nil, nil
	}
	return r, nil
}

func (b *builder) buildEstimator() (ragtune.Estimator, error) {
	specs := b.cfg.Pipeline.Components.Estimator
	switch len(specs) {
	case 0:
		return buildOne[ragtune.Estimator](b, registry.CategoryEstimator, "baseline", nil)
	case 1:
		return buildOne[ragtune.Estimator](b, registry.CategoryEstimator, specs[0].Type, specs[0].Params)
	default:
		subs := make([]ragtune.Estimator, 0, len(specs))
		for _, spec := range specs {
			sub, err := buildOne[ragtune.Estimator](b, registry.CategoryEstimator, spec.Type, spec.Params)
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}
		return estimate.NewComposite(subs, estimate.MergeMean)
	}
}

func (b *builder) buildScheduler() (ragtune.Scheduler, error) {
	specs := b.cfg.Pipeline.Components.Scheduler
	switch len(specs) {
	case 0:
		return buildOne[ragtune.Scheduler](b, registry.CategoryScheduler, "active", nil)
	case 1:
		return buildOne[ragtune.Scheduler](b, registry.CategoryScheduler, specs[0].Type, specs[0].Params)
	default:
		subs := make([]ragtune.Scheduler, 0, len(specs))
		for _, spec := range specs {
			sub, err := buildOne[ragtune.Scheduler](b, registry.CategoryScheduler, spec.Type, spec.Params)
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}
		return schedule.NewComposite(subs, schedule.MergeFirst)
	}
}

func (b *builder) buildAssembler() (ragtune.Assembler, error) {
	spec := firstOr(b.cfg.Pipeline.Components.Assembler, "greedy")
	return buildOne[ragtune.Assembler](b, registry.CategoryAssembler, spec.Type, spec.Params)
}

func (b *builder) buildFeedback() (ragtune.Feedback, error) {
	specs := b.cfg.FeedbackSpecs()
	switch len(specs) {
	case 0:
		return nil, nil
	case 1:
		return buildOne[ragtune.Feedback](b, registry.CategoryFeedback, specs[0].Type, specs[0].Params)
	default:
		subs := make([]ragtune.Feedback, 0, len(specs))
		for _, spec := range specs {
			sub, err := buildOne[ragtune.Feedback](b, registry.CategoryFeedback, spec.Type, spec.Params)
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}
		return feedback.NewComposite(subs)
	}
}

// firstOr returns the first spec or a bare default type.
func firstOr(specs ComponentList, fallback string) ComponentSpec {
	if len(specs) == 0 {
		return ComponentSpec{Type: fallback}
	}
	return specs[0]
}

// withIndexDefaults fills store-backed retriever params from the pipeline's
// index and data sections, so specs only name what they override.
func (b *builder) withIndexDefaults(spec ComponentSpec) ComponentSpec {
	switch spec.Type {
	case "bm25", "vector", "memory":
		spec.Params = b.storeDefaults(spec.Type, spec.Params)
	case "hybrid":
		raw, ok := spec.Params["of"].([]any)
		if !ok {
			return spec
		}
		of := make([]any, len(raw))
		for i, entry := range raw {
			of[i] = b.defaultedEntry(entry)
		}
		params := cloneParams(spec.Params)
		params["of"] = of
		spec.Params = params
	}
	return spec
}

// defaultedEntry applies storeDefaults to one raw hybrid sub-spec, which is
// either a bare type string or a {type, params} mapping.
func (b *builder) defaultedEntry(entry any) any {
	switch v := entry.(type) {
	case string:
		return map[string]any{"type": v, "params": b.storeDefaults(v, nil)}
	case map[string]any:
		typeName, _ := v["type"].(string)
		sub, _ := v["params"].(map[string]any)
		out := cloneParams(v)
		out["params"] = b.storeDefaults(typeName, sub)
		return out
	default:
		return entry
	}
}

// storeDefaults injects index/data settings into params the spec left unset.
func (b *builder) storeDefaults(typeName string, params map[string]any) map[string]any {
	out := cloneParams(params)
	put := func(key, value string) {
		if value == "" {
			return
		}
		if _, present := out[key]; !present {
			out[key] = value
		}
	}

	idx := b.cfg.Pipeline.Index
	switch typeName {
	case "bm25":
		put("index_dir", idx.Dir)
		put("backend", idx.Backend)
	case "vector":
		put("index_dir", idx.Dir)
		put("embedder", idx.Embedder)
		put("model", idx.Model)
	case "memory":
		data := b.cfg.Pipeline.Data
		if data == nil {
			break
		}
		// Inline documents win over the corpus file.
		if _, inline := out["documents"]; inline {
			break
		}
		put("collection_path", data.CollectionPath)
		put("id_field", data.IDField)
		put("text_field", data.TextField)
		if _, present := out["metadata_fields"]; !present && len(data.MetadataFields) > 0 {
			out["metadata_fields"] = data.MetadataFields
		}
	}
	return out
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+4)
	for k, v := range params {
		out[k] = v
	}
	return out
}
