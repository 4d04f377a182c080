package config

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ragtune/ragtune/internal/assemble"
	"github.com/ragtune/ragtune/internal/embed"
	"github.com/ragtune/ragtune/internal/estimate"
	"github.com/ragtune/ragtune/internal/feedback"
	"github.com/ragtune/ragtune/internal/index"
	"github.com/ragtune/ragtune/internal/llm"
	"github.com/ragtune/ragtune/internal/reformulate"
	"github.com/ragtune/ragtune/internal/registry"
	"github.com/ragtune/ragtune/internal/rerank"
	"github.com/ragtune/ragtune/internal/retrieve"
	"github.com/ragtune/ragtune/internal/schedule"
	"github.com/ragtune/ragtune/internal/store"
	"github.com/ragtune/ragtune/pkg/ragtune"
)

// RegisterBuiltins installs every built-in component factory into reg. The
// context bounds construction-time work for factories that build network
// clients: embedder probes and the cross-encoder health check.
func RegisterBuiltins(ctx context.Context, reg *registry.Registry) {
	registerRetrievers(ctx, reg)
	registerRerankers(ctx, reg)
	registerReformulators(reg)
	registerEstimators(ctx, reg)
	registerSchedulers(reg)
	registerAssemblers(reg)
	registerFeedback(reg)
}

// BuiltinRegistry returns a fresh registry with every built-in registered.
func BuiltinRegistry(ctx context.Context) *registry.Registry {
	reg := registry.New()
	RegisterBuiltins(ctx, reg)
	return reg
}

// noParams rejects every param key; the slot for components that take none.
func noParams(params map[string]any) error {
	var empty struct{}
	return DecodeParams(params, &empty)
}

// parseTimeout parses an optional duration param like "30s".
func parseTimeout(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", value, err)
	}
	return d, nil
}

// llmClientParams are the Ollama client knobs shared by llm-backed
// components.
type llmClientParams struct {
	Model      string `yaml:"model"`
	Host       string `yaml:"host"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
}

// client builds the Ollama client these params describe.
func (p llmClientParams) client() (*llm.Client, error) {
	timeout, err := parseTimeout(p.Timeout)
	if err != nil {
		return nil, err
	}
	return llm.NewClient(llm.Config{
		Model:      p.Model,
		Host:       p.Host,
		Timeout:    timeout,
		MaxRetries: p.MaxRetries,
	}), nil
}

// ===== Retrievers =====

type memoryDocument struct {
	ID       string         `yaml:"id"`
	Content  string         `yaml:"content"`
	Score    float64        `yaml:"score"`
	Metadata map[string]any `yaml:"metadata"`
}

type memoryRetrieverParams struct {
	// Documents seeds the corpus inline.
	Documents []memoryDocument `yaml:"documents"`

	// CollectionPath loads the corpus from a JSONL file instead; the field
	// mappings mirror the data section and default the same way.
	CollectionPath string   `yaml:"collection_path"`
	IDField        string   `yaml:"id_field"`
	TextField      string   `yaml:"text_field"`
	MetadataFields []string `yaml:"metadata_fields"`
}

type bm25RetrieverParams struct {
	IndexDir string  `yaml:"index_dir"`
	Backend  string  `yaml:"backend"`
	K1       float64 `yaml:"k1"`
	B        float64 `yaml:"b"`
}

type vectorRetrieverParams struct {
	IndexDir   string `yaml:"index_dir"`
	Embedder   string `yaml:"embedder"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	EfSearch   int    `yaml:"ef_search"`
}

type hybridRetrieverParams struct {
	Of              []ComponentSpec `yaml:"of"`
	RRFK            int             `yaml:"rrf_k"`
	PrimaryWeight   float64         `yaml:"primary_weight"`
	SecondaryWeight float64         `yaml:"secondary_weight"`
}

func registerRetrievers(ctx context.Context, reg *registry.Registry) {
	reg.MustRegister(registry.CategoryRetriever, "memory", func(params map[string]any) (any, error) {
		var p memoryRetrieverParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}

		docs := make([]ragtune.ScoredDocument, 0, len(p.Documents))
		if p.CollectionPath != "" {
			corpus, err := index.ReadCorpus(p.CollectionPath, index.FieldMapping{
				IDField:        p.IDField,
				TextField:      p.TextField,
				MetadataFields: p.MetadataFields,
			})
			if err != nil {
				return nil, err
			}
			for _, doc := range corpus {
				docs = append(docs, scoredFromStored(doc))
			}
		}
		for _, d := range p.Documents {
			docs = append(docs, ragtune.ScoredDocument{
				ID:       d.ID,
				Content:  d.Content,
				Metadata: d.Metadata,
				Score:    d.Score,
			})
		}
		if len(docs) == 0 {
			return nil, fmt.Errorf("memory retriever needs documents or a collection_path")
		}
		return retrieve.NewMemoryRetriever(docs), nil
	})

	reg.MustRegister(registry.CategoryRetriever, "bm25", func(params map[string]any) (any, error) {
		var p bm25RetrieverParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.IndexDir == "" {
			p.IndexDir = DefaultIndexDir
		}

		bmCfg := store.DefaultBM25Config()
		if p.K1 > 0 {
			bmCfg.K1 = p.K1
		}
		if p.B > 0 {
			bmCfg.B = p.B
		}

		bm25, err := store.NewBM25IndexWithBackend(store.GetBM25BasePath(p.IndexDir), bmCfg, p.Backend)
		if err != nil {
			return nil, err
		}
		docs, err := store.NewSQLiteDocumentStore(store.GetDocStorePath(p.IndexDir))
		if err != nil {
			_ = bm25.Close()
			return nil, err
		}
		r, err := retrieve.NewBM25Retriever(bm25, docs)
		if err != nil {
			_ = bm25.Close()
			_ = docs.Close()
			return nil, err
		}
		return r, nil
	})

	reg.MustRegister(registry.CategoryRetriever, "vector", func(params map[string]any) (any, error) {
		var p vectorRetrieverParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.IndexDir == "" {
			p.IndexDir = DefaultIndexDir
		}

		embedder, err := embed.NewEmbedder(ctx, embed.ParseProvider(p.Embedder), p.Model)
		if err != nil {
			return nil, err
		}
		docs, err := store.NewSQLiteDocumentStore(store.GetDocStorePath(p.IndexDir))
		if err != nil {
			return nil, err
		}

		dims := p.Dimensions
		if dims <= 0 {
			if v, stateErr := docs.GetState(ctx, store.StateKeyIndexDimension); stateErr == nil && v != "" {
				if n, convErr := strconv.Atoi(v); convErr == nil {
					dims = n
				}
			}
		}
		if dims <= 0 {
			dims = embedder.Dimensions()
		}

		vcfg := store.DefaultVectorStoreConfig(dims)
		if p.EfSearch > 0 {
			vcfg.EfSearch = p.EfSearch
		}
		vectors, err := store.NewHNSWStore(vcfg)
		if err != nil {
			_ = docs.Close()
			return nil, err
		}
		if path := store.GetVectorIndexPath(p.IndexDir); fileExists(path) {
			if err := vectors.Load(path); err != nil {
				_ = docs.Close()
				return nil, fmt.Errorf("load vector index %s: %w", path, err)
			}
		}

		r, err := retrieve.NewVectorRetriever(vectors, embedder, docs)
		if err != nil {
			_ = docs.Close()
			_ = vectors.Close()
			return nil, err
		}
		return r, nil
	})

	reg.MustRegister(registry.CategoryRetriever, "hybrid", func(params map[string]any) (any, error) {
		var p hybridRetrieverParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		if len(p.Of) != 2 {
			return nil, fmt.Errorf("hybrid retriever needs exactly two sub-retrievers in 'of', got %d", len(p.Of))
		}

		primary, err := registry.Build[ragtune.Retriever](reg, registry.CategoryRetriever, p.Of[0].Type, p.Of[0].Params)
		if err != nil {
			return nil, err
		}
		secondary, err := registry.Build[ragtune.Retriever](reg, registry.CategoryRetriever, p.Of[1].Type, p.Of[1].Params)
		if err != nil {
			closeComponent(primary)
			return nil, err
		}

		var opts []retrieve.HybridOption
		if p.RRFK > 0 {
			opts = append(opts, retrieve.WithRRFConstant(p.RRFK))
		}
		if p.PrimaryWeight > 0 || p.SecondaryWeight > 0 {
			opts = append(opts, retrieve.WithWeights(retrieve.Weights{
				Primary:   p.PrimaryWeight,
				Secondary: p.SecondaryWeight,
			}))
		}

		h, err := retrieve.NewHybridRetriever(primary, secondary, opts...)
		if err != nil {
			closeComponent(primary)
			closeComponent(secondary)
			return nil, err
		}
		return h, nil
	})
}

// scoredFromStored converts a stored corpus document into a retrieval seed.
func scoredFromStored(doc *store.Document) ragtune.ScoredDocument {
	var meta map[string]any
	if doc.Title != "" || doc.Source != "" || len(doc.Metadata) > 0 {
		meta = make(map[string]any, len(doc.Metadata)+2)
		if doc.Title != "" {
			meta["title"] = doc.Title
		}
		if doc.Source != "" {
			meta["source"] = doc.Source
		}
		for k, v := range doc.Metadata {
			meta[k] = v
		}
	}
	return ragtune.ScoredDocument{
		ID:       doc.ID,
		Content:  doc.Content,
		Metadata: meta,
	}
}

// ===== Rerankers =====

type crossEncoderParams struct {
	Endpoint        string `yaml:"endpoint"`
	Model           string `yaml:"model"`
	Timeout         string `yaml:"timeout"`
	Instruction     string `yaml:"instruction"`
	SkipHealthCheck bool   `yaml:"skip_health_check"`
}

type llmRerankerParams struct {
	llmClientParams `yaml:",inline"`
	SnippetChars    int `yaml:"snippet_chars"`
}

type tieredRerankerParams struct {
	Fallback ComponentSpec            `yaml:"fallback"`
	Tiers    map[string]ComponentSpec `yaml:"tiers"`
}

func registerRerankers(ctx context.Context, reg *registry.Registry) {
	reg.MustRegister(registry.CategoryReranker, "noop", func(params map[string]any) (any, error) {
		if err := noParams(params); err != nil {
			return nil, err
		}
		return rerank.NewNoop(), nil
	})

	reg.MustRegister(registry.CategoryReranker, "lexical", func(params map[string]any) (any, error) {
		if err := noParams(params); err != nil {
			return nil, err
		}
		return rerank.NewLexical(), nil
	})

	reg.MustRegister(registry.CategoryReranker, "cross_encoder", func(params map[string]any) (any, error) {
		var p crossEncoderParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		timeout, err := parseTimeout(p.Timeout)
		if err != nil {
			return nil, err
		}
		return rerank.NewCrossEncoder(ctx, rerank.CrossEncoderConfig{
			Endpoint:        p.Endpoint,
			Model:           p.Model,
			Timeout:         timeout,
			Instruction:     p.Instruction,
			SkipHealthCheck: p.SkipHealthCheck,
		})
	})

	reg.MustRegister(registry.CategoryReranker, "llm", func(params map[string]any) (any, error) {
		var p llmRerankerParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		client, err := p.client()
		if err != nil {
			return nil, err
		}
		var opts []rerank.ListwiseOption
		if p.SnippetChars > 0 {
			opts = append(opts, rerank.WithSnippetChars(p.SnippetChars))
		}
		return rerank.NewListwise(client, opts...)
	})

	reg.MustRegister(registry.CategoryReranker, "tiered", func(params map[string]any) (any, error) {
		var p tieredRerankerParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Fallback.Type == "" {
			return nil, fmt.Errorf("tiered reranker needs a fallback spec")
		}

		fallback, err := registry.Build[ragtune.Reranker](reg, registry.CategoryReranker, p.Fallback.Type, p.Fallback.Params)
		if err != nil {
			return nil, err
		}
		tiers := make(map[string]ragtune.Reranker, len(p.Tiers))
		for tag, spec := range p.Tiers {
			tier, err := registry.Build[ragtune.Reranker](reg, registry.CategoryReranker, spec.Type, spec.Params)
			if err != nil {
				closeComponent(fallback)
				for _, built := range tiers {
					closeComponent(built)
				}
				return nil, err
			}
			tiers[tag] = tier
		}
		return rerank.NewTiered(fallback, tiers)
	})
}

// ===== Reformulators =====

type staticReformulatorParams struct {
	Templates []string `yaml:"templates"`
}

type llmReformulatorParams struct {
	llmClientParams     `yaml:",inline"`
	MaxVariants         int     `yaml:"max_variants"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

func registerReformulators(reg *registry.Registry) {
	reg.MustRegister(registry.CategoryReformulator, "noop", func(params map[string]any) (any, error) {
		if err := noParams(params); err != nil {
			return nil, err
		}
		return reformulate.NewNoop(), nil
	})

	reg.MustRegister(registry.CategoryReformulator, "static", func(params map[string]any) (any, error) {
		var p staticReformulatorParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return reformulate.NewStatic(p.Templates), nil
	})

	reg.MustRegister(registry.CategoryReformulator, "llm", func(params map[string]any) (any, error) {
		var p llmReformulatorParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		client, err := p.client()
		if err != nil {
			return nil, err
		}
		var opts []reformulate.LLMOption
		if p.MaxVariants > 0 {
			opts = append(opts, reformulate.WithMaxVariants(p.MaxVariants))
		}
		if p.SimilarityThreshold > 0 {
			opts = append(opts, reformulate.WithSimilarityThreshold(p.SimilarityThreshold))
		}
		return reformulate.NewLLM(client, opts...)
	})
}

// ===== Estimators =====

type baselineEstimatorParams struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

type similarityEstimatorParams struct {
	Embedder            string   `yaml:"embedder"`
	Model               string   `yaml:"model"`
	WinnerThreshold     *float64 `yaml:"winner_threshold"`
	BoostWeight         *float64 `yaml:"boost_weight"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
}

type compositeParams struct {
	Merge string          `yaml:"merge"`
	Of    []ComponentSpec `yaml:"of"`
}

func registerEstimators(ctx context.Context, reg *registry.Registry) {
	reg.MustRegister(registry.CategoryEstimator, "baseline", func(params map[string]any) (any, error) {
		var p baselineEstimatorParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return estimate.NewBaseline(estimate.WithConfidenceThreshold(p.ConfidenceThreshold)), nil
	})

	reg.MustRegister(registry.CategoryEstimator, "similarity", func(params map[string]any) (any, error) {
		var p similarityEstimatorParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		embedder, err := embed.NewEmbedder(ctx, embed.ParseProvider(p.Embedder), p.Model)
		if err != nil {
			return nil, err
		}
		var opts []estimate.SimilarityOption
		if p.WinnerThreshold != nil {
			opts = append(opts, estimate.WithWinnerThreshold(*p.WinnerThreshold))
		}
		if p.BoostWeight != nil {
			opts = append(opts, estimate.WithBoostWeight(*p.BoostWeight))
		}
		if p.ConfidenceThreshold > 0 {
			opts = append(opts, estimate.WithSimilarityConfidence(p.ConfidenceThreshold))
		}
		return estimate.NewSimilarity(embedder, opts...), nil
	})

	reg.MustRegister(registry.CategoryEstimator, "composite", func(params map[string]any) (any, error) {
		var p compositeParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		subs := make([]ragtune.Estimator, 0, len(p.Of))
		for _, spec := range p.Of {
			sub, err := registry.Build[ragtune.Estimator](reg, registry.CategoryEstimator, spec.Type, spec.Params)
			if err != nil {
				for _, built := range subs {
					closeComponent(built)
				}
				return nil, err
			}
			subs = append(subs, sub)
		}
		return estimate.NewComposite(subs, estimate.MergeRule(p.Merge))
	})
}

// ===== Schedulers =====

type activeSchedulerParams struct {
	BatchSize         int      `yaml:"batch_size"`
	ConfidenceGap     *float64 `yaml:"confidence_gap"`
	MinEscalationPool int      `yaml:"min_escalation_pool"`
	CheapStrategy     string   `yaml:"cheap_strategy"`
	ExpensiveStrategy string   `yaml:"expensive_strategy"`
}

func registerSchedulers(reg *registry.Registry) {
	reg.MustRegister(registry.CategoryScheduler, "active", func(params map[string]any) (any, error) {
		var p activeSchedulerParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		var opts []schedule.ActiveOption
		if p.BatchSize > 0 {
			opts = append(opts, schedule.WithBatchSize(p.BatchSize))
		}
		if p.ConfidenceGap != nil {
			opts = append(opts, schedule.WithConfidenceGap(*p.ConfidenceGap))
		}
		if p.MinEscalationPool > 0 {
			opts = append(opts, schedule.WithMinEscalationPool(p.MinEscalationPool))
		}
		if p.CheapStrategy != "" || p.ExpensiveStrategy != "" {
			opts = append(opts, schedule.WithStrategies(p.CheapStrategy, p.ExpensiveStrategy))
		}
		return schedule.NewActive(opts...), nil
	})

	reg.MustRegister(registry.CategoryScheduler, "composite", func(params map[string]any) (any, error) {
		var p compositeParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		subs := make([]ragtune.Scheduler, 0, len(p.Of))
		for _, spec := range p.Of {
			sub, err := registry.Build[ragtune.Scheduler](reg, registry.CategoryScheduler, spec.Type, spec.Params)
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}
		return schedule.NewComposite(subs, schedule.MergeRule(p.Merge))
	})
}

// ===== Assemblers =====

type greedyAssemblerParams struct {
	MaxDocs int `yaml:"max_docs"`
}

func registerAssemblers(reg *registry.Registry) {
	reg.MustRegister(registry.CategoryAssembler, "greedy", func(params map[string]any) (any, error) {
		var p greedyAssemblerParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		var opts []assemble.GreedyOption
		if p.MaxDocs > 0 {
			opts = append(opts, assemble.WithMaxDocs(p.MaxDocs))
		}
		return assemble.NewGreedy(opts...), nil
	})
}

// ===== Feedback =====

type budgetStopParams struct {
	TokenFloor float64 `yaml:"token_floor"`
}

type convergenceParams struct {
	Epsilon float64 `yaml:"epsilon"`
}

func registerFeedback(reg *registry.Registry) {
	reg.MustRegister(registry.CategoryFeedback, "budget_stop", func(params map[string]any) (any, error) {
		var p budgetStopParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return feedback.NewBudgetStop(feedback.WithTokenFloor(p.TokenFloor)), nil
	})

	reg.MustRegister(registry.CategoryFeedback, "convergence", func(params map[string]any) (any, error) {
		var p convergenceParams
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return feedback.NewConvergence(feedback.WithEpsilon(p.Epsilon)), nil
	})
}
