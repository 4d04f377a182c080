// Package config loads, validates, and builds ragtune pipeline
// configurations. A config file declares one pipeline: its budget limits,
// retrieval depths, corpus location, and the component graph. The loader is
// strict (unknown keys anywhere in the document are rejected rather than
// silently ignored) and resolves component type strings through the
// component registry, so a config file can name third-party components
// registered before Build.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ragtune/ragtune/internal/errors"
)

// Well-known file and directory names.
const (
	// DefaultConfigName is the config file Load searches for when no path
	// is given.
	DefaultConfigName = "ragtune.yaml"

	// altConfigName is the accepted .yml spelling.
	altConfigName = "ragtune.yml"

	// DefaultIndexDir is where index files live unless the config says
	// otherwise.
	DefaultIndexDir = ".ragtune"

	// DefaultPipelineName labels pipelines that don't name themselves.
	DefaultPipelineName = "default"
)

// Default corpus field mappings.
const (
	DefaultIDField   = "doc_id"
	DefaultTextField = "content"
)

// Config is the root of a ragtune configuration file.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
}

// PipelineConfig describes one retrieval pipeline.
type PipelineConfig struct {
	// Name labels the pipeline in logs, telemetry, and the stats command.
	Name string `yaml:"name" json:"name"`

	// Data points at the corpus to index. Optional: a pipeline built purely
	// from memory retrievers needs no corpus.
	Data *DataConfig `yaml:"data,omitempty" json:"data,omitempty"`

	// Index configures where and how the corpus indexes are stored.
	Index IndexConfig `yaml:"index,omitempty" json:"index,omitempty"`

	// Retrieval sets the fan-out depths for the controller.
	Retrieval RetrievalConfig `yaml:"retrieval,omitempty" json:"retrieval,omitempty"`

	// Budget sets the per-request resource limits.
	Budget BudgetConfig `yaml:"budget,omitempty" json:"budget,omitempty"`

	// Components assigns an implementation to each pipeline slot.
	Components ComponentsConfig `yaml:"components,omitempty" json:"components,omitempty"`

	// Feedback is accepted at the pipeline level as an alternative home for
	// components.feedback. Setting both is an error.
	Feedback ComponentList `yaml:"feedback,omitempty" json:"feedback,omitempty"`
}

// DataConfig locates the corpus and maps its fields to documents. The
// corpus format is JSON Lines: one JSON object per line.
type DataConfig struct {
	// CollectionPath is the corpus file to index.
	CollectionPath string `yaml:"collection_path" json:"collection_path"`

	// IDField is the JSON field holding the document id (default: doc_id).
	IDField string `yaml:"id_field,omitempty" json:"id_field,omitempty"`

	// TextField is the JSON field holding the passage text (default: content).
	TextField string `yaml:"text_field,omitempty" json:"text_field,omitempty"`

	// MetadataFields are JSON fields carried into document metadata
	// (default: [source]).
	MetadataFields []string `yaml:"metadata_fields,omitempty" json:"metadata_fields,omitempty"`
}

// IndexConfig configures the on-disk indexes.
type IndexConfig struct {
	// Dir is the index data directory (default: .ragtune).
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	// Backend selects the BM25 backend: "sqlite" (default) or "bleve".
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty"`

	// Embedder selects the embedding provider for the vector index:
	// "ollama" (default) or "static".
	Embedder string `yaml:"embedder,omitempty" json:"embedder,omitempty"`

	// Model is the embedding model name (empty = provider default).
	Model string `yaml:"model,omitempty" json:"model,omitempty"`
}

// RetrievalConfig sets the controller's retrieval depths.
type RetrievalConfig struct {
	// OriginalQueryDepth is the top-k for the original-query retrieval.
	OriginalQueryDepth int `yaml:"original_query_depth" json:"original_query_depth"`

	// NumReformulations caps the query variants fanned out per request.
	// Zero disables reformulation.
	NumReformulations int `yaml:"num_reformulations" json:"num_reformulations"`

	// DepthPerReformulation is the top-k for each variant retrieval.
	DepthPerReformulation int `yaml:"depth_per_reformulation" json:"depth_per_reformulation"`

	// MaxPoolSize caps the candidate pool; zero means unbounded.
	MaxPoolSize int `yaml:"max_pool_size,omitempty" json:"max_pool_size,omitempty"`
}

// BudgetConfig sets the per-request resource limits. Resources absent from
// Limits are unbounded (but still accounted); a zero value is a real limit,
// not "unlimited".
type BudgetConfig struct {
	Limits map[string]float64 `yaml:"limits" json:"limits"`
}

// ComponentsConfig assigns implementations to the pipeline slots. Each slot
// accepts a bare type name, a {type, params} mapping, or a list of them;
// which slots accept lists, and what a list means, is documented on Build.
type ComponentsConfig struct {
	Retriever    ComponentList `yaml:"retriever,omitempty" json:"retriever,omitempty"`
	Reranker     ComponentList `yaml:"reranker,omitempty" json:"reranker,omitempty"`
	Reformulator ComponentList `yaml:"reformulator,omitempty" json:"reformulator,omitempty"`
	Estimator    ComponentList `yaml:"estimator,omitempty" json:"estimator,omitempty"`
	Scheduler    ComponentList `yaml:"scheduler,omitempty" json:"scheduler,omitempty"`
	Assembler    ComponentList `yaml:"assembler,omitempty" json:"assembler,omitempty"`
	Feedback     ComponentList `yaml:"feedback,omitempty" json:"feedback,omitempty"`
}

// DefaultBudgetLimits returns the default per-request limits. rerank_calls
// and reformulations are deliberately absent: they are accounted but
// unbounded unless the config limits them.
func DefaultBudgetLimits() map[string]float64 {
	return map[string]float64{
		"tokens":          4000,
		"rerank_docs":     50,
		"retrieval_calls": 5,
		"latency_ms":      2000,
	}
}

// DefaultConfig returns a fully-populated default configuration: a BM25
// pipeline over the default index directory with the baseline estimator and
// the active scheduler.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Name: DefaultPipelineName,
			Index: IndexConfig{
				Dir:     DefaultIndexDir,
				Backend: "sqlite",
			},
			Retrieval: RetrievalConfig{
				OriginalQueryDepth:    10,
				NumReformulations:     2,
				DepthPerReformulation: 5,
			},
			Budget: BudgetConfig{
				Limits: DefaultBudgetLimits(),
			},
			Components: ComponentsConfig{
				Retriever:    ComponentList{{Type: "bm25"}},
				Reranker:     ComponentList{{Type: "noop"}},
				Reformulator: ComponentList{{Type: "noop"}},
				Estimator:    ComponentList{{Type: "baseline"}},
				Scheduler:    ComponentList{{Type: "active"}},
				Assembler:    ComponentList{{Type: "greedy"}},
			},
		},
	}
}

// Parse decodes a configuration document over the defaults. Decoding is
// strict: unknown keys fail with their location. Absent sections keep their
// default values; present keys overwrite them, including explicit zeros.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	// A nil limits map after decoding means the document never mentioned
	// budget.limits, so the defaults apply. A document that does set limits
	// replaces the map wholesale: defaults must not leak into an explicit
	// budget.
	cfg.Pipeline.Budget.Limits = nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "config is not valid YAML", err).
			WithSuggestion("run 'ragtune validate' for details")
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Load reads, parses, and validates a configuration file. An empty path
// searches the working directory for ragtune.yaml then ragtune.yml; when
// neither exists the built-in defaults are used. RAGTUNE_* environment
// overrides apply after the file, before validation.
func Load(path string) (*Config, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	var cfg *Config
	if data == nil {
		cfg = DefaultConfig()
	} else {
		cfg, err = Parse(data)
		if err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readConfigFile resolves and reads the config file. Returns nil data when
// no path was given and no default file exists.
func readConfigFile(path string) ([]byte, error) {
	if path == "" {
		for _, name := range []string{DefaultConfigName, altConfigName} {
			if fileExists(name) {
				path = name
				break
			}
		}
		if path == "" {
			return nil, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeConfigNotFound,
				fmt.Sprintf("config file %s not found", path), err).
				WithDetail("path", path).
				WithSuggestion("run 'ragtune init' to create one")
		}
		return nil, errors.New(errors.ErrCodeConfigPermission,
			fmt.Sprintf("cannot read config file %s", path), err).
			WithDetail("path", path)
	}
	return data, nil
}

// applyDefaults fills gaps a partial document left open.
func (c *Config) applyDefaults() {
	p := &c.Pipeline

	if p.Name == "" {
		p.Name = DefaultPipelineName
	}
	if p.Budget.Limits == nil {
		p.Budget.Limits = DefaultBudgetLimits()
	}
	if p.Index.Dir == "" {
		p.Index.Dir = DefaultIndexDir
	}
	if p.Index.Backend == "" {
		p.Index.Backend = "sqlite"
	}
	if p.Data != nil {
		if p.Data.IDField == "" {
			p.Data.IDField = DefaultIDField
		}
		if p.Data.TextField == "" {
			p.Data.TextField = DefaultTextField
		}
		if p.Data.MetadataFields == nil {
			p.Data.MetadataFields = []string{"source"}
		}
	}

	defaults := DefaultConfig().Pipeline.Components
	if len(p.Components.Retriever) == 0 {
		p.Components.Retriever = defaults.Retriever
	}
	if len(p.Components.Reranker) == 0 {
		p.Components.Reranker = defaults.Reranker
	}
	if len(p.Components.Reformulator) == 0 {
		p.Components.Reformulator = defaults.Reformulator
	}
	if len(p.Components.Estimator) == 0 {
		p.Components.Estimator = defaults.Estimator
	}
	if len(p.Components.Scheduler) == 0 {
		p.Components.Scheduler = defaults.Scheduler
	}
	if len(p.Components.Assembler) == 0 {
		p.Components.Assembler = defaults.Assembler
	}
}

// knownBudgetResources are the resources with RAGTUNE_BUDGET_* overrides.
var knownBudgetResources = []string{
	"tokens",
	"rerank_docs",
	"rerank_calls",
	"reformulations",
	"retrieval_calls",
	"latency_ms",
}

// applyEnvOverrides applies RAGTUNE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RAGTUNE_PIPELINE_NAME"); v != "" {
		c.Pipeline.Name = v
	}
	if v := os.Getenv("RAGTUNE_INDEX_DIR"); v != "" {
		c.Pipeline.Index.Dir = v
	}
	if v := os.Getenv("RAGTUNE_BM25_BACKEND"); v != "" {
		c.Pipeline.Index.Backend = v
	}

	for _, resource := range knownBudgetResources {
		key := "RAGTUNE_BUDGET_" + strings.ToUpper(resource)
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		if limit, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && limit >= 0 {
			c.Pipeline.Budget.Limits[resource] = limit
		}
	}
}

// FeedbackSpecs returns the feedback component specs, wherever the document
// put them.
func (c *Config) FeedbackSpecs() ComponentList {
	if len(c.Pipeline.Components.Feedback) > 0 {
		return c.Pipeline.Components.Feedback
	}
	return c.Pipeline.Feedback
}

// Validate checks the configuration for shape errors the decoder cannot
// catch: negative limits, impossible depths, and component lists where a
// slot takes only one component. Type-string resolution happens later, at
// Build time.
func (c *Config) Validate() error {
	p := &c.Pipeline

	for resource, limit := range p.Budget.Limits {
		if limit < 0 {
			return invalidBudget("budget limit %q is negative (%g)", resource, limit)
		}
	}

	if p.Retrieval.OriginalQueryDepth <= 0 {
		return configInvalid("retrieval.original_query_depth must be positive, got %d", p.Retrieval.OriginalQueryDepth)
	}
	if p.Retrieval.NumReformulations < 0 {
		return configInvalid("retrieval.num_reformulations must be >= 0, got %d", p.Retrieval.NumReformulations)
	}
	if p.Retrieval.DepthPerReformulation <= 0 {
		return configInvalid("retrieval.depth_per_reformulation must be positive, got %d", p.Retrieval.DepthPerReformulation)
	}
	if p.Retrieval.MaxPoolSize < 0 {
		return configInvalid("retrieval.max_pool_size must be >= 0, got %d", p.Retrieval.MaxPoolSize)
	}

	if p.Data != nil && p.Data.CollectionPath == "" {
		return configInvalid("data.collection_path is required when a data section is present")
	}

	switch p.Index.Backend {
	case "", "sqlite", "bleve":
	default:
		return configInvalid("index.backend must be sqlite or bleve, got %q", p.Index.Backend)
	}
	switch p.Index.Embedder {
	case "", "ollama", "static":
	default:
		return configInvalid("index.embedder must be ollama or static, got %q", p.Index.Embedder)
	}

	if err := c.validateComponents(); err != nil {
		return err
	}
	return nil
}

// validateComponents checks list cardinality per slot and that every entry
// names a type.
func (c *Config) validateComponents() error {
	p := &c.Pipeline

	if len(p.Feedback) > 0 && len(p.Components.Feedback) > 0 {
		return configInvalid("feedback is configured both at pipeline.feedback and pipeline.components.feedback; pick one")
	}

	slots := []struct {
		name    string
		specs   ComponentList
		maxSize int // 0 = unbounded
	}{
		{"retriever", p.Components.Retriever, 2},
		{"reranker", p.Components.Reranker, 1},
		{"reformulator", p.Components.Reformulator, 1},
		{"estimator", p.Components.Estimator, 0},
		{"scheduler", p.Components.Scheduler, 0},
		{"assembler", p.Components.Assembler, 1},
		{"feedback", c.FeedbackSpecs(), 0},
	}
	for _, slot := range slots {
		if slot.maxSize > 0 && len(slot.specs) > slot.maxSize {
			return configInvalid("components.%s takes at most %d entries, got %d",
				slot.name, slot.maxSize, len(slot.specs))
		}
		for _, spec := range slot.specs {
			if spec.Type == "" {
				return configInvalid("components.%s has an entry without a type", slot.name)
			}
		}
	}
	return nil
}

// configInvalid builds an ERR_102 with a formatted message.
func configInvalid(format string, args ...any) error {
	return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...), nil)
}

// invalidBudget builds an ERR_405 with the standard remediation hint.
func invalidBudget(format string, args ...any) error {
	return errors.New(errors.ErrCodeInvalidBudget, fmt.Sprintf(format, args...), nil).
		WithSuggestion("budget limits must be >= 0; omit a resource to leave it unbounded")
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// fileExists checks that path exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
