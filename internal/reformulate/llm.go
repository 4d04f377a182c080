package reformulate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/ragtune/ragtune/internal/errors"
	"github.com/ragtune/ragtune/internal/llm"
	"github.com/ragtune/ragtune/pkg/ragtune"
)

// LLM reformulator defaults.
const (
	// DefaultMaxVariants caps how many variants one generation yields.
	DefaultMaxVariants = 2

	// DefaultSimilarityThreshold is the case-folded similarity above which
	// two variants count as the same query.
	DefaultSimilarityThreshold = 0.8

	// DefaultMemoSize is the number of query → variants entries memoized
	// across requests.
	DefaultMemoSize = 256
)

// Generator is the completion surface the reformulator needs. The Ollama
// client satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

var _ Generator = (*llm.Client)(nil)

// LLM asks a model for alternative phrasings of the query and filters the
// response down to usable variants: no echo of the original, no blanks, no
// near-duplicates. Identical queries within one process hit a memo instead of
// a second model call; the memo is free, only generations cost budget.
type LLM struct {
	gen         Generator
	maxVariants int
	threshold   float64
	memo        *lru.Cache[string, []string]
	logger      *slog.Logger
}

var _ ragtune.Reformulator = (*LLM)(nil)

// LLMOption configures an LLM reformulator.
type LLMOption func(*LLM)

// WithMaxVariants overrides the variant cap.
func WithMaxVariants(n int) LLMOption {
	return func(l *LLM) {
		if n > 0 {
			l.maxVariants = n
		}
	}
}

// WithSimilarityThreshold overrides the near-duplicate threshold.
func WithSimilarityThreshold(t float64) LLMOption {
	return func(l *LLM) {
		if t > 0 && t <= 1 {
			l.threshold = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LLMOption {
	return func(l *LLM) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLLM creates an LLM reformulator.
func NewLLM(gen Generator, opts ...LLMOption) (*LLM, error) {
	if gen == nil {
		return nil, fmt.Errorf("llm reformulator needs a generator")
	}
	memo, _ := lru.New[string, []string](DefaultMemoSize)
	l := &LLM{
		gen:         gen,
		maxVariants: DefaultMaxVariants,
		threshold:   DefaultSimilarityThreshold,
		memo:        memo,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Generate returns up to maxVariants filtered variants for the context's
// query. Transport and parse failures surface as errors; the controller
// records them and continues with original-only retrieval.
func (l *LLM) Generate(ctx context.Context, rctx *ragtune.RequestContext) ([]string, error) {
	query := ""
	if rctx != nil {
		query = rctx.Query
	}
	key := normalizeWhitespace(query)

	if cached, ok := l.memo.Get(key); ok {
		l.logger.Debug("reformulation memo hit", "query", key)
		return append([]string(nil), cached...), nil
	}

	response, err := l.gen.Generate(ctx, l.buildPrompt(query))
	if err != nil {
		return nil, errors.New(errors.ErrCodeReformulationFailed, "variant generation failed", err)
	}

	raw, err := llm.ExtractStringArray(response)
	if err != nil {
		return nil, errors.New(errors.ErrCodeReformulationFailed, "variant response is not a string array", err)
	}

	variants := l.filter(query, raw)
	l.memo.Add(key, append([]string(nil), variants...))

	l.logger.Debug("reformulation generated",
		"query", key,
		"raw", len(raw),
		"kept", len(variants))

	return variants, nil
}

// filter applies the variant rules in order: drop blanks, drop the original
// (whitespace-normalized match), drop near-duplicates of earlier keepers, cap
// at maxVariants. First occurrence wins throughout.
func (l *LLM) filter(original string, raw []string) []string {
	normalOriginal := strings.ToLower(normalizeWhitespace(original))

	kept := make([]string, 0, l.maxVariants)
	for _, candidate := range raw {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		normalized := strings.ToLower(normalizeWhitespace(candidate))
		if normalized == normalOriginal {
			continue
		}
		duplicate := false
		for _, earlier := range kept {
			if similarity(normalized, strings.ToLower(normalizeWhitespace(earlier))) > l.threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		kept = append(kept, candidate)
		if len(kept) == l.maxVariants {
			break
		}
	}
	return kept
}

func (l *LLM) buildPrompt(query string) string {
	var b strings.Builder
	b.WriteString("Rewrite the search query below into ")
	fmt.Fprintf(&b, "%d", l.maxVariants)
	b.WriteString(" alternative phrasings that could surface documents the original misses.\n")
	b.WriteString("Keep each rewrite short and self-contained. Do not repeat the original.\n\n")
	b.WriteString("Query: ")
	b.WriteString(query)
	b.WriteString("\n\nRespond with ONLY a JSON array of strings. Example: [\"first rewrite\", \"second rewrite\"]\n")
	return b.String()
}

// normalizeWhitespace collapses interior runs of whitespace and trims the
// ends, so cosmetic spacing differences never defeat the original-query and
// memo checks.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// similarity is the character-level sequence match ratio in [0, 1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	matcher := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return matcher.Ratio()
}
