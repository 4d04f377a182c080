package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ragtune/ragtune/internal/errors"
	"github.com/ragtune/ragtune/internal/llm"
	"github.com/ragtune/ragtune/pkg/ragtune"
)

// DefaultSnippetChars bounds how much of each document goes into the listwise
// prompt. Whole documents would blow past small local model context windows.
const DefaultSnippetChars = 480

// Generator is the completion surface the listwise reranker needs. The
// Ollama client satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

var _ Generator = (*llm.Client)(nil)

// Listwise asks an LLM to order a whole batch at once and converts the
// returned ranking into scores. It is the expensive escalation tier: one
// generation call per batch, charged in tokens by the scheduler's proposal.
type Listwise struct {
	gen          Generator
	snippetChars int
	logger       *slog.Logger
}

var _ ragtune.Reranker = (*Listwise)(nil)

// ListwiseOption configures a Listwise reranker.
type ListwiseOption func(*Listwise)

// WithSnippetChars overrides the per-document prompt snippet length.
func WithSnippetChars(n int) ListwiseOption {
	return func(l *Listwise) {
		if n > 0 {
			l.snippetChars = n
		}
	}
}

// WithListwiseLogger sets the logger.
func WithListwiseLogger(logger *slog.Logger) ListwiseOption {
	return func(l *Listwise) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewListwise creates a listwise LLM reranker.
func NewListwise(gen Generator, opts ...ListwiseOption) (*Listwise, error) {
	if gen == nil {
		return nil, fmt.Errorf("listwise reranker needs a generator")
	}
	l := &Listwise{
		gen:          gen,
		snippetChars: DefaultSnippetChars,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Rerank prompts for a best-first id ranking and scores position i of n as
// (n-i)/n. Ids the model invents are discarded; batch documents the model
// omits stay absent from the result and are dropped upstream.
func (l *Listwise) Rerank(ctx context.Context, items []*ragtune.PoolItem, _ string, rctx *ragtune.RequestContext) (map[string]float64, error) {
	if len(items) == 0 {
		return map[string]float64{}, nil
	}

	query := ""
	if rctx != nil {
		query = rctx.Query
	}

	response, err := l.gen.Generate(ctx, l.buildPrompt(query, items))
	if err != nil {
		return nil, errors.New(errors.ErrCodeRerankFailed, "listwise generation failed", err)
	}

	ranked, err := llm.ExtractStringArray(response)
	if err != nil {
		return nil, errors.New(errors.ErrCodeRerankFailed, "listwise response is not an id array", err).
			WithDetail("response", truncate(response, 200))
	}

	valid := make(map[string]bool, len(items))
	for _, it := range items {
		valid[it.DocID] = true
	}

	n := len(items)
	scores := make(map[string]float64, n)
	position := 0
	for _, id := range ranked {
		id = strings.TrimSpace(id)
		if !valid[id] {
			continue
		}
		if _, seen := scores[id]; seen {
			continue
		}
		scores[id] = float64(n-position) / float64(n)
		position++
	}

	l.logger.Debug("listwise_batch",
		slog.Int("doc_count", n),
		slog.Int("ranked", len(ranked)),
		slog.Int("scored", len(scores)))

	return scores, nil
}

func (l *Listwise) buildPrompt(query string, items []*ragtune.PoolItem) string {
	var b strings.Builder
	b.WriteString("You are a search result reranker. Order the documents below from most to least relevant to the query.\n\n")
	b.WriteString("Query: ")
	b.WriteString(query)
	b.WriteString("\n\nDocuments:\n")
	for _, it := range items {
		b.WriteString("[")
		b.WriteString(it.DocID)
		b.WriteString("] ")
		b.WriteString(truncate(it.Content, l.snippetChars))
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with ONLY a JSON array of document ids, most relevant first. Example: [\"doc_3\", \"doc_1\", \"doc_2\"]\n")
	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
