package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ragtune/ragtune/internal/errors"
	"github.com/ragtune/ragtune/pkg/ragtune"
)

// Cross-encoder configuration defaults.
const (
	DefaultCrossEncoderEndpoint = "http://localhost:9659"
	DefaultCrossEncoderModel    = "reranker-small"
	DefaultCrossEncoderTimeout  = 30 * time.Second
)

// CrossEncoderConfig holds configuration for the cross-encoder client.
type CrossEncoderConfig struct {
	// Endpoint is the rerank server URL (default: http://localhost:9659).
	Endpoint string

	// Model is the reranker model alias (default: reranker-small).
	Model string

	// Timeout is the per-request timeout (default: 30s).
	Timeout time.Duration

	// Instruction is an optional task instruction passed to the server.
	Instruction string

	// SkipHealthCheck skips the startup health check (for testing).
	SkipHealthCheck bool
}

// DefaultCrossEncoderConfig returns the default cross-encoder configuration.
func DefaultCrossEncoderConfig() CrossEncoderConfig {
	return CrossEncoderConfig{
		Endpoint: DefaultCrossEncoderEndpoint,
		Model:    DefaultCrossEncoderModel,
		Timeout:  DefaultCrossEncoderTimeout,
	}
}

// CrossEncoder scores batches through an HTTP rerank server. A circuit
// breaker fails batches fast while the server is down so the loop degrades
// to retrieval-ordered output instead of stalling on timeouts.
type CrossEncoder struct {
	client   *http.Client
	config   CrossEncoderConfig
	endpoint string
	breaker  *errors.CircuitBreaker
	logger   *slog.Logger
}

var _ ragtune.Reranker = (*CrossEncoder)(nil)

// NewCrossEncoder creates a cross-encoder client and verifies the server is
// reachable unless the config skips the check.
func NewCrossEncoder(ctx context.Context, cfg CrossEncoderConfig) (*CrossEncoder, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultCrossEncoderEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultCrossEncoderModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCrossEncoderTimeout
	}

	r := &CrossEncoder{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config:   cfg,
		endpoint: cfg.Endpoint,
		breaker:  errors.NewCircuitBreaker("cross_encoder", errors.WithMaxFailures(3)),
		logger:   slog.Default(),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := r.healthCheck(checkCtx); err != nil {
			return nil, fmt.Errorf("cross-encoder health check failed: %w", err)
		}
	}

	r.logger.Debug("cross_encoder_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout))

	return r, nil
}

func (r *CrossEncoder) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to rerank server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rerank server unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// rerankRequest is the JSON request to the /rerank endpoint.
type rerankRequest struct {
	Query       string   `json:"query"`
	Documents   []string `json:"documents"`
	Model       string   `json:"model,omitempty"`
	Instruction string   `json:"instruction,omitempty"`
}

// rerankResponse is the JSON response from the /rerank endpoint. Results
// refer to request documents by index.
type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
	Model            string  `json:"model"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// Rerank posts the batch to the rerank server and maps result indices back
// to document ids. Indices outside the batch are ignored; documents the
// server omits stay absent from the result, which drops them upstream.
func (r *CrossEncoder) Rerank(ctx context.Context, items []*ragtune.PoolItem, _ string, rctx *ragtune.RequestContext) (map[string]float64, error) {
	if len(items) == 0 {
		return map[string]float64{}, nil
	}

	var scores map[string]float64
	err := r.breaker.Execute(func() error {
		out, err := r.rerankOnce(ctx, items, rctx)
		if err != nil {
			return err
		}
		scores = out
		return nil
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeRerankFailed, "cross-encoder batch failed", err).
			WithDetail("endpoint", r.endpoint).
			WithDetail("breaker_state", r.breaker.State().String())
	}
	return scores, nil
}

func (r *CrossEncoder) rerankOnce(ctx context.Context, items []*ragtune.PoolItem, rctx *ragtune.RequestContext) (map[string]float64, error) {
	start := time.Now()

	query := ""
	if rctx != nil {
		query = rctx.Query
	}
	documents := make([]string, len(items))
	for i, it := range items {
		documents[i] = it.Content
	}

	reqBody := rerankRequest{
		Query:       query,
		Documents:   documents,
		Model:       r.config.Model,
		Instruction: r.config.Instruction,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scores := make(map[string]float64, len(result.Results))
	for _, res := range result.Results {
		if res.Index < 0 || res.Index >= len(items) {
			r.logger.Warn("rerank result index out of range",
				slog.Int("index", res.Index),
				slog.Int("batch_size", len(items)))
			continue
		}
		scores[items[res.Index].DocID] = res.Score
	}

	r.logger.Debug("cross_encoder_batch",
		slog.Int("doc_count", len(items)),
		slog.Int("scored", len(scores)),
		slog.Duration("total", time.Since(start)),
		slog.Float64("server_time_ms", result.ProcessingTimeMs))

	return scores, nil
}

// Available reports whether the rerank server answers its health endpoint.
func (r *CrossEncoder) Available(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.healthCheck(checkCtx) == nil
}

// Close releases idle connections.
func (r *CrossEncoder) Close() error {
	if transport, ok := r.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
