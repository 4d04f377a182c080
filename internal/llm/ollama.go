package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ragtune/ragtune/internal/errors"
)

// Default Ollama client configuration values.
const (
	DefaultModel   = "llama3.2:1b"
	DefaultTimeout = 10 * time.Second
	DefaultHost    = "http://localhost:11434"
)

// Config holds configuration for the Ollama client.
type Config struct {
	// Model is the Ollama model to use (default: llama3.2:1b).
	Model string

	// Timeout is the maximum time to wait for a response (default: 10s).
	Timeout time.Duration

	// Host is the Ollama API base URL (default: http://localhost:11434).
	Host string

	// MaxRetries is the number of retry attempts for transient failures.
	// Zero disables retries.
	MaxRetries int
}

// DefaultConfig returns sensible defaults for the client.
func DefaultConfig() Config {
	return Config{
		Model:   DefaultModel,
		Timeout: DefaultTimeout,
		Host:    DefaultHost,
	}
}

// Client is a thin Ollama /api/generate client.
type Client struct {
	client *http.Client
	config Config
	retry  errors.RetryConfig
}

// generateRequest is the Ollama /api/generate request body.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse is the Ollama /api/generate response body.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewClient creates a new Ollama client.
func NewClient(config Config) *Client {
	// Apply defaults
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Host == "" {
		config.Host = DefaultHost
	}

	retry := errors.DefaultRetryConfig()
	retry.MaxRetries = config.MaxRetries
	retry.InitialDelay = 200 * time.Millisecond
	retry.MaxDelay = 2 * time.Second

	return &Client{
		client: &http.Client{Timeout: config.Timeout},
		config: config,
		retry:  retry,
	}
}

// Generate sends the prompt to Ollama and returns the raw completion.
// Transient failures are retried with exponential backoff when the client
// was configured with MaxRetries > 0.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.config.MaxRetries <= 0 {
		return c.generate(ctx, prompt)
	}
	return errors.RetryWithResult(ctx, c.retry, func() (string, error) {
		return c.generate(ctx, prompt)
	})
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	reqBody := generateRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		Stream: false,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := c.config.Host + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.NetworkError("ollama request failed", err).
			WithDetail("host", c.config.Host)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return genResp.Response, nil
}

// Available checks if Ollama is reachable.
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	url := c.config.Host + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// ModelName returns the model being used.
func (c *Client) ModelName() string {
	return c.config.Model
}
