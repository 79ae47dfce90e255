package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// OpenAI API constants
const (
	// DefaultOpenAIBaseURL is the default OpenAI API endpoint
	DefaultOpenAIBaseURL = "https://api.openai.com"

	// DefaultOpenAIModel is the default OpenAI embedding model
	DefaultOpenAIModel = "text-embedding-3-small"

	// EnvOpenAIAPIKey is the preferred environment variable for the API key
	EnvOpenAIAPIKey = "REPOQA_OPENAI_API_KEY"

	// EnvOpenAIAPIKeyStd is the conventional variable most tooling sets
	EnvOpenAIAPIKeyStd = "OPENAI_API_KEY"
)

// openAIModelDimensions maps known embedding models to their output width.
var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig configures the OpenAI embedder
type OpenAIConfig struct {
	// BaseURL is the API endpoint (default: https://api.openai.com).
	// Override to point at a compatible proxy or gateway.
	BaseURL string

	// APIKey authenticates requests. Empty falls back to
	// REPOQA_OPENAI_API_KEY, then OPENAI_API_KEY.
	APIKey string

	// Model is the embedding model (default: text-embedding-3-small)
	Model string

	// Dimensions overrides the model's known output width (0 = lookup)
	Dimensions int

	// BatchSize for batch embedding requests (default: 32)
	BatchSize int

	// Timeout for a single API request (default: 60s)
	Timeout time.Duration
}

// DefaultOpenAIConfig returns sensible defaults
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:   DefaultOpenAIBaseURL,
		Model:     DefaultOpenAIModel,
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
	}
}

// openAIEmbedRequest is the /v1/embeddings request body
type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// openAIEmbedResponse is the /v1/embeddings response body
type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// OpenAIEmbedder generates embeddings using the OpenAI embeddings API.
// Requests are single-attempt; the factory wraps remote embedders in a
// RetryingEmbedder so rate limits get backoff instead of tight retries.
type OpenAIEmbedder struct {
	client *http.Client
	config OpenAIConfig
	dims   int

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates a new OpenAI embedder
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(EnvOpenAIAPIKeyStd)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key not set\n\nTo fix:\n  1. Export %s=sk-...\n  2. Or set embedding.api_key in the config file\n  3. Or use a local provider: repoqa index --embedder=ollama", EnvOpenAIAPIKey)
	}

	dims := cfg.Dimensions
	if dims == 0 {
		dims = openAIModelDimensions[cfg.Model]
	}
	if dims == 0 {
		// Unknown model, likely behind a proxy. The first response corrects this.
		dims = openAIModelDimensions[DefaultOpenAIModel]
	}

	return &OpenAIEmbedder{
		client: &http.Client{},
		config: cfg,
		dims:   dims,
	}, nil
}

// Embed generates embedding for a single text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.Dimensions()), nil
	}

	embeddings, err := e.doEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	// The API rejects empty strings, so empty inputs become zero vectors
	// and only real text goes over the wire.
	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.Dimensions())
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}

	for start := 0; start < len(nonEmpty); start += e.config.BatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := start + e.config.BatchSize
		if end > len(nonEmpty) {
			end = len(nonEmpty)
		}

		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		embeddings, err := e.doEmbed(ctx, batchTexts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch: %w", err)
		}
		if len(embeddings) != len(batch) {
			return nil, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(embeddings))
		}

		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
	}

	return results, nil
}

// doEmbed performs a single embeddings request
func (e *OpenAIEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	body, err := json.Marshal(openAIEmbedRequest{
		Model: e.config.Model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := e.config.BaseURL + "/v1/embeddings"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResult openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// Reassemble by index: the API does not guarantee input order
	embeddings := make([][]float32, len(texts))
	for _, d := range apiResult.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		embeddings[d.Index] = normalizeVector(d.Embedding)
	}
	for i, emb := range embeddings {
		if emb == nil {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
	}

	// Correct the assumed width for unknown models
	if len(embeddings) > 0 && len(embeddings[0]) > 0 {
		e.mu.Lock()
		e.dims = len(embeddings[0])
		e.mu.Unlock()
	}

	return embeddings, nil
}

// Dimensions returns the embedding dimension
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks if the API is reachable with the configured key
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := e.config.BaseURL + "/v1/models"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// Close releases resources
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
