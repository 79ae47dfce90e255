package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	qaerrors "github.com/repoqa/repoqa/internal/errors"
)

// DefaultOllamaHost is the local Ollama daemon endpoint.
const DefaultOllamaHost = "http://localhost:11434"

// DefaultOllamaModel is the default generation model.
const DefaultOllamaModel = "llama3.1:8b"

// OllamaConfig configures the Ollama answerer.
type OllamaConfig struct {
	// Host is the daemon endpoint (default: http://localhost:11434)
	Host string

	// Model is the generation model (default: llama3.1:8b)
	Model string

	// MaxTokens caps the generated answer length
	MaxTokens int

	// Temperature is the sampling temperature
	Temperature float64

	// Timeout bounds one generation request. Generation is slow on
	// cold models, so this is much longer than the embed timeout.
	Timeout time.Duration
}

// DefaultOllamaConfig returns sensible defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:        DefaultOllamaHost,
		Model:       DefaultOllamaModel,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		Timeout:     DefaultTimeout,
	}
}

// ollamaGenerateRequest is the /api/generate request body.
type ollamaGenerateRequest struct {
	Model   string             `json:"model"`
	Prompt  string             `json:"prompt"`
	Stream  bool               `json:"stream"`
	Options ollamaModelOptions `json:"options"`
}

type ollamaModelOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

// ollamaGenerateResponse is the non-streaming /api/generate response body.
type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

// OllamaAnswerer generates answers through a local Ollama daemon.
type OllamaAnswerer struct {
	client *http.Client
	config OllamaConfig
}

var _ Answerer = (*OllamaAnswerer)(nil)

// NewOllamaAnswerer creates an Ollama answerer.
func NewOllamaAnswerer(cfg OllamaConfig) *OllamaAnswerer {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &OllamaAnswerer{
		client: &http.Client{},
		config: cfg,
	}
}

// Answer completes the prompt with a single non-streaming generate call.
func (a *OllamaAnswerer) Answer(ctx context.Context, prompt string) (*Result, error) {
	start := time.Now()

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  a.config.Model,
		Prompt: prompt,
		Stream: false,
		Options: ollamaModelOptions{
			NumPredict:  a.config.MaxTokens,
			Temperature: a.config.Temperature,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, qaerrors.Wrap(qaerrors.ErrCodeLLMFailed, err).
			WithSuggestion("check that Ollama is running: ollama serve")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, qaerrors.Wrap(qaerrors.ErrCodeLLMFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, qaerrors.New(qaerrors.ErrCodeLLMFailed,
			fmt.Sprintf("ollama generate returned %d: %s", resp.StatusCode, truncate(string(raw), 200)), nil)
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, qaerrors.Wrap(qaerrors.ErrCodeLLMFailed, err)
	}
	if out.Error != "" {
		return nil, qaerrors.New(qaerrors.ErrCodeLLMFailed, "ollama generate failed: "+out.Error, nil)
	}

	model := out.Model
	if model == "" {
		model = a.config.Model
	}
	return &Result{
		Text:  out.Response,
		Model: model,
		Usage: Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
		},
		Duration: time.Since(start),
	}, nil
}

// ModelName returns the generation model identifier.
func (a *OllamaAnswerer) ModelName() string {
	return a.config.Model
}

// Available checks that the daemon answers its version endpoint.
func (a *OllamaAnswerer) Available(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, a.config.Host+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (a *OllamaAnswerer) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
