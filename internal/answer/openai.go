package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	qaerrors "github.com/repoqa/repoqa/internal/errors"
)

// OpenAI API constants
const (
	// DefaultOpenAIBaseURL is the default OpenAI API endpoint
	DefaultOpenAIBaseURL = "https://api.openai.com"

	// DefaultOpenAIModel is the default chat model
	DefaultOpenAIModel = "gpt-4o-mini"

	// EnvOpenAIAPIKey is the preferred environment variable for the API key
	EnvOpenAIAPIKey = "REPOQA_OPENAI_API_KEY"

	// EnvOpenAIAPIKeyStd is the conventional variable most tooling sets
	EnvOpenAIAPIKeyStd = "OPENAI_API_KEY"
)

const systemMessage = "You answer questions about source repositories from provided context documents, citing them as [Doc N]."

// OpenAIConfig configures the OpenAI answerer.
type OpenAIConfig struct {
	// BaseURL is the API endpoint (default: https://api.openai.com).
	// Override to point at a compatible proxy or gateway.
	BaseURL string

	// APIKey authenticates requests. Empty falls back to
	// REPOQA_OPENAI_API_KEY, then OPENAI_API_KEY.
	APIKey string

	// Model is the chat model (default: gpt-4o-mini)
	Model string

	// MaxTokens caps the generated answer length
	MaxTokens int

	// Temperature is the sampling temperature
	Temperature float64

	// Timeout bounds one generation request
	Timeout time.Duration
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:   DefaultOpenAIBaseURL,
		Model:     DefaultOpenAIModel,
		MaxTokens: DefaultMaxTokens,
		Timeout:   DefaultTimeout,
	}
}

// openAIChatRequest is the /v1/chat/completions request body.
type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openAIChatResponse is the /v1/chat/completions response body.
type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAIAnswerer generates answers through the OpenAI chat API.
type OpenAIAnswerer struct {
	client *http.Client
	config OpenAIConfig
}

var _ Answerer = (*OpenAIAnswerer)(nil)

// NewOpenAIAnswerer creates an OpenAI answerer. The API key comes from
// config, REPOQA_OPENAI_API_KEY, or OPENAI_API_KEY, in that order.
func NewOpenAIAnswerer(cfg OpenAIConfig) (*OpenAIAnswerer, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
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
		return nil, qaerrors.ConfigError(
			fmt.Sprintf("OpenAI API key not set (set %s or %s)", EnvOpenAIAPIKey, EnvOpenAIAPIKeyStd), nil)
	}

	return &OpenAIAnswerer{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}, nil
}

// Answer completes the prompt with a single chat completion call.
func (a *OpenAIAnswerer) Answer(ctx context.Context, prompt string) (*Result, error) {
	start := time.Now()

	body, err := json.Marshal(openAIChatRequest{
		Model: a.config.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemMessage},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   a.config.MaxTokens,
		Temperature: a.config.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.config.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, qaerrors.Wrap(qaerrors.ErrCodeLLMFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, qaerrors.Wrap(qaerrors.ErrCodeLLMFailed, err)
	}

	var out openAIChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeLLMFailed,
			fmt.Sprintf("chat completion returned %d: %s", resp.StatusCode, truncate(string(raw), 200)), err)
	}
	if out.Error != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeLLMFailed,
			fmt.Sprintf("chat completion failed (%s): %s", out.Error.Type, out.Error.Message), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, qaerrors.New(qaerrors.ErrCodeLLMFailed,
			fmt.Sprintf("chat completion returned %d: %s", resp.StatusCode, truncate(string(raw), 200)), nil)
	}
	if len(out.Choices) == 0 {
		return nil, qaerrors.New(qaerrors.ErrCodeLLMFailed, "chat completion returned no choices", nil)
	}

	model := out.Model
	if model == "" {
		model = a.config.Model
	}
	return &Result{
		Text:  out.Choices[0].Message.Content,
		Model: model,
		Usage: Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
		},
		Duration: time.Since(start),
	}, nil
}

// ModelName returns the chat model identifier.
func (a *OpenAIAnswerer) ModelName() string {
	return a.config.Model
}

// Available reports whether the answerer is usable. The key was checked
// at construction; a live probe would cost a billable request.
func (a *OpenAIAnswerer) Available(_ context.Context) bool {
	return a.config.APIKey != ""
}

// Close releases idle connections.
func (a *OpenAIAnswerer) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
