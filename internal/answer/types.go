// Package answer turns an assembled retrieval context into a grounded
// natural-language answer. Providers call an LLM over HTTP; plugin mode
// skips generation and hands the rendered prompt to the caller's own
// model instead.
package answer

import (
	"context"
	"time"
)

// Generation modes.
const (
	// ModeService generates the answer in this process.
	ModeService = "service"

	// ModePlugin returns the assembled context and prompt without
	// generating; the caller runs its own model.
	ModePlugin = "plugin"
)

// Defaults shared by providers.
const (
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.2
	DefaultTimeout     = 120 * time.Second
)

// Usage counts tokens consumed by one generation call. Zero fields mean
// the provider did not report them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Result is one generated answer.
type Result struct {
	Text     string
	Model    string
	Usage    Usage
	Duration time.Duration
}

// Answerer generates an answer for a question from a rendered prompt.
type Answerer interface {
	// Answer completes the prompt. The prompt already embeds the
	// question and the retrieved context blocks.
	Answer(ctx context.Context, prompt string) (*Result, error)

	// ModelName returns the generation model identifier.
	ModelName() string

	// Available checks if the provider is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}
