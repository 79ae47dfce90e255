package embed

import (
	"context"

	qaerrors "github.com/repoqa/repoqa/internal/errors"
)

// RetryingEmbedder wraps an Embedder with exponential backoff. It exists
// for providers without built-in retry (OpenAI rate limits want seconds of
// backoff, not the sub-second transport retries the Ollama embedder does
// itself). Retrieval and ingestion code stays retry-free and relies on
// this layer.
type RetryingEmbedder struct {
	inner Embedder
	cfg   qaerrors.RetryConfig
}

// Verify interface implementation at compile time
var _ Embedder = (*RetryingEmbedder)(nil)

// NewRetryingEmbedder wraps inner with the given retry policy.
// A zero MaxRetries falls back to the default policy.
func NewRetryingEmbedder(inner Embedder, cfg qaerrors.RetryConfig) *RetryingEmbedder {
	if cfg.MaxRetries <= 0 {
		cfg = qaerrors.DefaultRetryConfig()
	}
	return &RetryingEmbedder{
		inner: inner,
		cfg:   cfg,
	}
}

// Embed embeds one text, retrying transient failures.
func (r *RetryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return qaerrors.RetryWithResult(ctx, r.cfg, func() ([]float32, error) {
		return r.inner.Embed(ctx, text)
	})
}

// EmbedBatch embeds multiple texts, retrying the whole batch on failure.
func (r *RetryingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return qaerrors.RetryWithResult(ctx, r.cfg, func() ([][]float32, error) {
		return r.inner.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the embedding dimension of the inner embedder.
func (r *RetryingEmbedder) Dimensions() int {
	return r.inner.Dimensions()
}

// ModelName returns the model identifier of the inner embedder.
func (r *RetryingEmbedder) ModelName() string {
	return r.inner.ModelName()
}

// Available reports readiness of the inner embedder.
func (r *RetryingEmbedder) Available(ctx context.Context) bool {
	return r.inner.Available(ctx)
}

// Close closes the inner embedder.
func (r *RetryingEmbedder) Close() error {
	return r.inner.Close()
}

// Inner returns the wrapped embedder.
func (r *RetryingEmbedder) Inner() Embedder {
	return r.inner
}
