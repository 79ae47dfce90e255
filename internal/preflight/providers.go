package preflight

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/repoqa/repoqa/internal/answer"
	"github.com/repoqa/repoqa/internal/config"
	"github.com/repoqa/repoqa/internal/embed"
)

const probeTimeout = 5 * time.Second

// CheckEmbedder checks that the configured embedding provider is
// reachable. Non-critical: index builds can fall back to the static
// embedder in offline mode.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "embedding_provider",
		Required: false,
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	embedder, err := embed.NewEmbedder(ctx, embed.Config{
		Provider: c.cfg.Embedding.Provider,
		Model:    c.cfg.Embedding.Model,
		BaseURL:  c.cfg.Embedding.BaseURL,
		APIKey:   c.cfg.Embedding.APIKey,
		Timeout:  probeTimeout,
	})
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("provider %q unreachable: %v", c.cfg.Embedding.Provider, err)
		result.Details = "Index builds will prompt for offline lexical-only mode"
		return result
	}
	defer func() { _ = embedder.Close() }()

	info := embed.GetInfo(ctx, embedder)
	if !info.Available {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s (%s) not responding", info.Provider, info.Model)
		result.Details = "Index builds will prompt for offline lexical-only mode"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (%s, %d dimensions)", info.Provider, info.Model, info.Dimensions)
	return result
}

// CheckVectorBackend checks that the configured vector backend is
// reachable. The in-process HNSW backend always passes.
func (c *Checker) CheckVectorBackend(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "vector_backend",
		Required: false,
	}

	backend := strings.ToLower(c.cfg.Vector.Backend)
	if backend == "" || backend == "hnsw" {
		result.Status = StatusPass
		result.Message = "hnsw (in-process)"
		return result
	}

	if backend != "qdrant" {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("unknown backend %q", c.cfg.Vector.Backend)
		return result
	}

	url := strings.TrimSuffix(c.cfg.Vector.QdrantURL, "/")
	if url == "" {
		result.Status = StatusWarn
		result.Message = "qdrant backend selected but qdrant_url is empty"
		return result
	}

	if err := probeHTTP(ctx, url+"/healthz", ""); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("qdrant unreachable at %s: %v", url, err)
		result.Details = "Retrieval will degrade to lexical-only results"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("qdrant at %s", url)
	return result
}

// CheckLLM checks that the configured answer provider is reachable.
// Non-critical: queries can always fall back to plugin mode, which
// returns the assembled prompt instead of a generated answer.
func (c *Checker) CheckLLM(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "llm_provider",
		Required: false,
	}

	if c.cfg.LLM.Mode == answer.ModePlugin {
		result.Status = StatusPass
		result.Message = "plugin mode (no provider needed)"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	answerer, err := answer.NewAnswerer(answer.Config{
		Provider:    c.cfg.LLM.Provider,
		Model:       c.cfg.LLM.Model,
		BaseURL:     c.cfg.LLM.BaseURL,
		APIKey:      c.cfg.LLM.APIKey,
		MaxTokens:   c.cfg.LLM.MaxTokens,
		Temperature: c.cfg.LLM.Temperature,
		Timeout:     config.Duration(c.cfg.LLM.Timeout, probeTimeout),
	})
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("provider %q not configured: %v", c.cfg.LLM.Provider, err)
		result.Details = "Queries will return prompts for the caller's own model"
		return result
	}
	defer func() { _ = answerer.Close() }()

	if !answerer.Available(ctx) {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s not responding", answerer.ModelName())
		result.Details = "Queries will return prompts for the caller's own model"
		return result
	}

	result.Status = StatusPass
	result.Message = answerer.ModelName()
	return result
}

// probeHTTP issues a GET and treats any response under 500 as reachable.
func probeHTTP(ctx context.Context, url, apiKey string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("api-key", apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
