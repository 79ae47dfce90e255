package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	qaerrors "github.com/repoqa/repoqa/internal/errors"
)

// ProviderType identifies an embedding provider
type ProviderType string

const (
	// ProviderOllama uses a local Ollama daemon (default when reachable)
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses the OpenAI embeddings API
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings (offline, reduced quality)
	ProviderStatic ProviderType = "static"

	// ProviderAuto tries Ollama and falls back to static with a warning
	ProviderAuto ProviderType = "auto"
)

// String returns the string representation of ProviderType
func (p ProviderType) String() string {
	return string(p)
}

// Config carries caller settings into provider constructors. Zero fields
// take provider defaults.
type Config struct {
	// Provider is the provider tag ("ollama", "openai", "static").
	// Empty or "auto" tries Ollama first, then static.
	Provider string

	// Model is the embedding model name
	Model string

	// BaseURL overrides the provider endpoint
	BaseURL string

	// APIKey authenticates remote providers
	APIKey string

	// BatchSize is texts per embedding request
	BatchSize int

	// Timeout bounds a single embedding request
	Timeout time.Duration

	// CacheSize is the LRU capacity of the text-to-vector cache
	CacheSize int

	// AllowOffline falls back to the static embedder instead of failing
	// when the configured provider is unreachable
	AllowOffline bool
}

// Constructor builds an embedder from factory config
type Constructor func(ctx context.Context, cfg Config) (Embedder, error)

var (
	providersMu sync.RWMutex
	providers   = map[ProviderType]Constructor{
		ProviderOllama: buildOllama,
		ProviderOpenAI: buildOpenAI,
		ProviderStatic: buildStatic,
	}
)

// Register adds a provider constructor under the given tag, replacing any
// existing one. Mainly useful for tests and embedding gateways.
func Register(name ProviderType, fn Constructor) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = fn
}

func lookupProvider(name ProviderType) (Constructor, bool) {
	providersMu.RLock()
	defer providersMu.RUnlock()
	fn, ok := providers[name]
	return fn, ok
}

// NewEmbedder creates an embedder from config. The REPOQA_EMBEDDER
// environment variable overrides the configured provider.
//
// Query embedding caching is enabled by default. Set REPOQA_EMBED_CACHE
// to false/0/off/disabled to turn it off.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	provider := ParseProvider(cfg.Provider)
	if env := os.Getenv("REPOQA_EMBEDDER"); env != "" {
		provider = ParseProvider(env)
	}

	var embedder Embedder
	var err error

	if provider == ProviderAuto {
		// Auto-detection: Ollama when reachable, otherwise static
		embedder, err = buildOllama(ctx, cfg)
		if err != nil {
			slog.Warn("embedder_offline_fallback",
				slog.String("provider", string(ProviderOllama)),
				slog.String("error", err.Error()))
			embedder, err = buildStatic(ctx, cfg)
		}
	} else {
		fn, ok := lookupProvider(provider)
		if !ok {
			return nil, qaerrors.ConfigError(
				fmt.Sprintf("unknown embedding provider %q (valid: %s)", provider, strings.Join(ValidProviders(), ", ")), nil)
		}

		embedder, err = fn(ctx, cfg)
		if err != nil && cfg.AllowOffline && provider != ProviderStatic {
			slog.Warn("embedder_offline_fallback",
				slog.String("provider", string(provider)),
				slog.String("error", err.Error()))
			embedder, err = buildStatic(ctx, cfg)
		}
	}

	if err != nil {
		return nil, err
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize)
	}

	return embedder, nil
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("REPOQA_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// buildOllama constructs the Ollama embedder. REPOQA_OLLAMA_HOST,
// REPOQA_OLLAMA_MODEL and REPOQA_OLLAMA_TIMEOUT override config values.
func buildOllama(ctx context.Context, cfg Config) (Embedder, error) {
	ocfg := DefaultOllamaConfig()
	if cfg.BaseURL != "" {
		ocfg.Host = cfg.BaseURL
	}
	if cfg.Model != "" {
		ocfg.Model = cfg.Model
	}
	if cfg.BatchSize > 0 {
		ocfg.BatchSize = cfg.BatchSize
	}
	if cfg.Timeout > 0 {
		ocfg.Timeout = cfg.Timeout
	}

	if host := os.Getenv("REPOQA_OLLAMA_HOST"); host != "" {
		ocfg.Host = host
	}
	if model := os.Getenv("REPOQA_OLLAMA_MODEL"); model != "" {
		ocfg.Model = model
	}
	if timeoutStr := os.Getenv("REPOQA_OLLAMA_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			ocfg.Timeout = timeout
		}
	}

	embedder, err := NewOllamaEmbedder(ctx, ocfg)
	if err != nil {
		// No silent fallback here: the caller decides via AllowOffline
		return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Pull a model: ollama pull %s\n  3. Or use lexical-only indexing: repoqa index --embedder=static", err, ocfg.Model)
	}
	return embedder, nil
}

// buildOpenAI constructs the OpenAI embedder wrapped with backoff, since
// unlike the Ollama embedder it has no transport-level retry of its own.
func buildOpenAI(_ context.Context, cfg Config) (Embedder, error) {
	ocfg := DefaultOpenAIConfig()
	if cfg.BaseURL != "" {
		ocfg.BaseURL = cfg.BaseURL
	}
	if cfg.APIKey != "" {
		ocfg.APIKey = cfg.APIKey
	}
	if cfg.Model != "" {
		ocfg.Model = cfg.Model
	}
	if cfg.BatchSize > 0 {
		ocfg.BatchSize = cfg.BatchSize
	}
	if cfg.Timeout > 0 {
		ocfg.Timeout = cfg.Timeout
	}

	embedder, err := NewOpenAIEmbedder(ocfg)
	if err != nil {
		return nil, err
	}
	return NewRetryingEmbedder(embedder, qaerrors.DefaultRetryConfig()), nil
}

func buildStatic(_ context.Context, _ Config) (Embedder, error) {
	return NewStaticEmbedder(), nil
}

// ParseProvider converts a string to ProviderType. Empty means auto.
// Unknown tags pass through so registered custom providers resolve.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ProviderAuto
	case "ollama":
		return ProviderOllama
	case "openai":
		return ProviderOpenAI
	case "static":
		return ProviderStatic
	default:
		return ProviderType(strings.ToLower(strings.TrimSpace(s)))
	}
}

// ValidProviders returns registered provider names, sorted.
func ValidProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()

	names := make([]string, 0, len(providers))
	for p := range providers {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}

// IsValidProvider checks if a provider name resolves to a constructor.
// Empty and "auto" are valid.
func IsValidProvider(s string) bool {
	p := ParseProvider(s)
	if p == ProviderAuto {
		return true
	}
	_, ok := lookupProvider(p)
	return ok
}

// EmbedderInfo describes an embedder for status and doctor output
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo returns information about an embedder, unwrapping cache and
// retry layers to identify the provider.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	for {
		if c, ok := inner.(*CachedEmbedder); ok {
			inner = c.Inner()
			continue
		}
		if r, ok := inner.(*RetryingEmbedder); ok {
			inner = r.Inner()
			continue
		}
		break
	}

	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	case *OpenAIEmbedder:
		info.Provider = ProviderOpenAI
	case *StaticEmbedder:
		info.Provider = ProviderStatic
	default:
		info.Provider = ProviderType(inner.ModelName())
	}

	return info
}

// MustNewEmbedder creates an embedder and panics on failure.
// Use only in tests or initialization code where failure is fatal.
func MustNewEmbedder(ctx context.Context, cfg Config) Embedder {
	embedder, err := NewEmbedder(ctx, cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}
