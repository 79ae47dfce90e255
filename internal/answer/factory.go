package answer

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	qaerrors "github.com/repoqa/repoqa/internal/errors"
)

// ProviderType identifies a generation provider
type ProviderType string

const (
	// ProviderOllama uses a local Ollama daemon
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses the OpenAI chat API
	ProviderOpenAI ProviderType = "openai"
)

// String returns the string representation of ProviderType
func (p ProviderType) String() string {
	return string(p)
}

// Config carries caller settings into provider constructors. Zero fields
// take provider defaults.
type Config struct {
	// Provider is the provider tag ("ollama", "openai").
	// Empty means ollama.
	Provider string

	// Model is the generation model name
	Model string

	// BaseURL overrides the provider endpoint
	BaseURL string

	// APIKey authenticates remote providers
	APIKey string

	// MaxTokens caps the generated answer length
	MaxTokens int

	// Temperature is the sampling temperature
	Temperature float64

	// Timeout bounds a single generation request
	Timeout time.Duration
}

// Constructor builds an answerer from factory config
type Constructor func(cfg Config) (Answerer, error)

var (
	providersMu sync.RWMutex
	providers   = map[ProviderType]Constructor{
		ProviderOllama: buildOllama,
		ProviderOpenAI: buildOpenAI,
	}
)

// Register adds a provider constructor under the given tag, replacing any
// existing one. Mainly useful for tests and generation gateways.
func Register(name ProviderType, fn Constructor) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = fn
}

// NewAnswerer creates an answerer from config. The REPOQA_ANSWERER
// environment variable overrides the configured provider.
func NewAnswerer(cfg Config) (Answerer, error) {
	provider := ParseProvider(cfg.Provider)
	if env := os.Getenv("REPOQA_ANSWERER"); env != "" {
		provider = ParseProvider(env)
	}

	providersMu.RLock()
	fn, ok := providers[provider]
	providersMu.RUnlock()
	if !ok {
		return nil, qaerrors.ConfigError(
			fmt.Sprintf("unknown answer provider %q (valid: %s)", provider, strings.Join(ValidProviders(), ", ")), nil)
	}
	return fn(cfg)
}

func buildOllama(cfg Config) (Answerer, error) {
	ocfg := DefaultOllamaConfig()
	if cfg.BaseURL != "" {
		ocfg.Host = cfg.BaseURL
	}
	if cfg.Model != "" {
		ocfg.Model = cfg.Model
	}
	if cfg.MaxTokens > 0 {
		ocfg.MaxTokens = cfg.MaxTokens
	}
	if cfg.Temperature != 0 {
		ocfg.Temperature = cfg.Temperature
	}
	if cfg.Timeout > 0 {
		ocfg.Timeout = cfg.Timeout
	}
	if host := os.Getenv("REPOQA_OLLAMA_HOST"); host != "" {
		ocfg.Host = host
	}
	return NewOllamaAnswerer(ocfg), nil
}

func buildOpenAI(cfg Config) (Answerer, error) {
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
	if cfg.MaxTokens > 0 {
		ocfg.MaxTokens = cfg.MaxTokens
	}
	if cfg.Temperature != 0 {
		ocfg.Temperature = cfg.Temperature
	}
	if cfg.Timeout > 0 {
		ocfg.Timeout = cfg.Timeout
	}
	return NewOpenAIAnswerer(ocfg)
}

// ParseProvider converts a string to ProviderType. Empty means ollama.
// Unknown tags pass through so registered custom providers resolve.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ollama":
		return ProviderOllama
	case "openai":
		return ProviderOpenAI
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

// ValidMode checks a generation mode tag.
func ValidMode(mode string) bool {
	switch mode {
	case "", ModeService, ModePlugin:
		return true
	}
	return false
}
