package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete repoqa configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	DataDir   string          `yaml:"data_dir" json:"data_dir"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Lexical   LexicalConfig   `yaml:"lexical" json:"lexical"`
	Vector    VectorConfig    `yaml:"vector" json:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	LLM       LLMConfig       `yaml:"llm" json:"llm"`
	Ingest    IngestConfig    `yaml:"ingest" json:"ingest"`
	API       APIConfig       `yaml:"api" json:"api"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// RetrievalConfig tunes the hybrid retrieval pipeline.
// Values here are per-instance defaults; individual queries may override
// them through the request-level options.
type RetrievalConfig struct {
	// VectorTopK is how many candidates the vector branch requests.
	VectorTopK int `yaml:"vector_top_k" json:"vector_top_k"`

	// LexicalTopK is how many candidates the lexical branch requests.
	LexicalTopK int `yaml:"lexical_top_k" json:"lexical_top_k"`

	// ContextBudget caps the assembled context size, measured in BudgetUnit.
	ContextBudget int `yaml:"context_budget" json:"context_budget"`

	// BudgetUnit is "tokens" (whitespace-split estimate) or "chars".
	BudgetUnit string `yaml:"budget_unit" json:"budget_unit"`

	// FusionK is the reciprocal-rank-fusion smoothing constant.
	// Higher values flatten the difference between adjacent ranks.
	FusionK int `yaml:"fusion_k" json:"fusion_k"`

	// VectorWeight and LexicalWeight scale each branch's RRF contribution.
	// They are independent multipliers and do not need to sum to 1.
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`

	// DedupThreshold is the shingle-overlap ratio at which a candidate is
	// dropped as a near-duplicate of an already accepted chunk.
	DedupThreshold float64 `yaml:"dedup_threshold" json:"dedup_threshold"`

	// DedupShingleSize is the word-shingle width used for overlap hashing.
	DedupShingleSize int `yaml:"dedup_shingle_size" json:"dedup_shingle_size"`

	// BranchTimeout bounds each retrieval branch (vector, lexical)
	// independently, e.g. "10s". A branch that misses its deadline degrades
	// the result rather than failing the query.
	BranchTimeout string `yaml:"branch_timeout" json:"branch_timeout"`

	// CacheEnabled turns the query result cache on.
	CacheEnabled bool `yaml:"cache_enabled" json:"cache_enabled"`

	// CacheSize is the number of cached query results per process.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// LexicalConfig tunes the BM25 index.
type LexicalConfig struct {
	// Backend selects the lexical index implementation.
	// "memory" (default) keeps postings in process, "bleve" is disk-backed.
	Backend string `yaml:"backend" json:"backend"`

	// K1 controls term-frequency saturation.
	K1 float64 `yaml:"k1" json:"k1"`

	// B controls document-length normalization (0 = off, 1 = full).
	B float64 `yaml:"b" json:"b"`

	// MinTokenLength drops tokens shorter than this during analysis.
	MinTokenLength int `yaml:"min_token_length" json:"min_token_length"`
}

// VectorConfig tunes the vector index backend.
type VectorConfig struct {
	// Backend selects the vector index implementation.
	// "hnsw" (default) is in-process, "qdrant" talks to a Qdrant server.
	Backend string `yaml:"backend" json:"backend"`

	// Dimensions is the embedding width. 0 means adopt the embedder's.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// Metric is "cosine" or "l2".
	Metric string `yaml:"metric" json:"metric"`

	// M and EfSearch are HNSW graph parameters.
	M        int `yaml:"m" json:"m"`
	EfSearch int `yaml:"ef_search" json:"ef_search"`

	// Qdrant connection settings, used when Backend is "qdrant".
	QdrantURL     string `yaml:"qdrant_url" json:"qdrant_url"`
	QdrantAPIKey  string `yaml:"qdrant_api_key" json:"qdrant_api_key"`
	QdrantTimeout string `yaml:"qdrant_timeout" json:"qdrant_timeout"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is "ollama", "openai" or "static".
	// Empty triggers auto-detection: Ollama if reachable, otherwise static.
	Provider string `yaml:"provider" json:"provider"`

	// Model is the embedding model name.
	Model string `yaml:"model" json:"model"`

	// BaseURL overrides the provider endpoint
	// (default http://localhost:11434 for Ollama, https://api.openai.com for OpenAI).
	BaseURL string `yaml:"base_url" json:"base_url"`

	// APIKey authenticates remote providers. Prefer REPOQA_OPENAI_API_KEY
	// over putting keys in config files.
	APIKey string `yaml:"api_key" json:"api_key"`

	// BatchSize is texts per embedding request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// Timeout bounds a single embedding request, e.g. "30s".
	Timeout string `yaml:"timeout" json:"timeout"`

	// CacheSize is the LRU capacity of the text->vector cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// LLMConfig configures the answer generator.
type LLMConfig struct {
	// Provider is "ollama" or "openai".
	Provider string `yaml:"provider" json:"provider"`

	// Model is the generation model name.
	Model string `yaml:"model" json:"model"`

	// Mode selects how answers are produced: "service" calls the provider
	// from this process, "plugin" returns the assembled prompt for the
	// caller's own model to complete.
	Mode string `yaml:"mode" json:"mode"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// APIKey authenticates remote providers.
	APIKey string `yaml:"api_key" json:"api_key"`

	// MaxTokens caps the generated answer length.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`

	// Temperature is the sampling temperature.
	Temperature float64 `yaml:"temperature" json:"temperature"`

	// Timeout bounds a single generation request, e.g. "120s".
	Timeout string `yaml:"timeout" json:"timeout"`
}

// IngestConfig configures repository ingestion and indexing.
type IngestConfig struct {
	// CloneDir is where remote repositories are cloned.
	// Empty means <data_dir>/repos.
	CloneDir string `yaml:"clone_dir" json:"clone_dir"`

	// CloneTimeout bounds a git clone, e.g. "5m".
	CloneTimeout string `yaml:"clone_timeout" json:"clone_timeout"`

	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`

	// IncludeExts is the file-extension allowlist (with leading dot).
	IncludeExts []string `yaml:"include_exts" json:"include_exts"`

	// ExcludeDirs are directory names skipped during scanning.
	ExcludeDirs []string `yaml:"exclude_dirs" json:"exclude_dirs"`

	// ChunkSize and ChunkOverlap control chunking, in characters.
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`

	// MaxRetries is retry attempts per embedding batch.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// Workers is the chunking/embedding parallelism. 0 means NumCPU.
	Workers int `yaml:"workers" json:"workers"`

	// WatchDebounce coalesces file-change bursts before reindexing, e.g. "2s".
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`

	// MaxFiles aborts ingestion of absurdly large trees.
	MaxFiles int `yaml:"max_files" json:"max_files"`
}

// APIConfig configures the HTTP API server.
type APIConfig struct {
	Addr         string   `yaml:"addr" json:"addr"`
	CORSOrigins  []string `yaml:"cors_origins" json:"cors_origins"`
	ReadTimeout  string   `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout string   `yaml:"write_timeout" json:"write_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
	Stderr    bool   `yaml:"stderr" json:"stderr"`
}

// defaultExcludeDirs are always skipped during repository scanning.
var defaultExcludeDirs = []string{
	".git",
	"node_modules",
	"vendor",
	"__pycache__",
	"dist",
	"build",
	"target",
	".venv",
	"venv",
	".idea",
	".vscode",
}

// defaultIncludeExts is the source and docs allowlist for scanning.
var defaultIncludeExts = []string{
	".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".java", ".kt", ".rb",
	".rs", ".c", ".h", ".cpp", ".hpp", ".cs", ".swift", ".scala", ".sh",
	".sql", ".proto", ".md", ".rst", ".txt", ".yaml", ".yml", ".toml",
	".json", ".html", ".css",
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: DefaultDataDir(),
		Retrieval: RetrievalConfig{
			VectorTopK:    10,
			LexicalTopK:   10,
			ContextBudget: 4000,
			BudgetUnit:    "tokens",
			// k=60 is the standard RRF smoothing constant
			FusionK:          60,
			VectorWeight:     1.0,
			LexicalWeight:    1.0,
			DedupThreshold:   0.9,
			DedupShingleSize: 3,
			BranchTimeout:    "10s",
			CacheEnabled:     true,
			CacheSize:        256,
		},
		Lexical: LexicalConfig{
			Backend:        "memory",
			K1:             1.5,
			B:              0.75,
			MinTokenLength: 2,
		},
		Vector: VectorConfig{
			Backend:       "hnsw",
			Dimensions:    0, // adopt the embedder's width
			Metric:        "cosine",
			M:             16,
			EfSearch:      64,
			QdrantURL:     "",
			QdrantAPIKey:  "",
			QdrantTimeout: "15s",
		},
		Embedding: EmbeddingConfig{
			Provider:  "", // empty triggers auto-detection: Ollama -> static
			Model:     "nomic-embed-text",
			BaseURL:   "",
			APIKey:    "",
			BatchSize: 32,
			Timeout:   "30s",
			CacheSize: 4096,
		},
		LLM: LLMConfig{
			Provider:    "ollama",
			Model:       "llama3.1:8b",
			Mode:        "service",
			BaseURL:     "",
			APIKey:      "",
			MaxTokens:   1024,
			Temperature: 0.2,
			Timeout:     "120s",
		},
		Ingest: IngestConfig{
			CloneDir:      "", // empty means <data_dir>/repos
			CloneTimeout:  "5m",
			MaxFileSize:   2 * 1024 * 1024,
			IncludeExts:   defaultIncludeExts,
			ExcludeDirs:   defaultExcludeDirs,
			ChunkSize:     1000,
			ChunkOverlap:  200,
			MaxRetries:    3,
			Workers:       runtime.NumCPU(),
			WatchDebounce: "2s",
			MaxFiles:      100000,
		},
		API: APIConfig{
			Addr:         ":8080",
			CORSOrigins:  []string{"*"},
			ReadTimeout:  "30s",
			WriteTimeout: "120s",
		},
		Logging: LoggingConfig{
			Level:     "info",
			FilePath:  "", // empty means <data_dir>/logs/repoqa.log
			MaxSizeMB: 10,
			MaxFiles:  5,
			Stderr:    true,
		},
	}
}

// DefaultDataDir returns ~/.repoqa, falling back to a temp path when the
// home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".repoqa")
	}
	return filepath.Join(home, ".repoqa")
}

// ClonePath returns the directory remote repositories are cloned into.
func (c *Config) ClonePath() string {
	if c.Ingest.CloneDir != "" {
		return c.Ingest.CloneDir
	}
	return filepath.Join(c.DataDir, "repos")
}

// IndexDir returns the directory persisted index snapshots live in.
func (c *Config) IndexDir() string {
	return filepath.Join(c.DataDir, "index")
}

// DBPath returns the metadata database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "repoqa.db")
}

// LogPath returns the configured log file path, defaulting under DataDir.
func (c *Config) LogPath() string {
	if c.Logging.FilePath != "" {
		return c.Logging.FilePath
	}
	return filepath.Join(c.DataDir, "logs", "repoqa.log")
}

// GetUserConfigPath returns the user-level configuration path following
// the XDG Base Directory spec:
//   - $XDG_CONFIG_HOME/repoqa/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/repoqa/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "repoqa", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "repoqa", "config.yaml")
	}
	return filepath.Join(home, ".config", "repoqa", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user configuration if present.
// A missing file is not an error.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// Load loads configuration for a project directory, applying layers in
// order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/repoqa/config.yaml)
//  3. Project config (.repoqa.yaml in dir)
//  4. Environment variables (REPOQA_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads .repoqa.yaml or .repoqa.yml from dir if present.
func (c *Config) loadFromFile(dir string) error {
	// .yaml takes precedence over .yml
	yamlPath := filepath.Join(dir, ".repoqa.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".repoqa.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine, defaults apply.
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	// Retrieval. Zero is not a practical value for any numeric knob here,
	// so only non-zero values override.
	if other.Retrieval.VectorTopK != 0 {
		c.Retrieval.VectorTopK = other.Retrieval.VectorTopK
	}
	if other.Retrieval.LexicalTopK != 0 {
		c.Retrieval.LexicalTopK = other.Retrieval.LexicalTopK
	}
	if other.Retrieval.ContextBudget != 0 {
		c.Retrieval.ContextBudget = other.Retrieval.ContextBudget
	}
	if other.Retrieval.BudgetUnit != "" {
		c.Retrieval.BudgetUnit = other.Retrieval.BudgetUnit
	}
	if other.Retrieval.FusionK != 0 {
		c.Retrieval.FusionK = other.Retrieval.FusionK
	}
	if other.Retrieval.VectorWeight != 0 {
		c.Retrieval.VectorWeight = other.Retrieval.VectorWeight
	}
	if other.Retrieval.LexicalWeight != 0 {
		c.Retrieval.LexicalWeight = other.Retrieval.LexicalWeight
	}
	if other.Retrieval.DedupThreshold != 0 {
		c.Retrieval.DedupThreshold = other.Retrieval.DedupThreshold
	}
	if other.Retrieval.DedupShingleSize != 0 {
		c.Retrieval.DedupShingleSize = other.Retrieval.DedupShingleSize
	}
	if other.Retrieval.BranchTimeout != "" {
		c.Retrieval.BranchTimeout = other.Retrieval.BranchTimeout
	}
	if other.Retrieval.CacheSize != 0 {
		// CacheEnabled is boolean; treat an explicit cache_size as intent
		// to configure the cache as a whole.
		c.Retrieval.CacheEnabled = other.Retrieval.CacheEnabled
		c.Retrieval.CacheSize = other.Retrieval.CacheSize
	}

	// Lexical
	if other.Lexical.Backend != "" {
		c.Lexical.Backend = other.Lexical.Backend
	}
	if other.Lexical.K1 != 0 {
		c.Lexical.K1 = other.Lexical.K1
	}
	if other.Lexical.B != 0 {
		c.Lexical.B = other.Lexical.B
	}
	if other.Lexical.MinTokenLength != 0 {
		c.Lexical.MinTokenLength = other.Lexical.MinTokenLength
	}

	// Vector
	if other.Vector.Backend != "" {
		c.Vector.Backend = other.Vector.Backend
	}
	if other.Vector.Dimensions != 0 {
		c.Vector.Dimensions = other.Vector.Dimensions
	}
	if other.Vector.Metric != "" {
		c.Vector.Metric = other.Vector.Metric
	}
	if other.Vector.M != 0 {
		c.Vector.M = other.Vector.M
	}
	if other.Vector.EfSearch != 0 {
		c.Vector.EfSearch = other.Vector.EfSearch
	}
	if other.Vector.QdrantURL != "" {
		c.Vector.QdrantURL = other.Vector.QdrantURL
	}
	if other.Vector.QdrantAPIKey != "" {
		c.Vector.QdrantAPIKey = other.Vector.QdrantAPIKey
	}
	if other.Vector.QdrantTimeout != "" {
		c.Vector.QdrantTimeout = other.Vector.QdrantTimeout
	}

	// Embedding
	if other.Embedding.Provider != "" {
		c.Embedding.Provider = other.Embedding.Provider
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.BaseURL != "" {
		c.Embedding.BaseURL = other.Embedding.BaseURL
	}
	if other.Embedding.APIKey != "" {
		c.Embedding.APIKey = other.Embedding.APIKey
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}
	if other.Embedding.Timeout != "" {
		c.Embedding.Timeout = other.Embedding.Timeout
	}
	if other.Embedding.CacheSize != 0 {
		c.Embedding.CacheSize = other.Embedding.CacheSize
	}

	// LLM
	if other.LLM.Provider != "" {
		c.LLM.Provider = other.LLM.Provider
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Mode != "" {
		c.LLM.Mode = other.LLM.Mode
	}
	if other.LLM.BaseURL != "" {
		c.LLM.BaseURL = other.LLM.BaseURL
	}
	if other.LLM.APIKey != "" {
		c.LLM.APIKey = other.LLM.APIKey
	}
	if other.LLM.MaxTokens != 0 {
		c.LLM.MaxTokens = other.LLM.MaxTokens
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.Timeout != "" {
		c.LLM.Timeout = other.LLM.Timeout
	}

	// Ingest
	if other.Ingest.CloneDir != "" {
		c.Ingest.CloneDir = other.Ingest.CloneDir
	}
	if other.Ingest.CloneTimeout != "" {
		c.Ingest.CloneTimeout = other.Ingest.CloneTimeout
	}
	if other.Ingest.MaxFileSize != 0 {
		c.Ingest.MaxFileSize = other.Ingest.MaxFileSize
	}
	if len(other.Ingest.IncludeExts) > 0 {
		c.Ingest.IncludeExts = other.Ingest.IncludeExts
	}
	if len(other.Ingest.ExcludeDirs) > 0 {
		// Merge with defaults rather than replace.
		c.Ingest.ExcludeDirs = append(c.Ingest.ExcludeDirs, other.Ingest.ExcludeDirs...)
	}
	if other.Ingest.ChunkSize != 0 {
		c.Ingest.ChunkSize = other.Ingest.ChunkSize
	}
	if other.Ingest.ChunkOverlap != 0 {
		c.Ingest.ChunkOverlap = other.Ingest.ChunkOverlap
	}
	if other.Ingest.MaxRetries != 0 {
		c.Ingest.MaxRetries = other.Ingest.MaxRetries
	}
	if other.Ingest.Workers != 0 {
		c.Ingest.Workers = other.Ingest.Workers
	}
	if other.Ingest.WatchDebounce != "" {
		c.Ingest.WatchDebounce = other.Ingest.WatchDebounce
	}
	if other.Ingest.MaxFiles != 0 {
		c.Ingest.MaxFiles = other.Ingest.MaxFiles
	}

	// API
	if other.API.Addr != "" {
		c.API.Addr = other.API.Addr
	}
	if len(other.API.CORSOrigins) > 0 {
		c.API.CORSOrigins = other.API.CORSOrigins
	}
	if other.API.ReadTimeout != "" {
		c.API.ReadTimeout = other.API.ReadTimeout
	}
	if other.API.WriteTimeout != "" {
		c.API.WriteTimeout = other.API.WriteTimeout
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies REPOQA_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("REPOQA_DATA_DIR"); v != "" {
		c.DataDir = v
	}

	// Branch weights accept explicit zero to mute a branch entirely.
	if v := os.Getenv("REPOQA_VECTOR_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Retrieval.VectorWeight = w
		}
	}
	if v := os.Getenv("REPOQA_LEXICAL_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Retrieval.LexicalWeight = w
		}
	}
	if v := os.Getenv("REPOQA_FUSION_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.FusionK = k
		}
	}
	if v := os.Getenv("REPOQA_CONTEXT_BUDGET"); v != "" {
		if b, err := strconv.Atoi(v); err == nil && b > 0 {
			c.Retrieval.ContextBudget = b
		}
	}

	if v := os.Getenv("REPOQA_LEXICAL_BACKEND"); v != "" {
		c.Lexical.Backend = v
	}
	if v := os.Getenv("REPOQA_VECTOR_BACKEND"); v != "" {
		c.Vector.Backend = v
	}
	if v := os.Getenv("REPOQA_QDRANT_URL"); v != "" {
		c.Vector.QdrantURL = v
	}
	if v := os.Getenv("REPOQA_QDRANT_API_KEY"); v != "" {
		c.Vector.QdrantAPIKey = v
	}

	if v := os.Getenv("REPOQA_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	// REPOQA_EMBEDDER is an alias for REPOQA_EMBEDDING_PROVIDER
	if v := os.Getenv("REPOQA_EMBEDDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("REPOQA_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("REPOQA_OLLAMA_HOST"); v != "" {
		if c.Embedding.BaseURL == "" {
			c.Embedding.BaseURL = v
		}
		if c.LLM.BaseURL == "" {
			c.LLM.BaseURL = v
		}
	}
	if v := os.Getenv("REPOQA_OPENAI_API_KEY"); v != "" {
		c.Embedding.APIKey = v
		c.LLM.APIKey = v
	}

	if v := os.Getenv("REPOQA_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("REPOQA_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("REPOQA_LLM_MODE"); v != "" {
		c.LLM.Mode = v
	}

	if v := os.Getenv("REPOQA_API_ADDR"); v != "" {
		c.API.Addr = v
	}
	if v := os.Getenv("REPOQA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Duration parses a duration string, returning fallback on empty or
// malformed input. Config duration fields are stored as strings so YAML
// stays human-readable.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate checks the configuration, returning an actionable error for
// the first invalid field found.
func (c *Config) Validate() error {
	// Retrieval
	if c.Retrieval.VectorTopK < 1 {
		return fmt.Errorf("retrieval.vector_top_k must be at least 1, got %d", c.Retrieval.VectorTopK)
	}
	if c.Retrieval.LexicalTopK < 1 {
		return fmt.Errorf("retrieval.lexical_top_k must be at least 1, got %d", c.Retrieval.LexicalTopK)
	}
	if c.Retrieval.ContextBudget < 1 {
		return fmt.Errorf("retrieval.context_budget must be positive, got %d", c.Retrieval.ContextBudget)
	}
	if c.Retrieval.BudgetUnit != "tokens" && c.Retrieval.BudgetUnit != "chars" {
		return fmt.Errorf("retrieval.budget_unit must be 'tokens' or 'chars', got %q", c.Retrieval.BudgetUnit)
	}
	if c.Retrieval.FusionK < 1 {
		return fmt.Errorf("retrieval.fusion_k must be positive, got %d", c.Retrieval.FusionK)
	}
	if c.Retrieval.VectorWeight < 0 {
		return fmt.Errorf("retrieval.vector_weight must be non-negative, got %f", c.Retrieval.VectorWeight)
	}
	if c.Retrieval.LexicalWeight < 0 {
		return fmt.Errorf("retrieval.lexical_weight must be non-negative, got %f", c.Retrieval.LexicalWeight)
	}
	if c.Retrieval.DedupThreshold < 0 || c.Retrieval.DedupThreshold > 1 {
		return fmt.Errorf("retrieval.dedup_threshold must be between 0 and 1, got %f", c.Retrieval.DedupThreshold)
	}
	if c.Retrieval.DedupShingleSize < 1 {
		return fmt.Errorf("retrieval.dedup_shingle_size must be at least 1, got %d", c.Retrieval.DedupShingleSize)
	}

	// Lexical
	validLexical := map[string]bool{"memory": true, "bleve": true}
	if !validLexical[strings.ToLower(c.Lexical.Backend)] {
		return fmt.Errorf("lexical.backend must be 'memory' or 'bleve', got %q", c.Lexical.Backend)
	}
	if c.Lexical.K1 <= 0 {
		return fmt.Errorf("lexical.k1 must be positive, got %f", c.Lexical.K1)
	}
	if c.Lexical.B < 0 || c.Lexical.B > 1 {
		return fmt.Errorf("lexical.b must be between 0 and 1, got %f", c.Lexical.B)
	}
	if math.IsNaN(c.Lexical.K1) || math.IsNaN(c.Lexical.B) {
		return fmt.Errorf("lexical.k1 and lexical.b must be numbers")
	}
	if c.Lexical.MinTokenLength < 1 {
		return fmt.Errorf("lexical.min_token_length must be at least 1, got %d", c.Lexical.MinTokenLength)
	}

	// Vector
	validVector := map[string]bool{"hnsw": true, "qdrant": true}
	if !validVector[strings.ToLower(c.Vector.Backend)] {
		return fmt.Errorf("vector.backend must be 'hnsw' or 'qdrant', got %q", c.Vector.Backend)
	}
	validMetric := map[string]bool{"cosine": true, "l2": true}
	if !validMetric[strings.ToLower(c.Vector.Metric)] {
		return fmt.Errorf("vector.metric must be 'cosine' or 'l2', got %q", c.Vector.Metric)
	}
	if c.Vector.Dimensions < 0 {
		return fmt.Errorf("vector.dimensions must be non-negative, got %d", c.Vector.Dimensions)
	}
	if strings.ToLower(c.Vector.Backend) == "qdrant" && c.Vector.QdrantURL == "" {
		return fmt.Errorf("vector.qdrant_url is required when vector.backend is 'qdrant'")
	}

	// Embedding (empty provider triggers auto-detection)
	if c.Embedding.Provider != "" {
		validEmbed := map[string]bool{"ollama": true, "openai": true, "static": true}
		if !validEmbed[strings.ToLower(c.Embedding.Provider)] {
			return fmt.Errorf("embedding.provider must be 'ollama', 'openai', 'static' or empty (auto-detect), got %q", c.Embedding.Provider)
		}
	}
	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("embedding.batch_size must be at least 1, got %d", c.Embedding.BatchSize)
	}

	// LLM
	validLLM := map[string]bool{"ollama": true, "openai": true}
	if !validLLM[strings.ToLower(c.LLM.Provider)] {
		return fmt.Errorf("llm.provider must be 'ollama' or 'openai', got %q", c.LLM.Provider)
	}
	validMode := map[string]bool{"service": true, "plugin": true}
	if !validMode[strings.ToLower(c.LLM.Mode)] {
		return fmt.Errorf("llm.mode must be 'service' or 'plugin', got %q", c.LLM.Mode)
	}

	// Ingest
	if c.Ingest.ChunkSize < 1 {
		return fmt.Errorf("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 {
		return fmt.Errorf("ingest.chunk_overlap must be non-negative, got %d", c.Ingest.ChunkOverlap)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be smaller than chunk_size, got overlap %d >= size %d",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.Ingest.MaxFileSize < 1 {
		return fmt.Errorf("ingest.max_file_size must be positive, got %d", c.Ingest.MaxFileSize)
	}
	if c.Ingest.MaxRetries < 0 {
		return fmt.Errorf("ingest.max_retries must be non-negative, got %d", c.Ingest.MaxRetries)
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeNewDefaults adds defaults for fields introduced after the config
// file was written, preserving existing values. Returns the names of
// fields that were filled in.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Retrieval.FusionK == 0 {
		c.Retrieval.FusionK = defaults.Retrieval.FusionK
		added = append(added, "retrieval.fusion_k")
	}
	if c.Retrieval.VectorWeight == 0 {
		c.Retrieval.VectorWeight = defaults.Retrieval.VectorWeight
		added = append(added, "retrieval.vector_weight")
	}
	if c.Retrieval.LexicalWeight == 0 {
		c.Retrieval.LexicalWeight = defaults.Retrieval.LexicalWeight
		added = append(added, "retrieval.lexical_weight")
	}
	if c.Retrieval.DedupThreshold == 0 {
		c.Retrieval.DedupThreshold = defaults.Retrieval.DedupThreshold
		added = append(added, "retrieval.dedup_threshold")
	}
	if c.Retrieval.BudgetUnit == "" {
		c.Retrieval.BudgetUnit = defaults.Retrieval.BudgetUnit
		added = append(added, "retrieval.budget_unit")
	}
	if c.Lexical.K1 == 0 {
		c.Lexical.K1 = defaults.Lexical.K1
		added = append(added, "lexical.k1")
	}
	if c.Lexical.B == 0 {
		c.Lexical.B = defaults.Lexical.B
		added = append(added, "lexical.b")
	}
	if c.Ingest.WatchDebounce == "" {
		c.Ingest.WatchDebounce = defaults.Ingest.WatchDebounce
		added = append(added, "ingest.watch_debounce")
	}
	if c.LLM.Mode == "" {
		c.LLM.Mode = defaults.LLM.Mode
		added = append(added, "llm.mode")
	}

	return added
}

// FindProjectRoot walks up from startDir looking for a .git directory or
// a .repoqa.yaml/.yml file. Used when indexing local paths so relative
// file paths in results are rooted at the repository.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".repoqa.yaml")) ||
			fileExists(filepath.Join(currentDir, ".repoqa.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached filesystem root, fall back to the starting directory.
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
