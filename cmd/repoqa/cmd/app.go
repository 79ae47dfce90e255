package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/repoqa/repoqa/internal/answer"
	"github.com/repoqa/repoqa/internal/chunk"
	"github.com/repoqa/repoqa/internal/config"
	"github.com/repoqa/repoqa/internal/embed"
	"github.com/repoqa/repoqa/internal/ingest"
	"github.com/repoqa/repoqa/internal/registry"
	"github.com/repoqa/repoqa/internal/search"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/internal/telemetry"
)

// appOptions select which optional components an invocation needs.
type appOptions struct {
	// Offline forces the static embedder instead of the configured
	// provider.
	Offline bool

	// AllowOffline lets the embedder factory fall back to static vectors
	// when the configured provider is unreachable. Read paths set this so
	// queries degrade instead of failing outright.
	AllowOffline bool

	// Telemetry opens the query log and attaches a metrics collector to
	// the retrieval engine.
	Telemetry bool

	// LoadRegistry restores ready repositories from the metadata store.
	LoadRegistry bool
}

// app holds the wired components behind one CLI invocation.
type app struct {
	cfg       *config.Config
	metadata  *store.SQLiteStore
	registry  *registry.Registry
	embedder  embed.Embedder
	pipeline  *ingest.Pipeline
	runner    *ingest.Runner
	engine    *search.Engine
	answerer  answer.Answerer
	collector *telemetry.Collector
	queryLog  *telemetry.SQLiteQueryLog
}

// newApp builds the component graph from config. Callers must Close it.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}

	metadata, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	a.metadata = metadata

	a.registry = registry.New(metadata, registryOptionsFrom(cfg))

	embedder, err := embed.NewEmbedder(ctx, embedConfigFrom(cfg, opts))
	if err != nil {
		a.close()
		return nil, err
	}
	a.embedder = embedder

	pipeline, err := ingest.NewPipeline(metadata, a.registry, embedder, ingestConfigFrom(cfg))
	if err != nil {
		a.close()
		return nil, err
	}
	a.pipeline = pipeline
	a.runner = ingest.NewRunner(pipeline)

	engineOpts := []search.EngineOption{}
	if cfg.Retrieval.CacheEnabled {
		engineOpts = append(engineOpts, search.WithCacheSize(cfg.Retrieval.CacheSize))
	}
	if opts.Telemetry {
		queryLog, err := telemetry.OpenQueryLog(filepath.Join(cfg.DataDir, "querylog.db"))
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open query log: %w", err)
		}
		a.queryLog = queryLog
		a.collector = telemetry.NewCollector(queryLog, telemetry.Config{
			FlushInterval: 30 * time.Second,
		})
		engineOpts = append(engineOpts, search.WithRecorder(a.collector))
	}

	engine, err := search.NewEngine(a.registry, embedder, searchOptionsFrom(cfg), engineOpts...)
	if err != nil {
		a.close()
		return nil, err
	}
	a.engine = engine

	if cfg.LLM.Mode == answer.ModeService {
		answerer, err := answer.NewAnswerer(answerConfigFrom(cfg))
		if err != nil {
			slog.Warn("answer_provider_unavailable",
				slog.String("provider", cfg.LLM.Provider),
				slog.String("error", err.Error()))
		} else {
			a.answerer = answerer
		}
	}

	if opts.LoadRegistry {
		n, err := a.registry.Load(ctx)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("restore indexes: %w", err)
		}
		slog.Debug("registry_loaded", slog.Int("repositories", n))
	}

	return a, nil
}

// close tears components down in reverse dependency order.
func (a *app) close() {
	if a.engine != nil {
		_ = a.engine.Close()
	}
	if a.runner != nil {
		_ = a.runner.Close()
	}
	if a.answerer != nil {
		_ = a.answerer.Close()
	}
	if a.collector != nil {
		_ = a.collector.Close()
	}
	if a.queryLog != nil {
		_ = a.queryLog.Close()
	}
	if a.registry != nil {
		_ = a.registry.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.metadata != nil {
		_ = a.metadata.Close()
	}
}

func embedConfigFrom(cfg *config.Config, opts appOptions) embed.Config {
	ec := embed.Config{
		Provider:     cfg.Embedding.Provider,
		Model:        cfg.Embedding.Model,
		BaseURL:      cfg.Embedding.BaseURL,
		APIKey:       cfg.Embedding.APIKey,
		BatchSize:    cfg.Embedding.BatchSize,
		Timeout:      config.Duration(cfg.Embedding.Timeout, 30*time.Second),
		CacheSize:    cfg.Embedding.CacheSize,
		AllowOffline: opts.AllowOffline,
	}
	if opts.Offline {
		ec.Provider = string(embed.ProviderStatic)
	}
	return ec
}

func answerConfigFrom(cfg *config.Config) answer.Config {
	return answer.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     config.Duration(cfg.LLM.Timeout, 2*time.Minute),
	}
}

func bm25From(cfg *config.Config) store.BM25Config {
	bm := store.DefaultBM25Config()
	if cfg.Lexical.K1 > 0 {
		bm.K1 = cfg.Lexical.K1
	}
	if cfg.Lexical.B >= 0 {
		bm.B = cfg.Lexical.B
	}
	if cfg.Lexical.MinTokenLength > 0 {
		bm.MinTokenLength = cfg.Lexical.MinTokenLength
	}
	return bm
}

func vectorBackendFrom(cfg *config.Config) store.VectorBackendConfig {
	return store.VectorBackendConfig{
		Backend: cfg.Vector.Backend,
		Index: store.VectorIndexConfig{
			Dimensions: cfg.Vector.Dimensions,
			Metric:     cfg.Vector.Metric,
			M:          cfg.Vector.M,
			EfSearch:   cfg.Vector.EfSearch,
		},
		QdrantURL:     cfg.Vector.QdrantURL,
		QdrantAPIKey:  cfg.Vector.QdrantAPIKey,
		QdrantTimeout: config.Duration(cfg.Vector.QdrantTimeout, 10*time.Second),
	}
}

func registryOptionsFrom(cfg *config.Config) registry.Options {
	return registry.Options{
		DataDir:        cfg.DataDir,
		LexicalBackend: cfg.Lexical.Backend,
		BM25:           bm25From(cfg),
		Vector:         vectorBackendFrom(cfg),
	}
}

func ingestConfigFrom(cfg *config.Config) ingest.Config {
	return ingest.Config{
		DataDir:      cfg.DataDir,
		CloneDir:     cfg.Ingest.CloneDir,
		CloneTimeout: config.Duration(cfg.Ingest.CloneTimeout, 5*time.Minute),
		Scan: ingest.ScanOptions{
			IncludeExts: cfg.Ingest.IncludeExts,
			ExcludeDirs: cfg.Ingest.ExcludeDirs,
			MaxFileSize: cfg.Ingest.MaxFileSize,
			MaxFiles:    cfg.Ingest.MaxFiles,
		},
		Chunk:          chunkOptionsFrom(cfg),
		BatchSize:      cfg.Embedding.BatchSize,
		MaxRetries:     cfg.Ingest.MaxRetries,
		Workers:        cfg.Ingest.Workers,
		LexicalBackend: cfg.Lexical.Backend,
		BM25:           bm25From(cfg),
		Vector:         vectorBackendFrom(cfg),
	}
}

func chunkOptionsFrom(cfg *config.Config) chunk.Options {
	return chunk.Options{
		ChunkSize: cfg.Ingest.ChunkSize,
		Overlap:   cfg.Ingest.ChunkOverlap,
	}
}

func searchOptionsFrom(cfg *config.Config) search.Options {
	opts := search.Options{
		VectorTopK:     cfg.Retrieval.VectorTopK,
		LexicalTopK:    cfg.Retrieval.LexicalTopK,
		ContextBudget:  cfg.Retrieval.ContextBudget,
		BudgetUnit:     search.BudgetUnit(cfg.Retrieval.BudgetUnit),
		FusionK:        cfg.Retrieval.FusionK,
		DedupThreshold: cfg.Retrieval.DedupThreshold,
		ShingleSize:    cfg.Retrieval.DedupShingleSize,
	}
	if cfg.Retrieval.VectorWeight > 0 || cfg.Retrieval.LexicalWeight > 0 {
		opts.Weights = &search.Weights{
			Vector:  cfg.Retrieval.VectorWeight,
			Lexical: cfg.Retrieval.LexicalWeight,
		}
	}
	if timeout := config.Duration(cfg.Retrieval.BranchTimeout, 0); timeout > 0 {
		opts.EmbedTimeout = timeout
		opts.VectorTimeout = timeout
	}
	return opts
}
