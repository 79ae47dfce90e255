package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/repoqa/repoqa/internal/embed"
	qaerrors "github.com/repoqa/repoqa/internal/errors"
	"github.com/repoqa/repoqa/internal/registry"
	"github.com/repoqa/repoqa/internal/store"
)

// ErrNilDependency is returned by NewEngine when a required collaborator is
// missing.
var ErrNilDependency = errors.New("nil dependency")

// Reasons reported on RetrievalContext.DegradedReason.
const (
	// DegradedVector means the embedding or vector branch failed and the
	// context was built from lexical results alone.
	DegradedVector = "vector_unavailable"

	// DegradedLexical means the lexical branch failed and the context was
	// built from vector results alone.
	DegradedLexical = "lexical_unavailable"
)

// Engine coordinates one retrieval call end to end: acquire the repository's
// snapshot, run the vector and lexical branches concurrently, fuse the
// rankings, and assemble a bounded context.
type Engine struct {
	registry  *registry.Registry
	embedder  embed.Embedder
	defaults  Options
	recorder  Recorder
	cache     *resultCache
	cacheSize int
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithRecorder wires a telemetry recorder. Every retrieval call produces one
// event, including failed calls.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithCacheSize bounds the result cache. Zero disables caching.
func WithCacheSize(n int) EngineOption {
	return func(e *Engine) { e.cacheSize = n }
}

// NewEngine creates a retrieval engine. defaults fills any option a caller
// leaves zero on a call; its own zero fields fall back to the package
// defaults.
func NewEngine(reg *registry.Registry, embedder embed.Embedder, defaults Options, opts ...EngineOption) (*Engine, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: registry", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder", ErrNilDependency)
	}

	e := &Engine{
		registry:  reg,
		embedder:  embedder,
		defaults:  defaults,
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.cacheSize > 0 {
		cache, err := newResultCache(e.cacheSize)
		if err != nil {
			return nil, err
		}
		e.cache = cache
	}

	return e, nil
}

// Retrieve runs the full retrieval flow for one question against one
// repository. The repository must have a ready index. A single branch
// failing or timing out degrades the result to the surviving branch; the
// call errors only when the question is blank, the index is not ready, the
// caller's context is cancelled, or both branches fail.
func (e *Engine) Retrieve(ctx context.Context, repositoryID, question string, opts Options) (*RetrievalContext, error) {
	start := time.Now()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, qaerrors.ValidationError("question must not be empty", nil)
	}
	if repositoryID == "" {
		return nil, qaerrors.ValidationError("repository ID must not be empty", nil)
	}

	opts = opts.merge(e.defaults).normalize()

	snap, release, err := e.registry.Acquire(repositoryID)
	if err != nil {
		e.recordFailure(ctx, start, repositoryID, question, "", err)
		return nil, err
	}
	defer release()

	key := cacheKey(repositoryID, snap.BuildID, question, opts)
	if e.cache != nil {
		if hit, ok := e.cache.get(key); ok {
			hit.Duration = time.Since(start)
			e.recordResult(ctx, start, hit)
			return hit, nil
		}
	}

	vecResults, lexResults, vecErr, lexErr := e.parallelRetrieve(ctx, snap, question, opts)

	if err := ctx.Err(); err != nil {
		e.recordFailure(ctx, start, repositoryID, question, snap.BuildID, err)
		return nil, err
	}
	if vecErr != nil && lexErr != nil {
		err := qaerrors.RetrievalFailure(vecErr, lexErr)
		e.recordFailure(ctx, start, repositoryID, question, snap.BuildID, err)
		return nil, err
	}

	degradedReason := ""
	switch {
	case vecErr != nil:
		degradedReason = DegradedVector
		slog.Warn("vector_branch_failed",
			slog.String("repo_id", repositoryID),
			slog.String("error", vecErr.Error()))
	case lexErr != nil:
		degradedReason = DegradedLexical
		slog.Warn("lexical_branch_failed",
			slog.String("repo_id", repositoryID),
			slog.String("error", lexErr.Error()))
	}

	fused := NewFuser(opts.FusionK).Fuse(vecResults, lexResults, *opts.Weights)
	candidates := resolveChunks(snap, fused)
	included, stats := NewAssembler(opts.DedupThreshold, opts.ShingleSize).
		InUnit(opts.BudgetUnit).
		Assemble(candidates, opts.ContextBudget)

	rc := &RetrievalContext{
		RepositoryID:   repositoryID,
		Question:       question,
		BuildID:        snap.BuildID,
		Chunks:         included,
		Stats:          stats,
		Degraded:       degradedReason != "",
		DegradedReason: degradedReason,
		Duration:       time.Since(start),
	}

	// Only full results are cached; a degraded result is recomputed on the
	// next call.
	if e.cache != nil && !rc.Degraded {
		e.cache.put(key, rc)
	}

	e.recordResult(ctx, start, rc)
	return rc, nil
}

// parallelRetrieve runs the vector and lexical branches concurrently. Branch
// failures are captured and returned, never propagated through the group, so
// one branch cannot cancel the other.
func (e *Engine) parallelRetrieve(ctx context.Context, snap *registry.Snapshot, question string, opts Options) (vec []*store.VectorResult, lex []*store.LexicalResult, vecErr, lexErr error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ectx, ecancel := context.WithTimeout(gctx, opts.EmbedTimeout)
		vector, err := e.embedder.Embed(ectx, question)
		ecancel()
		if err != nil {
			vecErr = qaerrors.EmbeddingFailure(err)
			return nil
		}

		if snap.Vector == nil {
			vecErr = qaerrors.VectorBackendError(errors.New("snapshot has no vector index"))
			return nil
		}

		sctx, scancel := context.WithTimeout(gctx, opts.VectorTimeout)
		defer scancel()
		results, err := snap.Vector.Search(sctx, vector, opts.VectorTopK)
		if err != nil {
			vecErr = qaerrors.VectorBackendError(err)
			return nil
		}
		vec = results
		return nil
	})

	g.Go(func() error {
		results, err := snap.Lexical.Search(gctx, question, opts.LexicalTopK)
		if err != nil {
			lexErr = err
			return nil
		}
		lex = results
		return nil
	})

	// Branches always return nil, so Wait only synchronizes.
	_ = g.Wait()
	return vec, lex, vecErr, lexErr
}

// resolveChunks maps fused entries back to chunk records from the snapshot.
// An ID the snapshot no longer knows is logged and skipped.
func resolveChunks(snap *registry.Snapshot, fused []*FusedResult) []*ContextChunk {
	candidates := make([]*ContextChunk, 0, len(fused))
	for _, fr := range fused {
		chunk, ok := snap.Chunk(fr.ChunkID)
		if !ok {
			slog.Warn("fused_chunk_missing_from_snapshot",
				slog.String("repo_id", snap.RepositoryID),
				slog.String("chunk_id", fr.ChunkID))
			continue
		}
		candidates = append(candidates, &ContextChunk{
			Chunk:        chunk,
			Score:        fr.Score,
			VectorRank:   fr.VectorRank,
			LexicalRank:  fr.LexicalRank,
			VectorScore:  fr.VectorScore,
			LexicalScore: fr.LexicalScore,
			MatchedTerms: fr.MatchedTerms,
		})
	}
	return candidates
}

// recordResult emits a telemetry event for a served context.
func (e *Engine) recordResult(ctx context.Context, start time.Time, rc *RetrievalContext) {
	if e.recorder == nil {
		return
	}
	e.recorder.RecordRetrieval(context.WithoutCancel(ctx), &RetrievalEvent{
		At:             start,
		RepositoryID:   rc.RepositoryID,
		Question:       rc.Question,
		BuildID:        rc.BuildID,
		Duration:       rc.Duration,
		ChunkCount:     len(rc.Chunks),
		Considered:     rc.Stats.Considered,
		Degraded:       rc.Degraded,
		DegradedReason: rc.DegradedReason,
		FromCache:      rc.FromCache,
	})
}

// recordFailure emits a telemetry event for a failed call.
func (e *Engine) recordFailure(ctx context.Context, start time.Time, repositoryID, question, buildID string, err error) {
	if e.recorder == nil {
		return
	}
	e.recorder.RecordRetrieval(context.WithoutCancel(ctx), &RetrievalEvent{
		At:           start,
		RepositoryID: repositoryID,
		Question:     question,
		BuildID:      buildID,
		Duration:     time.Since(start),
		Failed:       true,
		Error:        err.Error(),
	})
}

// Close releases the engine's cached results. The registry and embedder are
// owned by the caller and stay open.
func (e *Engine) Close() error {
	if e.cache != nil {
		e.cache.purge()
	}
	return nil
}
