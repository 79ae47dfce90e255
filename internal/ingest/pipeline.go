package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/repoqa/repoqa/internal/chunk"
	"github.com/repoqa/repoqa/internal/embed"
	qaerrors "github.com/repoqa/repoqa/internal/errors"
	"github.com/repoqa/repoqa/internal/registry"
	"github.com/repoqa/repoqa/internal/store"
)

// Pipeline stages reported through ProgressFunc.
const (
	StageFetch   = "fetch"
	StageScan    = "scan"
	StageChunk   = "chunk"
	StageEmbed   = "embed"
	StageIndex   = "index"
	StagePersist = "persist"
)

// Progress is a point-in-time snapshot of one ingest run.
type Progress struct {
	Stage          string
	FilesTotal     int
	FilesProcessed int
	FilesSkipped   int
	ChunksTotal    int
	ChunksEmbedded int
	Percent        float64
}

// ProgressFunc receives progress snapshots. Called from the ingest
// goroutine; implementations must be fast.
type ProgressFunc func(Progress)

// Config parameterizes the ingest pipeline.
type Config struct {
	DataDir      string
	CloneDir     string
	CloneTimeout time.Duration

	Scan  ScanOptions
	Chunk chunk.Options

	// BatchSize is texts per embedding request, MaxRetries the attempts
	// per batch before the build fails.
	BatchSize  int
	MaxRetries int

	// Workers bounds chunking parallelism. Zero means NumCPU.
	Workers int

	LexicalBackend string
	BM25           store.BM25Config
	Vector         store.VectorBackendConfig
}

func (c Config) normalize() Config {
	if c.CloneDir == "" {
		c.CloneDir = filepath.Join(c.DataDir, "repos")
	}
	if c.CloneTimeout <= 0 {
		c.CloneTimeout = DefaultCloneTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = embed.DefaultBatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = embed.DefaultMaxRetries
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	return c
}

// Request names one repository to ingest.
type Request struct {
	// Source is an https git URL or a local directory path.
	Source string

	// Force re-clones remote sources and cancels a pending session for
	// the same repository instead of conflicting with it.
	Force bool
}

// Pipeline runs ingest builds. Safe for concurrent use across different
// repositories; builds for the same repository are serialized by a
// per-repository file lock.
type Pipeline struct {
	metadata store.MetadataStore
	registry *registry.Registry
	embedder embed.Embedder
	cfg      Config
	logger   *slog.Logger
}

// NewPipeline wires an ingest pipeline.
func NewPipeline(metadata store.MetadataStore, reg *registry.Registry, embedder embed.Embedder, cfg Config) (*Pipeline, error) {
	if metadata == nil {
		return nil, fmt.Errorf("ingest: nil metadata store")
	}
	if reg == nil {
		return nil, fmt.Errorf("ingest: nil registry")
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingest: nil embedder")
	}
	return &Pipeline{
		metadata: metadata,
		registry: reg,
		embedder: embedder,
		cfg:      cfg.normalize(),
		logger:   slog.Default().With("component", "ingest"),
	}, nil
}

// Ingest builds and installs a fresh index for the requested source. The
// returned session is terminal: success, failed or cancelled. The previous
// index, if any, keeps serving until the new snapshot is installed and is
// untouched when the build fails.
func (p *Pipeline) Ingest(ctx context.Context, req Request, onProgress ProgressFunc) (*store.Session, error) {
	fetcher, session, err := p.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	err = p.Execute(ctx, fetcher, session, onProgress)
	return session, err
}

// Prepare resolves the request into a fetcher and a freshly created pending
// session. Callers hand both to Execute, possibly on another goroutine; the
// session ID is valid for status polling the moment Prepare returns.
func (p *Pipeline) Prepare(ctx context.Context, req Request) (Fetcher, *store.Session, error) {
	fetcher, err := NewFetcher(req.Source, p.cfg.CloneDir, p.cfg.CloneTimeout, req.Force)
	if err != nil {
		return nil, nil, err
	}
	repoID := fetcher.RepositoryID()

	if err := p.resolveActiveSession(ctx, repoID, req.Force); err != nil {
		return nil, nil, err
	}

	session := &store.Session{
		ID:           uuid.NewString(),
		RepositoryID: repoID,
		BuildID:      uuid.NewString(),
		Status:       store.SessionPending,
		CreatedAt:    time.Now(),
	}
	if err := p.metadata.CreateSession(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("failed to create ingest session: %w", err)
	}
	return fetcher, session, nil
}

// Execute runs the build for a prepared session and records its terminal
// status. Rebuilds of one repository are serialized by a per-repository
// file lock, cross-process included.
func (p *Pipeline) Execute(ctx context.Context, fetcher Fetcher, session *store.Session, onProgress ProgressFunc) error {
	fail := func(err error) error {
		status := store.SessionFailed
		if ctx.Err() != nil {
			status = store.SessionCancelled
		}
		session.Status = status
		session.Error = err.Error()
		if uerr := p.metadata.UpdateSessionStatus(context.WithoutCancel(ctx), session.ID, status, err.Error()); uerr != nil {
			p.logger.Warn("session_status_update_failed",
				slog.String("session", session.ID),
				slog.String("error", uerr.Error()))
		}
		return err
	}

	lock, err := p.acquireLock(session.RepositoryID)
	if err != nil {
		return fail(err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	if err := p.run(ctx, fetcher, session, onProgress); err != nil {
		return fail(err)
	}

	session.Status = store.SessionSuccess
	if err := p.metadata.UpdateSessionStatus(ctx, session.ID, store.SessionSuccess, ""); err != nil {
		p.logger.Warn("session_status_update_failed",
			slog.String("session", session.ID),
			slog.String("error", err.Error()))
	}
	return nil
}

// resolveActiveSession enforces one running ingest per repository.
func (p *Pipeline) resolveActiveSession(ctx context.Context, repoID string, force bool) error {
	active, err := p.metadata.ActiveSession(ctx, repoID)
	if err != nil {
		return fmt.Errorf("failed to check active sessions: %w", err)
	}
	if active == nil {
		return nil
	}
	if !force {
		return qaerrors.New(qaerrors.ErrCodeSessionConflict,
			fmt.Sprintf("repository %s already has an active ingest session %s", repoID, active.ID), nil).
			WithSuggestion("wait for it to finish or re-run with --force")
	}
	p.logger.Warn("cancelling_active_session",
		slog.String("repository", repoID),
		slog.String("session", active.ID))
	return p.metadata.UpdateSessionStatus(ctx, active.ID, store.SessionCancelled, "superseded by forced ingest")
}

func (p *Pipeline) acquireLock(repoID string) (*flock.Flock, error) {
	dir := filepath.Join(p.cfg.DataDir, "locks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock dir: %w", err)
	}
	lock := flock.New(filepath.Join(dir, repoID+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire ingest lock: %w", err)
	}
	if !locked {
		return nil, qaerrors.New(qaerrors.ErrCodeSessionConflict,
			fmt.Sprintf("another process is ingesting %s", repoID), nil)
	}
	return lock, nil
}

// run executes the build stages for one session.
func (p *Pipeline) run(ctx context.Context, fetcher Fetcher, session *store.Session, onProgress ProgressFunc) error {
	start := time.Now()
	report := func(pr Progress) {
		if onProgress != nil {
			onProgress(pr)
		}
	}

	if err := p.metadata.UpdateSessionStatus(ctx, session.ID, store.SessionProcessing, ""); err != nil {
		return err
	}
	session.Status = store.SessionProcessing

	report(Progress{Stage: StageFetch})
	checkout, err := fetcher.Fetch(ctx)
	if err != nil {
		return err
	}
	if err := p.saveRepository(ctx, checkout); err != nil {
		return err
	}

	report(Progress{Stage: StageScan})
	files, err := Scan(ctx, checkout.Root, p.cfg.Scan)
	if err != nil {
		return qaerrors.Wrap(qaerrors.ErrCodeIngestFailed, err)
	}
	if len(files) == 0 {
		return qaerrors.EmptyCorpus(checkout.RepositoryID)
	}

	chunks, fileRecords, skipped, err := p.chunkFiles(ctx, checkout, files, session, onProgress)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return qaerrors.EmptyCorpus(checkout.RepositoryID)
	}

	vector, err := p.embedAndIndex(ctx, chunks, session, len(files), skipped, onProgress)
	if err != nil {
		return err
	}

	report(Progress{
		Stage: StageIndex, FilesTotal: len(files), FilesProcessed: len(files) - skipped,
		FilesSkipped: skipped, ChunksTotal: len(chunks), ChunksEmbedded: len(chunks), Percent: 90,
	})
	lexical, err := store.BuildLexicalIndex(
		p.cfg.LexicalBackend,
		registry.LexicalIndexPath(p.cfg.DataDir, checkout.RepositoryID),
		checkout.RepositoryID, chunks, p.cfg.BM25)
	if err != nil {
		_ = vector.Close()
		return qaerrors.Wrap(qaerrors.ErrCodeIngestFailed, err)
	}

	report(Progress{
		Stage: StagePersist, FilesTotal: len(files), FilesProcessed: len(files) - skipped,
		FilesSkipped: skipped, ChunksTotal: len(chunks), ChunksEmbedded: len(chunks), Percent: 95,
	})
	snap := registry.NewSnapshot(checkout.RepositoryID, session.BuildID, chunks, lexical, vector)
	if err := p.registry.Install(snap); err != nil {
		snap.Close()
		return qaerrors.Wrap(qaerrors.ErrCodeIngestFailed, err)
	}

	// Metadata commits only after the swap. An install failure leaves the
	// previous build's rows and artifacts untouched, and Load refuses any
	// snapshot whose pieces disagree with the recorded build.
	if err := p.persist(ctx, checkout, chunks, fileRecords); err != nil {
		return err
	}

	if err := p.metadata.UpdateRepositoryBuild(ctx, checkout.RepositoryID, session.BuildID, len(files), len(chunks)); err != nil {
		p.logger.Warn("repository_build_update_failed",
			slog.String("repository", checkout.RepositoryID),
			slog.String("error", err.Error()))
	}

	p.logger.Info("ingest_complete",
		slog.String("repository", checkout.RepositoryID),
		slog.String("build", session.BuildID),
		slog.Int("files", len(files)),
		slog.Int("chunks", len(chunks)),
		slog.Duration("took", time.Since(start)))

	report(Progress{
		Stage: StagePersist, FilesTotal: len(files), FilesProcessed: len(files) - skipped,
		FilesSkipped: skipped, ChunksTotal: len(chunks), ChunksEmbedded: len(chunks), Percent: 100,
	})
	return nil
}

func (p *Pipeline) saveRepository(ctx context.Context, checkout *Checkout) error {
	now := time.Now()
	repo := &store.Repository{
		ID:         checkout.RepositoryID,
		Name:       checkout.Name,
		URL:        checkout.URL,
		Kind:       checkout.Kind,
		RootPath:   checkout.Root,
		LastCommit: checkout.Commit,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing, err := p.metadata.GetRepository(ctx, checkout.RepositoryID); err == nil {
		repo.BuildID = existing.BuildID
		repo.FileCount = existing.FileCount
		repo.ChunkCount = existing.ChunkCount
		repo.IndexedAt = existing.IndexedAt
		repo.CreatedAt = existing.CreatedAt
	}
	return p.metadata.SaveRepository(ctx, repo)
}

// chunkFiles reads and chunks every scanned file with bounded parallelism.
// Unreadable files are counted as skipped, not fatal.
func (p *Pipeline) chunkFiles(ctx context.Context, checkout *Checkout, files []*SourceFile, session *store.Session, onProgress ProgressFunc) ([]*store.Chunk, []*store.File, int, error) {
	router := chunk.NewRouter(p.cfg.Chunk)
	defer router.Close()

	build8 := shortBuildID(session.BuildID)
	now := time.Now()

	results := make([]chunkedFile, len(files))
	var processed int64
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, f := range files {
		g.Go(func() error {
			results[i] = p.chunkOneFile(gctx, router, checkout, f, build8, now)

			mu.Lock()
			processed++
			done := int(processed)
			mu.Unlock()
			if onProgress != nil {
				onProgress(Progress{
					Stage:          StageChunk,
					FilesTotal:     len(files),
					FilesProcessed: done,
					Percent:        10 + 30*float64(done)/float64(len(files)),
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, 0, err
	}

	var chunks []*store.Chunk
	var records []*store.File
	skipped := 0
	for _, res := range results {
		if res.err != nil || res.record == nil {
			skipped++
			continue
		}
		if len(res.chunks) == 0 {
			skipped++
			continue
		}
		chunks = append(chunks, res.chunks...)
		records = append(records, res.record)
	}

	// Chunk IDs must be unique within the build; sequence numbers are
	// per-file so parallel chunking stays deterministic.
	if err := p.metadata.UpdateSessionProgress(ctx, session.ID, len(files)-skipped, len(chunks), 0); err != nil {
		p.logger.Warn("session_progress_update_failed", slog.String("error", err.Error()))
	}
	session.FilesTotal = len(files)
	session.FilesProcessed = len(files) - skipped
	session.ChunksTotal = len(chunks)

	return chunks, records, skipped, nil
}

// chunkedFile is the outcome of chunking one scanned file.
type chunkedFile struct {
	chunks []*store.Chunk
	record *store.File
	err    error
}

func (p *Pipeline) chunkOneFile(ctx context.Context, router *chunk.Router, checkout *Checkout, f *SourceFile, build8 string, now time.Time) (res chunkedFile) {
	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		p.logger.Warn("file_read_failed",
			slog.String("path", f.Path),
			slog.String("error", err.Error()))
		res.err = err
		return res
	}

	pieces, err := router.Chunk(ctx, &chunk.FileInput{
		Path:     f.Path,
		Content:  content,
		Language: f.Language,
	})
	if err != nil {
		p.logger.Warn("chunking_failed",
			slog.String("path", f.Path),
			slog.String("error", err.Error()))
		res.err = qaerrors.Wrap(qaerrors.ErrCodeChunkingFailed, err)
		return res
	}

	for seq, piece := range pieces {
		meta := map[string]string{"kind": piece.Kind}
		if piece.Symbol != "" {
			meta["symbol"] = piece.Symbol
		}
		res.chunks = append(res.chunks, &store.Chunk{
			ID:           fmt.Sprintf("%s#%d@%s", f.Path, seq, build8),
			RepositoryID: checkout.RepositoryID,
			FilePath:     f.Path,
			Content:      piece.Content,
			Language:     piece.Language,
			ContentType:  store.ContentType(piece.ContentType),
			StartLine:    piece.StartLine,
			EndLine:      piece.EndLine,
			TokenCount:   len(strings.Fields(piece.Content)),
			Metadata:     meta,
			CreatedAt:    now,
		})
	}

	sum := sha256.Sum256(content)
	res.record = &store.File{
		ID:           fileID(checkout.RepositoryID, f.Path),
		RepositoryID: checkout.RepositoryID,
		Path:         f.Path,
		Size:         f.Size,
		ModTime:      f.ModTime,
		ContentHash:  hex.EncodeToString(sum[:]),
		Language:     f.Language,
		IndexedAt:    now,
	}
	return res
}

// embedAndIndex embeds all chunks in batches and feeds them to a fresh
// vector index. Each batch retries with exponential backoff before the
// build fails.
func (p *Pipeline) embedAndIndex(ctx context.Context, chunks []*store.Chunk, session *store.Session, filesTotal, filesSkipped int, onProgress ProgressFunc) (store.VectorIndex, error) {
	vcfg := p.cfg.Vector
	if vcfg.Index.Dimensions == 0 {
		vcfg.Index.Dimensions = p.embedder.Dimensions()
	}
	if vcfg.Backend == store.VectorBackendQdrant && vcfg.Collection == "" {
		vcfg.Collection = registry.QdrantCollection(session.RepositoryID)
	}
	vector, err := store.NewVectorIndex(vcfg)
	if err != nil {
		return nil, qaerrors.Wrap(qaerrors.ErrCodeVectorBackend, err)
	}

	retryCfg := qaerrors.DefaultRetryConfig()
	retryCfg.MaxRetries = p.cfg.MaxRetries

	embedded := 0
	for batchStart := 0; batchStart < len(chunks); batchStart += p.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			_ = vector.Close()
			return nil, err
		}

		end := batchStart + p.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[batchStart:end]

		texts := make([]string, len(batch))
		ids := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
			ids[i] = c.ID
		}

		vectors, err := qaerrors.RetryWithResult(ctx, retryCfg, func() ([][]float32, error) {
			return p.embedder.EmbedBatch(ctx, texts)
		})
		if err != nil {
			_ = vector.Close()
			return nil, qaerrors.EmbeddingFailure(err)
		}

		if err := vector.Add(ctx, ids, vectors); err != nil {
			_ = vector.Close()
			return nil, qaerrors.Wrap(qaerrors.ErrCodeVectorBackend, err)
		}

		embedded += len(batch)
		session.ChunksEmbedded = embedded
		if err := p.metadata.UpdateSessionProgress(ctx, session.ID, session.FilesProcessed, session.ChunksTotal, embedded); err != nil {
			p.logger.Warn("session_progress_update_failed", slog.String("error", err.Error()))
		}
		if onProgress != nil {
			onProgress(Progress{
				Stage:          StageEmbed,
				FilesTotal:     filesTotal,
				FilesProcessed: filesTotal - filesSkipped,
				FilesSkipped:   filesSkipped,
				ChunksTotal:    len(chunks),
				ChunksEmbedded: embedded,
				Percent:        40 + 50*float64(embedded)/float64(len(chunks)),
			})
		}
	}

	return vector, nil
}

// persist replaces the repository's chunk and file rows and pins the
// embedder identity the build used.
func (p *Pipeline) persist(ctx context.Context, checkout *Checkout, chunks []*store.Chunk, files []*store.File) error {
	if err := p.metadata.DeleteChunksByRepository(ctx, checkout.RepositoryID); err != nil {
		return fmt.Errorf("failed to clear previous chunks: %w", err)
	}
	if err := p.metadata.SaveChunks(ctx, chunks); err != nil {
		return fmt.Errorf("failed to persist chunks: %w", err)
	}
	if err := p.metadata.DeleteFilesByRepository(ctx, checkout.RepositoryID); err != nil {
		return fmt.Errorf("failed to clear previous file records: %w", err)
	}
	if err := p.metadata.SaveFiles(ctx, files); err != nil {
		return fmt.Errorf("failed to persist file records: %w", err)
	}
	if err := p.metadata.SetState(ctx, store.StateKeyEmbedderModel, p.embedder.ModelName()); err != nil {
		return err
	}
	return p.metadata.SetState(ctx, store.StateKeyEmbedderDimensions, strconv.Itoa(p.embedder.Dimensions()))
}

func fileID(repositoryID, path string) string {
	sum := sha256.Sum256([]byte(repositoryID + ":" + path))
	return hex.EncodeToString(sum[:])[:16]
}

func shortBuildID(buildID string) string {
	return registry.BuildTag(buildID)
}
