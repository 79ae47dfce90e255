// Package registry holds the per-repository index snapshots the retrieval
// engine searches against. Each repository maps to an atomically swappable
// Snapshot; ingest installs a fresh snapshot after a successful build and
// queries keep serving the previous one until the swap lands.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	qaerrors "github.com/repoqa/repoqa/internal/errors"
	"github.com/repoqa/repoqa/internal/store"
)

// Options carries the backend settings the registry needs to restore
// persisted snapshots at startup.
type Options struct {
	// DataDir is the root data directory; index artifacts live under
	// <DataDir>/index/<repositoryID>/.
	DataDir string

	// LexicalBackend selects the lexical implementation ("memory" or
	// "bleve") used when restoring snapshots.
	LexicalBackend string

	// BM25 parameterizes restored lexical indexes.
	BM25 store.BM25Config

	// Vector selects and parameterizes the vector backend. A zero
	// Dimensions is resolved from the persisted artifact or the pinned
	// embedder state at load time.
	Vector store.VectorBackendConfig
}

// Snapshot is an immutable view of one repository's ready index: the chunk
// set, the lexical index and the vector index that were built together under
// one build ID. Readers acquire it through the registry and release it when
// done; resources are freed once the last reader finishes.
type Snapshot struct {
	RepositoryID string
	BuildID      string
	BuiltAt      time.Time

	Lexical store.LexicalIndex
	Vector  store.VectorIndex

	chunks    map[string]*store.Chunk
	fileCount int

	refs atomic.Int64
}

// NewSnapshot assembles a snapshot from a completed build. The caller keeps
// one reference and must Close it; installing into a registry transfers that
// reference.
func NewSnapshot(repositoryID, buildID string, chunks []*store.Chunk, lexical store.LexicalIndex, vector store.VectorIndex) *Snapshot {
	byID := make(map[string]*store.Chunk, len(chunks))
	files := make(map[string]struct{})
	for _, c := range chunks {
		byID[c.ID] = c
		files[c.FilePath] = struct{}{}
	}

	s := &Snapshot{
		RepositoryID: repositoryID,
		BuildID:      buildID,
		BuiltAt:      time.Now(),
		Lexical:      lexical,
		Vector:       vector,
		chunks:       byID,
		fileCount:    len(files),
	}
	s.refs.Store(1)
	return s
}

// Chunk returns the chunk for an ID, if it belongs to this snapshot.
func (s *Snapshot) Chunk(id string) (*store.Chunk, bool) {
	c, ok := s.chunks[id]
	return c, ok
}

// ChunkCount returns the number of chunks in the snapshot.
func (s *Snapshot) ChunkCount() int {
	return len(s.chunks)
}

// FileCount returns the number of distinct files the chunks came from.
func (s *Snapshot) FileCount() int {
	return s.fileCount
}

// Close releases the creator's reference. Index resources are freed once
// every in-flight reader has released too.
func (s *Snapshot) Close() error {
	s.release()
	return nil
}

// tryRetain takes a reference unless the snapshot is already draining.
func (s *Snapshot) tryRetain() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *Snapshot) release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	if s.Lexical != nil {
		if err := s.Lexical.Close(); err != nil {
			slog.Warn("lexical_index_close_failed",
				slog.String("repository", s.RepositoryID),
				slog.String("error", err.Error()))
		}
	}
	if s.Vector != nil {
		if err := s.Vector.Close(); err != nil {
			slog.Warn("vector_index_close_failed",
				slog.String("repository", s.RepositoryID),
				slog.String("error", err.Error()))
		}
	}
}

// Info summarizes a registered snapshot for status surfaces.
type Info struct {
	RepositoryID string    `json:"repository_id"`
	BuildID      string    `json:"build_id"`
	BuiltAt      time.Time `json:"built_at"`
	ChunkCount   int       `json:"chunk_count"`
	FileCount    int       `json:"file_count"`
}

// Registry maps repository IDs to their current snapshots. Lookups are
// lock-free after the pointer fetch; installs swap atomically so readers
// never observe a half-built index.
type Registry struct {
	mu     sync.RWMutex
	repos  map[string]*atomic.Pointer[Snapshot]
	closed bool

	opts     Options
	metadata store.MetadataStore
}

// New creates an empty registry. Call Load to restore persisted snapshots.
func New(metadata store.MetadataStore, opts Options) *Registry {
	return &Registry{
		repos:    make(map[string]*atomic.Pointer[Snapshot]),
		opts:     opts,
		metadata: metadata,
	}
}

// VectorIndexPath returns where a repository's vector artifact is persisted.
func VectorIndexPath(dataDir, repositoryID string) string {
	return filepath.Join(dataDir, "index", repositoryID, "vectors.hnsw")
}

// LexicalIndexPath returns where a repository's bleve index is persisted.
// The memory backend rebuilds from stored chunks instead.
func LexicalIndexPath(dataDir, repositoryID string) string {
	return filepath.Join(dataDir, "index", repositoryID, "lexical.bleve")
}

// QdrantCollection returns the per-repository collection name used when the
// vector backend is qdrant.
func QdrantCollection(repositoryID string) string {
	return "repoqa_" + repositoryID
}

func (r *Registry) repoIndexDir(repositoryID string) string {
	return filepath.Join(r.opts.DataDir, "index", repositoryID)
}

// Install persists the snapshot's vector artifact and swaps it in as the
// repository's live index. The replaced snapshot keeps serving in-flight
// queries and is closed once they finish. The previous index stays live
// untouched when persisting fails.
func (r *Registry) Install(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("cannot install a nil snapshot")
	}
	if snap.RepositoryID == "" || snap.BuildID == "" {
		return fmt.Errorf("snapshot needs a repository ID and build ID")
	}
	if snap.Lexical == nil {
		return fmt.Errorf("snapshot for %s has no lexical index", snap.RepositoryID)
	}

	if snap.Vector != nil {
		path := VectorIndexPath(r.opts.DataDir, snap.RepositoryID)
		if err := snap.Vector.Save(path); err != nil {
			return fmt.Errorf("failed to persist vector index: %w", err)
		}
	}

	old, err := r.swap(snap)
	if err != nil {
		return err
	}
	if old != nil {
		old.release()
	}

	slog.Info("index_installed",
		slog.String("repository", snap.RepositoryID),
		slog.String("build", snap.BuildID),
		slog.Int("chunks", snap.ChunkCount()),
		slog.Int("files", snap.FileCount()))

	return nil
}

// swap publishes the snapshot and returns the one it replaced.
func (r *Registry) swap(snap *Snapshot) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("registry is closed")
	}

	ptr, ok := r.repos[snap.RepositoryID]
	if !ok {
		ptr = &atomic.Pointer[Snapshot]{}
		r.repos[snap.RepositoryID] = ptr
	}
	return ptr.Swap(snap), nil
}

// Acquire returns the repository's current snapshot and a release func the
// caller must invoke when done with it. Repositories with no installed
// snapshot report IndexNotReady.
func (r *Registry) Acquire(repositoryID string) (*Snapshot, func(), error) {
	for {
		r.mu.RLock()
		ptr := r.repos[repositoryID]
		r.mu.RUnlock()

		if ptr == nil {
			return nil, nil, qaerrors.IndexNotReady(repositoryID)
		}

		snap := ptr.Load()
		if snap == nil {
			return nil, nil, qaerrors.IndexNotReady(repositoryID)
		}

		// A concurrent install may drain this snapshot between the
		// load and the retain; retry against the fresh pointer.
		if !snap.tryRetain() {
			continue
		}

		var once sync.Once
		release := func() { once.Do(snap.release) }
		return snap, release, nil
	}
}

// Ready reports whether the repository has an installed snapshot.
func (r *Registry) Ready(repositoryID string) bool {
	r.mu.RLock()
	ptr := r.repos[repositoryID]
	r.mu.RUnlock()
	return ptr != nil && ptr.Load() != nil
}

// List summarizes every installed snapshot, ordered by repository ID.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.repos))
	for id, ptr := range r.repos {
		snap := ptr.Load()
		if snap == nil {
			continue
		}
		infos = append(infos, Info{
			RepositoryID: id,
			BuildID:      snap.BuildID,
			BuiltAt:      snap.BuiltAt,
			ChunkCount:   snap.ChunkCount(),
			FileCount:    snap.FileCount(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].RepositoryID < infos[j].RepositoryID })
	return infos
}

// Drop removes the repository's snapshot, deletes its persisted artifacts
// and its metadata rows. Unknown repositories report store.ErrNotFound.
func (r *Registry) Drop(ctx context.Context, repositoryID string) error {
	r.mu.Lock()
	ptr, ok := r.repos[repositoryID]
	if ok {
		delete(r.repos, repositoryID)
	}
	r.mu.Unlock()

	var snap *Snapshot
	if ok {
		snap = ptr.Swap(nil)
	}

	if snap == nil {
		// Nothing was serving; confirm the repository exists at all so
		// unknown IDs surface as not-found instead of silently
		// succeeding.
		if _, err := r.metadata.GetRepository(ctx, repositoryID); err != nil {
			return err
		}
	} else {
		// Remote collections are only reachable through the live
		// handle; a never-loaded qdrant repository keeps its
		// collection until the next ingest reuses it.
		if qd, isQdrant := snap.Vector.(*store.QdrantIndex); isQdrant {
			if err := qd.DropCollection(ctx); err != nil {
				slog.Warn("qdrant_collection_drop_failed",
					slog.String("repository", repositoryID),
					slog.String("error", err.Error()))
			}
		}
		snap.release()
	}

	if err := os.RemoveAll(r.repoIndexDir(repositoryID)); err != nil {
		return fmt.Errorf("failed to delete index artifacts: %w", err)
	}

	if err := r.metadata.DeleteRepository(ctx, repositoryID); err != nil {
		return err
	}

	slog.Info("repository_dropped", slog.String("repository", repositoryID))
	return nil
}

// Load restores snapshots for every repository the metadata store marks as
// previously indexed. Repositories that fail to restore are skipped with a
// warning and stay not-ready until the next ingest. Returns the number of
// snapshots restored.
func (r *Registry) Load(ctx context.Context) (int, error) {
	repos, err := r.metadata.ListRepositories(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list repositories: %w", err)
	}

	restored := 0
	for _, repo := range repos {
		if repo.BuildID == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		if err := r.loadRepository(ctx, repo); err != nil {
			slog.Warn("index_restore_failed",
				slog.String("repository", repo.ID),
				slog.String("build", repo.BuildID),
				slog.String("error", err.Error()))
			continue
		}
		restored++
	}

	if restored > 0 {
		slog.Info("indexes_restored", slog.Int("repositories", restored))
	}
	return restored, nil
}

func (r *Registry) loadRepository(ctx context.Context, repo *store.Repository) error {
	chunks, err := r.metadata.GetChunksByRepository(ctx, repo.ID)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("repository has a build ID but no persisted chunks, reindex it")
	}

	lexical, err := store.OpenLexicalIndex(
		r.opts.LexicalBackend,
		LexicalIndexPath(r.opts.DataDir, repo.ID),
		repo.ID, chunks, r.opts.BM25)
	if err != nil {
		return fmt.Errorf("failed to restore lexical index: %w", err)
	}

	vector, err := r.openVector(ctx, repo.ID)
	if err != nil {
		_ = lexical.Close()
		return err
	}

	snap := NewSnapshot(repo.ID, repo.BuildID, chunks, lexical, vector)
	if !repo.IndexedAt.IsZero() {
		snap.BuiltAt = repo.IndexedAt
	}

	// A crash between persisting the index artifact and the metadata rows
	// can leave pieces of two builds on disk. Refuse to serve the mix; the
	// repository stays not-ready until the next ingest.
	if err := VerifyBuild(snap); err != nil {
		snap.release()
		return fmt.Errorf("restored index disagrees with the recorded build, reindex the repository: %w", err)
	}

	if !QuickCheck(snap) {
		slog.Warn("index_counts_mismatch_after_restore",
			slog.String("repository", repo.ID),
			slog.Int("chunks", snap.ChunkCount()))
	}

	old, err := r.swap(snap)
	if err != nil {
		snap.release()
		return err
	}
	if old != nil {
		old.release()
	}

	slog.Debug("index_restored",
		slog.String("repository", repo.ID),
		slog.String("build", repo.BuildID),
		slog.Int("chunks", snap.ChunkCount()))
	return nil
}

// openVector restores the repository's vector index for the configured
// backend.
func (r *Registry) openVector(ctx context.Context, repositoryID string) (store.VectorIndex, error) {
	cfg := r.opts.Vector.Index

	switch r.opts.Vector.Backend {
	case "", store.VectorBackendHNSW:
		path := VectorIndexPath(r.opts.DataDir, repositoryID)
		if cfg.Dimensions == 0 {
			dims, err := store.ReadHNSWIndexDimensions(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read vector artifact: %w", err)
			}
			cfg.Dimensions = dims
		}
		if cfg.Dimensions == 0 {
			cfg.Dimensions = r.pinnedDimensions(ctx)
		}
		if cfg.Dimensions == 0 {
			return nil, fmt.Errorf("cannot determine vector dimensions, reindex the repository")
		}

		idx, err := store.NewHNSWIndex(cfg)
		if err != nil {
			return nil, err
		}
		if err := idx.Load(path); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("failed to load vector index: %w", err)
		}
		return idx, nil

	case store.VectorBackendQdrant:
		if cfg.Dimensions == 0 {
			cfg.Dimensions = r.pinnedDimensions(ctx)
		}
		if cfg.Dimensions == 0 {
			return nil, fmt.Errorf("cannot determine vector dimensions, reindex the repository")
		}
		return store.NewQdrantIndex(
			r.opts.Vector.QdrantURL,
			r.opts.Vector.QdrantAPIKey,
			QdrantCollection(repositoryID),
			cfg,
			r.opts.Vector.QdrantTimeout)

	default:
		return nil, fmt.Errorf("unknown vector backend %q", r.opts.Vector.Backend)
	}
}

// pinnedDimensions reads the embedder dimensions recorded at ingest time.
func (r *Registry) pinnedDimensions(ctx context.Context) int {
	raw, err := r.metadata.GetState(ctx, store.StateKeyEmbedderDimensions)
	if err != nil || raw == "" {
		return 0
	}
	dims, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return dims
}

// Close drains every snapshot and rejects further installs. Safe to call
// more than once.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ptrs := make([]*atomic.Pointer[Snapshot], 0, len(r.repos))
	for _, ptr := range r.repos {
		ptrs = append(ptrs, ptr)
	}
	r.repos = make(map[string]*atomic.Pointer[Snapshot])
	r.mu.Unlock()

	for _, ptr := range ptrs {
		if snap := ptr.Swap(nil); snap != nil {
			snap.release()
		}
	}
	return nil
}
