// Package store provides the per-repository index structures: the
// in-memory BM25 lexical index (with a disk-backed Bleve alternative),
// the vector index (in-process HNSW or remote Qdrant), and the SQLite
// metadata store for repositories, ingest sessions and chunks.
package store

import (
	"context"
	"fmt"
	"time"
)

// ContentType classifies what a chunk holds.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// Chunk is an immutable unit of retrievable text. Chunks are created
// once per ingest build and never mutated; a re-ingest produces a fresh
// chunk set under a new build ID rather than editing chunks in place.
type Chunk struct {
	ID           string            // stable within one build: <path>#<seq>@<build8>
	RepositoryID string            // owning repository
	FilePath     string            // relative to the repository root
	Content      string            // raw chunk text
	Language     string            // go, python, typescript, ...
	ContentType  ContentType       // code, markdown, text
	StartLine    int               // 1-indexed
	EndLine      int               // inclusive
	TokenCount   int               // whitespace-split estimate, set at chunking time
	Metadata     map[string]string // chunker extras (symbol name, heading, ...)
	CreatedAt    time.Time
}

// LexicalResult is a single lexical search hit.
type LexicalResult struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// IndexStats describes a built lexical index.
type IndexStats struct {
	ChunkCount  int
	TermCount   int
	AvgChunkLen float64
}

// LexicalIndex is a sparse keyword index over one repository's chunks.
// Implementations are built whole at construction time and are read-only
// afterwards, so Search needs no locking and rebuilds swap the entire
// index instance.
type LexicalIndex interface {
	// Search scores every chunk sharing at least one term with the query
	// and returns up to limit results, best first. Ties are broken by
	// chunk ID ascending. An empty or no-term query returns an empty
	// result, not an error.
	Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error)

	// AllIDs returns every chunk ID in the index, for consistency checks
	// against the vector side.
	AllIDs() ([]string, error)

	// Stats returns index statistics.
	Stats() *IndexStats

	Close() error
}

// BM25Config configures lexical index construction.
type BM25Config struct {
	// K1 is the term-frequency saturation parameter.
	K1 float64

	// B is the chunk-length normalization parameter. Zero is meaningful
	// and disables length normalization entirely.
	B float64

	// StopWords are dropped during tokenization.
	StopWords []string

	// MinTokenLength drops shorter tokens during tokenization.
	MinTokenLength int
}

// DefaultBM25Config returns the default BM25 parameters.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.5,
		B:              0.75,
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords contains programming keywords too common to carry
// signal in code corpora.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ChunkID  string
	Distance float32 // backend distance, lower is closer
	Score    float32 // normalized similarity in [0,1], higher is closer
}

// VectorIndexConfig configures a vector index backend.
type VectorIndexConfig struct {
	// Dimensions is the embedding width. Required.
	Dimensions int

	// Metric is "cosine" or "l2".
	Metric string

	// M and EfSearch are HNSW graph parameters (in-process backend only).
	M        int
	EfSearch int
}

// DefaultVectorIndexConfig returns sensible vector index defaults.
func DefaultVectorIndexConfig(dimensions int) VectorIndexConfig {
	return VectorIndexConfig{
		Dimensions: dimensions,
		Metric:     "cosine",
		M:          16,
		EfSearch:   64,
	}
}

// VectorIndex provides nearest-neighbour search over chunk embeddings.
type VectorIndex interface {
	// Add inserts vectors with their chunk IDs. Existing IDs are replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest neighbours of the query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by chunk ID.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all chunk IDs in the index (for consistency checks).
	AllIDs() []string

	// Contains checks if a chunk ID exists.
	Contains(id string) bool

	// Count returns the number of vectors.
	Count() int

	// Persistence. Remote backends treat these as no-ops.
	Save(path string) error
	Load(path string) error
	Close() error
}

// Repository is an indexed source repository.
type Repository struct {
	ID         string // git_<owner>_<repo>_<hash8> or local_<name>_<hash8>
	Name       string
	URL        string // remote URL, empty for local paths
	Kind       string // "git" or "local"
	RootPath   string // local checkout or source directory
	LastCommit string
	BuildID    string // current ready build, empty until first success
	FileCount  int
	ChunkCount int
	IndexedAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Session states. A session moves pending -> processing -> one of the
// terminal states and never backwards.
const (
	SessionPending    = "pending"
	SessionProcessing = "processing"
	SessionSuccess    = "success"
	SessionFailed     = "failed"
	SessionCancelled  = "cancelled"
)

// Session tracks one ingest run for a repository.
type Session struct {
	ID             string // uuid
	RepositoryID   string
	BuildID        string
	Status         string
	Error          string // set when Status is failed
	FilesTotal     int
	FilesProcessed int
	ChunksTotal    int
	ChunksEmbedded int
	StartedAt      time.Time
	FinishedAt     time.Time
	CreatedAt      time.Time
}

// IsTerminal reports whether the session has finished.
func (s *Session) IsTerminal() bool {
	switch s.Status {
	case SessionSuccess, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// File is a tracked source file, used to detect changes between builds.
type File struct {
	ID           string // sha256(repositoryID + path)
	RepositoryID string
	Path         string // relative to repository root
	Size         int64
	ModTime      time.Time
	ContentHash  string // sha256 of content
	Language     string
	IndexedAt    time.Time
}

// MetadataStore persists repositories, sessions, files and chunks.
type MetadataStore interface {
	// Repository operations
	SaveRepository(ctx context.Context, repo *Repository) error
	GetRepository(ctx context.Context, id string) (*Repository, error)
	ListRepositories(ctx context.Context) ([]*Repository, error)
	UpdateRepositoryBuild(ctx context.Context, id, buildID string, fileCount, chunkCount int) error
	DeleteRepository(ctx context.Context, id string) error

	// Session operations
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, repositoryID string, limit int) ([]*Session, error)
	ActiveSession(ctx context.Context, repositoryID string) (*Session, error)
	UpdateSessionStatus(ctx context.Context, id, status, errMsg string) error
	UpdateSessionProgress(ctx context.Context, id string, filesProcessed, chunksTotal, chunksEmbedded int) error

	// File operations
	SaveFiles(ctx context.Context, files []*File) error
	GetFilesByRepository(ctx context.Context, repositoryID string) (map[string]*File, error)
	DeleteFilesByRepository(ctx context.Context, repositoryID string) error

	// Chunk operations
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunksByRepository(ctx context.Context, repositoryID string) ([]*Chunk, error)
	DeleteChunksByRepository(ctx context.Context, repositoryID string) error

	// State operations (key-value store for runtime state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// State keys for the metadata store.
const (
	// StateKeyEmbedderModel records the embedding model the indexes were
	// built with, to detect dimension mismatches on restart.
	StateKeyEmbedderModel = "index_embedding_model"
	// StateKeyEmbedderDimensions records the embedding width.
	StateKeyEmbedderDimensions = "index_embedding_dimensions"
)

// CurrentSchemaVersion is the current metadata database schema version.
const CurrentSchemaVersion = 1

// ErrDimensionMismatch indicates a vector of the wrong width.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (reindex the repository)", e.Expected, e.Got)
}
