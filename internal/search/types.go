// Package search implements hybrid retrieval for one question against one
// repository's index. The vector and lexical branches run concurrently, their
// rankings are combined by weighted reciprocal rank fusion, and the fused
// list is deduplicated and packed into a bounded context block.
package search

import (
	"context"
	"time"

	"github.com/repoqa/repoqa/internal/store"
)

// ContextChunk is one chunk selected for the answer context, together with
// the retrieval evidence that put it there.
type ContextChunk struct {
	// Chunk is the full chunk record from the index snapshot.
	Chunk *store.Chunk

	// Score is the fused reciprocal-rank score.
	Score float64

	// VectorRank is the position in the vector results (1-indexed, 0 if absent).
	VectorRank int

	// LexicalRank is the position in the lexical results (1-indexed, 0 if absent).
	LexicalRank int

	// VectorScore is the vector backend's similarity score (0 if absent).
	VectorScore float64

	// LexicalScore is the BM25 score (0 if absent).
	LexicalScore float64

	// MatchedTerms are the query terms the lexical index matched.
	MatchedTerms []string
}

// AssemblyStats counts what happened to the fused candidates during assembly.
type AssemblyStats struct {
	// Considered is the number of fused candidates examined.
	Considered int

	// Included is the number of chunks in the final context.
	Included int

	// DuplicatesDropped is the number dropped as near-duplicates of an
	// already-accepted chunk.
	DuplicatesDropped int

	// BudgetSkipped is the number skipped because they would overflow the
	// context budget.
	BudgetSkipped int
}

// RetrievalContext is the bounded, deduplicated context block built for one
// question. An empty Chunks slice is a valid result meaning no relevant
// content was found, not an error.
type RetrievalContext struct {
	RepositoryID string
	Question     string

	// BuildID identifies the index snapshot the context was built from.
	BuildID string

	// Chunks are the included chunks in fused-rank order.
	Chunks []*ContextChunk

	// Stats describes the assembly outcome.
	Stats AssemblyStats

	// Degraded is true when only one evidence source contributed because
	// the other branch failed or timed out.
	Degraded bool

	// DegradedReason names the failed branch when Degraded is set.
	DegradedReason string

	// Duration is the wall time of the retrieval call.
	Duration time.Duration

	// FromCache is true when the context was served from the result cache.
	FromCache bool
}

// TotalSize returns the summed size of the included chunks in
// token-equivalents, the assembler's default budget unit.
func (rc *RetrievalContext) TotalSize() int {
	total := 0
	for _, c := range rc.Chunks {
		total += chunkSize(c.Chunk, BudgetTokens)
	}
	return total
}

// Recorder receives one event per retrieval call, including failed calls.
// Implementations must be safe for concurrent use and should not block.
type Recorder interface {
	RecordRetrieval(ctx context.Context, event *RetrievalEvent)
}

// RetrievalEvent describes one retrieval call for telemetry.
type RetrievalEvent struct {
	At             time.Time
	RepositoryID   string
	Question       string
	BuildID        string
	Duration       time.Duration
	ChunkCount     int
	Considered     int
	Degraded       bool
	DegradedReason string
	FromCache      bool
	Failed         bool
	Error          string
}
