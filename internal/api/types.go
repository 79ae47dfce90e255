package api

import (
	"time"

	"github.com/repoqa/repoqa/internal/search"
	"github.com/repoqa/repoqa/internal/store"
)

// IngestRequest starts an ingest. Exactly one of URL and Path is set.
type IngestRequest struct {
	URL   string `json:"url,omitempty"`
	Path  string `json:"path,omitempty"`
	Force bool   `json:"force,omitempty"`
}

// IngestAccepted is the 202 response to an ingest request.
type IngestAccepted struct {
	SessionID    string `json:"session_id"`
	RepositoryID string `json:"repository_id"`
}

// Repository describes one known repository.
type Repository struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url,omitempty"`
	Kind       string    `json:"kind"`
	BuildID    string    `json:"build_id,omitempty"`
	FileCount  int       `json:"file_count"`
	ChunkCount int       `json:"chunk_count"`
	Ready      bool      `json:"ready"`
	IndexedAt  time.Time `json:"indexed_at,omitzero"`
}

// SessionStatus reports one ingest session, with live progress while it
// is still running.
type SessionStatus struct {
	ID             string     `json:"id"`
	RepositoryID   string     `json:"repository_id"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	FilesTotal     int        `json:"files_total"`
	FilesProcessed int        `json:"files_processed"`
	ChunksTotal    int        `json:"chunks_total"`
	ChunksEmbedded int        `json:"chunks_embedded"`
	Stage          string     `json:"stage,omitempty"`
	Percent        float64    `json:"percent,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// QueryRequest asks a question against one repository.
type QueryRequest struct {
	RepositoryID string `json:"repository_id"`
	Question     string `json:"question"`
	TopK         int    `json:"top_k,omitempty"`
	Budget       int    `json:"budget,omitempty"`

	// Mode is "service" (generate an answer here) or "plugin" (return
	// the context and rendered prompt only). Empty means service when
	// an answerer is configured, plugin otherwise.
	Mode string `json:"mode,omitempty"`
}

// ContextChunk is one retrieved chunk with its evidence.
type ContextChunk struct {
	ID           string  `json:"id"`
	FilePath     string  `json:"file_path"`
	StartLine    int     `json:"start_line"`
	EndLine      int     `json:"end_line"`
	Language     string  `json:"language,omitempty"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
	VectorRank   int     `json:"vector_rank,omitempty"`
	LexicalRank  int     `json:"lexical_rank,omitempty"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// Answer is the generated answer in service mode.
type Answer struct {
	Text             string        `json:"text"`
	Model            string        `json:"model"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	Duration         time.Duration `json:"duration_ns"`
}

// QueryResponse carries the assembled context and, in service mode, the
// generated answer.
type QueryResponse struct {
	RepositoryID   string         `json:"repository_id"`
	BuildID        string         `json:"build_id"`
	Chunks         []ContextChunk `json:"chunks"`
	Degraded       bool           `json:"degraded,omitempty"`
	DegradedReason string         `json:"degraded_reason,omitempty"`
	FromCache      bool           `json:"from_cache,omitempty"`
	Duration       time.Duration  `json:"duration_ns"`

	// Prompt is the rendered generation prompt, returned in plugin mode.
	Prompt string `json:"prompt,omitempty"`

	Answer *Answer `json:"answer,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		Suggestion string `json:"suggestion,omitempty"`
	} `json:"error"`
}

func toRepository(repo *store.Repository, ready bool) Repository {
	return Repository{
		ID:         repo.ID,
		Name:       repo.Name,
		URL:        repo.URL,
		Kind:       repo.Kind,
		BuildID:    repo.BuildID,
		FileCount:  repo.FileCount,
		ChunkCount: repo.ChunkCount,
		Ready:      ready,
		IndexedAt:  repo.IndexedAt,
	}
}

func toSessionStatus(session *store.Session) SessionStatus {
	out := SessionStatus{
		ID:             session.ID,
		RepositoryID:   session.RepositoryID,
		Status:         session.Status,
		Error:          session.Error,
		FilesTotal:     session.FilesTotal,
		FilesProcessed: session.FilesProcessed,
		ChunksTotal:    session.ChunksTotal,
		ChunksEmbedded: session.ChunksEmbedded,
		CreatedAt:      session.CreatedAt,
	}
	if !session.FinishedAt.IsZero() {
		t := session.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

func toQueryResponse(rc *search.RetrievalContext) QueryResponse {
	out := QueryResponse{
		RepositoryID:   rc.RepositoryID,
		BuildID:        rc.BuildID,
		Chunks:         make([]ContextChunk, 0, len(rc.Chunks)),
		Degraded:       rc.Degraded,
		DegradedReason: rc.DegradedReason,
		FromCache:      rc.FromCache,
		Duration:       rc.Duration,
	}
	for _, cc := range rc.Chunks {
		out.Chunks = append(out.Chunks, ContextChunk{
			ID:           cc.Chunk.ID,
			FilePath:     cc.Chunk.FilePath,
			StartLine:    cc.Chunk.StartLine,
			EndLine:      cc.Chunk.EndLine,
			Language:     cc.Chunk.Language,
			Content:      cc.Chunk.Content,
			Score:        cc.Score,
			VectorRank:   cc.VectorRank,
			LexicalRank:  cc.LexicalRank,
			MatchedTerms: cc.MatchedTerms,
		})
	}
	return out
}
