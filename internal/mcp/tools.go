package mcp

// Tool input and output schemas. The go-sdk derives JSON schemas from
// these structs, so the jsonschema tags double as tool documentation.

// IndexInput defines the input schema for the index_repository tool.
type IndexInput struct {
	Source string `json:"source" jsonschema:"https git URL or local directory path to index"`
	Force  bool   `json:"force,omitempty" jsonschema:"re-clone remote sources and supersede a running ingest for the same repository"`
}

// IndexOutput defines the output schema for the index_repository tool.
type IndexOutput struct {
	SessionID    string `json:"session_id" jsonschema:"ingest session ID, poll with repository_status"`
	RepositoryID string `json:"repository_id" jsonschema:"derived repository identifier"`
	Status       string `json:"status" jsonschema:"initial session status"`
}

// StatusInput defines the input schema for the repository_status tool.
type StatusInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"ingest session to inspect; omit to list all repositories"`
}

// StatusOutput defines the output schema for the repository_status tool.
type StatusOutput struct {
	Repositories []RepositoryStatus `json:"repositories,omitempty" jsonschema:"known repositories and their index state"`
	Session      *SessionOutput     `json:"session,omitempty" jsonschema:"session detail when session_id was given"`
}

// RepositoryStatus describes one repository's index state.
type RepositoryStatus struct {
	RepositoryID string `json:"repository_id"`
	Name         string `json:"name"`
	Ready        bool   `json:"ready" jsonschema:"true when a query-serving index snapshot is installed"`
	BuildID      string `json:"build_id,omitempty"`
	FileCount    int    `json:"file_count"`
	ChunkCount   int    `json:"chunk_count"`
	IndexedAt    string `json:"indexed_at,omitempty" jsonschema:"RFC3339 time of the last successful build"`
}

// SessionOutput describes one ingest session.
type SessionOutput struct {
	SessionID      string `json:"session_id"`
	RepositoryID   string `json:"repository_id"`
	Status         string `json:"status" jsonschema:"pending, processing, success, failed, or cancelled"`
	Error          string `json:"error,omitempty"`
	Stage          string `json:"stage,omitempty" jsonschema:"current pipeline stage while processing"`
	FilesTotal     int    `json:"files_total"`
	FilesProcessed int    `json:"files_processed"`
	ChunksTotal    int    `json:"chunks_total"`
	ChunksEmbedded int    `json:"chunks_embedded"`
}

// SearchInput defines the input schema for the search_repository tool.
type SearchInput struct {
	RepositoryID string `json:"repository_id" jsonschema:"repository to search, as reported by repository_status"`
	Question     string `json:"question" jsonschema:"natural-language question or search query"`
	TopK         int    `json:"top_k,omitempty" jsonschema:"candidates per retrieval branch, default 50"`
	Budget       int    `json:"budget,omitempty" jsonschema:"context token budget, default 4000"`
}

// SearchOutput defines the output schema for the search_repository tool.
type SearchOutput struct {
	BuildID        string        `json:"build_id" jsonschema:"index snapshot the context was built from"`
	Chunks         []ChunkOutput `json:"chunks" jsonschema:"included chunks in fused-rank order"`
	Considered     int           `json:"considered" jsonschema:"number of fused candidates examined"`
	Degraded       bool          `json:"degraded,omitempty" jsonschema:"true when only one retrieval branch contributed"`
	DegradedReason string        `json:"degraded_reason,omitempty"`
}

// ChunkOutput is a single context chunk with retrieval provenance.
type ChunkOutput struct {
	ChunkID      string   `json:"chunk_id"`
	FilePath     string   `json:"file_path" jsonschema:"path relative to the repository root"`
	StartLine    int      `json:"start_line"`
	EndLine      int      `json:"end_line"`
	Language     string   `json:"language,omitempty"`
	Content      string   `json:"content"`
	Score        float64  `json:"score" jsonschema:"fused reciprocal-rank score"`
	VectorRank   int      `json:"vector_rank,omitempty" jsonschema:"1-based rank in the vector branch, 0 if absent"`
	LexicalRank  int      `json:"lexical_rank,omitempty" jsonschema:"1-based rank in the lexical branch, 0 if absent"`
	MatchedTerms []string `json:"matched_terms,omitempty" jsonschema:"query terms the lexical index matched"`
}

// AskInput defines the input schema for the ask_repository tool.
type AskInput struct {
	RepositoryID string `json:"repository_id" jsonschema:"repository to ask about"`
	Question     string `json:"question" jsonschema:"natural-language question"`
	TopK         int    `json:"top_k,omitempty" jsonschema:"candidates per retrieval branch, default 50"`
	Budget       int    `json:"budget,omitempty" jsonschema:"context token budget, default 4000"`
}

// AskOutput defines the output schema for the ask_repository tool.
type AskOutput struct {
	Answer         string      `json:"answer,omitempty" jsonschema:"generated answer when an LLM provider is configured"`
	Model          string      `json:"model,omitempty" jsonschema:"model that produced the answer"`
	Prompt         string      `json:"prompt,omitempty" jsonschema:"assembled prompt for the caller's own model when no provider is configured"`
	Sources        []SourceRef `json:"sources" jsonschema:"chunks the answer is grounded on"`
	Degraded       bool        `json:"degraded,omitempty"`
	DegradedReason string      `json:"degraded_reason,omitempty"`
}

// SourceRef points at a chunk used as answer evidence.
type SourceRef struct {
	ChunkID   string `json:"chunk_id"`
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}
