// Package client is a typed Go client for the repoqa HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds one API call. Queries in service mode wait on
// LLM generation, so the default is generous.
const DefaultTimeout = 5 * time.Minute

// IngestRequest starts an ingest. Exactly one of URL and Path is set.
type IngestRequest struct {
	URL   string `json:"url,omitempty"`
	Path  string `json:"path,omitempty"`
	Force bool   `json:"force,omitempty"`
}

// IngestAccepted identifies the started ingest.
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
	IndexedAt  time.Time `json:"indexed_at"`
}

// SessionStatus reports one ingest session.
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

// Terminal reports whether the session has finished.
func (s *SessionStatus) Terminal() bool {
	switch s.Status {
	case "success", "failed", "cancelled":
		return true
	}
	return false
}

// QueryRequest asks a question against one repository.
type QueryRequest struct {
	RepositoryID string `json:"repository_id"`
	Question     string `json:"question"`
	TopK         int    `json:"top_k,omitempty"`
	Budget       int    `json:"budget,omitempty"`
	Mode         string `json:"mode,omitempty"`
}

// ContextChunk is one retrieved chunk.
type ContextChunk struct {
	ID           string   `json:"id"`
	FilePath     string   `json:"file_path"`
	StartLine    int      `json:"start_line"`
	EndLine      int      `json:"end_line"`
	Language     string   `json:"language,omitempty"`
	Content      string   `json:"content"`
	Score        float64  `json:"score"`
	VectorRank   int      `json:"vector_rank,omitempty"`
	LexicalRank  int      `json:"lexical_rank,omitempty"`
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

// QueryResponse carries the assembled context and optional answer.
type QueryResponse struct {
	RepositoryID   string         `json:"repository_id"`
	BuildID        string         `json:"build_id"`
	Chunks         []ContextChunk `json:"chunks"`
	Degraded       bool           `json:"degraded,omitempty"`
	DegradedReason string         `json:"degraded_reason,omitempty"`
	FromCache      bool           `json:"from_cache,omitempty"`
	Duration       time.Duration  `json:"duration_ns"`
	Prompt         string         `json:"prompt,omitempty"`
	Answer         *Answer        `json:"answer,omitempty"`
}

// Metrics is the rollup summary from /api/v1/metrics.
type Metrics struct {
	Enabled        bool    `json:"enabled"`
	TotalQueries   int64   `json:"total_queries"`
	Failed         int64   `json:"failed"`
	Degraded       int64   `json:"degraded"`
	ZeroResult     int64   `json:"zero_result"`
	CacheHits      int64   `json:"cache_hits"`
	ErrorRate      float64 `json:"error_rate"`
	ZeroResultRate float64 `json:"zero_result_rate"`
	P50Millis      int64   `json:"p50_ms"`
	P95Millis      int64   `json:"p95_ms"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status     int
	Code       string
	Message    string
	Suggestion string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d [%s]: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Client calls the repoqa HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the API at baseURL, e.g. "http://127.0.0.1:8080".
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ingest starts indexing a repository and returns the session to poll.
func (c *Client) Ingest(ctx context.Context, req IngestRequest) (*IngestAccepted, error) {
	var out IngestAccepted
	if err := c.do(ctx, http.MethodPost, "/api/v1/repositories", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Repositories lists all known repositories.
func (c *Client) Repositories(ctx context.Context) ([]Repository, error) {
	var out struct {
		Repositories []Repository `json:"repositories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/repositories", nil, &out); err != nil {
		return nil, err
	}
	return out.Repositories, nil
}

// Session fetches one ingest session's status.
func (c *Client) Session(ctx context.Context, id string) (*SessionStatus, error) {
	var out SessionStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitForSession polls a session until it reaches a terminal state.
func (c *Client) WaitForSession(ctx context.Context, id string, interval time.Duration) (*SessionStatus, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := c.Session(ctx, id)
		if err != nil {
			return nil, err
		}
		if status.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Query retrieves context (and an answer, in service mode) for a question.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	var out QueryResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRepository drops a repository's index and records.
func (c *Client) DeleteRepository(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/repositories/"+url.PathEscape(id), nil, nil)
}

// Metrics fetches the query rollups.
func (c *Client) Metrics(ctx context.Context) (*Metrics, error) {
	var out Metrics
	if err := c.do(ctx, http.MethodGet, "/api/v1/metrics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var wire struct {
			Error struct {
				Code       string `json:"code"`
				Message    string `json:"message"`
				Suggestion string `json:"suggestion"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &wire) == nil && wire.Error.Message != "" {
			apiErr.Code = wire.Error.Code
			apiErr.Message = wire.Error.Message
			apiErr.Suggestion = wire.Error.Suggestion
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
