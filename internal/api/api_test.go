package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type stubAnswerer struct{}

func (stubAnswerer) Answer(_ context.Context, prompt string) (*answer.Result, error) {
	return &answer.Result{Text: "stub answer", Model: "stub-model"}, nil
}
func (stubAnswerer) ModelName() string                 { return "stub-model" }
func (stubAnswerer) Available(_ context.Context) bool  { return true }
func (stubAnswerer) Close() error                      { return nil }

type testServer struct {
	srv      *Server
	runner   *ingest.Runner
	metadata store.MetadataStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dataDir := t.TempDir()

	metadata, err := store.NewSQLiteStore(filepath.Join(dataDir, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadata.Close() })

	reg := registry.New(metadata, registry.Options{
		DataDir: dataDir,
		BM25:    store.DefaultBM25Config(),
	})
	t.Cleanup(func() { _ = reg.Close() })

	embedder := embed.NewStaticEmbedder()

	pipeline, err := ingest.NewPipeline(metadata, reg, embedder, ingest.Config{
		DataDir: dataDir,
		Chunk:   chunk.Options{ChunkSize: 400, Overlap: 80},
		BM25:    store.DefaultBM25Config(),
	})
	require.NoError(t, err)

	runner := ingest.NewRunner(pipeline)
	t.Cleanup(func() { _ = runner.Close() })

	engine, err := search.NewEngine(reg, embedder, search.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	srv := NewServer(config.APIConfig{}, Deps{
		Metadata:   metadata,
		Registry:   reg,
		Runner:     runner,
		Engine:     engine,
		Answerer:   stubAnswerer{},
		Collector:  telemetry.NewCollector(nil, telemetry.Config{}),
		AnswerMode: answer.ModePlugin,
	})

	return &testServer{srv: srv, runner: runner, metadata: metadata}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) ingestAndWait(t *testing.T, root string) IngestAccepted {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/repositories", IngestRequest{Path: root})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted IngestAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.SessionID)
	require.NotEmpty(t, accepted.RepositoryID)

	require.Eventually(t, func() bool {
		s, err := ts.metadata.GetSession(context.Background(), accepted.SessionID)
		return err == nil && s.IsTerminal()
	}, 30*time.Second, 50*time.Millisecond)

	s, err := ts.metadata.GetSession(context.Background(), accepted.SessionID)
	require.NoError(t, err)
	require.Equal(t, store.SessionSuccess, s.Status, s.Error)
	return accepted
}

func writeTestRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	content := map[string]string{
		"auth.go": `package auth

// Validate checks the token signature and expiry before a request is
// allowed through.
func Validate(token string) error {
	return nil
}
`,
		"README.md": "# Demo\n\nToken validation service.\n",
	}
	for rel, data := range content {
		require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(data), 0o644))
	}
	return root
}

func TestAPI_IngestQueryLifecycle(t *testing.T) {
	ts := newTestServer(t)
	root := writeTestRepo(t)

	accepted := ts.ingestAndWait(t, root)

	// Repository listing shows it ready.
	rec := ts.do(t, http.MethodGet, "/api/v1/repositories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Repositories []Repository `json:"repositories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Repositories, 1)
	assert.Equal(t, accepted.RepositoryID, listing.Repositories[0].ID)
	assert.True(t, listing.Repositories[0].Ready)
	assert.Greater(t, listing.Repositories[0].ChunkCount, 0)

	// Plugin-mode query returns context and prompt, no answer.
	rec = ts.do(t, http.MethodPost, "/api/v1/query", QueryRequest{
		RepositoryID: accepted.RepositoryID,
		Question:     "how are tokens validated?",
		Mode:         answer.ModePlugin,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var query QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &query))
	assert.NotEmpty(t, query.Chunks)
	assert.Contains(t, query.Prompt, "[Doc 1]")
	assert.Nil(t, query.Answer)

	// Service mode adds the generated answer.
	rec = ts.do(t, http.MethodPost, "/api/v1/query", QueryRequest{
		RepositoryID: accepted.RepositoryID,
		Question:     "how are tokens validated?",
		Mode:         answer.ModeService,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &query))
	require.NotNil(t, query.Answer)
	assert.Equal(t, "stub answer", query.Answer.Text)
	assert.Equal(t, "stub-model", query.Answer.Model)

	// Delete removes it everywhere.
	rec = ts.do(t, http.MethodDelete, "/api/v1/repositories/"+accepted.RepositoryID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/repositories", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Empty(t, listing.Repositories)
}

func TestAPI_SessionProgress(t *testing.T) {
	ts := newTestServer(t)
	root := writeTestRepo(t)

	accepted := ts.ingestAndWait(t, root)

	rec := ts.do(t, http.MethodGet, "/api/v1/sessions/"+accepted.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status SessionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, store.SessionSuccess, status.Status)
	assert.Equal(t, accepted.RepositoryID, status.RepositoryID)
	assert.Greater(t, status.ChunksTotal, 0)
}

func TestAPI_Validation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/repositories", IngestRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/repositories", IngestRequest{URL: "https://github.com/a/b", Path: "/tmp/x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/query", QueryRequest{Question: "q"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/query", QueryRequest{RepositoryID: "r", Question: "q", Mode: "stream"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error.Code)
	assert.NotEmpty(t, body.Error.Message)
}

func TestAPI_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/query", QueryRequest{
		RepositoryID: "local_ghost_00000000",
		Question:     "anything?",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/repositories/local_ghost_00000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = ts.do(t, http.MethodGet, "/api/v1/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var metrics map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Equal(t, true, metrics["enabled"])
}
