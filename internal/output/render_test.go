package output

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repoqa/repoqa/internal/answer"
	"github.com/repoqa/repoqa/internal/registry"
	"github.com/repoqa/repoqa/internal/search"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/internal/telemetry"
)

func sampleContext() *search.RetrievalContext {
	return &search.RetrievalContext{
		RepositoryID: "local_demo_abcd1234",
		Question:     "how is the token validated",
		BuildID:      "build-1",
		Chunks: []*search.ContextChunk{
			{
				Chunk: &store.Chunk{
					ID:        "auth.go#0@build1",
					FilePath:  "auth.go",
					StartLine: 3,
					EndLine:   9,
					Language:  "go",
					Content:   "func ValidateToken(token string) error {\n\treturn verifySignature(token)\n}",
				},
				Score:       0.032,
				VectorRank:  1,
				LexicalRank: 2,
			},
			{
				Chunk: &store.Chunk{
					ID:        "README.md#0@build1",
					FilePath:  "README.md",
					StartLine: 1,
					EndLine:   3,
					Language:  "markdown",
					Content:   "# Demo\nToken validation service.",
				},
				Score:       0.016,
				LexicalRank: 1,
			},
		},
		Stats:    search.AssemblyStats{Considered: 7, Included: 2},
		Duration: 42 * time.Millisecond,
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	f, err = ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("yaml")
	assert.Error(t, err)
}

func TestRenderContext_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, RenderContext(buf, sampleContext(), FormatText))

	out := buf.String()
	assert.Contains(t, out, "local_demo_abcd1234")
	assert.Contains(t, out, "[1] auth.go:3-9")
	assert.Contains(t, out, "both branches")
	assert.Contains(t, out, "[2] README.md:1-3")
	assert.Contains(t, out, "lexical only")
	assert.Contains(t, out, "ValidateToken")
	assert.NotContains(t, out, "Warning:")
}

func TestRenderContext_DegradedWarning(t *testing.T) {
	rc := sampleContext()
	rc.Degraded = true
	rc.DegradedReason = "vector_unavailable"

	buf := &bytes.Buffer{}
	require.NoError(t, RenderContext(buf, rc, FormatText))
	assert.Contains(t, buf.String(), "degraded results (vector_unavailable)")
}

func TestRenderContext_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, RenderContext(buf, sampleContext(), FormatJSON))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "local_demo_abcd1234", decoded["repository_id"])
	assert.Len(t, decoded["chunks"], 2)
}

func TestRenderAnswer_Text(t *testing.T) {
	res := &answer.Result{
		Text:     "Tokens are validated by verifying the signature.",
		Model:    "llama3.1:8b",
		Duration: 1200 * time.Millisecond,
	}

	buf := &bytes.Buffer{}
	require.NoError(t, RenderAnswer(buf, res, sampleContext(), FormatText))

	out := buf.String()
	assert.Contains(t, out, "Tokens are validated")
	assert.Contains(t, out, "Sources (llama3.1:8b")
	assert.Contains(t, out, "[1] auth.go:3-9")
}

func TestRenderPrompt(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, RenderPrompt(buf, "Answer using the context.", FormatText))
	assert.Contains(t, buf.String(), "Answer using the context.")

	buf.Reset()
	require.NoError(t, RenderPrompt(buf, "Answer using the context.", FormatJSON))
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "Answer using the context.", decoded["prompt"])
}

func TestRenderRepositories_Text(t *testing.T) {
	repos := []*store.Repository{
		{ID: "git_octocat_hello_12345678", Kind: "git", FileCount: 10, ChunkCount: 42, IndexedAt: time.Now()},
		{ID: "local_demo_abcd1234", Kind: "local", FileCount: 3, ChunkCount: 9},
	}
	infos := []registry.Info{{RepositoryID: "git_octocat_hello_12345678"}}

	buf := &bytes.Buffer{}
	require.NoError(t, RenderRepositories(buf, repos, infos, FormatText))

	out := buf.String()
	assert.Contains(t, out, "REPOSITORY")
	assert.Contains(t, out, "git_octocat_hello_12345678")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "local_demo_abcd1234")
}

func TestRenderRepositories_Empty(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, RenderRepositories(buf, nil, nil, FormatText))
	assert.Contains(t, buf.String(), "No repositories indexed")
}

func TestRenderSession(t *testing.T) {
	started := time.Now().Add(-3 * time.Second)
	session := &store.Session{
		ID:             "sess-1",
		RepositoryID:   "local_demo_abcd1234",
		Status:         store.SessionFailed,
		Error:          "empty corpus",
		FilesTotal:     3,
		FilesProcessed: 3,
		StartedAt:      started,
		FinishedAt:     started.Add(2 * time.Second),
	}

	buf := &bytes.Buffer{}
	require.NoError(t, RenderSession(buf, session, FormatText))

	out := buf.String()
	assert.Contains(t, out, "sess-1")
	assert.Contains(t, out, store.SessionFailed)
	assert.Contains(t, out, "empty corpus")
	assert.Contains(t, out, "Duration:   2s")
}

func TestRenderMetrics(t *testing.T) {
	snap := &telemetry.Snapshot{
		Since:        time.Now().Add(-time.Hour),
		TotalQueries: 10,
		Failed:       1,
		Degraded:     2,
		CacheHits:    3,
		P50:          40 * time.Millisecond,
		P95:          90 * time.Millisecond,
		Repositories: map[string]telemetry.RepositoryStats{
			"local_demo_abcd1234": {Queries: 10, Failed: 1},
		},
	}

	buf := &bytes.Buffer{}
	require.NoError(t, RenderMetrics(buf, snap, FormatText))

	out := buf.String()
	assert.Contains(t, out, "Queries:      10")
	assert.Contains(t, out, "10.0%")
	assert.Contains(t, out, "p50 40ms, p95 90ms")
	assert.Contains(t, out, "local_demo_abcd1234")
}
