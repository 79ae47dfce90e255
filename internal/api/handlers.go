package api

import (
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/repoqa/repoqa/internal/answer"
	qaerrors "github.com/repoqa/repoqa/internal/errors"
	"github.com/repoqa/repoqa/internal/ingest"
	"github.com/repoqa/repoqa/internal/search"
	"github.com/repoqa/repoqa/internal/store"
)

type handlers struct {
	deps Deps
}

// POST /api/v1/repositories
func (h *handlers) createRepository(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, qaerrors.ValidationError("invalid request body", err))
		return
	}

	source := strings.TrimSpace(req.URL)
	if source == "" {
		source = strings.TrimSpace(req.Path)
	}
	if source == "" {
		writeError(c, qaerrors.ValidationError("one of url or path is required", nil))
		return
	}
	if req.URL != "" && req.Path != "" {
		writeError(c, qaerrors.ValidationError("url and path are mutually exclusive", nil))
		return
	}

	session, err := h.deps.Runner.Start(c.Request.Context(), ingest.Request{
		Source: source,
		Force:  req.Force,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, IngestAccepted{
		SessionID:    session.ID,
		RepositoryID: session.RepositoryID,
	})
}

// GET /api/v1/repositories
func (h *handlers) listRepositories(c *gin.Context) {
	repos, err := h.deps.Metadata.ListRepositories(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]Repository, 0, len(repos))
	for _, repo := range repos {
		out = append(out, toRepository(repo, h.deps.Registry.Ready(repo.ID)))
	}
	c.JSON(http.StatusOK, gin.H{"repositories": out})
}

// DELETE /api/v1/repositories/:id
func (h *handlers) deleteRepository(c *gin.Context) {
	id := c.Param("id")
	if h.deps.Runner.Running(id) {
		h.deps.Runner.Cancel(id)
	}
	if err := h.deps.Registry.Drop(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/v1/sessions/:id
func (h *handlers) getSession(c *gin.Context) {
	session, err := h.deps.Metadata.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	out := toSessionStatus(session)
	if progress, ok := h.deps.Runner.Progress(session.RepositoryID); ok && !session.IsTerminal() {
		out.Stage = progress.Stage
		out.Percent = progress.Percent
		out.FilesTotal = progress.FilesTotal
		out.FilesProcessed = progress.FilesProcessed
		out.ChunksTotal = progress.ChunksTotal
		out.ChunksEmbedded = progress.ChunksEmbedded
	}
	c.JSON(http.StatusOK, out)
}

// POST /api/v1/query
func (h *handlers) query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, qaerrors.ValidationError("invalid request body", err))
		return
	}
	if req.RepositoryID == "" {
		writeError(c, qaerrors.ValidationError("repository_id is required", nil))
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(c, qaerrors.ValidationError("question is required", nil))
		return
	}
	if !answer.ValidMode(req.Mode) {
		writeError(c, qaerrors.ValidationError("mode must be service or plugin", nil))
		return
	}

	rc, err := h.deps.Engine.Retrieve(c.Request.Context(), req.RepositoryID, req.Question, search.Options{
		VectorTopK:    req.TopK,
		LexicalTopK:   req.TopK,
		ContextBudget: req.Budget,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	out := toQueryResponse(rc)

	mode := req.Mode
	if mode == "" {
		mode = h.deps.AnswerMode
	}
	if mode == "" || (mode == answer.ModeService && h.deps.Answerer == nil) {
		mode = answer.ModePlugin
	}

	prompt := answer.BuildPrompt(req.Question, rc)
	switch mode {
	case answer.ModePlugin:
		out.Prompt = prompt
	case answer.ModeService:
		res, err := h.deps.Answerer.Answer(c.Request.Context(), prompt)
		if err != nil {
			writeError(c, err)
			return
		}
		out.Answer = &Answer{
			Text:             res.Text,
			Model:            res.Model,
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			Duration:         res.Duration,
		}
	}

	c.JSON(http.StatusOK, out)
}

// GET /api/v1/metrics
func (h *handlers) metrics(c *gin.Context) {
	if h.deps.Collector == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	snap := h.deps.Collector.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"enabled":          true,
		"since":            snap.Since,
		"total_queries":    snap.TotalQueries,
		"failed":           snap.Failed,
		"degraded":         snap.Degraded,
		"zero_result":      snap.ZeroResult,
		"cache_hits":       snap.CacheHits,
		"error_rate":       snap.ErrorRate(),
		"zero_result_rate": snap.ZeroResultRate(),
		"p50_ms":           snap.P50.Milliseconds(),
		"p95_ms":           snap.P95.Milliseconds(),
		"repositories":     snap.Repositories,
	})
}

// GET /health
func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"ready_repositories": len(h.deps.Registry.List()),
	})
}

func writeError(c *gin.Context, err error) {
	status := httpStatus(err)

	var body ErrorResponse
	body.Error.Code = qaerrors.ErrCodeInternal
	body.Error.Message = err.Error()

	var qerr *qaerrors.QAError
	if stderrors.As(err, &qerr) {
		body.Error.Code = qerr.Code
		body.Error.Message = qerr.Message
		body.Error.Suggestion = qerr.Suggestion
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func httpStatus(err error) int {
	if stderrors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	var qerr *qaerrors.QAError
	if !stderrors.As(err, &qerr) {
		return http.StatusInternalServerError
	}
	switch qerr.Code {
	case qaerrors.ErrCodeInvalidInput, qaerrors.ErrCodeInvalidQuery,
		qaerrors.ErrCodeInvalidRepoURL, qaerrors.ErrCodeConfigInvalid:
		return http.StatusBadRequest
	case qaerrors.ErrCodeUnknownRepository, qaerrors.ErrCodeIndexNotReady,
		qaerrors.ErrCodeFileNotFound:
		return http.StatusNotFound
	case qaerrors.ErrCodeSessionConflict:
		return http.StatusConflict
	case qaerrors.ErrCodeProviderUnavailable, qaerrors.ErrCodeNetworkTimeout:
		return http.StatusServiceUnavailable
	case qaerrors.ErrCodeRetrievalFailed, qaerrors.ErrCodeLLMFailed,
		qaerrors.ErrCodeVectorBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
