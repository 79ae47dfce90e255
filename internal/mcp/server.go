package mcp

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/repoqa/repoqa/internal/answer"
	"github.com/repoqa/repoqa/internal/ingest"
	"github.com/repoqa/repoqa/internal/registry"
	"github.com/repoqa/repoqa/internal/search"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/pkg/version"
)

// Server is the MCP server for repoqa. It exposes the ingest pipeline and
// the retrieval engine as tools over stdio so AI clients can index
// repositories and ground their answers in retrieved context.
type Server struct {
	mcp      *mcp.Server
	metadata store.MetadataStore
	registry *registry.Registry
	runner   *ingest.Runner
	engine   *search.Engine
	answerer answer.Answerer
	logger   *slog.Logger
}

// Deps bundles the server's collaborators. Metadata, Registry, Runner, and
// Engine are required; Answerer may be nil, in which case ask_repository
// returns the assembled prompt instead of a generated answer.
type Deps struct {
	Metadata store.MetadataStore
	Registry *registry.Registry
	Runner   *ingest.Runner
	Engine   *search.Engine
	Answerer answer.Answerer
	Logger   *slog.Logger
}

// NewServer creates a new MCP server and registers its tools.
func NewServer(deps Deps) (*Server, error) {
	if deps.Metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if deps.Runner == nil {
		return nil, errors.New("ingest runner is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("search engine is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		metadata: deps.Metadata,
		registry: deps.Registry,
		runner:   deps.Runner,
		engine:   deps.Engine,
		answerer: deps.Answerer,
		logger:   logger.With("component", "mcp"),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "repoqa",
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools
	)

	s.registerTools()

	return s, nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_repository",
		Description: "Index a git repository or local directory for retrieval. Starts a background ingest and returns a session ID; poll repository_status until the session finishes before searching.",
	}, s.mcpIndexHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "repository_status",
		Description: "List indexed repositories and their readiness, or check the progress of a running ingest session by ID.",
	}, s.mcpStatusHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_repository",
		Description: "Retrieve the most relevant code and documentation chunks for a question. Combines semantic and keyword search over the whole repository, deduplicates, and packs results into a token budget.",
	}, s.mcpSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ask_repository",
		Description: "Answer a question about an indexed repository. Retrieves grounding context and either generates an answer with the configured LLM or returns a ready-to-use prompt with the evidence inlined.",
	}, s.mcpAskHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", 4))
}

// mcpIndexHandler is the MCP SDK handler for the index_repository tool.
func (s *Server) mcpIndexHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexInput) (
	*mcp.CallToolResult,
	IndexOutput,
	error,
) {
	if strings.TrimSpace(input.Source) == "" {
		return nil, IndexOutput{}, NewInvalidParamsError("source parameter is required")
	}

	session, err := s.runner.Start(ctx, ingest.Request{Source: input.Source, Force: input.Force})
	if err != nil {
		return nil, IndexOutput{}, MapError(err)
	}

	s.logger.Info("ingest started via MCP",
		slog.String("repository_id", session.RepositoryID),
		slog.String("session_id", session.ID))

	return nil, IndexOutput{
		SessionID:    session.ID,
		RepositoryID: session.RepositoryID,
		Status:       session.Status,
	}, nil
}

// mcpStatusHandler is the MCP SDK handler for the repository_status tool.
func (s *Server) mcpStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, input StatusInput) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	if input.SessionID != "" {
		session, err := s.metadata.GetSession(ctx, input.SessionID)
		if err != nil {
			return nil, StatusOutput{}, MapError(err)
		}
		return nil, StatusOutput{Session: s.toSessionOutput(session)}, nil
	}

	repos, err := s.metadata.ListRepositories(ctx)
	if err != nil {
		return nil, StatusOutput{}, MapError(err)
	}

	out := StatusOutput{Repositories: make([]RepositoryStatus, 0, len(repos))}
	for _, repo := range repos {
		status := RepositoryStatus{
			RepositoryID: repo.ID,
			Name:         repo.Name,
			Ready:        s.registry.Ready(repo.ID),
			BuildID:      repo.BuildID,
			FileCount:    repo.FileCount,
			ChunkCount:   repo.ChunkCount,
		}
		if !repo.IndexedAt.IsZero() {
			status.IndexedAt = repo.IndexedAt.Format(time.RFC3339)
		}
		out.Repositories = append(out.Repositories, status)
	}
	return nil, out, nil
}

// toSessionOutput converts a session record, overlaying live runner
// progress while the build is still running.
func (s *Server) toSessionOutput(session *store.Session) *SessionOutput {
	out := &SessionOutput{
		SessionID:      session.ID,
		RepositoryID:   session.RepositoryID,
		Status:         session.Status,
		Error:          session.Error,
		FilesTotal:     session.FilesTotal,
		FilesProcessed: session.FilesProcessed,
		ChunksTotal:    session.ChunksTotal,
		ChunksEmbedded: session.ChunksEmbedded,
	}
	if !session.IsTerminal() {
		if p, ok := s.runner.Progress(session.RepositoryID); ok {
			out.Stage = p.Stage
			out.FilesTotal = p.FilesTotal
			out.FilesProcessed = p.FilesProcessed
			out.ChunksTotal = p.ChunksTotal
			out.ChunksEmbedded = p.ChunksEmbedded
		}
	}
	return out
}

// mcpSearchHandler is the MCP SDK handler for the search_repository tool.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	rc, err := s.retrieve(ctx, input.RepositoryID, input.Question, input.TopK, input.Budget)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	out := SearchOutput{
		BuildID:        rc.BuildID,
		Chunks:         make([]ChunkOutput, 0, len(rc.Chunks)),
		Considered:     rc.Stats.Considered,
		Degraded:       rc.Degraded,
		DegradedReason: rc.DegradedReason,
	}
	for _, cc := range rc.Chunks {
		out.Chunks = append(out.Chunks, ChunkOutput{
			ChunkID:      cc.Chunk.ID,
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
	return nil, out, nil
}

// mcpAskHandler is the MCP SDK handler for the ask_repository tool.
func (s *Server) mcpAskHandler(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (
	*mcp.CallToolResult,
	AskOutput,
	error,
) {
	rc, err := s.retrieve(ctx, input.RepositoryID, input.Question, input.TopK, input.Budget)
	if err != nil {
		return nil, AskOutput{}, err
	}

	out := AskOutput{
		Sources:        make([]SourceRef, 0, len(rc.Chunks)),
		Degraded:       rc.Degraded,
		DegradedReason: rc.DegradedReason,
	}
	for _, cc := range rc.Chunks {
		out.Sources = append(out.Sources, SourceRef{
			ChunkID:   cc.Chunk.ID,
			FilePath:  cc.Chunk.FilePath,
			StartLine: cc.Chunk.StartLine,
			EndLine:   cc.Chunk.EndLine,
		})
	}

	prompt := answer.BuildPrompt(input.Question, rc)
	if s.answerer == nil {
		out.Prompt = prompt
		return nil, out, nil
	}

	res, err := s.answerer.Answer(ctx, prompt)
	if err != nil {
		return nil, AskOutput{}, MapError(err)
	}
	out.Answer = res.Text
	out.Model = res.Model
	return nil, out, nil
}

// retrieve validates shared query parameters and runs the engine.
func (s *Server) retrieve(ctx context.Context, repositoryID, question string, topK, budget int) (*search.RetrievalContext, error) {
	if repositoryID == "" {
		return nil, NewInvalidParamsError("repository_id parameter is required")
	}
	if strings.TrimSpace(question) == "" {
		return nil, NewInvalidParamsError("question parameter is required")
	}

	rc, err := s.engine.Retrieve(ctx, repositoryID, question, search.Options{
		VectorTopK:    topK,
		LexicalTopK:   topK,
		ContextBudget: budget,
	})
	if err != nil {
		return nil, MapError(err)
	}
	return rc, nil
}

// Run serves MCP over stdio until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}
