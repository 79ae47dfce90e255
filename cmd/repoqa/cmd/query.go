package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/repoqa/repoqa/internal/output"
	"github.com/repoqa/repoqa/internal/search"
)

func newQueryCmd() *cobra.Command {
	var (
		topK   int
		budget int
		format string
	)

	cmd := &cobra.Command{
		Use:   "query <repository-id> <question...>",
		Short: "Retrieve context for a question without generating an answer",
		Long: `Run hybrid retrieval against an indexed repository and print the
assembled context. Vector and keyword search run in parallel and their
rankings are fused; when one branch fails the result is marked degraded
and carries the surviving branch only.`,
		Example: `  repoqa query git_gin-gonic_gin_ab12cd34 "how is routing implemented?"

  # JSON output for tooling
  repoqa query git_gin-gonic_gin_ab12cd34 "middleware chain" --format json`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runQuery(ctx, cmd, args[0], strings.Join(args[1:], " "), topK, budget, format)
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "Candidates per retrieval branch")
	cmd.Flags().IntVar(&budget, "budget", 0, "Context size budget in token-equivalents")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, repositoryID, question string, topK, budget int, format string) error {
	f, err := output.ParseFormat(format)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cleanup, err := setupLogging(cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, appOptions{AllowOffline: true, Telemetry: true, LoadRegistry: true})
	if err != nil {
		return err
	}
	defer a.close()

	rc, err := a.engine.Retrieve(ctx, repositoryID, question, search.Options{
		VectorTopK:    topK,
		LexicalTopK:   topK,
		ContextBudget: budget,
	})
	if err != nil {
		return err
	}

	return output.RenderContext(cmd.OutOrStdout(), rc, f)
}
