package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/repoqa/repoqa/internal/answer"
	"github.com/repoqa/repoqa/internal/output"
	"github.com/repoqa/repoqa/internal/search"
)

func newAskCmd() *cobra.Command {
	var (
		topK   int
		budget int
		format string
		mode   string
	)

	cmd := &cobra.Command{
		Use:   "ask <repository-id> <question...>",
		Short: "Answer a question about an indexed repository",
		Long: `Retrieve context for the question and generate an answer with the
configured LLM provider.

In plugin mode (or when no provider is configured) the command prints
the assembled prompt instead, for the caller's own model to complete.`,
		Example: `  repoqa ask git_gin-gonic_gin_ab12cd34 "how does route matching work?"

  # Print the prompt instead of generating
  repoqa ask git_gin-gonic_gin_ab12cd34 "explain sessions" --mode plugin`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runAsk(ctx, cmd, args[0], strings.Join(args[1:], " "), topK, budget, format, mode)
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "Candidates per retrieval branch")
	cmd.Flags().IntVar(&budget, "budget", 0, "Context size budget in token-equivalents")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	cmd.Flags().StringVar(&mode, "mode", "", "Generation mode: service or plugin (default from config)")

	return cmd
}

func runAsk(ctx context.Context, cmd *cobra.Command, repositoryID, question string, topK, budget int, format, mode string) error {
	f, err := output.ParseFormat(format)
	if err != nil {
		return err
	}
	if mode != "" && !answer.ValidMode(mode) {
		return fmt.Errorf("unknown mode %q (valid: %s, %s)", mode, answer.ModeService, answer.ModePlugin)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mode != "" {
		cfg.LLM.Mode = mode
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

	prompt := answer.BuildPrompt(question, rc)
	if a.answerer == nil || cfg.LLM.Mode != answer.ModeService {
		return output.RenderPrompt(cmd.OutOrStdout(), prompt, f)
	}

	result, err := a.answerer.Answer(ctx, prompt)
	if err != nil {
		return err
	}
	return output.RenderAnswer(cmd.OutOrStdout(), result, rc, f)
}
