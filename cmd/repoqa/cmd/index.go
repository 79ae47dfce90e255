package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/repoqa/repoqa/internal/ingest"
	"github.com/repoqa/repoqa/internal/output"
	"github.com/repoqa/repoqa/internal/preflight"
	"github.com/repoqa/repoqa/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var (
		force     bool
		offline   bool
		noTUI     bool
		skipCheck bool
	)

	cmd := &cobra.Command{
		Use:   "index <url|path>",
		Short: "Ingest a repository into a searchable knowledge base",
		Long: `Ingest a repository: fetch it, chunk its files, embed the chunks and
build the lexical and vector indexes.

The source is either an https git URL (shallow-cloned) or a local
directory path. Re-indexing the same source replaces the previous build
atomically; queries keep using the old build until the new one is ready.

With --offline embeddings come from the deterministic static provider,
which keeps the vector branch functional without a model server.`,
		Example: `  # Index a repository from GitHub
  repoqa index https://github.com/gin-gonic/gin

  # Index a local checkout without embeddings infrastructure
  repoqa index ~/src/myproject --offline`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runIndex(ctx, cmd, args[0], force, offline, noTUI, skipCheck)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-clone the source and supersede a running ingest")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (no provider needed)")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Plain text progress output")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip the pre-flight system check")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, source string, force, offline, noTUI, skipCheck bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cleanup, err := setupLogging(cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	out := output.New(cmd.OutOrStdout())

	if !skipCheck && preflight.NeedsCheck(cfg.DataDir) {
		checker := preflight.New(cfg,
			preflight.WithOffline(offline),
			preflight.WithOutput(io.Discard),
		)
		results := checker.RunAll(ctx)
		if preflight.HasCriticalFailures(results) {
			out.Error("system check failed, run 'repoqa doctor' for details")
			return fmt.Errorf("system check failed")
		}
		if err := preflight.MarkPassed(cfg.DataDir); err != nil {
			out.Warningf("could not record system check result: %v", err)
		}
	}

	a, err := newApp(ctx, cfg, appOptions{Offline: offline})
	if err != nil && !offline && confirmOfflineFallback(cmd, err) {
		offline = true
		a, err = newApp(ctx, cfg, appOptions{Offline: true})
	}
	if err != nil {
		return err
	}
	defer a.close()

	renderer := ui.NewRenderer(ui.Config{
		Output:     cmd.OutOrStdout(),
		ForcePlain: noTUI,
		NoColor:    ui.DetectNoColor(),
		Source:     source,
	})
	if err := renderer.Start(ctx); err != nil {
		return err
	}

	start := time.Now()
	session, ingestErr := a.pipeline.Ingest(ctx, ingest.Request{Source: source, Force: force}, renderer.Update)

	summary := ui.Summary{Duration: time.Since(start), Err: ingestErr}
	if session != nil {
		summary.RepositoryID = session.RepositoryID
		summary.Files = session.FilesProcessed
		summary.Chunks = session.ChunksTotal
	}
	renderer.Complete(summary)
	if err := renderer.Stop(); err != nil {
		return err
	}
	if ingestErr != nil {
		return ingestErr
	}

	out.Newline()
	out.Successf("repository %s is ready", session.RepositoryID)
	out.Detail(fmt.Sprintf("try: repoqa query %s \"how does this work?\"", session.RepositoryID))
	return nil
}

// confirmOfflineFallback asks whether to retry the build with static
// embeddings when the configured embedding provider is unreachable. It
// declines automatically when stdin is not interactive.
func confirmOfflineFallback(cmd *cobra.Command, cause error) bool {
	stdin, ok := cmd.InOrStdin().(*os.File)
	if ok && !ui.IsTTY(stdin) {
		return false
	}

	out := output.New(cmd.OutOrStdout())
	out.Warningf("embedding provider unavailable: %v", cause)
	out.Status("Continue in offline mode? Retrieval will rely on keyword search. [y/N] ")

	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
