package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/repoqa/repoqa/internal/logging"
	"github.com/repoqa/repoqa/internal/mcp"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Serve the Model Context Protocol over stdin/stdout for AI coding
assistants. Exposes the index_repository, repository_status,
search_repository and ask_repository tools.

Stdout carries JSON-RPC exclusively; logs go to the log file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx)
		},
	}

	return cmd
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Stdout belongs to the protocol, so logging may not touch it and
	// stderr stays quiet too.
	cleanup, err := logging.SetupMCPMode(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, appOptions{AllowOffline: true, Telemetry: true, LoadRegistry: true})
	if err != nil {
		return err
	}
	defer a.close()

	server, err := mcp.NewServer(mcp.Deps{
		Metadata: a.metadata,
		Registry: a.registry,
		Runner:   a.runner,
		Engine:   a.engine,
		Answerer: a.answerer,
		Logger:   slog.Default(),
	})
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
