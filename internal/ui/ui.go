// Package ui renders ingest progress in the terminal. Interactive
// terminals get a bubbletea TUI; pipes and CI environments get plain
// line output.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/repoqa/repoqa/internal/ingest"
)

// StageLabel returns the display name for an ingest pipeline stage.
func StageLabel(stage string) string {
	switch stage {
	case ingest.StageFetch:
		return "Fetching"
	case ingest.StageScan:
		return "Scanning"
	case ingest.StageChunk:
		return "Chunking"
	case ingest.StageEmbed:
		return "Embedding"
	case ingest.StageIndex:
		return "Indexing"
	case ingest.StagePersist:
		return "Persisting"
	default:
		return stage
	}
}

// Summary contains final build statistics for the completion view.
type Summary struct {
	RepositoryID string
	Files        int
	Chunks       int
	Duration     time.Duration
	Err          error
}

// Renderer defines the interface for progress display.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// Update reports a pipeline progress snapshot.
	Update(p ingest.Progress)

	// Complete marks rendering as complete with a build summary.
	Complete(summary Summary)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool

	// Source is the repository URL or path shown in the header.
	Source string
}

// NewRenderer creates an appropriate renderer based on config and
// environment. Interactive terminals get the TUI; pipes, CI, and
// --plain get line output.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
