package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/repoqa/repoqa/internal/ingest"
)

// PlainRenderer outputs plain text progress lines (for CI/pipes). It
// suppresses repeats so a thousand embed callbacks do not produce a
// thousand identical lines.
type PlainRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	lastLine string
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error {
	return nil
}

// Update implements Renderer.
func (r *PlainRenderer) Update(p ingest.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := formatProgress(p)
	if line == "" || line == r.lastLine {
		return
	}
	r.lastLine = line
	_, _ = fmt.Fprintln(r.out, line)
}

func formatProgress(p ingest.Progress) string {
	label := StageLabel(p.Stage)
	switch p.Stage {
	case ingest.StageChunk:
		if p.FilesTotal > 0 {
			return fmt.Sprintf("%s %d/%d files", label, p.FilesProcessed, p.FilesTotal)
		}
	case ingest.StageEmbed:
		if p.ChunksTotal > 0 {
			return fmt.Sprintf("%s %d/%d chunks", label, p.ChunksEmbedded, p.ChunksTotal)
		}
	}
	return label
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(summary Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if summary.Err != nil {
		_, _ = fmt.Fprintf(r.out, "Failed: %v\n", summary.Err)
		return
	}

	_, _ = fmt.Fprintf(r.out, "Complete: %d files, %d chunks indexed in %s\n",
		summary.Files, summary.Chunks, summary.Duration.Round(100*time.Millisecond))
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}
