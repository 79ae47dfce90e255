package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/repoqa/repoqa/internal/answer"
	"github.com/repoqa/repoqa/internal/registry"
	"github.com/repoqa/repoqa/internal/search"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/internal/telemetry"
)

// Format selects the rendering style for command results.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a --format flag value. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown format %q (valid: text, json)", s)
	}
}

// RenderContext writes a retrieval context as text or JSON.
func RenderContext(w io.Writer, rc *search.RetrievalContext, format Format) error {
	if format == FormatJSON {
		return writeJSON(w, contextDTO(rc))
	}

	fmt.Fprintf(w, "Repository: %s (build %s)\n", rc.RepositoryID, rc.BuildID)
	fmt.Fprintf(w, "Question:   %s\n", rc.Question)
	if rc.Degraded {
		fmt.Fprintf(w, "Warning:    degraded results (%s)\n", rc.DegradedReason)
	}
	fmt.Fprintf(w, "Chunks:     %d of %d considered, %.0fms\n",
		len(rc.Chunks), rc.Stats.Considered, float64(rc.Duration.Microseconds())/1000)
	fmt.Fprintln(w)

	for i, cc := range rc.Chunks {
		fmt.Fprintf(w, "[%d] %s:%d-%d (score %.4f%s)\n",
			i+1, cc.Chunk.FilePath, cc.Chunk.StartLine, cc.Chunk.EndLine,
			cc.Score, rankNote(cc))
		for _, line := range strings.Split(strings.TrimRight(cc.Chunk.Content, "\n"), "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func rankNote(cc *search.ContextChunk) string {
	switch {
	case cc.VectorRank > 0 && cc.LexicalRank > 0:
		return ", both branches"
	case cc.VectorRank > 0:
		return ", vector only"
	case cc.LexicalRank > 0:
		return ", lexical only"
	default:
		return ""
	}
}

// RenderAnswer writes a generated answer with its sources.
func RenderAnswer(w io.Writer, res *answer.Result, rc *search.RetrievalContext, format Format) error {
	if format == FormatJSON {
		return writeJSON(w, map[string]any{
			"answer":   res.Text,
			"model":    res.Model,
			"usage":    res.Usage,
			"duration": res.Duration.String(),
			"context":  contextDTO(rc),
		})
	}

	fmt.Fprintln(w, strings.TrimSpace(res.Text))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Sources (%s, %.1fs):\n", res.Model, res.Duration.Seconds())
	for i, cc := range rc.Chunks {
		fmt.Fprintf(w, "  [%d] %s:%d-%d\n", i+1, cc.Chunk.FilePath, cc.Chunk.StartLine, cc.Chunk.EndLine)
	}
	if rc.Degraded {
		fmt.Fprintf(w, "\nWarning: degraded results (%s)\n", rc.DegradedReason)
	}
	return nil
}

// RenderPrompt writes a plugin-mode prompt for the caller's own model.
func RenderPrompt(w io.Writer, prompt string, format Format) error {
	if format == FormatJSON {
		return writeJSON(w, map[string]string{"prompt": prompt})
	}
	fmt.Fprintln(w, prompt)
	return nil
}

// RenderRepositories writes the repository listing with index readiness.
func RenderRepositories(w io.Writer, repos []*store.Repository, infos []registry.Info, format Format) error {
	ready := make(map[string]registry.Info, len(infos))
	for _, info := range infos {
		ready[info.RepositoryID] = info
	}

	if format == FormatJSON {
		type repoDTO struct {
			RepositoryID string    `json:"repository_id"`
			Name         string    `json:"name"`
			Kind         string    `json:"kind"`
			Ready        bool      `json:"ready"`
			BuildID      string    `json:"build_id,omitempty"`
			FileCount    int       `json:"file_count"`
			ChunkCount   int       `json:"chunk_count"`
			IndexedAt    time.Time `json:"indexed_at,omitzero"`
		}
		out := make([]repoDTO, 0, len(repos))
		for _, repo := range repos {
			_, ok := ready[repo.ID]
			out = append(out, repoDTO{
				RepositoryID: repo.ID,
				Name:         repo.Name,
				Kind:         repo.Kind,
				Ready:        ok,
				BuildID:      repo.BuildID,
				FileCount:    repo.FileCount,
				ChunkCount:   repo.ChunkCount,
				IndexedAt:    repo.IndexedAt,
			})
		}
		return writeJSON(w, out)
	}

	if len(repos) == 0 {
		fmt.Fprintln(w, "No repositories indexed. Run 'repoqa index <url|path>' first.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY\tKIND\tREADY\tFILES\tCHUNKS\tINDEXED")
	for _, repo := range repos {
		readiness := "no"
		if _, ok := ready[repo.ID]; ok {
			readiness = "yes"
		}
		indexed := "-"
		if !repo.IndexedAt.IsZero() {
			indexed = repo.IndexedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			repo.ID, repo.Kind, readiness, repo.FileCount, repo.ChunkCount, indexed)
	}
	return tw.Flush()
}

// RenderSession writes one ingest session's state.
func RenderSession(w io.Writer, session *store.Session, format Format) error {
	if format == FormatJSON {
		return writeJSON(w, map[string]any{
			"session_id":      session.ID,
			"repository_id":   session.RepositoryID,
			"status":          session.Status,
			"error":           session.Error,
			"files_total":     session.FilesTotal,
			"files_processed": session.FilesProcessed,
			"chunks_total":    session.ChunksTotal,
			"chunks_embedded": session.ChunksEmbedded,
		})
	}

	fmt.Fprintf(w, "Session:    %s\n", session.ID)
	fmt.Fprintf(w, "Repository: %s\n", session.RepositoryID)
	fmt.Fprintf(w, "Status:     %s\n", session.Status)
	if session.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", session.Error)
	}
	fmt.Fprintf(w, "Files:      %d/%d\n", session.FilesProcessed, session.FilesTotal)
	fmt.Fprintf(w, "Chunks:     %d embedded of %d\n", session.ChunksEmbedded, session.ChunksTotal)
	if !session.FinishedAt.IsZero() && !session.StartedAt.IsZero() {
		fmt.Fprintf(w, "Duration:   %s\n", session.FinishedAt.Sub(session.StartedAt).Round(time.Millisecond))
	}
	return nil
}

// RenderMetrics writes the telemetry rollup snapshot.
func RenderMetrics(w io.Writer, snap *telemetry.Snapshot, format Format) error {
	if format == FormatJSON {
		return writeJSON(w, snap)
	}

	fmt.Fprintf(w, "Queries:      %d since %s\n", snap.TotalQueries, snap.Since.Format(time.RFC3339))
	fmt.Fprintf(w, "Failed:       %d (%.1f%%)\n", snap.Failed, snap.ErrorRate()*100)
	fmt.Fprintf(w, "Degraded:     %d\n", snap.Degraded)
	fmt.Fprintf(w, "Zero results: %d (%.1f%%)\n", snap.ZeroResult, snap.ZeroResultRate()*100)
	fmt.Fprintf(w, "Cache hits:   %d\n", snap.CacheHits)
	fmt.Fprintf(w, "Latency:      p50 %s, p95 %s\n",
		snap.P50.Round(time.Millisecond), snap.P95.Round(time.Millisecond))

	if len(snap.Repositories) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "REPOSITORY\tQUERIES\tFAILED")
		for repo, stats := range snap.Repositories {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", repo, stats.Queries, stats.Failed)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func contextDTO(rc *search.RetrievalContext) map[string]any {
	chunks := make([]map[string]any, 0, len(rc.Chunks))
	for _, cc := range rc.Chunks {
		chunks = append(chunks, map[string]any{
			"chunk_id":     cc.Chunk.ID,
			"file_path":    cc.Chunk.FilePath,
			"start_line":   cc.Chunk.StartLine,
			"end_line":     cc.Chunk.EndLine,
			"language":     cc.Chunk.Language,
			"score":        cc.Score,
			"vector_rank":  cc.VectorRank,
			"lexical_rank": cc.LexicalRank,
			"content":      cc.Chunk.Content,
		})
	}
	return map[string]any{
		"repository_id":   rc.RepositoryID,
		"question":        rc.Question,
		"build_id":        rc.BuildID,
		"degraded":        rc.Degraded,
		"degraded_reason": rc.DegradedReason,
		"considered":      rc.Stats.Considered,
		"duration_ms":     rc.Duration.Milliseconds(),
		"chunks":          chunks,
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
