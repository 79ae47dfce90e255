package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// BuildTag returns the short tag a build embeds in its chunk IDs
// (<path>#<seq>@<tag>): the build ID with dashes stripped, truncated to
// eight characters.
func BuildTag(buildID string) string {
	cleaned := strings.ReplaceAll(buildID, "-", "")
	if len(cleaned) > 8 {
		return cleaned[:8]
	}
	return cleaned
}

// chunkBuildTag extracts the build tag from a chunk ID, empty when the ID
// carries none.
func chunkBuildTag(chunkID string) string {
	at := strings.LastIndexByte(chunkID, '@')
	if at < 0 {
		return ""
	}
	return chunkID[at+1:]
}

// VerifyBuild confirms a restored snapshot's pieces all belong to its
// recorded build: every chunk ID must carry the build's tag and every
// vector entry must resolve to a stored chunk. A crash between persisting
// one store and another can leave artifacts from different builds on disk;
// serving such a snapshot silently drops every unresolvable hit.
func VerifyBuild(snap *Snapshot) error {
	tag := BuildTag(snap.BuildID)
	for id := range snap.chunks {
		if got := chunkBuildTag(id); got != tag {
			return fmt.Errorf("chunk %s carries build tag %q, repository records %q", id, got, tag)
		}
	}
	if snap.Vector != nil {
		for _, id := range snap.Vector.AllIDs() {
			if _, ok := snap.Chunk(id); !ok {
				return fmt.Errorf("vector entry %s has no stored chunk, artifact is from another build", id)
			}
		}
	}
	return nil
}

// InconsistencyKind categorizes detected cross-index issues.
type InconsistencyKind int

const (
	// InconsistencyOrphanLexical indicates a lexical entry without a chunk.
	InconsistencyOrphanLexical InconsistencyKind = iota
	// InconsistencyOrphanVector indicates a vector entry without a chunk.
	InconsistencyOrphanVector
	// InconsistencyMissingLexical indicates a chunk missing from the lexical index.
	InconsistencyMissingLexical
	// InconsistencyMissingVector indicates a chunk missing from the vector index.
	InconsistencyMissingVector
)

// String returns a stable name for logs and reports.
func (k InconsistencyKind) String() string {
	switch k {
	case InconsistencyOrphanLexical:
		return "orphan_lexical"
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingLexical:
		return "missing_lexical"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected cross-index issue.
type Inconsistency struct {
	Kind    InconsistencyKind
	ChunkID string
	Details string
}

// CheckResult contains the outcome of a snapshot consistency check.
type CheckResult struct {
	// Checked is the number of chunks verified.
	Checked int
	// Issues contains all detected inconsistencies.
	Issues []Inconsistency
	// Duration is how long the check took.
	Duration time.Duration
}

// Check verifies that a snapshot's chunk set, lexical index and vector index
// agree. The chunk map is the source of truth. O(n) over all entries.
func Check(ctx context.Context, snap *Snapshot) (*CheckResult, error) {
	start := time.Now()
	var issues []Inconsistency

	lexicalIDs, err := snap.Lexical.AllIDs()
	if err != nil {
		return nil, err
	}

	var vectorIDs []string
	if snap.Vector != nil {
		vectorIDs = snap.Vector.AllIDs()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lexicalSet := make(map[string]bool, len(lexicalIDs))
	for _, id := range lexicalIDs {
		lexicalSet[id] = true
		if _, ok := snap.Chunk(id); !ok {
			issues = append(issues, Inconsistency{
				Kind:    InconsistencyOrphanLexical,
				ChunkID: id,
				Details: "lexical entry without a stored chunk",
			})
		}
	}

	vectorSet := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		vectorSet[id] = true
		if _, ok := snap.Chunk(id); !ok {
			issues = append(issues, Inconsistency{
				Kind:    InconsistencyOrphanVector,
				ChunkID: id,
				Details: "vector entry without a stored chunk",
			})
		}
	}

	for id := range snap.chunks {
		if !lexicalSet[id] {
			issues = append(issues, Inconsistency{
				Kind:    InconsistencyMissingLexical,
				ChunkID: id,
				Details: "chunk missing from the lexical index",
			})
		}
		if snap.Vector != nil && !vectorSet[id] {
			issues = append(issues, Inconsistency{
				Kind:    InconsistencyMissingVector,
				ChunkID: id,
				Details: "chunk missing from the vector index",
			})
		}
	}

	return &CheckResult{
		Checked:  snap.ChunkCount(),
		Issues:   issues,
		Duration: time.Since(start),
	}, nil
}

// Repair fixes what can be fixed in place: vector orphans are deleted
// best-effort. Lexical indexes are immutable after build and missing entries
// need a rebuild, so both are logged with a reindex hint instead.
func Repair(ctx context.Context, snap *Snapshot, issues []Inconsistency) error {
	var vectorOrphans []string
	var rebuildNeeded int

	for _, issue := range issues {
		switch issue.Kind {
		case InconsistencyOrphanVector:
			vectorOrphans = append(vectorOrphans, issue.ChunkID)
		case InconsistencyOrphanLexical, InconsistencyMissingLexical, InconsistencyMissingVector:
			rebuildNeeded++
		}
	}

	if len(vectorOrphans) > 0 && snap.Vector != nil {
		if err := snap.Vector.Delete(ctx, vectorOrphans); err != nil {
			slog.Warn("failed to delete orphan vector entries",
				slog.String("repository", snap.RepositoryID),
				slog.Int("count", len(vectorOrphans)),
				slog.String("error", err.Error()))
		} else {
			slog.Info("deleted orphan vector entries",
				slog.String("repository", snap.RepositoryID),
				slog.Int("count", len(vectorOrphans)))
		}
	}

	if rebuildNeeded > 0 {
		slog.Warn("index needs a rebuild, run `repoqa index --force` for this repository",
			slog.String("repository", snap.RepositoryID),
			slog.Int("issues", rebuildNeeded))
	}

	return nil
}

// QuickCheck compares entry counts across the snapshot's stores without
// walking IDs. True means the counts line up.
func QuickCheck(snap *Snapshot) bool {
	chunkCount := snap.ChunkCount()

	lexicalCount := 0
	if stats := snap.Lexical.Stats(); stats != nil {
		lexicalCount = stats.ChunkCount
	}

	consistent := chunkCount == lexicalCount
	if snap.Vector != nil {
		consistent = consistent && chunkCount == snap.Vector.Count()
	}

	if !consistent {
		vectorCount := -1
		if snap.Vector != nil {
			vectorCount = snap.Vector.Count()
		}
		slog.Debug("index counts mismatch",
			slog.String("repository", snap.RepositoryID),
			slog.Int("chunks", chunkCount),
			slog.Int("lexical", lexicalCount),
			slog.Int("vector", vectorCount))
	}

	return consistent
}
