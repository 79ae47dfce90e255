package search

import (
	"testing"

	"github.com/repoqa/repoqa/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Helpers ---

// Two 20-word contents whose only difference is the last word, putting their
// shingle overlap at 17/18, and a third that differs in three spread-out
// words, putting it at 11/18.
const (
	baseContent = "the retrieval engine fuses vector and lexical rankings into one ordered list before packing chunks into the context budget window"
	nearContent = "the retrieval engine fuses vector and lexical rankings into one ordered list before packing chunks into the context budget frame"
	farContent  = "the retrieval engine fuses graph and lexical rankings into one ordered slice before packing chunks into the context budget frame"
)

func ctxChunk(id, content string, tokens int) *ContextChunk {
	return &ContextChunk{
		Chunk: &store.Chunk{ID: id, Content: content, TokenCount: tokens},
	}
}

func includedIDs(chunks []*ContextChunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.Chunk.ID
	}
	return ids
}

// --- Assembly ---

func TestAssembler_EmptyCandidates(t *testing.T) {
	// Given: no candidates
	a := NewAssembler(DefaultDedupThreshold, DefaultShingleSize)

	// When: assembling
	included, stats := a.Assemble(nil, 1000)

	// Then: a valid empty context with zeroed stats
	require.NotNil(t, included)
	assert.Empty(t, included)
	assert.Equal(t, AssemblyStats{}, stats)
}

func TestAssembler_ExactDuplicateDropped(t *testing.T) {
	a := NewAssembler(DefaultDedupThreshold, DefaultShingleSize)

	t.Run("identical content", func(t *testing.T) {
		// Given: two candidates with byte-identical content
		candidates := []*ContextChunk{
			ctxChunk("a.go#0@b1", baseContent, 30),
			ctxChunk("a.go#1@b1", baseContent, 30),
		}

		// When: assembling
		included, stats := a.Assemble(candidates, 1000)

		// Then: only the higher-ranked copy survives
		assert.Equal(t, []string{"a.go#0@b1"}, includedIDs(included))
		assert.Equal(t, 2, stats.Considered)
		assert.Equal(t, 1, stats.DuplicatesDropped)
		assert.Equal(t, 1, stats.Included)
	})

	t.Run("identical empty content", func(t *testing.T) {
		// Given: two empty chunks, which produce no shingles at all
		candidates := []*ContextChunk{
			ctxChunk("a.go#0@b1", "", 5),
			ctxChunk("a.go#1@b1", "", 5),
		}

		// When: assembling
		included, stats := a.Assemble(candidates, 1000)

		// Then: the exact-duplicate check still catches the second copy
		assert.Len(t, included, 1)
		assert.Equal(t, 1, stats.DuplicatesDropped)
	})
}

func TestAssembler_NearDuplicateDropped(t *testing.T) {
	// Given: two chunks differing in one word out of twenty, both ranked
	a := NewAssembler(0.9, 3)
	candidates := []*ContextChunk{
		ctxChunk("a.go#0@b1", baseContent, 30),
		ctxChunk("b.go#0@b1", nearContent, 30),
	}

	// When: assembling
	included, stats := a.Assemble(candidates, 1000)

	// Then: the lower-ranked near-duplicate is dropped
	assert.Equal(t, []string{"a.go#0@b1"}, includedIDs(included))
	assert.Equal(t, 1, stats.DuplicatesDropped)
}

func TestAssembler_DistinctContentKept(t *testing.T) {
	// Given: two chunks sharing eleven of eighteen shingles, below 0.9
	a := NewAssembler(0.9, 3)
	candidates := []*ContextChunk{
		ctxChunk("a.go#0@b1", baseContent, 30),
		ctxChunk("b.go#0@b1", farContent, 30),
	}

	// When: assembling
	included, stats := a.Assemble(candidates, 1000)

	// Then: both survive in rank order
	assert.Equal(t, []string{"a.go#0@b1", "b.go#0@b1"}, includedIDs(included))
	assert.Zero(t, stats.DuplicatesDropped)
}

func TestAssembler_BudgetSkipsOversizedAndContinues(t *testing.T) {
	// Given: a budget that fits ranks 1, 2 and 4 but not rank 3
	a := NewAssembler(0.9, 3)
	candidates := []*ContextChunk{
		ctxChunk("r1", "alpha unique content one", 40),
		ctxChunk("r2", "beta unique content two", 40),
		ctxChunk("r3", "gamma unique content three", 50),
		ctxChunk("r4", "delta unique content four", 20),
	}

	// When: assembling with budget 100
	included, stats := a.Assemble(candidates, 100)

	// Then: rank 3 is skipped whole and packing continues with rank 4
	assert.Equal(t, []string{"r1", "r2", "r4"}, includedIDs(included))
	assert.Equal(t, 1, stats.BudgetSkipped)
	assert.Equal(t, 3, stats.Included)
	assert.Zero(t, stats.DuplicatesDropped)
}

func TestAssembler_NeverExceedsBudget(t *testing.T) {
	// Given: a mixed candidate list, some sized by token count and some by
	// content length
	a := NewAssembler(0.9, 3)
	candidates := []*ContextChunk{
		ctxChunk("r1", baseContent, 35),
		ctxChunk("r2", farContent, 0),
		ctxChunk("r3", "short one", 12),
		ctxChunk("r4", "another distinct sentence entirely", 48),
		ctxChunk("r5", "tail content", 3),
	}

	for _, budget := range []int{0, 10, 35, 55, 1000} {
		// When: assembling under each budget
		included, _ := a.Assemble(candidates, budget)

		// Then: the included total never exceeds it
		rc := RetrievalContext{Chunks: included}
		assert.LessOrEqual(t, rc.TotalSize(), budget, "budget %d", budget)
	}
}

func TestAssembler_ContentLengthSizesUncountedChunks(t *testing.T) {
	// Given: a chunk with no token count and 40 characters of content
	a := NewAssembler(0.9, 3)
	content := "0123456789012345678901234567890123456789"
	require.Len(t, content, 40)
	candidates := []*ContextChunk{ctxChunk("r1", content, 0)}

	// When: the budget is one short of the estimate
	included, stats := a.Assemble(candidates, 9)

	// Then: the chunk is skipped
	assert.Empty(t, included)
	assert.Equal(t, 1, stats.BudgetSkipped)

	// When: the budget matches the estimate exactly
	included, stats = a.Assemble(candidates, 10)

	// Then: the chunk fits
	assert.Len(t, included, 1)
	assert.Zero(t, stats.BudgetSkipped)
}

func TestAssembler_CharsUnitIgnoresTokenCounts(t *testing.T) {
	// Given: a 40-character chunk whose token count says 10
	content := "0123456789012345678901234567890123456789"
	candidates := []*ContextChunk{ctxChunk("r1", content, 10)}
	a := NewAssembler(0.9, 3).InUnit(BudgetChars)

	// When: the budget covers the token count but not the byte length
	included, stats := a.Assemble(candidates, 39)

	// Then: the chunk is measured in bytes and skipped
	assert.Empty(t, included)
	assert.Equal(t, 1, stats.BudgetSkipped)

	// When: the budget covers the byte length
	included, stats = a.Assemble(candidates, 40)

	// Then: the chunk fits
	assert.Len(t, included, 1)
	assert.Zero(t, stats.BudgetSkipped)
}

func TestAssembler_DedupFreesBudget(t *testing.T) {
	// Given: a duplicate in the middle that would otherwise eat the budget
	a := NewAssembler(0.9, 3)
	candidates := []*ContextChunk{
		ctxChunk("a", baseContent, 30),
		ctxChunk("a-copy", baseContent, 30),
		ctxChunk("b", farContent, 20),
	}

	// When: assembling with budget 50
	included, stats := a.Assemble(candidates, 50)

	// Then: the duplicate is dropped before packing, so b still fits
	assert.Equal(t, []string{"a", "b"}, includedIDs(included))
	assert.Equal(t, 1, stats.DuplicatesDropped)
	assert.Zero(t, stats.BudgetSkipped)
}

func TestAssembler_InvalidConfigFallsBack(t *testing.T) {
	// Given: out-of-range threshold and shingle size
	a := NewAssembler(1.5, -2)

	// Then: both fall back to the defaults
	assert.Equal(t, DefaultDedupThreshold, a.threshold)
	assert.Equal(t, DefaultShingleSize, a.shingleSize)

	b := NewAssembler(0, 0)
	assert.Equal(t, DefaultDedupThreshold, b.threshold)
	assert.Equal(t, DefaultShingleSize, b.shingleSize)
}

// --- Fingerprint Helpers ---

func TestShingleSet(t *testing.T) {
	t.Run("empty content", func(t *testing.T) {
		assert.Empty(t, shingleSet("", 3))
		assert.Empty(t, shingleSet("   \n\t ", 3))
	})

	t.Run("content shorter than window", func(t *testing.T) {
		// Two words with a three-word window collapse to one shingle
		assert.Len(t, shingleSet("hello world", 3), 1)
	})

	t.Run("window count", func(t *testing.T) {
		// Twenty distinct-window words with size 3 yield 18 shingles
		assert.Len(t, shingleSet(baseContent, 3), 18)
	})

	t.Run("case insensitive", func(t *testing.T) {
		a := shingleSet("Parse The Request", 3)
		b := shingleSet("parse the request", 3)
		assert.Equal(t, a, b)
	})
}

func TestOverlapRatio(t *testing.T) {
	t.Run("identical sets", func(t *testing.T) {
		a := shingleSet(baseContent, 3)
		assert.InDelta(t, 1.0, overlapRatio(a, a), 1e-12)
	})

	t.Run("near duplicates", func(t *testing.T) {
		a := shingleSet(baseContent, 3)
		b := shingleSet(nearContent, 3)
		assert.InDelta(t, 17.0/18.0, overlapRatio(a, b), 1e-12)
	})

	t.Run("disjoint sets", func(t *testing.T) {
		a := shingleSet("completely different words here", 3)
		b := shingleSet("nothing shared at all", 3)
		assert.Zero(t, overlapRatio(a, b))
	})

	t.Run("empty sets never overlap", func(t *testing.T) {
		assert.Zero(t, overlapRatio(shingleSet("", 3), shingleSet("", 3)))
	})

	t.Run("subset measured against smaller set", func(t *testing.T) {
		// Given: b's shingles are a strict subset of a's
		a := shingleSet(baseContent, 3)
		b := shingleSet("the retrieval engine fuses vector", 3)
		require.Less(t, len(b), len(a))

		// Then: the ratio uses the smaller set as the denominator
		assert.InDelta(t, 1.0, overlapRatio(a, b), 1e-12)
	})
}
