package search

import (
	"hash/fnv"
	"strings"

	"github.com/repoqa/repoqa/internal/store"
)

// Assembler turns a fused ranking into a bounded, non-redundant context
// block. Candidates are deduplicated against already-accepted chunks first,
// then packed greedily into the size budget in fused-rank order.
type Assembler struct {
	threshold   float64
	shingleSize int
	unit        BudgetUnit
}

// NewAssembler creates an Assembler measuring the budget in token
// equivalents. A threshold outside (0, 1] falls back to 0.9 and a
// non-positive shingle size falls back to 3.
func NewAssembler(threshold float64, shingleSize int) *Assembler {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultDedupThreshold
	}
	if shingleSize <= 0 {
		shingleSize = DefaultShingleSize
	}
	return &Assembler{threshold: threshold, shingleSize: shingleSize, unit: BudgetTokens}
}

// InUnit returns a copy of the assembler measuring the budget in unit.
// Anything other than BudgetChars means token equivalents.
func (a *Assembler) InUnit(unit BudgetUnit) *Assembler {
	clone := *a
	if unit != BudgetChars {
		unit = BudgetTokens
	}
	clone.unit = unit
	return &clone
}

// accepted holds the dedup fingerprint of a chunk that survived pass one.
type accepted struct {
	content  string
	shingles map[uint64]struct{}
}

// Assemble walks candidates in rank order, drops exact duplicates and
// chunks whose shingle overlap with an accepted chunk reaches the threshold,
// then packs the survivors into the budget. A chunk that would overflow the
// budget is skipped whole, never truncated, and packing continues with the
// next rank. The budget is measured in the assembler's unit.
func (a *Assembler) Assemble(candidates []*ContextChunk, budget int) ([]*ContextChunk, AssemblyStats) {
	stats := AssemblyStats{Considered: len(candidates)}
	if len(candidates) == 0 {
		return []*ContextChunk{}, stats
	}

	kept := make([]*ContextChunk, 0, len(candidates))
	seen := make([]accepted, 0, len(candidates))

	for _, cand := range candidates {
		shingles := shingleSet(cand.Chunk.Content, a.shingleSize)

		dup := false
		for _, acc := range seen {
			if acc.content == cand.Chunk.Content || overlapRatio(shingles, acc.shingles) >= a.threshold {
				dup = true
				break
			}
		}
		if dup {
			stats.DuplicatesDropped++
			continue
		}

		kept = append(kept, cand)
		seen = append(seen, accepted{content: cand.Chunk.Content, shingles: shingles})
	}

	included := make([]*ContextChunk, 0, len(kept))
	remaining := budget
	for _, cand := range kept {
		size := chunkSize(cand.Chunk, a.unit)
		if size > remaining {
			stats.BudgetSkipped++
			continue
		}
		included = append(included, cand)
		remaining -= size
	}

	stats.Included = len(included)
	return included, stats
}

// chunkSize returns a chunk's size in the given unit. Chunks carry a token
// count from ingestion; content length over four approximates it when the
// count is missing.
func chunkSize(c *store.Chunk, unit BudgetUnit) int {
	if unit == BudgetChars {
		return len(c.Content)
	}
	if c.TokenCount > 0 {
		return c.TokenCount
	}
	return (len(c.Content) + 3) / 4
}

// shingleSet fingerprints content as hashes of consecutive lower-cased word
// windows. Content shorter than one window yields a single shingle over all
// its words; empty content yields an empty set.
func shingleSet(content string, size int) map[uint64]struct{} {
	words := strings.Fields(strings.ToLower(content))
	set := make(map[uint64]struct{}, len(words))
	if len(words) == 0 {
		return set
	}
	if len(words) < size {
		set[hashWords(words)] = struct{}{}
		return set
	}
	for i := 0; i+size <= len(words); i++ {
		set[hashWords(words[i:i+size])] = struct{}{}
	}
	return set
}

// hashWords hashes one window of words with FNV-1a.
func hashWords(words []string) uint64 {
	h := fnv.New64a()
	for i, w := range words {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(w))
	}
	return h.Sum64()
}

// overlapRatio is the shingle intersection size over the smaller set's size.
// Two empty sets do not overlap.
func overlapRatio(a, b map[uint64]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}

	common := 0
	for s := range small {
		if _, ok := large[s]; ok {
			common++
		}
	}
	return float64(common) / float64(len(small))
}
