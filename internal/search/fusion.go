package search

import (
	"sort"

	"github.com/repoqa/repoqa/internal/store"
)

// FusedResult is a single ranking entry after reciprocal rank fusion.
type FusedResult struct {
	ChunkID      string
	Score        float64  // combined reciprocal-rank score
	VectorScore  float64  // vector similarity score (preserved)
	VectorRank   int      // position in the vector list (1-indexed, 0 if absent)
	LexicalScore float64  // BM25 score (preserved)
	LexicalRank  int      // position in the lexical list (1-indexed, 0 if absent)
	InBoth       bool     // chunk appeared in both source lists
	MatchedTerms []string // lexical matched terms (for highlighting)
}

// Fuser combines the vector and lexical rankings with weighted reciprocal
// rank fusion:
//
//	fused(d) = wVec / (K + vectorRank(d)) + wLex / (K + lexicalRank(d))
//
// Ranks are 1-indexed. A chunk absent from one list gets no contribution
// from that list. Raw scores are preserved for display but never blended,
// so neither source's scale needs calibrating against the other.
type Fuser struct {
	K int // smoothing constant, damps the gap between rank 1 and rank 2
}

// NewFuser creates a Fuser. If k <= 0 the default of 60 is used.
func NewFuser(k int) *Fuser {
	if k <= 0 {
		k = DefaultFusionK
	}
	return &Fuser{K: k}
}

// Fuse combines the two rankings. A chunk appearing in both lists
// accumulates both contributions. Results are sorted by fused score
// descending, ties broken by chunk ID ascending. If one list is empty the
// output preserves the other list's order; if both are empty the result is
// empty, not nil.
func (f *Fuser) Fuse(vec []*store.VectorResult, lex []*store.LexicalResult, weights Weights) []*FusedResult {
	if len(vec) == 0 && len(lex) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[string]*FusedResult, len(vec)+len(lex))

	for rank, r := range vec {
		fr := f.getOrCreate(scores, r.ChunkID)
		fr.VectorScore = float64(r.Score)
		fr.VectorRank = rank + 1
		fr.Score += weights.Vector / float64(f.K+rank+1)
	}

	for rank, r := range lex {
		fr := f.getOrCreate(scores, r.ChunkID)
		fr.LexicalScore = r.Score
		fr.LexicalRank = rank + 1
		fr.MatchedTerms = r.MatchedTerms
		fr.Score += weights.Lexical / float64(f.K+rank+1)

		if fr.VectorRank > 0 {
			fr.InBoth = true
		}
	}

	return f.toSortedSlice(scores)
}

// getOrCreate returns the existing entry for id or creates a new one.
func (f *Fuser) getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{ChunkID: id}
	m[id] = r
	return r
}

// toSortedSlice converts the map to a slice sorted by fused score
// descending, chunk ID ascending on ties.
func (f *Fuser) toSortedSlice(m map[string]*FusedResult) []*FusedResult {
	results := make([]*FusedResult, 0, len(m))
	for _, r := range m {
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	return results
}
