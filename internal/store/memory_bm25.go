package store

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	qaerrors "github.com/repoqa/repoqa/internal/errors"
)

// MemoryBM25Index is the default lexical index: postings held in process
// memory, built whole at construction and immutable afterwards. Searches
// touch no shared mutable state, so concurrent queries need no locking;
// rebuilds construct a fresh instance and swap it at the registry level.
type MemoryBM25Index struct {
	cfg       BM25Config
	stopWords map[string]struct{}

	chunkIDs []string  // ordinal -> chunk ID, ascending
	lengths  []int     // ordinal -> token count
	postings map[string][]posting
	idf      map[string]float64
	avgLen   float64
}

type posting struct {
	ord int
	tf  int
}

var _ LexicalIndex = (*MemoryBM25Index)(nil)

// NewMemoryBM25Index builds the index over the full chunk set. Building
// with an empty corpus fails; a failed build leaves nothing half-made,
// the caller keeps whatever index it had before.
func NewMemoryBM25Index(repositoryID string, chunks []*Chunk, cfg BM25Config) (*MemoryBM25Index, error) {
	if len(chunks) == 0 {
		return nil, qaerrors.EmptyCorpus(repositoryID)
	}

	// K1 and MinTokenLength have no valid zero value; B does (0 disables
	// length normalization), so it passes through untouched.
	if cfg.K1 == 0 {
		cfg.K1 = 1.5
	}
	if cfg.MinTokenLength == 0 {
		cfg.MinTokenLength = 2
	}

	idx := &MemoryBM25Index{
		cfg:       cfg,
		stopWords: BuildStopWordMap(cfg.StopWords),
		chunkIDs:  make([]string, 0, len(chunks)),
		lengths:   make([]int, len(chunks)),
		postings:  make(map[string][]posting),
		idf:       make(map[string]float64),
	}

	// Ordinals follow chunk ID order so that rank ties resolve to the
	// smaller chunk ID without a second comparison at query time.
	ordered := make([]*Chunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	totalLen := 0
	for ord, chunk := range ordered {
		idx.chunkIDs = append(idx.chunkIDs, chunk.ID)

		tokens := idx.analyze(chunk.Content)
		idx.lengths[ord] = len(tokens)
		totalLen += len(tokens)

		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		for term, n := range tf {
			idx.postings[term] = append(idx.postings[term], posting{ord: ord, tf: n})
		}
	}
	idx.avgLen = float64(totalLen) / float64(len(ordered))

	n := float64(len(ordered))
	for term, plist := range idx.postings {
		df := float64(len(plist))
		idx.idf[term] = math.Log(1 + (n-df+0.5)/(df+0.5))
	}

	slog.Debug("lexical_index_built",
		slog.String("repository", repositoryID),
		slog.Int("chunks", len(ordered)),
		slog.Int("terms", len(idx.postings)))

	return idx, nil
}

// analyze applies the shared tokenization rule plus stop-word filtering.
// Queries and chunks must go through the same path so terms line up.
func (idx *MemoryBM25Index) analyze(text string) []string {
	tokens := Tokenize(text, idx.cfg.MinTokenLength)
	if len(idx.stopWords) == 0 {
		return tokens
	}
	return FilterStopWords(tokens, idx.stopWords)
}

// Search scores every chunk sharing at least one query term:
//
//	score = sum over query terms of idf * (tf*(k1+1)) / (tf + k1*(1-b+b*len/avgLen))
//
// with idf = ln(1 + (N-df+0.5)/(df+0.5)). Results come back best first,
// ties by chunk ID ascending, at most limit of them. No shared term
// means an empty result, never an error.
func (idx *MemoryBM25Index) Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return []*LexicalResult{}, nil
	}

	terms := uniqueTerms(idx.analyze(query))
	if len(terms) == 0 {
		return []*LexicalResult{}, nil
	}

	k1, b := idx.cfg.K1, idx.cfg.B
	scores := make(map[int]float64)
	matched := make(map[int][]string)

	for _, term := range terms {
		plist, ok := idx.postings[term]
		if !ok {
			continue
		}
		termIDF := idx.idf[term]
		for _, p := range plist {
			tf := float64(p.tf)
			norm := k1 * (1 - b + b*float64(idx.lengths[p.ord])/idx.avgLen)
			scores[p.ord] += termIDF * (tf * (k1 + 1)) / (tf + norm)
			matched[p.ord] = append(matched[p.ord], term)
		}
	}

	if len(scores) == 0 {
		return []*LexicalResult{}, nil
	}

	ords := make([]int, 0, len(scores))
	for ord := range scores {
		ords = append(ords, ord)
	}
	sort.Slice(ords, func(i, j int) bool {
		si, sj := scores[ords[i]], scores[ords[j]]
		if si != sj {
			return si > sj
		}
		return ords[i] < ords[j] // ordinal order is chunk ID order
	})

	if len(ords) > limit {
		ords = ords[:limit]
	}

	results := make([]*LexicalResult, 0, len(ords))
	for _, ord := range ords {
		terms := matched[ord]
		sort.Strings(terms)
		results = append(results, &LexicalResult{
			ChunkID:      idx.chunkIDs[ord],
			Score:        scores[ord],
			MatchedTerms: terms,
		})
	}

	return results, nil
}

// AllIDs returns every chunk ID in the index, ascending.
func (idx *MemoryBM25Index) AllIDs() ([]string, error) {
	ids := make([]string, len(idx.chunkIDs))
	copy(ids, idx.chunkIDs)
	return ids, nil
}

// Stats returns index statistics.
func (idx *MemoryBM25Index) Stats() *IndexStats {
	return &IndexStats{
		ChunkCount:  len(idx.chunkIDs),
		TermCount:   len(idx.postings),
		AvgChunkLen: idx.avgLen,
	}
}

// Close is a no-op: the index holds no external resources, and staying
// mutation-free keeps concurrent Search calls safe without locks.
func (idx *MemoryBM25Index) Close() error {
	return nil
}

// uniqueTerms deduplicates tokens preserving no particular order beyond
// determinism (sorted), since BM25 sums each query term once.
func uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
