package search

import "time"

const (
	// DefaultVectorTopK is the number of nearest neighbours requested from
	// the vector index.
	DefaultVectorTopK = 10

	// DefaultLexicalTopK is the number of results requested from the
	// lexical index.
	DefaultLexicalTopK = 10

	// DefaultContextBudget is the context size budget in token-equivalents.
	DefaultContextBudget = 4000

	// DefaultFusionK is the reciprocal-rank smoothing constant.
	DefaultFusionK = 60

	// DefaultDedupThreshold is the shingle-overlap ratio at or above which
	// a candidate is dropped as a near-duplicate.
	DefaultDedupThreshold = 0.9

	// DefaultShingleSize is the shingle width in words for the dedup
	// fingerprint.
	DefaultShingleSize = 3

	// MaxTopK caps the per-branch result count.
	MaxTopK = 100

	// DefaultEmbedTimeout bounds the query-embedding call.
	DefaultEmbedTimeout = 30 * time.Second

	// DefaultVectorTimeout bounds the vector-backend search call.
	DefaultVectorTimeout = 10 * time.Second
)

// BudgetUnit selects how chunk sizes count against the context budget.
type BudgetUnit string

const (
	// BudgetTokens counts the token estimate carried by each chunk, falling
	// back to content length over four when the estimate is missing.
	BudgetTokens BudgetUnit = "tokens"

	// BudgetChars counts content byte length.
	BudgetChars BudgetUnit = "chars"
)

// Weights scales each evidence source's reciprocal-rank contribution.
type Weights struct {
	// Vector is the weight for the vector-similarity ranking.
	Vector float64

	// Lexical is the weight for the BM25 ranking.
	Lexical float64
}

// DefaultWeights returns equal weights for both sources.
func DefaultWeights() Weights {
	return Weights{Vector: 1.0, Lexical: 1.0}
}

// Options configures one retrieval call. The zero value means "use the
// engine defaults"; any field left zero is filled from the engine's defaults
// and then from the package defaults.
type Options struct {
	// VectorTopK is how many nearest neighbours to fetch (default 10,
	// capped at 100).
	VectorTopK int

	// LexicalTopK is how many keyword matches to fetch (default 10,
	// capped at 100).
	LexicalTopK int

	// ContextBudget is the maximum total context size measured in
	// BudgetUnit (default 4000).
	ContextBudget int

	// BudgetUnit is the measure ContextBudget is expressed in
	// (default BudgetTokens).
	BudgetUnit BudgetUnit

	// FusionK is the reciprocal-rank smoothing constant (default 60).
	FusionK int

	// Weights overrides the per-source fusion weights. Nil means equal
	// weights of 1.0.
	Weights *Weights

	// DedupThreshold is the shingle-overlap ratio at or above which a
	// candidate is dropped as a near-duplicate. Values outside (0, 1]
	// fall back to the default of 0.9.
	DedupThreshold float64

	// ShingleSize is the dedup shingle width in words (default 3).
	ShingleSize int

	// EmbedTimeout bounds the query-embedding call (default 30s).
	EmbedTimeout time.Duration

	// VectorTimeout bounds the vector search call (default 10s).
	VectorTimeout time.Duration
}

// merge returns o with zero fields filled from fallback.
func (o Options) merge(fallback Options) Options {
	if o.VectorTopK <= 0 {
		o.VectorTopK = fallback.VectorTopK
	}
	if o.LexicalTopK <= 0 {
		o.LexicalTopK = fallback.LexicalTopK
	}
	if o.ContextBudget <= 0 {
		o.ContextBudget = fallback.ContextBudget
	}
	if o.BudgetUnit == "" {
		o.BudgetUnit = fallback.BudgetUnit
	}
	if o.FusionK <= 0 {
		o.FusionK = fallback.FusionK
	}
	if o.Weights == nil {
		o.Weights = fallback.Weights
	}
	if o.DedupThreshold <= 0 {
		o.DedupThreshold = fallback.DedupThreshold
	}
	if o.ShingleSize <= 0 {
		o.ShingleSize = fallback.ShingleSize
	}
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = fallback.EmbedTimeout
	}
	if o.VectorTimeout <= 0 {
		o.VectorTimeout = fallback.VectorTimeout
	}
	return o
}

// normalize fills remaining zero fields with the package defaults and clamps
// out-of-range values.
func (o Options) normalize() Options {
	if o.VectorTopK <= 0 {
		o.VectorTopK = DefaultVectorTopK
	}
	if o.VectorTopK > MaxTopK {
		o.VectorTopK = MaxTopK
	}
	if o.LexicalTopK <= 0 {
		o.LexicalTopK = DefaultLexicalTopK
	}
	if o.LexicalTopK > MaxTopK {
		o.LexicalTopK = MaxTopK
	}
	if o.ContextBudget <= 0 {
		o.ContextBudget = DefaultContextBudget
	}
	if o.BudgetUnit != BudgetChars {
		o.BudgetUnit = BudgetTokens
	}
	if o.FusionK <= 0 {
		o.FusionK = DefaultFusionK
	}
	if o.Weights == nil || (o.Weights.Vector <= 0 && o.Weights.Lexical <= 0) {
		// With both sources muted every fused score is zero and ordering
		// degenerates to chunk ID. Treat it like any other zero field.
		w := DefaultWeights()
		o.Weights = &w
	}
	if o.DedupThreshold <= 0 || o.DedupThreshold > 1 {
		o.DedupThreshold = DefaultDedupThreshold
	}
	if o.ShingleSize <= 0 {
		o.ShingleSize = DefaultShingleSize
	}
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = DefaultEmbedTimeout
	}
	if o.VectorTimeout <= 0 {
		o.VectorTimeout = DefaultVectorTimeout
	}
	return o
}
