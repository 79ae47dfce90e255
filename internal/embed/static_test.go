package embed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Embed_ReturnsCorrectDimensions(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// When: I embed a code snippet
	embedding, err := embedder.Embed(context.Background(), "func main() {}")

	// Then: a 256-dimension vector is returned
	require.NoError(t, err)
	assert.Len(t, embedding, StaticDimensions)
}

func TestStaticEmbedder_Embed_VectorIsNormalized(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// When: I embed text
	embedding, err := embedder.Embed(context.Background(), "func main() {}")
	require.NoError(t, err)

	// Then: vector magnitude is ~1.0
	assert.InDelta(t, 1.0, vectorMagnitude(embedding), 0.001, "vector should be normalized to unit length")
}

func TestStaticEmbedder_Embed_IsDeterministic(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	text := "func add(a, b int) int { return a + b }"

	// When: I embed the same text twice
	emb1, err1 := embedder.Embed(context.Background(), text)
	emb2, err2 := embedder.Embed(context.Background(), text)

	// Then: identical vectors are returned
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, emb1, emb2, "same text should produce identical vectors")
}

func TestStaticEmbedder_Embed_DeterministicAcrossInstances(t *testing.T) {
	// Given: two separate embedder instances
	embedder1 := NewStaticEmbedder()
	embedder2 := NewStaticEmbedder()
	defer func() { _ = embedder1.Close() }()
	defer func() { _ = embedder2.Close() }()

	text := "func resolveChunk(id string) (*Chunk, error)"

	// When: I embed the same text with both
	emb1, _ := embedder1.Embed(context.Background(), text)
	emb2, _ := embedder2.Embed(context.Background(), text)

	// Then: identical vectors are returned
	assert.Equal(t, emb1, emb2, "same text should produce identical vectors across instances")
}

func TestStaticEmbedder_Embed_DifferentTextsProduceDifferentVectors(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// When: I embed two unrelated snippets
	emb1, _ := embedder.Embed(context.Background(), "func add()")
	emb2, _ := embedder.Embed(context.Background(), "class Database")

	// Then: different vectors are returned
	assert.NotEqual(t, emb1, emb2, "different texts should produce different vectors")
}

func TestStaticEmbedder_Embed_EmptyInput_ReturnsZeroVector(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// When: I embed empty and whitespace-only strings
	for _, text := range []string{"", "   \t\n  "} {
		embedding, err := embedder.Embed(context.Background(), text)

		// Then: a zero vector of full width is returned
		require.NoError(t, err)
		assert.Len(t, embedding, StaticDimensions)
		for i, v := range embedding {
			assert.Equal(t, float32(0), v, "element %d should be zero", i)
		}
	}
}

func TestStaticEmbedder_SimilarCode_HasHigherSimilarity(t *testing.T) {
	// Given: a static embedder and code samples
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	add := "func add(a, b int) int { return a + b }"
	sum := "func sum(x, y int) int { return x + y }"
	repository := "class UserRepository { findById() }"

	// When: I compute embeddings
	addEmb, _ := embedder.Embed(context.Background(), add)
	sumEmb, _ := embedder.Embed(context.Background(), sum)
	repoEmb, _ := embedder.Embed(context.Background(), repository)

	// Then: add/sum similarity > add/repository similarity
	addSumSim := cosineSimilarity(addEmb, sumEmb)
	addRepoSim := cosineSimilarity(addEmb, repoEmb)

	assert.Greater(t, addSumSim, addRepoSim,
		"similar code should score higher (add/sum: %.4f, add/repo: %.4f)", addSumSim, addRepoSim)
}

func TestStaticEmbedder_CamelCase_Tokenization(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// When: I embed an identifier and its space-separated words
	camelEmb, _ := embedder.Embed(context.Background(), "getUserById")
	spaceEmb, _ := embedder.Embed(context.Background(), "get user by id")

	// Then: the vectors have reasonable similarity
	similarity := cosineSimilarity(camelEmb, spaceEmb)
	assert.Greater(t, similarity, float64(0.3),
		"camelCase should tokenize like space-separated words (similarity: %.4f)", similarity)
}

func TestStaticEmbedder_SnakeCase_Tokenization(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// When: I embed a snake_case identifier and its words
	snakeEmb, _ := embedder.Embed(context.Background(), "get_user_by_id")
	spaceEmb, _ := embedder.Embed(context.Background(), "get user by id")

	// Then: the vectors have reasonable similarity
	similarity := cosineSimilarity(snakeEmb, spaceEmb)
	assert.Greater(t, similarity, float64(0.3),
		"snake_case should tokenize like space-separated words (similarity: %.4f)", similarity)
}

func TestStaticEmbedder_Tokenize_SplitsIdentifiers(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "basic camelCase",
			input: "getUserById",
			want:  []string{"get", "user", "by", "id"},
		},
		{
			name:  "acronym at start",
			input: "HTTPRequest",
			want:  []string{"http", "request"},
		},
		{
			name:  "acronym in middle",
			input: "parseJSONData",
			want:  []string{"parse", "json", "data"},
		},
		{
			name:  "snake_case",
			input: "get_user_by_id",
			want:  []string{"get", "user", "by", "id"},
		},
		{
			name:  "uppercase snake_case",
			input: "MAX_BUFFER_SIZE",
			want:  []string{"max", "buffer", "size"},
		},
		{
			name:  "mixed snake and camel",
			input: "parse_jsonBody",
			want:  []string{"parse", "json", "body"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenize(tt.input))
		})
	}
}

func TestStaticEmbedder_StopWordFiltering(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// When: I embed keyword-only text and descriptive text
	embWith, _ := embedder.Embed(context.Background(), "func return int string bool void")
	embWithout, _ := embedder.Embed(context.Background(), "calculate process validate")

	// Then: the vectors differ substantially
	similarity := cosineSimilarity(embWith, embWithout)
	assert.Less(t, similarity, float64(0.5),
		"stop words should be filtered out (similarity: %.4f)", similarity)
}

func TestStaticEmbedder_Available_AlwaysTrue(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// When/Then: Available is true, even with a cancelled context
	assert.True(t, embedder.Available(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, embedder.Available(ctx), "no external dependencies to be unavailable")
}

func TestStaticEmbedder_Identity(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	assert.Equal(t, StaticDimensions, embedder.Dimensions())
	assert.Equal(t, "static", embedder.ModelName())
}

func TestStaticEmbedder_EmbedBatch_ReturnsCorrectCount(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	texts := []string{"func add()", "func sub()", "class User"}

	// When: I call EmbedBatch
	embeddings, err := embedder.EmbedBatch(context.Background(), texts)

	// Then: one vector per text, each full width
	require.NoError(t, err)
	assert.Len(t, embeddings, 3)
	for i, emb := range embeddings {
		assert.Len(t, emb, StaticDimensions, "embedding %d should have correct dimensions", i)
	}
}

func TestStaticEmbedder_EmbedBatch_EmptyList_ReturnsEmpty(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	embeddings, err := embedder.EmbedBatch(context.Background(), []string{})

	require.NoError(t, err)
	assert.Empty(t, embeddings)
}

func TestStaticEmbedder_EmbedBatch_HandlesEmptyStringsInBatch(t *testing.T) {
	// Given: a batch with an empty string mixed in
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	texts := []string{
		"func add(a, b int) int { return a + b }",
		"",
		"func multiply(a, b int) int { return a * b }",
	}

	// When: I call EmbedBatch
	embeddings, err := embedder.EmbedBatch(context.Background(), texts)

	// Then: the empty string produced a zero vector
	require.NoError(t, err)
	assert.Len(t, embeddings, 3)
	for _, v := range embeddings[1] {
		assert.Equal(t, float32(0), v)
	}
}

func TestStaticEmbedder_Close_IsIdempotent(t *testing.T) {
	embedder := NewStaticEmbedder()

	assert.NoError(t, embedder.Close())
	assert.NoError(t, embedder.Close())
}

func TestStaticEmbedder_Embed_AfterClose_ReturnsError(t *testing.T) {
	embedder := NewStaticEmbedder()
	_ = embedder.Close()

	_, err := embedder.Embed(context.Background(), "test")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
	assert.False(t, embedder.Available(context.Background()))
}

func TestStaticEmbedder_Embed_UnicodeText_NoError(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	texts := []string{
		"func 日本語() {}",
		"// комментарий",
		"const emoji = '🚀'",
	}

	for _, text := range texts {
		embedding, err := embedder.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Len(t, embedding, StaticDimensions)
	}
}

func TestStaticEmbedder_Embed_LongText_NoError(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	longText := strings.Repeat("word ", 10000)

	embedding, err := embedder.Embed(context.Background(), longText)
	require.NoError(t, err)
	assert.Len(t, embedding, StaticDimensions)
	assert.InDelta(t, 1.0, vectorMagnitude(embedding), 0.001)
}
