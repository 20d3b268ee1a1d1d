package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// =============================================================================
// DETERMINISTIC TOKEN-HASH EMBEDDING ENGINE
// =============================================================================

// HashEngine produces deterministic token-presence vectors with no network
// dependency. Each distinct token is feature-hashed into one dimension, so
// cosine similarity between two vectors measures token overlap (the Jaccard
// fallback provider). Grounding applies the token-vector threshold when this
// engine is active.
type HashEngine struct {
	dims int
}

// NewHashEngine creates a deterministic hash embedding engine.
func NewHashEngine(dims int) (*HashEngine, error) {
	if dims <= 0 {
		dims = 768
	}
	return &HashEngine{dims: dims}, nil
}

// Embed generates a token-presence vector for a single text.
func (e *HashEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, token := range Tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[int(h.Sum32()%uint32(e.dims))] = 1
	}

	// L2 normalize so cosine scores land in [0, 1]
	var magnitude float64
	for _, v := range vec {
		magnitude += float64(v) * float64(v)
	}
	if magnitude > 0 {
		scale := float32(1 / math.Sqrt(magnitude))
		for i := range vec {
			vec[i] *= scale
		}
	}

	return vec, nil
}

// EmbedBatch generates vectors for multiple texts sequentially.
func (e *HashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

// Dimensions returns the dimensionality of embeddings.
func (e *HashEngine) Dimensions() int {
	return e.dims
}

// Name returns the engine name.
func (e *HashEngine) Name() string {
	return "hash:fnv"
}

// Tokenize lowercases text and splits it on non-alphanumeric boundaries.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
