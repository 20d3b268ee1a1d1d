package embedding

import (
	"context"
	"math"
	"testing"
)

func TestNewEngine_HashProvider(t *testing.T) {
	engine, err := NewEngine(Config{Provider: "hash", Dimensions: 256})
	if err != nil {
		t.Fatalf("NewEngine(hash): %v", err)
	}
	if engine.Dimensions() != 256 {
		t.Errorf("Dimensions()=%d, want 256", engine.Dimensions())
	}
	if !TokenVector(engine) {
		t.Error("hash engine must report as token-vector")
	}
}

func TestNewEngine_CacheWrap(t *testing.T) {
	engine, err := NewEngine(Config{Provider: "hash", Dimensions: 64, CacheSize: 8})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, ok := engine.(*CachedEngine); !ok {
		t.Fatalf("expected cached engine, got %T", engine)
	}
	// Name passes through the cache so threshold selection still works
	if !TokenVector(engine) {
		t.Error("cached hash engine must still report as token-vector")
	}
}

func TestNewEngine_UnsupportedProvider(t *testing.T) {
	if _, err := NewEngine(Config{Provider: "weaviate"}); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNewEngine_GenAIRequiresKey(t *testing.T) {
	if _, err := NewEngine(Config{Provider: "genai"}); err == nil {
		t.Fatal("expected error for missing GenAI API key")
	}
}

func TestCosineSimilarity(t *testing.T) {
	identical, err := CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3})
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if math.Abs(identical-1.0) > 1e-9 {
		t.Errorf("identical vectors: got %f, want 1.0", identical)
	}

	orthogonal, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if math.Abs(orthogonal) > 1e-9 {
		t.Errorf("orthogonal vectors: got %f, want 0", orthogonal)
	}

	opposite, err := CosineSimilarity([]float32{1, 0}, []float32{-1, 0})
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if math.Abs(opposite+1.0) > 1e-9 {
		t.Errorf("opposite vectors: got %f, want -1.0", opposite)
	}

	if _, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); err == nil {
		t.Error("expected dimension mismatch error")
	}

	zero, err := CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if zero != 0 {
		t.Errorf("zero-magnitude vector: got %f, want 0", zero)
	}
}

func TestFindTopK(t *testing.T) {
	query := []float32{1, 0, 0}
	corpus := [][]float32{
		{0, 1, 0},       // orthogonal
		{1, 0.1, 0},     // close
		{1, 0, 0},       // identical
		{-1, 0, 0},      // opposite
		{0.5, 0.5, 0.5}, // partial
	}

	results, err := FindTopK(query, corpus, 3)
	if err != nil {
		t.Fatalf("FindTopK: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Index != 2 {
		t.Errorf("best match index=%d, want 2 (identical vector)", results[0].Index)
	}
	if results[1].Index != 1 {
		t.Errorf("second match index=%d, want 1", results[1].Index)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("results not sorted descending at %d", i)
		}
	}
}

func TestFindTopK_SkipsMismatchedDimensions(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{
		{1, 0},
		{1, 0, 0}, // wrong dimensionality
	}

	results, err := FindTopK(query, corpus, 5)
	if err != nil {
		t.Fatalf("FindTopK: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result after skipping mismatch, got %d", len(results))
	}
}

func TestHashEngine_Deterministic(t *testing.T) {
	engine, err := NewHashEngine(128)
	if err != nil {
		t.Fatalf("NewHashEngine: %v", err)
	}

	ctx := context.Background()
	a, err := engine.Embed(ctx, "Describe the stages of mitosis")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := engine.Embed(ctx, "Describe the stages of mitosis")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	sim, err := CosineSimilarity(a, b)
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if math.Abs(sim-1.0) > 1e-6 {
		t.Errorf("same text should embed identically, similarity=%f", sim)
	}
}

func TestHashEngine_OverlapOrdering(t *testing.T) {
	engine, _ := NewHashEngine(768)
	ctx := context.Background()

	sentence, _ := engine.Embed(ctx, "Mitosis produces two identical daughter cells")
	related, _ := engine.Embed(ctx, "Explain how mitosis produces daughter cells during division")
	unrelated, _ := engine.Embed(ctx, "The French Revolution began in 1789")

	simRelated, _ := CosineSimilarity(sentence, related)
	simUnrelated, _ := CosineSimilarity(sentence, unrelated)

	if simRelated <= simUnrelated {
		t.Errorf("token overlap must rank related text higher: related=%f unrelated=%f", simRelated, simUnrelated)
	}
	if simRelated < 0.3 {
		t.Errorf("heavily overlapping texts should clear the token-vector threshold, got %f", simRelated)
	}
	if simUnrelated >= 0.3 {
		t.Errorf("disjoint texts should stay below the token-vector threshold, got %f", simUnrelated)
	}
}

func TestHashEngine_Normalized(t *testing.T) {
	engine, _ := NewHashEngine(768)
	vec, err := engine.Embed(context.Background(), "competency outcomes for grade nine biology")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	var magnitude float64
	for _, v := range vec {
		magnitude += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(magnitude)-1.0) > 1e-6 {
		t.Errorf("vector magnitude=%f, want 1.0", math.Sqrt(magnitude))
	}
}

func TestHashEngine_EmptyText(t *testing.T) {
	engine, _ := NewHashEngine(64)
	vec, err := engine.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed empty: %v", err)
	}
	if len(vec) != 64 {
		t.Fatalf("expected zero vector of dimension 64, got %d", len(vec))
	}
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("Grade 9 Biology: cell-division (mitosis)")
	want := []string{"grade", "9", "biology", "cell", "division", "mitosis"}
	if len(tokens) != len(want) {
		t.Fatalf("Tokenize returned %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("token %d=%q, want %q", i, tokens[i], want[i])
		}
	}
}
