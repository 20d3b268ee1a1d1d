package embedding

import (
	"context"
	"sync"

	"edutrack/internal/logging"
)

// =============================================================================
// LRU EMBEDDING CACHE
// =============================================================================

// CachedEngine wraps an engine with an in-memory LRU cache keyed by text.
// Grounding embeds the same competency texts on every request; the cache
// keeps those calls off the network.
type CachedEngine struct {
	inner Engine
	limit int

	mu      sync.Mutex
	vectors map[string][]float32
	order   []string // LRU order, oldest first

	hits   int64
	misses int64
}

// NewCachedEngine wraps an engine with an LRU cache of the given size.
func NewCachedEngine(inner Engine, limit int) *CachedEngine {
	if limit <= 0 {
		limit = 2048
	}
	return &CachedEngine{
		inner:   inner,
		limit:   limit,
		vectors: make(map[string][]float32),
	}
}

// Embed returns a cached vector or delegates to the inner engine.
func (c *CachedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.get(text); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(text, vec)
	return vec, nil
}

// EmbedBatch serves cached entries and batches the misses into one call,
// preserving input order.
func (c *CachedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	missing := make([]string, 0, len(texts))
	missingIdx := make([]int, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.get(text); ok {
			results[i] = vec
		} else {
			missing = append(missing, text)
			missingIdx = append(missingIdx, i)
		}
	}

	if len(missing) > 0 {
		fetched, err := c.inner.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for j, vec := range fetched {
			results[missingIdx[j]] = vec
			c.put(missing[j], vec)
		}
	}

	logging.EmbeddingDebug("EmbedBatch: %d texts, %d served from cache", len(texts), len(texts)-len(missing))
	return results, nil
}

// Dimensions returns the inner engine's dimensionality.
func (c *CachedEngine) Dimensions() int {
	return c.inner.Dimensions()
}

// Name returns the inner engine's name.
// Cache wrapping must not change threshold selection.
func (c *CachedEngine) Name() string {
	return c.inner.Name()
}

// HealthCheck delegates to the inner engine when it supports health checks.
func (c *CachedEngine) HealthCheck(ctx context.Context) error {
	if hc, ok := c.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Stats returns cache hit/miss counts.
func (c *CachedEngine) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *CachedEngine) get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	vec, ok := c.vectors[text]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++

	// Maintain LRU order
	for i, key := range c.order {
		if key == text {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, text)
	return vec, true
}

func (c *CachedEngine) put(text string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.vectors[text]; exists {
		for i, key := range c.order {
			if key == text {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	c.order = append(c.order, text)
	c.vectors[text] = vec

	// Prune oldest entries past the limit
	pruned := 0
	for len(c.order) > c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.vectors, oldest)
		pruned++
	}
	if pruned > 0 {
		logging.EmbeddingDebug("Pruned %d cached embeddings (limit=%d)", pruned, c.limit)
	}
}
