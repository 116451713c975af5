package embedder

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedEmbedder fronts an Embedder with a bounded, TTL-expiring cache
// keyed by a normalized hash of the query text, so repeated or near-
// identical queries skip the embedding service round trip entirely.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.LRU[string, []float32]
}

// NewCachedEmbedder wraps inner with an expirable LRU cache of the given
// size and TTL.
func NewCachedEmbedder(inner Embedder, size int, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		inner: inner,
		cache: lru.NewLRU[string, []float32](size, nil, ttl),
	}
}

// QueryHash returns a deterministic cache key for a query string,
// normalized by lowercasing and trimming whitespace before hashing.
func QueryHash(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("emb:%x", h[:16])
}

// Embed returns a cached vector if present, otherwise embeds and caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := QueryHash(text)
	if vec, ok := c.cache.Get(key); ok {
		slog.Debug("embedding cache hit", "query_hash", key)
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch embeds texts not already cached and merges in cached results.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if vec, ok := c.cache.Get(QueryHash(t)); ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	embedded, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = embedded[j]
		c.cache.Add(QueryHash(missTexts[j]), embedded[j])
	}
	return results, nil
}

func (c *CachedEmbedder) Dimension() int    { return c.inner.Dimension() }
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

var _ Embedder = (*CachedEmbedder)(nil)
