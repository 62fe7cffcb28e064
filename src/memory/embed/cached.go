package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder wraps an Embedder and caches vectors by content hash.
// Memory text repeats constantly under auto-capture, so a hit skips a
// provider round trip at the cost of a few KB per entry.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCachedEmbedder caches up to maxEntries vectors for ttl. ttl <= 0 keeps
// entries until evicted.
func NewCachedEmbedder(inner Embedder, maxEntries int64, ttl time.Duration) (*CachedEmbedder, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache, ttl: ttl}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := hashKey(text)
	if val, ok := c.cache.Get(key); ok {
		if vec, ok := val.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if c.ttl > 0 {
		c.cache.SetWithTTL(key, vec, 1, c.ttl)
	} else {
		c.cache.Set(key, vec, 1)
	}
	// Set is buffered; Wait makes the entry visible to the next Get.
	c.cache.Wait()
	return vec, nil
}

func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

// Close releases the cache's internal goroutines.
func (c *CachedEmbedder) Close() { c.cache.Close() }

func hashKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// TryCacheEmbedder wraps e when caching is enabled via env:
// HYPNOS_EMBED_CACHE_SIZE=<entries> and optional HYPNOS_EMBED_CACHE_TTL=<seconds>.
func TryCacheEmbedder(e Embedder) Embedder {
	sizeStr := os.Getenv("HYPNOS_EMBED_CACHE_SIZE")
	if sizeStr == "" {
		return e
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil || size <= 0 {
		return e
	}

	ttl := time.Duration(0)
	if ttlStr := os.Getenv("HYPNOS_EMBED_CACHE_TTL"); ttlStr != "" {
		if sec, err := strconv.Atoi(ttlStr); err == nil && sec > 0 {
			ttl = time.Duration(sec) * time.Second
		}
	}

	cached, err := NewCachedEmbedder(e, size, ttl)
	if err != nil {
		return e
	}
	return cached
}
