package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rms-knowledge-service/services"
)

const (
	embeddingCachePrefix = "embedding:query"
	embeddingCacheTTL    = 30 * time.Minute
	// embeddingCacheMaxLocal bounds the in-memory fallback map.
	embeddingCacheMaxLocal = 1000
)

// embeddingCache keeps query embeddings so follow-up turns and the memory
// policy's similarity check skip the provider round trip. Redis when
// available, an in-memory map otherwise; a cache miss is never an error.
type embeddingCache struct {
	redis *redis.Client

	mu    sync.RWMutex
	local map[string]localEmbedding
}

type localEmbedding struct {
	vector    []float32
	expiresAt time.Time
}

// NewEmbeddingCache builds the query-embedding cache. redisClient may be nil;
// the cache then runs purely in memory.
func NewEmbeddingCache(redisClient *redis.Client) services.EmbeddingCache {
	return &embeddingCache{
		redis: redisClient,
		local: make(map[string]localEmbedding),
	}
}

func (c *embeddingCache) Get(ctx context.Context, text string) ([]float32, bool) {
	key := c.key(text)

	if c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var vector []float32
			if json.Unmarshal(data, &vector) == nil && len(vector) > 0 {
				return vector, true
			}
			c.redis.Del(ctx, key)
			return nil, false
		}
		if err != redis.Nil {
			return c.getLocal(key)
		}
		return nil, false
	}

	return c.getLocal(key)
}

func (c *embeddingCache) Set(ctx context.Context, text string, vector []float32) {
	if len(vector) == 0 {
		return
	}
	key := c.key(text)

	if c.redis != nil {
		if data, err := json.Marshal(vector); err == nil {
			if err := c.redis.Set(ctx, key, data, embeddingCacheTTL).Err(); err == nil {
				return
			}
		}
	}

	c.setLocal(key, vector)
}

func (c *embeddingCache) getLocal(key string) ([]float32, bool) {
	c.mu.RLock()
	entry, ok := c.local[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.local, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.vector, true
}

func (c *embeddingCache) setLocal(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.local) >= embeddingCacheMaxLocal {
		// Drop expired entries first; if the map is still full the new entry
		// simply is not cached.
		now := time.Now()
		for k, v := range c.local {
			if now.After(v.expiresAt) {
				delete(c.local, k)
			}
		}
		if len(c.local) >= embeddingCacheMaxLocal {
			return
		}
	}
	c.local[key] = localEmbedding{vector: vector, expiresAt: time.Now().Add(embeddingCacheTTL)}
}

func (c *embeddingCache) key(text string) string {
	hash := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:%s", embeddingCachePrefix, hex.EncodeToString(hash[:16]))
}
