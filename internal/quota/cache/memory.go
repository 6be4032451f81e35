package cache

import (
	"context"
	"time"

	"github.com/smallbiznis/wabaledger/internal/cache"
	"github.com/smallbiznis/wabaledger/internal/clock"
	quotadomain "github.com/smallbiznis/wabaledger/internal/quota/domain"
)

// MemoryCache keeps counters in process. Suitable for a single replica.
type MemoryCache struct {
	entries cache.Cache[string, int64]
}

func NewMemoryCache(clk clock.Clock) *MemoryCache {
	if clk == nil {
		clk = clock.System()
	}
	return &MemoryCache{entries: cache.NewTTLCacheWithClock[string, int64](clk.Now)}
}

func (c *MemoryCache) Get(_ context.Context, key quotadomain.CacheKey) (int64, bool, error) {
	count, ok := c.entries.Get(key.String())
	return count, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key quotadomain.CacheKey, count int64, ttl time.Duration) error {
	c.entries.Set(key.String(), count, ttl)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...quotadomain.CacheKey) error {
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, key.String())
	}
	c.entries.Delete(names...)
	return nil
}
