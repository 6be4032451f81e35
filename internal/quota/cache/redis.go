package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	quotadomain "github.com/smallbiznis/wabaledger/internal/quota/domain"
)

// RedisCache shares counters across replicas so an invalidation on one
// instance is visible to all of them.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("redis client not configured")
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key quotadomain.CacheKey) (int64, bool, error) {
	raw, err := c.client.Get(ctx, key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Corrupt value: treat as a miss so the count is recomputed.
		return 0, false, nil
	}
	return count, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key quotadomain.CacheKey, count int64, ttl time.Duration) error {
	return c.client.Set(ctx, key.String(), count, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...quotadomain.CacheKey) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, key.String())
	}
	return c.client.Del(ctx, names...).Err()
}
