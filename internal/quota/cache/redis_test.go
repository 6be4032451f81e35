package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	quotadomain "github.com/smallbiznis/wabaledger/internal/quota/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCacheRoundTripAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c, err := NewRedisCache(client)
	require.NoError(t, err)
	ctx := context.Background()
	day := quotadomain.CacheKey{AccountID: snowflake.ID(5), Period: quotadomain.PeriodDay, Stamp: "2026-03-10"}
	month := quotadomain.CacheKey{AccountID: snowflake.ID(5), Period: quotadomain.PeriodMonth, Stamp: "2026-03"}

	_, ok, err := c.Get(ctx, day)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, day, 12, time.Minute))
	require.NoError(t, c.Set(ctx, month, 40, time.Minute))
	count, ok, err := c.Get(ctx, day)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(12), count)

	require.NoError(t, c.Delete(ctx, day))
	_, ok, _ = c.Get(ctx, day)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	_, ok, _ = c.Get(ctx, month)
	assert.False(t, ok)
}

func TestRedisCacheRequiresClient(t *testing.T) {
	_, err := NewRedisCache(nil)
	assert.Error(t, err)
}
