package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/wabaledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestChargeLimiterDisabledAllows(t *testing.T) {
	limiter, err := NewChargeLimiter(Params{Config: config.Config{}, Log: zap.NewNop()})
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())

	res, err := limiter.AllowAccount(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestChargeLimiterWithoutRedisIsDisabled(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, ChargeRate: 1, ChargeBurst: 1}}
	limiter, err := NewChargeLimiter(Params{Config: cfg, Log: zap.NewNop()})
	require.NoError(t, err)
	assert.Nil(t, limiter)
}

func TestChargeLimiterRejectsInvalidConfig(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, ChargeRate: 0, ChargeBurst: 1}}
	_, err := NewChargeLimiter(Params{Config: cfg, Log: zap.NewNop(), Redis: newRedis(t)})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestChargeLimiterBurstPerAccount(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, ChargeRate: 0.001, ChargeBurst: 2}}
	limiter, err := NewChargeLimiter(Params{Config: cfg, Log: zap.NewNop(), Redis: newRedis(t)})
	require.NoError(t, err)
	require.True(t, limiter.Enabled())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.AllowAccount(ctx, "100")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := limiter.AllowAccount(ctx, "100")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)

	res, err = limiter.AllowAccount(ctx, "200")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
