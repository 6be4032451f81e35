package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/wabaledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyChargeAccount = "ratelimit:charge:account:%s"

// ChargeLimiter throttles charge requests per account. A nil or disabled
// limiter allows everything.
type ChargeLimiter struct {
	bucket *TokenBucket
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

func NewChargeLimiter(p Params) (*ChargeLimiter, error) {
	limitCfg := p.Config.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	policy := Policy{Rate: limitCfg.ChargeRate, Burst: limitCfg.ChargeBurst}
	if err := policy.validate(); err != nil {
		return nil, fmt.Errorf("charge rate limit: %w", err)
	}
	if p.Redis == nil {
		p.Log.Named("ratelimit").Warn("charge rate limit enabled without redis, limiter disabled")
		return nil, nil
	}
	bucket, err := NewTokenBucket(p.Redis, policy)
	if err != nil {
		return nil, err
	}
	return &ChargeLimiter{bucket: bucket}, nil
}

func (l *ChargeLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *ChargeLimiter) AllowAccount(ctx context.Context, accountID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Take(ctx, fmt.Sprintf(keyChargeAccount, strings.TrimSpace(accountID)))
}
