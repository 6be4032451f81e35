package quota

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/wabaledger/internal/clock"
	quotacache "github.com/smallbiznis/wabaledger/internal/quota/cache"
	quotadomain "github.com/smallbiznis/wabaledger/internal/quota/domain"
	"github.com/smallbiznis/wabaledger/internal/quota/repository"
	"github.com/smallbiznis/wabaledger/internal/quota/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("quota.service",
	fx.Provide(repository.Provide),
	fx.Provide(provideCache),
	fx.Provide(service.NewService),
)

type cacheParams struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock   `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

// provideCache shares counters through redis when available.
func provideCache(p cacheParams) quotadomain.Cache {
	if p.Redis != nil {
		if c, err := quotacache.NewRedisCache(p.Redis); err == nil {
			p.Log.Named("quota.cache").Info("using redis quota cache")
			return c
		}
	}
	return quotacache.NewMemoryCache(p.Clock)
}
