package lock

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/wabaledger/internal/config"
	obsmetrics "github.com/smallbiznis/wabaledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Redis   *redis.Client       `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// New selects the lock backend from configuration, falling back to the
// in-process locker when redis is requested but unavailable.
func New(p Params) Locker {
	log := p.Log.Named("ledger.lock")
	if p.Config.Lock.Backend == config.LockBackendRedis {
		locker, err := NewRedisLocker(p.Redis, p.Config.Lock.TTL, p.Config.Lock.Wait, log, p.Metrics)
		if err == nil {
			log.Info("using redis account lock")
			return locker
		}
		log.Warn("redis account lock unavailable, falling back to local lock", zap.Error(err))
	}
	return NewLocalLocker(p.Config.Lock.Wait, p.Metrics)
}
