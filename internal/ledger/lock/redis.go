package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/wabaledger/internal/observability/metrics"
	"go.uber.org/zap"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const retryInterval = 10 * time.Millisecond

// RedisLocker serializes writers across replicas with a SETNX lease.
// The TTL must exceed the longest expected transaction.
type RedisLocker struct {
	client  *redis.Client
	script  *redis.Script
	ttl     time.Duration
	wait    time.Duration
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, log *zap.Logger, metrics *obsmetrics.Metrics) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client not configured")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	return &RedisLocker{
		client:  client,
		script:  redis.NewScript(releaseScript),
		ttl:     ttl,
		wait:    wait,
		log:     log,
		metrics: metrics,
	}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	if key == "" {
		return nil, errors.New("lock key is empty")
	}

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	token := uuid.NewString()
	start := time.Now()
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			l.metrics.ObserveLockWait(ctx, backendRedis, obsmetrics.LockTimeout, time.Since(start))
			return nil, fmt.Errorf("%w: %s", ledgerdomain.ErrLockTimeout, key)
		case <-ticker.C:
		}
	}
	l.metrics.ObserveLockWait(ctx, backendRedis, obsmetrics.LockAcquired, time.Since(start))

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release on a fresh context so a cancelled caller still frees the lease.
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := l.script.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil && l.log != nil {
				l.log.Warn("failed to release account lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}
