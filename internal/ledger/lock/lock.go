// Package lock provides the per-account critical section used by balance mutations.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/wabaledger/internal/observability/metrics"
)

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func()

// Locker grants exclusive access to one key at a time.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// AccountKey is the lock key guarding an account's balance.
func AccountKey(accountID snowflake.ID) string {
	return "wabaledger:lock:account:" + accountID.String()
}

const (
	backendLocal = "local"
	backendRedis = "redis"
)

type slot struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is an in-process keyed mutex. It serializes writers only within one replica.
type LocalLocker struct {
	mu      sync.Mutex
	slots   map[string]*slot
	wait    time.Duration
	metrics *obsmetrics.Metrics
}

func NewLocalLocker(wait time.Duration, metrics *obsmetrics.Metrics) *LocalLocker {
	return &LocalLocker{
		slots:   make(map[string]*slot),
		wait:    wait,
		metrics: metrics,
	}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	start := time.Now()
	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		l.metrics.ObserveLockWait(ctx, backendLocal, obsmetrics.LockTimeout, time.Since(start))
		return nil, fmt.Errorf("%w: %s", ledgerdomain.ErrLockTimeout, key)
	}
	l.metrics.ObserveLockWait(ctx, backendLocal, obsmetrics.LockAcquired, time.Since(start))

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
	}, nil
}

func (l *LocalLocker) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
