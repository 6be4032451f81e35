package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/wabaledger/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestLocalLockerSerializesSameKey(t *testing.T) {
	locker := NewLocalLocker(0, nil)

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "account:1")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				cur := maxInside.Load()
				if n <= cur || maxInside.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Empty(t, locker.slots)
}

func TestLocalLockerTimesOut(t *testing.T) {
	locker := NewLocalLocker(20*time.Millisecond, nil)

	unlock, err := locker.Lock(context.Background(), "account:1")
	require.NoError(t, err)
	defer unlock()

	_, err = locker.Lock(context.Background(), "account:1")
	assert.ErrorIs(t, err, ledgerdomain.ErrLockTimeout)

	other, err := locker.Lock(context.Background(), "account:2")
	require.NoError(t, err)
	other()
}

func TestLocalLockerUnlockIsIdempotent(t *testing.T) {
	locker := NewLocalLocker(0, nil)

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
	unlock()

	again, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	again()
}

func TestLocalLockerRecordsWaitOutcomes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := obsmetrics.New(obsmetrics.Config{}, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)
	locker := NewLocalLocker(20*time.Millisecond, m)

	unlock, err := locker.Lock(context.Background(), "account:1")
	require.NoError(t, err)
	_, err = locker.Lock(context.Background(), "account:1")
	require.ErrorIs(t, err, ledgerdomain.ErrLockTimeout)
	unlock()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]uint64{}
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if metric.Name != "wabaledger_account_lock_wait_seconds" {
				continue
			}
			hist, ok := metric.Data.(metricdata.Histogram[float64])
			require.True(t, ok)
			for _, dp := range hist.DataPoints {
				backend, _ := dp.Attributes.Value("backend")
				assert.Equal(t, backendLocal, backend.AsString())
				outcome, _ := dp.Attributes.Value("outcome")
				counts[outcome.AsString()] += dp.Count
			}
		}
	}
	assert.Equal(t, map[string]uint64{obsmetrics.LockAcquired: 1, obsmetrics.LockTimeout: 1}, counts)
}
