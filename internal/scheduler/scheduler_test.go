package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/wabaledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/wabaledger/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockLedger struct {
	ledgerdomain.Service
	mock.Mock
}

func (m *mockLedger) ListAccountIDs(ctx context.Context, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	args := m.Called(afterID, limit)
	ids, _ := args.Get(0).([]snowflake.ID)
	return ids, args.Error(1)
}

func (m *mockLedger) ValidateIntegrity(ctx context.Context, accountID snowflake.ID) (*ledgerdomain.IntegrityReport, error) {
	args := m.Called(accountID)
	report, _ := args.Get(0).(*ledgerdomain.IntegrityReport)
	return report, args.Error(1)
}

func newTestScheduler(t *testing.T, svc ledgerdomain.Service, cfg Config) (*Scheduler, *prometheus.Registry) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	sched, err := New(Params{
		Log:       zap.NewNop(),
		LedgerSvc: svc,
		GenID:     node,
		Clock:     clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		Metrics:   obsmetrics.NewJobMetrics(registry, obsmetrics.Config{ServiceName: "wabaledger", Environment: "test"}),
		Config:    cfg,
	})
	require.NoError(t, err)
	return sched, registry
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				if metric.GetCounter() != nil {
					return metric.GetCounter().GetValue()
				}
				if metric.GetGauge() != nil {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	for key, value := range want {
		found := false
		for _, pair := range pairs {
			if pair.GetName() == key && pair.GetValue() == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func validReport(id snowflake.ID) *ledgerdomain.IntegrityReport {
	return &ledgerdomain.IntegrityReport{AccountID: id, Valid: true}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestIntegrityAuditPagesThroughAccounts(t *testing.T) {
	svc := &mockLedger{}
	svc.On("ListAccountIDs", snowflake.ID(0), 2).Return([]snowflake.ID{1, 2}, nil).Once()
	svc.On("ListAccountIDs", snowflake.ID(2), 2).Return([]snowflake.ID{3}, nil).Once()
	for _, id := range []snowflake.ID{1, 2, 3} {
		svc.On("ValidateIntegrity", id).Return(validReport(id), nil).Once()
	}

	sched, registry := newTestScheduler(t, svc, Config{BatchSize: 2})
	require.NoError(t, sched.RunOnce(context.Background()))

	svc.AssertExpectations(t)
	assert.Equal(t, float64(1), getCounterValue(t, registry, "wabaledger_job_runs_total", map[string]string{"job": jobIntegrityAudit}))
	assert.Equal(t, float64(3), getCounterValue(t, registry, "wabaledger_job_batch_processed_total", map[string]string{
		"job":      jobIntegrityAudit,
		"resource": obsmetrics.ResourceAccounts,
	}))
	assert.Equal(t, float64(0), getCounterValue(t, registry, "wabaledger_integrity_accounts_flagged", nil))
}

func TestIntegrityAuditReportsFlaggedAccounts(t *testing.T) {
	svc := &mockLedger{}
	svc.On("ListAccountIDs", snowflake.ID(0), 10).Return([]snowflake.ID{1, 2}, nil).Once()
	svc.On("ValidateIntegrity", snowflake.ID(1)).Return(validReport(1), nil).Once()
	svc.On("ValidateIntegrity", snowflake.ID(2)).Return(&ledgerdomain.IntegrityReport{
		AccountID: 2,
		Valid:     false,
		Issues: []ledgerdomain.IntegrityIssue{{
			Kind:     ledgerdomain.IssueBalanceMismatch,
			Expected: 100,
			Recorded: 90,
		}},
	}, nil).Once()

	sched, registry := newTestScheduler(t, svc, Config{BatchSize: 10})
	require.NoError(t, sched.RunOnce(context.Background()))

	assert.Equal(t, float64(1), getCounterValue(t, registry, "wabaledger_integrity_accounts_flagged", nil))
	assert.Equal(t, float64(0), getCounterValue(t, registry, "wabaledger_job_errors_total", map[string]string{"job": jobIntegrityAudit}))
}

func TestIntegrityAuditContinuesPastAccountErrors(t *testing.T) {
	boom := errors.New("boom")
	svc := &mockLedger{}
	svc.On("ListAccountIDs", snowflake.ID(0), 10).Return([]snowflake.ID{1, 2}, nil).Once()
	svc.On("ValidateIntegrity", snowflake.ID(1)).Return(nil, boom).Once()
	svc.On("ValidateIntegrity", snowflake.ID(2)).Return(validReport(2), nil).Once()

	sched, registry := newTestScheduler(t, svc, Config{BatchSize: 10})
	err := sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	svc.AssertExpectations(t)
	assert.Equal(t, float64(1), getCounterValue(t, registry, "wabaledger_job_errors_total", map[string]string{
		"job":    jobIntegrityAudit,
		"reason": obsmetrics.JobReasonUnknown,
	}))
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	svc := &mockLedger{}
	sched, registry := newTestScheduler(t, svc, Config{})

	err := sched.runJob(context.Background(), "slow_job", 1, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	assert.Equal(t, float64(1), getCounterValue(t, registry, "wabaledger_job_timeouts_total", map[string]string{"job": "slow_job"}))
	assert.Equal(t, float64(1), getCounterValue(t, registry, "wabaledger_job_errors_total", map[string]string{
		"job":    "slow_job",
		"reason": obsmetrics.JobReasonDeadlineExceeded,
	}))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Hour, cfg.RunInterval)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 10*time.Minute, cfg.JobTimeout)
}
