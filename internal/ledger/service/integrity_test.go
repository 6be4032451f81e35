package service

import (
	"context"
	"testing"

	auditdomain "github.com/smallbiznis/wabaledger/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIntegrityCleanAccount(t *testing.T) {
	f := newFixture(t)
	account := seedHistory(t, f, 3)

	report, err := f.svc.ValidateIntegrity(context.Background(), account.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Issues)
	assert.Equal(t, 4, report.EntriesChecked)
	assert.Equal(t, int64(999_700), report.ComputedBalance)
	assert.Equal(t, report.ComputedBalance, report.RecordedBalance)
}

func TestValidateIntegrityReportsWithoutCorrecting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := seedHistory(t, f, 3)

	// Simulate out-of-band tampering of a stored snapshot and the projection.
	require.NoError(t, f.db.Model(&ledgerdomain.LedgerEntry{}).
		Where("account_id = ? AND sequence = ?", account.ID, 2).
		Update("balance_after", 123).Error)
	require.NoError(t, f.db.Model(&ledgerdomain.Account{}).
		Where("id = ?", account.ID).
		Update("available_balance", 5).Error)

	report, err := f.svc.ValidateIntegrity(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, report.Valid)

	kinds := map[ledgerdomain.IntegrityIssueKind]int{}
	for _, issue := range report.Issues {
		kinds[issue.Kind]++
	}
	assert.Equal(t, 1, kinds[ledgerdomain.IssueBalanceMismatch])
	assert.Equal(t, 1, kinds[ledgerdomain.IssueProjectionMismatch])

	var tampered ledgerdomain.LedgerEntry
	require.NoError(t, f.db.Where("account_id = ? AND sequence = ?", account.ID, 2).Take(&tampered).Error)
	assert.Equal(t, int64(123), tampered.BalanceAfter)

	var flagged int64
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).Where("action = ?", auditActionIntegrityViolated).Count(&flagged).Error)
	assert.Equal(t, int64(1), flagged)
}

func TestValidateIntegrityDetectsSequenceGap(t *testing.T) {
	f := newFixture(t)
	account := seedHistory(t, f, 3)

	require.NoError(t, f.db.Where("account_id = ? AND sequence = ?", account.ID, 3).Delete(&ledgerdomain.LedgerEntry{}).Error)

	report, err := f.svc.ValidateIntegrity(context.Background(), account.ID)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, 3, report.EntriesChecked)

	var gap *ledgerdomain.IntegrityIssue
	for i := range report.Issues {
		if report.Issues[i].Kind == ledgerdomain.IssueSequenceGap {
			gap = &report.Issues[i]
		}
	}
	require.NotNil(t, gap)
	assert.Equal(t, int64(3), gap.Expected)
	assert.Equal(t, int64(4), gap.Recorded)
}

func TestValidateIntegrityTolerance(t *testing.T) {
	f := newFixture(t)
	account := seedHistory(t, f, 1)

	cfg := f.svc.cfg.Get()
	cfg.IntegrityTolerance = 10
	f.svc.cfg.Store(cfg)

	require.NoError(t, f.db.Model(&ledgerdomain.Account{}).Where("id = ?", account.ID).Update("available_balance", 999_905).Error)

	report, err := f.svc.ValidateIntegrity(context.Background(), account.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid)
}
