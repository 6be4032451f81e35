package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
	"go.uber.org/zap"
)

const (
	replayBatchSize              = 500
	auditActionIntegrityViolated = "ledger.integrity_violation"
)

// ValidateIntegrity replays every entry in processing order and reports
// deviations. Recorded entries are never modified.
func (s *Service) ValidateIntegrity(ctx context.Context, accountID snowflake.ID) (*ledgerdomain.IntegrityReport, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	tolerance := s.cfg.Get().IntegrityTolerance

	report := &ledgerdomain.IntegrityReport{AccountID: accountID}

	var (
		running      int64
		afterSeq     int64
		expectedSeq  int64 = 1
		lastRecorded int64
	)
	for {
		entries, err := s.repo.ScanEntries(ctx, s.db, accountID, afterSeq, replayBatchSize)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.Sequence != expectedSeq {
				report.Issues = append(report.Issues, ledgerdomain.IntegrityIssue{
					Kind:     ledgerdomain.IssueSequenceGap,
					EntryID:  entry.ID,
					Sequence: entry.Sequence,
					Expected: expectedSeq,
					Recorded: entry.Sequence,
				})
			}
			expectedSeq = entry.Sequence + 1

			running += entry.SignedAmount()
			if exceeds(entry.BalanceAfter-running, tolerance) {
				report.Issues = append(report.Issues, ledgerdomain.IntegrityIssue{
					Kind:     ledgerdomain.IssueBalanceMismatch,
					EntryID:  entry.ID,
					Sequence: entry.Sequence,
					Expected: running,
					Recorded: entry.BalanceAfter,
				})
			}

			lastRecorded = entry.BalanceAfter
			afterSeq = entry.Sequence
			report.EntriesChecked++
		}
		if len(entries) < replayBatchSize {
			break
		}
	}

	if exceeds(account.AvailableBalance-lastRecorded, tolerance) {
		report.Issues = append(report.Issues, ledgerdomain.IntegrityIssue{
			Kind:     ledgerdomain.IssueProjectionMismatch,
			Expected: lastRecorded,
			Recorded: account.AvailableBalance,
		})
	}

	report.ComputedBalance = running
	report.RecordedBalance = lastRecorded
	report.Valid = len(report.Issues) == 0
	report.CheckedAt = s.clock.Now().UTC()

	if !report.Valid {
		s.flagViolation(ctx, report)
	}
	return report, nil
}

func (s *Service) flagViolation(ctx context.Context, report *ledgerdomain.IntegrityReport) {
	s.logger(ctx, report.AccountID).Error("ledger integrity violation",
		zap.Int("issues", len(report.Issues)),
		zap.Int64("computed_balance", report.ComputedBalance),
		zap.Int64("recorded_balance", report.RecordedBalance),
	)
	for _, issue := range report.Issues {
		s.obsMetrics.RecordIntegrityViolation(ctx, string(issue.Kind))
	}

	issues := make([]any, 0, len(report.Issues))
	for _, issue := range report.Issues {
		issues = append(issues, map[string]any{
			"kind":     string(issue.Kind),
			"entry_id": issue.EntryID.String(),
			"sequence": issue.Sequence,
			"expected": issue.Expected,
			"recorded": issue.Recorded,
		})
	}
	s.audit(ctx, report.AccountID, "", auditActionIntegrityViolated, auditTargetAccount, report.AccountID.String(), map[string]any{
		"computed_balance": report.ComputedBalance,
		"recorded_balance": report.RecordedBalance,
		"entries_checked":  report.EntriesChecked,
		"issues":           issues,
	})
}

func exceeds(diff, tolerance int64) bool {
	if diff < 0 {
		diff = -diff
	}
	return diff > tolerance
}
