package scheduler

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	obslogger "github.com/smallbiznis/wabaledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/wabaledger/internal/observability/metrics"
	"go.uber.org/zap"
)

// IntegrityAuditJob replays every account in id order. Failures on one
// account do not stop the pass; flagged accounts are reported, never fixed.
func (s *Scheduler) IntegrityAuditJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)

	var (
		afterID snowflake.ID
		flagged int
		jobErr  error
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := s.ledgerSvc.ListAccountIDs(ctx, afterID, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			report, err := s.ledgerSvc.ValidateIntegrity(ctx, id)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					return err
				}
				jobErr = errors.Join(jobErr, err)
				s.logJobError(ctx, run, "scheduler.integrity.failed", id, err)
				continue
			}
			if !report.Valid {
				flagged++
				run.Flag()
				s.logger(obslogger.WithAccount(ctx, id.String())).Warn("scheduler.integrity.flagged",
					zap.Int("issues", len(report.Issues)),
				)
			}
		}
		run.AddProcessed(len(ids))
		s.metrics.AddBatchProcessed(jobIntegrityAudit, obsmetrics.ResourceAccounts, len(ids))
		afterID = ids[len(ids)-1]

		if len(ids) < s.cfg.BatchSize {
			break
		}
	}

	s.metrics.SetAccountsFlagged(flagged)
	return jobErr
}
