package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wabaledger/internal/audit/masking"
	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
	plandomain "github.com/smallbiznis/wabaledger/internal/plan/domain"
	quotadomain "github.com/smallbiznis/wabaledger/internal/quota/domain"
	"github.com/smallbiznis/wabaledger/internal/spendguard/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ChargeOne debits one message after the provider confirmed the send.
// Sufficiency is re-checked inside the ledger critical section; a shortfall
// there is logged as a rejection and returned as a denial.
func (s *Service) ChargeOne(ctx context.Context, req domain.ChargeOneRequest) (domain.ChargeResult, error) {
	if req.AccountID == 0 {
		return domain.ChargeResult{}, domain.ErrInvalidAccount
	}
	msg := req.Message
	msg.MessageID = strings.TrimSpace(msg.MessageID)
	if msg.MessageID == "" {
		return domain.ChargeResult{}, domain.ErrMessageIDRequired
	}

	category := plandomain.NormalizeCategory(req.Category)
	details := domain.Details{Category: category, MessageCount: 1}

	_, plan, err := s.resolve(ctx, req.AccountID)
	if errors.Is(err, ledgerdomain.ErrAccountNotFound) {
		return s.chargeDenied(ctx, req.AccountID, domain.ReasonWalletNotFound, details), nil
	}
	if err != nil {
		return domain.ChargeResult{}, err
	}
	price, err := plan.UnitPrice(category)
	if err != nil {
		return domain.ChargeResult{}, err
	}
	details.UnitPrice, details.Cost = price, price

	var messageLog *domain.MessageLog
	entry, err := s.ledger.RecordDebit(ctx, ledgerdomain.DebitRequest{
		AccountID:      req.AccountID,
		Amount:         price,
		IdempotencyKey: messageKeyPrefix + msg.MessageID,
		Reference:      &ledgerdomain.Reference{Type: referenceMessage, ID: msg.MessageID},
		Metadata: map[string]any{
			"category":      string(category),
			"message_type":  msg.MessageType,
			"message_count": 1,
		},
		WithinTx: func(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.LedgerEntry, balanceBefore int64) error {
			if err := s.ensureNotCharged(ctx, tx, req.AccountID, []string{msg.MessageID}); err != nil {
				return err
			}
			messageLog = s.newLog(req.AccountID, msg, category, domain.MessageStatusCharged, entry)
			messageLog.UnitPrice = price
			messageLog.BalanceBefore = balanceBefore
			messageLog.BalanceAfter = entry.BalanceAfter
			return s.repo.Insert(ctx, tx, []*domain.MessageLog{messageLog})
		},
	})
	if err != nil {
		reason, ok := s.translate(err, &details)
		if !ok {
			return domain.ChargeResult{}, err
		}
		if reason == domain.ReasonInsufficientBalance {
			s.recordRejection(ctx, req.AccountID, category, []domain.MessageRecord{msg}, "", reason, price, details.BalanceBefore)
		}
		return s.chargeDenied(ctx, req.AccountID, reason, details), nil
	}

	details.BalanceBefore = messageLog.BalanceBefore
	details.BalanceAfter = entry.BalanceAfter
	s.afterCharge(ctx, req.AccountID, category, 1, entry)

	entryID, logID := entry.ID, messageLog.ID
	return domain.ChargeResult{
		Charged:      true,
		Details:      details,
		EntryID:      &entryID,
		MessageLogID: &logID,
	}, nil
}

// ChargeBatch debits N messages as one ledger entry. Each message gets its
// own log row carrying the running balance after that message.
func (s *Service) ChargeBatch(ctx context.Context, req domain.ChargeBatchRequest) (domain.BatchChargeResult, error) {
	if req.AccountID == 0 {
		return domain.BatchChargeResult{}, domain.ErrInvalidAccount
	}
	batchID := strings.TrimSpace(req.BatchID)
	if batchID == "" {
		return domain.BatchChargeResult{}, domain.ErrBatchIDRequired
	}
	messages, err := normalizeMessages(req.Messages)
	if err != nil {
		return domain.BatchChargeResult{}, err
	}

	count := int64(len(messages))
	category := plandomain.NormalizeCategory(req.Category)
	details := domain.Details{Category: category, MessageCount: count}

	_, plan, err := s.resolve(ctx, req.AccountID)
	if errors.Is(err, ledgerdomain.ErrAccountNotFound) {
		return s.batchDenied(ctx, req.AccountID, domain.ReasonWalletNotFound, details), nil
	}
	if err != nil {
		return domain.BatchChargeResult{}, err
	}
	price, err := plan.UnitPrice(category)
	if err != nil {
		return domain.BatchChargeResult{}, err
	}
	cost, err := totalCost(price, count)
	if err != nil {
		return domain.BatchChargeResult{}, err
	}
	details.UnitPrice, details.Cost = price, cost

	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.MessageID)
	}

	var (
		items         []domain.BatchItem
		balanceBefore int64
	)
	entry, err := s.ledger.RecordDebit(ctx, ledgerdomain.DebitRequest{
		AccountID:      req.AccountID,
		Amount:         cost,
		IdempotencyKey: batchKeyPrefix + batchID,
		Reference:      &ledgerdomain.Reference{Type: referenceBatch, ID: batchID},
		Metadata: map[string]any{
			"category":      string(category),
			"message_count": count,
			"unit_price":    price,
		},
		WithinTx: func(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.LedgerEntry, before int64) error {
			if err := s.ensureNotCharged(ctx, tx, req.AccountID, ids); err != nil {
				return err
			}
			balanceBefore = before
			running := before
			logs := make([]*domain.MessageLog, 0, len(messages))
			items = make([]domain.BatchItem, 0, len(messages))
			for _, msg := range messages {
				row := s.newLog(req.AccountID, msg, category, domain.MessageStatusCharged, entry)
				row.BatchID = &batchID
				row.UnitPrice = price
				row.BalanceBefore = running
				running -= price
				row.BalanceAfter = running
				logs = append(logs, row)
				items = append(items, domain.BatchItem{MessageID: msg.MessageID, MessageLogID: row.ID, BalanceAfter: running})
			}
			return s.repo.Insert(ctx, tx, logs)
		},
	})
	if err != nil {
		reason, ok := s.translate(err, &details)
		if !ok {
			return domain.BatchChargeResult{}, err
		}
		if reason == domain.ReasonInsufficientBalance {
			s.recordRejection(ctx, req.AccountID, category, messages, batchID, reason, price, details.BalanceBefore)
		}
		return s.batchDenied(ctx, req.AccountID, reason, details), nil
	}

	details.BalanceBefore = balanceBefore
	details.BalanceAfter = entry.BalanceAfter
	s.afterCharge(ctx, req.AccountID, category, len(messages), entry)

	entryID := entry.ID
	return domain.BatchChargeResult{
		Charged: true,
		Details: details,
		EntryID: &entryID,
		Items:   items,
	}, nil
}

// RefundCharge refunds a message or batch debit. The charged log rows of the
// original entry turn refunded in the same transaction, so the quota windows
// stop counting them once the cache is invalidated.
func (s *Service) RefundCharge(ctx context.Context, req domain.RefundChargeRequest) (*ledgerdomain.LedgerEntry, error) {
	var released int64
	entry, err := s.ledger.RecordRefund(ctx, ledgerdomain.RefundRequest{
		AccountID:              req.AccountID,
		OriginalIdempotencyKey: req.OriginalIdempotencyKey,
		Reason:                 req.Reason,
		Actor:                  req.Actor,
		Metadata:               req.Metadata,
		WithinTx: func(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.LedgerEntry, _ int64) error {
			if entry.ReferenceID == nil {
				return nil
			}
			originalID, err := snowflake.ParseString(*entry.ReferenceID)
			if err != nil {
				return fmt.Errorf("refund reference %q: %w", *entry.ReferenceID, err)
			}
			released, err = s.repo.MarkRefunded(ctx, tx, req.AccountID, originalID, entry.CreatedAt)
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	if released > 0 {
		if err := s.quota.Invalidate(ctx, req.AccountID); err != nil {
			s.logger(ctx, req.AccountID).Warn("quota invalidate after refund failed", zap.Error(err))
		}
		s.logger(ctx, req.AccountID).Info("charged messages refunded",
			zap.String("entry_id", entry.ID.String()),
			zap.Int64("messages", released),
			zap.Int64("balance_after", entry.BalanceAfter),
		)
	}
	return entry, nil
}

// LogRejection records messages denied before or at charge time.
func (s *Service) LogRejection(ctx context.Context, req domain.LogRequest) error {
	return s.logUncharged(ctx, req, domain.MessageStatusRejected)
}

// LogFailure records messages the provider failed to deliver.
func (s *Service) LogFailure(ctx context.Context, req domain.LogRequest) error {
	return s.logUncharged(ctx, req, domain.MessageStatusFailed)
}

func (s *Service) logUncharged(ctx context.Context, req domain.LogRequest, status domain.MessageStatus) error {
	if req.AccountID == 0 {
		return domain.ErrInvalidAccount
	}
	messages, err := normalizeMessages(req.Messages)
	if err != nil {
		return err
	}
	balance, err := s.ledger.GetBalance(ctx, req.AccountID)
	if err != nil {
		return err
	}

	category := plandomain.NormalizeCategory(req.Category)
	var batchID *string
	if id := strings.TrimSpace(req.BatchID); id != "" {
		batchID = &id
	}
	logs := make([]*domain.MessageLog, 0, len(messages))
	for _, msg := range messages {
		row := s.newLog(req.AccountID, msg, category, status, nil)
		row.BatchID = batchID
		row.Reason = strings.TrimSpace(req.Reason)
		row.BalanceBefore = balance
		row.BalanceAfter = balance
		logs = append(logs, row)
	}
	if err := s.repo.Insert(ctx, s.db, logs); err != nil {
		return err
	}
	s.logger(ctx, req.AccountID).Info("uncharged send recorded",
		zap.String("status", string(status)),
		zap.String("reason", strings.TrimSpace(req.Reason)),
		zap.Int("messages", len(logs)),
	)
	return nil
}

// recordRejection logs a charge-time denial. Failing to write the log does
// not change the outcome returned to the caller.
func (s *Service) recordRejection(ctx context.Context, accountID snowflake.ID, category plandomain.Category, messages []domain.MessageRecord, batchID string, reason domain.ReasonCode, price, balance int64) {
	var batch *string
	if batchID != "" {
		batch = &batchID
	}
	logs := make([]*domain.MessageLog, 0, len(messages))
	for _, msg := range messages {
		row := s.newLog(accountID, msg, category, domain.MessageStatusRejected, nil)
		row.BatchID = batch
		row.Reason = string(reason)
		row.UnitPrice = price
		row.BalanceBefore = balance
		row.BalanceAfter = balance
		logs = append(logs, row)
	}
	if err := s.repo.Insert(ctx, s.db, logs); err != nil {
		s.logger(ctx, accountID).Warn("failed to record rejected charge",
			zap.Error(err),
		)
	}
}

// translate maps ledger failures to reason codes. ok is false for errors
// that are not business outcomes.
func (s *Service) translate(err error, details *domain.Details) (domain.ReasonCode, bool) {
	var insufficient *ledgerdomain.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		details.BalanceBefore = insufficient.Balance
		details.BalanceAfter = insufficient.Balance
		details.Shortfall = insufficient.Shortfall()
		return domain.ReasonInsufficientBalance, true
	case errors.Is(err, ledgerdomain.ErrDuplicateTransaction),
		errors.Is(err, ledgerdomain.ErrIdempotencyKeyConflict),
		errors.Is(err, domain.ErrAlreadyCharged):
		return domain.ReasonDuplicateTransaction, true
	case errors.Is(err, ledgerdomain.ErrAccountNotFound):
		return domain.ReasonWalletNotFound, true
	}
	return "", false
}

func (s *Service) ensureNotCharged(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, messageIDs []string) error {
	charged, err := s.repo.ChargedMessageIDs(ctx, tx, accountID, messageIDs)
	if err != nil {
		return err
	}
	if len(charged) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyCharged, strings.Join(charged, ","))
	}
	return nil
}

func (s *Service) newLog(accountID snowflake.ID, msg domain.MessageRecord, category plandomain.Category, status domain.MessageStatus, entry *ledgerdomain.LedgerEntry) *domain.MessageLog {
	at := s.clock.Now().UTC()
	var entryID *snowflake.ID
	if entry != nil {
		at = entry.CreatedAt
		id := entry.ID
		entryID = &id
	}
	loc := s.cfg.Get().Location()
	return &domain.MessageLog{
		ID:            s.genID.Generate(),
		AccountID:     accountID,
		MessageID:     msg.MessageID,
		LedgerEntryID: entryID,
		Status:        status,
		Category:      string(category),
		MessageType:   strings.TrimSpace(msg.MessageType),
		Destination:   masking.MaskDestination(msg.Destination),
		DayKey:        quotadomain.DayKey(at, loc),
		MonthKey:      quotadomain.MonthKey(at, loc),
		Metadata:      datatypes.JSONMap(masking.MaskJSON(msg.Metadata)),
		CreatedAt:     at,
	}
}

func (s *Service) afterCharge(ctx context.Context, accountID snowflake.ID, category plandomain.Category, count int, entry *ledgerdomain.LedgerEntry) {
	if err := s.quota.Invalidate(ctx, accountID); err != nil {
		s.logger(ctx, accountID).Warn("quota invalidate after charge failed", zap.Error(err))
	}
	s.obsMetrics.RecordCharge(ctx, string(category), count)
	s.logger(ctx, accountID).Info("messages charged",
		zap.String("entry_id", entry.ID.String()),
		zap.String("category", string(category)),
		zap.Int("messages", count),
		zap.Int64("balance_after", entry.BalanceAfter),
	)
}

func (s *Service) chargeDenied(ctx context.Context, accountID snowflake.ID, reason domain.ReasonCode, details domain.Details) domain.ChargeResult {
	decision := s.deny(ctx, accountID, reason, details)
	return domain.ChargeResult{Charged: false, Reason: decision.Reason, Details: decision.Details}
}

func (s *Service) batchDenied(ctx context.Context, accountID snowflake.ID, reason domain.ReasonCode, details domain.Details) domain.BatchChargeResult {
	decision := s.deny(ctx, accountID, reason, details)
	return domain.BatchChargeResult{Charged: false, Reason: decision.Reason, Details: decision.Details}
}

func normalizeMessages(in []domain.MessageRecord) ([]domain.MessageRecord, error) {
	if len(in) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	out := make([]domain.MessageRecord, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, msg := range in {
		msg.MessageID = strings.TrimSpace(msg.MessageID)
		if msg.MessageID == "" {
			return nil, domain.ErrMessageIDRequired
		}
		if _, dup := seen[msg.MessageID]; dup {
			return nil, domain.ErrDuplicateMessageID
		}
		seen[msg.MessageID] = struct{}{}
		out = append(out, msg)
	}
	return out, nil
}
