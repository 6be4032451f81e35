package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wabaledger/internal/spendguard/domain"
	"gorm.io/gorm"
)

const insertBatchSize = 200

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, logs []*domain.MessageLog) error {
	if len(logs) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(logs, insertBatchSize).Error
}

// ChargedMessageIDs returns the subset of messageIDs already charged for the account.
func (r *repo) ChargedMessageIDs(ctx context.Context, db *gorm.DB, accountID snowflake.ID, messageIDs []string) ([]string, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.MessageLog{}).
		Where("account_id = ? AND status = ? AND message_id IN ?", accountID, domain.MessageStatusCharged, messageIDs).
		Distinct().
		Pluck("message_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ListByMessageID(ctx context.Context, db *gorm.DB, accountID snowflake.ID, messageID string) ([]domain.MessageLog, error) {
	var logs []domain.MessageLog
	err := db.WithContext(ctx).
		Where("account_id = ? AND message_id = ?", accountID, messageID).
		Order("created_at ASC, id ASC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// MarkRefunded flips the charged rows of one debit entry to refunded.
func (r *repo) MarkRefunded(ctx context.Context, db *gorm.DB, accountID, ledgerEntryID snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.MessageLog{}).
		Where("account_id = ? AND ledger_entry_id = ? AND status = ?", accountID, ledgerEntryID, domain.MessageStatusCharged).
		Updates(map[string]any{"status": domain.MessageStatusRefunded, "refunded_at": at})
	return res.RowsAffected, res.Error
}
