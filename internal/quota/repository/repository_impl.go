package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	quotadomain "github.com/smallbiznis/wabaledger/internal/quota/domain"
	"gorm.io/gorm"
)

// Send events are owned by the spend guard; the counter only reads them.
const (
	messageLogTable = "message_logs"
	statusCharged   = "charged"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) quotadomain.EventCounter {
	return &repo{db: db}
}

func (r *repo) CountCharged(ctx context.Context, accountID snowflake.ID, period quotadomain.Period, stamp string) (int64, error) {
	column := "day_key"
	switch period {
	case quotadomain.PeriodDay:
	case quotadomain.PeriodMonth:
		column = "month_key"
	default:
		return 0, quotadomain.ErrInvalidPeriod
	}

	var count int64
	err := r.db.WithContext(ctx).
		Table(messageLogTable).
		Where("account_id = ? AND status = ? AND "+column+" = ?", accountID, statusCharged, stamp).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
