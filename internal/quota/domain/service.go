package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Cache stores window counters. Implementations must treat a miss as
// (0, false, nil); errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key CacheKey) (int64, bool, error)
	Set(ctx context.Context, key CacheKey, count int64, ttl time.Duration) error
	Delete(ctx context.Context, keys ...CacheKey) error
}

// EventCounter is the authoritative count over the send-event log.
type EventCounter interface {
	CountCharged(ctx context.Context, accountID snowflake.ID, period Period, stamp string) (int64, error)
}

type Service interface {
	DailyUsage(ctx context.Context, accountID snowflake.ID) (int64, error)
	MonthlyUsage(ctx context.Context, accountID snowflake.ID) (int64, error)
	Invalidate(ctx context.Context, accountID snowflake.ID) error
	Check(ctx context.Context, accountID snowflake.ID, period Period, limit int64) (Usage, error)
	Summary(ctx context.Context, accountID snowflake.ID, dailyLimit, monthlyLimit int64) (Summary, error)
}

var (
	ErrInvalidAccount = errors.New("invalid_account")
	ErrInvalidPeriod  = errors.New("invalid_period")
)
