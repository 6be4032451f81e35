package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
	plandomain "github.com/smallbiznis/wabaledger/internal/plan/domain"
	"gorm.io/gorm"
)

type PreSendCheckRequest struct {
	AccountID    snowflake.ID        `json:"-"`
	MessageCount int64               `json:"message_count"`
	Category     plandomain.Category `json:"category"`
	Feature      plandomain.Feature  `json:"feature"`
}

type ChargeOneRequest struct {
	AccountID snowflake.ID        `json:"-"`
	Category  plandomain.Category `json:"category"`
	Message   MessageRecord       `json:"message"`
}

type ChargeBatchRequest struct {
	AccountID snowflake.ID        `json:"-"`
	BatchID   string              `json:"batch_id"`
	Category  plandomain.Category `json:"category"`
	Messages  []MessageRecord     `json:"messages"`
}

// RefundChargeRequest refunds the debit recorded under OriginalIdempotencyKey,
// either "msg:<message id>" or "batch:<batch id>".
type RefundChargeRequest struct {
	AccountID              snowflake.ID
	OriginalIdempotencyKey string
	Reason                 string
	Actor                  string
	Metadata               map[string]any
}

// LogRequest records a send that was denied or failed at the provider.
type LogRequest struct {
	AccountID snowflake.ID
	Category  plandomain.Category
	Messages  []MessageRecord
	BatchID   string
	Reason    string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, logs []*MessageLog) error
	ChargedMessageIDs(ctx context.Context, db *gorm.DB, accountID snowflake.ID, messageIDs []string) ([]string, error)
	ListByMessageID(ctx context.Context, db *gorm.DB, accountID snowflake.ID, messageID string) ([]MessageLog, error)
	MarkRefunded(ctx context.Context, db *gorm.DB, accountID, ledgerEntryID snowflake.ID, at time.Time) (int64, error)
}

type Service interface {
	PreSendCheck(ctx context.Context, req PreSendCheckRequest) (Decision, error)
	ChargeOne(ctx context.Context, req ChargeOneRequest) (ChargeResult, error)
	ChargeBatch(ctx context.Context, req ChargeBatchRequest) (BatchChargeResult, error)
	RefundCharge(ctx context.Context, req RefundChargeRequest) (*ledgerdomain.LedgerEntry, error)
	EstimateCost(messageCount int64, category plandomain.Category) (int64, error)
	LogRejection(ctx context.Context, req LogRequest) error
	LogFailure(ctx context.Context, req LogRequest) error
	UsageSummary(ctx context.Context, accountID snowflake.ID) (UsageSummary, error)
	MessageLogs(ctx context.Context, accountID snowflake.ID, messageID string) ([]MessageLog, error)
}

var (
	ErrInvalidAccount      = errors.New("invalid_account")
	ErrInvalidMessageCount = errors.New("invalid_message_count")
	ErrFeatureRequired     = errors.New("feature_required")
	ErrMessageIDRequired   = errors.New("message_id_required")
	ErrDuplicateMessageID  = errors.New("duplicate_message_id")
	ErrBatchIDRequired     = errors.New("batch_id_required")
	ErrEmptyBatch          = errors.New("empty_batch")
	ErrAlreadyCharged      = errors.New("message_already_charged")
)
