package domain

import (
	"context"
	"iter"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wabaledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type OpenAccountRequest struct {
	TenantRef string `json:"tenant_ref"`
	PlanCode  string `json:"plan_code"`
	Currency  string `json:"currency"`
}

// CreditRequest records a topup. A repeated idempotency key returns the stored entry.
type CreditRequest struct {
	AccountID      snowflake.ID
	EntryType      EntryType
	Amount         int64
	IdempotencyKey string
	Reference      *Reference
	Actor          string
	Metadata       map[string]any
}

// TxHook runs inside the ledger transaction after the entry is inserted.
// Returning an error rolls the entry back.
type TxHook func(ctx context.Context, tx *gorm.DB, entry *LedgerEntry, balanceBefore int64) error

// DebitRequest records a billable debit. A repeated idempotency key fails with ErrDuplicateTransaction.
type DebitRequest struct {
	AccountID      snowflake.ID
	EntryType      EntryType
	Amount         int64
	IdempotencyKey string
	Reference      *Reference
	Actor          string
	Metadata       map[string]any
	WithinTx       TxHook
}

type RefundRequest struct {
	AccountID              snowflake.ID
	OriginalIdempotencyKey string
	Reason                 string
	Actor                  string
	Metadata               map[string]any
	// WithinTx runs only when a new refund entry is written, never on a
	// replay of an existing one.
	WithinTx TxHook
}

// AdjustmentRequest is an admin override that may drive the balance negative.
type AdjustmentRequest struct {
	AccountID snowflake.ID
	Amount    int64
	IsCredit  bool
	Reason    string
	Actor     string
	Metadata  map[string]any
}

type HistoryFilter struct {
	EntryTypes     []EntryType
	Direction      Direction
	From           *time.Time
	To             *time.Time
	BeforeSequence int64
	Limit          int
}

type ListHistoryRequest struct {
	pagination.Pagination
	AccountID  snowflake.ID
	EntryTypes []EntryType
	Direction  Direction
	From       *time.Time
	To         *time.Time
}

type ListHistoryResponse struct {
	pagination.PageInfo
	Entries []LedgerEntry `json:"entries"`
}

type Repository interface {
	CreateAccount(ctx context.Context, db *gorm.DB, account *Account) error
	FindAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindAccountByTenant(ctx context.Context, db *gorm.DB, tenantRef string) (*Account, error)
	LockAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	SaveAccountProjection(ctx context.Context, db *gorm.DB, account *Account) error
	ListAccountIDs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error)

	InsertEntry(ctx context.Context, db *gorm.DB, entry *LedgerEntry) error
	LatestEntry(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*LedgerEntry, error)
	FindEntryByKey(ctx context.Context, db *gorm.DB, entryType EntryType, key string) (*LedgerEntry, error)
	ListEntries(ctx context.Context, db *gorm.DB, accountID snowflake.ID, filter HistoryFilter) ([]*LedgerEntry, error)
	ScanEntries(ctx context.Context, db *gorm.DB, accountID snowflake.ID, afterSequence int64, limit int) ([]*LedgerEntry, error)
}

type Service interface {
	OpenAccount(ctx context.Context, req OpenAccountRequest) (*Account, error)
	GetAccount(ctx context.Context, accountID snowflake.ID) (*Account, error)
	ListAccountIDs(ctx context.Context, afterID snowflake.ID, limit int) ([]snowflake.ID, error)

	RecordCredit(ctx context.Context, req CreditRequest) (*LedgerEntry, error)
	RecordDebit(ctx context.Context, req DebitRequest) (*LedgerEntry, error)
	RecordRefund(ctx context.Context, req RefundRequest) (*LedgerEntry, error)
	RecordAdjustment(ctx context.Context, req AdjustmentRequest) (*LedgerEntry, error)

	GetBalance(ctx context.Context, accountID snowflake.ID) (int64, error)
	GetHistory(ctx context.Context, accountID snowflake.ID, filter HistoryFilter) iter.Seq2[LedgerEntry, error]
	ListHistory(ctx context.Context, req ListHistoryRequest) (ListHistoryResponse, error)
	ValidateIntegrity(ctx context.Context, accountID snowflake.ID) (*IntegrityReport, error)
}
