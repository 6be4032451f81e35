package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EntryType classifies the business event behind a ledger entry.
type EntryType string

const (
	EntryTypeTopup        EntryType = "topup"
	EntryTypeMessageDebit EntryType = "message_debit"
	EntryTypeRefund       EntryType = "refund"
	EntryTypeAdjustment   EntryType = "adjustment"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeTopup, EntryTypeMessageDebit, EntryTypeRefund, EntryTypeAdjustment:
		return true
	default:
		return false
	}
}

// Direction represents credit or debit postings against the account balance.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// AccountStatus is derived from the available balance and configured thresholds.
type AccountStatus string

const (
	AccountStatusNormal   AccountStatus = "normal"
	AccountStatusLow      AccountStatus = "low"
	AccountStatusCritical AccountStatus = "critical"
	AccountStatusZero     AccountStatus = "zero"
)

// DeriveStatus maps a balance onto a status band.
func DeriveStatus(balance, low, critical int64) AccountStatus {
	switch {
	case balance <= 0:
		return AccountStatusZero
	case balance <= critical:
		return AccountStatusCritical
	case balance <= low:
		return AccountStatusLow
	default:
		return AccountStatusNormal
	}
}

// Account is the tenant wallet. Balance columns are a projection of the
// latest ledger entry and are only written by the ledger service.
type Account struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	TenantRef        string        `gorm:"type:text;not null;uniqueIndex" json:"tenant_ref"`
	PlanCode         string        `gorm:"type:text;not null" json:"plan_code"`
	Currency         string        `gorm:"type:text;not null" json:"currency"`
	AvailableBalance int64         `gorm:"not null;default:0" json:"available_balance"`
	HeldBalance      int64         `gorm:"not null;default:0" json:"held_balance"`
	LifetimeTopup    int64         `gorm:"not null;default:0" json:"lifetime_topup"`
	LifetimeSpent    int64         `gorm:"not null;default:0" json:"lifetime_spent"`
	LastSequence     int64         `gorm:"not null;default:0" json:"last_sequence"`
	CreatedAt        time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"not null" json:"updated_at"`
	Status           AccountStatus `gorm:"-" json:"status"`
}

func (Account) TableName() string { return "accounts" }

// Reference links an entry to its external cause.
type Reference struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// LedgerEntry is an immutable balance snapshot. Entries are never updated or deleted.
type LedgerEntry struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	AccountID      snowflake.ID      `gorm:"not null;uniqueIndex:ux_ledger_entries_account_seq,priority:1" json:"account_id"`
	Sequence       int64             `gorm:"not null;uniqueIndex:ux_ledger_entries_account_seq,priority:2" json:"sequence"`
	EntryType      EntryType         `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_idempotency,priority:1" json:"entry_type"`
	Direction      Direction         `gorm:"type:text;not null" json:"direction"`
	Amount         int64             `gorm:"not null" json:"amount"`
	BalanceAfter   int64             `gorm:"not null" json:"balance_after"`
	IdempotencyKey *string           `gorm:"type:text;uniqueIndex:ux_ledger_entries_idempotency,priority:2" json:"idempotency_key,omitempty"`
	ReferenceType  *string           `gorm:"type:text" json:"reference_type,omitempty"`
	ReferenceID    *string           `gorm:"type:text;index" json:"reference_id,omitempty"`
	Actor          string            `gorm:"type:text;not null" json:"actor"`
	Reason         string            `gorm:"type:text" json:"reason,omitempty"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;index" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// SignedAmount returns the balance delta of the entry.
func (e LedgerEntry) SignedAmount() int64 {
	if e.Direction == DirectionDebit {
		return -e.Amount
	}
	return e.Amount
}

func (e LedgerEntry) Reference() *Reference {
	if e.ReferenceType == nil || e.ReferenceID == nil {
		return nil
	}
	return &Reference{Type: *e.ReferenceType, ID: *e.ReferenceID}
}

type IntegrityIssueKind string

const (
	IssueBalanceMismatch    IntegrityIssueKind = "balance_mismatch"
	IssueSequenceGap        IntegrityIssueKind = "sequence_gap"
	IssueProjectionMismatch IntegrityIssueKind = "projection_mismatch"
)

type IntegrityIssue struct {
	Kind     IntegrityIssueKind `json:"kind"`
	EntryID  snowflake.ID       `json:"entry_id,omitempty"`
	Sequence int64              `json:"sequence,omitempty"`
	Expected int64              `json:"expected"`
	Recorded int64              `json:"recorded"`
}

// IntegrityReport is the outcome of replaying an account's entries.
type IntegrityReport struct {
	AccountID       snowflake.ID     `json:"account_id"`
	EntriesChecked  int              `json:"entries_checked"`
	ComputedBalance int64            `json:"computed_balance"`
	RecordedBalance int64            `json:"recorded_balance"`
	Valid           bool             `json:"valid"`
	Issues          []IntegrityIssue `json:"issues,omitempty"`
	CheckedAt       time.Time        `json:"checked_at"`
}
