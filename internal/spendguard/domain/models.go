package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/wabaledger/internal/plan/domain"
	"gorm.io/datatypes"
)

// ReasonCode is the machine-readable outcome of a denied check or charge.
type ReasonCode string

const (
	ReasonInsufficientBalance  ReasonCode = "insufficient_balance"
	ReasonLimitDaily           ReasonCode = "limit_daily"
	ReasonLimitMonthly         ReasonCode = "limit_monthly"
	ReasonFeatureNotIncluded   ReasonCode = "feature_not_included"
	ReasonDuplicateTransaction ReasonCode = "duplicate_transaction"
	ReasonWalletNotFound       ReasonCode = "wallet_not_found"
	ReasonProviderFailed       ReasonCode = "provider_failed"
)

// Details carries the numbers a caller needs to render a decision.
type Details struct {
	Feature          plandomain.Feature  `json:"feature,omitempty"`
	Category         plandomain.Category `json:"category,omitempty"`
	MessageCount     int64               `json:"message_count"`
	UnitPrice        int64               `json:"unit_price"`
	Cost             int64               `json:"cost"`
	BalanceBefore    int64               `json:"balance_before"`
	BalanceAfter     int64               `json:"balance_after"`
	Shortfall        int64               `json:"shortfall,omitempty"`
	DailyUsed        int64               `json:"daily_used"`
	DailyLimit       int64               `json:"daily_limit"`
	DailyRemaining   int64               `json:"daily_remaining"`
	MonthlyUsed      int64               `json:"monthly_used"`
	MonthlyLimit     int64               `json:"monthly_limit"`
	MonthlyRemaining int64               `json:"monthly_remaining"`
}

// Decision is the result of an admission check. Reason is empty when allowed.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  ReasonCode `json:"reason,omitempty"`
	Details Details    `json:"details"`
}

// MessageRecord describes one successfully sent message to be charged.
type MessageRecord struct {
	MessageID   string         `json:"message_id"`
	Destination string         `json:"destination"`
	MessageType string         `json:"message_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type MessageStatus string

const (
	MessageStatusCharged  MessageStatus = "charged"
	MessageStatusRejected MessageStatus = "rejected"
	MessageStatusFailed   MessageStatus = "failed"
	// MessageStatusRefunded marks a charged row whose debit was refunded. It
	// no longer counts against the quota windows.
	MessageStatusRefunded MessageStatus = "refunded"
)

// MessageLog is the per-message send event. Charged rows are what the quota
// counter counts; rejected and failed rows never touch the ledger.
type MessageLog struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	AccountID     snowflake.ID      `gorm:"not null;index:idx_message_logs_day,priority:1;index:idx_message_logs_month,priority:1" json:"account_id"`
	MessageID     string            `gorm:"type:text;not null;index" json:"message_id"`
	BatchID       *string           `gorm:"type:text;index" json:"batch_id,omitempty"`
	LedgerEntryID *snowflake.ID     `gorm:"index" json:"ledger_entry_id,omitempty"`
	Status        MessageStatus     `gorm:"type:text;not null;index:idx_message_logs_day,priority:2;index:idx_message_logs_month,priority:2" json:"status"`
	Category      string            `gorm:"type:text;not null" json:"category"`
	MessageType   string            `gorm:"type:text" json:"message_type,omitempty"`
	Destination   string            `gorm:"type:text" json:"destination,omitempty"`
	UnitPrice     int64             `gorm:"not null;default:0" json:"unit_price"`
	BalanceBefore int64             `gorm:"not null;default:0" json:"balance_before"`
	BalanceAfter  int64             `gorm:"not null;default:0" json:"balance_after"`
	Reason        string            `gorm:"type:text" json:"reason,omitempty"`
	DayKey        string            `gorm:"type:text;not null;index:idx_message_logs_day,priority:3" json:"day_key"`
	MonthKey      string            `gorm:"type:text;not null;index:idx_message_logs_month,priority:3" json:"month_key"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
	RefundedAt    *time.Time        `json:"refunded_at,omitempty"`
}

func (MessageLog) TableName() string { return "message_logs" }

// ChargeResult is the outcome of charging one message. A denial is not an error.
type ChargeResult struct {
	Charged      bool          `json:"charged"`
	Reason       ReasonCode    `json:"reason,omitempty"`
	Details      Details       `json:"details"`
	EntryID      *snowflake.ID `json:"entry_id,omitempty"`
	MessageLogID *snowflake.ID `json:"message_log_id,omitempty"`
}

// BatchItem is the traceability row for one message of a charged batch.
type BatchItem struct {
	MessageID    string       `json:"message_id"`
	MessageLogID snowflake.ID `json:"message_log_id"`
	BalanceAfter int64        `json:"balance_after"`
}

// BatchChargeResult is all-or-nothing: either every item is charged under one
// ledger debit or none is.
type BatchChargeResult struct {
	Charged bool          `json:"charged"`
	Reason  ReasonCode    `json:"reason,omitempty"`
	Details Details       `json:"details"`
	EntryID *snowflake.ID `json:"entry_id,omitempty"`
	Items   []BatchItem   `json:"items,omitempty"`
}

// UsageSummary is the dashboard view of balance and quota for an account.
type UsageSummary struct {
	AccountID snowflake.ID `json:"account_id"`
	PlanCode  string       `json:"plan_code"`
	Currency  string       `json:"currency"`
	Balance   int64        `json:"balance"`
	Status    string       `json:"status"`
	Daily     UsageWindow  `json:"daily"`
	Monthly   UsageWindow  `json:"monthly"`
}

type UsageWindow struct {
	Used      int64   `json:"used"`
	Limit     int64   `json:"limit"`
	Remaining int64   `json:"remaining"`
	Percent   float64 `json:"percent"`
	Unlimited bool    `json:"unlimited"`
	Warning   bool    `json:"warning"`
	Danger    bool    `json:"danger"`
}
