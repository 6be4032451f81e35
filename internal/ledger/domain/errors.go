package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAccount         = errors.New("invalid_account")
	ErrAccountNotFound        = errors.New("account_not_found")
	ErrInvalidTenant          = errors.New("invalid_tenant")
	ErrUnknownPlan            = errors.New("unknown_plan")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidEntryType       = errors.New("invalid_entry_type")
	ErrIdempotencyKeyRequired = errors.New("idempotency_key_required")
	ErrIdempotencyKeyConflict = errors.New("idempotency_key_conflict")
	ErrDuplicateTransaction   = errors.New("duplicate_transaction")
	ErrInsufficientBalance    = errors.New("insufficient_balance")
	ErrEntryNotFound          = errors.New("entry_not_found")
	ErrReasonRequired         = errors.New("reason_required")
	ErrActorRequired          = errors.New("actor_required")
	ErrInvalidPageToken       = errors.New("invalid_page_token")
	ErrLockTimeout            = errors.New("account_lock_timeout")
)

// InsufficientBalanceError carries the balance snapshot of a rejected debit.
type InsufficientBalanceError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient_balance: balance %d, required %d", e.Balance, e.Required)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is the amount missing to cover the debit.
func (e *InsufficientBalanceError) Shortfall() int64 {
	if e.Required <= e.Balance {
		return 0
	}
	return e.Required - e.Balance
}
