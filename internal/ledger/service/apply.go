package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
	"github.com/smallbiznis/wabaledger/internal/ledger/lock"
	"github.com/smallbiznis/wabaledger/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// mutation describes one entry to append inside the account critical section.
type mutation struct {
	entryType     ledgerdomain.EntryType
	direction     ledgerdomain.Direction
	amount        int64
	key           *string
	reference     *ledgerdomain.Reference
	actor         string
	reason        string
	metadata      map[string]any
	allowNegative bool

	// onExisting decides the outcome when the idempotency key was already used.
	onExisting func(existing *ledgerdomain.LedgerEntry) (*ledgerdomain.LedgerEntry, error)
	// prepare runs after the idempotency check and may fill amount and reference.
	prepare  func(ctx context.Context, tx *gorm.DB) error
	withinTx ledgerdomain.TxHook
}

// apply serializes on the account, re-reads the latest snapshot, appends the
// entry and refreshes the account projection in one transaction.
// It reports whether a new entry was written.
func (s *Service) apply(ctx context.Context, accountID snowflake.ID, m *mutation) (*ledgerdomain.LedgerEntry, bool, error) {
	unlock, err := s.locker.Lock(ctx, lock.AccountKey(accountID))
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	var (
		result        *ledgerdomain.LedgerEntry
		created       bool
		balanceBefore int64
	)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.LockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return ledgerdomain.ErrAccountNotFound
		}

		if m.key != nil {
			existing, err := s.repo.FindEntryByKey(ctx, tx, m.entryType, *m.key)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.AccountID != accountID {
					return ledgerdomain.ErrIdempotencyKeyConflict
				}
				if m.onExisting == nil {
					return ledgerdomain.ErrDuplicateTransaction
				}
				result, err = m.onExisting(existing)
				return err
			}
		}

		if m.prepare != nil {
			if err := m.prepare(ctx, tx); err != nil {
				return err
			}
		}
		if m.amount <= 0 {
			return ledgerdomain.ErrInvalidAmount
		}

		latest, err := s.repo.LatestEntry(ctx, tx, accountID)
		if err != nil {
			return err
		}
		var lastSequence int64
		if latest != nil {
			balanceBefore = latest.BalanceAfter
			lastSequence = latest.Sequence
		}

		entry := &ledgerdomain.LedgerEntry{
			ID:             s.genID.Generate(),
			AccountID:      accountID,
			Sequence:       lastSequence + 1,
			EntryType:      m.entryType,
			Direction:      m.direction,
			Amount:         m.amount,
			IdempotencyKey: m.key,
			Actor:          m.actor,
			Reason:         m.reason,
			Metadata:       toJSONMap(m.metadata),
			CreatedAt:      s.clock.Now().UTC(),
		}
		if m.reference != nil {
			refType, refID := m.reference.Type, m.reference.ID
			entry.ReferenceType = &refType
			entry.ReferenceID = &refID
		}
		entry.BalanceAfter = balanceBefore + entry.SignedAmount()

		if entry.Direction == ledgerdomain.DirectionDebit && !m.allowNegative && entry.BalanceAfter < 0 {
			return &ledgerdomain.InsufficientBalanceError{Balance: balanceBefore, Required: m.amount}
		}

		if err := s.repo.InsertEntry(ctx, tx, entry); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return ledgerdomain.ErrDuplicateTransaction
			}
			return err
		}

		if m.withinTx != nil {
			if err := m.withinTx(ctx, tx, entry, balanceBefore); err != nil {
				return err
			}
		}

		project(account, entry)
		if err := s.repo.SaveAccountProjection(ctx, tx, account); err != nil {
			return err
		}

		result = entry
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.obsMetrics.RecordLedgerEntry(ctx, string(result.EntryType), result.Amount)
		s.logger(ctx, accountID).Info("ledger entry recorded",
			zap.String("entry_id", result.ID.String()),
			zap.String("entry_type", string(result.EntryType)),
			zap.String("direction", string(result.Direction)),
			zap.Int64("sequence", result.Sequence),
		)
		s.warnOnThreshold(ctx, accountID, balanceBefore, result.BalanceAfter)
	}
	return result, created, nil
}

// project folds a new entry into the account's cached balances.
func project(account *ledgerdomain.Account, entry *ledgerdomain.LedgerEntry) {
	account.AvailableBalance = entry.BalanceAfter
	account.LastSequence = entry.Sequence
	account.UpdatedAt = entry.CreatedAt

	switch entry.EntryType {
	case ledgerdomain.EntryTypeTopup:
		account.LifetimeTopup += entry.Amount
	case ledgerdomain.EntryTypeMessageDebit:
		account.LifetimeSpent += entry.Amount
	case ledgerdomain.EntryTypeRefund:
		account.LifetimeSpent -= entry.Amount
	}
}

// warnOnThreshold logs when a debit moves the account into a worse status band.
func (s *Service) warnOnThreshold(ctx context.Context, accountID snowflake.ID, before, after int64) {
	if after >= before {
		return
	}
	cfg := s.cfg.Get()
	prev := ledgerdomain.DeriveStatus(before, cfg.LowBalance, cfg.CriticalBalance)
	next := ledgerdomain.DeriveStatus(after, cfg.LowBalance, cfg.CriticalBalance)
	if prev == next || next == ledgerdomain.AccountStatusNormal {
		return
	}
	s.logger(ctx, accountID).Warn("account balance crossed threshold",
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
	)
}
