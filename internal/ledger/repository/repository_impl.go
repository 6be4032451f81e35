package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wabaledger/internal/ledger/domain"
	"github.com/smallbiznis/wabaledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CreateAccount(ctx context.Context, conn *gorm.DB, account *domain.Account) error {
	return conn.WithContext(ctx).Create(account).Error
}

func (r *repo) FindAccount(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := conn.WithContext(ctx).Where("id = ?", id).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repo) FindAccountByTenant(ctx context.Context, conn *gorm.DB, tenantRef string) (*domain.Account, error) {
	var account domain.Account
	err := conn.WithContext(ctx).Where("tenant_ref = ?", strings.TrimSpace(tenantRef)).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// LockAccount reads the account row with an exclusive row lock where the dialect supports one.
func (r *repo) LockAccount(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	stmt := conn.WithContext(ctx)
	if db.SupportsRowLocks(conn) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var account domain.Account
	err := stmt.Where("id = ?", id).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repo) SaveAccountProjection(ctx context.Context, conn *gorm.DB, account *domain.Account) error {
	return conn.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"available_balance": account.AvailableBalance,
			"held_balance":      account.HeldBalance,
			"lifetime_topup":    account.LifetimeTopup,
			"lifetime_spent":    account.LifetimeSpent,
			"last_sequence":     account.LastSequence,
			"updated_at":        account.UpdatedAt,
		}).Error
}

func (r *repo) ListAccountIDs(ctx context.Context, conn *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	stmt := conn.WithContext(ctx).Model(&domain.Account{}).Where("id > ?", afterID).Order("id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) InsertEntry(ctx context.Context, conn *gorm.DB, entry *domain.LedgerEntry) error {
	return conn.WithContext(ctx).Create(entry).Error
}

func (r *repo) LatestEntry(ctx context.Context, conn *gorm.DB, accountID snowflake.ID) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := conn.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("sequence desc").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) FindEntryByKey(ctx context.Context, conn *gorm.DB, entryType domain.EntryType, key string) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := conn.WithContext(ctx).
		Where("entry_type = ? AND idempotency_key = ?", entryType, key).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListEntries returns entries newest first, bounded by filter.Limit.
func (r *repo) ListEntries(ctx context.Context, conn *gorm.DB, accountID snowflake.ID, filter domain.HistoryFilter) ([]*domain.LedgerEntry, error) {
	stmt := conn.WithContext(ctx).Model(&domain.LedgerEntry{}).Where("account_id = ?", accountID)

	if len(filter.EntryTypes) > 0 {
		stmt = stmt.Where("entry_type IN ?", filter.EntryTypes)
	}
	if filter.Direction != "" {
		stmt = stmt.Where("direction = ?", filter.Direction)
	}
	if filter.From != nil {
		stmt = stmt.Where("created_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("created_at < ?", filter.To.UTC())
	}
	if filter.BeforeSequence > 0 {
		stmt = stmt.Where("sequence < ?", filter.BeforeSequence)
	}

	stmt = stmt.Order("sequence desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var entries []*domain.LedgerEntry
	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ScanEntries returns entries in processing order starting after the given sequence.
func (r *repo) ScanEntries(ctx context.Context, conn *gorm.DB, accountID snowflake.ID, afterSequence int64, limit int) ([]*domain.LedgerEntry, error) {
	stmt := conn.WithContext(ctx).
		Where("account_id = ? AND sequence > ?", accountID, afterSequence).
		Order("sequence asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	var entries []*domain.LedgerEntry
	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
