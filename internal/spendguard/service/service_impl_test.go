package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wabaledger/internal/clock"
	"github.com/smallbiznis/wabaledger/internal/config"
	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
	"github.com/smallbiznis/wabaledger/internal/ledger/lock"
	ledgerrepository "github.com/smallbiznis/wabaledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/wabaledger/internal/ledger/service"
	plandomain "github.com/smallbiznis/wabaledger/internal/plan/domain"
	planservice "github.com/smallbiznis/wabaledger/internal/plan/service"
	quotacache "github.com/smallbiznis/wabaledger/internal/quota/cache"
	quotadomain "github.com/smallbiznis/wabaledger/internal/quota/domain"
	quotarepository "github.com/smallbiznis/wabaledger/internal/quota/repository"
	quotaservice "github.com/smallbiznis/wabaledger/internal/quota/service"
	"github.com/smallbiznis/wabaledger/internal/spendguard/domain"
	"github.com/smallbiznis/wabaledger/internal/spendguard/repository"
	"github.com/smallbiznis/wabaledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc    *Service
	ledger ledgerdomain.Service
	quota  quotadomain.Service
	db     *gorm.DB
	clock  *clock.FakeClock
	cfg    *config.GuardConfigHolder
	node   *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn := dbtest.Open(t, &ledgerdomain.Account{}, &ledgerdomain.LedgerEntry{}, &domain.MessageLog{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	cfg := config.NewStaticGuardConfigHolder(config.DefaultGuardConfig())
	log := zap.NewNop()

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:     conn,
		Log:    log,
		GenID:  node,
		Repo:   ledgerrepository.Provide(),
		Locker: lock.NewLocalLocker(0, nil),
		Clock:  clk,
		Config: cfg,
	})
	quotaSvc := quotaservice.NewService(quotaservice.Params{
		Log:     log,
		Cache:   quotacache.NewMemoryCache(clk),
		Counter: quotarepository.Provide(conn),
		Clock:   clk,
		Config:  cfg,
	})
	planSvc := planservice.NewService(planservice.Params{Log: log, Config: cfg})

	svc := NewService(Params{
		DB:     conn,
		Log:    log,
		GenID:  node,
		Repo:   repository.Provide(),
		Ledger: ledgerSvc,
		Quota:  quotaSvc,
		Plans:  planSvc,
		Clock:  clk,
		Config: cfg,
	}).(*Service)

	return &fixture{svc: svc, ledger: ledgerSvc, quota: quotaSvc, db: conn, clock: clk, cfg: cfg, node: node}
}

func (f *fixture) account(t *testing.T, plan string, balance int64) snowflake.ID {
	t.Helper()
	ctx := context.Background()
	account, err := f.ledger.OpenAccount(ctx, ledgerdomain.OpenAccountRequest{
		TenantRef: fmt.Sprintf("tenant-%d", f.node.Generate().Int64()),
		PlanCode:  plan,
	})
	require.NoError(t, err)
	if balance > 0 {
		_, err = f.ledger.RecordCredit(ctx, ledgerdomain.CreditRequest{
			AccountID:      account.ID,
			Amount:         balance,
			IdempotencyKey: "topup-" + account.ID.String(),
		})
		require.NoError(t, err)
	}
	return account.ID
}

func (f *fixture) setPrice(category string, price int64) {
	cfg := f.cfg.Get()
	prices := make(map[string]int64, len(cfg.Prices))
	for k, v := range cfg.Prices {
		prices[k] = v
	}
	prices[category] = price
	cfg.Prices = prices
	f.cfg.Store(cfg)
}

func (f *fixture) balance(t *testing.T, accountID snowflake.ID) int64 {
	t.Helper()
	balance, err := f.ledger.GetBalance(context.Background(), accountID)
	require.NoError(t, err)
	return balance
}

func (f *fixture) countDebits(t *testing.T, accountID snowflake.ID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&ledgerdomain.LedgerEntry{}).
		Where("account_id = ? AND entry_type = ?", accountID, ledgerdomain.EntryTypeMessageDebit).
		Count(&count).Error)
	return count
}

func (f *fixture) countLogs(t *testing.T, accountID snowflake.ID, status domain.MessageStatus) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&domain.MessageLog{}).
		Where("account_id = ? AND status = ?", accountID, status).
		Count(&count).Error)
	return count
}

func message(id string) domain.MessageRecord {
	return domain.MessageRecord{MessageID: id, Destination: "+6281234567890", MessageType: "template"}
}

func TestChargeOneDebitsUnitPrice(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "starter", 100_000)

	res, err := f.svc.ChargeOne(context.Background(), domain.ChargeOneRequest{
		AccountID: accountID,
		Category:  plandomain.CategoryMarketing,
		Message:   message("wamid.1"),
	})
	require.NoError(t, err)
	require.True(t, res.Charged)
	assert.Empty(t, res.Reason)
	assert.Equal(t, int64(100_000), res.Details.BalanceBefore)
	assert.Equal(t, int64(99_500), res.Details.BalanceAfter)
	require.NotNil(t, res.EntryID)

	assert.Equal(t, int64(99_500), f.balance(t, accountID))
	assert.Equal(t, int64(1), f.countDebits(t, accountID))

	var entry ledgerdomain.LedgerEntry
	require.NoError(t, f.db.Where("id = ?", *res.EntryID).Take(&entry).Error)
	assert.Equal(t, int64(500), entry.Amount)
	assert.Equal(t, int64(99_500), entry.BalanceAfter)
	require.NotNil(t, entry.IdempotencyKey)
	assert.Equal(t, "msg:wamid.1", *entry.IdempotencyKey)

	logs, err := f.svc.MessageLogs(context.Background(), accountID, "wamid.1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.MessageStatusCharged, logs[0].Status)
	assert.Equal(t, "+62****7890", logs[0].Destination)
	assert.Equal(t, int64(100_000), logs[0].BalanceBefore)
	assert.Equal(t, int64(99_500), logs[0].BalanceAfter)
	assert.Equal(t, "2026-03-10", logs[0].DayKey)
	assert.Equal(t, "2026-03", logs[0].MonthKey)
	require.NotNil(t, logs[0].LedgerEntryID)
	assert.Equal(t, entry.ID, *logs[0].LedgerEntryID)
}

func TestChargeOneInsufficientBalanceIsDenial(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "starter", 400)

	res, err := f.svc.ChargeOne(context.Background(), domain.ChargeOneRequest{
		AccountID: accountID,
		Category:  plandomain.CategoryMarketing,
		Message:   message("wamid.poor"),
	})
	require.NoError(t, err)
	assert.False(t, res.Charged)
	assert.Equal(t, domain.ReasonInsufficientBalance, res.Reason)
	assert.Equal(t, int64(400), res.Details.BalanceBefore)
	assert.Equal(t, int64(100), res.Details.Shortfall)
	assert.Nil(t, res.EntryID)

	assert.Equal(t, int64(400), f.balance(t, accountID))
	assert.Equal(t, int64(0), f.countDebits(t, accountID))
	assert.Equal(t, int64(1), f.countLogs(t, accountID, domain.MessageStatusRejected))
	assert.Equal(t, int64(0), f.countLogs(t, accountID, domain.MessageStatusCharged))
}

func TestChargeBatchExactBalance(t *testing.T) {
	f := newFixture(t)
	f.setPrice("service", 100)
	accountID := f.account(t, "starter", 5_000)

	messages := make([]domain.MessageRecord, 50)
	for i := range messages {
		messages[i] = message(fmt.Sprintf("wamid.b%d", i))
	}

	res, err := f.svc.ChargeBatch(context.Background(), domain.ChargeBatchRequest{
		AccountID: accountID,
		BatchID:   "campaign-1",
		Category:  plandomain.CategoryService,
		Messages:  messages,
	})
	require.NoError(t, err)
	require.True(t, res.Charged)
	assert.Equal(t, int64(5_000), res.Details.Cost)
	assert.Equal(t, int64(0), res.Details.BalanceAfter)

	require.Len(t, res.Items, 50)
	for i, item := range res.Items {
		assert.Equal(t, int64(5_000-100*(i+1)), item.BalanceAfter)
	}

	assert.Equal(t, int64(0), f.balance(t, accountID))
	assert.Equal(t, int64(1), f.countDebits(t, accountID))
	assert.Equal(t, int64(50), f.countLogs(t, accountID, domain.MessageStatusCharged))

	var entry ledgerdomain.LedgerEntry
	require.NoError(t, f.db.Where("id = ?", *res.EntryID).Take(&entry).Error)
	assert.Equal(t, int64(5_000), entry.Amount)
}

func TestChargeBatchIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.setPrice("service", 100)
	accountID := f.account(t, "starter", 4_999)

	messages := make([]domain.MessageRecord, 50)
	for i := range messages {
		messages[i] = message(fmt.Sprintf("wamid.n%d", i))
	}

	res, err := f.svc.ChargeBatch(context.Background(), domain.ChargeBatchRequest{
		AccountID: accountID,
		BatchID:   "campaign-2",
		Category:  plandomain.CategoryService,
		Messages:  messages,
	})
	require.NoError(t, err)
	assert.False(t, res.Charged)
	assert.Equal(t, domain.ReasonInsufficientBalance, res.Reason)
	assert.Equal(t, int64(1), res.Details.Shortfall)
	assert.Empty(t, res.Items)

	assert.Equal(t, int64(4_999), f.balance(t, accountID))
	assert.Equal(t, int64(0), f.countDebits(t, accountID))
	assert.Equal(t, int64(0), f.countLogs(t, accountID, domain.MessageStatusCharged))
	assert.Equal(t, int64(50), f.countLogs(t, accountID, domain.MessageStatusRejected))
}

func TestChargeBatchValidation(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "starter", 1_000)
	ctx := context.Background()

	_, err := f.svc.ChargeBatch(ctx, domain.ChargeBatchRequest{AccountID: accountID, Messages: []domain.MessageRecord{message("a")}})
	assert.ErrorIs(t, err, domain.ErrBatchIDRequired)

	_, err = f.svc.ChargeBatch(ctx, domain.ChargeBatchRequest{AccountID: accountID, BatchID: "b"})
	assert.ErrorIs(t, err, domain.ErrEmptyBatch)

	_, err = f.svc.ChargeBatch(ctx, domain.ChargeBatchRequest{
		AccountID: accountID,
		BatchID:   "b",
		Messages:  []domain.MessageRecord{message("a"), message(" a ")},
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateMessageID)
}

func TestConcurrentChargeOneNeverOverdraws(t *testing.T) {
	f := newFixture(t)
	f.setPrice("marketing", 600)
	accountID := f.account(t, "starter", 1_000)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []domain.ChargeResult
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.ChargeOne(context.Background(), domain.ChargeOneRequest{
				AccountID: accountID,
				Category:  plandomain.CategoryMarketing,
				Message:   message(fmt.Sprintf("wamid.c%d", i)),
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, results, 2)
	charged, denied := 0, 0
	for _, res := range results {
		if res.Charged {
			charged++
			continue
		}
		denied++
		assert.Equal(t, domain.ReasonInsufficientBalance, res.Reason)
	}
	assert.Equal(t, 1, charged)
	assert.Equal(t, 1, denied)
	assert.Equal(t, int64(400), f.balance(t, accountID))
}

func TestChargeOneRejectsDuplicateMessage(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "starter", 10_000)
	ctx := context.Background()

	req := domain.ChargeOneRequest{AccountID: accountID, Category: plandomain.CategoryMarketing, Message: message("wamid.dup")}
	first, err := f.svc.ChargeOne(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Charged)

	second, err := f.svc.ChargeOne(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.Charged)
	assert.Equal(t, domain.ReasonDuplicateTransaction, second.Reason)
	assert.Equal(t, int64(9_500), f.balance(t, accountID))

	// Already charged individually, so the batch must not charge it again.
	batch, err := f.svc.ChargeBatch(ctx, domain.ChargeBatchRequest{
		AccountID: accountID,
		BatchID:   "campaign-dup",
		Category:  plandomain.CategoryMarketing,
		Messages:  []domain.MessageRecord{message("wamid.fresh"), message("wamid.dup")},
	})
	require.NoError(t, err)
	assert.False(t, batch.Charged)
	assert.Equal(t, domain.ReasonDuplicateTransaction, batch.Reason)
	assert.Equal(t, int64(9_500), f.balance(t, accountID))
	assert.Equal(t, int64(1), f.countLogs(t, accountID, domain.MessageStatusCharged))
}

func TestChargeOneUnknownWallet(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.ChargeOne(context.Background(), domain.ChargeOneRequest{
		AccountID: snowflake.ID(999),
		Category:  plandomain.CategoryMarketing,
		Message:   message("wamid.ghost"),
	})
	require.NoError(t, err)
	assert.False(t, res.Charged)
	assert.Equal(t, domain.ReasonWalletNotFound, res.Reason)
}

func TestPreSendCheckDailyLimitRollsOver(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "free", 100_000)

	rows := make([]*domain.MessageLog, 0, 100)
	for i := 0; i < 100; i++ {
		rows = append(rows, &domain.MessageLog{
			ID:        f.node.Generate(),
			AccountID: accountID,
			MessageID: fmt.Sprintf("wamid.seed%d", i),
			Status:    domain.MessageStatusCharged,
			Category:  "service",
			DayKey:    "2026-03-10",
			MonthKey:  "2026-03",
			CreatedAt: f.clock.Now(),
		})
	}
	require.NoError(t, f.db.CreateInBatches(rows, 50).Error)

	req := domain.PreSendCheckRequest{
		AccountID:    accountID,
		MessageCount: 1,
		Category:     plandomain.CategoryService,
		Feature:      plandomain.FeatureInboxReply,
	}
	decision, err := f.svc.PreSendCheck(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonLimitDaily, decision.Reason)
	assert.Equal(t, int64(100), decision.Details.DailyUsed)
	assert.Equal(t, int64(100), decision.Details.DailyLimit)
	assert.Equal(t, int64(0), decision.Details.DailyRemaining)

	f.clock.Advance(24 * time.Hour)

	decision, err = f.svc.PreSendCheck(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(0), decision.Details.DailyUsed)
	assert.Equal(t, int64(100), decision.Details.MonthlyUsed)
}

func TestPreSendCheckMonthlyLimit(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "free", 100_000)

	rows := make([]*domain.MessageLog, 0, 1_000)
	for i := 0; i < 1_000; i++ {
		rows = append(rows, &domain.MessageLog{
			ID:        f.node.Generate(),
			AccountID: accountID,
			MessageID: fmt.Sprintf("wamid.m%d", i),
			Status:    domain.MessageStatusCharged,
			Category:  "service",
			DayKey:    "2026-03-01",
			MonthKey:  "2026-03",
			CreatedAt: f.clock.Now(),
		})
	}
	require.NoError(t, f.db.CreateInBatches(rows, 200).Error)

	decision, err := f.svc.PreSendCheck(context.Background(), domain.PreSendCheckRequest{
		AccountID:    accountID,
		MessageCount: 1,
		Category:     plandomain.CategoryService,
		Feature:      plandomain.FeatureInboxReply,
	})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonLimitMonthly, decision.Reason)
	assert.Equal(t, int64(1_000), decision.Details.MonthlyUsed)
}

func TestPreSendCheckOrderAndReadOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	free := f.account(t, "free", 100)

	decision, err := f.svc.PreSendCheck(ctx, domain.PreSendCheckRequest{
		AccountID:    free,
		MessageCount: 1,
		Category:     plandomain.CategoryMarketing,
		Feature:      plandomain.FeatureBroadcast,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonFeatureNotIncluded, decision.Reason)

	decision, err = f.svc.PreSendCheck(ctx, domain.PreSendCheckRequest{
		AccountID:    free,
		MessageCount: 1,
		Category:     plandomain.CategoryMarketing,
		Feature:      plandomain.FeatureInboxReply,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonInsufficientBalance, decision.Reason)
	assert.Equal(t, int64(400), decision.Details.Shortfall)
	assert.Equal(t, int64(100), decision.Details.BalanceBefore)

	decision, err = f.svc.PreSendCheck(ctx, domain.PreSendCheckRequest{
		AccountID:    snowflake.ID(12345),
		MessageCount: 1,
		Category:     plandomain.CategoryMarketing,
		Feature:      plandomain.FeatureInboxReply,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonWalletNotFound, decision.Reason)

	_, err = f.svc.PreSendCheck(ctx, domain.PreSendCheckRequest{AccountID: free, MessageCount: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidMessageCount)

	_, err = f.svc.PreSendCheck(ctx, domain.PreSendCheckRequest{
		AccountID:    free,
		MessageCount: 1,
		Category:     plandomain.CategoryMarketing,
		Feature:      "  ",
	})
	assert.ErrorIs(t, err, domain.ErrFeatureRequired)

	assert.Equal(t, int64(100), f.balance(t, free))
	assert.Equal(t, int64(0), f.countLogs(t, free, domain.MessageStatusRejected))
}

func TestPreSendCheckAllowedDetails(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "business", 10_000)

	decision, err := f.svc.PreSendCheck(context.Background(), domain.PreSendCheckRequest{
		AccountID:    accountID,
		MessageCount: 4,
		Category:     plandomain.CategoryUtility,
		Feature:      plandomain.FeatureChatbot,
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(250), decision.Details.UnitPrice)
	assert.Equal(t, int64(1_000), decision.Details.Cost)
	assert.Equal(t, int64(10_000), decision.Details.BalanceBefore)
	assert.Equal(t, int64(9_000), decision.Details.BalanceAfter)
	assert.Equal(t, int64(0), decision.Details.DailyLimit)
}

func TestChargeInvalidatesQuotaCache(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "starter", 10_000)
	ctx := context.Background()

	used, err := f.quota.DailyUsage(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)

	res, err := f.svc.ChargeOne(ctx, domain.ChargeOneRequest{AccountID: accountID, Category: plandomain.CategoryMarketing, Message: message("wamid.q1")})
	require.NoError(t, err)
	require.True(t, res.Charged)

	used, err = f.quota.DailyUsage(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), used)

	used, err = f.quota.MonthlyUsage(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), used)
}

func TestEstimateCost(t *testing.T) {
	f := newFixture(t)

	cost, err := f.svc.EstimateCost(10, plandomain.CategoryMarketing)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), cost)

	_, err = f.svc.EstimateCost(0, plandomain.CategoryMarketing)
	assert.ErrorIs(t, err, domain.ErrInvalidMessageCount)

	_, err = f.svc.EstimateCost(1, plandomain.Category("sticker"))
	assert.ErrorIs(t, err, plandomain.ErrUnknownCategory)
}

func TestLogFailureDoesNotTouchLedger(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "starter", 2_000)
	ctx := context.Background()

	err := f.svc.LogFailure(ctx, domain.LogRequest{
		AccountID: accountID,
		Category:  plandomain.CategoryMarketing,
		Messages:  []domain.MessageRecord{message("wamid.f1"), message("wamid.f2")},
		Reason:    "provider timeout",
	})
	require.NoError(t, err)

	err = f.svc.LogRejection(ctx, domain.LogRequest{
		AccountID: accountID,
		Category:  plandomain.CategoryMarketing,
		Messages:  []domain.MessageRecord{message("wamid.r1")},
		Reason:    string(domain.ReasonLimitDaily),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), f.countLogs(t, accountID, domain.MessageStatusFailed))
	assert.Equal(t, int64(1), f.countLogs(t, accountID, domain.MessageStatusRejected))
	assert.Equal(t, int64(2_000), f.balance(t, accountID))
	assert.Equal(t, int64(0), f.countDebits(t, accountID))

	used, err := f.quota.DailyUsage(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)
}

func TestConcurrentMixedChargesNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	const (
		start   = int64(5_000)
		price   = int64(500)
		workers = 24
	)
	accountID := f.account(t, "starter", start)

	seed := uint64(time.Now().UnixNano())
	t.Logf("seed %d", seed)
	rng := rand.New(rand.NewPCG(seed, seed>>1))
	sizes := make([]int, workers)
	for i := range sizes {
		if rng.IntN(2) == 0 {
			continue
		}
		sizes[i] = 1 + rng.IntN(4)
	}

	var (
		wg      sync.WaitGroup
		charged atomic.Int64
		debits  atomic.Int64
	)
	for i, size := range sizes {
		wg.Add(1)
		go func(i, size int) {
			defer wg.Done()
			ctx := context.Background()
			if size == 0 {
				res, err := f.svc.ChargeOne(ctx, domain.ChargeOneRequest{
					AccountID: accountID,
					Category:  plandomain.CategoryMarketing,
					Message:   message(fmt.Sprintf("wamid.mix%d", i)),
				})
				if !assert.NoError(t, err) {
					return
				}
				if res.Charged {
					charged.Add(1)
					debits.Add(1)
					return
				}
				assert.Equal(t, domain.ReasonInsufficientBalance, res.Reason)
				return
			}
			messages := make([]domain.MessageRecord, 0, size)
			for j := 0; j < size; j++ {
				messages = append(messages, message(fmt.Sprintf("wamid.mix%d.%d", i, j)))
			}
			res, err := f.svc.ChargeBatch(ctx, domain.ChargeBatchRequest{
				AccountID: accountID,
				BatchID:   fmt.Sprintf("mix-%d", i),
				Category:  plandomain.CategoryMarketing,
				Messages:  messages,
			})
			if !assert.NoError(t, err) {
				return
			}
			if res.Charged {
				charged.Add(int64(size))
				debits.Add(1)
				return
			}
			assert.Equal(t, domain.ReasonInsufficientBalance, res.Reason)
		}(i, size)
	}
	wg.Wait()

	final := f.balance(t, accountID)
	assert.GreaterOrEqual(t, final, int64(0))
	assert.Equal(t, start, charged.Load()*price+final)
	assert.Equal(t, charged.Load(), f.countLogs(t, accountID, domain.MessageStatusCharged))
	assert.Equal(t, debits.Load(), f.countDebits(t, accountID))

	report, err := f.ledger.ValidateIntegrity(context.Background(), accountID)
	require.NoError(t, err)
	assert.True(t, report.Valid)
}

func TestRefundRestoresChargedMessage(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "starter", 1_000)
	ctx := context.Background()

	res, err := f.svc.ChargeOne(ctx, domain.ChargeOneRequest{AccountID: accountID, Category: plandomain.CategoryMarketing, Message: message("wamid.undelivered")})
	require.NoError(t, err)
	require.True(t, res.Charged)

	used, err := f.quota.DailyUsage(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(1), used)

	req := domain.RefundChargeRequest{
		AccountID:              accountID,
		OriginalIdempotencyKey: messageKeyPrefix + "wamid.undelivered",
		Reason:                 "delivery failed",
	}
	refund, err := f.svc.RefundCharge(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(500), refund.Amount)
	assert.Equal(t, int64(1_000), f.balance(t, accountID))

	assert.Equal(t, int64(0), f.countLogs(t, accountID, domain.MessageStatusCharged))
	assert.Equal(t, int64(1), f.countLogs(t, accountID, domain.MessageStatusRefunded))
	used, err = f.quota.DailyUsage(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)

	again, err := f.svc.RefundCharge(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, refund.ID, again.ID)
	assert.Equal(t, int64(1_000), f.balance(t, accountID))

	logs, err := f.svc.MessageLogs(ctx, accountID, "wamid.undelivered")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].RefundedAt)
}

func TestRefundBatchReleasesEveryMessage(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "starter", 5_000)
	other := f.account(t, "starter", 5_000)
	ctx := context.Background()

	res, err := f.svc.ChargeBatch(ctx, domain.ChargeBatchRequest{
		AccountID: accountID,
		BatchID:   "b-refund",
		Category:  plandomain.CategoryMarketing,
		Messages:  []domain.MessageRecord{message("wamid.r1"), message("wamid.r2"), message("wamid.r3")},
	})
	require.NoError(t, err)
	require.True(t, res.Charged)
	single, err := f.svc.ChargeOne(ctx, domain.ChargeOneRequest{AccountID: accountID, Category: plandomain.CategoryMarketing, Message: message("wamid.kept")})
	require.NoError(t, err)
	require.True(t, single.Charged)
	otherRes, err := f.svc.ChargeOne(ctx, domain.ChargeOneRequest{AccountID: other, Category: plandomain.CategoryMarketing, Message: message("wamid.other")})
	require.NoError(t, err)
	require.True(t, otherRes.Charged)

	_, err = f.svc.RefundCharge(ctx, domain.RefundChargeRequest{
		AccountID:              accountID,
		OriginalIdempotencyKey: batchKeyPrefix + "b-refund",
		Reason:                 "campaign cancelled",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3), f.countLogs(t, accountID, domain.MessageStatusRefunded))
	assert.Equal(t, int64(1), f.countLogs(t, accountID, domain.MessageStatusCharged))
	assert.Equal(t, int64(1), f.countLogs(t, other, domain.MessageStatusCharged))
	monthly, err := f.quota.MonthlyUsage(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), monthly)
	assert.Equal(t, int64(4_500), f.balance(t, accountID))
}

func TestRefundChargeUnknownDebit(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "starter", 1_000)

	_, err := f.svc.RefundCharge(context.Background(), domain.RefundChargeRequest{
		AccountID:              accountID,
		OriginalIdempotencyKey: messageKeyPrefix + "wamid.never",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrEntryNotFound)
	assert.Equal(t, int64(1_000), f.balance(t, accountID))
}

func TestUsageSummary(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "free", 20_000)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := f.svc.ChargeOne(ctx, domain.ChargeOneRequest{AccountID: accountID, Category: plandomain.CategoryService, Message: message(fmt.Sprintf("wamid.s%d", i))})
		require.NoError(t, err)
		require.True(t, res.Charged)
	}

	summary, err := f.svc.UsageSummary(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, "free", summary.PlanCode)
	assert.Equal(t, int64(19_700), summary.Balance)
	assert.Equal(t, string(ledgerdomain.AccountStatusLow), summary.Status)
	assert.Equal(t, int64(3), summary.Daily.Used)
	assert.Equal(t, int64(97), summary.Daily.Remaining)
	assert.Equal(t, int64(997), summary.Monthly.Remaining)
	assert.False(t, summary.Daily.Warning)
}
