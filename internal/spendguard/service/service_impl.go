package service

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wabaledger/internal/clock"
	"github.com/smallbiznis/wabaledger/internal/config"
	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
	obslogger "github.com/smallbiznis/wabaledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/wabaledger/internal/observability/metrics"
	plandomain "github.com/smallbiznis/wabaledger/internal/plan/domain"
	quotadomain "github.com/smallbiznis/wabaledger/internal/quota/domain"
	"github.com/smallbiznis/wabaledger/internal/spendguard/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	messageKeyPrefix = "msg:"
	batchKeyPrefix   = "batch:"
	referenceMessage = "message"
	referenceBatch   = "message_batch"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Ledger     ledgerdomain.Service
	Quota      quotadomain.Service
	Plans      plandomain.Service
	Clock      clock.Clock `optional:"true"`
	Config     *config.GuardConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	ledger     ledgerdomain.Service
	quota      quotadomain.Service
	plans      plandomain.Service
	clock      clock.Clock
	cfg        *config.GuardConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("spendguard.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		ledger:     p.Ledger,
		quota:      p.Quota,
		plans:      p.Plans,
		clock:      clk,
		cfg:        p.Config,
		obsMetrics: p.ObsMetrics,
	}
}

// PreSendCheck is advisory and read-only. It runs the feature gate, the
// daily and monthly quota and finally the balance check, stopping at the
// first denial.
func (s *Service) PreSendCheck(ctx context.Context, req domain.PreSendCheckRequest) (domain.Decision, error) {
	if req.AccountID == 0 {
		return domain.Decision{}, domain.ErrInvalidAccount
	}
	if req.MessageCount <= 0 {
		return domain.Decision{}, domain.ErrInvalidMessageCount
	}

	details := domain.Details{
		Feature:      plandomain.Feature(strings.ToLower(strings.TrimSpace(string(req.Feature)))),
		Category:     plandomain.NormalizeCategory(req.Category),
		MessageCount: req.MessageCount,
	}
	if details.Feature == "" {
		return domain.Decision{}, domain.ErrFeatureRequired
	}

	_, plan, err := s.resolve(ctx, req.AccountID)
	if errors.Is(err, ledgerdomain.ErrAccountNotFound) {
		return s.deny(ctx, req.AccountID, domain.ReasonWalletNotFound, details), nil
	}
	if err != nil {
		return domain.Decision{}, err
	}

	if !plan.Allows(details.Feature) {
		return s.deny(ctx, req.AccountID, domain.ReasonFeatureNotIncluded, details), nil
	}

	daily, err := s.quota.Check(ctx, req.AccountID, quotadomain.PeriodDay, plan.DailyLimit)
	if err != nil {
		return domain.Decision{}, err
	}
	details.DailyUsed, details.DailyLimit, details.DailyRemaining = daily.Used, daily.Limit, daily.Remaining
	if !daily.Allows(req.MessageCount) {
		return s.deny(ctx, req.AccountID, domain.ReasonLimitDaily, details), nil
	}

	monthly, err := s.quota.Check(ctx, req.AccountID, quotadomain.PeriodMonth, plan.MonthlyLimit)
	if err != nil {
		return domain.Decision{}, err
	}
	details.MonthlyUsed, details.MonthlyLimit, details.MonthlyRemaining = monthly.Used, monthly.Limit, monthly.Remaining
	if !monthly.Allows(req.MessageCount) {
		return s.deny(ctx, req.AccountID, domain.ReasonLimitMonthly, details), nil
	}

	price, err := plan.UnitPrice(details.Category)
	if err != nil {
		return domain.Decision{}, err
	}
	cost, err := totalCost(price, req.MessageCount)
	if err != nil {
		return domain.Decision{}, err
	}
	details.UnitPrice, details.Cost = price, cost

	balance, err := s.ledger.GetBalance(ctx, req.AccountID)
	if err != nil {
		return domain.Decision{}, err
	}
	details.BalanceBefore = balance
	details.BalanceAfter = balance
	if balance < cost {
		details.Shortfall = cost - balance
		return s.deny(ctx, req.AccountID, domain.ReasonInsufficientBalance, details), nil
	}
	details.BalanceAfter = balance - cost

	return domain.Decision{Allowed: true, Details: details}, nil
}

// EstimateCost prices messageCount messages at the catalogue default.
func (s *Service) EstimateCost(messageCount int64, category plandomain.Category) (int64, error) {
	if messageCount <= 0 {
		return 0, domain.ErrInvalidMessageCount
	}
	price, err := s.plans.DefaultUnitPrice(category)
	if err != nil {
		return 0, err
	}
	return totalCost(price, messageCount)
}

func (s *Service) UsageSummary(ctx context.Context, accountID snowflake.ID) (domain.UsageSummary, error) {
	account, plan, err := s.resolve(ctx, accountID)
	if err != nil {
		return domain.UsageSummary{}, err
	}
	summary, err := s.quota.Summary(ctx, accountID, plan.DailyLimit, plan.MonthlyLimit)
	if err != nil {
		return domain.UsageSummary{}, err
	}
	balance, err := s.ledger.GetBalance(ctx, accountID)
	if err != nil {
		return domain.UsageSummary{}, err
	}
	return domain.UsageSummary{
		AccountID: accountID,
		PlanCode:  plan.Code,
		Currency:  account.Currency,
		Balance:   balance,
		Status:    string(account.Status),
		Daily:     toWindow(summary.Daily),
		Monthly:   toWindow(summary.Monthly),
	}, nil
}

func (s *Service) MessageLogs(ctx context.Context, accountID snowflake.ID, messageID string) ([]domain.MessageLog, error) {
	if accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, domain.ErrMessageIDRequired
	}
	return s.repo.ListByMessageID(ctx, s.db, accountID, messageID)
}

func (s *Service) resolve(ctx context.Context, accountID snowflake.ID) (*ledgerdomain.Account, plandomain.Plan, error) {
	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, plandomain.Plan{}, err
	}
	plan, err := s.plans.Get(ctx, account.PlanCode)
	if err != nil {
		return nil, plandomain.Plan{}, err
	}
	return account, plan, nil
}

func (s *Service) deny(ctx context.Context, accountID snowflake.ID, reason domain.ReasonCode, details domain.Details) domain.Decision {
	s.obsMetrics.RecordDenial(ctx, string(reason))
	s.logger(ctx, accountID).Info("send denied",
		zap.String("reason", string(reason)),
		zap.Int64("message_count", details.MessageCount),
	)
	return domain.Decision{Allowed: false, Reason: reason, Details: details}
}

func totalCost(price, count int64) (int64, error) {
	if count <= 0 {
		return 0, domain.ErrInvalidMessageCount
	}
	if price > 0 && count > math.MaxInt64/price {
		return 0, domain.ErrInvalidMessageCount
	}
	return price * count, nil
}

func toWindow(u quotadomain.Usage) domain.UsageWindow {
	return domain.UsageWindow{
		Used:      u.Used,
		Limit:     u.Limit,
		Remaining: u.Remaining,
		Percent:   u.Percent,
		Unlimited: u.Unlimited,
		Warning:   u.Warning,
		Danger:    u.Danger,
	}
}

func (s *Service) logger(ctx context.Context, accountID snowflake.ID) *zap.Logger {
	return obslogger.WithContext(obslogger.WithAccount(ctx, accountID.String()), s.log)
}
