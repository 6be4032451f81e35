package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/wabaledger/internal/audit/domain"
	"github.com/smallbiznis/wabaledger/internal/auditcontext"
	"github.com/smallbiznis/wabaledger/internal/clock"
	"github.com/smallbiznis/wabaledger/internal/config"
	ledgerdomain "github.com/smallbiznis/wabaledger/internal/ledger/domain"
	"github.com/smallbiznis/wabaledger/internal/ledger/lock"
	obslogger "github.com/smallbiznis/wabaledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/wabaledger/internal/observability/metrics"
	"github.com/smallbiznis/wabaledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	refundKeyPrefix       = "refund:"
	referenceLedgerEntry  = "ledger_entry"
	defaultActor          = "system"
	auditActionOpen       = "account.opened"
	auditTargetAccount    = "account"
	auditTargetEntry      = "ledger_entry"
	auditActionAdjustment = "ledger.adjustment"
	auditActionRefund     = "ledger.refund"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       ledgerdomain.Repository
	Locker     lock.Locker
	Clock      clock.Clock
	Config     *config.GuardConfigHolder
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       ledgerdomain.Repository
	locker     lock.Locker
	clock      clock.Clock
	cfg        *config.GuardConfigHolder
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	cfg := p.Config
	if cfg == nil {
		cfg = config.NewStaticGuardConfigHolder(config.DefaultGuardConfig())
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		locker:     p.Locker,
		clock:      clk,
		cfg:        cfg,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) OpenAccount(ctx context.Context, req ledgerdomain.OpenAccountRequest) (*ledgerdomain.Account, error) {
	tenantRef := strings.TrimSpace(req.TenantRef)
	if tenantRef == "" {
		return nil, ledgerdomain.ErrInvalidTenant
	}

	existing, err := s.repo.FindAccountByTenant(ctx, s.db, tenantRef)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.withStatus(existing), nil
	}

	guardCfg := s.cfg.Get()
	planCode := strings.ToLower(strings.TrimSpace(req.PlanCode))
	if planCode == "" {
		planCode = guardCfg.DefaultPlan
	}
	if !planDefined(guardCfg, planCode) {
		return nil, ledgerdomain.ErrUnknownPlan
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = guardCfg.Currency
	}

	now := s.clock.Now().UTC()
	account := &ledgerdomain.Account{
		ID:        s.genID.Generate(),
		TenantRef: tenantRef,
		PlanCode:  planCode,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateAccount(ctx, s.db, account); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Lost an onboarding race for the same tenant.
			existing, findErr := s.repo.FindAccountByTenant(ctx, s.db, tenantRef)
			if findErr == nil && existing != nil {
				return s.withStatus(existing), nil
			}
		}
		return nil, err
	}

	s.logger(ctx, account.ID).Info("account opened",
		zap.String("tenant_ref", tenantRef),
		zap.String("plan_code", planCode),
	)
	s.audit(ctx, account.ID, "", auditActionOpen, auditTargetAccount, account.ID.String(), map[string]any{
		"tenant_ref": tenantRef,
		"plan_code":  planCode,
		"currency":   currency,
	})
	return s.withStatus(account), nil
}

func (s *Service) GetAccount(ctx context.Context, accountID snowflake.ID) (*ledgerdomain.Account, error) {
	if accountID == 0 {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	account, err := s.repo.FindAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	return s.withStatus(account), nil
}

func (s *Service) ListAccountIDs(ctx context.Context, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	return s.repo.ListAccountIDs(ctx, s.db, afterID, limit)
}

// GetBalance reads the latest entry's snapshot; an account without entries has a zero balance.
func (s *Service) GetBalance(ctx context.Context, accountID snowflake.ID) (int64, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return 0, err
	}
	latest, err := s.repo.LatestEntry(ctx, s.db, accountID)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, nil
	}
	return latest.BalanceAfter, nil
}

func (s *Service) RecordCredit(ctx context.Context, req ledgerdomain.CreditRequest) (*ledgerdomain.LedgerEntry, error) {
	if req.AccountID == 0 {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	entryType := req.EntryType
	if entryType == "" {
		entryType = ledgerdomain.EntryTypeTopup
	}
	if entryType != ledgerdomain.EntryTypeTopup {
		return nil, ledgerdomain.ErrInvalidEntryType
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	entry, created, err := s.apply(ctx, req.AccountID, &mutation{
		entryType: entryType,
		direction: ledgerdomain.DirectionCredit,
		amount:    req.Amount,
		key:       normalizeKey(req.IdempotencyKey),
		reference: req.Reference,
		actor:     s.resolveActor(ctx, req.Actor),
		metadata:  req.Metadata,
		onExisting: func(existing *ledgerdomain.LedgerEntry) (*ledgerdomain.LedgerEntry, error) {
			return existing, nil
		},
	})
	if err != nil {
		return nil, err
	}
	if !created {
		s.logger(ctx, req.AccountID).Info("credit already recorded",
			zap.String("entry_id", entry.ID.String()),
		)
	}
	return entry, nil
}

func (s *Service) RecordDebit(ctx context.Context, req ledgerdomain.DebitRequest) (*ledgerdomain.LedgerEntry, error) {
	if req.AccountID == 0 {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	entryType := req.EntryType
	if entryType == "" {
		entryType = ledgerdomain.EntryTypeMessageDebit
	}
	if entryType != ledgerdomain.EntryTypeMessageDebit {
		return nil, ledgerdomain.ErrInvalidEntryType
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	key := normalizeKey(req.IdempotencyKey)
	if key == nil {
		return nil, ledgerdomain.ErrIdempotencyKeyRequired
	}

	entry, _, err := s.apply(ctx, req.AccountID, &mutation{
		entryType: entryType,
		direction: ledgerdomain.DirectionDebit,
		amount:    req.Amount,
		key:       key,
		reference: req.Reference,
		actor:     s.resolveActor(ctx, req.Actor),
		metadata:  req.Metadata,
		withinTx:  req.WithinTx,
		onExisting: func(*ledgerdomain.LedgerEntry) (*ledgerdomain.LedgerEntry, error) {
			return nil, ledgerdomain.ErrDuplicateTransaction
		},
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) RecordRefund(ctx context.Context, req ledgerdomain.RefundRequest) (*ledgerdomain.LedgerEntry, error) {
	if req.AccountID == 0 {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	originalKey := normalizeKey(req.OriginalIdempotencyKey)
	if originalKey == nil {
		return nil, ledgerdomain.ErrIdempotencyKeyRequired
	}
	refundKey := refundKeyPrefix + *originalKey
	reason := strings.TrimSpace(req.Reason)

	m := &mutation{
		entryType: ledgerdomain.EntryTypeRefund,
		direction: ledgerdomain.DirectionCredit,
		key:       &refundKey,
		actor:     s.resolveActor(ctx, req.Actor),
		reason:    reason,
		metadata:  req.Metadata,
		withinTx:  req.WithinTx,
		onExisting: func(existing *ledgerdomain.LedgerEntry) (*ledgerdomain.LedgerEntry, error) {
			return existing, nil
		},
	}
	m.prepare = func(ctx context.Context, tx *gorm.DB) error {
		original, err := s.repo.FindEntryByKey(ctx, tx, ledgerdomain.EntryTypeMessageDebit, *originalKey)
		if err != nil {
			return err
		}
		if original == nil || original.AccountID != req.AccountID {
			return ledgerdomain.ErrEntryNotFound
		}
		m.amount = original.Amount
		m.reference = &ledgerdomain.Reference{Type: referenceLedgerEntry, ID: original.ID.String()}
		return nil
	}

	entry, created, err := s.apply(ctx, req.AccountID, m)
	if err != nil {
		return nil, err
	}
	if created {
		s.audit(ctx, req.AccountID, entry.Actor, auditActionRefund, auditTargetEntry, entry.ID.String(), map[string]any{
			"amount":          entry.Amount,
			"original_key":    *originalKey,
			"original_entry":  derefString(entry.ReferenceID),
			"reason":          reason,
			"balance_after":   entry.BalanceAfter,
			"idempotency_key": refundKey,
		})
	}
	return entry, nil
}

func (s *Service) RecordAdjustment(ctx context.Context, req ledgerdomain.AdjustmentRequest) (*ledgerdomain.LedgerEntry, error) {
	if req.AccountID == 0 {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, ledgerdomain.ErrReasonRequired
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		return nil, ledgerdomain.ErrActorRequired
	}

	direction := ledgerdomain.DirectionDebit
	if req.IsCredit {
		direction = ledgerdomain.DirectionCredit
	}

	entry, _, err := s.apply(ctx, req.AccountID, &mutation{
		entryType:     ledgerdomain.EntryTypeAdjustment,
		direction:     direction,
		amount:        req.Amount,
		actor:         actor,
		reason:        reason,
		metadata:      req.Metadata,
		allowNegative: true,
	})
	if err != nil {
		return nil, err
	}

	if entry.BalanceAfter < 0 {
		s.logger(ctx, req.AccountID).Warn("adjustment drove balance negative",
			zap.String("entry_id", entry.ID.String()),
			zap.String("actor", actor),
		)
	}
	s.audit(ctx, req.AccountID, actor, auditActionAdjustment, auditTargetEntry, entry.ID.String(), map[string]any{
		"amount":        entry.Amount,
		"direction":     string(direction),
		"reason":        reason,
		"balance_after": entry.BalanceAfter,
	})
	return entry, nil
}

func planDefined(cfg config.GuardConfig, code string) bool {
	for _, plan := range cfg.Plans {
		if strings.EqualFold(strings.TrimSpace(plan.Code), code) {
			return true
		}
	}
	return false
}

func (s *Service) withStatus(account *ledgerdomain.Account) *ledgerdomain.Account {
	cfg := s.cfg.Get()
	account.Status = ledgerdomain.DeriveStatus(account.AvailableBalance, cfg.LowBalance, cfg.CriticalBalance)
	return account
}

func (s *Service) resolveActor(ctx context.Context, actor string) string {
	actor = strings.TrimSpace(actor)
	if actor != "" {
		return actor
	}
	if actorType, actorID := auditcontext.ActorFromContext(ctx); actorType != "" {
		if actorID != "" {
			return actorType + ":" + actorID
		}
		return actorType
	}
	return defaultActor
}

func (s *Service) audit(ctx context.Context, accountID snowflake.ID, actor, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	event := auditdomain.Event{
		AccountID:  accountID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
	}
	if actor != "" && actor != defaultActor {
		event.ActorType = auditdomain.ActorTypeAdmin
		event.ActorID = actor
	}
	if err := s.auditSvc.Record(ctx, event); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("failed to write ledger audit log", zap.String("action", action), zap.Error(err))
	}
}

func normalizeKey(key string) *string {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return &key
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func toJSONMap(metadata map[string]any) datatypes.JSONMap {
	if len(metadata) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(metadata))
	for key, value := range metadata {
		if strings.TrimSpace(key) == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func (s *Service) logger(ctx context.Context, accountID snowflake.ID) *zap.Logger {
	return obslogger.WithContext(obslogger.WithAccount(ctx, accountID.String()), s.log)
}
