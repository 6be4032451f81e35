package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/wabaledger/internal/config"
	plandomain "github.com/smallbiznis/wabaledger/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Config *config.GuardConfigHolder
}

// Service resolves plans from the hot-reloadable guard config on every call.
type Service struct {
	log *zap.Logger
	cfg *config.GuardConfigHolder
}

func NewService(p Params) plandomain.Service {
	return &Service{
		log: p.Log.Named("plan.service"),
		cfg: p.Config,
	}
}

func (s *Service) Get(ctx context.Context, code string) (plandomain.Plan, error) {
	cfg := s.cfg.Get()
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		code = strings.ToLower(strings.TrimSpace(cfg.DefaultPlan))
	}
	for _, item := range cfg.Plans {
		if strings.ToLower(strings.TrimSpace(item.Code)) == code {
			return resolve(cfg, item), nil
		}
	}
	s.log.Warn("plan not found", zap.String("plan_code", code))
	return plandomain.Plan{}, plandomain.ErrPlanNotFound
}

func (s *Service) Default(ctx context.Context) (plandomain.Plan, error) {
	return s.Get(ctx, "")
}

func (s *Service) DefaultUnitPrice(category plandomain.Category) (int64, error) {
	price, ok := s.cfg.Get().Prices[string(plandomain.NormalizeCategory(category))]
	if !ok || price <= 0 {
		return 0, plandomain.ErrUnknownCategory
	}
	return price, nil
}

func (s *Service) List(ctx context.Context) ([]plandomain.Plan, error) {
	cfg := s.cfg.Get()
	out := make([]plandomain.Plan, 0, len(cfg.Plans))
	for _, item := range cfg.Plans {
		out = append(out, resolve(cfg, item))
	}
	return out, nil
}

func resolve(cfg config.GuardConfig, item config.PlanConfig) plandomain.Plan {
	features := make(map[plandomain.Feature]bool, len(item.Features))
	for _, f := range item.Features {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		features[plandomain.Feature(f)] = true
	}

	prices := make(map[plandomain.Category]int64, len(cfg.Prices))
	for category, price := range cfg.Prices {
		prices[plandomain.NormalizeCategory(plandomain.Category(category))] = price
	}
	for category, price := range item.Prices {
		prices[plandomain.NormalizeCategory(plandomain.Category(category))] = price
	}

	return plandomain.Plan{
		Code:         strings.ToLower(strings.TrimSpace(item.Code)),
		Name:         item.Name,
		Features:     features,
		DailyLimit:   item.DailyLimit,
		MonthlyLimit: item.MonthlyLimit,
		Prices:       prices,
	}
}
