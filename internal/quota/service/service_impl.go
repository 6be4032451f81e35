package service

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wabaledger/internal/clock"
	"github.com/smallbiznis/wabaledger/internal/config"
	obslogger "github.com/smallbiznis/wabaledger/internal/observability/logger"
	quotadomain "github.com/smallbiznis/wabaledger/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Cache   quotadomain.Cache
	Counter quotadomain.EventCounter
	Clock   clock.Clock `optional:"true"`
	Config  *config.GuardConfigHolder
}

// Service answers usage questions from the cache, falling back to the
// send-event log on a miss. Concurrent misses for one window share a single
// count query. Reads are not serialized with charges; callers invalidate
// after a charge so the next read recounts.
//
// Each account carries a generation that Invalidate bumps. A count only
// populates the cache when the generation it started under is still
// current, so a count racing a charge cannot outlive the invalidation. The
// generation is per process; a shared cache still relies on its TTL for
// counts written by other replicas.
type Service struct {
	log     *zap.Logger
	cache   quotadomain.Cache
	counter quotadomain.EventCounter
	clock   clock.Clock
	cfg     *config.GuardConfigHolder
	flight  singleflight.Group

	genMu       sync.Mutex
	generations map[snowflake.ID]uint64
}

func NewService(p Params) quotadomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		log:     p.Log.Named("quota.service"),
		cache:   p.Cache,
		counter: p.Counter,
		clock:   clk,
		cfg:     p.Config,

		generations: make(map[snowflake.ID]uint64),
	}
}

func (s *Service) DailyUsage(ctx context.Context, accountID snowflake.ID) (int64, error) {
	return s.usage(ctx, accountID, quotadomain.PeriodDay)
}

func (s *Service) MonthlyUsage(ctx context.Context, accountID snowflake.ID) (int64, error) {
	return s.usage(ctx, accountID, quotadomain.PeriodMonth)
}

// Invalidate evicts the current day and month counters for the account.
func (s *Service) Invalidate(ctx context.Context, accountID snowflake.ID) error {
	if accountID == 0 {
		return quotadomain.ErrInvalidAccount
	}
	day, month := s.key(accountID, quotadomain.PeriodDay), s.key(accountID, quotadomain.PeriodMonth)
	// Counts already running keep their result out of the cache, and readers
	// arriving after this point start a fresh count instead of joining them.
	s.bumpGeneration(accountID)
	s.flight.Forget(day.String())
	s.flight.Forget(month.String())
	if err := s.cache.Delete(ctx, day, month); err != nil {
		s.logger(ctx, accountID).Warn("quota cache invalidate failed", zap.Error(err))
		return err
	}
	return nil
}

// Check reports the window usage against limit. A zero limit is unlimited
// and skips the lookup entirely.
func (s *Service) Check(ctx context.Context, accountID snowflake.ID, period quotadomain.Period, limit int64) (quotadomain.Usage, error) {
	if period != quotadomain.PeriodDay && period != quotadomain.PeriodMonth {
		return quotadomain.Usage{}, quotadomain.ErrInvalidPeriod
	}
	key := s.key(accountID, period)
	if limit <= 0 {
		return quotadomain.NewUsage(period, key.Stamp, 0, 0, s.thresholds()), nil
	}
	used, err := s.usage(ctx, accountID, period)
	if err != nil {
		return quotadomain.Usage{}, err
	}
	return quotadomain.NewUsage(period, key.Stamp, used, limit, s.thresholds()), nil
}

func (s *Service) Summary(ctx context.Context, accountID snowflake.ID, dailyLimit, monthlyLimit int64) (quotadomain.Summary, error) {
	daily, err := s.summaryUsage(ctx, accountID, quotadomain.PeriodDay, dailyLimit)
	if err != nil {
		return quotadomain.Summary{}, err
	}
	monthly, err := s.summaryUsage(ctx, accountID, quotadomain.PeriodMonth, monthlyLimit)
	if err != nil {
		return quotadomain.Summary{}, err
	}
	return quotadomain.Summary{AccountID: accountID, Daily: daily, Monthly: monthly}, nil
}

// summaryUsage always reports the count, even for unlimited plans.
func (s *Service) summaryUsage(ctx context.Context, accountID snowflake.ID, period quotadomain.Period, limit int64) (quotadomain.Usage, error) {
	used, err := s.usage(ctx, accountID, period)
	if err != nil {
		return quotadomain.Usage{}, err
	}
	return quotadomain.NewUsage(period, s.key(accountID, period).Stamp, used, limit, s.thresholds()), nil
}

func (s *Service) usage(ctx context.Context, accountID snowflake.ID, period quotadomain.Period) (int64, error) {
	if accountID == 0 {
		return 0, quotadomain.ErrInvalidAccount
	}
	key := s.key(accountID, period)

	count, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger(ctx, accountID).Warn("quota cache read failed", zap.String("key", key.String()), zap.Error(err))
	} else if ok {
		return count, nil
	}

	v, err, _ := s.flight.Do(key.String(), func() (any, error) {
		gen := s.generation(accountID)
		n, err := s.counter.CountCharged(ctx, accountID, period, key.Stamp)
		if err != nil {
			return int64(0), err
		}
		if s.generation(accountID) != gen {
			s.logger(ctx, accountID).Debug("quota count superseded by invalidate", zap.String("key", key.String()))
			return n, nil
		}
		if err := s.cache.Set(ctx, key, n, s.cfg.Get().QuotaCacheTTL); err != nil {
			s.logger(ctx, accountID).Warn("quota cache write failed", zap.String("key", key.String()), zap.Error(err))
			return n, nil
		}
		// Invalidate bumps before it deletes, so an unchanged generation here
		// means any later invalidate deletes this write.
		if s.generation(accountID) != gen {
			if err := s.cache.Delete(ctx, key); err != nil {
				s.logger(ctx, accountID).Warn("quota cache rollback failed", zap.String("key", key.String()), zap.Error(err))
			}
		}
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (s *Service) generation(accountID snowflake.ID) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[accountID]
}

func (s *Service) bumpGeneration(accountID snowflake.ID) {
	s.genMu.Lock()
	s.generations[accountID]++
	s.genMu.Unlock()
}

func (s *Service) logger(ctx context.Context, accountID snowflake.ID) *zap.Logger {
	return obslogger.WithContext(obslogger.WithAccount(ctx, accountID.String()), s.log)
}

func (s *Service) key(accountID snowflake.ID, period quotadomain.Period) quotadomain.CacheKey {
	return quotadomain.CacheKey{
		AccountID: accountID,
		Period:    period,
		Stamp:     period.Stamp(s.clock.Now(), s.cfg.Get().Location()),
	}
}

func (s *Service) thresholds() quotadomain.Thresholds {
	cfg := s.cfg.Get()
	return quotadomain.Thresholds{WarningPercent: cfg.WarningPercent, DangerPercent: cfg.DangerPercent}
}
