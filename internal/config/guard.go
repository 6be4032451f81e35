package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// GuardConfig carries the spend-guard tunables and the plan catalogue.
type GuardConfig struct {
	Currency           string           `mapstructure:"currency"`
	Timezone           string           `mapstructure:"timezone"`
	WarningPercent     float64          `mapstructure:"warningPercent"`
	DangerPercent      float64          `mapstructure:"dangerPercent"`
	QuotaCacheTTL      time.Duration    `mapstructure:"quotaCacheTTL"`
	LowBalance         int64            `mapstructure:"lowBalance"`
	CriticalBalance    int64            `mapstructure:"criticalBalance"`
	IntegrityTolerance int64            `mapstructure:"integrityTolerance"`
	Prices             map[string]int64 `mapstructure:"prices"`
	DefaultPlan        string           `mapstructure:"defaultPlan"`
	Plans              []PlanConfig     `mapstructure:"plans"`
}

// PlanConfig is one plan definition. A limit of zero means unlimited.
type PlanConfig struct {
	Code         string           `mapstructure:"code"`
	Name         string           `mapstructure:"name"`
	Features     []string         `mapstructure:"features"`
	DailyLimit   int64            `mapstructure:"dailyLimit"`
	MonthlyLimit int64            `mapstructure:"monthlyLimit"`
	Prices       map[string]int64 `mapstructure:"prices"`
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Currency:           "idr",
		Timezone:           "UTC",
		WarningPercent:     80,
		DangerPercent:      95,
		QuotaCacheTTL:      5 * time.Minute,
		LowBalance:         50_000,
		CriticalBalance:    10_000,
		IntegrityTolerance: 0,
		Prices: map[string]int64{
			"marketing":      500,
			"utility":        250,
			"authentication": 300,
			"service":        100,
		},
		DefaultPlan: "free",
		Plans: []PlanConfig{
			{Code: "free", Name: "Free", Features: []string{"inbox_reply"}, DailyLimit: 100, MonthlyLimit: 1_000},
			{Code: "starter", Name: "Starter", Features: []string{"inbox_reply", "broadcast", "api"}, DailyLimit: 1_000, MonthlyLimit: 20_000},
			{Code: "business", Name: "Business", Features: []string{"inbox_reply", "broadcast", "api", "chatbot"}},
		},
	}
}

// Location resolves the timezone used for day/month quota windows.
func (c GuardConfig) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil || strings.TrimSpace(c.Timezone) == "" {
		return time.UTC
	}
	return loc
}

type GuardConfigHolder struct {
	current atomic.Value // holds GuardConfig
}

// NewStaticGuardConfigHolder wraps a fixed config, mostly for tests.
func NewStaticGuardConfigHolder(cfg GuardConfig) *GuardConfigHolder {
	holder := &GuardConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewGuardConfigHolder() (*GuardConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("guard")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/wabaledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("WABALEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultGuardConfig()
	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	cfg := defaults
	if fileLoaded {
		if err := v.UnmarshalKey("guard", &cfg); err != nil {
			return nil, err
		}
	}
	if err := ValidateGuardConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticGuardConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultGuardConfig()
		if err := v.UnmarshalKey("guard", &updated); err != nil {
			zap.L().Warn("guard config reload failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if err := ValidateGuardConfig(updated); err != nil {
			zap.L().Warn("invalid guard config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.Store(updated)
		zap.L().Info("guard config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *GuardConfigHolder) Get() GuardConfig {
	return h.current.Load().(GuardConfig)
}

// Store swaps the active config.
func (h *GuardConfigHolder) Store(cfg GuardConfig) {
	h.current.Store(cfg)
}

func ValidateGuardConfig(cfg GuardConfig) error {
	if cfg.WarningPercent <= 0 || cfg.WarningPercent > 100 {
		return errors.New("guard.warningPercent must be within (0, 100]")
	}
	if cfg.DangerPercent < cfg.WarningPercent || cfg.DangerPercent > 100 {
		return errors.New("guard.dangerPercent must be within [warningPercent, 100]")
	}
	if cfg.QuotaCacheTTL < 0 {
		return errors.New("guard.quotaCacheTTL cannot be negative")
	}
	if cfg.IntegrityTolerance < 0 {
		return errors.New("guard.integrityTolerance cannot be negative")
	}
	if cfg.CriticalBalance > cfg.LowBalance {
		return errors.New("guard.criticalBalance cannot exceed guard.lowBalance")
	}
	if len(cfg.Prices) == 0 {
		return errors.New("guard.prices cannot be empty")
	}
	for category, price := range cfg.Prices {
		if price <= 0 {
			return fmt.Errorf("guard.prices.%s must be positive", category)
		}
	}
	if len(cfg.Plans) == 0 {
		return errors.New("guard.plans cannot be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Plans))
	for _, plan := range cfg.Plans {
		code := strings.TrimSpace(plan.Code)
		if code == "" {
			return errors.New("guard.plans[].code is required")
		}
		if _, dup := seen[code]; dup {
			return fmt.Errorf("duplicate plan code %q", code)
		}
		seen[code] = struct{}{}
		if plan.DailyLimit < 0 || plan.MonthlyLimit < 0 {
			return fmt.Errorf("plan %q limits cannot be negative", code)
		}
		for category, price := range plan.Prices {
			if price <= 0 {
				return fmt.Errorf("plan %q price for %s must be positive", code, category)
			}
		}
	}
	if _, ok := seen[strings.TrimSpace(cfg.DefaultPlan)]; !ok {
		return fmt.Errorf("default plan %q is not defined", cfg.DefaultPlan)
	}
	return nil
}
