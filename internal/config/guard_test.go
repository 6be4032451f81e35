package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultGuardConfigIsValid(t *testing.T) {
	assert.NoError(t, ValidateGuardConfig(DefaultGuardConfig()))
}

func TestValidateGuardConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GuardConfig)
	}{
		{"danger below warning", func(c *GuardConfig) { c.DangerPercent = 50 }},
		{"zero price", func(c *GuardConfig) { c.Prices["marketing"] = 0 }},
		{"unknown default plan", func(c *GuardConfig) { c.DefaultPlan = "enterprise" }},
		{"duplicate plan", func(c *GuardConfig) { c.Plans = append(c.Plans, c.Plans[0]) }},
		{"negative ttl", func(c *GuardConfig) { c.QuotaCacheTTL = -time.Second }},
		{"critical above low", func(c *GuardConfig) { c.CriticalBalance = c.LowBalance + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultGuardConfig()
			tt.mutate(&cfg)
			assert.Error(t, ValidateGuardConfig(cfg))
		})
	}
}

func TestGuardConfigLocationFallsBackToUTC(t *testing.T) {
	cfg := DefaultGuardConfig()
	cfg.Timezone = "Not/AZone"
	assert.Equal(t, time.UTC, cfg.Location())

	cfg.Timezone = ""
	assert.Equal(t, time.UTC, cfg.Location())
}
