package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodStampUsesLocation(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*60*60)
	at := time.Date(2026, 3, 31, 18, 30, 0, 0, time.UTC)

	assert.Equal(t, "2026-03-31", PeriodDay.Stamp(at, time.UTC))
	assert.Equal(t, "2026-04-01", PeriodDay.Stamp(at, jakarta))
	assert.Equal(t, "2026-04", PeriodMonth.Stamp(at, jakarta))
	assert.Equal(t, "2026-03", MonthKey(at, nil))
}

func TestNewUsageThresholds(t *testing.T) {
	th := Thresholds{WarningPercent: 80, DangerPercent: 95}

	u := NewUsage(PeriodDay, "2026-03-10", 79, 100, th)
	assert.False(t, u.Warning)
	assert.Equal(t, int64(21), u.Remaining)

	u = NewUsage(PeriodDay, "2026-03-10", 80, 100, th)
	assert.True(t, u.Warning)
	assert.False(t, u.Danger)

	u = NewUsage(PeriodDay, "2026-03-10", 120, 100, th)
	assert.True(t, u.Danger)
	assert.Equal(t, int64(0), u.Remaining)
	assert.False(t, u.Allows(1))
}

func TestUnlimitedUsageAlwaysAllows(t *testing.T) {
	u := NewUsage(PeriodMonth, "2026-03", 0, 0, Thresholds{WarningPercent: 80, DangerPercent: 95})
	assert.True(t, u.Unlimited)
	assert.True(t, u.Allows(1_000_000))
	assert.False(t, u.Warning)
}
