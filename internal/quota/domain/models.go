package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Period is a quota window.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

const (
	dayStampLayout   = "2006-01-02"
	monthStampLayout = "2006-01"
)

// Stamp formats t as the window key for the period in loc.
func (p Period) Stamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	switch p {
	case PeriodMonth:
		return t.In(loc).Format(monthStampLayout)
	default:
		return t.In(loc).Format(dayStampLayout)
	}
}

// DayKey and MonthKey are the window keys stored alongside each send event.
func DayKey(t time.Time, loc *time.Location) string   { return PeriodDay.Stamp(t, loc) }
func MonthKey(t time.Time, loc *time.Location) string { return PeriodMonth.Stamp(t, loc) }

// CacheKey identifies one cached counter.
type CacheKey struct {
	AccountID snowflake.ID
	Period    Period
	Stamp     string
}

func (k CacheKey) String() string {
	return fmt.Sprintf("quota:%s:%s:%s", k.AccountID.String(), k.Period, k.Stamp)
}

// Usage is the state of one window against a plan ceiling. Limit zero means
// unlimited, in which case Used is not looked up.
type Usage struct {
	Period    Period  `json:"period"`
	Stamp     string  `json:"stamp"`
	Used      int64   `json:"used"`
	Limit     int64   `json:"limit"`
	Remaining int64   `json:"remaining"`
	Percent   float64 `json:"percent"`
	Unlimited bool    `json:"unlimited"`
	Warning   bool    `json:"warning"`
	Danger    bool    `json:"danger"`
}

// Thresholds are UI-only warning/danger percentages.
type Thresholds struct {
	WarningPercent float64
	DangerPercent  float64
}

// NewUsage derives remaining quota and display flags.
func NewUsage(period Period, stamp string, used, limit int64, th Thresholds) Usage {
	u := Usage{Period: period, Stamp: stamp, Used: used, Limit: limit}
	if limit <= 0 {
		u.Unlimited = true
		u.Limit = 0
		return u
	}
	u.Remaining = limit - used
	if u.Remaining < 0 {
		u.Remaining = 0
	}
	u.Percent = float64(used) * 100 / float64(limit)
	u.Warning = u.Percent >= th.WarningPercent
	u.Danger = u.Percent >= th.DangerPercent
	return u
}

// Allows reports whether requested more sends fit in the window.
func (u Usage) Allows(requested int64) bool {
	if u.Unlimited {
		return true
	}
	return u.Used+requested <= u.Limit
}

// Summary is the per-account usage view for dashboards.
type Summary struct {
	AccountID snowflake.ID `json:"account_id"`
	Daily     Usage        `json:"daily"`
	Monthly   Usage        `json:"monthly"`
}
