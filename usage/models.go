// Package usage stores per-user, per-feature, per-period consumption
// counters. Counters only ever increase within a period; a new period
// starts at zero by virtue of a fresh key.
package usage

import (
	"time"

	"github.com/otimizaads/tally/plan"
	"github.com/otimizaads/tally/types"
)

type Counter struct {
	types.Entity
	UserID      string          `json:"user_id"`
	Feature     plan.FeatureKey `json:"feature"`
	PeriodStart time.Time       `json:"period_start"`
	Count       int64           `json:"count"`
}

// PeriodStart truncates t to the first instant of its calendar month, UTC.
// Every counter row for a given month shares this key, and quota resets are
// implicit: next month's key has no row yet.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
