package plan

import (
	"github.com/otimizaads/tally/id"
	"github.com/otimizaads/tally/types"
)

// Unlimited is the sentinel limit meaning a feature has no quota.
const Unlimited int64 = -1

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDraft    Status = "draft"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusArchived, StatusDraft:
		return true
	}
	return false
}

// FeatureKey identifies a metered capability of the product. The set is
// closed: a key outside this enumeration is never entitled.
type FeatureKey string

const (
	FeatureGenerations    FeatureKey = "generations"
	FeatureDiagnostics    FeatureKey = "diagnostics"
	FeatureFunnelAnalysis FeatureKey = "funnel_analysis"
)

// KnownFeatures lists every feature key the evaluator recognizes.
var KnownFeatures = []FeatureKey{
	FeatureGenerations,
	FeatureDiagnostics,
	FeatureFunnelAnalysis,
}

func (k FeatureKey) Valid() bool {
	switch k {
	case FeatureGenerations, FeatureDiagnostics, FeatureFunnelAnalysis:
		return true
	}
	return false
}

type Plan struct {
	types.Entity
	ID          id.PlanID             `json:"id"`
	Name        string                `json:"name"`
	Slug        string                `json:"slug"`
	Description string                `json:"description"`
	Status      Status                `json:"status"`
	TrialDays   int                   `json:"trial_days"`
	Features    map[FeatureKey]int64  `json:"features"`
	Price       types.Money           `json:"price"`
	Interval    Interval              `json:"interval"`
	Metadata    map[string]string     `json:"metadata,omitempty"`
}

type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

// LimitFor returns the monthly limit for a feature key. A key absent from
// the plan's feature map resolves to 0: unknown features are denied, never
// defaulted open.
func (p *Plan) LimitFor(key FeatureKey) int64 {
	if p.Features == nil {
		return 0
	}
	limit, ok := p.Features[key]
	if !ok {
		return 0
	}
	return limit
}

// Allows reports whether usage of the feature is permitted at the given
// consumption level.
func (p *Plan) Allows(key FeatureKey, currentUsage int64) bool {
	limit := p.LimitFor(key)
	if limit == Unlimited {
		return true
	}
	return currentUsage < limit
}
