package entitlement

import "github.com/otimizaads/tally/plan"

// Reason explains a Decision in machine-readable form.
const (
	ReasonWithinLimit      = "within_limit"
	ReasonUnlimited        = "unlimited"
	ReasonLimitReached     = "limit_reached"
	ReasonFeatureNotInPlan = "feature_not_in_plan"
	ReasonUnknownFeature   = "unknown_feature"
)

// Decision is the outcome of an entitlement check. Remaining is -1 for
// unlimited features and never negative otherwise.
type Decision struct {
	CanUse       bool            `json:"can_use"`
	Feature      plan.FeatureKey `json:"feature"`
	CurrentUsage int64           `json:"current_usage"`
	Limit        int64           `json:"limit"`
	Remaining    int64           `json:"remaining"`
	Reason       string          `json:"reason,omitempty"`
}

// Evaluate derives a Decision from a plan's limit for a feature and the
// usage already consumed this period. It is pure: all I/O happens before
// this point.
func Evaluate(p *plan.Plan, feature plan.FeatureKey, used int64) Decision {
	limit := p.LimitFor(feature)
	d := Decision{
		Feature:      feature,
		CurrentUsage: used,
		Limit:        limit,
	}
	switch {
	case limit == plan.Unlimited:
		d.CanUse = true
		d.Remaining = plan.Unlimited
		d.Reason = ReasonUnlimited
	case limit == 0:
		d.CanUse = false
		d.Remaining = 0
		d.Reason = ReasonFeatureNotInPlan
	case used < limit:
		d.CanUse = true
		d.Remaining = limit - used
		d.Reason = ReasonWithinLimit
	default:
		d.CanUse = false
		d.Remaining = 0
		d.Reason = ReasonLimitReached
	}
	return d
}
