package entitlement

import (
	"testing"

	"github.com/otimizaads/tally/plan"
)

func TestEvaluate(t *testing.T) {
	basic := &plan.Plan{
		Name: "Basic",
		Slug: "basic",
		Features: map[plan.FeatureKey]int64{
			plan.FeatureGenerations: 50,
			plan.FeatureDiagnostics: 0,
		},
	}
	premium := &plan.Plan{
		Name: "Premium",
		Slug: "premium",
		Features: map[plan.FeatureKey]int64{
			plan.FeatureGenerations: plan.Unlimited,
		},
	}

	tests := []struct {
		name      string
		plan      *plan.Plan
		feature   plan.FeatureKey
		used      int64
		canUse    bool
		remaining int64
		reason    string
	}{
		{"fresh period", basic, plan.FeatureGenerations, 0, true, 50, ReasonWithinLimit},
		{"mid period", basic, plan.FeatureGenerations, 49, true, 1, ReasonWithinLimit},
		{"limit reached", basic, plan.FeatureGenerations, 50, false, 0, ReasonLimitReached},
		{"over limit", basic, plan.FeatureGenerations, 51, false, 0, ReasonLimitReached},
		{"explicit zero limit", basic, plan.FeatureDiagnostics, 0, false, 0, ReasonFeatureNotInPlan},
		{"feature absent from plan", basic, plan.FeatureFunnelAnalysis, 3, false, 0, ReasonFeatureNotInPlan},
		{"unlimited", premium, plan.FeatureGenerations, 1_000_000, true, plan.Unlimited, ReasonUnlimited},
		{"unlimited at zero", premium, plan.FeatureGenerations, 0, true, plan.Unlimited, ReasonUnlimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.plan, tt.feature, tt.used)
			if d.CanUse != tt.canUse {
				t.Errorf("CanUse: got %v, want %v", d.CanUse, tt.canUse)
			}
			if d.Remaining != tt.remaining {
				t.Errorf("Remaining: got %d, want %d", d.Remaining, tt.remaining)
			}
			if d.Reason != tt.reason {
				t.Errorf("Reason: got %s, want %s", d.Reason, tt.reason)
			}
			if d.CurrentUsage != tt.used {
				t.Errorf("CurrentUsage: got %d, want %d", d.CurrentUsage, tt.used)
			}
			if d.Feature != tt.feature {
				t.Errorf("Feature: got %s, want %s", d.Feature, tt.feature)
			}
		})
	}
}

func TestEvaluateNilFeatureMap(t *testing.T) {
	p := &plan.Plan{Name: "Empty", Slug: "empty"}

	d := Evaluate(p, plan.FeatureGenerations, 0)
	if d.CanUse {
		t.Error("expected plan with no features to deny everything")
	}
	if d.Reason != ReasonFeatureNotInPlan {
		t.Errorf("Reason: got %s, want %s", d.Reason, ReasonFeatureNotInPlan)
	}
}

func TestEvaluateReportsUsageTransparently(t *testing.T) {
	// A denied check still reports the usage that was actually consumed.
	p := &plan.Plan{Name: "Empty", Slug: "empty"}

	d := Evaluate(p, plan.FeatureGenerations, 7)
	if d.CurrentUsage != 7 {
		t.Errorf("CurrentUsage: got %d, want 7", d.CurrentUsage)
	}
}
