package plan

import "testing"

func TestLimitFor(t *testing.T) {
	p := &Plan{
		Name: "Basic",
		Slug: "basic",
		Features: map[FeatureKey]int64{
			FeatureGenerations: 50,
			FeatureDiagnostics: Unlimited,
		},
	}

	tests := []struct {
		name    string
		feature FeatureKey
		want    int64
	}{
		{"present", FeatureGenerations, 50},
		{"unlimited", FeatureDiagnostics, Unlimited},
		{"absent defaults to zero", FeatureFunnelAnalysis, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.LimitFor(tt.feature); got != tt.want {
				t.Errorf("LimitFor(%s): got %d, want %d", tt.feature, got, tt.want)
			}
		})
	}
}

func TestLimitForNilMap(t *testing.T) {
	p := &Plan{Name: "Empty", Slug: "empty"}
	if got := p.LimitFor(FeatureGenerations); got != 0 {
		t.Errorf("LimitFor on nil map: got %d, want 0", got)
	}
}

func TestAllows(t *testing.T) {
	p := &Plan{
		Features: map[FeatureKey]int64{
			FeatureGenerations: 10,
			FeatureDiagnostics: Unlimited,
		},
	}

	tests := []struct {
		name    string
		feature FeatureKey
		usage   int64
		want    bool
	}{
		{"under limit", FeatureGenerations, 9, true},
		{"at limit", FeatureGenerations, 10, false},
		{"over limit", FeatureGenerations, 11, false},
		{"unlimited ignores usage", FeatureDiagnostics, 1 << 40, true},
		{"absent feature", FeatureFunnelAnalysis, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Allows(tt.feature, tt.usage); got != tt.want {
				t.Errorf("Allows(%s, %d): got %v, want %v", tt.feature, tt.usage, got, tt.want)
			}
		})
	}
}

func TestFeatureKeyValid(t *testing.T) {
	for _, key := range KnownFeatures {
		if !key.Valid() {
			t.Errorf("expected %s to be valid", key)
		}
	}
	if FeatureKey("ai_credits").Valid() {
		t.Error("expected unknown key to be invalid")
	}
	if FeatureKey("").Valid() {
		t.Error("expected empty key to be invalid")
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusArchived, StatusDraft} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if Status("deleted").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}
