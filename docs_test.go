package tally_test

import (
	"context"
	"log"
	"log/slog"
	"testing"
	"time"

	tally "github.com/otimizaads/tally"
	"github.com/otimizaads/tally/id"
	"github.com/otimizaads/tally/plan"
	"github.com/otimizaads/tally/store/memory"
	"github.com/otimizaads/tally/subscription"
	"github.com/otimizaads/tally/types"
)

// TestDocumentationExamples verifies that all examples in the documentation compile
func TestDocumentationExamples(t *testing.T) {
	// Test Quick Start example from README
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		// Initialize the core
		core := tally.New(store,
			tally.WithLogger(slog.Default()),
			tally.WithFreePlan("free"),
		)

		// Start the engine
		ctx := context.Background()
		if err := core.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer core.Stop()

		// Create the free fallback plan
		free := &plan.Plan{
			Name: "Free",
			Slug: "free",
			Features: map[plan.FeatureKey]int64{
				plan.FeatureGenerations: 5,
			},
			Price:    types.BRL(0),
			Interval: plan.IntervalMonthly,
		}
		if err := core.CreatePlan(ctx, free); err != nil {
			t.Fatal(err)
		}

		// Create a paid plan
		basic := &plan.Plan{
			Name: "Basic",
			Slug: "basic",
			Features: map[plan.FeatureKey]int64{
				plan.FeatureGenerations: 50,
				plan.FeatureDiagnostics: 10,
			},
			Price:    types.BRL(4900),
			Interval: plan.IntervalMonthly,
		}
		if err := core.CreatePlan(ctx, basic); err != nil {
			t.Fatal(err)
		}

		// A user without a subscription evaluates against the free plan
		d, err := core.Evaluate(ctx, "user_1", plan.FeatureGenerations)
		if err != nil {
			t.Fatal(err)
		}
		if !d.CanUse {
			t.Error("expected free-plan user to be allowed")
		}
		if d.Limit != 5 {
			t.Errorf("expected free-plan limit 5, got %d", d.Limit)
		}

		// Subscribe the user to Basic
		now := time.Now().UTC()
		sub := &subscription.Subscription{
			Entity:             types.NewEntity(),
			ID:                 id.NewSubscriptionID(),
			UserID:             "user_1",
			PlanID:             basic.ID,
			Status:             subscription.StatusActive,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   now.AddDate(0, 1, 0),
			ProviderSubID:      "sub_doc_example",
			ProviderUpdatedAt:  now,
		}
		if err := store.CreateSubscription(ctx, sub); err != nil {
			t.Fatal(err)
		}

		// Gate the billable action, then record it
		d, err = core.Evaluate(ctx, "user_1", plan.FeatureGenerations)
		if err != nil {
			t.Fatal(err)
		}
		if !d.CanUse || d.Limit != 50 {
			t.Errorf("expected Basic entitlement with limit 50, got %+v", d)
		}

		count, err := core.Record(ctx, "user_1", plan.FeatureGenerations, 1)
		if err != nil {
			t.Fatal(err)
		}
		if count != 1 {
			t.Errorf("expected count 1, got %d", count)
		}

		remaining, err := core.Remaining(ctx, "user_1", plan.FeatureGenerations)
		if err != nil {
			t.Fatal(err)
		}
		if remaining != 49 {
			t.Errorf("expected 49 remaining, got %d", remaining)
		}
	})

	// Test Money examples from documentation
	t.Run("MoneyExamples", func(t *testing.T) {
		price := types.BRL(4900) // R$49.00

		if price.Amount != 4900 {
			t.Errorf("expected 4900 centavos, got %d", price.Amount)
		}
		if price.String() != "R$49.00" {
			t.Errorf("expected R$49.00, got %s", price.String())
		}

		yearly := price.Multiply(12)
		if yearly.Amount != 58800 {
			t.Errorf("expected 58800, got %d", yearly.Amount)
		}
	})

	// Test TypeID examples
	t.Run("TypeIDExamples", func(t *testing.T) {
		planID := id.NewPlanID()
		subID := id.NewSubscriptionID()

		if planID.String()[:5] != "plan_" {
			t.Errorf("expected plan_ prefix, got %s", planID.String())
		}
		if subID.String()[:4] != "sub_" {
			t.Errorf("expected sub_ prefix, got %s", subID.String())
		}
	})
}

// Example demonstrating the gate-then-record loop.
func Example() {
	store := memory.New()
	core := tally.New(store, tally.WithFreePlan("free"))

	ctx := context.Background()
	if err := core.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer core.Stop()

	_ = core.CreatePlan(ctx, &plan.Plan{
		Name: "Free",
		Slug: "free",
		Features: map[plan.FeatureKey]int64{
			plan.FeatureGenerations: 5,
		},
	})

	d, _ := core.Evaluate(ctx, "user_42", plan.FeatureGenerations)
	if d.CanUse {
		// run the generation, then:
		_, _ = core.Record(ctx, "user_42", plan.FeatureGenerations, 1)
	}
}
