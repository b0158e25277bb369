package tally_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tally "github.com/otimizaads/tally"
	"github.com/otimizaads/tally/audit"
	"github.com/otimizaads/tally/entitlement"
	"github.com/otimizaads/tally/id"
	"github.com/otimizaads/tally/plan"
	"github.com/otimizaads/tally/provider"
	"github.com/otimizaads/tally/store/memory"
	"github.com/otimizaads/tally/subscription"
	"github.com/otimizaads/tally/types"
)

func newTestCore(t *testing.T, opts ...tally.Option) (*tally.Core, *memory.Store) {
	t.Helper()

	st := memory.New()
	core := tally.New(st, opts...)
	require.NoError(t, core.Start(context.Background()))
	t.Cleanup(func() { _ = core.Stop() })
	return core, st
}

func createPlan(t *testing.T, core *tally.Core, name, slug string, features map[plan.FeatureKey]int64) *plan.Plan {
	t.Helper()

	p := &plan.Plan{
		Name:     name,
		Slug:     slug,
		Features: features,
		Price:    types.BRL(4900),
		Interval: plan.IntervalMonthly,
	}
	require.NoError(t, core.CreatePlan(context.Background(), p))
	return p
}

func subscribe(t *testing.T, st *memory.Store, userID string, planID id.PlanID, status subscription.Status) {
	t.Helper()

	now := time.Now().UTC()
	sub := &subscription.Subscription{
		Entity:             types.NewEntity(),
		ID:                 id.NewSubscriptionID(),
		UserID:             userID,
		PlanID:             planID,
		Status:             status,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		ProviderSubID:      "sub_" + userID,
		ProviderUpdatedAt:  now,
	}
	require.NoError(t, st.CreateSubscription(context.Background(), sub))
}

func TestBasicPlanWalkthrough(t *testing.T) {
	core, st := newTestCore(t)
	ctx := context.Background()

	basic := createPlan(t, core, "Basic", "basic", map[plan.FeatureKey]int64{
		plan.FeatureGenerations: 50,
	})
	subscribe(t, st, "user_1", basic.ID, subscription.StatusActive)

	d, err := core.Evaluate(ctx, "user_1", plan.FeatureGenerations)
	require.NoError(t, err)
	assert.True(t, d.CanUse)
	assert.Equal(t, int64(0), d.CurrentUsage)
	assert.Equal(t, int64(50), d.Limit)

	for i := 0; i < 50; i++ {
		_, err := core.Record(ctx, "user_1", plan.FeatureGenerations, 1)
		require.NoError(t, err)
	}

	d, err = core.Evaluate(ctx, "user_1", plan.FeatureGenerations)
	require.NoError(t, err)
	assert.False(t, d.CanUse)
	assert.Equal(t, int64(50), d.CurrentUsage)
	assert.Equal(t, int64(50), d.Limit)
	assert.Equal(t, entitlement.ReasonLimitReached, d.Reason)
}

func TestEvaluateFreePlanFallback(t *testing.T) {
	core, _ := newTestCore(t, tally.WithFreePlan("free"))
	ctx := context.Background()

	createPlan(t, core, "Free", "free", map[plan.FeatureKey]int64{
		plan.FeatureGenerations: 5,
	})

	d, err := core.Evaluate(ctx, "drifter", plan.FeatureGenerations)
	require.NoError(t, err)
	assert.True(t, d.CanUse)
	assert.Equal(t, int64(5), d.Limit)

	// Features outside the free plan are unavailable, not an error.
	d, err = core.Evaluate(ctx, "drifter", plan.FeatureFunnelAnalysis)
	require.NoError(t, err)
	assert.False(t, d.CanUse)
	assert.Equal(t, entitlement.ReasonFeatureNotInPlan, d.Reason)
}

func TestEvaluateNoFreePlanConfigured(t *testing.T) {
	core, _ := newTestCore(t)

	_, err := core.Evaluate(context.Background(), "drifter", plan.FeatureGenerations)
	assert.ErrorIs(t, err, tally.ErrNoFreePlan)
}

func TestEvaluateMissingFreePlan(t *testing.T) {
	core, _ := newTestCore(t, tally.WithFreePlan("free"))

	// Configured but never created: fail closed, loudly.
	_, err := core.Evaluate(context.Background(), "drifter", plan.FeatureGenerations)
	assert.ErrorIs(t, err, tally.ErrNoFreePlan)
}

func TestEvaluateGhostPlanFallsBack(t *testing.T) {
	core, st := newTestCore(t, tally.WithFreePlan("free"))

	createPlan(t, core, "Free", "free", map[plan.FeatureKey]int64{
		plan.FeatureGenerations: 5,
	})

	// Subscription pointing at a plan that was removed out from under it.
	subscribe(t, st, "user_1", id.NewPlanID(), subscription.StatusActive)

	d, err := core.Evaluate(context.Background(), "user_1", plan.FeatureGenerations)
	require.NoError(t, err)
	assert.Equal(t, int64(5), d.Limit, "a dangling plan reference degrades to the free plan")
}

func TestEvaluateUnknownFeatureDenies(t *testing.T) {
	core, _ := newTestCore(t, tally.WithFreePlan("free"))
	createPlan(t, core, "Free", "free", nil)

	d, err := core.Evaluate(context.Background(), "user_1", "ai_credits")
	require.NoError(t, err)
	assert.False(t, d.CanUse)
	assert.Equal(t, int64(0), d.Limit)
	assert.Equal(t, entitlement.ReasonUnknownFeature, d.Reason)
}

func TestEvaluateUnlimited(t *testing.T) {
	core, st := newTestCore(t)
	ctx := context.Background()

	premium := createPlan(t, core, "Premium", "premium", map[plan.FeatureKey]int64{
		plan.FeatureGenerations: plan.Unlimited,
	})
	subscribe(t, st, "user_1", premium.ID, subscription.StatusActive)

	for i := 0; i < 200; i++ {
		_, err := core.Record(ctx, "user_1", plan.FeatureGenerations, 1)
		require.NoError(t, err)
	}

	d, err := core.Evaluate(ctx, "user_1", plan.FeatureGenerations)
	require.NoError(t, err)
	assert.True(t, d.CanUse)
	assert.Equal(t, plan.Unlimited, d.Remaining)
	assert.Equal(t, int64(200), d.CurrentUsage)
}

func TestEvaluateTrialingEntitles(t *testing.T) {
	core, st := newTestCore(t)

	basic := createPlan(t, core, "Basic", "basic", map[plan.FeatureKey]int64{
		plan.FeatureGenerations: 50,
	})
	subscribe(t, st, "user_1", basic.ID, subscription.StatusTrialing)

	d, err := core.Evaluate(context.Background(), "user_1", plan.FeatureGenerations)
	require.NoError(t, err)
	assert.True(t, d.CanUse)
	assert.Equal(t, int64(50), d.Limit)
}

func TestEvaluatePastDueFallsBack(t *testing.T) {
	core, st := newTestCore(t, tally.WithFreePlan("free"))

	createPlan(t, core, "Free", "free", map[plan.FeatureKey]int64{
		plan.FeatureGenerations: 5,
	})
	basic := createPlan(t, core, "Basic", "basic", map[plan.FeatureKey]int64{
		plan.FeatureGenerations: 50,
	})
	subscribe(t, st, "user_1", basic.ID, subscription.StatusPastDue)

	d, err := core.Evaluate(context.Background(), "user_1", plan.FeatureGenerations)
	require.NoError(t, err)
	assert.Equal(t, int64(5), d.Limit, "past_due does not entitle; the free plan applies")
}

func TestPeriodIsolation(t *testing.T) {
	core, st := newTestCore(t)
	ctx := context.Background()

	basic := createPlan(t, core, "Basic", "basic", map[plan.FeatureKey]int64{
		plan.FeatureGenerations: 50,
	})
	subscribe(t, st, "user_1", basic.ID, subscription.StatusActive)

	// Exhaust a past period directly in the store.
	lastMonth := time.Now().UTC().AddDate(0, -1, 0)
	lastPeriod := time.Date(lastMonth.Year(), lastMonth.Month(), 1, 0, 0, 0, 0, time.UTC)
	_, err := st.IncrementUsage(ctx, "user_1", plan.FeatureGenerations, lastPeriod, 50)
	require.NoError(t, err)

	d, err := core.Evaluate(ctx, "user_1", plan.FeatureGenerations)
	require.NoError(t, err)
	assert.True(t, d.CanUse, "last month's usage must not count against this month")
	assert.Equal(t, int64(0), d.CurrentUsage)
}

func TestRecordValidation(t *testing.T) {
	core, _ := newTestCore(t)
	ctx := context.Background()

	_, err := core.Record(ctx, "", plan.FeatureGenerations, 1)
	var verr tally.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = core.Record(ctx, "user_1", "ai_credits", 1)
	assert.ErrorIs(t, err, tally.ErrUnknownFeature)

	_, err = core.Record(ctx, "user_1", plan.FeatureGenerations, 0)
	assert.ErrorIs(t, err, tally.ErrInvalidQuantity)

	_, err = core.Record(ctx, "user_1", plan.FeatureGenerations, -5)
	assert.ErrorIs(t, err, tally.ErrInvalidQuantity)
}

func TestRecordReturnsRunningTotal(t *testing.T) {
	core, _ := newTestCore(t)
	ctx := context.Background()

	count, err := core.Record(ctx, "user_1", plan.FeatureGenerations, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = core.Record(ctx, "user_1", plan.FeatureGenerations, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	used, err := core.Usage(ctx, "user_1", plan.FeatureGenerations)
	require.NoError(t, err)
	assert.Equal(t, int64(3), used)
}

func TestPlanAdminIsAudited(t *testing.T) {
	core, _ := newTestCore(t)
	ctx := tally.ContextWithActor(context.Background(), "admin@otimizaads.com")

	p := createPlanWithCtx(t, core, ctx)

	p.Features[plan.FeatureDiagnostics] = 10
	require.NoError(t, core.UpdatePlan(ctx, p))
	require.NoError(t, core.ArchivePlan(ctx, p.ID))

	records, err := core.AuditLog(context.Background(), audit.ListOpts{Actor: "admin@otimizaads.com"})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, audit.ActionPlanArchived, records[0].Action)
	assert.Equal(t, audit.ActionPlanUpdated, records[1].Action)
	assert.Equal(t, audit.ActionPlanCreated, records[2].Action)
}

func createPlanWithCtx(t *testing.T, core *tally.Core, ctx context.Context) *plan.Plan {
	t.Helper()

	p := &plan.Plan{
		Name: "Basic",
		Slug: "basic",
		Features: map[plan.FeatureKey]int64{
			plan.FeatureGenerations: 50,
		},
	}
	require.NoError(t, core.CreatePlan(ctx, p))
	return p
}

func TestCreatePlanValidation(t *testing.T) {
	core, _ := newTestCore(t)
	ctx := context.Background()

	err := core.CreatePlan(ctx, &plan.Plan{Slug: "x"})
	var verr tally.ValidationError
	assert.ErrorAs(t, err, &verr)

	err = core.CreatePlan(ctx, &plan.Plan{
		Name: "Bad",
		Slug: "bad",
		Features: map[plan.FeatureKey]int64{
			"ai_credits": 10,
		},
	})
	assert.ErrorIs(t, err, tally.ErrUnknownFeature)

	err = core.CreatePlan(ctx, &plan.Plan{
		Name: "Bad",
		Slug: "bad",
		Features: map[plan.FeatureKey]int64{
			plan.FeatureGenerations: -2,
		},
	})
	assert.ErrorAs(t, err, &verr)
}

func TestCheckoutAuditsSession(t *testing.T) {
	mock := provider.NewMock()
	core, _ := newTestCore(t, tally.WithProvider(mock))
	ctx := context.Background()

	sess, err := core.Checkout(ctx, provider.CheckoutParams{
		UserID:     "user_1",
		PriceID:    "price_basic",
		SuccessURL: "https://app.example.test/ok",
		CancelURL:  "https://app.example.test/cancel",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.URL)
	require.Len(t, mock.CheckoutCalls, 1)
	assert.Equal(t, "user_1", mock.CheckoutCalls[0].UserID)

	records, err := core.AuditLog(ctx, audit.ListOpts{Action: audit.ActionCheckoutOpened})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "user_1", records[0].Actor)
}

func TestCheckoutWithoutProvider(t *testing.T) {
	core, _ := newTestCore(t)

	_, err := core.Checkout(context.Background(), provider.CheckoutParams{UserID: "u", PriceID: "p"})
	assert.ErrorIs(t, err, tally.ErrInvalidInput)
}
