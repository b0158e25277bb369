package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tally "github.com/otimizaads/tally"
	"github.com/otimizaads/tally/audit"
	"github.com/otimizaads/tally/id"
	"github.com/otimizaads/tally/plan"
	"github.com/otimizaads/tally/subscription"
	"github.com/otimizaads/tally/types"
	"github.com/otimizaads/tally/usage"
)

func TestIncrementUsageConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()
	period := usage.PeriodStart(time.Now())

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := s.IncrementUsage(ctx, "user_1", plan.FeatureGenerations, period, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := s.GetUsage(ctx, "user_1", plan.FeatureGenerations, period)
	require.NoError(t, err)
	assert.Equal(t, int64(n), count, "concurrent increments must not lose counts")
}

func TestIncrementUsageReturnsNewTotal(t *testing.T) {
	s := New()
	ctx := context.Background()
	period := usage.PeriodStart(time.Now())

	count, err := s.IncrementUsage(ctx, "user_1", plan.FeatureGenerations, period, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = s.IncrementUsage(ctx, "user_1", plan.FeatureGenerations, period, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestUsagePeriodIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()

	march := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	april := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.IncrementUsage(ctx, "user_1", plan.FeatureGenerations, march, 42)
	require.NoError(t, err)

	count, err := s.GetUsage(ctx, "user_1", plan.FeatureGenerations, april)
	require.NoError(t, err)
	assert.Zero(t, count, "a new period starts at zero")

	count, err = s.GetUsage(ctx, "user_1", plan.FeatureGenerations, march)
	require.NoError(t, err)
	assert.Equal(t, int64(42), count, "old period counters are preserved")
}

func TestUsageKeyIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	period := usage.PeriodStart(time.Now())

	_, err := s.IncrementUsage(ctx, "user_1", plan.FeatureGenerations, period, 5)
	require.NoError(t, err)

	count, err := s.GetUsage(ctx, "user_2", plan.FeatureGenerations, period)
	require.NoError(t, err)
	assert.Zero(t, count, "users do not share counters")

	count, err = s.GetUsage(ctx, "user_1", plan.FeatureDiagnostics, period)
	require.NoError(t, err)
	assert.Zero(t, count, "features do not share counters")
}

func TestGetUsageAbsentIsZero(t *testing.T) {
	s := New()

	count, err := s.GetUsage(context.Background(), "ghost", plan.FeatureGenerations, usage.PeriodStart(time.Now()))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPurgeUsage(t *testing.T) {
	s := New()
	ctx := context.Background()

	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.IncrementUsage(ctx, "user_1", plan.FeatureGenerations, jan, 1)
	require.NoError(t, err)
	_, err = s.IncrementUsage(ctx, "user_1", plan.FeatureGenerations, mar, 1)
	require.NoError(t, err)

	purged, err := s.PurgeUsage(ctx, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	count, err := s.GetUsage(ctx, "user_1", plan.FeatureGenerations, mar)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "recent periods survive the purge")
}

// ──────────────────────────────────────────────────
// Subscription snapshot application
// ──────────────────────────────────────────────────

func snapshotSub(providerSubID string, status subscription.Status, updatedAt time.Time) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:             types.NewEntity(),
		ID:                 id.NewSubscriptionID(),
		UserID:             "user_1",
		PlanID:             id.NewPlanID(),
		Status:             status,
		CurrentPeriodStart: updatedAt,
		CurrentPeriodEnd:   updatedAt.AddDate(0, 1, 0),
		ProviderSubID:      providerSubID,
		ProviderUpdatedAt:  updatedAt,
	}
}

func TestApplySubscriptionSnapshotInsert(t *testing.T) {
	s := New()
	ctx := context.Background()

	sub := snapshotSub("sub_1", subscription.StatusActive, time.Now().UTC())
	prev, applied, err := s.ApplySubscriptionSnapshot(ctx, sub)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Empty(t, prev, "a fresh insert has no previous status")

	got, err := s.GetSubscriptionByProviderSubID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, got.Status)
}

func TestApplySubscriptionSnapshotNewerWins(t *testing.T) {
	s := New()
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := s.ApplySubscriptionSnapshot(ctx, snapshotSub("sub_1", subscription.StatusActive, t0))
	require.NoError(t, err)

	prev, applied, err := s.ApplySubscriptionSnapshot(ctx, snapshotSub("sub_1", subscription.StatusCanceled, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, subscription.StatusActive, prev)

	got, err := s.GetSubscriptionByProviderSubID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, got.Status)
}

func TestApplySubscriptionSnapshotStaleLoses(t *testing.T) {
	s := New()
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := s.ApplySubscriptionSnapshot(ctx, snapshotSub("sub_1", subscription.StatusCanceled, t0))
	require.NoError(t, err)

	// An event that happened earlier arrives late.
	_, applied, err := s.ApplySubscriptionSnapshot(ctx, snapshotSub("sub_1", subscription.StatusActive, t0.Add(-time.Hour)))
	require.NoError(t, err)
	assert.False(t, applied, "an older snapshot must not overwrite a newer one")

	got, err := s.GetSubscriptionByProviderSubID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, got.Status)
}

func TestApplySubscriptionSnapshotIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	first := snapshotSub("sub_1", subscription.StatusActive, t0)
	_, _, err := s.ApplySubscriptionSnapshot(ctx, first)
	require.NoError(t, err)

	// Redelivery of the same event carries the same processor timestamp.
	redelivery := snapshotSub("sub_1", subscription.StatusActive, t0)
	_, applied, err := s.ApplySubscriptionSnapshot(ctx, redelivery)
	require.NoError(t, err)
	assert.True(t, applied, "equal timestamps apply: redelivery converges, not errors")

	subs, err := s.ListSubscriptions(ctx, "user_1", subscription.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, subs, 1, "redelivery must not create a second row")
}

func TestApplySubscriptionSnapshotPreservesIdentity(t *testing.T) {
	s := New()
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	first := snapshotSub("sub_1", subscription.StatusActive, t0)
	_, _, err := s.ApplySubscriptionSnapshot(ctx, first)
	require.NoError(t, err)

	update := snapshotSub("sub_1", subscription.StatusPastDue, t0.Add(time.Hour))
	_, _, err = s.ApplySubscriptionSnapshot(ctx, update)
	require.NoError(t, err)

	got, err := s.GetSubscriptionByProviderSubID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID, "updates keep the original row identity")
}

func TestGetActiveSubscription(t *testing.T) {
	s := New()
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	canceled := snapshotSub("sub_old", subscription.StatusCanceled, t0)
	canceled.CurrentPeriodStart = t0.AddDate(0, -2, 0)
	require.NoError(t, s.CreateSubscription(ctx, canceled))

	active := snapshotSub("sub_new", subscription.StatusActive, t0)
	require.NoError(t, s.CreateSubscription(ctx, active))

	got, err := s.GetActiveSubscription(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_new", got.ProviderSubID)
}

func TestGetActiveSubscriptionTrialing(t *testing.T) {
	s := New()
	ctx := context.Background()

	trialing := snapshotSub("sub_trial", subscription.StatusTrialing, time.Now().UTC())
	require.NoError(t, s.CreateSubscription(ctx, trialing))

	got, err := s.GetActiveSubscription(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusTrialing, got.Status)
}

func TestGetActiveSubscriptionNone(t *testing.T) {
	s := New()
	ctx := context.Background()

	pastDue := snapshotSub("sub_1", subscription.StatusPastDue, time.Now().UTC())
	require.NoError(t, s.CreateSubscription(ctx, pastDue))

	_, err := s.GetActiveSubscription(ctx, "user_1")
	assert.ErrorIs(t, err, tally.ErrNoActiveSubscription)
	assert.True(t, tally.IsNotFound(err))
}

// ──────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────

func TestPlanLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := &plan.Plan{
		Entity: types.NewEntity(),
		ID:     id.NewPlanID(),
		Name:   "Basic",
		Slug:   "basic",
		Status: plan.StatusActive,
		Features: map[plan.FeatureKey]int64{
			plan.FeatureGenerations: 50,
		},
		Price: types.BRL(4900),
	}
	require.NoError(t, s.CreatePlan(ctx, p))

	dup := &plan.Plan{Entity: types.NewEntity(), ID: id.NewPlanID(), Name: "Other", Slug: "basic"}
	assert.ErrorIs(t, s.CreatePlan(ctx, dup), tally.ErrAlreadyExists)

	bySlug, err := s.GetPlanBySlug(ctx, "basic")
	require.NoError(t, err)
	assert.Equal(t, p.ID, bySlug.ID)

	require.NoError(t, s.ArchivePlan(ctx, p.ID))
	archived, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusArchived, archived.Status)

	active, err := s.ListPlans(ctx, plan.ListOpts{Status: plan.StatusActive})
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = s.GetPlanBySlug(ctx, "ghost")
	assert.ErrorIs(t, err, tally.ErrPlanNotFound)
}

// ──────────────────────────────────────────────────
// Audit
// ──────────────────────────────────────────────────

func TestListAudit(t *testing.T) {
	s := New()
	ctx := context.Background()

	actions := []string{
		audit.ActionPlanCreated,
		audit.ActionSubscriptionUpdated,
		audit.ActionPaymentFailed,
	}
	for _, a := range actions {
		rec := &audit.Record{
			Entity: types.NewEntity(),
			ID:     id.NewAuditID(),
			Actor:  audit.ActorSystem,
			Action: a,
			Target: "target_1",
		}
		require.NoError(t, s.AppendAudit(ctx, rec))
	}

	all, err := s.ListAudit(ctx, audit.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, audit.ActionPaymentFailed, all[0].Action, "newest first")

	failed, err := s.ListAudit(ctx, audit.ListOpts{Action: audit.ActionPaymentFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, audit.ActionPaymentFailed, failed[0].Action)

	limited, err := s.ListAudit(ctx, audit.ListOpts{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
