package store

import (
	"context"
	"time"

	"github.com/otimizaads/tally/audit"
	"github.com/otimizaads/tally/id"
	"github.com/otimizaads/tally/plan"
	"github.com/otimizaads/tally/subscription"
	"github.com/otimizaads/tally/usage"
)

// Store is the unified storage interface for all Tally entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
type Store interface {
	// Plan methods
	CreatePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error)
	ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error)
	UpdatePlan(ctx context.Context, p *plan.Plan) error
	DeletePlan(ctx context.Context, planID id.PlanID) error
	ArchivePlan(ctx context.Context, planID id.PlanID) error

	// Subscription methods
	CreateSubscription(ctx context.Context, s *subscription.Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error)
	GetActiveSubscription(ctx context.Context, userID string) (*subscription.Subscription, error)
	GetSubscriptionByProviderSubID(ctx context.Context, providerSubID string) (*subscription.Subscription, error)
	GetSubscriptionByProviderCustomerID(ctx context.Context, providerCustomerID string) (*subscription.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error)
	UpdateSubscription(ctx context.Context, s *subscription.Subscription) error
	// ApplySubscriptionSnapshot performs the conditional last-write-wins
	// upsert keyed by provider subscription id. See subscription.Store.
	ApplySubscriptionSnapshot(ctx context.Context, s *subscription.Subscription) (subscription.Status, bool, error)

	// Usage methods
	IncrementUsage(ctx context.Context, userID string, feature plan.FeatureKey, periodStart time.Time, delta int64) (int64, error)
	GetUsage(ctx context.Context, userID string, feature plan.FeatureKey, periodStart time.Time) (int64, error)
	ListUsage(ctx context.Context, userID string, periodStart time.Time) ([]*usage.Counter, error)
	PurgeUsage(ctx context.Context, before time.Time) (int64, error)

	// Audit methods
	AppendAudit(ctx context.Context, r *audit.Record) error
	ListAudit(ctx context.Context, opts audit.ListOpts) ([]*audit.Record, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
