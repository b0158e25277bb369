package tally

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/otimizaads/tally/audit"
	"github.com/otimizaads/tally/entitlement"
	"github.com/otimizaads/tally/id"
	"github.com/otimizaads/tally/plan"
	"github.com/otimizaads/tally/plugin"
	"github.com/otimizaads/tally/provider"
	"github.com/otimizaads/tally/store"
	"github.com/otimizaads/tally/subscription"
	"github.com/otimizaads/tally/types"
	"github.com/otimizaads/tally/usage"
)

// Core is the entitlement and usage metering engine. It owns the single
// read path for entitlement decisions and the single write path for usage
// counters; subscription state is written only by the webhook reconciler.
type Core struct {
	store    store.Store
	provider provider.Provider
	plugins  *plugin.Registry
	logger   *slog.Logger

	// freePlanSlug names the plan users without a subscription fall back
	// to. Empty means no fallback: Evaluate fails with ErrNoFreePlan.
	freePlanSlug string

	now func() time.Time
}

// New creates a new Core instance.
func New(s store.Store, opts ...Option) *Core {
	c := &Core{
		store:   s,
		plugins: plugin.NewRegistry(),
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Option configures a Core instance.
type Option func(*Core)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Core) {
		c.logger = logger
		c.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(c *Core) {
		_ = c.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithProvider sets the payment processor used for checkout and portal
// sessions.
func WithProvider(p provider.Provider) Option {
	return func(c *Core) { c.provider = p }
}

// WithFreePlan sets the slug of the plan evaluated for users without an
// active subscription.
func WithFreePlan(slug string) Option {
	return func(c *Core) { c.freePlanSlug = slug }
}

// Plugins exposes the hook registry so the reconciler and extensions share
// the same set of plugins.
func (c *Core) Plugins() *plugin.Registry { return c.plugins }

// Provider returns the configured payment processor, nil when none is set.
func (c *Core) Provider() provider.Provider { return c.provider }

// Store returns the underlying store.
func (c *Core) Store() store.Store { return c.store }

// Start migrates the store and initializes plugins.
func (c *Core) Start(ctx context.Context) error {
	if err := c.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	c.plugins.EmitInit(ctx, c)

	c.logger.Info("tally started", "free_plan", c.freePlanSlug)
	return nil
}

// Stop shuts down the Core.
func (c *Core) Stop() error {
	c.plugins.EmitShutdown(context.Background())
	return c.store.Close()
}

// ──────────────────────────────────────────────────
// Plan Management
// ──────────────────────────────────────────────────

// CreatePlan creates a new plan. Limits below the unlimited sentinel and
// feature keys outside the known set are rejected.
func (c *Core) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if err := validatePlan(p); err != nil {
		return err
	}
	if p.ID == (id.PlanID{}) {
		p.ID = id.NewPlanID()
	}
	if p.Status == "" {
		p.Status = plan.StatusActive
	}
	p.Entity = types.NewEntity()

	if err := c.store.CreatePlan(ctx, p); err != nil {
		return err
	}

	c.audit(ctx, audit.ActionPlanCreated, p.Slug, fmt.Sprintf("plan %q created", p.Name))
	c.plugins.EmitPlanCreated(ctx, p)
	return nil
}

// GetPlan retrieves a plan by ID.
func (c *Core) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return c.store.GetPlan(ctx, planID)
}

// GetPlanBySlug retrieves a plan by slug.
func (c *Core) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	return c.store.GetPlanBySlug(ctx, slug)
}

// ListPlans lists plans.
func (c *Core) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	return c.store.ListPlans(ctx, opts)
}

// UpdatePlan updates an existing plan.
func (c *Core) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	if err := validatePlan(p); err != nil {
		return err
	}

	old, err := c.store.GetPlan(ctx, p.ID)
	if err != nil {
		return err
	}

	if err := c.store.UpdatePlan(ctx, p); err != nil {
		return err
	}

	c.audit(ctx, audit.ActionPlanUpdated, p.Slug, fmt.Sprintf("plan %q updated", p.Name))
	c.plugins.EmitPlanUpdated(ctx, old, p)
	return nil
}

// ArchivePlan retires a plan. Existing subscriptions keep evaluating
// against it; it only disappears from listings of purchasable plans.
func (c *Core) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	p, err := c.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}

	if err := c.store.ArchivePlan(ctx, planID); err != nil {
		return err
	}

	c.audit(ctx, audit.ActionPlanArchived, p.Slug, fmt.Sprintf("plan %q archived", p.Name))
	c.plugins.EmitPlanArchived(ctx, planID.String())
	return nil
}

func validatePlan(p *plan.Plan) error {
	if p.Name == "" {
		return ValidationError{Field: "name", Message: "must not be empty"}
	}
	if p.Slug == "" {
		return ValidationError{Field: "slug", Message: "must not be empty"}
	}
	for key, limit := range p.Features {
		if !key.Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownFeature, key)
		}
		if limit < plan.Unlimited {
			return ValidationError{
				Field:   "features." + string(key),
				Message: fmt.Sprintf("limit must be >= -1, got %d", limit),
			}
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Entitlements
// ──────────────────────────────────────────────────

// Evaluate decides whether a user may use a feature right now. The plan
// comes from the active or trialing subscription, else the configured free
// plan. Any store failure fails closed: no decision is returned.
func (c *Core) Evaluate(ctx context.Context, userID string, feature plan.FeatureKey) (*entitlement.Decision, error) {
	if userID == "" {
		return nil, ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if !feature.Valid() {
		// Unrecognized feature keys deny rather than error: gating code
		// asking about a feature this build doesn't know must get a "no",
		// not a 500.
		d := entitlement.Decision{
			Feature: feature,
			Reason:  entitlement.ReasonUnknownFeature,
		}
		c.plugins.EmitEntitlementChecked(ctx, &d)
		return &d, nil
	}

	p, err := c.planFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	used, err := c.store.GetUsage(ctx, userID, feature, usage.PeriodStart(c.now()))
	if err != nil {
		return nil, err
	}

	d := entitlement.Evaluate(p, feature, used)

	c.plugins.EmitEntitlementChecked(ctx, &d)
	if !d.CanUse && d.Reason == entitlement.ReasonLimitReached {
		c.plugins.EmitQuotaExceeded(ctx, userID, string(feature), d.CurrentUsage, d.Limit)
	}

	return &d, nil
}

// Remaining returns how many uses of a feature the user has left this
// period. Unlimited features report -1.
func (c *Core) Remaining(ctx context.Context, userID string, feature plan.FeatureKey) (int64, error) {
	d, err := c.Evaluate(ctx, userID, feature)
	if err != nil {
		return 0, err
	}
	return d.Remaining, nil
}

// planFor resolves the plan the user is entitled against. A subscription
// referencing a plan that no longer exists degrades to the free plan
// rather than failing the check.
func (c *Core) planFor(ctx context.Context, userID string) (*plan.Plan, error) {
	sub, err := c.store.GetActiveSubscription(ctx, userID)
	if err == nil {
		p, err := c.store.GetPlan(ctx, sub.PlanID)
		if err == nil {
			return p, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	} else if !IsNotFound(err) {
		return nil, err
	}

	if c.freePlanSlug == "" {
		return nil, ErrNoFreePlan
	}
	p, err := c.store.GetPlanBySlug(ctx, c.freePlanSlug)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: plan %q does not exist", ErrNoFreePlan, c.freePlanSlug)
		}
		return nil, err
	}
	return p, nil
}

// ──────────────────────────────────────────────────
// Usage Recording
// ──────────────────────────────────────────────────

// Record counts consumption of a feature in the current billing period and
// returns the new period total. Call it after the billable action succeeds.
// The increment is atomic in the store; concurrent records never lose
// counts.
func (c *Core) Record(ctx context.Context, userID string, feature plan.FeatureKey, quantity int64) (int64, error) {
	if userID == "" {
		return 0, ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if !feature.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrUnknownFeature, feature)
	}
	if quantity <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}

	count, err := c.store.IncrementUsage(ctx, userID, feature, usage.PeriodStart(c.now()), quantity)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUsageNotRecorded, err)
	}

	c.plugins.EmitUsageRecorded(ctx, userID, string(feature), count)
	return count, nil
}

// Usage returns the user's consumption of a feature in the current period.
func (c *Core) Usage(ctx context.Context, userID string, feature plan.FeatureKey) (int64, error) {
	return c.store.GetUsage(ctx, userID, feature, usage.PeriodStart(c.now()))
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

// GetActiveSubscription returns the user's entitling subscription.
func (c *Core) GetActiveSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	return c.store.GetActiveSubscription(ctx, userID)
}

// GetSubscription retrieves a subscription by ID.
func (c *Core) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return c.store.GetSubscription(ctx, subID)
}

// ListSubscriptions lists a user's subscriptions, newest first.
func (c *Core) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	return c.store.ListSubscriptions(ctx, userID, opts)
}

// ──────────────────────────────────────────────────
// Billing Sessions
// ──────────────────────────────────────────────────

// Checkout starts a hosted checkout session with the payment processor.
func (c *Core) Checkout(ctx context.Context, params provider.CheckoutParams) (*provider.Session, error) {
	if c.provider == nil {
		return nil, fmt.Errorf("%w: no payment provider configured", ErrInvalidInput)
	}

	sess, err := c.provider.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, err
	}

	c.appendAudit(ctx, &audit.Record{
		Entity: types.NewEntity(),
		ID:     id.NewAuditID(),
		Actor:  params.UserID,
		Action: audit.ActionCheckoutOpened,
		Target: sess.ID,
		Detail: fmt.Sprintf("checkout session for price %s", params.PriceID),
	})
	return sess, nil
}

// Portal starts a hosted billing-portal session for an existing customer.
func (c *Core) Portal(ctx context.Context, customerID, returnURL string) (*provider.Session, error) {
	if c.provider == nil {
		return nil, fmt.Errorf("%w: no payment provider configured", ErrInvalidInput)
	}
	return c.provider.CreatePortalSession(ctx, customerID, returnURL)
}

// ──────────────────────────────────────────────────
// Audit
// ──────────────────────────────────────────────────

// AuditLog queries the audit trail, newest first.
func (c *Core) AuditLog(ctx context.Context, opts audit.ListOpts) ([]*audit.Record, error) {
	return c.store.ListAudit(ctx, opts)
}

func (c *Core) audit(ctx context.Context, action, target, detail string) {
	c.appendAudit(ctx, &audit.Record{
		Entity: types.NewEntity(),
		ID:     id.NewAuditID(),
		Actor:  ActorFromContext(ctx),
		Action: action,
		Target: target,
		Detail: detail,
	})
}

// appendAudit never fails the calling operation; a broken audit store is
// logged instead.
func (c *Core) appendAudit(ctx context.Context, rec *audit.Record) {
	if err := c.store.AppendAudit(ctx, rec); err != nil {
		c.logger.Warn("audit append failed",
			"action", rec.Action,
			"target", rec.Target,
			"error", err,
		)
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

type actorContextKey struct{}

// ContextWithActor attributes subsequent admin operations to an actor in
// the audit trail.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor set by ContextWithActor, or the
// system actor.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(actorContextKey{}).(string); ok && v != "" {
		return v
	}
	return audit.ActorSystem
}
