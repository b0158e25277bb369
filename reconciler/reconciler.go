// Package reconciler keeps the subscription ledger converged with the
// payment processor. Webhook handling is two-phase: Receive verifies the
// signature and acknowledges by enqueueing; a background worker applies
// the event to the ledger afterwards. Because every subscription event
// carries a full snapshot and application is last-write-wins, a lost or
// reordered event is always healed by the next delivery.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tally "github.com/otimizaads/tally"
	"github.com/otimizaads/tally/audit"
	"github.com/otimizaads/tally/id"
	"github.com/otimizaads/tally/plugin"
	"github.com/otimizaads/tally/provider"
	"github.com/otimizaads/tally/store"
	"github.com/otimizaads/tally/subscription"
	"github.com/otimizaads/tally/types"
)

// Outcome classifies what applying an event did to the ledger.
type Outcome string

const (
	// OutcomeApplied means the ledger was mutated (or an audit-only event
	// was recorded).
	OutcomeApplied Outcome = "applied"
	// OutcomeSkipped means the event was valid but could not be attributed
	// to a user or plan. Skips are audited, never fatal.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeStale means a newer snapshot already won.
	OutcomeStale Outcome = "stale"
	// OutcomeIgnored means the event type is not one the ledger tracks.
	OutcomeIgnored Outcome = "ignored"
)

const defaultQueueSize = 256

// Reconciler applies processor events to the subscription ledger.
type Reconciler struct {
	store    store.Store
	provider provider.Provider
	plugins  *plugin.Registry
	logger   *slog.Logger

	queue    chan *provider.Event
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// WithQueueSize sets the webhook queue capacity.
func WithQueueSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.queue = make(chan *provider.Event, n)
		}
	}
}

// New creates a Reconciler. Call Start before Receive.
func New(st store.Store, prov provider.Provider, plugins *plugin.Registry, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    st,
		provider: prov,
		plugins:  plugins,
		logger:   slog.Default(),
		queue:    make(chan *provider.Event, defaultQueueSize),
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the background worker.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	r.wg.Add(1)
	go r.worker()
}

// Stop drains the queue and waits for the worker to finish.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.mu.Unlock()

	close(r.stopChan)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive is phase one: verify the signature, notify hooks, and enqueue
// for asynchronous application. A nil error means the caller should
// acknowledge the webhook; processing failures after this point are
// handled by redelivery, not by the HTTP response.
func (r *Reconciler) Receive(ctx context.Context, payload []byte, signature string) (*provider.Event, error) {
	evt, err := r.provider.VerifyWebhook(payload, signature)
	if err != nil {
		return nil, err
	}

	r.plugins.EmitWebhookReceived(ctx, evt.Provider, string(evt.Type))

	select {
	case r.queue <- evt:
		return evt, nil
	default:
		return nil, tally.ErrQueueFull
	}
}

func (r *Reconciler) worker() {
	defer r.wg.Done()

	for {
		select {
		case evt := <-r.queue:
			r.process(evt)
		case <-r.stopChan:
			// Drain whatever was acknowledged before shutdown.
			for {
				select {
				case evt := <-r.queue:
					r.process(evt)
				default:
					return
				}
			}
		}
	}
}

func (r *Reconciler) process(evt *provider.Event) {
	ctx := context.Background()
	outcome, err := r.Apply(ctx, evt)
	if err != nil {
		r.logger.Error("webhook event failed",
			"event_id", evt.ID,
			"event_type", evt.Type,
			"error", err,
		)
		return
	}
	r.logger.Info("webhook event processed",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"outcome", string(outcome),
	)
}

// Apply is phase two: mutate the ledger according to the event. It is
// idempotent; applying the same event twice converges on the same state.
func (r *Reconciler) Apply(ctx context.Context, evt *provider.Event) (Outcome, error) {
	switch evt.Type {
	case provider.EventCheckoutCompleted:
		return r.applyCheckout(ctx, evt)
	case provider.EventSubscriptionCreated, provider.EventSubscriptionUpdated, provider.EventSubscriptionDeleted:
		if evt.Snapshot == nil {
			return OutcomeIgnored, nil
		}
		return r.applySnapshot(ctx, evt.Snapshot, evt.UserID)
	case provider.EventInvoicePaid:
		return r.applyInvoicePaid(ctx, evt)
	case provider.EventPaymentFailed:
		return r.applyPaymentFailed(ctx, evt)
	default:
		return OutcomeIgnored, nil
	}
}

// applyCheckout resolves the checkout session to a subscription by asking
// the processor for the authoritative state, then applies it like any
// other snapshot.
func (r *Reconciler) applyCheckout(ctx context.Context, evt *provider.Event) (Outcome, error) {
	if evt.ProviderSubID == "" {
		return OutcomeIgnored, nil
	}

	snap, err := r.provider.FetchSubscription(ctx, evt.ProviderSubID)
	if err != nil {
		return "", fmt.Errorf("reconciler: fetch subscription after checkout: %w", err)
	}
	return r.applySnapshot(ctx, snap, evt.UserID)
}

// applySnapshot performs user and plan resolution and the conditional
// last-write-wins write.
func (r *Reconciler) applySnapshot(ctx context.Context, snap *provider.Snapshot, fallbackUserID string) (Outcome, error) {
	userID := snap.UserID
	if userID == "" {
		userID = fallbackUserID
	}
	existing, err := r.store.GetSubscriptionByProviderSubID(ctx, snap.ProviderSubID)
	if err != nil && !tally.IsNotFound(err) {
		return "", err
	}
	if userID == "" && existing != nil {
		userID = existing.UserID
	}
	if userID == "" && snap.ProviderCustomerID != "" {
		byCustomer, err := r.store.GetSubscriptionByProviderCustomerID(ctx, snap.ProviderCustomerID)
		if err != nil && !tally.IsNotFound(err) {
			return "", err
		}
		if byCustomer != nil {
			userID = byCustomer.UserID
		}
	}
	if userID == "" {
		r.auditSkip(ctx, snap.ProviderSubID, "no user could be resolved for subscription snapshot")
		return OutcomeSkipped, nil
	}

	planID, ok, err := r.resolvePlan(ctx, snap.PlanSlug, existing)
	if err != nil {
		return "", err
	}
	if !ok {
		r.auditSkip(ctx, snap.ProviderSubID, fmt.Sprintf("no plan matches slug %q", snap.PlanSlug))
		return OutcomeSkipped, nil
	}

	status := subscription.Status(snap.Status)
	if !status.Valid() {
		r.auditSkip(ctx, snap.ProviderSubID, fmt.Sprintf("unknown subscription status %q", snap.Status))
		return OutcomeSkipped, nil
	}

	sub := &subscription.Subscription{
		Entity:             types.NewEntity(),
		ID:                 id.NewSubscriptionID(),
		UserID:             userID,
		PlanID:             planID,
		Status:             status,
		CurrentPeriodStart: snap.CurrentPeriodStart,
		CurrentPeriodEnd:   snap.CurrentPeriodEnd,
		CancelAtPeriodEnd:  snap.CancelAtPeriodEnd,
		ProviderSubID:      snap.ProviderSubID,
		ProviderCustomerID: snap.ProviderCustomerID,
		ProviderUpdatedAt:  snap.UpdatedAt,
	}

	prev, applied, err := r.store.ApplySubscriptionSnapshot(ctx, sub)
	if err != nil {
		return "", err
	}
	if !applied {
		return OutcomeStale, nil
	}

	r.auditSync(ctx, sub, prev)
	r.plugins.EmitSubscriptionSynced(ctx, sub, string(prev))
	return OutcomeApplied, nil
}

// applyInvoicePaid refreshes the current period of a known subscription.
// Unknown subscriptions are skipped: the later subscription.updated
// delivery carries the full snapshot.
func (r *Reconciler) applyInvoicePaid(ctx context.Context, evt *provider.Event) (Outcome, error) {
	existing, err := r.store.GetSubscriptionByProviderSubID(ctx, evt.ProviderSubID)
	if err != nil {
		if tally.IsNotFound(err) {
			r.auditSkip(ctx, evt.ProviderSubID, "invoice.paid for unknown subscription")
			return OutcomeSkipped, nil
		}
		return "", err
	}

	// Status stays whatever the processor last reported: transitions only
	// arrive through subscription events.
	sub := *existing
	if !evt.PeriodStart.IsZero() {
		sub.CurrentPeriodStart = evt.PeriodStart
	}
	if !evt.PeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = evt.PeriodEnd
	}
	sub.ProviderUpdatedAt = evt.OccurredAt

	prev, applied, err := r.store.ApplySubscriptionSnapshot(ctx, &sub)
	if err != nil {
		return "", err
	}
	if !applied {
		return OutcomeStale, nil
	}

	r.appendAudit(ctx, &audit.Record{
		Entity: types.NewEntity(),
		ID:     id.NewAuditID(),
		Actor:  audit.ActorSystem,
		Action: audit.ActionPaymentSucceeded,
		Target: evt.ProviderSubID,
		Detail: fmt.Sprintf("invoice paid for user %s", existing.UserID),
	})
	r.plugins.EmitPaymentSucceeded(ctx, existing.UserID, evt.ProviderSubID)
	r.plugins.EmitSubscriptionSynced(ctx, &sub, string(prev))
	return OutcomeApplied, nil
}

// applyPaymentFailed records the failure without touching the ledger. The
// processor owns dunning; when it decides the subscription is past_due or
// unpaid it says so through subscription.updated.
func (r *Reconciler) applyPaymentFailed(ctx context.Context, evt *provider.Event) (Outcome, error) {
	userID := evt.UserID
	if existing, err := r.store.GetSubscriptionByProviderSubID(ctx, evt.ProviderSubID); err == nil {
		userID = existing.UserID
	} else if !tally.IsNotFound(err) {
		return "", err
	}

	r.appendAudit(ctx, &audit.Record{
		Entity: types.NewEntity(),
		ID:     id.NewAuditID(),
		Actor:  audit.ActorSystem,
		Action: audit.ActionPaymentFailed,
		Target: evt.ProviderSubID,
		Detail: fmt.Sprintf("payment failed for user %s", userID),
	})
	r.plugins.EmitPaymentFailed(ctx, userID, evt.ProviderSubID)
	return OutcomeApplied, nil
}

// resolvePlan maps the snapshot's plan slug to a plan id, falling back to
// the plan already on the stored row when the slug is unknown.
func (r *Reconciler) resolvePlan(ctx context.Context, slug string, existing *subscription.Subscription) (id.PlanID, bool, error) {
	if slug != "" {
		p, err := r.store.GetPlanBySlug(ctx, slug)
		if err == nil {
			return p.ID, true, nil
		}
		if !tally.IsNotFound(err) {
			return id.PlanID{}, false, err
		}
	}
	if existing != nil {
		return existing.PlanID, true, nil
	}
	return id.PlanID{}, false, nil
}

func (r *Reconciler) auditSync(ctx context.Context, sub *subscription.Subscription, prev subscription.Status) {
	action := audit.ActionSubscriptionUpdated
	if prev == "" {
		action = audit.ActionSubscriptionCreated
	} else if sub.Status == subscription.StatusCanceled && prev != subscription.StatusCanceled {
		action = audit.ActionSubscriptionCanceled
	}

	r.appendAudit(ctx, &audit.Record{
		Entity: types.NewEntity(),
		ID:     id.NewAuditID(),
		Actor:  audit.ActorSystem,
		Action: action,
		Target: sub.ProviderSubID,
		Detail: fmt.Sprintf("status %s -> %s", orNone(string(prev)), sub.Status),
		Metadata: map[string]string{
			"user_id": sub.UserID,
			"plan_id": sub.PlanID.String(),
		},
	})
}

func (r *Reconciler) auditSkip(ctx context.Context, target, detail string) {
	r.appendAudit(ctx, &audit.Record{
		Entity: types.NewEntity(),
		ID:     id.NewAuditID(),
		Actor:  audit.ActorSystem,
		Action: audit.ActionWebhookSkipped,
		Target: target,
		Detail: detail,
	})
	r.logger.Warn("webhook event skipped", "target", target, "reason", detail)
}

// appendAudit never fails the reconciliation: a broken audit store is
// logged, not propagated.
func (r *Reconciler) appendAudit(ctx context.Context, rec *audit.Record) {
	if err := r.store.AppendAudit(ctx, rec); err != nil {
		r.logger.Warn("audit append failed",
			"action", rec.Action,
			"target", rec.Target,
			"error", err,
		)
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
