// Package plugin provides an extensible plugin system for Tally.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, core interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Plan lifecycle hooks
// ──────────────────────────────────────────────────

// OnPlanCreated is called when a new plan is created.
type OnPlanCreated interface {
	Plugin
	OnPlanCreated(ctx context.Context, plan interface{}) error
}

// OnPlanUpdated is called when a plan is updated.
type OnPlanUpdated interface {
	Plugin
	OnPlanUpdated(ctx context.Context, oldPlan, newPlan interface{}) error
}

// OnPlanArchived is called when a plan is archived.
type OnPlanArchived interface {
	Plugin
	OnPlanArchived(ctx context.Context, planID string) error
}

// ──────────────────────────────────────────────────
// Entitlement and usage hooks
// ──────────────────────────────────────────────────

// OnEntitlementChecked is called after every entitlement evaluation.
type OnEntitlementChecked interface {
	Plugin
	OnEntitlementChecked(ctx context.Context, decision interface{}) error
}

// OnQuotaExceeded is called when a check is denied because the limit is
// exhausted.
type OnQuotaExceeded interface {
	Plugin
	OnQuotaExceeded(ctx context.Context, userID, featureKey string, used, limit int64) error
}

// OnUsageRecorded is called after a usage counter increment.
type OnUsageRecorded interface {
	Plugin
	OnUsageRecorded(ctx context.Context, userID, featureKey string, count int64) error
}

// ──────────────────────────────────────────────────
// Subscription and payment hooks
// ──────────────────────────────────────────────────

// OnSubscriptionSynced is called when a processor snapshot is applied to the
// ledger. prevStatus is empty for a newly created row.
type OnSubscriptionSynced interface {
	Plugin
	OnSubscriptionSynced(ctx context.Context, sub interface{}, prevStatus string) error
}

// OnPaymentSucceeded is called when the processor reports a paid invoice.
type OnPaymentSucceeded interface {
	Plugin
	OnPaymentSucceeded(ctx context.Context, userID, providerSubID string) error
}

// OnPaymentFailed is called when the processor reports a failed payment.
type OnPaymentFailed interface {
	Plugin
	OnPaymentFailed(ctx context.Context, userID, providerSubID string) error
}

// OnWebhookReceived is called when a verified webhook is acknowledged,
// before asynchronous processing.
type OnWebhookReceived interface {
	Plugin
	OnWebhookReceived(ctx context.Context, provider, eventType string) error
}
