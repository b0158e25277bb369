// Package audit provides the append-only trail of billing-relevant actions:
// plan administration, subscription ledger mutations, and payment outcomes
// reported by the processor.
package audit

import (
	"github.com/otimizaads/tally/id"
	"github.com/otimizaads/tally/types"
)

// Action values recorded in the trail.
const (
	ActionPlanCreated  = "plan_created"
	ActionPlanUpdated  = "plan_updated"
	ActionPlanArchived = "plan_archived"

	ActionSubscriptionCreated  = "subscription_created"
	ActionSubscriptionUpdated  = "subscription_updated"
	ActionSubscriptionCanceled = "subscription_canceled"

	ActionPaymentSucceeded = "stripe_payment_succeeded"
	ActionPaymentFailed    = "stripe_payment_failed"
	ActionCheckoutOpened   = "stripe_checkout_opened"
	ActionWebhookSkipped   = "stripe_webhook_skipped"
)

// ActorSystem is recorded when a mutation originates from webhook
// reconciliation rather than a user or admin request.
const ActorSystem = "system"

// Record is a single immutable audit entry. Records are never updated or
// deleted through the public API.
type Record struct {
	types.Entity
	ID       id.AuditID        `json:"id"`
	Actor    string            `json:"actor"`
	Action   string            `json:"action"`
	Target   string            `json:"target"`
	Detail   string            `json:"detail,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
