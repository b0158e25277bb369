// Package provider abstracts the payment processor Tally reconciles
// against. The core never talks to a processor SDK directly; it consumes
// normalized events and snapshots through this interface.
package provider

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all processor implementations. The root
// package re-exports these so callers outside the provider layer can
// match them without importing it.
var (
	// ErrBadSignature means webhook signature verification failed.
	ErrBadSignature = errors.New("provider: webhook signature verification failed")
	// ErrSubscriptionNotFound means the processor has no subscription with
	// the given id.
	ErrSubscriptionNotFound = errors.New("provider: subscription not found")
	// ErrUnavailable means the processor could not be reached, or the
	// circuit breaker guarding it is open.
	ErrUnavailable = errors.New("provider: unavailable")
)

// EventType is the normalized webhook event type. The values mirror the
// Stripe event names the reconciler handles; other processors map their
// own names onto these.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout.session.completed"
	EventSubscriptionCreated EventType = "customer.subscription.created"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
	EventInvoicePaid         EventType = "invoice.paid"
	EventPaymentFailed       EventType = "invoice.payment_failed"
)

// Event is a verified, normalized webhook event. Only the fields relevant
// to the event type are populated.
type Event struct {
	ID       string
	Type     EventType
	Provider string
	// OccurredAt is the processor's timestamp for the event. The reconciler
	// uses it as the last-write-wins comparator, never local clocks.
	OccurredAt time.Time

	// Snapshot carries the full subscription state for subscription.*
	// events; nil otherwise.
	Snapshot *Snapshot

	ProviderSubID      string
	ProviderCustomerID string
	UserID             string

	// Invoice line period, set for invoice.paid.
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Snapshot is the processor's authoritative view of one subscription.
type Snapshot struct {
	ProviderSubID      string
	ProviderCustomerID string
	UserID             string
	PlanSlug           string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	UpdatedAt          time.Time
}

// Session is a hosted checkout or billing-portal session.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutParams configures a hosted checkout session.
type CheckoutParams struct {
	UserID        string
	CustomerEmail string
	PriceID       string
	SuccessURL    string
	CancelURL     string
}

// Provider is the payment-processor integration surface.
type Provider interface {
	Name() string
	// FetchSubscription retrieves the current subscription state from the
	// processor.
	FetchSubscription(ctx context.Context, providerSubID string) (*Snapshot, error)
	// CreateCheckoutSession starts a hosted checkout for a plan purchase.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*Session, error)
	// CreatePortalSession starts a hosted billing-portal session for an
	// existing customer.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*Session, error)
	// VerifyWebhook checks the payload signature and normalizes the event.
	// A bad signature returns ErrBadSignature.
	VerifyWebhook(payload []byte, signature string) (*Event, error)
}
