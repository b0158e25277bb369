// Package stripe implements provider.Provider on the Stripe API.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	stripesub "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/otimizaads/tally/provider"
)

// Provider implements provider.Provider using the Stripe API.
type Provider struct {
	webhookSecret string
	priceSlugs    map[string]string // Stripe price ID -> plan slug
	breaker       *gobreaker.CircuitBreaker[*provider.Snapshot]
	logger        *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithPriceSlugs maps Stripe price IDs to Tally plan slugs. Snapshots for
// prices outside the map fall back to the price's lookup key.
func WithPriceSlugs(m map[string]string) Option {
	return func(p *Provider) { p.priceSlugs = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

// New creates a Stripe-backed Provider. The API key is installed globally,
// matching how the stripe-go resource packages resolve their client.
func New(apiKey, webhookSecret string, opts ...Option) *Provider {
	stripe.Key = apiKey
	p := &Provider{
		webhookSecret: webhookSecret,
		priceSlugs:    make(map[string]string),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.breaker = gobreaker.NewCircuitBreaker[*provider.Snapshot](gobreaker.Settings{
		Name:    "stripe-fetch-subscription",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("stripe circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return p
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "stripe" }

// FetchSubscription retrieves the subscription from Stripe, guarded by a
// circuit breaker so a Stripe outage cannot pile up blocked reconciler
// workers.
func (p *Provider) FetchSubscription(_ context.Context, providerSubID string) (*provider.Snapshot, error) {
	snap, err := p.breaker.Execute(func() (*provider.Snapshot, error) {
		s, err := stripesub.Get(providerSubID, nil)
		if err != nil {
			return nil, err
		}
		return p.snapshotFromSubscription(s, time.Now().UTC()), nil
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, provider.ErrUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("stripe: fetch subscription %s: %w", providerSubID, err)
	}
	return snap, nil
}

// CreateCheckoutSession starts a hosted subscription checkout. The user id
// rides along both as the client reference and as subscription metadata so
// every later webhook can be resolved back to the user.
func (p *Provider) CreateCheckoutSession(_ context.Context, params provider.CheckoutParams) (*provider.Session, error) {
	sessParams := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		ClientReferenceID: stripe.String(params.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": params.UserID},
		},
	}
	if params.CustomerEmail != "" {
		sessParams.CustomerEmail = stripe.String(params.CustomerEmail)
	}

	s, err := checkoutsession.New(sessParams)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return &provider.Session{ID: s.ID, URL: s.URL}, nil
}

// CreatePortalSession starts a hosted billing-portal session.
func (p *Provider) CreatePortalSession(_ context.Context, customerID, returnURL string) (*provider.Session, error) {
	s, err := portalsession.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: create portal session: %w", err)
	}
	return &provider.Session{ID: s.ID, URL: s.URL}, nil
}

// VerifyWebhook validates the Stripe signature and normalizes the event.
func (p *Provider) VerifyWebhook(payload []byte, signature string) (*provider.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrBadSignature, err)
	}

	evt := &provider.Event{
		ID:         event.ID,
		Type:       provider.EventType(event.Type),
		Provider:   p.Name(),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("stripe: parse checkout session event: %w", err)
		}
		if cs.Subscription != nil {
			evt.ProviderSubID = cs.Subscription.ID
		}
		if cs.Customer != nil {
			evt.ProviderCustomerID = cs.Customer.ID
		}
		evt.UserID = cs.ClientReferenceID

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var s stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("stripe: parse subscription event: %w", err)
		}
		snap := p.snapshotFromSubscription(&s, evt.OccurredAt)
		evt.Snapshot = snap
		evt.ProviderSubID = snap.ProviderSubID
		evt.ProviderCustomerID = snap.ProviderCustomerID
		evt.UserID = snap.UserID

	case "invoice.paid", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("stripe: parse invoice event: %w", err)
		}
		if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
			evt.ProviderSubID = inv.Parent.SubscriptionDetails.Subscription.ID
		}
		if inv.Customer != nil {
			evt.ProviderCustomerID = inv.Customer.ID
		}
		if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period != nil {
			evt.PeriodStart = time.Unix(inv.Lines.Data[0].Period.Start, 0).UTC()
			evt.PeriodEnd = time.Unix(inv.Lines.Data[0].Period.End, 0).UTC()
		}
	}

	return evt, nil
}

// snapshotFromSubscription maps a Stripe subscription onto the normalized
// snapshot. Period bounds live on the first item since the Basil API.
func (p *Provider) snapshotFromSubscription(s *stripe.Subscription, updatedAt time.Time) *provider.Snapshot {
	snap := &provider.Snapshot{
		ProviderSubID:     s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		UpdatedAt:         updatedAt,
	}
	if s.Customer != nil {
		snap.ProviderCustomerID = s.Customer.ID
	}
	if s.Metadata != nil {
		snap.UserID = s.Metadata["user_id"]
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		snap.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		snap.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		if item.Price != nil {
			snap.PlanSlug = p.priceSlugs[item.Price.ID]
			if snap.PlanSlug == "" {
				snap.PlanSlug = item.Price.LookupKey
			}
		}
	}
	return snap
}
