package provider

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a test double that records calls and returns configurable
// results.
type Mock struct {
	mu sync.Mutex

	// Subscriptions maps providerSubID -> snapshot returned by
	// FetchSubscription.
	Subscriptions map[string]*Snapshot
	// Events maps signature -> event returned by VerifyWebhook. Any
	// signature not present fails verification.
	Events map[string]*Event

	// CheckoutCalls and PortalCalls collect the parameters of session
	// requests.
	CheckoutCalls []CheckoutParams
	PortalCalls   []string

	// Error fields allow tests to inject failures.
	FetchErr    error
	CheckoutErr error
	PortalErr   error

	nextSessionSeq int
}

var _ Provider = (*Mock)(nil)

// NewMock creates a Mock ready for use.
func NewMock() *Mock {
	return &Mock{
		Subscriptions: make(map[string]*Snapshot),
		Events:        make(map[string]*Event),
	}
}

// Name implements Provider.
func (m *Mock) Name() string { return "mock" }

// FetchSubscription returns the configured snapshot.
func (m *Mock) FetchSubscription(_ context.Context, providerSubID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	if snap, ok := m.Subscriptions[providerSubID]; ok {
		return snap, nil
	}
	return nil, fmt.Errorf("provider: unknown subscription %s: %w", providerSubID, ErrSubscriptionNotFound)
}

// CreateCheckoutSession records the call and returns a fake session.
func (m *Mock) CreateCheckoutSession(_ context.Context, params CheckoutParams) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CheckoutErr != nil {
		return nil, m.CheckoutErr
	}
	m.CheckoutCalls = append(m.CheckoutCalls, params)
	m.nextSessionSeq++
	return &Session{
		ID:  fmt.Sprintf("cs_mock_%d", m.nextSessionSeq),
		URL: fmt.Sprintf("https://checkout.example.test/%d", m.nextSessionSeq),
	}, nil
}

// CreatePortalSession records the call and returns a fake session.
func (m *Mock) CreatePortalSession(_ context.Context, customerID, _ string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PortalErr != nil {
		return nil, m.PortalErr
	}
	m.PortalCalls = append(m.PortalCalls, customerID)
	m.nextSessionSeq++
	return &Session{
		ID:  fmt.Sprintf("bps_mock_%d", m.nextSessionSeq),
		URL: fmt.Sprintf("https://portal.example.test/%d", m.nextSessionSeq),
	}, nil
}

// VerifyWebhook treats the signature as a lookup key into Events.
func (m *Mock) VerifyWebhook(_ []byte, signature string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if evt, ok := m.Events[signature]; ok {
		return evt, nil
	}
	return nil, ErrBadSignature
}
