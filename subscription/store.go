package subscription

import (
	"context"

	"github.com/otimizaads/tally/id"
)

type Store interface {
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	// GetActive returns the user's most recent subscription whose status
	// entitles (active or trialing), or a not-found error.
	GetActive(ctx context.Context, userID string) (*Subscription, error)
	GetByProviderSubID(ctx context.Context, providerSubID string) (*Subscription, error)
	GetByProviderCustomerID(ctx context.Context, providerCustomerID string) (*Subscription, error)
	List(ctx context.Context, userID string, opts ListOpts) ([]*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
	// ApplySnapshot upserts a processor snapshot keyed by provider
	// subscription id. The write is conditional: a stored row with a newer
	// ProviderUpdatedAt wins and the snapshot is discarded. It returns the
	// status the row held before the call (empty when the row is new) and
	// whether the snapshot was applied.
	ApplySnapshot(ctx context.Context, s *Subscription) (prev Status, applied bool, err error)
}

type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
