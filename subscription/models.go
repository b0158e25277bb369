package subscription

import (
	"time"

	"github.com/otimizaads/tally/id"
	"github.com/otimizaads/tally/types"
)

// Status mirrors the payment processor's subscription status verbatim. No
// local collapsing: the ledger stores what the processor reported.
type Status string

const (
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusUnpaid            Status = "unpaid"
)

// Entitles reports whether the status grants access to paid-plan features.
// Only active and trialing do; past_due deliberately keeps the paid plan's
// entitlements until the processor cancels.
func (s Status) Entitles() bool {
	return s == StatusActive || s == StatusTrialing
}

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled,
		StatusIncomplete, StatusIncompleteExpired, StatusUnpaid:
		return true
	}
	return false
}

type Subscription struct {
	types.Entity
	ID                 id.SubscriptionID `json:"id"`
	UserID             string            `json:"user_id"`
	PlanID             id.PlanID         `json:"plan_id"`
	Status             Status            `json:"status"`
	CurrentPeriodStart time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   time.Time         `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	ProviderSubID      string            `json:"provider_sub_id"`
	ProviderCustomerID string            `json:"provider_customer_id"`
	// ProviderUpdatedAt is the processor's timestamp for the snapshot that
	// produced this row. Snapshot application compares against it so that
	// out-of-order webhook delivery cannot regress the ledger.
	ProviderUpdatedAt time.Time         `json:"provider_updated_at"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Entitles reports whether this subscription currently grants its plan.
func (s *Subscription) Entitles() bool {
	return s.Status.Entitles()
}
