package tally

import (
	"errors"
	"fmt"

	"github.com/otimizaads/tally/provider"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("tally: not found")
	ErrAlreadyExists = errors.New("tally: already exists")
	ErrInvalidInput  = errors.New("tally: invalid input")

	// Plan errors
	ErrPlanNotFound   = errors.New("tally: plan not found")
	ErrPlanArchived   = errors.New("tally: plan is archived")
	ErrUnknownFeature = errors.New("tally: unknown feature key")
	ErrNoFreePlan     = errors.New("tally: no free plan configured")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("tally: subscription not found")
	ErrNoActiveSubscription = errors.New("tally: no active subscription")
	ErrStaleSnapshot        = errors.New("tally: subscription snapshot is stale")

	// Usage errors
	ErrUsageNotRecorded = errors.New("tally: usage not recorded")
	ErrInvalidQuantity  = errors.New("tally: invalid usage quantity")

	// Entitlement errors
	ErrQuotaExceeded = errors.New("tally: quota exceeded")

	// Webhook and provider errors. The signature and availability
	// sentinels are defined in the provider package and re-exported here
	// so errors.Is matches either spelling.
	ErrBadSignature        = provider.ErrBadSignature
	ErrQueueFull           = errors.New("tally: webhook queue full")
	ErrUnresolvableUser    = errors.New("tally: webhook event user could not be resolved")
	ErrProviderUnavailable = provider.ErrUnavailable

	// Store errors
	ErrStoreNotReady     = errors.New("tally: store not ready")
	ErrStoreClosed       = errors.New("tally: store is closed")
	ErrTransactionFailed = errors.New("tally: transaction failed")
	ErrMigrationFailed   = errors.New("tally: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("tally: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrNoActiveSubscription)
}

// IsRetryable returns true if the error is temporary and the operation can
// be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, ErrProviderUnavailable)
}
