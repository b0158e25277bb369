package usage

import (
	"context"
	"time"

	"github.com/otimizaads/tally/plan"
)

type Store interface {
	// Increment atomically adds delta to the counter identified by
	// (userID, feature, periodStart), creating it at delta if absent, and
	// returns the post-increment count. Concurrent callers must each
	// observe a distinct count.
	Increment(ctx context.Context, userID string, feature plan.FeatureKey, periodStart time.Time, delta int64) (int64, error)
	// Get returns the current count, or 0 when no row exists.
	Get(ctx context.Context, userID string, feature plan.FeatureKey, periodStart time.Time) (int64, error)
	List(ctx context.Context, userID string, periodStart time.Time) ([]*Counter, error)
	// Purge deletes counters for periods that started before the cutoff and
	// returns how many rows were removed.
	Purge(ctx context.Context, before time.Time) (int64, error)
}
