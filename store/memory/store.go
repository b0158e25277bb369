// Package memory provides an in-memory store.Store, used in tests and as
// the default backend of the service shell.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/otimizaads/tally"
	"github.com/otimizaads/tally/audit"
	"github.com/otimizaads/tally/id"
	"github.com/otimizaads/tally/plan"
	"github.com/otimizaads/tally/subscription"
	"github.com/otimizaads/tally/usage"
)

type Store struct {
	mu sync.RWMutex

	// Plan storage
	plans map[string]*plan.Plan

	// Subscription storage
	subscriptions map[string]*subscription.Subscription

	// Usage counters keyed by user|feature|periodStart
	counters map[string]*usage.Counter

	// Audit trail, append-only
	auditRecords []*audit.Record
}

func New() *Store {
	return &Store{
		plans:         make(map[string]*plan.Plan),
		subscriptions: make(map[string]*subscription.Subscription),
		counters:      make(map[string]*usage.Counter),
		auditRecords:  make([]*audit.Record, 0),
	}
}

// Plan Store implementation
func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; exists {
		return tally.ErrAlreadyExists
	}
	s.plans[p.ID.String()] = p
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID.String()]; ok {
		return p, nil
	}
	return nil, tally.ErrPlanNotFound
}

func (s *Store) GetPlanBySlug(_ context.Context, slug string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, tally.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0)
	for _, p := range s.plans {
		if opts.Status == "" || p.Status == opts.Status {
			result = append(result, p)
		}
	}

	// Apply limit/offset
	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) UpdatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; !exists {
		return tally.ErrPlanNotFound
	}
	s.plans[p.ID.String()] = p
	return nil
}

func (s *Store) DeletePlan(_ context.Context, planID id.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.plans, planID.String())
	return nil
}

func (s *Store) ArchivePlan(_ context.Context, planID id.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, exists := s.plans[planID.String()]; exists {
		p.Status = plan.StatusArchived
		p.Touch()
		return nil
	}
	return tally.ErrPlanNotFound
}

// Subscription Store implementation
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; exists {
		return tally.ErrAlreadyExists
	}
	s.subscriptions[sub.ID.String()] = sub
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID.String()]; ok {
		return sub, nil
	}
	return nil, tally.ErrSubscriptionNotFound
}

func (s *Store) GetActiveSubscription(_ context.Context, userID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID != userID || !sub.Entitles() {
			continue
		}
		if best == nil || sub.CurrentPeriodStart.After(best.CurrentPeriodStart) {
			best = sub
		}
	}
	if best == nil {
		return nil, tally.ErrNoActiveSubscription
	}
	return best, nil
}

func (s *Store) GetSubscriptionByProviderSubID(_ context.Context, providerSubID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.ProviderSubID == providerSubID {
			return sub, nil
		}
	}
	return nil, tally.ErrSubscriptionNotFound
}

func (s *Store) GetSubscriptionByProviderCustomerID(_ context.Context, providerCustomerID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.ProviderCustomerID != providerCustomerID {
			continue
		}
		if best == nil || sub.ProviderUpdatedAt.After(best.ProviderUpdatedAt) {
			best = sub
		}
	}
	if best == nil {
		return nil, tally.ErrSubscriptionNotFound
	}
	return best, nil
}

func (s *Store) ListSubscriptions(_ context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.UserID == userID {
			if opts.Status == "" || sub.Status == opts.Status {
				result = append(result, sub)
			}
		}
	}
	return result, nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID.String()] = sub
	return nil
}

func (s *Store) ApplySubscriptionSnapshot(_ context.Context, sub *subscription.Subscription) (subscription.Status, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, existing := range s.subscriptions {
		if existing.ProviderSubID != sub.ProviderSubID {
			continue
		}
		// Equal timestamps apply: redelivery of the winning snapshot is a
		// no-op in effect but must not be reported as stale.
		if existing.ProviderUpdatedAt.After(sub.ProviderUpdatedAt) {
			return existing.Status, false, nil
		}
		prev := existing.Status
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
		sub.Touch()
		s.subscriptions[key] = sub
		return prev, true, nil
	}

	s.subscriptions[sub.ID.String()] = sub
	return "", true, nil
}

// Usage Store implementation
func (s *Store) IncrementUsage(_ context.Context, userID string, feature plan.FeatureKey, periodStart time.Time, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey(userID, feature, periodStart)
	c, ok := s.counters[key]
	if !ok {
		c = &usage.Counter{
			UserID:      userID,
			Feature:     feature,
			PeriodStart: periodStart,
		}
		c.CreatedAt = time.Now().UTC()
		s.counters[key] = c
	}
	c.Count += delta
	c.Touch()
	return c.Count, nil
}

func (s *Store) GetUsage(_ context.Context, userID string, feature plan.FeatureKey, periodStart time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.counters[counterKey(userID, feature, periodStart)]; ok {
		return c.Count, nil
	}
	return 0, nil
}

func (s *Store) ListUsage(_ context.Context, userID string, periodStart time.Time) ([]*usage.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*usage.Counter, 0)
	for _, c := range s.counters {
		if c.UserID == userID && c.PeriodStart.Equal(periodStart) {
			result = append(result, c)
		}
	}
	return result, nil
}

func (s *Store) PurgeUsage(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for key, c := range s.counters {
		if c.PeriodStart.Before(before) {
			delete(s.counters, key)
			count++
		}
	}
	return count, nil
}

// Audit Store implementation
func (s *Store) AppendAudit(_ context.Context, r *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditRecords = append(s.auditRecords, r)
	return nil
}

func (s *Store) ListAudit(_ context.Context, opts audit.ListOpts) ([]*audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*audit.Record, 0)
	// Newest first
	for i := len(s.auditRecords) - 1; i >= 0; i-- {
		r := s.auditRecords[i]
		if opts.Actor != "" && r.Actor != opts.Actor {
			continue
		}
		if opts.Action != "" && r.Action != opts.Action {
			continue
		}
		if opts.Target != "" && r.Target != opts.Target {
			continue
		}
		if !opts.Start.IsZero() && r.CreatedAt.Before(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && r.CreatedAt.After(opts.End) {
			continue
		}
		result = append(result, r)
	}

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

// Store management
func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}

func counterKey(userID string, feature plan.FeatureKey, periodStart time.Time) string {
	return fmt.Sprintf("%s:%s:%s", userID, feature, periodStart.UTC().Format("2006-01-02"))
}
