package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	tally "github.com/otimizaads/tally"
	"github.com/otimizaads/tally/audit"
	"github.com/otimizaads/tally/id"
	"github.com/otimizaads/tally/plan"
	tallystore "github.com/otimizaads/tally/store"
	"github.com/otimizaads/tally/subscription"
	"github.com/otimizaads/tally/usage"
)

// compile-time interface check
var _ tallystore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("tally/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("tally/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	m := toPlanModel(p)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("id = ?", planID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("slug = ?", slug).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel
	q := s.pg.NewSelect(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	m := toPlanModel(p)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tally.ErrPlanNotFound
	}
	return nil
}

func (s *Store) DeletePlan(ctx context.Context, planID id.PlanID) error {
	res, err := s.pg.NewDelete((*planModel)(nil)).
		Where("id = ?", planID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tally.ErrPlanNotFound
	}
	return nil
}

func (s *Store) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	t := now()
	res, err := s.pg.NewUpdate((*planModel)(nil)).
		Set("status = ?", string(plan.StatusArchived)).
		Set("updated_at = ?", t).
		Where("id = ?", planID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tally.ErrPlanNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = ?", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetActiveSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("user_id = ?", userID).
		Where("status IN (?, ?)", string(subscription.StatusActive), string(subscription.StatusTrialing)).
		OrderExpr("current_period_start DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrNoActiveSubscription
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetSubscriptionByProviderSubID(ctx context.Context, providerSubID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("provider_sub_id = ?", providerSubID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetSubscriptionByProviderCustomerID(ctx context.Context, providerCustomerID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("provider_customer_id = ?", providerCustomerID).
		OrderExpr("provider_updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).
		Where("user_id = ?", userID)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()
	_, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	return err
}

// ApplySubscriptionSnapshot performs the last-write-wins upsert. The update
// is guarded in SQL by the stored provider_updated_at so a concurrent newer
// snapshot cannot be overwritten between the read and the write.
func (s *Store) ApplySubscriptionSnapshot(ctx context.Context, sub *subscription.Subscription) (subscription.Status, bool, error) {
	existing := new(subscriptionModel)
	err := s.pg.NewSelect(existing).
		Where("provider_sub_id = ?", sub.ProviderSubID).
		Scan(ctx)
	if err != nil {
		if !isNoRows(err) {
			return "", false, err
		}
		m := toSubscriptionModel(sub)
		if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
			return "", false, err
		}
		return "", true, nil
	}

	if existing.ProviderUpdatedAt.After(sub.ProviderUpdatedAt) {
		return subscription.Status(existing.Status), false, nil
	}

	t := now()
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("user_id = ?", sub.UserID).
		Set("plan_id = ?", sub.PlanID.String()).
		Set("status = ?", string(sub.Status)).
		Set("current_period_start = ?", sub.CurrentPeriodStart).
		Set("current_period_end = ?", sub.CurrentPeriodEnd).
		Set("cancel_at_period_end = ?", sub.CancelAtPeriodEnd).
		Set("provider_customer_id = ?", sub.ProviderCustomerID).
		Set("provider_updated_at = ?", sub.ProviderUpdatedAt).
		Set("updated_at = ?", t).
		Where("provider_sub_id = ?", sub.ProviderSubID).
		Where("provider_updated_at <= ?", sub.ProviderUpdatedAt).
		Exec(ctx)
	if err != nil {
		return "", false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if rows == 0 {
		// Lost the race to a newer snapshot.
		return subscription.Status(existing.Status), false, nil
	}

	subID, err := id.ParseSubscriptionID(existing.ID)
	if err != nil {
		return "", false, err
	}
	sub.ID = subID
	sub.CreatedAt = existing.CreatedAt
	sub.UpdatedAt = t
	return subscription.Status(existing.Status), true, nil
}

// ==================== Usage Store ====================

// IncrementUsage relies on a single conditional upsert so concurrent
// recorders serialize inside the database, never in Go.
func (s *Store) IncrementUsage(ctx context.Context, userID string, feature plan.FeatureKey, periodStart time.Time, delta int64) (int64, error) {
	t := now()
	var count int64
	err := s.pg.NewRaw(`
		INSERT INTO tally_usage_counters (counter_key, user_id, feature, period_start, count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (counter_key) DO UPDATE SET
			count = count + excluded.count,
			updated_at = excluded.updated_at
		RETURNING count
	`, counterKey(userID, feature, periodStart), userID, string(feature), periodStart.UTC(), delta, t, t).Scan(ctx, &count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) GetUsage(ctx context.Context, userID string, feature plan.FeatureKey, periodStart time.Time) (int64, error) {
	m := new(usageCounterModel)
	err := s.pg.NewSelect(m).
		Where("counter_key = ?", counterKey(userID, feature, periodStart)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, err
	}
	return m.Count, nil
}

func (s *Store) ListUsage(ctx context.Context, userID string, periodStart time.Time) ([]*usage.Counter, error) {
	var models []usageCounterModel
	err := s.pg.NewSelect(&models).
		Where("user_id = ?", userID).
		Where("period_start = ?", periodStart.UTC()).
		OrderExpr("feature ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*usage.Counter, len(models))
	for i := range models {
		result[i] = fromUsageCounterModel(&models[i])
	}
	return result, nil
}

func (s *Store) PurgeUsage(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.pg.NewDelete((*usageCounterModel)(nil)).
		Where("period_start < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return rows, nil
}

// ==================== Audit Store ====================

func (s *Store) AppendAudit(ctx context.Context, r *audit.Record) error {
	m := toAuditRecordModel(r)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) ListAudit(ctx context.Context, opts audit.ListOpts) ([]*audit.Record, error) {
	var models []auditRecordModel
	q := s.pg.NewSelect(&models)

	if opts.Actor != "" {
		q = q.Where("actor = ?", opts.Actor)
	}
	if opts.Action != "" {
		q = q.Where("action = ?", opts.Action)
	}
	if opts.Target != "" {
		q = q.Where("target = ?", opts.Target)
	}
	if !opts.Start.IsZero() {
		q = q.Where("created_at >= ?", opts.Start)
	}
	if !opts.End.IsZero() {
		q = q.Where("created_at <= ?", opts.End)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*audit.Record, len(models))
	for i := range models {
		r, err := fromAuditRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
