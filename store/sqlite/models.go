package sqlite

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/otimizaads/tally/audit"
	"github.com/otimizaads/tally/id"
	"github.com/otimizaads/tally/plan"
	"github.com/otimizaads/tally/subscription"
	"github.com/otimizaads/tally/types"
	"github.com/otimizaads/tally/usage"
)

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:tally_plans"`

	ID            string            `grove:"id,pk"`
	Name          string            `grove:"name"`
	Slug          string            `grove:"slug"`
	Description   string            `grove:"description"`
	Status        string            `grove:"status"`
	TrialDays     int               `grove:"trial_days"`
	Features      json.RawMessage   `grove:"features"`
	PriceCents    int64             `grove:"price_cents"`
	PriceCurrency string            `grove:"price_currency"`
	Interval      string            `grove:"billing_interval"`
	Metadata      map[string]string `grove:"metadata"`
	CreatedAt     time.Time         `grove:"created_at"`
	UpdatedAt     time.Time         `grove:"updated_at"`
}

func toPlanModel(p *plan.Plan) *planModel {
	features, _ := json.Marshal(p.Features) //nolint:errcheck // best-effort

	return &planModel{
		ID:            p.ID.String(),
		Name:          p.Name,
		Slug:          p.Slug,
		Description:   p.Description,
		Status:        string(p.Status),
		TrialDays:     p.TrialDays,
		Features:      features,
		PriceCents:    p.Price.Amount,
		PriceCurrency: p.Price.Currency,
		Interval:      string(p.Interval),
		Metadata:      p.Metadata,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}

	var features map[plan.FeatureKey]int64
	if len(m.Features) > 0 {
		_ = json.Unmarshal(m.Features, &features) //nolint:errcheck // best-effort
	}

	return &plan.Plan{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          planID,
		Name:        m.Name,
		Slug:        m.Slug,
		Description: m.Description,
		Status:      plan.Status(m.Status),
		TrialDays:   m.TrialDays,
		Features:    features,
		Price:       types.Money{Amount: m.PriceCents, Currency: m.PriceCurrency},
		Interval:    plan.Interval(m.Interval),
		Metadata:    m.Metadata,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:tally_subscriptions"`

	ID                 string            `grove:"id,pk"`
	UserID             string            `grove:"user_id"`
	PlanID             string            `grove:"plan_id"`
	Status             string            `grove:"status"`
	CurrentPeriodStart time.Time         `grove:"current_period_start"`
	CurrentPeriodEnd   time.Time         `grove:"current_period_end"`
	CancelAtPeriodEnd  bool              `grove:"cancel_at_period_end"`
	ProviderSubID      string            `grove:"provider_sub_id"`
	ProviderCustomerID string            `grove:"provider_customer_id"`
	ProviderUpdatedAt  time.Time         `grove:"provider_updated_at"`
	Metadata           map[string]string `grove:"metadata"`
	CreatedAt          time.Time         `grove:"created_at"`
	UpdatedAt          time.Time         `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                 s.ID.String(),
		UserID:             s.UserID,
		PlanID:             s.PlanID.String(),
		Status:             string(s.Status),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		ProviderSubID:      s.ProviderSubID,
		ProviderCustomerID: s.ProviderCustomerID,
		ProviderUpdatedAt:  s.ProviderUpdatedAt,
		Metadata:           s.Metadata,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParsePlanID(m.PlanID)
	if err != nil {
		return nil, err
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                 subID,
		UserID:             m.UserID,
		PlanID:             planID,
		Status:             subscription.Status(m.Status),
		CurrentPeriodStart: m.CurrentPeriodStart,
		CurrentPeriodEnd:   m.CurrentPeriodEnd,
		CancelAtPeriodEnd:  m.CancelAtPeriodEnd,
		ProviderSubID:      m.ProviderSubID,
		ProviderCustomerID: m.ProviderCustomerID,
		ProviderUpdatedAt:  m.ProviderUpdatedAt,
		Metadata:           m.Metadata,
	}, nil
}

// ==================== Usage Counter models ====================

type usageCounterModel struct {
	grove.BaseModel `grove:"table:tally_usage_counters"`

	CounterKey  string    `grove:"counter_key,pk"`
	UserID      string    `grove:"user_id"`
	Feature     string    `grove:"feature"`
	PeriodStart time.Time `grove:"period_start"`
	Count       int64     `grove:"count"`
	CreatedAt   time.Time `grove:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"`
}

// counterKey builds the primary key for a usage counter row. The period
// component is a calendar date so that equal period starts always collide.
func counterKey(userID string, feature plan.FeatureKey, periodStart time.Time) string {
	return userID + ":" + string(feature) + ":" + periodStart.UTC().Format("2006-01-02")
}

func fromUsageCounterModel(m *usageCounterModel) *usage.Counter {
	c := &usage.Counter{
		UserID:      m.UserID,
		Feature:     plan.FeatureKey(m.Feature),
		PeriodStart: m.PeriodStart,
		Count:       m.Count,
	}
	c.CreatedAt = m.CreatedAt
	c.UpdatedAt = m.UpdatedAt
	return c
}

// ==================== Audit models ====================

type auditRecordModel struct {
	grove.BaseModel `grove:"table:tally_audit_records"`

	ID        string            `grove:"id,pk"`
	Actor     string            `grove:"actor"`
	Action    string            `grove:"action"`
	Target    string            `grove:"target"`
	Detail    string            `grove:"detail"`
	Metadata  map[string]string `grove:"metadata"`
	CreatedAt time.Time         `grove:"created_at"`
}

func toAuditRecordModel(r *audit.Record) *auditRecordModel {
	return &auditRecordModel{
		ID:        r.ID.String(),
		Actor:     r.Actor,
		Action:    r.Action,
		Target:    r.Target,
		Detail:    r.Detail,
		Metadata:  r.Metadata,
		CreatedAt: r.CreatedAt,
	}
}

func fromAuditRecordModel(m *auditRecordModel) (*audit.Record, error) {
	recID, err := id.ParseAuditID(m.ID)
	if err != nil {
		return nil, err
	}

	r := &audit.Record{
		ID:       recID,
		Actor:    m.Actor,
		Action:   m.Action,
		Target:   m.Target,
		Detail:   m.Detail,
		Metadata: m.Metadata,
	}
	r.CreatedAt = m.CreatedAt
	r.UpdatedAt = m.CreatedAt
	return r, nil
}
