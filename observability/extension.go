// Package observability provides a metrics extension for Tally that records
// lifecycle event counts via a MetricFactory.
package observability

import (
	"context"

	"github.com/otimizaads/tally/entitlement"
	"github.com/otimizaads/tally/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnPlanCreated        = (*MetricsExtension)(nil)
	_ plugin.OnPlanUpdated        = (*MetricsExtension)(nil)
	_ plugin.OnPlanArchived       = (*MetricsExtension)(nil)
	_ plugin.OnEntitlementChecked = (*MetricsExtension)(nil)
	_ plugin.OnQuotaExceeded      = (*MetricsExtension)(nil)
	_ plugin.OnUsageRecorded      = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionSynced = (*MetricsExtension)(nil)
	_ plugin.OnPaymentSucceeded   = (*MetricsExtension)(nil)
	_ plugin.OnPaymentFailed      = (*MetricsExtension)(nil)
	_ plugin.OnWebhookReceived    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Tally plugin to automatically track metering metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Plan metrics
	PlanCreated  Counter
	PlanUpdated  Counter
	PlanArchived Counter

	// Entitlement metrics
	EntitlementChecks  Counter
	EntitlementAllowed Counter
	EntitlementDenied  Counter
	QuotaExceeded      Counter

	// Usage metrics
	UsageRecorded Counter
	UsageQuantity Histogram

	// Subscription metrics
	SubscriptionsSynced Counter
	PaymentsSucceeded   Counter
	PaymentsFailed      Counter

	// Webhook metrics
	WebhooksReceived Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Plan metrics
		PlanCreated:  factory.Counter("tally.plan.created"),
		PlanUpdated:  factory.Counter("tally.plan.updated"),
		PlanArchived: factory.Counter("tally.plan.archived"),

		// Entitlement metrics
		EntitlementChecks:  factory.Counter("tally.entitlement.checks"),
		EntitlementAllowed: factory.Counter("tally.entitlement.allowed"),
		EntitlementDenied:  factory.Counter("tally.entitlement.denied"),
		QuotaExceeded:      factory.Counter("tally.entitlement.quota_exceeded"),

		// Usage metrics
		UsageRecorded: factory.Counter("tally.usage.recorded"),
		UsageQuantity: factory.Histogram("tally.usage.period_count"),

		// Subscription metrics
		SubscriptionsSynced: factory.Counter("tally.subscription.synced"),
		PaymentsSucceeded:   factory.Counter("tally.payment.succeeded"),
		PaymentsFailed:      factory.Counter("tally.payment.failed"),

		// Webhook metrics
		WebhooksReceived: factory.Counter("tally.webhook.received"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Plan lifecycle hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (m *MetricsExtension) OnPlanCreated(_ context.Context, _ interface{}) error {
	m.PlanCreated.Inc()
	return nil
}

// OnPlanUpdated implements plugin.OnPlanUpdated.
func (m *MetricsExtension) OnPlanUpdated(_ context.Context, _, _ interface{}) error {
	m.PlanUpdated.Inc()
	return nil
}

// OnPlanArchived implements plugin.OnPlanArchived.
func (m *MetricsExtension) OnPlanArchived(_ context.Context, _ string) error {
	m.PlanArchived.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Entitlement and usage hooks
// ──────────────────────────────────────────────────

// OnEntitlementChecked implements plugin.OnEntitlementChecked.
func (m *MetricsExtension) OnEntitlementChecked(_ context.Context, decision interface{}) error {
	m.EntitlementChecks.Inc()
	if d, ok := decision.(*entitlement.Decision); ok {
		if d.CanUse {
			m.EntitlementAllowed.Inc()
		} else {
			m.EntitlementDenied.Inc()
		}
	}
	return nil
}

// OnQuotaExceeded implements plugin.OnQuotaExceeded.
func (m *MetricsExtension) OnQuotaExceeded(_ context.Context, _, _ string, _, _ int64) error {
	m.QuotaExceeded.Inc()
	return nil
}

// OnUsageRecorded implements plugin.OnUsageRecorded.
func (m *MetricsExtension) OnUsageRecorded(_ context.Context, _, _ string, count int64) error {
	m.UsageRecorded.Inc()
	m.UsageQuantity.Observe(float64(count))
	return nil
}

// ──────────────────────────────────────────────────
// Subscription and payment hooks
// ──────────────────────────────────────────────────

// OnSubscriptionSynced implements plugin.OnSubscriptionSynced.
func (m *MetricsExtension) OnSubscriptionSynced(_ context.Context, _ interface{}, _ string) error {
	m.SubscriptionsSynced.Inc()
	return nil
}

// OnPaymentSucceeded implements plugin.OnPaymentSucceeded.
func (m *MetricsExtension) OnPaymentSucceeded(_ context.Context, _, _ string) error {
	m.PaymentsSucceeded.Inc()
	return nil
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (m *MetricsExtension) OnPaymentFailed(_ context.Context, _, _ string) error {
	m.PaymentsFailed.Inc()
	return nil
}

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (m *MetricsExtension) OnWebhookReceived(_ context.Context, _, _ string) error {
	m.WebhooksReceived.Inc()
	return nil
}
