// Package observability provides a metrics plugin for the ledger that
// exports lifecycle counts and webhook latency to Prometheus.
package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xraph/hotelledger/activation"
	"github.com/xraph/hotelledger/credit"
	"github.com/xraph/hotelledger/plugin"
	"github.com/xraph/hotelledger/subscription"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                      = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionSuperseded    = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionStatusChanged = (*MetricsExtension)(nil)
	_ plugin.OnPaymentFailed             = (*MetricsExtension)(nil)
	_ plugin.OnCreditsGranted            = (*MetricsExtension)(nil)
	_ plugin.OnCreditsConsumed           = (*MetricsExtension)(nil)
	_ plugin.OnInsufficientBalance       = (*MetricsExtension)(nil)
	_ plugin.OnProductStatusChanged      = (*MetricsExtension)(nil)
	_ plugin.OnEntitlementDenied         = (*MetricsExtension)(nil)
	_ plugin.OnWebhookProcessed          = (*MetricsExtension)(nil)
)

const namespace = "hotelledger"

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a ledger plugin to track billing activity.
type MetricsExtension struct {
	// Subscription metrics
	SubscriptionsStarted *prometheus.CounterVec // kind: new, replaced
	SubscriptionStatus   *prometheus.CounterVec // to
	PaymentFailures      prometheus.Counter

	// Credit metrics
	CreditGrants        *prometheus.CounterVec // type
	CreditsGranted      *prometheus.CounterVec // type
	CreditsConsumed     prometheus.Counter
	InsufficientBalance prometheus.Counter

	// Activation metrics
	ProductStatus     *prometheus.CounterVec // status
	EntitlementDenied *prometheus.CounterVec // product

	// Provider metrics
	WebhooksProcessed *prometheus.CounterVec   // provider, type, outcome
	WebhookDuration   *prometheus.HistogramVec // provider, type
}

// NewMetricsExtension registers the ledger metrics with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewMetricsExtension(reg prometheus.Registerer) *MetricsExtension {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &MetricsExtension{
		SubscriptionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_started_total",
			Help:      "Subscriptions made active, by whether they replaced a live one",
		}, []string{"kind"}),
		SubscriptionStatus: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_status_changes_total",
			Help:      "Subscription status transitions by target status",
		}, []string{"to"}),
		PaymentFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_failures_total",
			Help:      "Failed subscription payments",
		}),

		CreditGrants: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_grants_total",
			Help:      "Credit grant transactions appended",
		}, []string{"type"}),
		CreditsGranted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_granted_total",
			Help:      "Credits added to balances",
		}, []string{"type"}),
		CreditsConsumed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_consumed_total",
			Help:      "Credits removed from balances by consumption",
		}),
		InsufficientBalance: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insufficient_balance_total",
			Help:      "Consumption attempts rejected for insufficient balance",
		}),

		ProductStatus: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "product_status_changes_total",
			Help:      "Hotel product activation changes by new status",
		}, []string{"status"}),
		EntitlementDenied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_denied_total",
			Help:      "Product activations refused for lack of entitlement",
		}, []string{"product"}),

		WebhooksProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_processed_total",
			Help:      "Provider events handled by the reconciler",
		}, []string{"provider", "type", "outcome"}),
		WebhookDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_seconds",
			Help:      "Time spent reconciling a provider event",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
		}, []string{"provider", "type"}),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionSuperseded implements plugin.OnSubscriptionSuperseded.
func (m *MetricsExtension) OnSubscriptionSuperseded(_ context.Context, _, previous *subscription.Subscription) error {
	kind := "new"
	if previous != nil {
		kind = "replaced"
	}
	m.SubscriptionsStarted.WithLabelValues(kind).Inc()
	return nil
}

// OnSubscriptionStatusChanged implements plugin.OnSubscriptionStatusChanged.
func (m *MetricsExtension) OnSubscriptionStatusChanged(_ context.Context, sub *subscription.Subscription, _ subscription.Status) error {
	m.SubscriptionStatus.WithLabelValues(string(sub.Status)).Inc()
	return nil
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (m *MetricsExtension) OnPaymentFailed(context.Context, *subscription.Subscription) error {
	m.PaymentFailures.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Credit hooks
// ──────────────────────────────────────────────────

// OnCreditsGranted implements plugin.OnCreditsGranted.
func (m *MetricsExtension) OnCreditsGranted(_ context.Context, tx *credit.Transaction) error {
	m.CreditGrants.WithLabelValues(string(tx.Type)).Inc()
	if tx.Amount > 0 {
		m.CreditsGranted.WithLabelValues(string(tx.Type)).Add(float64(tx.Amount))
	}
	return nil
}

// OnCreditsConsumed implements plugin.OnCreditsConsumed.
func (m *MetricsExtension) OnCreditsConsumed(_ context.Context, tx *credit.Transaction) error {
	m.CreditsConsumed.Add(float64(-tx.Amount))
	return nil
}

// OnInsufficientBalance implements plugin.OnInsufficientBalance.
func (m *MetricsExtension) OnInsufficientBalance(context.Context, string, int64, int64) error {
	m.InsufficientBalance.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Activation hooks
// ──────────────────────────────────────────────────

// OnProductStatusChanged implements plugin.OnProductStatusChanged.
func (m *MetricsExtension) OnProductStatusChanged(_ context.Context, a *activation.Activation, _ activation.Status) error {
	m.ProductStatus.WithLabelValues(string(a.Status)).Inc()
	return nil
}

// OnEntitlementDenied implements plugin.OnEntitlementDenied.
func (m *MetricsExtension) OnEntitlementDenied(_ context.Context, _, productID string) error {
	m.EntitlementDenied.WithLabelValues(productID).Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Provider hooks
// ──────────────────────────────────────────────────

// OnWebhookProcessed implements plugin.OnWebhookProcessed.
func (m *MetricsExtension) OnWebhookProcessed(_ context.Context, provider, eventType, outcome string, elapsed time.Duration, _ error) error {
	m.WebhooksProcessed.WithLabelValues(provider, eventType, outcome).Inc()
	m.WebhookDuration.WithLabelValues(provider, eventType).Observe(elapsed.Seconds())
	return nil
}
