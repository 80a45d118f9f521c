// Package plugin provides an extensible plugin system for the hotel ledger.
// Plugins can hook into subscription, credit, activation and webhook events
// to extend functionality without touching the engine.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/hotelledger/activation"
	"github.com/xraph/hotelledger/credit"
	"github.com/xraph/hotelledger/subscription"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionSuperseded is called after a new active subscription
// replaced the previous one. previous is nil for a first subscription.
type OnSubscriptionSuperseded interface {
	Plugin
	OnSubscriptionSuperseded(ctx context.Context, sub, previous *subscription.Subscription) error
}

// OnSubscriptionStatusChanged is called when a subscription moves between statuses.
type OnSubscriptionStatusChanged interface {
	Plugin
	OnSubscriptionStatusChanged(ctx context.Context, sub *subscription.Subscription, from subscription.Status) error
}

// OnPaymentFailed is called after a payment failure was recorded.
type OnPaymentFailed interface {
	Plugin
	OnPaymentFailed(ctx context.Context, sub *subscription.Subscription) error
}

// ──────────────────────────────────────────────────
// Credit hooks
// ──────────────────────────────────────────────────

// OnCreditsGranted is called after a positive transaction was appended.
type OnCreditsGranted interface {
	Plugin
	OnCreditsGranted(ctx context.Context, tx *credit.Transaction) error
}

// OnCreditsConsumed is called after a consumption or negative adjustment.
type OnCreditsConsumed interface {
	Plugin
	OnCreditsConsumed(ctx context.Context, tx *credit.Transaction) error
}

// OnInsufficientBalance is called when a debit was rejected.
type OnInsufficientBalance interface {
	Plugin
	OnInsufficientBalance(ctx context.Context, principalID string, requested, balance int64) error
}

// ──────────────────────────────────────────────────
// Activation hooks
// ──────────────────────────────────────────────────

// OnProductStatusChanged is called after a hotel product activation was written.
type OnProductStatusChanged interface {
	Plugin
	OnProductStatusChanged(ctx context.Context, a *activation.Activation, from activation.Status) error
}

// OnEntitlementDenied is called when activating a product was refused.
type OnEntitlementDenied interface {
	Plugin
	OnEntitlementDenied(ctx context.Context, hotelID, productID string) error
}

// ──────────────────────────────────────────────────
// Provider hooks
// ──────────────────────────────────────────────────

// OnWebhookProcessed is called once per reconciled provider event.
// outcome is one of "applied", "duplicate", "ignored" or "failed".
type OnWebhookProcessed interface {
	Plugin
	OnWebhookProcessed(ctx context.Context, provider, eventType, outcome string, elapsed time.Duration, err error) error
}
