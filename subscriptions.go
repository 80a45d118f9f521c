package hotelledger

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/hotelledger/id"
	"github.com/xraph/hotelledger/subscription"
	"github.com/xraph/hotelledger/types"
)

// ──────────────────────────────────────────────────
// Subscription queries
// ──────────────────────────────────────────────────

// Subscription retrieves a subscription by ID.
func (l *Ledger) Subscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return l.store.GetSubscription(ctx, subID)
}

// ActiveSubscription returns the organization's single active subscription,
// or ErrNoActiveSubscription.
func (l *Ledger) ActiveSubscription(ctx context.Context, orgID string) (*subscription.Subscription, error) {
	return l.store.GetActiveSubscription(ctx, orgID)
}

// CurrentSubscription returns the organization's live subscription, which
// may be past_due or suspended.
func (l *Ledger) CurrentSubscription(ctx context.Context, orgID string) (*subscription.Subscription, error) {
	return l.store.GetCurrentSubscription(ctx, orgID)
}

// SubscriptionByExternalID returns the newest subscription carrying the
// provider's subscription id.
func (l *Ledger) SubscriptionByExternalID(ctx context.Context, externalID string) (*subscription.Subscription, error) {
	return l.store.GetSubscriptionByExternalID(ctx, externalID)
}

// Subscriptions lists an organization's subscription history, newest first.
func (l *Ledger) Subscriptions(ctx context.Context, orgID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	return l.store.ListSubscriptions(ctx, orgID, opts)
}

// ──────────────────────────────────────────────────
// Subscription writes
// ──────────────────────────────────────────────────

// Supersede makes sub the organization's active subscription. Any live
// subscription is cancelled in the same store operation, so no reader ever
// observes two active rows. Superseding again with the same external
// subscription and plan returns the existing row unchanged.
func (l *Ledger) Supersede(ctx context.Context, orgID string, sub *subscription.Subscription) (*subscription.Subscription, error) {
	if orgID == "" {
		return nil, Required("organization_id")
	}
	if sub.PlanID == "" {
		return nil, Required("plan_id")
	}
	sub.OrganizationID = orgID

	previous, err := l.store.GetCurrentSubscription(ctx, orgID)
	switch {
	case err == nil:
		if sub.ExternalSubscriptionID != "" &&
			previous.ExternalSubscriptionID == sub.ExternalSubscriptionID &&
			previous.PlanID == sub.PlanID {
			return previous, nil
		}
	case errors.Is(err, ErrNoActiveSubscription):
		previous = nil
	default:
		return nil, err
	}

	if sub.ID.IsNil() {
		sub.ID = id.NewSubscriptionID()
	}
	if sub.StartedAt.IsZero() {
		sub.StartedAt = time.Now().UTC()
	}
	sub.Entity = types.NewEntity()
	sub.Status = subscription.StatusActive
	sub.PaymentFailedCount = 0
	sub.EndedAt = nil

	err = l.retry(ctx, "supersede", func() error {
		return l.store.SupersedeSubscription(ctx, sub)
	}, ErrConflict)
	if err != nil {
		return nil, err
	}

	l.logger.Info("subscription superseded",
		"organization_id", orgID,
		"subscription_id", sub.ID.String(),
		"plan_id", sub.PlanID,
	)
	l.plugins.EmitSubscriptionSuperseded(ctx, sub, previous)
	return sub, nil
}

// MarkStatus moves a subscription to status. Marking a row active fails
// with ErrConflict while another row of the organization is active.
func (l *Ledger) MarkStatus(ctx context.Context, subID id.SubscriptionID, status subscription.Status) (*subscription.Subscription, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	before, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if before.Status == status {
		return before, nil
	}

	if err := l.store.UpdateSubscriptionStatus(ctx, subID, status); err != nil {
		return nil, err
	}

	after, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	l.logger.Info("subscription status changed",
		"subscription_id", subID.String(),
		"from", before.Status,
		"to", after.Status,
	)
	l.plugins.EmitSubscriptionStatusChanged(ctx, after, before.Status)
	return after, nil
}

// RecordPaymentFailure increments the failure counter of an active or
// past_due subscription and moves it to past_due, or to suspended once the
// counter reaches threshold. A threshold of zero uses the configured one.
func (l *Ledger) RecordPaymentFailure(ctx context.Context, subID id.SubscriptionID, threshold int) (*subscription.Subscription, error) {
	if threshold <= 0 {
		threshold = l.paymentFailureThreshold
	}

	before, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	after, err := l.store.RecordPaymentFailure(ctx, subID, threshold)
	if err != nil {
		return nil, err
	}

	l.logger.Warn("subscription payment failed",
		"subscription_id", subID.String(),
		"organization_id", after.OrganizationID,
		"failures", after.PaymentFailedCount,
		"status", after.Status,
	)
	l.plugins.EmitPaymentFailed(ctx, after)
	if after.Status != before.Status {
		l.plugins.EmitSubscriptionStatusChanged(ctx, after, before.Status)
	}
	return after, nil
}

// RestoreSubscription returns a live subscription to active after a
// successful payment and resets its failure counter. A non-nil expiresAt
// extends the paid period.
func (l *Ledger) RestoreSubscription(ctx context.Context, subID id.SubscriptionID, expiresAt *time.Time) (*subscription.Subscription, error) {
	before, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if !before.Status.Live() {
		return nil, ErrInvalidStatus
	}

	after, err := l.store.RestoreSubscription(ctx, subID, expiresAt)
	if err != nil {
		return nil, err
	}

	if after.Status != before.Status {
		l.logger.Info("subscription restored",
			"subscription_id", subID.String(),
			"from", before.Status,
		)
		l.plugins.EmitSubscriptionStatusChanged(ctx, after, before.Status)
	}
	return after, nil
}
