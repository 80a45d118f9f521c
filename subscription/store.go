package subscription

import (
	"context"
	"time"

	"github.com/xraph/hotelledger/id"
)

type Store interface {
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	GetActiveSubscription(ctx context.Context, orgID string) (*Subscription, error)
	GetCurrentSubscription(ctx context.Context, orgID string) (*Subscription, error)
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, orgID string, opts ListOpts) ([]*Subscription, error)

	// SupersedeSubscription closes every live subscription of s.OrganizationID
	// as cancelled and inserts s as the single active row, atomically.
	// A concurrent supersede that wins the race yields ErrConflict.
	SupersedeSubscription(ctx context.Context, s *Subscription) error
	UpdateSubscriptionStatus(ctx context.Context, subID id.SubscriptionID, status Status) error
	// RecordPaymentFailure increments the failure counter and moves the row
	// to past_due, or suspended once the counter reaches threshold.
	RecordPaymentFailure(ctx context.Context, subID id.SubscriptionID, threshold int) (*Subscription, error)
	// RestoreSubscription resets the failure counter and returns the row to
	// active. A non-nil expiresAt replaces the current expiry.
	RestoreSubscription(ctx context.Context, subID id.SubscriptionID, expiresAt *time.Time) (*Subscription, error)
}

type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
