package hotelledger

import (
	"context"
	"errors"
	"slices"

	"github.com/xraph/hotelledger/activation"
	"github.com/xraph/hotelledger/id"
	"github.com/xraph/hotelledger/subscription"
	"github.com/xraph/hotelledger/types"
)

// SetProductStatus switches a product on, off or into pause for a hotel.
// Activating requires an entitlement; pausing and deactivating are always
// allowed. Setting the status a pair already has is a no-op.
func (l *Ledger) SetProductStatus(ctx context.Context, hotelID, productID string, status activation.Status) (*activation.Activation, error) {
	if hotelID == "" {
		return nil, Required("hotel_id")
	}
	if productID == "" {
		return nil, Required("product_id")
	}
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	hotel, err := l.store.GetHotel(ctx, hotelID)
	if err != nil {
		return nil, err
	}

	var from activation.Status
	existing, err := l.store.GetActivation(ctx, hotelID, productID)
	switch {
	case err == nil:
		if existing.Status == status {
			return existing, nil
		}
		from = existing.Status
	case errors.Is(err, ErrActivationNotFound):
		from = activation.StatusInactive
	default:
		return nil, err
	}

	if status == activation.StatusActive {
		ok, err := l.entitled(ctx, hotel.OrganizationID, productID)
		if err != nil {
			return nil, err
		}
		if !ok {
			l.logger.Info("product activation denied",
				"hotel_id", hotelID,
				"product_id", productID,
				"organization_id", hotel.OrganizationID,
			)
			l.plugins.EmitEntitlementDenied(ctx, hotelID, productID)
			return nil, ErrNoEntitlement
		}
	}

	a := &activation.Activation{
		Entity:    types.NewEntity(),
		ID:        id.NewActivationID(),
		HotelID:   hotelID,
		ProductID: productID,
		Status:    status,
	}
	if err := l.store.UpsertActivation(ctx, a); err != nil {
		return nil, err
	}

	stored, err := l.store.GetActivation(ctx, hotelID, productID)
	if err != nil {
		return nil, err
	}

	l.plugins.EmitProductStatusChanged(ctx, stored, from)
	return stored, nil
}

// ProductStatus returns the status of a product for a hotel. A pair that
// was never written is inactive.
func (l *Ledger) ProductStatus(ctx context.Context, hotelID, productID string) (activation.Status, error) {
	a, err := l.store.GetActivation(ctx, hotelID, productID)
	if err != nil {
		if errors.Is(err, ErrActivationNotFound) {
			return activation.StatusInactive, nil
		}
		return "", err
	}
	return a.Status, nil
}

// HotelProducts lists every product activation recorded for a hotel.
func (l *Ledger) HotelProducts(ctx context.Context, hotelID string) ([]*activation.Activation, error) {
	return l.store.ListActivations(ctx, hotelID)
}

// Entitled reports whether a hotel may activate productID.
func (l *Ledger) Entitled(ctx context.Context, hotelID, productID string) (bool, error) {
	hotel, err := l.store.GetHotel(ctx, hotelID)
	if err != nil {
		return false, err
	}
	return l.entitled(ctx, hotel.OrganizationID, productID)
}

// entitled grants a product when the organization's live, non-suspended
// subscription plan includes it, or when the organization holds credits.
func (l *Ledger) entitled(ctx context.Context, orgID, productID string) (bool, error) {
	sub, err := l.store.GetCurrentSubscription(ctx, orgID)
	switch {
	case err == nil:
		if sub.Status != subscription.StatusSuspended && l.planIncludes(sub.PlanID, productID) {
			return true, nil
		}
	case !errors.Is(err, ErrNoActiveSubscription):
		return false, err
	}

	balance, err := l.BalanceOf(ctx, orgID)
	if err != nil {
		return false, err
	}
	return balance > 0, nil
}

func (l *Ledger) planIncludes(planID, productID string) bool {
	if l.policy == nil {
		return true
	}
	products, ok := l.policy.ProductsFor(planID)
	if !ok {
		return false
	}
	return len(products) == 0 || slices.Contains(products, productID)
}
