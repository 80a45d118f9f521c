package hotelledger

import (
	"context"
	"strings"

	"github.com/xraph/hotelledger/id"
	"github.com/xraph/hotelledger/organization"
	"github.com/xraph/hotelledger/types"
)

// RegisterOrganization creates or updates an organization. Organization ids
// are owned by the host application; an empty id gets a generated one.
func (l *Ledger) RegisterOrganization(ctx context.Context, o *organization.Organization) error {
	if strings.TrimSpace(o.Name) == "" {
		return Required("name")
	}
	if o.ID == "" {
		o.ID = id.NewOrganizationID().String()
	}
	o.Entity = types.NewEntity()
	return l.store.UpsertOrganization(ctx, o)
}

// Organization returns an organization by id.
func (l *Ledger) Organization(ctx context.Context, orgID string) (*organization.Organization, error) {
	return l.store.GetOrganization(ctx, orgID)
}

// SetExternalCustomerID remembers the payment provider customer of an organization.
func (l *Ledger) SetExternalCustomerID(ctx context.Context, orgID, customerID string) error {
	if customerID == "" {
		return Required("customer_id")
	}
	return l.store.SetExternalCustomerID(ctx, orgID, customerID)
}

// RegisterHotel creates or updates a hotel owned by an existing organization.
func (l *Ledger) RegisterHotel(ctx context.Context, h *organization.Hotel) error {
	if h.OrganizationID == "" {
		return Required("organization_id")
	}
	if _, err := l.store.GetOrganization(ctx, h.OrganizationID); err != nil {
		return err
	}
	if h.ID == "" {
		h.ID = id.NewHotelID().String()
	}
	h.Entity = types.NewEntity()
	return l.store.UpsertHotel(ctx, h)
}

// Hotel returns a hotel by id.
func (l *Ledger) Hotel(ctx context.Context, hotelID string) (*organization.Hotel, error) {
	return l.store.GetHotel(ctx, hotelID)
}

// Hotels lists the hotels of an organization.
func (l *Ledger) Hotels(ctx context.Context, orgID string) ([]*organization.Hotel, error) {
	return l.store.ListHotels(ctx, orgID)
}
