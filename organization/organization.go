// Package organization defines the billing principals (organizations) and
// the hotels they own.
package organization

import (
	"context"

	"github.com/xraph/hotelledger/types"
)

// Organization owns hotels, holds the credit balance and has at most one
// active subscription. Its ID is supplied by the host application.
type Organization struct {
	types.Entity
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	BillingEmail       string            `json:"billing_email"`
	ExternalCustomerID string            `json:"external_customer_id,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Hotel is a single property of an organization. Product activations are
// scoped to hotels.
type Hotel struct {
	types.Entity
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
}

type Store interface {
	UpsertOrganization(ctx context.Context, o *Organization) error
	GetOrganization(ctx context.Context, orgID string) (*Organization, error)
	SetExternalCustomerID(ctx context.Context, orgID, customerID string) error
	UpsertHotel(ctx context.Context, h *Hotel) error
	GetHotel(ctx context.Context, hotelID string) (*Hotel, error)
	ListHotels(ctx context.Context, orgID string) ([]*Hotel, error)
}
