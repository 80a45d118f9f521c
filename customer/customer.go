// Package customer maps an organization's billing identity onto a payment
// provider customer, reusing an existing one whenever possible.
package customer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/provider"
)

// Identity is the billing identity of the person starting a checkout.
type Identity struct {
	Email          string
	Name           string
	OrganizationID string
	UserID         string
}

// Resolver finds or creates provider customers.
type Resolver struct {
	provider provider.Provider
	logger   *slog.Logger
}

// NewResolver creates a resolver. A nil logger uses slog.Default().
func NewResolver(p provider.Provider, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{provider: p, logger: logger}
}

// Resolve returns the provider customer id for who.
//
// A non-empty known id is returned as is, without calling the provider.
// Otherwise the provider is searched by email and the first match reused;
// when there is none a customer is created carrying the organization and
// user ids as metadata.
func (r *Resolver) Resolve(ctx context.Context, who Identity, known string) (string, error) {
	if known = strings.TrimSpace(known); known != "" {
		return known, nil
	}

	email := strings.TrimSpace(who.Email)
	if email == "" {
		return "", hotelledger.Required("email")
	}

	existing, err := r.provider.FindCustomerByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if existing != nil && existing.ID != "" {
		r.logger.Debug("reusing provider customer",
			"customer_id", existing.ID,
			"organization_id", who.OrganizationID,
		)
		return existing.ID, nil
	}

	meta := map[string]string{}
	if who.OrganizationID != "" {
		meta[provider.MetaOrganizationID] = who.OrganizationID
	}
	if who.UserID != "" {
		meta[provider.MetaUserID] = who.UserID
	}

	created, err := r.provider.CreateCustomer(ctx, provider.CustomerParams{
		Email:    email,
		Name:     who.Name,
		Metadata: meta,
	})
	if err != nil {
		return "", err
	}

	r.logger.Info("created provider customer",
		"customer_id", created.ID,
		"organization_id", who.OrganizationID,
		"provider", r.provider.Name(),
	)
	return created.ID, nil
}
