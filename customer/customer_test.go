package customer

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/provider"
	"github.com/xraph/hotelledger/provider/mock"
)

// countingProvider records which provider calls were made.
type countingProvider struct {
	*mock.Provider
	finds, creates int
	meta           map[string]string
	findErr        error
}

func (c *countingProvider) FindCustomerByEmail(ctx context.Context, email string) (*provider.Customer, error) {
	c.finds++
	if c.findErr != nil {
		return nil, c.findErr
	}
	return c.Provider.FindCustomerByEmail(ctx, email)
}

func (c *countingProvider) CreateCustomer(ctx context.Context, p provider.CustomerParams) (*provider.Customer, error) {
	c.creates++
	c.meta = p.Metadata
	return c.Provider.CreateCustomer(ctx, p)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("known id skips the provider", func(t *testing.T) {
		p := &countingProvider{Provider: mock.New()}
		got, err := NewResolver(p, nil).Resolve(ctx, Identity{}, "cus_known")
		if err != nil || got != "cus_known" {
			t.Fatalf("got %q, %v", got, err)
		}
		if p.finds+p.creates != 0 {
			t.Errorf("expected no provider calls, got %d finds %d creates", p.finds, p.creates)
		}
	})

	t.Run("existing customer is reused", func(t *testing.T) {
		p := &countingProvider{Provider: mock.New(mock.WithCustomer(provider.Customer{ID: "cus_1", Email: "ops@hotel.test"}))}
		got, err := NewResolver(p, nil).Resolve(ctx, Identity{Email: "ops@hotel.test"}, "")
		if err != nil || got != "cus_1" {
			t.Fatalf("got %q, %v", got, err)
		}
		if p.creates != 0 {
			t.Errorf("expected no create, got %d", p.creates)
		}
	})

	t.Run("missing customer is created with metadata", func(t *testing.T) {
		p := &countingProvider{Provider: mock.New()}
		got, err := NewResolver(p, nil).Resolve(ctx, Identity{
			Email: "new@hotel.test", OrganizationID: "org-1", UserID: "usr-1",
		}, "")
		if err != nil || got == "" {
			t.Fatalf("got %q, %v", got, err)
		}
		if p.creates != 1 {
			t.Fatalf("expected one create, got %d", p.creates)
		}
		if p.meta[provider.MetaOrganizationID] != "org-1" || p.meta[provider.MetaUserID] != "usr-1" {
			t.Errorf("unexpected metadata %v", p.meta)
		}
	})

	t.Run("email is required", func(t *testing.T) {
		p := &countingProvider{Provider: mock.New()}
		_, err := NewResolver(p, nil).Resolve(ctx, Identity{OrganizationID: "org-1"}, "")
		var verr hotelledger.ValidationError
		if !errors.As(err, &verr) || verr.Field != "email" {
			t.Fatalf("expected email validation error, got %v", err)
		}
	})

	t.Run("provider errors propagate typed", func(t *testing.T) {
		p := &countingProvider{Provider: mock.New(), findErr: &hotelledger.ProviderError{
			Op: "customer.list", Kind: hotelledger.ErrProviderUnavailable, Message: "down",
		}}
		_, err := NewResolver(p, nil).Resolve(ctx, Identity{Email: "x@hotel.test"}, "")
		if !errors.Is(err, hotelledger.ErrProviderUnavailable) {
			t.Fatalf("expected unavailable, got %v", err)
		}
	})
}
