package sqlite

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/hotelledger/activation"
	"github.com/xraph/hotelledger/credit"
	"github.com/xraph/hotelledger/event"
	"github.com/xraph/hotelledger/id"
	"github.com/xraph/hotelledger/organization"
	"github.com/xraph/hotelledger/subscription"
	"github.com/xraph/hotelledger/types"
)

// jsonMap stores string metadata in a TEXT column as a JSON object.
type jsonMap map[string]string

func (m jsonMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *jsonMap) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("hotelledger/sqlite: cannot scan %T into metadata", src)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(raw, (*map[string]string)(m))
}

// ==================== Organization models ====================

type organizationModel struct {
	grove.BaseModel `grove:"table:hl_organizations"`

	ID                 string    `grove:"id,pk"`
	Name               string    `grove:"name"`
	BillingEmail       string    `grove:"billing_email"`
	ExternalCustomerID string    `grove:"external_customer_id"`
	Metadata           jsonMap   `grove:"metadata"`
	CreatedAt          time.Time `grove:"created_at"`
	UpdatedAt          time.Time `grove:"updated_at"`
}

func toOrganizationModel(o *organization.Organization) *organizationModel {
	return &organizationModel{
		ID:                 o.ID,
		Name:               o.Name,
		BillingEmail:       o.BillingEmail,
		ExternalCustomerID: o.ExternalCustomerID,
		Metadata:           o.Metadata,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

func fromOrganizationModel(m *organizationModel) *organization.Organization {
	return &organization.Organization{
		Entity:             types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                 m.ID,
		Name:               m.Name,
		BillingEmail:       m.BillingEmail,
		ExternalCustomerID: m.ExternalCustomerID,
		Metadata:           m.Metadata,
	}
}

type hotelModel struct {
	grove.BaseModel `grove:"table:hl_hotels"`

	ID             string    `grove:"id,pk"`
	OrganizationID string    `grove:"organization_id"`
	Name           string    `grove:"name"`
	CreatedAt      time.Time `grove:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"`
}

func toHotelModel(h *organization.Hotel) *hotelModel {
	return &hotelModel{
		ID:             h.ID,
		OrganizationID: h.OrganizationID,
		Name:           h.Name,
		CreatedAt:      h.CreatedAt,
		UpdatedAt:      h.UpdatedAt,
	}
}

func fromHotelModel(m *hotelModel) *organization.Hotel {
	return &organization.Hotel{
		Entity:         types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Name:           m.Name,
	}
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:hl_subscriptions"`

	ID                     string     `grove:"id,pk"`
	OrganizationID         string     `grove:"organization_id"`
	PlanID                 string     `grove:"plan_id"`
	Status                 string     `grove:"status"`
	StartedAt              time.Time  `grove:"started_at"`
	ExpiresAt              *time.Time `grove:"expires_at"`
	EndedAt                *time.Time `grove:"ended_at"`
	ExternalCustomerID     string     `grove:"external_customer_id"`
	ExternalSubscriptionID string     `grove:"external_subscription_id"`
	PaymentFailedCount     int        `grove:"payment_failed_count"`
	Metadata               jsonMap    `grove:"metadata"`
	CreatedAt              time.Time  `grove:"created_at"`
	UpdatedAt              time.Time  `grove:"updated_at"`
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &subscription.Subscription{
		Entity:                 types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                     subID,
		OrganizationID:         m.OrganizationID,
		PlanID:                 m.PlanID,
		Status:                 subscription.Status(m.Status),
		StartedAt:              m.StartedAt,
		ExpiresAt:              m.ExpiresAt,
		EndedAt:                m.EndedAt,
		ExternalCustomerID:     m.ExternalCustomerID,
		ExternalSubscriptionID: m.ExternalSubscriptionID,
		PaymentFailedCount:     m.PaymentFailedCount,
		Metadata:               m.Metadata,
	}, nil
}

// ==================== Ledger transaction models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:hl_ledger_transactions"`

	ID            string    `grove:"id,pk"`
	PrincipalID   string    `grove:"principal_id"`
	Seq           int64     `grove:"seq"`
	Amount        int64     `grove:"amount"`
	BalanceBefore int64     `grove:"balance_before"`
	BalanceAfter  int64     `grove:"balance_after"`
	Type          string    `grove:"type"`
	ReferenceID   string    `grove:"reference_id"`
	Description   string    `grove:"description"`
	CreatedAt     time.Time `grove:"created_at"`
}

func fromTransactionModel(m *transactionModel) (*credit.Transaction, error) {
	txID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &credit.Transaction{
		ID:            txID,
		PrincipalID:   m.PrincipalID,
		Seq:           m.Seq,
		Amount:        m.Amount,
		BalanceBefore: m.BalanceBefore,
		BalanceAfter:  m.BalanceAfter,
		Type:          credit.TransactionType(m.Type),
		ReferenceID:   m.ReferenceID,
		Description:   m.Description,
		CreatedAt:     m.CreatedAt,
	}, nil
}

// ==================== Activation models ====================

type activationModel struct {
	grove.BaseModel `grove:"table:hl_product_activations"`

	ID        string    `grove:"id,pk"`
	HotelID   string    `grove:"hotel_id"`
	ProductID string    `grove:"product_id"`
	Status    string    `grove:"status"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toActivationModel(a *activation.Activation) *activationModel {
	return &activationModel{
		ID:        a.ID.String(),
		HotelID:   a.HotelID,
		ProductID: a.ProductID,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func fromActivationModel(m *activationModel) (*activation.Activation, error) {
	actID, err := id.ParseActivationID(m.ID)
	if err != nil {
		return nil, err
	}
	return &activation.Activation{
		Entity:    types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        actID,
		HotelID:   m.HotelID,
		ProductID: m.ProductID,
		Status:    activation.Status(m.Status),
	}, nil
}

// ==================== Webhook event models ====================

type eventModel struct {
	grove.BaseModel `grove:"table:hl_webhook_events"`

	ID          string    `grove:"id,pk"`
	Provider    string    `grove:"provider"`
	ExternalID  string    `grove:"external_id"`
	Type        string    `grove:"type"`
	ProcessedAt time.Time `grove:"processed_at"`
}

func toEventModel(e *event.Event) *eventModel {
	return &eventModel{
		ID:          e.ID.String(),
		Provider:    e.Provider,
		ExternalID:  e.ExternalID,
		Type:        e.Type,
		ProcessedAt: e.ProcessedAt,
	}
}
