package mongo

import (
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

// ==================== Organization models ====================

type organizationModel struct {
	grove.BaseModel `grove:"table:hl_organizations"`

	ID                 string            `grove:"id,pk"                bson:"_id"`
	Name               string            `grove:"name"                 bson:"name"`
	BillingEmail       string            `grove:"billing_email"        bson:"billing_email"`
	ExternalCustomerID string            `grove:"external_customer_id" bson:"external_customer_id"`
	Metadata           map[string]string `grove:"metadata"             bson:"metadata,omitempty"`
	CreatedAt          time.Time         `grove:"created_at"           bson:"created_at"`
	UpdatedAt          time.Time         `grove:"updated_at"           bson:"updated_at"`
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

	ID             string    `grove:"id,pk"           bson:"_id"`
	OrganizationID string    `grove:"organization_id" bson:"organization_id"`
	Name           string    `grove:"name"            bson:"name"`
	CreatedAt      time.Time `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"      bson:"updated_at"`
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

	ID                     string            `grove:"id,pk"                    bson:"_id"`
	OrganizationID         string            `grove:"organization_id"          bson:"organization_id"`
	PlanID                 string            `grove:"plan_id"                  bson:"plan_id"`
	Status                 string            `grove:"status"                   bson:"status"`
	StartedAt              time.Time         `grove:"started_at"               bson:"started_at"`
	ExpiresAt              *time.Time        `grove:"expires_at"               bson:"expires_at,omitempty"`
	EndedAt                *time.Time        `grove:"ended_at"                 bson:"ended_at,omitempty"`
	ExternalCustomerID     string            `grove:"external_customer_id"     bson:"external_customer_id"`
	ExternalSubscriptionID string            `grove:"external_subscription_id" bson:"external_subscription_id"`
	PaymentFailedCount     int               `grove:"payment_failed_count"     bson:"payment_failed_count"`
	Metadata               map[string]string `grove:"metadata"                 bson:"metadata,omitempty"`
	CreatedAt              time.Time         `grove:"created_at"               bson:"created_at"`
	UpdatedAt              time.Time         `grove:"updated_at"               bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                     s.ID.String(),
		OrganizationID:         s.OrganizationID,
		PlanID:                 s.PlanID,
		Status:                 string(s.Status),
		StartedAt:              s.StartedAt,
		ExpiresAt:              s.ExpiresAt,
		EndedAt:                s.EndedAt,
		ExternalCustomerID:     s.ExternalCustomerID,
		ExternalSubscriptionID: s.ExternalSubscriptionID,
		PaymentFailedCount:     s.PaymentFailedCount,
		Metadata:               s.Metadata,
		CreatedAt:              s.CreatedAt,
		UpdatedAt:              s.UpdatedAt,
	}
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

	ID            string    `grove:"id,pk"          bson:"_id"`
	PrincipalID   string    `grove:"principal_id"   bson:"principal_id"`
	Seq           int64     `grove:"seq"            bson:"seq"`
	Amount        int64     `grove:"amount"         bson:"amount"`
	BalanceBefore int64     `grove:"balance_before" bson:"balance_before"`
	BalanceAfter  int64     `grove:"balance_after"  bson:"balance_after"`
	Type          string    `grove:"type"           bson:"type"`
	ReferenceID   string    `grove:"reference_id"   bson:"reference_id,omitempty"`
	Description   string    `grove:"description"    bson:"description,omitempty"`
	CreatedAt     time.Time `grove:"created_at"     bson:"created_at"`
}

func toTransactionModel(tx *credit.Transaction) *transactionModel {
	return &transactionModel{
		ID:            tx.ID.String(),
		PrincipalID:   tx.PrincipalID,
		Seq:           tx.Seq,
		Amount:        tx.Amount,
		BalanceBefore: tx.BalanceBefore,
		BalanceAfter:  tx.BalanceAfter,
		Type:          string(tx.Type),
		ReferenceID:   tx.ReferenceID,
		Description:   tx.Description,
		CreatedAt:     tx.CreatedAt,
	}
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

	ID        string    `grove:"id,pk"      bson:"_id"`
	HotelID   string    `grove:"hotel_id"   bson:"hotel_id"`
	ProductID string    `grove:"product_id" bson:"product_id"`
	Status    string    `grove:"status"     bson:"status"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
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

	ID          string    `grove:"id,pk"        bson:"_id"`
	Provider    string    `grove:"provider"     bson:"provider"`
	ExternalID  string    `grove:"external_id"  bson:"external_id"`
	Type        string    `grove:"type"         bson:"type"`
	ProcessedAt time.Time `grove:"processed_at" bson:"processed_at"`
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
