// Package provider defines the boundary to the external payment provider.
// Provider payloads are decoded into the explicit types below at the edge;
// nothing downstream ever sees an untyped provider response.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrWebhookNotConfigured is returned by ParseEvent when the provider has
// no webhook signing secret.
var ErrWebhookNotConfigured = errors.New("provider: webhook secret not configured")

// Metadata keys written on checkout sessions and read back by the reconciler.
const (
	MetaOrganizationID      = "organizationId"
	MetaUserID              = "userId"
	MetaPlanID              = "planId"
	MetaPackID              = "packId"
	MetaTotalCredits        = "totalCredits"
	MetaType                = "type"
	MetaAction              = "action"
	MetaReplaceSubscription = "replace_subscription"
)

var reservedMeta = map[string]bool{
	MetaOrganizationID:      true,
	MetaUserID:              true,
	MetaPlanID:              true,
	MetaPackID:              true,
	MetaTotalCredits:        true,
	MetaType:                true,
	MetaAction:              true,
	MetaReplaceSubscription: true,
}

// IsReservedMetadata reports whether key is one of the metadata keys the
// reconciler acts on. Callers may not supply these.
func IsReservedMetadata(key string) bool {
	return reservedMeta[key]
}

// Values of the MetaType discriminator.
const (
	PurchaseCredits      = "credit_purchase"
	PurchaseSubscription = "subscription"
)

// Provider is implemented by the Stripe client and by the mock used when no
// secret key is configured.
type Provider interface {
	// Name identifies the provider in logs and in the webhook event store.
	Name() string
	// FindCustomerByEmail returns the first customer with email, or
	// (nil, nil) when there is none.
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error)
	CreateCheckoutSession(ctx context.Context, params SessionParams) (*Session, error)
	CancelSubscription(ctx context.Context, externalSubscriptionID string) error
	// ParseEvent verifies a webhook signature and decodes the payload.
	ParseEvent(payload []byte, signature string) (*Event, error)
}

type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type CustomerParams struct {
	Email    string
	Name     string
	Metadata map[string]string
}

// Mode is the checkout session mode.
type Mode string

const (
	ModePayment      Mode = "payment"
	ModeSubscription Mode = "subscription"
)

type LineItem struct {
	PriceID  string
	Quantity int64
}

type SessionParams struct {
	Mode       Mode
	CustomerID string
	LineItems  []LineItem
	SuccessURL string
	CancelURL  string
	// Metadata is attached to the session itself.
	Metadata map[string]string
	// SubscriptionMetadata is attached to the subscription a
	// subscription-mode session creates.
	SubscriptionMetadata map[string]string
	IdempotencyKey       string
}

type Session struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	CustomerID string `json:"customer_id"`
	Mode       Mode   `json:"mode"`
	// Mock is set by the null provider.
	Mock bool `json:"mock,omitempty"`
}

// EventType is a provider notification type.
type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout.session.completed"
	EventInvoicePaid          EventType = "invoice.paid"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
	EventSubscriptionUpdated  EventType = "customer.subscription.updated"
	EventSubscriptionDeleted  EventType = "customer.subscription.deleted"
)

// Event is a verified provider notification. Exactly one of the payload
// pointers is set for the types above; other types carry none.
type Event struct {
	ID       string
	Provider string
	Type     EventType
	Created  time.Time

	Checkout     *CheckoutCompleted
	Invoice      *Invoice
	Subscription *SubscriptionChange
}

// CheckoutCompleted is the payload of checkout.session.completed.
type CheckoutCompleted struct {
	SessionID      string            `json:"session_id,omitempty"`
	Mode           Mode              `json:"mode,omitempty"`
	CustomerID     string            `json:"customer_id,omitempty"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	PaymentStatus  string            `json:"payment_status,omitempty"`
	AmountTotal    int64             `json:"amount_total,omitempty"`
	Currency       string            `json:"currency,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Paid reports whether the session collected its payment.
func (c *CheckoutCompleted) Paid() bool {
	return c.PaymentStatus == "" || c.PaymentStatus == "paid" || c.PaymentStatus == "no_payment_required"
}

// Invoice is the payload of invoice.paid and invoice.payment_failed.
type Invoice struct {
	ID             string `json:"id,omitempty"`
	CustomerID     string `json:"customer_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	// BillingReason distinguishes the first invoice of a subscription
	// (subscription_create) from renewals (subscription_cycle).
	BillingReason string            `json:"billing_reason,omitempty"`
	AttemptCount  int64             `json:"attempt_count,omitempty"`
	AmountPaid    int64             `json:"amount_paid,omitempty"`
	PeriodEnd     time.Time         `json:"period_end,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Billing reasons.
const (
	BillingReasonCreate = "subscription_create"
	BillingReasonCycle  = "subscription_cycle"
	BillingReasonUpdate = "subscription_update"
)

// SubscriptionChange is the payload of customer.subscription.* events.
type SubscriptionChange struct {
	ID                string            `json:"id,omitempty"`
	CustomerID        string            `json:"customer_id,omitempty"`
	Status            string            `json:"status,omitempty"`
	CurrentPeriodEnd  time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Provider-side subscription statuses.
const (
	SubscriptionActive   = "active"
	SubscriptionTrialing = "trialing"
	SubscriptionPastDue  = "past_due"
	SubscriptionUnpaid   = "unpaid"
	SubscriptionCanceled = "canceled"
)
