package subscription

import (
	"time"

	"github.com/xraph/hotelledger/id"
	"github.com/xraph/hotelledger/types"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPastDue, StatusSuspended, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Live reports whether a subscription in this status is still the
// organization's current one (active, or awaiting payment).
func (s Status) Live() bool {
	return s == StatusActive || s == StatusPastDue || s == StatusSuspended
}

// Terminal reports whether the status ends the subscription.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// LiveStatuses lists the statuses closed by a supersede.
var LiveStatuses = []Status{StatusActive, StatusPastDue, StatusSuspended}

type Subscription struct {
	types.Entity
	ID                     id.SubscriptionID `json:"id"`
	OrganizationID         string            `json:"organization_id"`
	PlanID                 string            `json:"plan_id"`
	Status                 Status            `json:"status"`
	StartedAt              time.Time         `json:"started_at"`
	ExpiresAt              *time.Time        `json:"expires_at,omitempty"`
	EndedAt                *time.Time        `json:"ended_at,omitempty"`
	ExternalCustomerID     string            `json:"external_customer_id,omitempty"`
	ExternalSubscriptionID string            `json:"external_subscription_id,omitempty"`
	PaymentFailedCount     int               `json:"payment_failed_count"`
	Metadata               map[string]string `json:"metadata,omitempty"`
}
