package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/provider"
)

// Minimal views of the Stripe objects the reconciler needs. Decoding into
// these instead of the full stripe-go types keeps the boundary independent
// of the account's API version.

type expandable string

// UnmarshalJSON accepts either an id string or an expanded object.
func (e *expandable) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = expandable(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandable(obj.ID)
	return nil
}

type checkoutSessionObject struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"`
	Customer      expandable        `json:"customer"`
	Subscription  expandable        `json:"subscription"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

type invoiceObject struct {
	ID            string            `json:"id"`
	Customer      expandable        `json:"customer"`
	Subscription  expandable        `json:"subscription"`
	BillingReason string            `json:"billing_reason"`
	AttemptCount  int64             `json:"attempt_count"`
	AmountPaid    int64             `json:"amount_paid"`
	PeriodEnd     int64             `json:"period_end"`
	Metadata      map[string]string `json:"metadata"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription expandable        `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

type subscriptionObject struct {
	ID                string            `json:"id"`
	Customer          expandable        `json:"customer"`
	Status            string            `json:"status"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// ParseEvent implements provider.Provider. The signature is the raw
// Stripe-Signature header.
func (c *Client) ParseEvent(payload []byte, signature string) (*provider.Event, error) {
	if c.webhookSecret == "" {
		return nil, provider.ErrWebhookNotConfigured
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hotelledger.ErrWebhookSignature, err)
	}

	return decodeEvent(evt)
}

func decodeEvent(evt stripego.Event) (*provider.Event, error) {
	out := &provider.Event{
		ID:       evt.ID,
		Provider: Name,
		Type:     provider.EventType(evt.Type),
		Created:  unix(evt.Created),
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: event has no id", hotelledger.ErrWebhookPayload)
	}

	var raw json.RawMessage
	if evt.Data != nil {
		raw = evt.Data.Raw
	}

	switch out.Type {
	case provider.EventCheckoutCompleted:
		var obj checkoutSessionObject
		if err := decodeObject(raw, &obj); err != nil {
			return nil, err
		}
		out.Checkout = &provider.CheckoutCompleted{
			SessionID:      obj.ID,
			Mode:           provider.Mode(obj.Mode),
			CustomerID:     string(obj.Customer),
			SubscriptionID: string(obj.Subscription),
			PaymentStatus:  obj.PaymentStatus,
			AmountTotal:    obj.AmountTotal,
			Currency:       obj.Currency,
			Metadata:       obj.Metadata,
		}

	case provider.EventInvoicePaid, provider.EventInvoicePaymentFailed:
		var obj invoiceObject
		if err := decodeObject(raw, &obj); err != nil {
			return nil, err
		}
		out.Invoice = toInvoice(&obj)

	case provider.EventSubscriptionUpdated, provider.EventSubscriptionDeleted:
		var obj subscriptionObject
		if err := decodeObject(raw, &obj); err != nil {
			return nil, err
		}
		periodEnd := obj.CurrentPeriodEnd
		if periodEnd == 0 && len(obj.Items.Data) > 0 {
			periodEnd = obj.Items.Data[0].CurrentPeriodEnd
		}
		out.Subscription = &provider.SubscriptionChange{
			ID:                obj.ID,
			CustomerID:        string(obj.Customer),
			Status:            obj.Status,
			CurrentPeriodEnd:  unix(periodEnd),
			CancelAtPeriodEnd: obj.CancelAtPeriodEnd,
			Metadata:          obj.Metadata,
		}
	}

	return out, nil
}

func toInvoice(obj *invoiceObject) *provider.Invoice {
	inv := &provider.Invoice{
		ID:             obj.ID,
		CustomerID:     string(obj.Customer),
		SubscriptionID: string(obj.Subscription),
		BillingReason:  obj.BillingReason,
		AttemptCount:   obj.AttemptCount,
		AmountPaid:     obj.AmountPaid,
		Metadata:       obj.Metadata,
	}

	// Newer API versions moved the subscription under parent.
	if obj.Parent != nil && obj.Parent.SubscriptionDetails != nil {
		details := obj.Parent.SubscriptionDetails
		if inv.SubscriptionID == "" {
			inv.SubscriptionID = string(details.Subscription)
		}
		if len(inv.Metadata) == 0 {
			inv.Metadata = details.Metadata
		}
	}

	// The invoice's own period_end is the end of the previous period; the
	// line item period is the one just paid for.
	var end int64
	for _, line := range obj.Lines.Data {
		if line.Period.End > end {
			end = line.Period.End
		}
	}
	if end == 0 {
		end = obj.PeriodEnd
	}
	inv.PeriodEnd = unix(end)

	return inv
}

func decodeObject(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: event has no data object", hotelledger.ErrWebhookPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", hotelledger.ErrWebhookPayload, err)
	}
	return nil
}

func unix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
