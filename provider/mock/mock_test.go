package mock

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/provider"
)

func TestCustomerRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := New()

	c, err := p.FindCustomerByEmail(ctx, "gm@seaside.test")
	if err != nil || c != nil {
		t.Fatalf("expected no customer, got %+v, %v", c, err)
	}

	created, err := p.CreateCustomer(ctx, provider.CustomerParams{Email: "GM@seaside.test"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if !strings.HasPrefix(created.ID, "cus_mock_") {
		t.Errorf("unexpected id %q", created.ID)
	}

	found, err := p.FindCustomerByEmail(ctx, "gm@seaside.test")
	if err != nil || found == nil || found.ID != created.ID {
		t.Fatalf("expected %s, got %+v, %v", created.ID, found, err)
	}

	if _, err := p.CreateCustomer(ctx, provider.CustomerParams{}); !hotelledger.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCheckoutSessionIsLabelledMock(t *testing.T) {
	p := New()

	sess, err := p.CreateCheckoutSession(context.Background(), provider.SessionParams{
		Mode:       provider.ModePayment,
		SuccessURL: "https://app.test/billing?ok=1",
		Metadata:   map[string]string{provider.MetaOrganizationID: "org-1"},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if !sess.Mock || !strings.HasPrefix(sess.ID, "cs_mock_") {
		t.Fatalf("unexpected session %+v", sess)
	}
	if sess.URL != "https://app.test/billing?ok=1" {
		t.Errorf("url = %q", sess.URL)
	}
	if n := len(p.Sessions()); n != 1 {
		t.Errorf("recorded %d sessions", n)
	}
}

func TestParseEventRequiresOptIn(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want error
	}{
		{"default", nil, provider.ErrWebhookNotConfigured},
		{"with logger only", []Option{WithLogger(slog.Default())}, provider.ErrWebhookNotConfigured},
		{"unsigned events", []Option{WithUnsignedEvents()}, nil},
	}
	payload := []byte(`{"id":"evt_1","type":"invoice.paid","invoice":{"id":"in_1"}}`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...).ParseEvent(payload, "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("ParseEvent error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseEvent(t *testing.T) {
	p := New(WithUnsignedEvents())

	evt, err := p.ParseEvent([]byte(`{"id":"evt_1","type":"checkout.session.completed","created":1760000000,
		"checkout":{"session_id":"cs_1","metadata":{"type":"credit_purchase","organizationId":"org-1","totalCredits":"1000"}}}`), "")
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.Provider != Name || evt.Checkout == nil || evt.Checkout.SessionID != "cs_1" {
		t.Fatalf("unexpected event %+v", evt)
	}

	for _, payload := range []string{`not json`, `{"type":"invoice.paid"}`} {
		if _, err := p.ParseEvent([]byte(payload), ""); !errors.Is(err, hotelledger.ErrWebhookPayload) {
			t.Errorf("%s: expected payload error, got %v", payload, err)
		}
	}
}

func TestCancelSubscriptionRecorded(t *testing.T) {
	p := New()
	if err := p.CancelSubscription(context.Background(), "sub_old"); err != nil {
		t.Fatal(err)
	}
	if got := p.Cancelled(); len(got) != 1 || got[0] != "sub_old" {
		t.Fatalf("cancelled = %v", got)
	}
}
