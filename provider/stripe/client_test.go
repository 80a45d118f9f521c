package stripe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/provider"
)

const testWebhookSecret = "whsec_test_secret"

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripego.GetBackendWithConfig(stripego.APIBackend, &stripego.BackendConfig{
		URL:               stripego.String(srv.URL),
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelNull},
	})

	cfg := Config{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		Timeout:       2 * time.Second,
		Backend:       backend,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNewRequiresSecretKey(t *testing.T) {
	_, err := New(Config{})
	if !hotelledger.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFindCustomerByEmail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/customers" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		switch r.URL.Query().Get("email") {
		case "ops@grandhotel.test":
			writeJSON(w, 200, `{"object":"list","url":"/v1/customers","has_more":false,
				"data":[{"id":"cus_123","object":"customer","email":"ops@grandhotel.test","name":"Grand Hotel"}]}`)
		default:
			writeJSON(w, 200, `{"object":"list","url":"/v1/customers","has_more":false,"data":[]}`)
		}
	})

	cust, err := c.FindCustomerByEmail(context.Background(), "ops@grandhotel.test")
	if err != nil {
		t.Fatalf("FindCustomerByEmail: %v", err)
	}
	if cust == nil || cust.ID != "cus_123" {
		t.Fatalf("expected cus_123, got %+v", cust)
	}

	cust, err = c.FindCustomerByEmail(context.Background(), "nobody@example.test")
	if err != nil {
		t.Fatalf("FindCustomerByEmail: %v", err)
	}
	if cust != nil {
		t.Fatalf("expected no customer, got %+v", cust)
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		want := map[string]string{
			"mode":                                "subscription",
			"customer":                            "cus_123",
			"line_items[0][price]":                "price_professional_monthly",
			"line_items[0][quantity]":             "1",
			"metadata[organizationId]":            "org-1",
			"subscription_data[metadata][planId]": "professional",
		}
		for k, v := range want {
			if got := r.PostForm.Get(k); got != v {
				t.Errorf("form %s = %q, want %q", k, got, v)
			}
		}
		writeJSON(w, 200, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_1","customer":"cus_123"}`)
	})

	sess, err := c.CreateCheckoutSession(context.Background(), provider.SessionParams{
		Mode:                 provider.ModeSubscription,
		CustomerID:           "cus_123",
		LineItems:            []provider.LineItem{{PriceID: "price_professional_monthly"}},
		SuccessURL:           "https://app.test/ok",
		CancelURL:            "https://app.test/cancel",
		Metadata:             map[string]string{provider.MetaOrganizationID: "org-1"},
		SubscriptionMetadata: map[string]string{provider.MetaPlanID: "professional"},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if sess.ID != "cs_test_1" || sess.URL == "" || sess.Mock {
		t.Fatalf("unexpected session %+v", sess)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", 401, `{"error":{"type":"invalid_request_error","message":"Invalid API Key"}}`, hotelledger.ErrProviderAuth},
		{"bad request", 400, `{"error":{"type":"invalid_request_error","message":"No such price"}}`, hotelledger.ErrProviderRequest},
		{"rate limited", 429, `{"error":{"type":"invalid_request_error","message":"Too many requests"}}`, hotelledger.ErrProviderUnavailable},
		{"server error", 500, `{"error":{"type":"api_error","message":"boom"}}`, hotelledger.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			_, err := c.CreateCustomer(context.Background(), provider.CustomerParams{Email: "a@b.test"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}

			var perr *hotelledger.ProviderError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *ProviderError, got %T", err)
			}
			if perr.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", perr.StatusCode, tt.status)
			}
		})
	}
}

func TestCancelSubscriptionAlreadyGone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/v1/subscriptions/sub_gone" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		writeJSON(w, 404, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such subscription"}}`)
	})

	if err := c.CancelSubscription(context.Background(), "sub_gone"); err != nil {
		t.Fatalf("expected nil for a missing subscription, got %v", err)
	}
}

func TestBreakerOpensOnOutage(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		writeJSON(w, 503, `{"error":{"type":"api_error","message":"unavailable"}}`)
	}, func(cfg *Config) {
		cfg.BreakerFailures = 2
		cfg.BreakerRequests = 2
		cfg.BreakerDelay = time.Minute
	})

	for i := 0; i < 3; i++ {
		_, err := c.FindCustomerByEmail(context.Background(), "a@b.test")
		if !errors.Is(err, hotelledger.ErrProviderUnavailable) {
			t.Fatalf("call %d: expected unavailable, got %v", i, err)
		}
	}

	if got := hits.Load(); got != 2 {
		t.Fatalf("expected the open breaker to short-circuit the third call, server saw %d", got)
	}
	if !c.BreakerOpen() {
		t.Fatal("expected breaker to be open")
	}
}

func TestBreakerIgnoresRejectedRequests(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 400, `{"error":{"type":"invalid_request_error","message":"bad"}}`)
	}, func(cfg *Config) {
		cfg.BreakerFailures = 1
		cfg.BreakerRequests = 1
	})

	for i := 0; i < 3; i++ {
		_, _ = c.CreateCustomer(context.Background(), provider.CustomerParams{Email: "a@b.test"})
	}
	if c.BreakerOpen() {
		t.Fatal("rejected requests must not open the breaker")
	}
}

func signed(t *testing.T, payload string) (body []byte, header string) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return sp.Payload, sp.Header
}

func TestParseEventCheckout(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {})

	body, sig := signed(t, `{"id":"evt_1","object":"event","type":"checkout.session.completed","created":1760000000,
		"data":{"object":{"id":"cs_1","object":"checkout.session","mode":"payment","customer":"cus_1",
		"payment_status":"paid","amount_total":8500,"currency":"usd",
		"metadata":{"organizationId":"org-1","packId":"large","totalCredits":"11000","type":"credit_purchase"}}}}`)

	evt, err := c.ParseEvent(body, sig)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.ID != "evt_1" || evt.Type != provider.EventCheckoutCompleted || evt.Provider != Name {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt.Checkout == nil || evt.Checkout.SessionID != "cs_1" || !evt.Checkout.Paid() {
		t.Fatalf("unexpected checkout %+v", evt.Checkout)
	}
	if evt.Checkout.Metadata[provider.MetaTotalCredits] != "11000" {
		t.Errorf("metadata not decoded: %v", evt.Checkout.Metadata)
	}
}

func TestParseEventInvoiceParent(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {})

	body, sig := signed(t, `{"id":"evt_2","object":"event","type":"invoice.paid","created":1760000000,
		"data":{"object":{"id":"in_1","object":"invoice","customer":{"id":"cus_1","object":"customer"},
		"billing_reason":"subscription_cycle","attempt_count":1,"amount_paid":14900,"period_end":1760000000,
		"parent":{"subscription_details":{"subscription":"sub_1","metadata":{"organizationId":"org-1"}}},
		"lines":{"data":[{"period":{"start":1760000000,"end":1762592000}}]}}}}`)

	evt, err := c.ParseEvent(body, sig)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	inv := evt.Invoice
	if inv == nil {
		t.Fatal("expected invoice payload")
	}
	if inv.SubscriptionID != "sub_1" || inv.CustomerID != "cus_1" {
		t.Errorf("unexpected ids %+v", inv)
	}
	if inv.Metadata[provider.MetaOrganizationID] != "org-1" {
		t.Errorf("expected parent metadata, got %v", inv.Metadata)
	}
	if !inv.PeriodEnd.Equal(time.Unix(1762592000, 0)) {
		t.Errorf("period end = %v", inv.PeriodEnd)
	}
}

func TestParseEventSubscriptionItemsPeriod(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {})

	body, sig := signed(t, `{"id":"evt_3","object":"event","type":"customer.subscription.updated","created":1760000000,
		"data":{"object":{"id":"sub_1","object":"subscription","customer":"cus_1","status":"past_due",
		"items":{"data":[{"current_period_end":1762592000}]}}}}`)

	evt, err := c.ParseEvent(body, sig)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.Subscription == nil || evt.Subscription.Status != provider.SubscriptionPastDue {
		t.Fatalf("unexpected subscription %+v", evt.Subscription)
	}
	if evt.Subscription.CurrentPeriodEnd.IsZero() {
		t.Error("expected period end from items")
	}
}

func TestParseEventRejects(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {})

	body, _ := signed(t, `{"id":"evt_4","object":"event","type":"invoice.paid","data":{"object":{}}}`)
	if _, err := c.ParseEvent(body, "t=1,v1=deadbeef"); !errors.Is(err, hotelledger.ErrWebhookSignature) {
		t.Fatalf("expected signature error, got %v", err)
	}

	body, sig := signed(t, `{"id":"evt_5","object":"event","type":"invoice.paid","data":{"object":{"id":42}}}`)
	if _, err := c.ParseEvent(body, sig); !errors.Is(err, hotelledger.ErrWebhookPayload) {
		t.Fatalf("expected payload error, got %v", err)
	}

	noSecret := newTestClient(t, func(http.ResponseWriter, *http.Request) {}, func(cfg *Config) {
		cfg.WebhookSecret = ""
	})
	if _, err := noSecret.ParseEvent(body, sig); !errors.Is(err, provider.ErrWebhookNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
}
