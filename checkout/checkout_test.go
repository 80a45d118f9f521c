package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/catalog"
	"github.com/xraph/hotelledger/organization"
	"github.com/xraph/hotelledger/provider"
	"github.com/xraph/hotelledger/provider/mock"
	"github.com/xraph/hotelledger/store/memory"
	"github.com/xraph/hotelledger/subscription"
)

type fixture struct {
	ledger   *hotelledger.Ledger
	provider *mock.Provider
	builder  *Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalog.Default()

	l := hotelledger.New(memory.New(),
		hotelledger.WithPlanPolicy(cat),
		hotelledger.WithLogger(logger),
		hotelledger.WithRetry(3, time.Millisecond),
	)
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = l.Stop() })

	if err := l.RegisterOrganization(ctx, &organization.Organization{
		ID: "org-1", Name: "Harbour Hotels", BillingEmail: "billing@harbour.test",
	}); err != nil {
		t.Fatalf("RegisterOrganization: %v", err)
	}

	p := mock.New(mock.WithLogger(logger))
	return &fixture{
		ledger:   l,
		provider: p,
		builder: NewBuilder(cat, l, p,
			WithLogger(logger),
			WithRedirectURLs("https://app.test/billing/success", "https://app.test/billing"),
		),
	}
}

func (f *fixture) subscribe(t *testing.T, planID, externalID string) *subscription.Subscription {
	t.Helper()
	sub, err := f.ledger.Supersede(context.Background(), "org-1", &subscription.Subscription{
		PlanID:                 planID,
		ExternalCustomerID:     "cus_existing",
		ExternalSubscriptionID: externalID,
	})
	if err != nil {
		t.Fatalf("Supersede: %v", err)
	}
	return sub
}

func TestCreditPurchase(t *testing.T) {
	f := newFixture(t)

	res, err := f.builder.CreditPurchase(context.Background(), CreditPurchaseRequest{
		OrganizationID: "org-1",
		CreditPackID:   "large",
	})
	if err != nil {
		t.Fatalf("CreditPurchase: %v", err)
	}
	if res.SessionID == "" || res.CheckoutURL != "https://app.test/billing/success" || !res.Mock {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Mode != provider.ModePayment {
		t.Errorf("mode = %s", res.Mode)
	}

	sessions := f.provider.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(sessions))
	}
	got := sessions[0]
	want := map[string]string{
		provider.MetaOrganizationID: "org-1",
		provider.MetaTotalCredits:   "11000",
		provider.MetaPackID:         "large",
		provider.MetaType:           provider.PurchaseCredits,
	}
	for k, v := range want {
		if got.Metadata[k] != v {
			t.Errorf("metadata %s = %q, want %q", k, got.Metadata[k], v)
		}
	}
	if len(got.LineItems) != 1 || got.LineItems[0].PriceID != "price_pack_large" {
		t.Errorf("unexpected line items %+v", got.LineItems)
	}
}

func TestCreditPurchaseErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  CreditPurchaseRequest
		want func(error) bool
	}{
		{"missing org", CreditPurchaseRequest{CreditPackID: "small"}, hotelledger.IsValidation},
		{"missing pack", CreditPurchaseRequest{OrganizationID: "org-1"}, hotelledger.IsValidation},
		{"unknown pack", CreditPurchaseRequest{OrganizationID: "org-1", CreditPackID: "huge"}, hotelledger.IsNotFound},
		{"unknown org", CreditPurchaseRequest{OrganizationID: "org-404", CreditPackID: "small"}, hotelledger.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.builder.CreditPurchase(context.Background(), tt.req)
			if !tt.want(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
	if n := len(f.provider.Sessions()); n != 0 {
		t.Fatalf("failed requests created %d sessions", n)
	}
}

func TestSubscriptionNew(t *testing.T) {
	f := newFixture(t)

	res, err := f.builder.Subscription(context.Background(), SubscriptionRequest{
		PlanID:         "starter",
		Amount:         49,
		Credits:        500,
		Email:          "owner@harbour.test",
		UserID:         "usr-7",
		OrganizationID: "org-1",
		Metadata:       map[string]string{"source": "pricing-page", provider.MetaPlanID: "enterprise"},
	})
	if err != nil {
		t.Fatalf("Subscription: %v", err)
	}
	if res.Action != catalog.ActionNew || res.Mode != provider.ModeSubscription || res.CustomerID == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	sess := f.provider.Sessions()[0]
	if sess.Metadata[provider.MetaPlanID] != "starter" {
		t.Errorf("client metadata overrode plan id: %v", sess.Metadata)
	}
	if sess.Metadata["source"] != "pricing-page" || sess.Metadata[provider.MetaUserID] != "usr-7" {
		t.Errorf("missing metadata: %v", sess.Metadata)
	}
	if _, ok := sess.Metadata[provider.MetaReplaceSubscription]; ok {
		t.Error("new subscription must not carry replace_subscription")
	}
	if sess.SubscriptionMetadata[provider.MetaType] != provider.PurchaseSubscription {
		t.Errorf("subscription metadata = %v", sess.SubscriptionMetadata)
	}
}

func TestSubscriptionUpgradeCarriesReplacement(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "starter", "sub_starter")

	res, err := f.builder.Subscription(context.Background(), SubscriptionRequest{
		PlanID:         "professional",
		OrganizationID: "org-1",
	})
	if err != nil {
		t.Fatalf("Subscription: %v", err)
	}
	if res.Action != catalog.ActionUpgrade {
		t.Errorf("action = %s", res.Action)
	}
	if res.CustomerID != "cus_existing" {
		t.Errorf("expected the subscription's customer to be reused, got %q", res.CustomerID)
	}

	sess := f.provider.Sessions()[0]
	if sess.Metadata[provider.MetaReplaceSubscription] != "sub_starter" {
		t.Errorf("metadata = %v", sess.Metadata)
	}
	if sess.Metadata[provider.MetaAction] != string(catalog.ActionUpgrade) {
		t.Errorf("action metadata = %q", sess.Metadata[provider.MetaAction])
	}
}

func TestPlanChange(t *testing.T) {
	ctx := context.Background()

	t.Run("requires an active subscription", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.builder.PlanChange(ctx, PlanChangeRequest{OrganizationID: "org-1", NewPlanID: "professional"})
		if !errors.Is(err, hotelledger.ErrNoActiveSubscription) {
			t.Fatalf("expected ErrNoActiveSubscription, got %v", err)
		}
	})

	t.Run("same plan", func(t *testing.T) {
		f := newFixture(t)
		f.subscribe(t, "professional", "sub_pro")
		_, err := f.builder.PlanChange(ctx, PlanChangeRequest{OrganizationID: "org-1", NewPlanID: "professional"})
		if !errors.Is(err, hotelledger.ErrPlanUnchanged) || hotelledger.KindOf(err) != hotelledger.KindValidation {
			t.Fatalf("expected ErrPlanUnchanged, got %v", err)
		}
	})

	t.Run("stale subscription id", func(t *testing.T) {
		f := newFixture(t)
		f.subscribe(t, "professional", "sub_pro")
		_, err := f.builder.PlanChange(ctx, PlanChangeRequest{
			OrganizationID: "org-1", NewPlanID: "starter", CurrentSubscriptionID: "sub_stale",
		})
		if !errors.Is(err, hotelledger.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("downgrade", func(t *testing.T) {
		f := newFixture(t)
		sub := f.subscribe(t, "enterprise", "sub_ent")
		res, err := f.builder.PlanChange(ctx, PlanChangeRequest{
			OrganizationID: "org-1", NewPlanID: "starter", CurrentSubscriptionID: sub.ID.String(),
		})
		if err != nil {
			t.Fatalf("PlanChange: %v", err)
		}
		if res.Action != catalog.ActionDowngrade || res.Message == "" || res.SessionID == "" {
			t.Fatalf("unexpected result %+v", res)
		}
	})

	t.Run("unknown plan", func(t *testing.T) {
		f := newFixture(t)
		f.subscribe(t, "starter", "sub_starter")
		_, err := f.builder.PlanChange(ctx, PlanChangeRequest{OrganizationID: "org-1", NewPlanID: "platinum"})
		if !errors.Is(err, hotelledger.ErrPlanNotFound) {
			t.Fatalf("expected ErrPlanNotFound, got %v", err)
		}
	})
}

func TestSubscriptionDropsReservedMetadata(t *testing.T) {
	tests := []struct {
		name        string
		active      string
		wantReplace string
	}{
		{"no active subscription", "", ""},
		{"active subscription", "sub_starter", "sub_starter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.active != "" {
				f.subscribe(t, "starter", tt.active)
			}

			_, err := f.builder.Subscription(context.Background(), SubscriptionRequest{
				PlanID:         "professional",
				OrganizationID: "org-1",
				Metadata: map[string]string{
					provider.MetaReplaceSubscription: "sub_someone_else",
					provider.MetaTotalCredits:        "999999",
					provider.MetaPackID:              "large",
					provider.MetaAction:              "renew",
					provider.MetaType:                provider.PurchaseCredits,
					"campaign":                       "spring",
				},
			})
			if err != nil {
				t.Fatalf("Subscription: %v", err)
			}

			sess := f.provider.Sessions()[0]
			for _, meta := range []map[string]string{sess.Metadata, sess.SubscriptionMetadata} {
				if got := meta[provider.MetaReplaceSubscription]; got != tt.wantReplace {
					t.Errorf("replace_subscription = %q, want %q", got, tt.wantReplace)
				}
				if _, ok := meta[provider.MetaTotalCredits]; ok {
					t.Errorf("client totalCredits leaked: %v", meta)
				}
				if _, ok := meta[provider.MetaPackID]; ok {
					t.Errorf("client packId leaked: %v", meta)
				}
				if meta[provider.MetaType] != provider.PurchaseSubscription {
					t.Errorf("type = %q", meta[provider.MetaType])
				}
				if meta[provider.MetaAction] == "renew" {
					t.Errorf("client action kept: %v", meta)
				}
				if meta["campaign"] != "spring" {
					t.Errorf("custom metadata dropped: %v", meta)
				}
			}
		})
	}
}

func TestSubscriptionWithoutEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.ledger.RegisterOrganization(ctx, &organization.Organization{ID: "org-2", Name: "Quay Inn"}); err != nil {
		t.Fatalf("RegisterOrganization: %v", err)
	}

	res, err := f.builder.Subscription(ctx, SubscriptionRequest{PlanID: "starter", OrganizationID: "org-2"})
	if err != nil {
		t.Fatalf("Subscription: %v", err)
	}
	if res.CustomerID != "" || res.SessionID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if sess := f.provider.Sessions()[0]; sess.CustomerID != "" {
		t.Errorf("session customer = %q, want none", sess.CustomerID)
	}
}
