package hotelledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/activation"
	"github.com/xraph/hotelledger/credit"
	"github.com/xraph/hotelledger/organization"
	"github.com/xraph/hotelledger/store/memory"
	"github.com/xraph/hotelledger/subscription"
)

type staticPolicy map[string][]string

func (p staticPolicy) ProductsFor(planID string) ([]string, bool) {
	products, ok := p[planID]
	return products, ok
}

type grantCounter struct{ n atomic.Int32 }

func (*grantCounter) Name() string { return "grant-counter" }

func (g *grantCounter) OnCreditsGranted(context.Context, *credit.Transaction) error {
	g.n.Add(1)
	return nil
}

func newLedger(t *testing.T, opts ...hotelledger.Option) *hotelledger.Ledger {
	t.Helper()
	opts = append([]hotelledger.Option{
		hotelledger.WithPlanPolicy(staticPolicy{
			"starter":      {"housekeeping"},
			"professional": {"housekeeping", "maintenance"},
			"enterprise":   nil,
		}),
		hotelledger.WithRetry(5, time.Millisecond),
	}, opts...)
	l := hotelledger.New(memory.New(), opts...)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = l.Stop() })
	return l
}

func seedHotel(t *testing.T, l *hotelledger.Ledger, orgID, hotelID string) {
	t.Helper()
	ctx := context.Background()
	if err := l.RegisterOrganization(ctx, &organization.Organization{ID: orgID, Name: "Seaside Group", BillingEmail: "billing@seaside.test"}); err != nil {
		t.Fatalf("RegisterOrganization: %v", err)
	}
	if err := l.RegisterHotel(ctx, &organization.Hotel{ID: hotelID, OrganizationID: orgID, Name: "Seaside Lisbon"}); err != nil {
		t.Fatalf("RegisterHotel: %v", err)
	}
}

func TestGrantIsIdempotentByReference(t *testing.T) {
	ctx := context.Background()
	counter := &grantCounter{}
	l := newLedger(t, hotelledger.WithPlugin(counter))

	first, created, err := l.Grant(ctx, "org-1", 11000, credit.TypeCreditPurchase, "cs_test_1")
	if err != nil || !created {
		t.Fatalf("first grant: created=%v err=%v", created, err)
	}

	second, created, err := l.Grant(ctx, "org-1", 11000, credit.TypeCreditPurchase, "cs_test_1")
	if err != nil {
		t.Fatalf("second grant: %v", err)
	}
	if created {
		t.Fatal("redelivered grant appended a new transaction")
	}
	if second.ID != first.ID {
		t.Fatalf("second grant returned %s, want %s", second.ID, first.ID)
	}

	balance, _ := l.BalanceOf(ctx, "org-1")
	if balance != 11000 {
		t.Fatalf("balance = %d, want 11000", balance)
	}
	tokens, _ := l.TokensOf(ctx, "org-1")
	if tokens != 11000*credit.TokensPerCredit {
		t.Fatalf("tokens = %d", tokens)
	}
	if counter.n.Load() != 1 {
		t.Fatalf("OnCreditsGranted fired %d times, want 1", counter.n.Load())
	}
}

func TestGrantValidation(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		amount int64
		typ    credit.TransactionType
		org    string
		want   error
	}{
		{"zero amount", 0, credit.TypeCreditPurchase, "org-1", hotelledger.ErrInvalidAmount},
		{"negative amount", -5, credit.TypeRefund, "org-1", hotelledger.ErrInvalidAmount},
		{"consumption type", 10, credit.TypeConsumption, "org-1", hotelledger.ErrInvalidInput},
		{"unknown type", 10, credit.TransactionType("gift"), "org-1", hotelledger.ErrInvalidInput},
		{"missing principal", 10, credit.TypeCreditPurchase, "", hotelledger.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := l.Grant(ctx, tt.org, tt.amount, tt.typ, "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !hotelledger.IsValidation(err) {
				t.Fatalf("IsValidation(%v) = false", err)
			}
		})
	}
}

func TestConsumeInsufficientBalanceLeavesLedgerUnchanged(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	if _, _, err := l.Grant(ctx, "org-1", 300, credit.TypeCreditPurchase, "cs_300"); err != nil {
		t.Fatal(err)
	}

	_, err := l.Consume(ctx, "org-1", 500, "guest messaging")
	if !errors.Is(err, hotelledger.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if hotelledger.KindOf(err) != hotelledger.KindInsufficientBalance {
		t.Fatalf("KindOf = %v", hotelledger.KindOf(err))
	}

	balance, _ := l.BalanceOf(ctx, "org-1")
	if balance != 300 {
		t.Fatalf("balance = %d, want 300", balance)
	}
	history, _ := l.HistoryOf(ctx, "org-1", credit.ListOpts{})
	if len(history) != 1 {
		t.Fatalf("history has %d transactions, want 1", len(history))
	}
}

func TestConcurrentConsumeNeverOverdraws(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	if _, _, err := l.Grant(ctx, "org-1", 100, credit.TypeCreditPurchase, "cs_100"); err != nil {
		t.Fatal(err)
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Consume(ctx, "org-1", 10, "report"); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 10 {
		t.Fatalf("%d consumptions succeeded, want 10", succeeded.Load())
	}
	balance, err := l.VerifyBalance(ctx, "org-1")
	if err != nil {
		t.Fatalf("VerifyBalance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0", balance)
	}
}

func TestReplayMatchesBalance(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	steps := []func() error{
		func() error {
			_, _, err := l.Grant(ctx, "org-1", 2000, credit.TypeSubscriptionInitial, "cs_a")
			return err
		},
		func() error { _, err := l.Consume(ctx, "org-1", 150, "sms"); return err },
		func() error { _, _, err := l.Adjust(ctx, "org-1", -50, "adj-1", "correction"); return err },
		func() error { _, _, err := l.Refund(ctx, "org-1", 75, "re_1", "refund"); return err },
		func() error {
			_, _, err := l.Grant(ctx, "org-1", 500, credit.TypeSubscriptionRenewal, "in_1")
			return err
		},
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	balance, err := l.VerifyBalance(ctx, "org-1")
	if err != nil {
		t.Fatalf("VerifyBalance: %v", err)
	}
	if balance != 2375 {
		t.Fatalf("balance = %d, want 2375", balance)
	}

	asc, _ := l.HistoryOf(ctx, "org-1", credit.ListOpts{Ascending: true})
	for i, tx := range asc {
		if tx.Seq != int64(i+1) {
			t.Fatalf("tx %d has seq %d", i, tx.Seq)
		}
	}

	grants, _ := l.HistoryOf(ctx, "org-1", credit.ListOpts{Types: []credit.TransactionType{credit.TypeConsumption}})
	if len(grants) != 1 || grants[0].Amount != -150 {
		t.Fatalf("consumption filter returned %v", grants)
	}
}

func TestAdjustCannotOverdraw(t *testing.T) {
	l := newLedger(t)
	_, _, err := l.Adjust(context.Background(), "org-1", -10, "adj", "")
	if !errors.Is(err, hotelledger.ErrInsufficientBalance) {
		t.Fatalf("err = %v", err)
	}
}

func TestSupersedeKeepsSingleActiveSubscription(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	starter, err := l.Supersede(ctx, "org-1", &subscription.Subscription{
		PlanID:                 "starter",
		ExternalSubscriptionID: "sub_starter",
	})
	if err != nil {
		t.Fatalf("Supersede starter: %v", err)
	}

	pro, err := l.Supersede(ctx, "org-1", &subscription.Subscription{
		PlanID:                 "professional",
		ExternalSubscriptionID: "sub_pro",
	})
	if err != nil {
		t.Fatalf("Supersede professional: %v", err)
	}

	// Redelivery of the same provider subscription is a no-op.
	again, err := l.Supersede(ctx, "org-1", &subscription.Subscription{
		PlanID:                 "professional",
		ExternalSubscriptionID: "sub_pro",
	})
	if err != nil {
		t.Fatalf("Supersede redelivery: %v", err)
	}
	if again.ID != pro.ID {
		t.Fatalf("redelivery created %s, want %s", again.ID, pro.ID)
	}

	active, err := l.ActiveSubscription(ctx, "org-1")
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != pro.ID {
		t.Fatalf("active = %s, want %s", active.ID, pro.ID)
	}

	old, _ := l.Subscription(ctx, starter.ID)
	if old.Status != subscription.StatusCancelled || old.EndedAt == nil {
		t.Fatalf("starter status = %s ended=%v", old.Status, old.EndedAt)
	}

	all, _ := l.Subscriptions(ctx, "org-1", subscription.ListOpts{Status: subscription.StatusActive})
	if len(all) != 1 {
		t.Fatalf("%d active rows, want 1", len(all))
	}
}

func TestSupersedeConcurrent(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			plan := "starter"
			if i%2 == 0 {
				plan = "professional"
			}
			if _, err := l.Supersede(ctx, "org-1", &subscription.Subscription{PlanID: plan}); err != nil {
				t.Errorf("Supersede: %v", err)
			}
		}()
	}
	wg.Wait()

	active, _ := l.Subscriptions(ctx, "org-1", subscription.ListOpts{Status: subscription.StatusActive})
	if len(active) != 1 {
		t.Fatalf("%d active rows, want 1", len(active))
	}
}

func TestPaymentFailureEscalation(t *testing.T) {
	l := newLedger(t, hotelledger.WithPaymentFailureThreshold(3))
	ctx := context.Background()

	sub, err := l.Supersede(ctx, "org-1", &subscription.Subscription{PlanID: "starter"})
	if err != nil {
		t.Fatal(err)
	}

	want := []subscription.Status{
		subscription.StatusPastDue,
		subscription.StatusPastDue,
		subscription.StatusSuspended,
		subscription.StatusSuspended,
	}
	for i, status := range want {
		got, err := l.RecordPaymentFailure(ctx, sub.ID, 0)
		if err != nil {
			t.Fatalf("failure %d: %v", i+1, err)
		}
		if got.Status != status {
			t.Fatalf("after failure %d status = %s, want %s", i+1, got.Status, status)
		}
	}

	if _, err := l.ActiveSubscription(ctx, "org-1"); !errors.Is(err, hotelledger.ErrNoActiveSubscription) {
		t.Fatalf("ActiveSubscription err = %v", err)
	}

	expires := time.Now().Add(30 * 24 * time.Hour).UTC()
	restored, err := l.RestoreSubscription(ctx, sub.ID, &expires)
	if err != nil {
		t.Fatalf("RestoreSubscription: %v", err)
	}
	if restored.Status != subscription.StatusActive || restored.PaymentFailedCount != 0 {
		t.Fatalf("restored = %s/%d", restored.Status, restored.PaymentFailedCount)
	}
	if restored.ExpiresAt == nil || !restored.ExpiresAt.Equal(expires) {
		t.Fatalf("expires_at = %v", restored.ExpiresAt)
	}
}

func TestMarkStatus(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	sub, _ := l.Supersede(ctx, "org-1", &subscription.Subscription{PlanID: "starter"})

	if _, err := l.MarkStatus(ctx, sub.ID, subscription.Status("paused")); !errors.Is(err, hotelledger.ErrInvalidStatus) {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}

	got, err := l.MarkStatus(ctx, sub.ID, subscription.StatusCancelled)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != subscription.StatusCancelled || got.EndedAt == nil {
		t.Fatalf("status = %s ended=%v", got.Status, got.EndedAt)
	}
	if _, err := l.RestoreSubscription(ctx, sub.ID, nil); !errors.Is(err, hotelledger.ErrInvalidStatus) {
		t.Fatalf("restore of cancelled row err = %v", err)
	}
}

func TestSetProductStatusEntitlement(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	seedHotel(t, l, "org-1", "hotel-1")

	if _, err := l.SetProductStatus(ctx, "hotel-1", "housekeeping", activation.StatusActive); !errors.Is(err, hotelledger.ErrNoEntitlement) {
		t.Fatalf("unentitled activation err = %v", err)
	}
	if _, err := l.SetProductStatus(ctx, "hotel-1", "housekeeping", activation.StatusPaused); err != nil {
		t.Fatalf("pausing must always be allowed: %v", err)
	}

	if _, err := l.Supersede(ctx, "org-1", &subscription.Subscription{PlanID: "starter"}); err != nil {
		t.Fatal(err)
	}

	first, err := l.SetProductStatus(ctx, "hotel-1", "housekeeping", activation.StatusActive)
	if err != nil {
		t.Fatalf("activate housekeeping: %v", err)
	}
	second, err := l.SetProductStatus(ctx, "hotel-1", "housekeeping", activation.StatusActive)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatal("repeated activation created a second row")
	}

	if _, err := l.SetProductStatus(ctx, "hotel-1", "maintenance", activation.StatusActive); !errors.Is(err, hotelledger.ErrNoEntitlement) {
		t.Fatalf("product outside plan err = %v", err)
	}

	// Credits unlock products outside the plan.
	if _, _, err := l.Grant(ctx, "org-1", 10, credit.TypeCreditPurchase, "cs_small"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.SetProductStatus(ctx, "hotel-1", "maintenance", activation.StatusActive); err != nil {
		t.Fatalf("credit-backed activation: %v", err)
	}

	products, _ := l.HotelProducts(ctx, "hotel-1")
	if len(products) != 2 {
		t.Fatalf("%d activations, want 2", len(products))
	}

	status, err := l.ProductStatus(ctx, "hotel-1", "spa")
	if err != nil || status != activation.StatusInactive {
		t.Fatalf("unknown product status = %s, %v", status, err)
	}
}

func TestSetProductStatusValidation(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	seedHotel(t, l, "org-1", "hotel-1")

	tests := []struct {
		name    string
		hotel   string
		product string
		status  activation.Status
		want    error
	}{
		{"missing hotel id", "", "housekeeping", activation.StatusActive, hotelledger.ErrInvalidInput},
		{"missing product id", "hotel-1", "", activation.StatusActive, hotelledger.ErrInvalidInput},
		{"bad status", "hotel-1", "housekeeping", activation.Status("on"), hotelledger.ErrInvalidStatus},
		{"unknown hotel", "hotel-9", "housekeeping", activation.StatusPaused, hotelledger.ErrHotelNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.SetProductStatus(ctx, tt.hotel, tt.product, tt.status)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRegisterHotelRequiresOrganization(t *testing.T) {
	l := newLedger(t)
	err := l.RegisterHotel(context.Background(), &organization.Hotel{ID: "h", OrganizationID: "missing", Name: "x"})
	if !errors.Is(err, hotelledger.ErrOrganizationNotFound) {
		t.Fatalf("err = %v", err)
	}
}
