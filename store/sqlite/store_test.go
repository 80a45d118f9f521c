package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/activation"
	"github.com/xraph/hotelledger/credit"
	"github.com/xraph/hotelledger/event"
	"github.com/xraph/hotelledger/id"
	"github.com/xraph/hotelledger/organization"
	"github.com/xraph/hotelledger/store/sqlite"
	"github.com/xraph/hotelledger/subscription"
)

type staticPolicy map[string][]string

func (p staticPolicy) ProductsFor(planID string) ([]string, bool) {
	products, ok := p[planID]
	return products, ok
}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()

	dsn := "file:" + filepath.Join(t.TempDir(), "hotelledger.db") +
		"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	sdb := sqlitedriver.New()
	if err := sdb.Open(ctx, dsn); err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db, err := grove.Open(sdb)
	if err != nil {
		t.Fatalf("grove.Open: %v", err)
	}

	s := sqlite.New(db)
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// Migrating twice is a no-op.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	return s
}

func newLedger(t *testing.T) (*hotelledger.Ledger, *sqlite.Store) {
	t.Helper()
	s := newStore(t)
	l := hotelledger.New(s,
		hotelledger.WithPlanPolicy(staticPolicy{
			"starter":      {"housekeeping"},
			"professional": {"housekeeping", "maintenance"},
		}),
		hotelledger.WithRetry(50, time.Millisecond),
	)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = l.Stop() })
	return l, s
}

func TestOrganizationRoundTrip(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	tests := []struct {
		name string
		meta map[string]string
	}{
		{"with metadata", map[string]string{"region": "pt", "segment": "boutique"}},
		{"without metadata", nil},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orgID := "org-" + string(rune('a'+i))
			before := time.Now().UTC().Add(-time.Second)
			if err := l.RegisterOrganization(ctx, &organization.Organization{
				ID: orgID, Name: "Seaside Group", BillingEmail: "billing@seaside.test", Metadata: tt.meta,
			}); err != nil {
				t.Fatalf("RegisterOrganization: %v", err)
			}

			got, err := l.Organization(ctx, orgID)
			if err != nil {
				t.Fatalf("Organization: %v", err)
			}
			if len(got.Metadata) != len(tt.meta) {
				t.Fatalf("metadata = %v, want %v", got.Metadata, tt.meta)
			}
			for k, v := range tt.meta {
				if got.Metadata[k] != v {
					t.Errorf("metadata %s = %q, want %q", k, got.Metadata[k], v)
				}
			}
			if got.CreatedAt.Before(before) || got.CreatedAt.After(time.Now().Add(time.Second)) {
				t.Errorf("created_at = %v", got.CreatedAt)
			}
		})
	}

	if err := l.SetExternalCustomerID(ctx, "org-a", "cus_1"); err != nil {
		t.Fatalf("SetExternalCustomerID: %v", err)
	}
	if got, _ := l.Organization(ctx, "org-a"); got.ExternalCustomerID != "cus_1" || got.Metadata["region"] != "pt" {
		t.Fatalf("after customer update: %+v", got)
	}

	if _, err := l.Organization(ctx, "org-404"); !errors.Is(err, hotelledger.ErrOrganizationNotFound) {
		t.Fatalf("missing organization err = %v", err)
	}
}

func TestGrantIsIdempotentByReference(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	first, created, err := l.Grant(ctx, "org-1", 11000, credit.TypeCreditPurchase, "cs_test_1")
	if err != nil || !created {
		t.Fatalf("first grant: created=%v err=%v", created, err)
	}
	second, created, err := l.Grant(ctx, "org-1", 11000, credit.TypeCreditPurchase, "cs_test_1")
	if err != nil || created {
		t.Fatalf("second grant: created=%v err=%v", created, err)
	}
	if second.ID != first.ID {
		t.Fatalf("second grant returned %s, want %s", second.ID, first.ID)
	}
	if balance, _ := l.BalanceOf(ctx, "org-1"); balance != 11000 {
		t.Fatalf("balance = %d, want 11000", balance)
	}
}

func TestConcurrentConsumeNeverOverdraws(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	if _, _, err := l.Grant(ctx, "org-1", 100, credit.TypeCreditPurchase, "cs_100"); err != nil {
		t.Fatal(err)
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Consume(ctx, "org-1", 10, "report")
			switch {
			case err == nil:
				succeeded.Add(1)
			case !errors.Is(err, hotelledger.ErrInsufficientBalance):
				t.Errorf("Consume: %v", err)
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

func TestReplayAndHistoryFilters(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(-time.Second)

	if _, _, err := l.Grant(ctx, "org-1", 2000, credit.TypeSubscriptionInitial, "cs_a"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Consume(ctx, "org-1", 150, "sms"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := l.Refund(ctx, "org-1", 75, "re_1", "refund"); err != nil {
		t.Fatal(err)
	}

	balance, err := l.VerifyBalance(ctx, "org-1")
	if err != nil || balance != 1925 {
		t.Fatalf("VerifyBalance = %d, %v", balance, err)
	}

	tests := []struct {
		name string
		opts credit.ListOpts
		want int
	}{
		{"all", credit.ListOpts{}, 3},
		{"by type", credit.ListOpts{Types: []credit.TransactionType{credit.TypeConsumption}}, 1},
		{"since start", credit.ListOpts{Since: &start}, 3},
		{"until start", credit.ListOpts{Until: &start}, 0},
		{"limited", credit.ListOpts{Limit: 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs, err := l.HistoryOf(ctx, "org-1", tt.opts)
			if err != nil {
				t.Fatalf("HistoryOf: %v", err)
			}
			if len(txs) != tt.want {
				t.Fatalf("%d transactions, want %d", len(txs), tt.want)
			}
		})
	}

	asc, _ := l.HistoryOf(ctx, "org-1", credit.ListOpts{Ascending: true})
	for i, tx := range asc {
		if tx.Seq != int64(i+1) {
			t.Fatalf("tx %d has seq %d", i, tx.Seq)
		}
		if tx.CreatedAt.Before(start) {
			t.Fatalf("tx %d created_at = %v", i, tx.CreatedAt)
		}
	}
}

func TestSupersedeKeepsSingleActiveSubscription(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	expires := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	starter, err := l.Supersede(ctx, "org-1", &subscription.Subscription{
		PlanID:                 "starter",
		ExternalSubscriptionID: "sub_starter",
		ExpiresAt:              &expires,
		Metadata:               map[string]string{"channel": "web"},
	})
	if err != nil {
		t.Fatalf("Supersede starter: %v", err)
	}

	got, err := l.Subscription(ctx, starter.ID)
	if err != nil {
		t.Fatalf("Subscription: %v", err)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Fatalf("expires_at = %v, want %v", got.ExpiresAt, expires)
	}
	if got.Metadata["channel"] != "web" {
		t.Fatalf("metadata = %v", got.Metadata)
	}

	pro, err := l.Supersede(ctx, "org-1", &subscription.Subscription{
		PlanID:                 "professional",
		ExternalSubscriptionID: "sub_pro",
	})
	if err != nil {
		t.Fatalf("Supersede professional: %v", err)
	}

	old, _ := l.Subscription(ctx, starter.ID)
	if old.Status != subscription.StatusCancelled || old.EndedAt == nil {
		t.Fatalf("starter status = %s ended=%v", old.Status, old.EndedAt)
	}
	byExternal, err := l.SubscriptionByExternalID(ctx, "sub_pro")
	if err != nil || byExternal.ID != pro.ID {
		t.Fatalf("SubscriptionByExternalID = %+v, %v", byExternal, err)
	}
}

func TestSupersedeConcurrent(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
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

	active, err := l.Subscriptions(ctx, "org-1", subscription.ListOpts{Status: subscription.StatusActive})
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("%d active rows, want 1", len(active))
	}
	all, _ := l.Subscriptions(ctx, "org-1", subscription.ListOpts{})
	if len(all) != 8 {
		t.Fatalf("%d rows, want 8", len(all))
	}
}

func TestSupersedeConflictKeepsCurrentSubscription(t *testing.T) {
	_, s := newLedger(t)
	ctx := context.Background()

	current := &subscription.Subscription{
		ID:             id.NewSubscriptionID(),
		OrganizationID: "org-1",
		PlanID:         "starter",
		StartedAt:      time.Now().UTC(),
	}
	if err := s.SupersedeSubscription(ctx, current); err != nil {
		t.Fatalf("SupersedeSubscription: %v", err)
	}

	// Reusing the primary key makes the insert lose; the close must not
	// survive it.
	dup := &subscription.Subscription{
		ID:             current.ID,
		OrganizationID: "org-1",
		PlanID:         "professional",
		StartedAt:      time.Now().UTC(),
	}
	if err := s.SupersedeSubscription(ctx, dup); !errors.Is(err, hotelledger.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	active, err := s.GetActiveSubscription(ctx, "org-1")
	if err != nil {
		t.Fatalf("GetActiveSubscription: %v", err)
	}
	if active.ID != current.ID || active.PlanID != "starter" {
		t.Fatalf("active = %+v", active)
	}
}

func TestProductActivationUpsert(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	if err := l.RegisterOrganization(ctx, &organization.Organization{ID: "org-1", Name: "Seaside Group"}); err != nil {
		t.Fatal(err)
	}
	if err := l.RegisterHotel(ctx, &organization.Hotel{ID: "hotel-1", OrganizationID: "org-1", Name: "Seaside Lisbon"}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Supersede(ctx, "org-1", &subscription.Subscription{PlanID: "starter"}); err != nil {
		t.Fatal(err)
	}

	first, err := l.SetProductStatus(ctx, "hotel-1", "housekeeping", activation.StatusActive)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	second, err := l.SetProductStatus(ctx, "hotel-1", "housekeeping", activation.StatusPaused)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("status change created a second row")
	}
	status, err := l.ProductStatus(ctx, "hotel-1", "housekeeping")
	if err != nil || status != activation.StatusPaused {
		t.Fatalf("status = %s, %v", status, err)
	}
	if _, err := l.SetProductStatus(ctx, "hotel-1", "maintenance", activation.StatusActive); !errors.Is(err, hotelledger.ErrNoEntitlement) {
		t.Fatalf("unentitled activation err = %v", err)
	}
}

func TestEventRecordAndRelease(t *testing.T) {
	_, s := newLedger(t)
	ctx := context.Background()

	evt := func() *event.Event {
		return &event.Event{ID: id.NewEventID(), Provider: "stripe", ExternalID: "evt_1", Type: "invoice.paid"}
	}
	if err := s.RecordEvent(ctx, evt()); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := s.RecordEvent(ctx, evt()); !errors.Is(err, hotelledger.ErrDuplicateEvent) {
		t.Fatalf("second RecordEvent err = %v", err)
	}
	if seen, err := s.HasEvent(ctx, "stripe", "evt_1"); err != nil || !seen {
		t.Fatalf("HasEvent = %v, %v", seen, err)
	}

	if err := s.DeleteEvent(ctx, "stripe", "evt_1"); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if seen, _ := s.HasEvent(ctx, "stripe", "evt_1"); seen {
		t.Fatal("released event still recorded")
	}
	if err := s.RecordEvent(ctx, evt()); err != nil {
		t.Fatalf("RecordEvent after release: %v", err)
	}
}
