package audithook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/credit"
	"github.com/xraph/hotelledger/store/memory"
	"github.com/xraph/hotelledger/subscription"
)

type captured struct {
	mu     sync.Mutex
	events []*AuditEvent
}

func (c *captured) Record(_ context.Context, evt *AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *captured) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Action
	}
	return out
}

func TestExtensionRecordsLedgerActivity(t *testing.T) {
	ctx := context.Background()
	rec := &captured{}

	l := hotelledger.New(memory.New(), hotelledger.WithPlugin(New(rec)))
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer l.Stop()

	if _, err := l.Supersede(ctx, "org-1", &subscription.Subscription{PlanID: "starter"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := l.Grant(ctx, "org-1", 100, credit.TypeCreditPurchase, "cs_1"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Consume(ctx, "org-1", 500, "export"); !errors.Is(err, hotelledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	want := []string{ActionSubscriptionCreated, ActionCreditsGranted, ActionInsufficientBalance}
	got := rec.actions()
	if len(got) != len(want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("action[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDisabledActionsAreSkipped(t *testing.T) {
	rec := &captured{}
	ext := New(rec, WithDisabledActions(ActionWebhookProcessed))

	_ = ext.OnWebhookProcessed(context.Background(), "stripe", "invoice.paid", "applied", time.Millisecond, nil)
	_ = ext.OnEntitlementDenied(context.Background(), "htl-1", "housekeeping")

	got := rec.actions()
	if len(got) != 1 || got[0] != ActionEntitlementDenied {
		t.Fatalf("actions = %v", got)
	}
}

func TestWebhookFailureIsAnError(t *testing.T) {
	rec := &captured{}
	ext := New(rec)

	_ = ext.OnWebhookProcessed(context.Background(), "stripe", "invoice.paid", "failed", time.Second, errors.New("store down"))

	evt := rec.events[0]
	if evt.Severity != SeverityError || evt.Outcome != OutcomeFailure || evt.Reason != "store down" {
		t.Fatalf("unexpected event %+v", evt)
	}
}
