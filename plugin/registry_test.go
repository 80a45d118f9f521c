package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/hotelledger/credit"
	"github.com/xraph/hotelledger/subscription"
)

type recordingPlugin struct {
	name string

	mu      sync.Mutex
	granted []*credit.Transaction
	status  []subscription.Status
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) OnCreditsGranted(_ context.Context, tx *credit.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted = append(p.granted, tx)
	return nil
}

func (p *recordingPlugin) OnSubscriptionStatusChanged(_ context.Context, sub *subscription.Subscription, _ subscription.Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = append(p.status, sub.Status)
	return nil
}

type failingPlugin struct{}

func (failingPlugin) Name() string { return "failing" }

func (failingPlugin) OnCreditsGranted(context.Context, *credit.Transaction) error {
	return errors.New("boom")
}

type slowPlugin struct{}

func (slowPlugin) Name() string { return "slow" }

func (slowPlugin) OnCreditsGranted(context.Context, *credit.Transaction) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&recordingPlugin{name: "a"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&recordingPlugin{name: "a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if r.Count() != 1 {
		t.Fatalf("Count = %d, want 1", r.Count())
	}
	if r.Get("a") == nil || r.Get("missing") != nil {
		t.Fatal("Get returned unexpected result")
	}
}

func TestEmitDispatchesToImplementers(t *testing.T) {
	r := NewRegistry()
	rec := &recordingPlugin{name: "rec"}
	_ = r.Register(rec)
	_ = r.Register(failingPlugin{})

	tx := &credit.Transaction{PrincipalID: "org-1", Amount: 100}
	r.EmitCreditsGranted(context.Background(), tx)
	r.EmitSubscriptionStatusChanged(context.Background(),
		&subscription.Subscription{Status: subscription.StatusPastDue}, subscription.StatusActive)

	if len(rec.granted) != 1 || rec.granted[0] != tx {
		t.Fatalf("granted = %v, want the emitted transaction", rec.granted)
	}
	if len(rec.status) != 1 || rec.status[0] != subscription.StatusPastDue {
		t.Fatalf("status = %v", rec.status)
	}
}

func TestEmitTimeout(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	_ = r.Register(slowPlugin{})

	start := time.Now()
	r.EmitCreditsGranted(context.Background(), &credit.Transaction{})
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("emit blocked for %v", elapsed)
	}
}

func TestImplementedInterfaces(t *testing.T) {
	got := implementedInterfaces(&recordingPlugin{name: "rec"})
	want := map[string]bool{"OnSubscriptionStatusChanged": true, "OnCreditsGranted": true}
	if len(got) != len(want) {
		t.Fatalf("interfaces = %v", got)
	}
	for _, name := range got {
		if !want[name] {
			t.Fatalf("unexpected interface %q", name)
		}
	}
}
