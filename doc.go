// Package hotelledger provides the entitlement and billing ledger of a
// hotel-operations SaaS.
//
// It turns purchases and plan changes into durable subscription and credit
// state, keeps per-hotel product activation consistent with what was paid
// for, and reconciles that state with an external payment provider without
// double-crediting under concurrent or redelivered events. It provides:
//
//   - One active subscription per organization, superseded atomically
//   - An append-only credit ledger with idempotent, reference-keyed grants
//   - Per-hotel product activation gated by plan or credit entitlement
//   - Checkout session construction against Stripe, or a mock provider
//   - Webhook reconciliation with event de-duplication
//   - Pluggable audit trail and Prometheus metrics via plugins
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/hotelledger"
//	    "github.com/xraph/hotelledger/catalog"
//	    "github.com/xraph/hotelledger/store/memory"
//	)
//
//	cat := catalog.Default()
//	l := hotelledger.New(memory.New(), hotelledger.WithPlanPolicy(cat))
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Credits
//
// Every balance change is a ledger transaction. Grants carrying a reference
// id are idempotent, so a redelivered webhook never credits twice:
//
//	tx, created, err := l.Grant(ctx, orgID, 11000, credit.TypeCreditPurchase, sessionID)
//
// Consumption is all or nothing:
//
//	_, err := l.Consume(ctx, orgID, 500, "guest messaging")
//	if errors.Is(err, hotelledger.ErrInsufficientBalance) {
//	    // balance unchanged
//	}
//
// # Subscriptions
//
// Supersede cancels whatever subscription the organization had and installs
// the new one in a single store operation:
//
//	sub, err := l.Supersede(ctx, orgID, &subscription.Subscription{PlanID: "professional"})
//
// # Activations
//
// Products are switched per hotel. Activating requires the organization's
// plan to include the product or a positive credit balance:
//
//	a, err := l.SetProductStatus(ctx, hotelID, "housekeeping", activation.StatusActive)
package hotelledger
