// Package reconcile applies verified payment provider events to the
// ledger: checkout completions become subscriptions and credit grants,
// invoice and subscription notifications drive the subscription status.
//
// Every effect is idempotent on its own (grants are keyed by the session
// or invoice id, supersede ignores a repeated external subscription) and
// processed events are recorded, so provider redeliveries are harmless.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/catalog"
	"github.com/xraph/hotelledger/credit"
	"github.com/xraph/hotelledger/provider"
	"github.com/xraph/hotelledger/subscription"
)

// Outcome describes what Reconcile did with an event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

// Result reports the effects of one event.
type Result struct {
	EventID        string                     `json:"event_id"`
	Type           provider.EventType         `json:"type"`
	Outcome        Outcome                    `json:"outcome"`
	OrganizationID string                     `json:"organization_id,omitempty"`
	Subscription   *subscription.Subscription `json:"subscription,omitempty"`
	Transaction    *credit.Transaction        `json:"transaction,omitempty"`
	// Credited is false when the grant already existed.
	Credited bool   `json:"credited"`
	Reason   string `json:"reason,omitempty"`
}

func (r *Result) ignore(reason string) *Result {
	r.Outcome = OutcomeIgnored
	r.Reason = reason
	return r
}

// Reconciler applies provider events to a ledger.
type Reconciler struct {
	ledger    *hotelledger.Ledger
	catalog   *catalog.Catalog
	provider  provider.Provider
	logger    *slog.Logger
	threshold int
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithPaymentFailureThreshold overrides the ledger's threshold for
// suspending a subscription after repeated failed payments.
func WithPaymentFailureThreshold(n int) Option {
	return func(r *Reconciler) { r.threshold = n }
}

// New creates a reconciler. The provider is used to cancel subscriptions
// replaced by an upgrade or downgrade.
func New(l *hotelledger.Ledger, cat *catalog.Catalog, p provider.Provider, opts ...Option) *Reconciler {
	r := &Reconciler{
		ledger:   l,
		catalog:  cat,
		provider: p,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile applies evt. The event is claimed by recording it before any
// effect is applied, so concurrent deliveries of one event apply it once.
// Events already claimed are reported as duplicates without side effects.
// On failure the claim is released so a provider retry processes it again.
func (r *Reconciler) Reconcile(ctx context.Context, evt *provider.Event) (*Result, error) {
	if evt == nil || evt.ID == "" {
		return nil, hotelledger.Required("event id")
	}
	source := evt.Provider
	if source == "" {
		source = r.provider.Name()
	}

	start := time.Now()
	res := &Result{EventID: evt.ID, Type: evt.Type, Outcome: OutcomeApplied}
	logger := r.logger.With("event_id", evt.ID, "event_type", evt.Type)

	claimed, err := r.ledger.MarkEventProcessed(ctx, source, evt.ID, string(evt.Type))
	if err != nil {
		return nil, r.fail(ctx, source, evt, start, logger, err)
	}
	if !claimed {
		res.Outcome = OutcomeDuplicate
		logger.Info("skipping already processed event")
		r.ledger.Plugins().EmitWebhookProcessed(ctx, source, string(evt.Type), string(res.Outcome), time.Since(start), nil)
		return res, nil
	}

	switch evt.Type {
	case provider.EventCheckoutCompleted:
		err = r.checkoutCompleted(ctx, evt, res, logger)
	case provider.EventInvoicePaymentFailed:
		err = r.paymentFailed(ctx, evt, res, logger)
	case provider.EventInvoicePaid:
		err = r.invoicePaid(ctx, evt, res, logger)
	case provider.EventSubscriptionUpdated, provider.EventSubscriptionDeleted:
		err = r.subscriptionChanged(ctx, evt, res, logger)
	default:
		res.ignore("unhandled event type")
	}
	if err != nil {
		if rerr := r.ledger.ReleaseEvent(context.WithoutCancel(ctx), source, evt.ID); rerr != nil {
			logger.Error("failed to release event claim", "error", rerr)
		}
		return res, r.fail(ctx, source, evt, start, logger, err)
	}

	logger.Info("event reconciled",
		"outcome", res.Outcome,
		"organization_id", res.OrganizationID,
		"reason", res.Reason,
	)
	r.ledger.Plugins().EmitWebhookProcessed(ctx, source, string(evt.Type), string(res.Outcome), time.Since(start), nil)
	return res, nil
}

func (r *Reconciler) fail(ctx context.Context, source string, evt *provider.Event, start time.Time, logger *slog.Logger, err error) error {
	logger.Error("event reconciliation failed", "error", err)
	r.ledger.Plugins().EmitWebhookProcessed(ctx, source, string(evt.Type), string(OutcomeFailed), time.Since(start), err)
	return fmt.Errorf("reconcile %s %s: %w", evt.Type, evt.ID, err)
}

// ──────────────────────────────────────────────────
// checkout.session.completed
// ──────────────────────────────────────────────────

func (r *Reconciler) checkoutCompleted(ctx context.Context, evt *provider.Event, res *Result, logger *slog.Logger) error {
	c := evt.Checkout
	if c == nil {
		return fmt.Errorf("%w: checkout payload missing", hotelledger.ErrWebhookPayload)
	}
	if !c.Paid() {
		res.ignore("payment not completed: " + c.PaymentStatus)
		return nil
	}

	switch c.Metadata[provider.MetaType] {
	case provider.PurchaseCredits:
		return r.creditPurchase(ctx, c, res, logger)
	case provider.PurchaseSubscription:
		return r.subscriptionPurchase(ctx, c, res, logger)
	default:
		res.ignore("checkout is not a ledger purchase")
		return nil
	}
}

func (r *Reconciler) creditPurchase(ctx context.Context, c *provider.CheckoutCompleted, res *Result, logger *slog.Logger) error {
	orgID := c.Metadata[provider.MetaOrganizationID]
	if orgID == "" {
		return metadataError(provider.MetaOrganizationID)
	}
	res.OrganizationID = orgID

	credits, err := r.purchasedCredits(c.Metadata)
	if err != nil {
		return err
	}

	tx, created, err := r.ledger.Grant(ctx, orgID, credits, credit.TypeCreditPurchase, c.SessionID)
	if err != nil {
		return err
	}
	res.Transaction, res.Credited = tx, created

	r.rememberCustomer(ctx, orgID, c.CustomerID, logger)
	return nil
}

// purchasedCredits reads the credit amount from the session metadata,
// falling back to the catalog pack when the amount is absent.
func (r *Reconciler) purchasedCredits(meta map[string]string) (int64, error) {
	if raw := meta[provider.MetaTotalCredits]; raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("%w: invalid %s %q", hotelledger.ErrWebhookPayload, provider.MetaTotalCredits, raw)
		}
		return n, nil
	}

	packID := meta[provider.MetaPackID]
	if packID == "" {
		return 0, metadataError(provider.MetaTotalCredits)
	}
	pack, err := r.catalog.Pack(packID)
	if err != nil {
		return 0, err
	}
	return pack.TotalCredits(), nil
}

func (r *Reconciler) subscriptionPurchase(ctx context.Context, c *provider.CheckoutCompleted, res *Result, logger *slog.Logger) error {
	orgID := c.Metadata[provider.MetaOrganizationID]
	if orgID == "" {
		return metadataError(provider.MetaOrganizationID)
	}
	planID := c.Metadata[provider.MetaPlanID]
	if planID == "" {
		return metadataError(provider.MetaPlanID)
	}
	res.OrganizationID = orgID

	plan, err := r.catalog.Plan(planID)
	if err != nil {
		return err
	}

	action := catalog.Action(c.Metadata[provider.MetaAction])
	if action == "" {
		action, err = r.classify(ctx, orgID, plan)
		if err != nil {
			return err
		}
	}

	sub, err := r.ledger.Supersede(ctx, orgID, &subscription.Subscription{
		PlanID:                 plan.ID,
		ExternalCustomerID:     c.CustomerID,
		ExternalSubscriptionID: c.SubscriptionID,
		Metadata: map[string]string{
			"checkout_session_id": c.SessionID,
			provider.MetaAction:   string(action),
		},
	})
	if err != nil {
		return err
	}
	res.Subscription = sub

	if plan.MonthlyCreditGrant > 0 {
		tx, created, err := r.ledger.Grant(ctx, orgID, plan.MonthlyCreditGrant, grantType(action), c.SessionID)
		if err != nil {
			return err
		}
		res.Transaction, res.Credited = tx, created
	}

	if replaced := c.Metadata[provider.MetaReplaceSubscription]; replaced != "" && replaced != c.SubscriptionID {
		if err := r.provider.CancelSubscription(ctx, replaced); err != nil {
			logger.Warn("failed to cancel replaced subscription",
				"organization_id", orgID,
				"subscription_id", replaced,
				"error", err,
			)
		} else {
			logger.Info("cancelled replaced subscription",
				"organization_id", orgID,
				"subscription_id", replaced,
			)
		}
	}

	r.rememberCustomer(ctx, orgID, c.CustomerID, logger)
	return nil
}

func (r *Reconciler) classify(ctx context.Context, orgID string, target catalog.Plan) (catalog.Action, error) {
	active, err := r.ledger.ActiveSubscription(ctx, orgID)
	if errors.Is(err, hotelledger.ErrNoActiveSubscription) {
		return catalog.ActionNew, nil
	}
	if err != nil {
		return "", err
	}
	current, err := r.catalog.Plan(active.PlanID)
	if err != nil {
		return catalog.ActionUpgrade, nil
	}
	return catalog.Classify(&current, target), nil
}

func (r *Reconciler) rememberCustomer(ctx context.Context, orgID, customerID string, logger *slog.Logger) {
	if customerID == "" {
		return
	}
	org, err := r.ledger.Organization(ctx, orgID)
	if err != nil || org.ExternalCustomerID != "" {
		return
	}
	if err := r.ledger.SetExternalCustomerID(ctx, orgID, customerID); err != nil {
		logger.Warn("failed to store provider customer id", "organization_id", orgID, "error", err)
	}
}

func grantType(action catalog.Action) credit.TransactionType {
	switch action {
	case catalog.ActionUpgrade:
		return credit.TypeSubscriptionUpgrade
	case catalog.ActionDowngrade:
		return credit.TypeSubscriptionDowngrade
	case catalog.ActionRenew:
		return credit.TypeSubscriptionRenewal
	default:
		return credit.TypeSubscriptionInitial
	}
}

// ──────────────────────────────────────────────────
// invoice.*
// ──────────────────────────────────────────────────

func (r *Reconciler) paymentFailed(ctx context.Context, evt *provider.Event, res *Result, logger *slog.Logger) error {
	inv := evt.Invoice
	if inv == nil {
		return fmt.Errorf("%w: invoice payload missing", hotelledger.ErrWebhookPayload)
	}

	sub, ok, err := r.subscriptionFor(ctx, inv.SubscriptionID, res)
	if err != nil || !ok {
		return err
	}
	if sub.Status != subscription.StatusActive && sub.Status != subscription.StatusPastDue {
		res.ignore("subscription is " + string(sub.Status))
		return nil
	}

	updated, err := r.ledger.RecordPaymentFailure(ctx, sub.ID, r.threshold)
	if err != nil {
		return err
	}
	res.Subscription = updated

	logger.Warn("invoice payment failed",
		"organization_id", updated.OrganizationID,
		"invoice_id", inv.ID,
		"attempt", inv.AttemptCount,
		"status", updated.Status,
	)
	return nil
}

func (r *Reconciler) invoicePaid(ctx context.Context, evt *provider.Event, res *Result, logger *slog.Logger) error {
	inv := evt.Invoice
	if inv == nil {
		return fmt.Errorf("%w: invoice payload missing", hotelledger.ErrWebhookPayload)
	}

	sub, ok, err := r.subscriptionFor(ctx, inv.SubscriptionID, res)
	if err != nil || !ok {
		return err
	}
	if !sub.Status.Live() {
		res.ignore("subscription is " + string(sub.Status))
		return nil
	}

	var expiresAt *time.Time
	if !inv.PeriodEnd.IsZero() {
		end := inv.PeriodEnd
		expiresAt = &end
	}
	restored, err := r.ledger.RestoreSubscription(ctx, sub.ID, expiresAt)
	if err != nil {
		return err
	}
	res.Subscription = restored

	// The first invoice is paid by the checkout that already granted the
	// plan's credits.
	if inv.BillingReason != provider.BillingReasonCycle {
		return nil
	}

	plan, err := r.catalog.Plan(sub.PlanID)
	if err != nil {
		logger.Warn("renewal for plan missing from catalog", "plan_id", sub.PlanID)
		return nil
	}
	if plan.MonthlyCreditGrant <= 0 {
		return nil
	}

	tx, created, err := r.ledger.Grant(ctx, sub.OrganizationID, plan.MonthlyCreditGrant, credit.TypeSubscriptionRenewal, inv.ID)
	if err != nil {
		return err
	}
	res.Transaction, res.Credited = tx, created
	return nil
}

// ──────────────────────────────────────────────────
// customer.subscription.*
// ──────────────────────────────────────────────────

func (r *Reconciler) subscriptionChanged(ctx context.Context, evt *provider.Event, res *Result, _ *slog.Logger) error {
	change := evt.Subscription
	if change == nil {
		return fmt.Errorf("%w: subscription payload missing", hotelledger.ErrWebhookPayload)
	}

	sub, ok, err := r.subscriptionFor(ctx, change.ID, res)
	if err != nil || !ok {
		return err
	}
	if sub.Status.Terminal() {
		// Replaced subscriptions are cancelled locally before the
		// provider reports their deletion.
		res.ignore("subscription already " + string(sub.Status))
		return nil
	}

	var target subscription.Status
	switch {
	case evt.Type == provider.EventSubscriptionDeleted, change.Status == provider.SubscriptionCanceled:
		target = subscription.StatusCancelled
	case change.Status == provider.SubscriptionUnpaid:
		target = subscription.StatusSuspended
	case change.Status == provider.SubscriptionPastDue:
		target = subscription.StatusPastDue
	case change.Status == provider.SubscriptionActive, change.Status == provider.SubscriptionTrialing:
		if sub.Status == subscription.StatusActive {
			res.Subscription = sub
			res.ignore("subscription already active")
			return nil
		}
		var expiresAt *time.Time
		if !change.CurrentPeriodEnd.IsZero() {
			end := change.CurrentPeriodEnd
			expiresAt = &end
		}
		restored, err := r.ledger.RestoreSubscription(ctx, sub.ID, expiresAt)
		if err != nil {
			return err
		}
		res.Subscription = restored
		return nil
	default:
		res.ignore("provider status " + change.Status)
		return nil
	}

	if sub.Status == target {
		res.Subscription = sub
		res.ignore("status unchanged")
		return nil
	}
	updated, err := r.ledger.MarkStatus(ctx, sub.ID, target)
	if err != nil {
		return err
	}
	res.Subscription = updated
	return nil
}

// subscriptionFor loads the local subscription for a provider subscription
// id. Unknown ids are ignored rather than failed: a retry cannot make them
// known.
func (r *Reconciler) subscriptionFor(ctx context.Context, externalID string, res *Result) (*subscription.Subscription, bool, error) {
	if externalID == "" {
		res.ignore("no subscription reference")
		return nil, false, nil
	}
	sub, err := r.ledger.SubscriptionByExternalID(ctx, externalID)
	if hotelledger.IsNotFound(err) {
		res.ignore("unknown subscription " + externalID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	res.OrganizationID = sub.OrganizationID
	return sub, true, nil
}

func metadataError(key string) error {
	return fmt.Errorf("%w: metadata %q missing", hotelledger.ErrWebhookPayload, key)
}
