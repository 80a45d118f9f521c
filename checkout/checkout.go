// Package checkout builds payment provider checkout sessions for credit
// pack purchases, new subscriptions and plan changes.
//
// The builder only reads local state. Every mutation happens later, when
// the reconciler processes the provider's checkout.session.completed
// notification, so an abandoned checkout leaves nothing behind.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/catalog"
	"github.com/xraph/hotelledger/customer"
	"github.com/xraph/hotelledger/organization"
	"github.com/xraph/hotelledger/provider"
	"github.com/xraph/hotelledger/subscription"
)

// Builder assembles checkout sessions.
type Builder struct {
	catalog   *catalog.Catalog
	ledger    *hotelledger.Ledger
	provider  provider.Provider
	customers *customer.Resolver
	logger    *slog.Logger

	successURL string
	cancelURL  string
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithRedirectURLs sets the URLs used when a request carries none.
func WithRedirectURLs(successURL, cancelURL string) Option {
	return func(b *Builder) {
		b.successURL = successURL
		b.cancelURL = cancelURL
	}
}

// NewBuilder creates a checkout builder.
func NewBuilder(cat *catalog.Catalog, l *hotelledger.Ledger, p provider.Provider, opts ...Option) *Builder {
	b := &Builder{
		catalog:  cat,
		ledger:   l,
		provider: p,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.customers = customer.NewResolver(p, b.logger)
	return b
}

// ──────────────────────────────────────────────────
// Credit purchase
// ──────────────────────────────────────────────────

type CreditPurchaseRequest struct {
	OrganizationID string `json:"organizationId" binding:"required"`
	CreditPackID   string `json:"creditPackId" binding:"required"`
	SuccessURL     string `json:"successUrl,omitempty"`
	CancelURL      string `json:"cancelUrl,omitempty"`
}

type CreditPurchaseResult struct {
	CheckoutURL string        `json:"checkoutUrl"`
	SessionID   string        `json:"sessionId"`
	CustomerID  string        `json:"customerId,omitempty"`
	Mode        provider.Mode `json:"mode"`
	Mock        bool          `json:"mock,omitempty"`
}

// CreditPurchase creates a one-time payment session for a credit pack.
func (b *Builder) CreditPurchase(ctx context.Context, req CreditPurchaseRequest) (*CreditPurchaseResult, error) {
	if req.OrganizationID == "" {
		return nil, hotelledger.Required("organizationId")
	}
	if req.CreditPackID == "" {
		return nil, hotelledger.Required("creditPackId")
	}

	pack, err := b.catalog.Pack(req.CreditPackID)
	if err != nil {
		return nil, err
	}
	priceID, err := b.catalog.ResolvePrice(catalog.KindPack, pack.ID)
	if err != nil {
		return nil, err
	}

	org, err := b.ledger.Organization(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}

	// The checkout page collects an email when the organization has none.
	var customerID string
	if org.ExternalCustomerID != "" || org.BillingEmail != "" {
		customerID, err = b.customers.Resolve(ctx, identityOf(org, ""), org.ExternalCustomerID)
		if err != nil {
			return nil, err
		}
	}

	sess, err := b.provider.CreateCheckoutSession(ctx, provider.SessionParams{
		Mode:       provider.ModePayment,
		CustomerID: customerID,
		LineItems:  []provider.LineItem{{PriceID: priceID, Quantity: 1}},
		SuccessURL: b.success(req.SuccessURL),
		CancelURL:  b.cancel(req.CancelURL),
		Metadata: map[string]string{
			provider.MetaOrganizationID: org.ID,
			provider.MetaTotalCredits:   strconv.FormatInt(pack.TotalCredits(), 10),
			provider.MetaPackID:         pack.ID,
			provider.MetaType:           provider.PurchaseCredits,
		},
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("credit purchase checkout created",
		"organization_id", org.ID,
		"pack_id", pack.ID,
		"credits", pack.TotalCredits(),
		"session_id", sess.ID,
	)

	return &CreditPurchaseResult{
		CheckoutURL: sess.URL,
		SessionID:   sess.ID,
		CustomerID:  sess.CustomerID,
		Mode:        sess.Mode,
		Mock:        sess.Mock,
	}, nil
}

// ──────────────────────────────────────────────────
// Subscription
// ──────────────────────────────────────────────────

// SubscriptionRequest starts a subscription checkout. PlanName, Amount and
// Credits are what the client displayed; the catalog decides what is
// charged and granted.
type SubscriptionRequest struct {
	PlanID         string            `json:"planId" binding:"required"`
	PlanName       string            `json:"planName,omitempty"`
	Amount         float64           `json:"amount,omitempty"`
	Credits        int64             `json:"credits,omitempty"`
	Email          string            `json:"email" binding:"omitempty,email"`
	UserID         string            `json:"userId,omitempty"`
	OrganizationID string            `json:"organizationId,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	SuccessURL     string            `json:"successUrl,omitempty"`
	CancelURL      string            `json:"cancelUrl,omitempty"`
}

type SubscriptionResult struct {
	SessionID  string         `json:"sessionId"`
	URL        string         `json:"url"`
	CustomerID string         `json:"customerId,omitempty"`
	Mode       provider.Mode  `json:"mode"`
	Action     catalog.Action `json:"action"`
	Mock       bool           `json:"mock,omitempty"`
}

// Subscription creates a subscription-mode session for a plan. When the
// organization already has an active subscription the session is labelled
// upgrade, downgrade or renew and carries the subscription to replace.
func (b *Builder) Subscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error) {
	if req.PlanID == "" {
		return nil, hotelledger.Required("planId")
	}
	orgID := req.OrganizationID
	if orgID == "" {
		orgID = req.Metadata[provider.MetaOrganizationID]
	}
	if orgID == "" {
		return nil, hotelledger.Required("organizationId")
	}

	plan, err := b.catalog.Plan(req.PlanID)
	if err != nil {
		return nil, err
	}
	b.checkClientFigures(req, plan)

	org, err := b.ledger.Organization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	active, err := b.activeSubscription(ctx, org.ID)
	if err != nil {
		return nil, err
	}

	who := identityOf(org, req.UserID)
	if req.Email != "" {
		who.Email = req.Email
	}

	sess, action, err := b.subscriptionSession(ctx, org, who, plan, active, req.Metadata, req.SuccessURL, req.CancelURL)
	if err != nil {
		return nil, err
	}

	return &SubscriptionResult{
		SessionID:  sess.ID,
		URL:        sess.URL,
		CustomerID: sess.CustomerID,
		Mode:       sess.Mode,
		Action:     action,
		Mock:       sess.Mock,
	}, nil
}

// ──────────────────────────────────────────────────
// Plan change
// ──────────────────────────────────────────────────

type PlanChangeRequest struct {
	OrganizationID        string `json:"organizationId" binding:"required"`
	NewPlanID             string `json:"newPlanId" binding:"required"`
	CurrentSubscriptionID string `json:"currentSubscriptionId,omitempty"`
	UserID                string `json:"userId,omitempty"`
	SuccessURL            string `json:"successUrl,omitempty"`
	CancelURL             string `json:"cancelUrl,omitempty"`
}

type PlanChangeResult struct {
	CheckoutURL string         `json:"checkoutUrl"`
	SessionID   string         `json:"sessionId"`
	Action      catalog.Action `json:"action"`
	Message     string         `json:"message"`
	Mock        bool           `json:"mock,omitempty"`
}

// PlanChange creates a session moving the organization's active
// subscription to another plan.
func (b *Builder) PlanChange(ctx context.Context, req PlanChangeRequest) (*PlanChangeResult, error) {
	if req.OrganizationID == "" {
		return nil, hotelledger.Required("organizationId")
	}
	if req.NewPlanID == "" {
		return nil, hotelledger.Required("newPlanId")
	}

	active, err := b.ledger.ActiveSubscription(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	if req.CurrentSubscriptionID != "" &&
		req.CurrentSubscriptionID != active.ID.String() &&
		req.CurrentSubscriptionID != active.ExternalSubscriptionID {
		return nil, fmt.Errorf("%w: subscription %s is no longer active", hotelledger.ErrConflict, req.CurrentSubscriptionID)
	}
	if active.PlanID == req.NewPlanID {
		return nil, hotelledger.ErrPlanUnchanged
	}

	plan, err := b.catalog.Plan(req.NewPlanID)
	if err != nil {
		return nil, err
	}

	org, err := b.ledger.Organization(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}

	sess, action, err := b.subscriptionSession(ctx, org, identityOf(org, req.UserID), plan, active, nil, req.SuccessURL, req.CancelURL)
	if err != nil {
		return nil, err
	}

	return &PlanChangeResult{
		CheckoutURL: sess.URL,
		SessionID:   sess.ID,
		Action:      action,
		Message:     changeMessage(action, plan),
		Mock:        sess.Mock,
	}, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (b *Builder) subscriptionSession(
	ctx context.Context,
	org *organization.Organization,
	who customer.Identity,
	plan catalog.Plan,
	active *subscription.Subscription,
	extra map[string]string,
	successURL, cancelURL string,
) (*provider.Session, catalog.Action, error) {
	priceID, err := b.catalog.ResolvePrice(catalog.KindPlan, plan.ID)
	if err != nil {
		return nil, "", err
	}

	var current *catalog.Plan
	known := org.ExternalCustomerID
	if active != nil {
		if p, err := b.catalog.Plan(active.PlanID); err == nil {
			current = &p
		} else {
			// A plan retired from the catalog still counts as a current
			// subscription; treat the move as an upgrade.
			current = &catalog.Plan{ID: active.PlanID, Rank: plan.Rank - 1}
		}
		if active.ExternalCustomerID != "" {
			known = active.ExternalCustomerID
		}
	}
	action := catalog.Classify(current, plan)

	// Without a known customer or an email the checkout page collects one.
	var customerID string
	if known != "" || who.Email != "" {
		customerID, err = b.customers.Resolve(ctx, who, known)
		if err != nil {
			return nil, "", err
		}
	}

	meta := make(map[string]string, len(extra)+6)
	for k, v := range extra {
		if provider.IsReservedMetadata(k) {
			b.logger.Warn("dropping reserved checkout metadata", "organization_id", org.ID, "key", k)
			continue
		}
		meta[k] = v
	}
	meta[provider.MetaOrganizationID] = org.ID
	meta[provider.MetaPlanID] = plan.ID
	meta[provider.MetaAction] = string(action)
	meta[provider.MetaType] = provider.PurchaseSubscription
	if who.UserID != "" {
		meta[provider.MetaUserID] = who.UserID
	}
	if active != nil && active.ExternalSubscriptionID != "" {
		meta[provider.MetaReplaceSubscription] = active.ExternalSubscriptionID
	}

	sess, err := b.provider.CreateCheckoutSession(ctx, provider.SessionParams{
		Mode:                 provider.ModeSubscription,
		CustomerID:           customerID,
		LineItems:            []provider.LineItem{{PriceID: priceID, Quantity: 1}},
		SuccessURL:           b.success(successURL),
		CancelURL:            b.cancel(cancelURL),
		Metadata:             meta,
		SubscriptionMetadata: maps.Clone(meta),
	})
	if err != nil {
		return nil, "", err
	}

	b.logger.Info("subscription checkout created",
		"organization_id", org.ID,
		"plan_id", plan.ID,
		"action", action,
		"session_id", sess.ID,
	)
	return sess, action, nil
}

func (b *Builder) activeSubscription(ctx context.Context, orgID string) (*subscription.Subscription, error) {
	active, err := b.ledger.ActiveSubscription(ctx, orgID)
	if errors.Is(err, hotelledger.ErrNoActiveSubscription) {
		return nil, nil
	}
	return active, err
}

func (b *Builder) checkClientFigures(req SubscriptionRequest, plan catalog.Plan) {
	if req.Credits != 0 && req.Credits != plan.MonthlyCreditGrant {
		b.logger.Warn("client credits differ from catalog",
			"plan_id", plan.ID,
			"client_credits", req.Credits,
			"catalog_credits", plan.MonthlyCreditGrant,
		)
	}
	if req.Amount != 0 && int64(req.Amount*100+0.5) != plan.Price.Amount {
		b.logger.Warn("client amount differs from catalog",
			"plan_id", plan.ID,
			"client_amount", req.Amount,
			"catalog_amount", plan.Price.String(),
		)
	}
}

func (b *Builder) success(u string) string {
	if u != "" {
		return u
	}
	return b.successURL
}

func (b *Builder) cancel(u string) string {
	if u != "" {
		return u
	}
	return b.cancelURL
}

func identityOf(org *organization.Organization, userID string) customer.Identity {
	return customer.Identity{
		Email:          org.BillingEmail,
		Name:           org.Name,
		OrganizationID: org.ID,
		UserID:         userID,
	}
}

func changeMessage(action catalog.Action, plan catalog.Plan) string {
	name := plan.Name
	if strings.TrimSpace(name) == "" {
		name = plan.ID
	}
	switch action {
	case catalog.ActionUpgrade:
		return fmt.Sprintf("Upgrading to %s. Your new plan starts once checkout completes.", name)
	case catalog.ActionDowngrade:
		return fmt.Sprintf("Downgrading to %s. Your new plan starts once checkout completes.", name)
	default:
		return fmt.Sprintf("Renewing %s.", name)
	}
}
