// Package stripe implements provider.Provider on top of stripe-go. Every
// call is bounded by a timeout and runs through a circuit breaker, so an
// unreachable Stripe surfaces ErrProviderUnavailable instead of hanging.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	stripego "github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/provider"
)

// Name is the provider name recorded with processed webhook events.
const Name = "stripe"

// Config configures the Stripe client.
type Config struct {
	SecretKey     string // STRIPE_SECRET_KEY
	WebhookSecret string // STRIPE_WEBHOOK_SECRET

	// Timeout bounds every API call. Default: 10 seconds.
	Timeout time.Duration

	// BreakerFailures out of BreakerRequests failed calls open the circuit
	// for BreakerDelay. Defaults: 5 of 10, 15 seconds.
	BreakerFailures uint
	BreakerRequests uint
	BreakerDelay    time.Duration

	// Backend overrides the HTTP backend, mainly for tests.
	Backend stripego.Backend
	Logger  *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.BreakerRequests == 0 {
		c.BreakerRequests = 10
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerFailures > c.BreakerRequests {
		c.BreakerFailures = c.BreakerRequests
	}
	if c.BreakerDelay <= 0 {
		c.BreakerDelay = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client is a provider.Provider backed by the Stripe API.
type Client struct {
	webhookSecret string
	timeout       time.Duration
	logger        *slog.Logger

	customers     customer.Client
	sessions      checkoutsession.Client
	subscriptions subscription.Client

	breaker  circuitbreaker.CircuitBreaker[any]
	executor failsafe.Executor[any]
}

var _ provider.Provider = (*Client)(nil)

// New creates a Stripe client. Unlike stripe-go's package-level helpers it
// never touches the global stripe.Key.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, hotelledger.Required("stripe secret key")
	}
	cfg.applyDefaults()

	backend := cfg.Backend
	if backend == nil {
		backend = stripego.GetBackend(stripego.APIBackend)
	}

	logger := cfg.Logger
	breaker := circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(cfg.BreakerFailures, cfg.BreakerRequests).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		HandleIf(func(_ any, err error) bool {
			// Only outages trip the breaker; a rejected request says
			// nothing about Stripe's health.
			return errors.Is(err, hotelledger.ErrProviderUnavailable)
		}).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.Warn("stripe circuit breaker state change",
				"from_state", event.OldState,
				"to_state", event.NewState,
			)
		}).
		Build()

	return &Client{
		webhookSecret: cfg.WebhookSecret,
		timeout:       cfg.Timeout,
		logger:        logger,
		customers:     customer.Client{B: backend, Key: cfg.SecretKey},
		sessions:      checkoutsession.Client{B: backend, Key: cfg.SecretKey},
		subscriptions: subscription.Client{B: backend, Key: cfg.SecretKey},
		breaker:       breaker,
		executor:      failsafe.With[any](breaker),
	}, nil
}

// Name implements provider.Provider.
func (c *Client) Name() string { return Name }

// BreakerOpen reports whether calls are currently short-circuited.
func (c *Client) BreakerOpen() bool { return c.breaker.IsOpen() }

// FindCustomerByEmail implements provider.Provider.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*provider.Customer, error) {
	var found *provider.Customer
	err := c.call(ctx, "customer.list", func(ctx context.Context) error {
		params := &stripego.CustomerListParams{Email: stripego.String(email)}
		params.Context = ctx
		params.Limit = stripego.Int64(1)

		iter := c.customers.List(params)
		if iter.Next() {
			found = toCustomer(iter.Customer())
			return nil
		}
		return iter.Err()
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// CreateCustomer implements provider.Provider.
func (c *Client) CreateCustomer(ctx context.Context, p provider.CustomerParams) (*provider.Customer, error) {
	var created *provider.Customer
	err := c.call(ctx, "customer.create", func(ctx context.Context) error {
		params := &stripego.CustomerParams{
			Email:    stripego.String(p.Email),
			Metadata: p.Metadata,
		}
		if p.Name != "" {
			params.Name = stripego.String(p.Name)
		}
		params.Context = ctx

		cust, err := c.customers.New(params)
		if err != nil {
			return err
		}
		created = toCustomer(cust)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("created stripe customer", "customer_id", created.ID)
	return created, nil
}

// CreateCheckoutSession implements provider.Provider.
func (c *Client) CreateCheckoutSession(ctx context.Context, p provider.SessionParams) (*provider.Session, error) {
	var out *provider.Session
	err := c.call(ctx, "checkout.session.create", func(ctx context.Context) error {
		params := &stripego.CheckoutSessionParams{
			Mode:       stripego.String(string(p.Mode)),
			SuccessURL: stripego.String(p.SuccessURL),
			CancelURL:  stripego.String(p.CancelURL),
			Metadata:   p.Metadata,
		}
		if p.CustomerID != "" {
			params.Customer = stripego.String(p.CustomerID)
		}
		for _, item := range p.LineItems {
			qty := item.Quantity
			if qty <= 0 {
				qty = 1
			}
			params.LineItems = append(params.LineItems, &stripego.CheckoutSessionLineItemParams{
				Price:    stripego.String(item.PriceID),
				Quantity: stripego.Int64(qty),
			})
		}
		if p.Mode == provider.ModeSubscription && len(p.SubscriptionMetadata) > 0 {
			params.SubscriptionData = &stripego.CheckoutSessionSubscriptionDataParams{
				Metadata: p.SubscriptionMetadata,
			}
		}
		if p.IdempotencyKey != "" {
			params.IdempotencyKey = stripego.String(p.IdempotencyKey)
		}
		params.Context = ctx

		sess, err := c.sessions.New(params)
		if err != nil {
			return err
		}
		out = &provider.Session{
			ID:         sess.ID,
			URL:        sess.URL,
			CustomerID: p.CustomerID,
			Mode:       p.Mode,
		}
		if sess.Customer != nil && sess.Customer.ID != "" {
			out.CustomerID = sess.Customer.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("created stripe checkout session",
		"session_id", out.ID,
		"mode", out.Mode,
		"organization_id", p.Metadata[provider.MetaOrganizationID],
	)
	return out, nil
}

// CancelSubscription implements provider.Provider. Cancelling a
// subscription Stripe no longer knows is not an error.
func (c *Client) CancelSubscription(ctx context.Context, externalSubscriptionID string) error {
	err := c.call(ctx, "subscription.cancel", func(ctx context.Context) error {
		params := &stripego.SubscriptionCancelParams{}
		params.Context = ctx
		_, err := c.subscriptions.Cancel(externalSubscriptionID, params)
		return err
	})

	var serr *stripego.Error
	if errors.As(err, &serr) && (serr.Code == stripego.ErrorCodeResourceMissing || serr.HTTPStatusCode == 404) {
		c.logger.Info("stripe subscription already gone", "subscription_id", externalSubscriptionID)
		return nil
	}
	if err != nil {
		return err
	}

	c.logger.Info("cancelled stripe subscription", "subscription_id", externalSubscriptionID)
	return nil
}

// call runs fn with a deadline through the circuit breaker and classifies
// whatever it returns.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	_, err := c.executor.WithContext(ctx).Get(func() (any, error) {
		return nil, classify(op, fn(ctx))
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = &hotelledger.ProviderError{
			Op:      op,
			Kind:    hotelledger.ErrProviderUnavailable,
			Message: "circuit breaker open",
			Err:     err,
		}
	} else if err != nil && !hotelledger.IsProviderError(err) {
		// The executor reports context expiry on its own.
		err = classify(op, err)
	}

	c.logger.Debug("stripe call",
		"op", op,
		"elapsed", time.Since(start),
		"error", err,
	)
	return err
}

func toCustomer(cust *stripego.Customer) *provider.Customer {
	if cust == nil {
		return nil
	}
	return &provider.Customer{ID: cust.ID, Email: cust.Email, Name: cust.Name}
}

// classify maps a stripe-go error onto the provider error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if hotelledger.IsProviderError(err) {
		return err
	}

	var serr *stripego.Error
	if errors.As(err, &serr) {
		pe := &hotelledger.ProviderError{
			Op:         op,
			StatusCode: serr.HTTPStatusCode,
			Message:    serr.Msg,
			Err:        err,
		}
		switch {
		case serr.HTTPStatusCode == 401 || serr.HTTPStatusCode == 403:
			pe.Kind = hotelledger.ErrProviderAuth
		case serr.HTTPStatusCode == 429 || serr.HTTPStatusCode >= 500 || serr.HTTPStatusCode == 0:
			pe.Kind = hotelledger.ErrProviderUnavailable
		default:
			pe.Kind = hotelledger.ErrProviderRequest
		}
		return pe
	}

	// Timeouts, cancellations and transport failures.
	return &hotelledger.ProviderError{
		Op:      op,
		Kind:    hotelledger.ErrProviderUnavailable,
		Message: fmt.Sprintf("request failed: %v", err),
		Err:     err,
	}
}
