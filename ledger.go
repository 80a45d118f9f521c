package hotelledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/hotelledger/plugin"
	"github.com/xraph/hotelledger/store"
)

// Defaults for a new Ledger.
const (
	DefaultPaymentFailureThreshold = 3
	DefaultMaxRetries              = 5
	defaultRetryBackoff            = 10 * time.Millisecond
)

// PlanPolicy tells the engine which products a plan unlocks. ok is false
// for an unknown plan; an empty product list unlocks every product.
type PlanPolicy interface {
	ProductsFor(planID string) (products []string, ok bool)
}

// Ledger is the entitlement and billing engine. It owns no state of its own:
// every invariant is enforced through the store, so any number of Ledger
// values may share one database.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	policy  PlanPolicy

	paymentFailureThreshold int
	maxRetries              int
	retryBackoff            time.Duration
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:                   s,
		plugins:                 plugin.NewRegistry(),
		logger:                  slog.Default(),
		paymentFailureThreshold: DefaultPaymentFailureThreshold,
		maxRetries:              DefaultMaxRetries,
		retryBackoff:            defaultRetryBackoff,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPlanPolicy sets the policy used to decide product entitlement.
// Without one, any active subscription unlocks every product.
func WithPlanPolicy(p PlanPolicy) Option {
	return func(l *Ledger) {
		l.policy = p
	}
}

// WithPaymentFailureThreshold sets how many consecutive payment failures
// suspend a subscription.
func WithPaymentFailureThreshold(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.paymentFailureThreshold = n
		}
	}
}

// WithRetry configures how often a write that lost a concurrency race is
// retried and the base backoff between attempts.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(l *Ledger) {
		if maxRetries >= 0 {
			l.maxRetries = maxRetries
		}
		if backoff > 0 {
			l.retryBackoff = backoff
		}
	}
}

// Start migrates the store and initializes plugins.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.store.Migrate(ctx); err != nil {
		return errors.Join(ErrMigrationFailed, err)
	}

	l.plugins.EmitInit(ctx, l)

	l.logger.Info("hotel ledger started",
		"plugins", l.plugins.Count(),
		"payment_failure_threshold", l.paymentFailureThreshold,
		"max_retries", l.maxRetries,
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (l *Ledger) Stop() error {
	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// Health reports whether the store is reachable.
func (l *Ledger) Health(ctx context.Context) error {
	return l.store.Ping(ctx)
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// Logger returns the engine logger.
func (l *Ledger) Logger() *slog.Logger { return l.logger }

// PaymentFailureThreshold returns the configured suspension threshold.
func (l *Ledger) PaymentFailureThreshold() int { return l.paymentFailureThreshold }

// retry runs fn until it succeeds, fails with an error other than one of
// retryOn, or the retry budget is spent.
func (l *Ledger) retry(ctx context.Context, op string, fn func() error, retryOn ...error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || attempt >= l.maxRetries || !isAny(err, retryOn) {
			return err
		}

		l.logger.Debug("hotelledger: retrying after concurrent write",
			"op", op,
			"attempt", attempt+1,
			"error", err,
		)

		timer := time.NewTimer(l.retryBackoff * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
