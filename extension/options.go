package extension

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/catalog"
	"github.com/xraph/hotelledger/plugin"
	"github.com/xraph/hotelledger/provider"
	"github.com/xraph/hotelledger/store"
)

// Option configures the hotel ledger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLedgerOption passes a hotelledger.Option through to the underlying engine.
func WithLedgerOption(opt hotelledger.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, hotelledger.WithPlugin(p))
	}
}

// WithCatalog replaces the configured catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(e *Extension) { e.catalog = c }
}

// WithProvider replaces the provider chosen from the Stripe credentials.
func WithProvider(p provider.Provider) Option {
	return func(e *Extension) { e.provider = p }
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP handler construction.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for billing routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithPaymentFailureThreshold sets how many failed renewals suspend a subscription.
func WithPaymentFailureThreshold(n int) Option {
	return func(e *Extension) { e.config.PaymentFailureThreshold = n }
}

// WithRedirectURLs sets the default checkout redirects.
func WithRedirectURLs(successURL, cancelURL string) Option {
	return func(e *Extension) {
		e.config.SuccessURL = successURL
		e.config.CancelURL = cancelURL
	}
}

// WithProviderTimeout bounds each provider call.
func WithProviderTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.ProviderTimeout = d }
}

// WithGroveDB builds the store around db. driver is "postgres", "sqlite" or
// "mongo"; name is the database's name in the host application.
func WithGroveDB(db *grove.DB, driver, name string) Option {
	return func(e *Extension) {
		e.groveDB = db
		e.useGrove = true
		e.config.StoreDriver = driver
		e.config.GroveDatabase = name
	}
}
