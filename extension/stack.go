package extension

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xraph/grove"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/api"
	"github.com/xraph/hotelledger/catalog"
	"github.com/xraph/hotelledger/checkout"
	"github.com/xraph/hotelledger/provider"
	"github.com/xraph/hotelledger/provider/mock"
	stripeprovider "github.com/xraph/hotelledger/provider/stripe"
	"github.com/xraph/hotelledger/reconcile"
	"github.com/xraph/hotelledger/store"
	"github.com/xraph/hotelledger/store/mongo"
	"github.com/xraph/hotelledger/store/postgres"
	"github.com/xraph/hotelledger/store/sqlite"
)

// Stack is the assembled set of components behind the billing surface.
// The provider is chosen once here; nothing downstream branches on mock
// mode.
type Stack struct {
	Ledger     *hotelledger.Ledger
	Catalog    *catalog.Catalog
	Provider   provider.Provider
	Checkout   *checkout.Builder
	Reconciler *reconcile.Reconciler
	// Handler is nil when routes are disabled.
	Handler *api.Handler
}

// Deps carries the collaborators Build does not create itself.
type Deps struct {
	Store      store.Store
	Logger     *slog.Logger
	Gatherer   prometheus.Gatherer
	LedgerOpts []hotelledger.Option
	// Catalog and Provider, when set, replace the configured ones.
	Catalog  *catalog.Catalog
	Provider provider.Provider
}

// Build assembles a Stack from cfg.
func Build(cfg Config, deps Deps) (*Stack, error) {
	if deps.Store == nil {
		return nil, hotelledger.Required("store")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cat := deps.Catalog
	if cat == nil {
		var err error
		if cat, err = LoadCatalog(cfg); err != nil {
			return nil, err
		}
	}

	p := deps.Provider
	if p == nil {
		var err error
		if p, err = NewProvider(cfg, logger); err != nil {
			return nil, err
		}
	}

	opts := make([]hotelledger.Option, 0, len(deps.LedgerOpts)+3)
	opts = append(opts,
		hotelledger.WithLogger(logger),
		hotelledger.WithPlanPolicy(cat),
		hotelledger.WithPaymentFailureThreshold(cfg.PaymentFailureThreshold),
	)
	opts = append(opts, deps.LedgerOpts...)
	l := hotelledger.New(deps.Store, opts...)

	s := &Stack{
		Ledger:   l,
		Catalog:  cat,
		Provider: p,
		Checkout: checkout.NewBuilder(cat, l, p,
			checkout.WithLogger(logger),
			checkout.WithRedirectURLs(cfg.SuccessURL, cfg.CancelURL),
		),
		Reconciler: reconcile.New(l, cat, p,
			reconcile.WithLogger(logger),
			reconcile.WithPaymentFailureThreshold(l.PaymentFailureThreshold()),
		),
	}

	if !cfg.DisableRoutes {
		apiOpts := []api.Option{api.WithLogger(logger)}
		if cfg.BasePath != "" {
			apiOpts = append(apiOpts, api.WithBasePath(cfg.BasePath))
		}
		if cfg.RequestTimeout > 0 {
			apiOpts = append(apiOpts, api.WithRequestTimeout(cfg.RequestTimeout))
		}
		if deps.Gatherer != nil {
			apiOpts = append(apiOpts, api.WithGatherer(deps.Gatherer))
		}
		s.Handler = api.New(l, s.Checkout, s.Reconciler, p, apiOpts...)
	}

	return s, nil
}

// LoadCatalog reads the configured catalog file, or the embedded catalog,
// and applies price id overrides.
func LoadCatalog(cfg Config) (*catalog.Catalog, error) {
	var (
		cc  catalog.Config
		err error
	)
	if cfg.CatalogFile != "" {
		cc, err = catalog.LoadConfig(cfg.CatalogFile)
	} else {
		cc, err = catalog.DefaultConfig()
	}
	if err != nil {
		return nil, err
	}

	plans, err := catalog.ParsePriceMapping(cfg.PlanPriceIDs)
	if err != nil {
		return nil, err
	}
	packs, err := catalog.ParsePriceMapping(cfg.PackPriceIDs)
	if err != nil {
		return nil, err
	}
	if err := cc.OverridePrices(plans, packs); err != nil {
		return nil, err
	}

	return catalog.New(cc)
}

// NewProvider returns the Stripe provider when a secret key is configured
// and the mock provider otherwise.
func NewProvider(cfg Config, logger *slog.Logger) (provider.Provider, error) {
	if cfg.MockMode() {
		logger.Warn("hotelledger: no stripe secret key configured; using mock provider")
		opts := []mock.Option{mock.WithLogger(logger)}
		if cfg.MockUnsignedWebhooks {
			logger.Warn("hotelledger: mock provider accepts unsigned webhooks")
			opts = append(opts, mock.WithUnsignedEvents())
		}
		return mock.New(opts...), nil
	}
	return stripeprovider.New(stripeprovider.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Timeout:       cfg.ProviderTimeout,
		Logger:        logger,
	})
}

// StoreFor wraps db in the store backend named by driver.
func StoreFor(driver string, db *grove.DB) (store.Store, error) {
	switch driver {
	case "postgres", "pg":
		return postgres.New(db), nil
	case "sqlite":
		return sqlite.New(db), nil
	case "mongo", "mongodb":
		return mongo.New(db), nil
	default:
		return nil, fmt.Errorf("hotelledger: unknown store driver %q", driver)
	}
}
