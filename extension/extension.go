// Package extension provides the Forge extension adapter for the hotel ledger.
//
// It implements the forge.Extension interface to integrate the ledger,
// checkout builder, webhook reconciler and HTTP handler into a Forge
// application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions,
// via YAML configuration files under "extensions.hotelledger" or
// "hotelledger" keys, or from the environment (STRIPE_SECRET_KEY and
// friends, optionally loaded from .env files).
package extension

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/api"
	"github.com/xraph/hotelledger/catalog"
	"github.com/xraph/hotelledger/checkout"
	"github.com/xraph/hotelledger/provider"
	"github.com/xraph/hotelledger/reconcile"
	"github.com/xraph/hotelledger/store"
	"github.com/xraph/hotelledger/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "hotelledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Hotel SaaS entitlement and billing ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the hotel ledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	stack      *Stack
	store      store.Store
	catalog    *catalog.Catalog
	provider   provider.Provider
	ledgerOpts []hotelledger.Option

	groveDB  *grove.DB
	useGrove bool
}

// New creates a new hotel ledger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *hotelledger.Ledger {
	if e.stack == nil {
		return nil
	}
	return e.stack.Ledger
}

// Stack returns every assembled component. This is nil until Register is called.
func (e *Extension) Stack() *Stack { return e.stack }

// Handler returns the HTTP handler, or nil when routes are disabled.
func (e *Extension) Handler() *api.Handler {
	if e.stack == nil {
		return nil
	}
	return e.stack.Handler
}

// Register implements [forge.Extension]. It loads configuration, assembles
// the ledger stack, and registers its components in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.resolveStore(); err != nil {
		return err
	}

	stack, err := Build(e.config, Deps{
		Store:      e.store,
		Logger:     slog.Default(),
		LedgerOpts: e.ledgerOpts,
		Catalog:    e.catalog,
		Provider:   e.provider,
	})
	if err != nil {
		return err
	}
	e.stack = stack

	e.Logger().Info("hotelledger: stack assembled",
		forge.F("provider", stack.Provider.Name()),
		forge.F("plans", len(stack.Catalog.Plans())),
		forge.F("packs", len(stack.Catalog.Packs())),
		forge.F("routes", stack.Handler != nil),
	)

	c := fapp.Container()
	if err := vessel.Provide(c, func() (*hotelledger.Ledger, error) {
		return e.stack.Ledger, nil
	}); err != nil {
		return err
	}
	if err := vessel.Provide(c, func() (*checkout.Builder, error) {
		return e.stack.Checkout, nil
	}); err != nil {
		return err
	}
	if err := vessel.Provide(c, func() (*reconcile.Reconciler, error) {
		return e.stack.Reconciler, nil
	}); err != nil {
		return err
	}
	if e.stack.Handler == nil {
		return nil
	}
	return vessel.Provide(c, func() (*api.Handler, error) {
		return e.stack.Handler, nil
	})
}

// resolveStore picks the programmatic store, a store built around the
// grove database, or the memory store, in that order.
func (e *Extension) resolveStore() error {
	switch {
	case e.store != nil:
	case e.useGrove:
		if e.groveDB == nil {
			return errors.New("hotelledger: grove database is nil")
		}
		s, err := StoreFor(e.config.StoreDriver, e.groveDB)
		if err != nil {
			return err
		}
		e.store = s
		e.Logger().Debug("hotelledger: using grove store",
			forge.F("driver", e.config.StoreDriver),
			forge.F("database", e.config.GroveDatabase),
		)
	default:
		e.store = memory.New()
		e.Logger().Warn("hotelledger: no store configured; using in-memory store")
	}
	return nil
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.stack == nil {
		return errors.New("hotelledger: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.stack.Ledger.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.stack != nil {
		if err := e.stack.Ledger.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("hotelledger: store not initialized")
	}
	return e.store.Ping(ctx)
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources,
// then fills the remaining gaps from the environment.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("hotelledger: configuration is required but not found in config files; " +
				"ensure 'extensions.hotelledger' or 'hotelledger' key exists in your config")
		}
		programmaticConfig.ApplyEnv()
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		merged := mergeFileConfig(fileConfig, programmaticConfig)
		merged.ApplyEnv()
		e.config = e.mergeWithDefaults(merged)
	}

	e.Logger().Debug("hotelledger: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("catalog_file", e.config.CatalogFile),
		forge.F("mock_mode", e.config.MockMode()),
		forge.F("payment_failure_threshold", e.config.PaymentFailureThreshold),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.hotelledger", "hotelledger"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("hotelledger: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("hotelledger: loaded config from file",
			forge.F("key", key),
		)
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	return withDefaults(cfg)
}

func withDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.ProviderTimeout == 0 {
		cfg.ProviderTimeout = defaults.ProviderTimeout
	}
	if cfg.PaymentFailureThreshold == 0 {
		cfg.PaymentFailureThreshold = defaults.PaymentFailureThreshold
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = defaults.StoreDriver
	}
	return cfg
}

// mergeFileConfig merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeFileConfig(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.MockUnsignedWebhooks {
		yamlConfig.MockUnsignedWebhooks = true
	}

	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
		}
	}
	fill(&yamlConfig.BasePath, programmaticConfig.BasePath)
	fill(&yamlConfig.CatalogFile, programmaticConfig.CatalogFile)
	fill(&yamlConfig.PlanPriceIDs, programmaticConfig.PlanPriceIDs)
	fill(&yamlConfig.PackPriceIDs, programmaticConfig.PackPriceIDs)
	fill(&yamlConfig.StripeSecretKey, programmaticConfig.StripeSecretKey)
	fill(&yamlConfig.StripeWebhookSecret, programmaticConfig.StripeWebhookSecret)
	fill(&yamlConfig.SuccessURL, programmaticConfig.SuccessURL)
	fill(&yamlConfig.CancelURL, programmaticConfig.CancelURL)

	// A grove database handed over in code decides the driver.
	if programmaticConfig.StoreDriver != "" {
		yamlConfig.StoreDriver = programmaticConfig.StoreDriver
	}
	fill(&yamlConfig.GroveDatabase, programmaticConfig.GroveDatabase)

	if yamlConfig.PaymentFailureThreshold == 0 {
		yamlConfig.PaymentFailureThreshold = programmaticConfig.PaymentFailureThreshold
	}
	if yamlConfig.ProviderTimeout == 0 {
		yamlConfig.ProviderTimeout = programmaticConfig.ProviderTimeout
	}
	if yamlConfig.RequestTimeout == 0 {
		yamlConfig.RequestTimeout = programmaticConfig.RequestTimeout
	}

	return yamlConfig
}
