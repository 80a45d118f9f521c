package extension

import "time"

// Config holds the hotel ledger extension configuration.
// Fields can be set programmatically via Option functions, loaded from
// YAML configuration files (under "extensions.hotelledger" or "hotelledger"
// keys), or filled from the environment by ApplyEnv.
type Config struct {
	// DisableRoutes prevents construction of the HTTP handler.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for billing routes (default: "/api/billing").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// CatalogFile points at a YAML catalog. Empty uses the embedded one.
	CatalogFile string `json:"catalog_file" mapstructure:"catalog_file" yaml:"catalog_file"`

	// PlanPriceIDs and PackPriceIDs override catalog price ids, formatted
	// as "id=price_x,id2=price_y".
	PlanPriceIDs string `json:"plan_price_ids" mapstructure:"plan_price_ids" yaml:"plan_price_ids"`
	PackPriceIDs string `json:"pack_price_ids" mapstructure:"pack_price_ids" yaml:"pack_price_ids"`

	// StripeSecretKey selects the Stripe provider. When empty the mock
	// provider is used and checkouts redirect straight to the success URL.
	StripeSecretKey     string `json:"-" mapstructure:"stripe_secret_key" yaml:"stripe_secret_key"`
	StripeWebhookSecret string `json:"-" mapstructure:"stripe_webhook_secret" yaml:"stripe_webhook_secret"`

	// MockUnsignedWebhooks lets the mock provider accept unsigned webhook
	// events. Without it the webhook endpoint answers 503 in mock mode.
	MockUnsignedWebhooks bool `json:"mock_unsigned_webhooks" mapstructure:"mock_unsigned_webhooks" yaml:"mock_unsigned_webhooks"`

	// ProviderTimeout bounds each provider call (default: 10s).
	ProviderTimeout time.Duration `json:"provider_timeout" mapstructure:"provider_timeout" yaml:"provider_timeout"`

	// SuccessURL and CancelURL are the checkout redirects used when a
	// request does not carry its own.
	SuccessURL string `json:"success_url" mapstructure:"success_url" yaml:"success_url"`
	CancelURL  string `json:"cancel_url" mapstructure:"cancel_url" yaml:"cancel_url"`

	// PaymentFailureThreshold is the number of consecutive failed renewal
	// payments that suspend a subscription (default: 3).
	PaymentFailureThreshold int `json:"payment_failure_threshold" mapstructure:"payment_failure_threshold" yaml:"payment_failure_threshold"`

	// RequestTimeout bounds each HTTP request (default: 30s).
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout" yaml:"request_timeout"`

	// GroveDatabase names the grove.DB handed to WithGroveDB. It is only
	// used in logs.
	GroveDatabase string `json:"grove_database" mapstructure:"grove_database" yaml:"grove_database"`

	// StoreDriver selects the store built around a grove.DB:
	// "postgres", "sqlite" or "mongo".
	StoreDriver string `json:"store_driver" mapstructure:"store_driver" yaml:"store_driver"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:                "/api/billing",
		ProviderTimeout:         10 * time.Second,
		PaymentFailureThreshold: 3,
		RequestTimeout:          30 * time.Second,
		StoreDriver:             "postgres",
	}
}

// MockMode reports whether no payment provider credentials are configured.
func (c Config) MockMode() bool { return c.StripeSecretKey == "" }
