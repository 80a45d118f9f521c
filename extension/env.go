package extension

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by ApplyEnv.
const (
	EnvStripeSecretKey     = "STRIPE_SECRET_KEY"
	EnvStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	EnvPlanPriceIDs        = "PLAN_PRICE_IDS"
	EnvPackPriceIDs        = "PACK_PRICE_IDS"
	EnvCatalogFile         = "CATALOG_FILE"
	EnvSuccessURL          = "CHECKOUT_SUCCESS_URL"
	EnvCancelURL           = "CHECKOUT_CANCEL_URL"
	EnvPaymentFailures     = "PAYMENT_FAILURE_THRESHOLD"
	EnvProviderTimeout     = "PROVIDER_TIMEOUT"
	EnvBasePath            = "BILLING_BASE_PATH"
	EnvMockUnsigned        = "MOCK_UNSIGNED_WEBHOOKS"
)

// LoadEnv loads .env and then .env.local into the process environment.
// Missing files are skipped.
func LoadEnv(logger *slog.Logger) {
	files := []string{".env", ".env.local"}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			if logger != nil {
				logger.Warn("hotelledger: failed to load env file", "file", file, "error", err)
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger == nil {
		return
	}
	if len(loaded) == 0 {
		logger.Debug("hotelledger: no env files loaded; relying on process environment")
		return
	}
	logger.Debug("hotelledger: loaded env files", "files", strings.Join(loaded, ", "))
}

// GetEnv gets an environment variable with a default value.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets an integer environment variable with a default value.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable with a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvDuration gets a duration environment variable with a default value.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// ApplyEnv fills fields that are still zero from the environment.
// Explicit configuration always wins.
func (c *Config) ApplyEnv() {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = GetEnv(key, "")
		}
	}
	fill(&c.StripeSecretKey, EnvStripeSecretKey)
	fill(&c.StripeWebhookSecret, EnvStripeWebhookSecret)
	fill(&c.PlanPriceIDs, EnvPlanPriceIDs)
	fill(&c.PackPriceIDs, EnvPackPriceIDs)
	fill(&c.CatalogFile, EnvCatalogFile)
	fill(&c.SuccessURL, EnvSuccessURL)
	fill(&c.CancelURL, EnvCancelURL)
	fill(&c.BasePath, EnvBasePath)

	if c.PaymentFailureThreshold == 0 {
		c.PaymentFailureThreshold = GetEnvInt(EnvPaymentFailures, 0)
	}
	if c.ProviderTimeout == 0 {
		c.ProviderTimeout = GetEnvDuration(EnvProviderTimeout, 0)
	}
	if !c.MockUnsignedWebhooks {
		c.MockUnsignedWebhooks = GetEnvBool(EnvMockUnsigned, false)
	}
}
