package audithook

// Action constants for audit events.
const (
	// Subscription actions
	ActionSubscriptionCreated    = "subscription.created"
	ActionSubscriptionSuperseded = "subscription.superseded"
	ActionSubscriptionStatus     = "subscription.status_changed"
	ActionPaymentFailed          = "subscription.payment_failed"

	// Credit actions
	ActionCreditsGranted      = "credits.granted"
	ActionCreditsConsumed     = "credits.consumed"
	ActionInsufficientBalance = "credits.insufficient_balance"

	// Activation actions
	ActionProductStatus     = "product.status_changed"
	ActionEntitlementDenied = "entitlement.denied"

	// Provider actions
	ActionWebhookProcessed = "webhook.processed"
)

// Resource constants for audit events.
const (
	ResourceSubscription = "subscription"
	ResourceTransaction  = "ledger_transaction"
	ResourceOrganization = "organization"
	ResourceActivation   = "product_activation"
	ResourceWebhook      = "webhook"
)

// Category constants for audit events.
const (
	CategorySubscription = "subscription"
	CategoryBilling      = "billing"
	CategoryAccess       = "access"
	CategoryPayment      = "payment"
	CategoryIntegration  = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
