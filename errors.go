package hotelledger

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("hotelledger: not found")
	ErrInvalidInput = errors.New("hotelledger: invalid input")
	ErrConflict     = errors.New("hotelledger: conflicting concurrent write")

	// Catalog errors
	ErrPlanNotFound       = errors.New("hotelledger: plan not found")
	ErrPackNotFound       = errors.New("hotelledger: credit pack not found")
	ErrPriceNotConfigured = errors.New("hotelledger: no external price configured")
	ErrMalformedPriceID   = errors.New("hotelledger: malformed external price id")

	// Organization errors
	ErrOrganizationNotFound = errors.New("hotelledger: organization not found")
	ErrHotelNotFound        = errors.New("hotelledger: hotel not found")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("hotelledger: subscription not found")
	ErrNoActiveSubscription = errors.New("hotelledger: no active subscription")
	ErrPlanUnchanged        = errors.New("hotelledger: organization is already on this plan")
	ErrInvalidStatus        = errors.New("hotelledger: invalid status")

	// Credit ledger errors
	ErrTransactionNotFound = errors.New("hotelledger: ledger transaction not found")
	ErrInsufficientBalance = errors.New("hotelledger: insufficient balance")
	ErrInvalidAmount       = errors.New("hotelledger: invalid amount")
	ErrDuplicateReference  = errors.New("hotelledger: duplicate ledger reference")
	ErrConcurrentAppend    = errors.New("hotelledger: concurrent ledger append")
	ErrBalanceMismatch     = errors.New("hotelledger: balance does not match transaction history")

	// Activation errors
	ErrActivationNotFound = errors.New("hotelledger: product activation not found")
	ErrNoEntitlement      = errors.New("hotelledger: no entitlement for product")

	// Provider errors
	ErrProviderAuth        = errors.New("hotelledger: payment provider rejected credentials")
	ErrProviderRequest     = errors.New("hotelledger: payment provider rejected request")
	ErrProviderUnavailable = errors.New("hotelledger: payment provider unavailable")
	ErrWebhookSignature    = errors.New("hotelledger: webhook signature verification failed")
	ErrWebhookPayload      = errors.New("hotelledger: malformed webhook payload")

	// Webhook event errors
	ErrDuplicateEvent = errors.New("hotelledger: webhook event already processed")

	// Store errors
	ErrStoreClosed     = errors.New("hotelledger: store is closed")
	ErrMigrationFailed = errors.New("hotelledger: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("hotelledger: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// Required is shorthand for a missing-field ValidationError.
func Required(field string) ValidationError {
	return ValidationError{Field: field, Message: "is required"}
}

// ProviderError is a failure reported by the payment provider, classified
// into one of ErrProviderAuth, ErrProviderRequest or ErrProviderUnavailable.
type ProviderError struct {
	Op         string
	Kind       error
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v: %s (status %d): %s", e.Kind, e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Op, msg)
}

// Unwrap exposes both the classification sentinel and the cause.
func (e *ProviderError) Unwrap() []error {
	out := []error{e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "hotelledger: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("hotelledger: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrOrNil returns the multi-error when it holds anything, nil otherwise.
func (e MultiError) ErrOrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// Unwrap allows errors.Is/As to inspect every collected error.
func (e MultiError) Unwrap() []error { return e.Errors }

// ──────────────────────────────────────────────────
// Classification
// ──────────────────────────────────────────────────

// ErrorKind is the caller-facing category of an error.
type ErrorKind int

// Error kinds, in the order they are checked by KindOf.
const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindProviderAuth
	KindProviderRequest
	KindProviderUnavailable
	KindInsufficientBalance
	KindConflict
	KindNoEntitlement
)

var kindNames = map[ErrorKind]string{
	KindInternal:            "internal_error",
	KindValidation:          "validation_error",
	KindNotFound:            "not_found",
	KindProviderAuth:        "provider_auth_error",
	KindProviderRequest:     "provider_request_error",
	KindProviderUnavailable: "provider_unavailable",
	KindInsufficientBalance: "insufficient_balance",
	KindConflict:            "conflict",
	KindNoEntitlement:       "no_entitlement",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "internal_error"
}

// KindOf classifies err into the error taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrProviderAuth):
		return KindProviderAuth
	case errors.Is(err, ErrProviderUnavailable):
		return KindProviderUnavailable
	case errors.Is(err, ErrProviderRequest), errors.Is(err, ErrMalformedPriceID):
		return KindProviderRequest
	case IsValidation(err):
		return KindValidation
	case IsNotFound(err):
		return KindNotFound
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, ErrConflict), errors.Is(err, ErrConcurrentAppend):
		return KindConflict
	case errors.Is(err, ErrNoEntitlement):
		return KindNoEntitlement
	}
	return KindInternal
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrPackNotFound) ||
		errors.Is(err, ErrPriceNotConfigured) ||
		errors.Is(err, ErrOrganizationNotFound) ||
		errors.Is(err, ErrHotelNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrNoActiveSubscription) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrActivationNotFound)
}

// IsValidation returns true if the error stems from bad caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrPlanUnchanged) ||
		errors.Is(err, ErrWebhookSignature) ||
		errors.Is(err, ErrWebhookPayload)
}

// IsProviderError returns true if the payment provider caused the failure.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrProviderAuth) ||
		errors.Is(err, ErrProviderRequest) ||
		errors.Is(err, ErrProviderUnavailable)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrConcurrentAppend) ||
		errors.Is(err, ErrConflict)
}
