// Package audithook bridges ledger lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter, or use
// SlogRecorder to write the trail to a structured log.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/hotelledger/activation"
	"github.com/xraph/hotelledger/credit"
	"github.com/xraph/hotelledger/plugin"
	"github.com/xraph/hotelledger/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                      = (*Extension)(nil)
	_ plugin.OnSubscriptionSuperseded    = (*Extension)(nil)
	_ plugin.OnSubscriptionStatusChanged = (*Extension)(nil)
	_ plugin.OnPaymentFailed             = (*Extension)(nil)
	_ plugin.OnCreditsGranted            = (*Extension)(nil)
	_ plugin.OnCreditsConsumed           = (*Extension)(nil)
	_ plugin.OnInsufficientBalance       = (*Extension)(nil)
	_ plugin.OnProductStatusChanged      = (*Extension)(nil)
	_ plugin.OnEntitlementDenied         = (*Extension)(nil)
	_ plugin.OnWebhookProcessed          = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a single audit trail entry.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// SlogRecorder writes audit events to logger at a level derived from their
// severity.
func SlogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityError, SeverityCritical:
			level = slog.LevelError
		}
		logger.Log(ctx, level, "audit",
			"action", evt.Action,
			"resource", evt.Resource,
			"resource_id", evt.ResourceID,
			"category", evt.Category,
			"outcome", evt.Outcome,
			"metadata", evt.Metadata,
		)
		return nil
	})
}

// Extension bridges ledger lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionSuperseded implements plugin.OnSubscriptionSuperseded.
func (e *Extension) OnSubscriptionSuperseded(ctx context.Context, sub, previous *subscription.Subscription) error {
	if previous == nil {
		return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
			ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
			"organization_id", sub.OrganizationID,
			"plan_id", sub.PlanID,
			"external_subscription_id", sub.ExternalSubscriptionID,
		)
	}
	return e.record(ctx, ActionSubscriptionSuperseded, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"organization_id", sub.OrganizationID,
		"plan_id", sub.PlanID,
		"previous_subscription_id", previous.ID.String(),
		"previous_plan_id", previous.PlanID,
	)
}

// OnSubscriptionStatusChanged implements plugin.OnSubscriptionStatusChanged.
func (e *Extension) OnSubscriptionStatusChanged(ctx context.Context, sub *subscription.Subscription, from subscription.Status) error {
	severity := SeverityInfo
	if sub.Status == subscription.StatusSuspended {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionSubscriptionStatus, severity, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"organization_id", sub.OrganizationID,
		"from", string(from),
		"to", string(sub.Status),
	)
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (e *Extension) OnPaymentFailed(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionPaymentFailed, SeverityWarning, OutcomeFailure,
		ResourceSubscription, sub.ID.String(), CategoryPayment, nil,
		"organization_id", sub.OrganizationID,
		"failures", sub.PaymentFailedCount,
		"status", string(sub.Status),
	)
}

// ──────────────────────────────────────────────────
// Credit hooks
// ──────────────────────────────────────────────────

// OnCreditsGranted implements plugin.OnCreditsGranted.
func (e *Extension) OnCreditsGranted(ctx context.Context, tx *credit.Transaction) error {
	return e.record(ctx, ActionCreditsGranted, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, tx.ID.String(), CategoryBilling, nil,
		"organization_id", tx.PrincipalID,
		"type", string(tx.Type),
		"amount", tx.Amount,
		"balance_after", tx.BalanceAfter,
		"reference_id", tx.ReferenceID,
	)
}

// OnCreditsConsumed implements plugin.OnCreditsConsumed.
func (e *Extension) OnCreditsConsumed(ctx context.Context, tx *credit.Transaction) error {
	return e.record(ctx, ActionCreditsConsumed, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, tx.ID.String(), CategoryBilling, nil,
		"organization_id", tx.PrincipalID,
		"amount", -tx.Amount,
		"balance_after", tx.BalanceAfter,
		"reason", tx.Description,
	)
}

// OnInsufficientBalance implements plugin.OnInsufficientBalance.
func (e *Extension) OnInsufficientBalance(ctx context.Context, principalID string, requested, balance int64) error {
	return e.record(ctx, ActionInsufficientBalance, SeverityWarning, OutcomeFailure,
		ResourceOrganization, principalID, CategoryBilling, nil,
		"requested", requested,
		"balance", balance,
	)
}

// ──────────────────────────────────────────────────
// Activation hooks
// ──────────────────────────────────────────────────

// OnProductStatusChanged implements plugin.OnProductStatusChanged.
func (e *Extension) OnProductStatusChanged(ctx context.Context, a *activation.Activation, from activation.Status) error {
	return e.record(ctx, ActionProductStatus, SeverityInfo, OutcomeSuccess,
		ResourceActivation, a.ID.String(), CategoryAccess, nil,
		"hotel_id", a.HotelID,
		"product_id", a.ProductID,
		"from", string(from),
		"to", string(a.Status),
	)
}

// OnEntitlementDenied implements plugin.OnEntitlementDenied.
func (e *Extension) OnEntitlementDenied(ctx context.Context, hotelID, productID string) error {
	return e.record(ctx, ActionEntitlementDenied, SeverityWarning, OutcomeFailure,
		ResourceActivation, hotelID+"/"+productID, CategoryAccess, nil,
		"hotel_id", hotelID,
		"product_id", productID,
	)
}

// ──────────────────────────────────────────────────
// Provider hooks
// ──────────────────────────────────────────────────

// OnWebhookProcessed implements plugin.OnWebhookProcessed.
func (e *Extension) OnWebhookProcessed(ctx context.Context, provider, eventType, outcome string, elapsed time.Duration, err error) error {
	severity, result := SeverityInfo, OutcomeSuccess
	if err != nil {
		severity, result = SeverityError, OutcomeFailure
	}
	return e.record(ctx, ActionWebhookProcessed, severity, result,
		ResourceWebhook, provider+":"+eventType, CategoryIntegration, err,
		"provider", provider,
		"event_type", eventType,
		"outcome", outcome,
		"elapsed_ms", strconv.FormatInt(elapsed.Milliseconds(), 10),
	)
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
