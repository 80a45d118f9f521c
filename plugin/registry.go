package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/hotelledger/activation"
	"github.com/xraph/hotelledger/credit"
	"github.com/xraph/hotelledger/subscription"
)

// DefaultTimeout bounds every hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so an emit only walks interested plugins.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                      []OnInit
	onShutdown                  []OnShutdown
	onSubscriptionSuperseded    []OnSubscriptionSuperseded
	onSubscriptionStatusChanged []OnSubscriptionStatusChanged
	onPaymentFailed             []OnPaymentFailed
	onCreditsGranted            []OnCreditsGranted
	onCreditsConsumed           []OnCreditsConsumed
	onInsufficientBalance       []OnInsufficientBalance
	onProductStatusChanged      []OnProductStatusChanged
	onEntitlementDenied         []OnEntitlementDenied
	onWebhookProcessed          []OnWebhookProcessed
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnSubscriptionSuperseded); ok {
		r.onSubscriptionSuperseded = append(r.onSubscriptionSuperseded, v)
	}
	if v, ok := p.(OnSubscriptionStatusChanged); ok {
		r.onSubscriptionStatusChanged = append(r.onSubscriptionStatusChanged, v)
	}
	if v, ok := p.(OnPaymentFailed); ok {
		r.onPaymentFailed = append(r.onPaymentFailed, v)
	}
	if v, ok := p.(OnCreditsGranted); ok {
		r.onCreditsGranted = append(r.onCreditsGranted, v)
	}
	if v, ok := p.(OnCreditsConsumed); ok {
		r.onCreditsConsumed = append(r.onCreditsConsumed, v)
	}
	if v, ok := p.(OnInsufficientBalance); ok {
		r.onInsufficientBalance = append(r.onInsufficientBalance, v)
	}
	if v, ok := p.(OnProductStatusChanged); ok {
		r.onProductStatusChanged = append(r.onProductStatusChanged, v)
	}
	if v, ok := p.(OnEntitlementDenied); ok {
		r.onEntitlementDenied = append(r.onEntitlementDenied, v)
	}
	if v, ok := p.(OnWebhookProcessed); ok {
		r.onWebhookProcessed = append(r.onWebhookProcessed, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

// implementedInterfaces returns the hook names implemented by the plugin.
func implementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnSubscriptionSuperseded)(nil)).Elem(), "OnSubscriptionSuperseded")
	checkInterface(reflect.TypeOf((*OnSubscriptionStatusChanged)(nil)).Elem(), "OnSubscriptionStatusChanged")
	checkInterface(reflect.TypeOf((*OnPaymentFailed)(nil)).Elem(), "OnPaymentFailed")
	checkInterface(reflect.TypeOf((*OnCreditsGranted)(nil)).Elem(), "OnCreditsGranted")
	checkInterface(reflect.TypeOf((*OnCreditsConsumed)(nil)).Elem(), "OnCreditsConsumed")
	checkInterface(reflect.TypeOf((*OnInsufficientBalance)(nil)).Elem(), "OnInsufficientBalance")
	checkInterface(reflect.TypeOf((*OnProductStatusChanged)(nil)).Elem(), "OnProductStatusChanged")
	checkInterface(reflect.TypeOf((*OnEntitlementDenied)(nil)).Elem(), "OnEntitlementDenied")
	checkInterface(reflect.TypeOf((*OnWebhookProcessed)(nil)).Elem(), "OnWebhookProcessed")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInit", func() error {
			return p.OnInit(ctx, engine)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnShutdown", func() error {
			return p.OnShutdown(ctx)
		})
	}
}

// EmitSubscriptionSuperseded emits a subscription superseded event.
func (r *Registry) EmitSubscriptionSuperseded(ctx context.Context, sub, previous *subscription.Subscription) {
	r.mu.RLock()
	plugins := r.onSubscriptionSuperseded
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnSubscriptionSuperseded", func() error {
			return p.OnSubscriptionSuperseded(ctx, sub, previous)
		})
	}
}

// EmitSubscriptionStatusChanged emits a subscription status change.
func (r *Registry) EmitSubscriptionStatusChanged(ctx context.Context, sub *subscription.Subscription, from subscription.Status) {
	r.mu.RLock()
	plugins := r.onSubscriptionStatusChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnSubscriptionStatusChanged", func() error {
			return p.OnSubscriptionStatusChanged(ctx, sub, from)
		})
	}
}

// EmitPaymentFailed emits a payment failure event.
func (r *Registry) EmitPaymentFailed(ctx context.Context, sub *subscription.Subscription) {
	r.mu.RLock()
	plugins := r.onPaymentFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnPaymentFailed", func() error {
			return p.OnPaymentFailed(ctx, sub)
		})
	}
}

// EmitCreditsGranted emits a credit grant event.
func (r *Registry) EmitCreditsGranted(ctx context.Context, tx *credit.Transaction) {
	r.mu.RLock()
	plugins := r.onCreditsGranted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnCreditsGranted", func() error {
			return p.OnCreditsGranted(ctx, tx)
		})
	}
}

// EmitCreditsConsumed emits a credit debit event.
func (r *Registry) EmitCreditsConsumed(ctx context.Context, tx *credit.Transaction) {
	r.mu.RLock()
	plugins := r.onCreditsConsumed
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnCreditsConsumed", func() error {
			return p.OnCreditsConsumed(ctx, tx)
		})
	}
}

// EmitInsufficientBalance emits a rejected debit event.
func (r *Registry) EmitInsufficientBalance(ctx context.Context, principalID string, requested, balance int64) {
	r.mu.RLock()
	plugins := r.onInsufficientBalance
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInsufficientBalance", func() error {
			return p.OnInsufficientBalance(ctx, principalID, requested, balance)
		})
	}
}

// EmitProductStatusChanged emits an activation write.
func (r *Registry) EmitProductStatusChanged(ctx context.Context, a *activation.Activation, from activation.Status) {
	r.mu.RLock()
	plugins := r.onProductStatusChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnProductStatusChanged", func() error {
			return p.OnProductStatusChanged(ctx, a, from)
		})
	}
}

// EmitEntitlementDenied emits a refused activation.
func (r *Registry) EmitEntitlementDenied(ctx context.Context, hotelID, productID string) {
	r.mu.RLock()
	plugins := r.onEntitlementDenied
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnEntitlementDenied", func() error {
			return p.OnEntitlementDenied(ctx, hotelID, productID)
		})
	}
}

// EmitWebhookProcessed emits the outcome of one reconciled provider event.
func (r *Registry) EmitWebhookProcessed(ctx context.Context, provider, eventType, outcome string, elapsed time.Duration, err error) {
	r.mu.RLock()
	plugins := r.onWebhookProcessed
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnWebhookProcessed", func() error {
			return p.OnWebhookProcessed(ctx, provider, eventType, outcome, elapsed, err)
		})
	}
}

func (r *Registry) dispatch(ctx context.Context, pluginName, hook string, fn func() error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins must never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
