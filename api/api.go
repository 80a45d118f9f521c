// Package api exposes the ledger over HTTP with gin: checkout session
// creation, the payment provider webhook, balance and subscription reads
// and hotel product toggles.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/checkout"
	"github.com/xraph/hotelledger/provider"
	"github.com/xraph/hotelledger/reconcile"
)

// DefaultBasePath prefixes every ledger route.
const DefaultBasePath = "/api/billing"

// maxWebhookBody bounds webhook payloads.
const maxWebhookBody = 1 << 20

// Handler serves the ledger's HTTP surface.
type Handler struct {
	ledger     *hotelledger.Ledger
	checkout   *checkout.Builder
	reconciler *reconcile.Reconciler
	provider   provider.Provider
	logger     *slog.Logger
	basePath   string
	gatherer   prometheus.Gatherer
	timeout    time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithBasePath changes the route prefix.
func WithBasePath(p string) Option {
	return func(h *Handler) { h.basePath = p }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) { h.gatherer = g }
}

// WithRequestTimeout bounds the work done for a single request.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

// New creates the HTTP handler.
func New(l *hotelledger.Ledger, b *checkout.Builder, r *reconcile.Reconciler, p provider.Provider, opts ...Option) *Handler {
	h := &Handler{
		ledger:     l,
		checkout:   b,
		reconciler: r,
		provider:   p,
		logger:     slog.Default(),
		basePath:   DefaultBasePath,
		gatherer:   prometheus.DefaultGatherer,
		timeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the ledger routes under the base path of r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group(h.basePath)

	g.POST("/checkout/credits", h.createCreditCheckout)
	g.POST("/checkout/subscription", h.createSubscriptionCheckout)
	g.POST("/subscriptions/change", h.changePlan)
	g.POST("/webhooks/stripe", h.handleWebhook)

	g.GET("/organizations/:id/balance", h.getBalance)
	g.GET("/organizations/:id/transactions", h.listTransactions)
	g.GET("/organizations/:id/subscription", h.getSubscription)
	g.POST("/organizations/:id/consume", h.consumeCredits)

	g.GET("/hotels/:hotelId/products", h.listProducts)
	g.PUT("/hotels/:hotelId/products/:productId", h.setProductStatus)
}

// Router builds a standalone engine with the ledger routes plus /health and
// /metrics.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	h.Register(r)
	return r
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.ledger.Health(ctx); err != nil {
		h.logger.Warn("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "provider": h.provider.Name()})
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		h.logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"elapsed", time.Since(start),
		)
	}
}

// requestContext bounds a handler's work.
func (h *Handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}
