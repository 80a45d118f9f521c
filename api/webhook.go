package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/provider"
)

// handleWebhook verifies a provider notification and hands it to the
// reconciler. A 2xx tells the provider to stop retrying, so processing
// failures answer 500.
func (h *Handler) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("failed to read webhook body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "unreadable body"})
		return
	}

	evt, err := h.provider.ParseEvent(body, c.GetHeader("Stripe-Signature"))
	switch {
	case errors.Is(err, provider.ErrWebhookNotConfigured):
		h.logger.Error("webhook received but no signing secret is configured")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "not_configured", Message: "webhooks not configured"})
		return
	case errors.Is(err, hotelledger.ErrWebhookSignature):
		h.logger.Warn("webhook signature verification failed", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_signature", Message: "invalid signature"})
		return
	case err != nil:
		h.logger.Warn("invalid webhook payload", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	res, err := h.reconciler.Reconcile(ctx, evt)
	if err != nil {
		// Payload problems will not improve on retry.
		if errors.Is(err, hotelledger.ErrWebhookPayload) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "processing_failed", Message: "event processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": res.Outcome})
}
