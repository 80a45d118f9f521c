package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/hotelledger/checkout"
)

func (h *Handler) createCreditCheckout(c *gin.Context) {
	var req checkout.CreditPurchaseRequest
	if !h.bindJSON(c, &req) {
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	res, err := h.checkout.CreditPurchase(ctx, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) createSubscriptionCheckout(c *gin.Context) {
	var req checkout.SubscriptionRequest
	if !h.bindJSON(c, &req) {
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	res, err := h.checkout.Subscription(ctx, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) changePlan(c *gin.Context) {
	var req checkout.PlanChangeRequest
	if !h.bindJSON(c, &req) {
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	res, err := h.checkout.PlanChange(ctx, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
