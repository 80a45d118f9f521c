package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/hotelledger"
	"github.com/xraph/hotelledger/activation"
	"github.com/xraph/hotelledger/credit"
)

// BalanceResponse is returned by GET /organizations/:id/balance.
type BalanceResponse struct {
	OrganizationID string `json:"organizationId"`
	Credits        int64  `json:"credits"`
	Tokens         int64  `json:"tokens"`
}

func (h *Handler) getBalance(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	orgID := c.Param("id")
	credits, err := h.ledger.BalanceOf(ctx, orgID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, BalanceResponse{
		OrganizationID: orgID,
		Credits:        credits,
		Tokens:         credit.Tokens(credits),
	})
}

func (h *Handler) listTransactions(c *gin.Context) {
	opts, err := parseListOpts(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	txs, err := h.ledger.HistoryOf(ctx, c.Param("id"), opts)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if txs == nil {
		txs = []*credit.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

func parseListOpts(c *gin.Context) (credit.ListOpts, error) {
	opts := credit.ListOpts{Limit: 50}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			return opts, hotelledger.ValidationError{Field: "limit", Message: "must be between 1 and 500"}
		}
		opts.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, hotelledger.ValidationError{Field: "offset", Message: "must be a non-negative integer"}
		}
		opts.Offset = n
	}
	if v := c.Query("type"); v != "" {
		for _, raw := range strings.Split(v, ",") {
			t := credit.TransactionType(strings.TrimSpace(raw))
			if !t.Valid() {
				return opts, hotelledger.ValidationError{Field: "type", Message: "unknown transaction type " + string(t)}
			}
			opts.Types = append(opts.Types, t)
		}
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, hotelledger.ValidationError{Field: p.name, Message: "must be an RFC 3339 timestamp"}
		}
		*p.dst = &t
	}
	opts.Ascending = c.Query("order") == "asc"
	return opts, nil
}

func (h *Handler) getSubscription(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	sub, err := h.ledger.CurrentSubscription(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

type consumeRequest struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Reason string `json:"reason"`
}

func (h *Handler) consumeCredits(c *gin.Context) {
	var req consumeRequest
	if !h.bindJSON(c, &req) {
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	tx, err := h.ledger.Consume(ctx, c.Param("id"), req.Amount, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (h *Handler) listProducts(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	hotelID := c.Param("hotelId")
	if _, err := h.ledger.Hotel(ctx, hotelID); err != nil {
		h.writeError(c, err)
		return
	}
	products, err := h.ledger.HotelProducts(ctx, hotelID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if products == nil {
		products = []*activation.Activation{}
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

type productStatusRequest struct {
	Status activation.Status `json:"status" binding:"required,oneof=active paused inactive"`
}

func (h *Handler) setProductStatus(c *gin.Context) {
	var req productStatusRequest
	if !h.bindJSON(c, &req) {
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	a, err := h.ledger.SetProductStatus(ctx, c.Param("hotelId"), c.Param("productId"), req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
