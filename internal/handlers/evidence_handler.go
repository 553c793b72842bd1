package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type matchPayload struct {
	InvoiceID string           `json:"invoice_id"`
	Amount    *decimal.Decimal `json:"amount"`
}

func bindMatch(c *gin.Context) (uuid.UUID, *decimal.Decimal, bool) {
	var payload matchPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return uuid.Nil, nil, false
	}
	invoiceID, err := uuid.Parse(payload.InvoiceID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice ID"})
		return uuid.Nil, nil, false
	}
	return invoiceID, payload.Amount, true
}

func (h *ReconciliationHandler) ListReceipts(c *gin.Context) {
	f, err := listFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items, next, more, err := h.service.ListReceipts(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "next_cursor": next, "has_more": more})
}

func (h *ReconciliationHandler) SuggestForReceipt(c *gin.Context) {
	id, ok := pathID(c, "receipt")
	if !ok {
		return
	}
	suggestions, err := h.service.SuggestForReceipt(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

func (h *ReconciliationHandler) MatchReceipt(c *gin.Context) {
	id, ok := pathID(c, "receipt")
	if !ok {
		return
	}
	invoiceID, amount, ok := bindMatch(c)
	if !ok {
		return
	}
	r, err := h.service.MatchReceipt(c.Request.Context(), id, invoiceID, amount, actingUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "receipt matched", "receipt": r})
}

func (h *ReconciliationHandler) UnmatchReceipt(c *gin.Context) {
	id, ok := pathID(c, "receipt")
	if !ok {
		return
	}
	r, err := h.service.UnmatchReceipt(c.Request.Context(), id, actingUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "receipt unmatched", "receipt": r})
}

func (h *ReconciliationHandler) VerifyReceipt(c *gin.Context) {
	id, ok := pathID(c, "receipt")
	if !ok {
		return
	}
	var payload struct {
		Note string `json:"note"`
	}
	// body is optional
	_ = c.ShouldBindJSON(&payload)

	r, err := h.service.VerifyReceipt(c.Request.Context(), id, actingUser(c), payload.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "receipt verified", "receipt": r})
}

func (h *ReconciliationHandler) RejectReceipt(c *gin.Context) {
	id, ok := pathID(c, "receipt")
	if !ok {
		return
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	r, err := h.service.RejectReceipt(c.Request.Context(), id, actingUser(c), payload.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "receipt rejected", "receipt": r})
}

func (h *ReconciliationHandler) ReextractReceipt(c *gin.Context) {
	id, ok := pathID(c, "receipt")
	if !ok {
		return
	}
	r, found, err := h.collector.ReextractReceipt(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount_found": found, "receipt": r})
}

func (h *ReconciliationHandler) ListBankCredits(c *gin.Context) {
	f, err := listFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items, next, more, err := h.service.ListBankCredits(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "next_cursor": next, "has_more": more})
}

func (h *ReconciliationHandler) SuggestForBankCredit(c *gin.Context) {
	id, ok := pathID(c, "bank credit")
	if !ok {
		return
	}
	suggestions, err := h.service.SuggestForBankCredit(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

func (h *ReconciliationHandler) MatchBankCredit(c *gin.Context) {
	id, ok := pathID(c, "bank credit")
	if !ok {
		return
	}
	invoiceID, amount, ok := bindMatch(c)
	if !ok {
		return
	}
	credit, err := h.service.MatchBankCredit(c.Request.Context(), id, invoiceID, amount, actingUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "bank credit matched", "bank_credit": credit})
}

func (h *ReconciliationHandler) UnmatchBankCredit(c *gin.Context) {
	id, ok := pathID(c, "bank credit")
	if !ok {
		return
	}
	credit, err := h.service.UnmatchBankCredit(c.Request.Context(), id, actingUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "bank credit reopened", "bank_credit": credit})
}

func (h *ReconciliationHandler) MarkBankCreditNotOurs(c *gin.Context) {
	id, ok := pathID(c, "bank credit")
	if !ok {
		return
	}
	credit, err := h.service.MarkBankCreditNotOurs(c.Request.Context(), id, actingUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "bank credit marked as not ours", "bank_credit": credit})
}

func (h *ReconciliationHandler) FlagBankCredit(c *gin.Context) {
	id, ok := pathID(c, "bank credit")
	if !ok {
		return
	}
	credit, err := h.service.FlagBankCredit(c.Request.Context(), id, actingUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "bank credit flagged", "bank_credit": credit})
}

func (h *ReconciliationHandler) ReextractBankCredit(c *gin.Context) {
	id, ok := pathID(c, "bank credit")
	if !ok {
		return
	}
	credit, found, err := h.collector.ReextractBankCredit(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount_found": found, "bank_credit": credit})
}
