package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"payment-evidence-backend/internal/logger"
	"payment-evidence-backend/internal/mailbox"
	"payment-evidence-backend/internal/models"
	"payment-evidence-backend/internal/repository"
	"payment-evidence-backend/internal/services/collector"
	"payment-evidence-backend/internal/services/ledger"
	service "payment-evidence-backend/internal/services/reconciliation"
)

const defaultUser = "system"

// EvidenceCollector runs mailbox passes and re-extraction.
type EvidenceCollector interface {
	SyncSlips(ctx context.Context) (collector.Report, error)
	SyncBankCredits(ctx context.Context) (collector.Report, error)
	ReextractReceipt(ctx context.Context, id uuid.UUID) (*models.Receipt, bool, error)
	ReextractBankCredit(ctx context.Context, id uuid.UUID) (*models.BankCredit, bool, error)
}

type SyncRunReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.SyncRun, error)
}

type ReconciliationHandler struct {
	service   *service.ReconciliationService
	collector EvidenceCollector
	runs      SyncRunReader
	log       zerolog.Logger
}

func NewReconciliationHandler(s *service.ReconciliationService, c EvidenceCollector, runs SyncRunReader) *ReconciliationHandler {
	return &ReconciliationHandler{
		service:   s,
		collector: c,
		runs:      runs,
		log:       logger.WithComponent("handler"),
	}
}

// actingUser names who performed a review action. Authentication happens
// upstream; the header is trusted as is.
func actingUser(c *gin.Context) string {
	if u := c.GetHeader("X-User"); u != "" {
		return u
	}
	return defaultUser
}

// pathID parses the :id parameter, answering 400 itself when it is not a uuid.
func pathID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " ID"})
		return uuid.Nil, false
	}
	return id, true
}

func listFilter(c *gin.Context) (repository.ListFilter, error) {
	f := repository.ListFilter{
		Status: c.Query("status"),
		Cursor: c.Query("cursor"),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("invalid limit")
		}
		f.Limit = n
	}
	if v := c.Query("unmatched"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("invalid unmatched flag")
		}
		f.Unmatched = b
	}
	if v := c.Query("min_confidence"); v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil || m < 0 || m > 1 {
			return f, errors.New("min_confidence must be between 0 and 1")
		}
		f.MinConfidence = &m
	}
	return f, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrInvoiceNotFound),
		errors.Is(err, collector.ErrAttachmentGone):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrReasonRequired),
		errors.Is(err, service.ErrNoAmount),
		errors.Is(err, service.ErrNotMatched),
		errors.Is(err, repository.ErrInvalidCursor):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrAlreadyApplied),
		errors.Is(err, service.ErrSiblingApplied),
		errors.Is(err, service.ErrInvoiceClosed),
		errors.Is(err, ledger.ErrConcurrentUpdate),
		errors.Is(err, repository.ErrDuplicate),
		errors.Is(err, collector.ErrNotOpen):
		return http.StatusConflict
	case errors.Is(err, service.ErrFeatureDisabled),
		errors.Is(err, collector.ErrFeatureDisabled),
		errors.Is(err, collector.ErrMailboxUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, mailbox.ErrUnauthorized):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *ReconciliationHandler) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
