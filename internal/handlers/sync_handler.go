package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"payment-evidence-backend/internal/services/collector"
)

func (h *ReconciliationHandler) SyncReceipts(c *gin.Context) {
	h.sync(c, h.collector.SyncSlips)
}

func (h *ReconciliationHandler) SyncBankCredits(c *gin.Context) {
	h.sync(c, h.collector.SyncBankCredits)
}

// sync runs a pass. A pass that stops early still reports how much it
// collected before failing.
func (h *ReconciliationHandler) sync(c *gin.Context, run func(context.Context) (collector.Report, error)) {
	report, err := run(c.Request.Context())
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadGateway
		}
		h.log.Warn().Err(err).Int("count", report.Count).Msg("sync pass failed")
		c.JSON(code, gin.H{"error": err.Error(), "count": report.Count, "run_id": report.RunID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": report.Count, "run_id": report.RunID})
}

func (h *ReconciliationHandler) GetSyncRun(c *gin.Context) {
	id, ok := pathID(c, "sync run")
	if !ok {
		return
	}
	run, err := h.runs.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":              run.ID,
		"kind":            run.Kind,
		"status":          run.Status,
		"scanned_count":   run.ScannedCount,
		"processed_count": run.ProcessedCount,
		"skipped_count":   run.SkippedCount,
		"error":           run.Error,
		"details":         run.Details,
		"started_at":      run.StartedAt,
		"completed_at":    run.CompletedAt,
	})
}
