package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	handler "payment-evidence-backend/internal/handlers"
)

func RegisterRoutes(r *gin.Engine, h *handler.ReconciliationHandler) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	evidence := api.Group("/evidence")

	receipts := evidence.Group("/receipts")
	receipts.POST("/sync", h.SyncReceipts)
	receipts.GET("", h.ListReceipts)
	receipts.GET("/:id/suggestions", h.SuggestForReceipt)
	receipts.POST("/:id/match", h.MatchReceipt)
	receipts.POST("/:id/unmatch", h.UnmatchReceipt)
	receipts.POST("/:id/verify", h.VerifyReceipt)
	receipts.POST("/:id/reject", h.RejectReceipt)
	receipts.POST("/:id/extract", h.ReextractReceipt)

	credits := evidence.Group("/bank-credits")
	credits.POST("/sync", h.SyncBankCredits)
	credits.GET("", h.ListBankCredits)
	credits.GET("/:id/suggestions", h.SuggestForBankCredit)
	credits.POST("/:id/match", h.MatchBankCredit)
	credits.POST("/:id/unmatch", h.UnmatchBankCredit)
	credits.POST("/:id/not-ours", h.MarkBankCreditNotOurs)
	credits.POST("/:id/flag", h.FlagBankCredit)
	credits.POST("/:id/extract", h.ReextractBankCredit)

	// Invoice routes
	invoices := api.Group("/invoices")
	{
		invoices.GET("", h.SearchInvoices)
		invoices.POST("", h.CreateInvoice)
		invoices.POST("/upload", h.UploadInvoices)
		invoices.GET("/:id", h.GetInvoice)
	}

	api.GET("/sync-runs/:id", h.GetSyncRun)
}
