package handler

import (
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"payment-evidence-backend/internal/repository"
	service "payment-evidence-backend/internal/services/reconciliation"
)

var dueDateLayouts = []string{"2006-01-02", "02-01-2006"}

func parseDueDate(s string) (time.Time, error) {
	var err error
	for _, layout := range dueDateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func (h *ReconciliationHandler) CreateInvoice(c *gin.Context) {
	var payload struct {
		InvoiceNumber string          `json:"invoice_number"` // optional
		CustomerName  string          `json:"customer_name"`
		CustomerEmail string          `json:"customer_email"`
		Currency      string          `json:"currency"`
		Total         decimal.Decimal `json:"total"`
		DueDate       string          `json:"due_date"` // yyyy-mm-dd or dd-mm-yyyy
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if strings.TrimSpace(payload.CustomerName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "customer name required"})
		return
	}

	var due time.Time
	if payload.DueDate != "" {
		var err error
		if due, err = parseDueDate(payload.DueDate); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid due date format, expected yyyy-mm-dd"})
			return
		}
	}

	inv, err := h.service.CreateInvoice(c.Request.Context(), service.InvoiceInput{
		InvoiceNumber: payload.InvoiceNumber,
		CustomerName:  payload.CustomerName,
		CustomerEmail: payload.CustomerEmail,
		Currency:      payload.Currency,
		Total:         payload.Total,
		DueDate:       due,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "invoice created", "invoice": inv})
}

func (h *ReconciliationHandler) GetInvoice(c *gin.Context) {
	id, ok := pathID(c, "invoice")
	if !ok {
		return
	}
	inv, matches, err := h.service.GetInvoice(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv, "matches": matches})
}

// SearchInvoices backs manual matching: free text over customer and number,
// optionally restricted to a comma separated status list.
func (h *ReconciliationHandler) SearchInvoices(c *gin.Context) {
	var statuses []string
	if s := c.Query("status"); s != "" {
		for _, v := range strings.Split(s, ",") {
			if v = strings.TrimSpace(v); v != "" {
				statuses = append(statuses, v)
			}
		}
	}
	invoices, err := h.service.SearchInvoices(c.Request.Context(), c.Query("q"), statuses)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": invoices})
}

// UploadInvoices imports invoices from a CSV file. Columns are located by
// header name: invoice_number, customer_name, customer_email, total,
// currency, due_date. Bad rows are skipped and counted.
func (h *ReconciliationHandler) UploadInvoices(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headerRow, err := reader.Read()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read CSV header"})
		return
	}
	cols := make(map[string]int, len(headerRow))
	for i, name := range headerRow {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["customer_name"]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "customer_name column required"})
		return
	}
	if _, ok := cols["total"]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "total column required"})
		return
	}
	field := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	inserted, skipped := 0, 0
	for rowNum := 2; ; rowNum++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.log.Warn().Err(err).Int("row", rowNum).Msg("Skipping unreadable row")
			skipped++
			continue
		}

		total, err := decimal.NewFromString(field(record, "total"))
		if err != nil || !total.IsPositive() || field(record, "customer_name") == "" {
			h.log.Warn().Int("row", rowNum).Msg("Skipping row: invalid customer name or total")
			skipped++
			continue
		}
		var due time.Time
		if v := field(record, "due_date"); v != "" {
			if due, err = parseDueDate(v); err != nil {
				h.log.Warn().Int("row", rowNum).Str("due_date", v).Msg("Skipping row: invalid due date")
				skipped++
				continue
			}
		}

		_, err = h.service.CreateInvoice(c.Request.Context(), service.InvoiceInput{
			InvoiceNumber: field(record, "invoice_number"),
			CustomerName:  field(record, "customer_name"),
			CustomerEmail: field(record, "customer_email"),
			Currency:      field(record, "currency"),
			Total:         total,
			DueDate:       due,
		})
		if errors.Is(err, repository.ErrDuplicate) {
			skipped++
			continue
		}
		if err != nil {
			h.fail(c, err)
			return
		}
		inserted++
	}

	h.log.Info().Str("file", header.Filename).Int("inserted", inserted).Int("skipped", skipped).Msg("Invoice upload processed")
	c.JSON(http.StatusOK, gin.H{
		"file":           header.Filename,
		"invoices_added": inserted,
		"skipped":        skipped,
	})
}
