package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "draft"
	InvoiceSent          InvoiceStatus = "sent"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceOverdue       InvoiceStatus = "overdue"
	InvoiceCanceled      InvoiceStatus = "canceled"
)

// ClosedInvoiceStatuses are never offered as match candidates.
var ClosedInvoiceStatuses = []InvoiceStatus{InvoicePaid, InvoiceCanceled}

type Invoice struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceNumber string          `gorm:"uniqueIndex" json:"invoice_number"`
	CustomerName  string          `gorm:"index" json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	Currency      string          `gorm:"size:8" json:"currency"`
	Total         decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total"`
	Collected     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"collected"`
	Outstanding   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"outstanding"`
	Status        InvoiceStatus   `gorm:"index" json:"status"`
	DueDate       time.Time       `json:"due_date"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	Version       int             `gorm:"not null;default:0" json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsOpen reports whether the invoice can still receive payments.
func (i *Invoice) IsOpen() bool {
	return i.Status != InvoicePaid && i.Status != InvoiceCanceled
}

// Recompute derives outstanding from total and collected, and moves the
// status forward when money has been collected.
func (i *Invoice) Recompute() {
	outstanding := i.Total.Sub(i.Collected)
	if outstanding.IsNegative() {
		outstanding = decimal.Zero
	}
	i.Outstanding = outstanding

	switch {
	case outstanding.IsZero():
		i.Status = InvoicePaid
	case i.Collected.IsPositive():
		i.Status = InvoicePartiallyPaid
	}
}
