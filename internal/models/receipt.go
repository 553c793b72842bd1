package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReceiptStatus string

const (
	ReceiptSubmitted ReceiptStatus = "submitted"
	ReceiptVerified  ReceiptStatus = "verified"
	ReceiptRejected  ReceiptStatus = "rejected"
)

// Receipt is a payment slip pulled from an email attachment.
type Receipt struct {
	ID                uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	IdentityKey       string              `gorm:"uniqueIndex;not null" json:"-"`
	ExternalMessageID string              `gorm:"index;not null" json:"external_message_id"`
	ThreadID          string              `json:"thread_id"`
	FileName          string              `gorm:"not null" json:"file_name"`
	FileType          string              `json:"file_type"`
	FileSize          int64               `json:"file_size"`
	InvoiceReference  string              `gorm:"index" json:"invoice_reference"`
	InvoiceID         *uuid.UUID          `gorm:"type:uuid;index" json:"invoice_id,omitempty"`
	Amount            decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"amount"`
	Currency          string              `gorm:"size:8" json:"currency"`
	Confidence        float64             `gorm:"index" json:"confidence"`
	Status            ReceiptStatus       `gorm:"index" json:"status"`
	PayerEmail        string              `json:"payer_email"`
	Subject           string              `json:"subject"`
	// MatchedBy is set while a reviewer's match holds the invoice link and amount.
	MatchedBy         string              `gorm:"not null;default:''" json:"matched_by,omitempty"`
	ReviewedBy        string              `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time          `json:"reviewed_at,omitempty"`
	ReviewNote        string              `json:"review_note,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}
