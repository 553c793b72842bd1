package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BankCreditStatus string

const (
	BankCreditUnmatched   BankCreditStatus = "unmatched"
	BankCreditMatched     BankCreditStatus = "matched"
	BankCreditNeedsReview BankCreditStatus = "needs_review"
)

// ClosedNotOurs marks a bank credit closed without touching any invoice.
const ClosedNotOurs = "not_ours"

// BankCredit is a credit notification parsed from a bank email.
type BankCredit struct {
	ID                uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	IdentityKey       string           `gorm:"uniqueIndex;not null" json:"-"`
	ExternalMessageID string           `gorm:"index;not null" json:"external_message_id"`
	Amount            decimal.Decimal  `gorm:"type:decimal(20,2);index" json:"amount"`
	Currency          string           `gorm:"size:8" json:"currency"`
	Sender            string           `json:"sender"`
	Subject           string           `json:"subject"`
	Snippet           string           `json:"snippet"`
	ReceivedAt        *time.Time       `json:"received_at,omitempty"`
	MatchedInvoiceID  *uuid.UUID       `gorm:"type:uuid;index" json:"matched_invoice_id,omitempty"`
	Confidence        float64          `gorm:"index" json:"confidence"`
	Status            BankCreditStatus `gorm:"index" json:"status"`
	ClosedReason      string           `json:"closed_reason,omitempty"`
	MatchedBy         string           `json:"matched_by,omitempty"`
	MatchedAt         *time.Time       `json:"matched_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}
