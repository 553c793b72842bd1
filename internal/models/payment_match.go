package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MatchType string

const (
	MatchReceiptVerified   MatchType = "receipt_verified"
	MatchBankCreditMatched MatchType = "bank_credit_matched"
)

// PaymentMatch is the immutable audit row written once per ledger application.
// ReceiptID and BankCreditID are mutually exclusive and each unique when set.
type PaymentMatch struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID         uuid.UUID       `gorm:"type:uuid;index;not null" json:"invoice_id"`
	ReceiptID         *uuid.UUID      `gorm:"type:uuid;uniqueIndex" json:"receipt_id,omitempty"`
	BankCreditID      *uuid.UUID      `gorm:"type:uuid;uniqueIndex" json:"bank_credit_id,omitempty"`
	EvidenceKind      string          `gorm:"index:idx_match_sibling,priority:1" json:"evidence_kind"`
	ExternalMessageID string          `gorm:"index:idx_match_sibling,priority:2" json:"external_message_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Overpayment       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"overpayment"`
	MatchedBy         string          `json:"matched_by"`
	MatchedAt         time.Time       `json:"matched_at"`
	Type              MatchType       `json:"type"`
}
