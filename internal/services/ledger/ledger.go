// Package ledger applies confirmed payment amounts to invoices.
//
// Apply runs inside the caller's transaction so that the evidence status
// change, the invoice update and the PaymentMatch row commit together. The
// first writer wins; a concurrent second caller for the same evidence ends
// up as a no-op once Transaction retries it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payment-evidence-backend/internal/logger"
	"payment-evidence-backend/internal/metrics"
	"payment-evidence-backend/internal/models"
	"payment-evidence-backend/internal/services/evidence"
)

// Application is one request to credit an invoice from a piece of evidence.
type Application struct {
	InvoiceID         uuid.UUID
	Kind              evidence.Kind
	EvidenceID        uuid.UUID
	ExternalMessageID string
	Amount            decimal.Decimal
	MatchedBy         string
}

type Result struct {
	Invoice models.Invoice
	Match   models.PaymentMatch
	// Applied is false when the call was a no-op because the evidence, or a
	// sibling from the same message, was already applied.
	Applied bool
}

type Ledger struct {
	db  *gorm.DB
	log zerolog.Logger
	now func() time.Time
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db, log: logger.WithComponent("ledger"), now: time.Now}
}

// Transaction runs fn in a database transaction, retrying once when fn
// reports ErrConcurrentUpdate.
func (l *Ledger) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		err = l.db.WithContext(ctx).Transaction(fn)
		if !errors.Is(err, ErrConcurrentUpdate) {
			return err
		}
		metrics.LedgerApplications.WithLabelValues("conflict").Inc()
		l.log.Warn().Int("attempt", attempt).Msg("Concurrent invoice update, retrying")
	}
	return err
}

// Apply credits the invoice with app.Amount unless the evidence was already
// applied. It must be called inside a transaction.
func (l *Ledger) Apply(tx *gorm.DB, app Application) (*Result, error) {
	const op = "Apply"

	if !app.Amount.IsPositive() {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidAmount)
	}
	if app.EvidenceID == uuid.Nil || (app.Kind != evidence.KindReceipt && app.Kind != evidence.KindBankCredit) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidEvidence)
	}

	var invoice models.Invoice
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&invoice, "id = ?", app.InvoiceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %s: %w", op, app.InvoiceID, ErrInvoiceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: lock invoice: %w", op, err)
	}

	if prior, found, err := l.priorMatch(tx, app); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	} else if found {
		metrics.LedgerApplications.WithLabelValues("noop").Inc()
		l.log.Info().
			Str("invoice_id", invoice.ID.String()).
			Str("evidence_id", app.EvidenceID.String()).
			Str("prior_match", prior.ID.String()).
			Msg("Evidence already applied, skipping")
		return &Result{Invoice: invoice, Match: prior}, nil
	}

	if invoice.Status == models.InvoiceCanceled {
		return nil, fmt.Errorf("%s: %s: %w", op, invoice.InvoiceNumber, ErrInvoiceClosed)
	}

	now := l.now()
	before := excess(invoice.Collected, invoice.Total)
	previousVersion := invoice.Version

	invoice.Collected = invoice.Collected.Add(app.Amount)
	invoice.Recompute()
	if invoice.Status == models.InvoicePaid && invoice.PaidAt == nil {
		invoice.PaidAt = &now
	}
	invoice.Version = previousVersion + 1

	res := tx.Model(&models.Invoice{}).
		Where("id = ? AND version = ?", invoice.ID, previousVersion).
		Updates(map[string]interface{}{
			"collected":   invoice.Collected,
			"outstanding": invoice.Outstanding,
			"status":      invoice.Status,
			"paid_at":     invoice.PaidAt,
			"version":     invoice.Version,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("%s: update invoice: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%s: invoice %s: %w", op, invoice.ID, ErrConcurrentUpdate)
	}

	match := models.PaymentMatch{
		ID:                uuid.New(),
		InvoiceID:         invoice.ID,
		EvidenceKind:      string(app.Kind),
		ExternalMessageID: app.ExternalMessageID,
		Amount:            app.Amount,
		Overpayment:       excess(invoice.Collected, invoice.Total).Sub(before),
		MatchedBy:         app.MatchedBy,
		MatchedAt:         now,
	}
	evidenceID := app.EvidenceID
	if app.Kind == evidence.KindReceipt {
		match.ReceiptID = &evidenceID
		match.Type = models.MatchReceiptVerified
	} else {
		match.BankCreditID = &evidenceID
		match.Type = models.MatchBankCreditMatched
	}

	if err := tx.Create(&match).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%s: match for %s: %w", op, evidenceID, ErrConcurrentUpdate)
		}
		return nil, fmt.Errorf("%s: insert match: %w", op, err)
	}

	metrics.LedgerApplications.WithLabelValues("applied").Inc()
	l.log.Info().
		Str("invoice", invoice.InvoiceNumber).
		Str("evidence_kind", string(app.Kind)).
		Str("evidence_id", evidenceID.String()).
		Str("amount", app.Amount.StringFixed(2)).
		Str("overpayment", match.Overpayment.StringFixed(2)).
		Str("status", string(invoice.Status)).
		Msg("Payment applied")

	return &Result{Invoice: invoice, Match: match, Applied: true}, nil
}

// priorMatch finds a match for this evidence or for a sibling of the same kind
// from the same external message, whichever invoice it went to.
func (l *Ledger) priorMatch(tx *gorm.DB, app Application) (models.PaymentMatch, bool, error) {
	var match models.PaymentMatch

	column := "receipt_id"
	if app.Kind == evidence.KindBankCredit {
		column = "bank_credit_id"
	}
	err := tx.Where(column+" = ?", app.EvidenceID).Limit(1).Find(&match).Error
	if err != nil {
		return match, false, fmt.Errorf("lookup match: %w", err)
	}
	if match.ID != uuid.Nil {
		return match, true, nil
	}

	if app.ExternalMessageID == "" {
		return match, false, nil
	}
	err = tx.Where("evidence_kind = ? AND external_message_id = ?", string(app.Kind), app.ExternalMessageID).
		Limit(1).Find(&match).Error
	if err != nil {
		return match, false, fmt.Errorf("lookup sibling match: %w", err)
	}
	return match, match.ID != uuid.Nil, nil
}

// Matches lists the audit rows of an invoice, oldest first.
func (l *Ledger) Matches(ctx context.Context, invoiceID uuid.UUID) ([]models.PaymentMatch, error) {
	var matches []models.PaymentMatch
	err := l.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).Order("matched_at ASC").Find(&matches).Error
	return matches, err
}

func excess(collected, total decimal.Decimal) decimal.Decimal {
	over := collected.Sub(total)
	if over.IsNegative() {
		return decimal.Zero
	}
	return over
}
