// Package reconciliation implements the review workflow for collected
// evidence: matching it to invoices, verifying or rejecting receipts and
// closing bank credits. Verifying a receipt and matching a bank credit are
// the two transitions that reach the ledger.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"payment-evidence-backend/internal/config"
	"payment-evidence-backend/internal/logger"
	"payment-evidence-backend/internal/models"
	"payment-evidence-backend/internal/repository"
	"payment-evidence-backend/internal/services/evidence"
	"payment-evidence-backend/internal/services/ledger"
	"payment-evidence-backend/internal/services/matching"
)

// manualConfidence is stored once a person has tied evidence to an invoice.
const manualConfidence = 1.0

type ReconciliationService struct {
	db          *gorm.DB
	invoiceRepo *repository.InvoiceRepository
	receipts    *repository.ReceiptRepository
	credits     *repository.BankCreditRepository
	ledger      *ledger.Ledger
	matcher     *matching.Matcher
	features    config.Features
	log         zerolog.Logger
	now         func() time.Time
}

func NewReconciliationService(
	invoiceRepo *repository.InvoiceRepository,
	receipts *repository.ReceiptRepository,
	credits *repository.BankCreditRepository,
	l *ledger.Ledger,
	matcher *matching.Matcher,
	features config.Features,
) *ReconciliationService {
	return &ReconciliationService{
		db:          invoiceRepo.DB(),
		invoiceRepo: invoiceRepo,
		receipts:    receipts,
		credits:     credits,
		ledger:      l,
		matcher:     matcher,
		features:    features,
		log:         logger.WithComponent("reconciliation"),
		now:         time.Now,
	}
}

type InvoiceInput struct {
	InvoiceNumber string
	CustomerName  string
	CustomerEmail string
	Currency      string
	Total         decimal.Decimal
	DueDate       time.Time
}

// CreateInvoice issues an invoice in the sent state.
func (s *ReconciliationService) CreateInvoice(ctx context.Context, in InvoiceInput) (*models.Invoice, error) {
	if !in.Total.IsPositive() {
		return nil, ErrInvalidAmount
	}
	number := strings.ToUpper(strings.TrimSpace(in.InvoiceNumber))
	if number == "" {
		number = "INV-" + s.now().Format("2006") + "-" + strings.ToUpper(uuid.NewString()[:6])
	}
	inv := &models.Invoice{
		InvoiceNumber: number,
		CustomerName:  strings.TrimSpace(in.CustomerName),
		CustomerEmail: strings.ToLower(strings.TrimSpace(in.CustomerEmail)),
		Currency:      strings.ToUpper(in.Currency),
		Total:         in.Total.Round(2),
		Status:        models.InvoiceSent,
		DueDate:       in.DueDate,
	}
	if err := s.invoiceRepo.Create(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// GetInvoice returns the invoice with its payment audit trail.
func (s *ReconciliationService) GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, []models.PaymentMatch, error) {
	inv, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	matches, err := s.ledger.Matches(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return inv, matches, nil
}

func (s *ReconciliationService) SearchInvoices(ctx context.Context, query string, statuses []string) ([]models.Invoice, error) {
	return s.invoiceRepo.SearchInvoices(ctx, query, statuses)
}

// matchableInvoice loads an invoice evidence may be matched to. Paid
// invoices still accept matches and record the excess as overpayment.
func (s *ReconciliationService) matchableInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	inv, err := s.invoiceRepo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	if inv.Status == models.InvoiceCanceled {
		return nil, fmt.Errorf("%s: %w", inv.InvoiceNumber, ErrInvoiceClosed)
	}
	return inv, nil
}

func (s *ReconciliationService) ListReceipts(ctx context.Context, f repository.ListFilter) ([]models.Receipt, string, bool, error) {
	return s.receipts.List(ctx, f)
}

func (s *ReconciliationService) ListBankCredits(ctx context.Context, f repository.ListFilter) ([]models.BankCredit, string, bool, error) {
	if !s.features.BankCredits {
		return nil, "", false, ErrFeatureDisabled
	}
	return s.credits.List(ctx, f)
}

func (s *ReconciliationService) SuggestForReceipt(ctx context.Context, id uuid.UUID) ([]matching.Suggestion, error) {
	r, err := s.receipts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.Amount.Valid {
		return nil, ErrNoAmount
	}
	return s.matcher.Suggest(ctx, matching.Candidate{
		Amount:    r.Amount.Decimal,
		Currency:  r.Currency,
		PayerName: r.PayerEmail,
	})
}

func (s *ReconciliationService) SuggestForBankCredit(ctx context.Context, id uuid.UUID) ([]matching.Suggestion, error) {
	if !s.features.BankCredits {
		return nil, ErrFeatureDisabled
	}
	c, err := s.credits.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.matcher.Suggest(ctx, matching.Candidate{
		Amount:    c.Amount,
		Currency:  c.Currency,
		PayerName: c.Sender + " " + c.Snippet,
	})
}

// MatchReceipt links a submitted receipt to an invoice. amount overrides the
// extracted amount when given. No money moves until the receipt is verified,
// and later syncs leave the matched link and amount alone.
func (s *ReconciliationService) MatchReceipt(ctx context.Context, id, invoiceID uuid.UUID, amount *decimal.Decimal, user string) (*models.Receipt, error) {
	if amount != nil && !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	r, err := s.receipts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case models.ReceiptVerified:
		return nil, ErrAlreadyApplied
	case models.ReceiptRejected:
		return nil, fmt.Errorf("receipt is rejected: %w", ErrInvalidTransition)
	}

	inv, err := s.matchableInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	matchedBy := user
	if matchedBy == "" {
		matchedBy = "system"
	}
	updates := map[string]interface{}{
		"invoice_id":        inv.ID,
		"invoice_reference": inv.InvoiceNumber,
		"confidence":        manualConfidence,
		"matched_by":        matchedBy,
	}
	if amount != nil {
		updates["amount"] = decimal.NewNullDecimal(amount.Round(2))
	}
	if r.Currency == "" || amount != nil {
		updates["currency"] = inv.Currency
	}
	if err := s.updateReceipt(ctx, r.ID, models.ReceiptSubmitted, updates); err != nil {
		return nil, err
	}

	s.log.Info().Str("receipt_id", id.String()).Str("invoice", inv.InvoiceNumber).Str("user", user).Msg("Receipt matched")
	return s.receipts.GetByID(ctx, id)
}

// UnmatchReceipt clears the invoice link and any review outcome. Verified
// receipts cannot be unmatched since their amount is already on the ledger.
func (s *ReconciliationService) UnmatchReceipt(ctx context.Context, id uuid.UUID, user string) (*models.Receipt, error) {
	r, err := s.receipts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == models.ReceiptVerified {
		return nil, ErrAlreadyApplied
	}

	err = s.updateReceipt(ctx, r.ID, r.Status, map[string]interface{}{
		"invoice_id":  nil,
		"matched_by":  "",
		"status":      models.ReceiptSubmitted,
		"reviewed_by": "",
		"reviewed_at": nil,
		"review_note": "",
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("receipt_id", id.String()).Str("user", user).Msg("Receipt unmatched")
	return s.receipts.GetByID(ctx, id)
}

// VerifyReceipt confirms a matched receipt and applies its amount to the
// invoice. Verifying an already verified receipt returns it unchanged. When a
// sibling from the same email is already applied nothing changes and
// ErrSiblingApplied is returned.
func (s *ReconciliationService) VerifyReceipt(ctx context.Context, id uuid.UUID, user, note string) (*models.Receipt, error) {
	r, err := s.receipts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case r.Status == models.ReceiptVerified:
		return r, nil
	case r.Status == models.ReceiptRejected:
		return nil, fmt.Errorf("receipt is rejected: %w", ErrInvalidTransition)
	case r.InvoiceID == nil:
		return nil, ErrNotMatched
	case !r.Amount.Valid:
		return nil, ErrNoAmount
	case !r.Amount.Decimal.IsPositive():
		return nil, ErrInvalidAmount
	}

	err = s.ledger.Transaction(ctx, func(tx *gorm.DB) error {
		var current models.Receipt
		if err := tx.First(&current, "id = ?", id).Error; err != nil {
			return err
		}
		if current.Status != models.ReceiptSubmitted || current.InvoiceID == nil || !current.Amount.Valid {
			// someone else moved it first
			return nil
		}

		res, err := s.ledger.Apply(tx, ledger.Application{
			InvoiceID:         *current.InvoiceID,
			Kind:              evidence.KindReceipt,
			EvidenceID:        current.ID,
			ExternalMessageID: current.ExternalMessageID,
			Amount:            current.Amount.Decimal,
			MatchedBy:         user,
		})
		if err != nil {
			return err
		}
		if !res.Applied && !sameEvidence(res.Match.ReceiptID, current.ID) {
			return ErrSiblingApplied
		}

		now := s.now()
		upd := tx.Model(&models.Receipt{}).
			Where("id = ? AND status = ?", id, models.ReceiptSubmitted).
			Updates(map[string]interface{}{
				"status":      models.ReceiptVerified,
				"reviewed_by": user,
				"reviewed_at": &now,
				"review_note": note,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return ledger.ErrConcurrentUpdate
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("VerifyReceipt %s: %w", id, err)
	}

	s.log.Info().Str("receipt_id", id.String()).Str("user", user).Msg("Receipt verified")
	return s.receipts.GetByID(ctx, id)
}

// RejectReceipt closes a submitted receipt without touching any invoice.
func (s *ReconciliationService) RejectReceipt(ctx context.Context, id uuid.UUID, user, reason string) (*models.Receipt, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	r, err := s.receipts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case models.ReceiptVerified:
		return nil, ErrAlreadyApplied
	case models.ReceiptRejected:
		return r, nil
	}

	now := s.now()
	err = s.updateReceipt(ctx, id, models.ReceiptSubmitted, map[string]interface{}{
		"status":      models.ReceiptRejected,
		"reviewed_by": user,
		"reviewed_at": &now,
		"review_note": reason,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("receipt_id", id.String()).Str("user", user).Str("reason", reason).Msg("Receipt rejected")
	return s.receipts.GetByID(ctx, id)
}

// updateReceipt applies updates only while the receipt is still in status
// from.
func (s *ReconciliationService) updateReceipt(ctx context.Context, id uuid.UUID, from models.ReceiptStatus, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.Receipt{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("receipt %s left %s: %w", id, from, ErrInvalidTransition)
	}
	return nil
}

// sameEvidence reports whether a prior ledger match was made for evidence id.
func sameEvidence(matched *uuid.UUID, id uuid.UUID) bool {
	return matched != nil && *matched == id
}

var openCreditStatuses = []models.BankCreditStatus{models.BankCreditUnmatched, models.BankCreditNeedsReview}

// MatchBankCredit ties a credit to an invoice and applies it to the ledger in
// the same transaction. amount defaults to the credited amount. Repeating
// the match against the same invoice is a no-op; a credit whose sibling from
// the same email is already applied gets ErrSiblingApplied.
func (s *ReconciliationService) MatchBankCredit(ctx context.Context, id, invoiceID uuid.UUID, amount *decimal.Decimal, user string) (*models.BankCredit, error) {
	if !s.features.BankCredits {
		return nil, ErrFeatureDisabled
	}
	if amount != nil && !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	c, err := s.credits.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == models.BankCreditMatched {
		if c.ClosedReason == "" && c.MatchedInvoiceID != nil && *c.MatchedInvoiceID == invoiceID {
			return c, nil
		}
		return nil, ErrAlreadyApplied
	}

	applied := c.Amount
	if amount != nil {
		applied = amount.Round(2)
	}
	if !applied.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if _, err := s.matchableInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}

	err = s.ledger.Transaction(ctx, func(tx *gorm.DB) error {
		var current models.BankCredit
		if err := tx.First(&current, "id = ?", id).Error; err != nil {
			return err
		}
		if current.Status == models.BankCreditMatched {
			return nil
		}

		res, err := s.ledger.Apply(tx, ledger.Application{
			InvoiceID:         invoiceID,
			Kind:              evidence.KindBankCredit,
			EvidenceID:        current.ID,
			ExternalMessageID: current.ExternalMessageID,
			Amount:            applied,
			MatchedBy:         user,
		})
		if err != nil {
			return err
		}
		if !res.Applied && !sameEvidence(res.Match.BankCreditID, current.ID) {
			return ErrSiblingApplied
		}

		now := s.now()
		upd := tx.Model(&models.BankCredit{}).
			Where("id = ? AND status IN ?", id, openCreditStatuses).
			Updates(map[string]interface{}{
				"status":             models.BankCreditMatched,
				"matched_invoice_id": invoiceID,
				"matched_by":         user,
				"matched_at":         &now,
				"confidence":         manualConfidence,
				"closed_reason":      "",
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return ledger.ErrConcurrentUpdate
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("MatchBankCredit %s: %w", id, err)
	}

	s.log.Info().Str("bank_credit_id", id.String()).Str("invoice_id", invoiceID.String()).Str("user", user).Msg("Bank credit matched")
	return s.credits.GetByID(ctx, id)
}

// MarkBankCreditNotOurs closes a credit that belongs to no invoice of ours.
func (s *ReconciliationService) MarkBankCreditNotOurs(ctx context.Context, id uuid.UUID, user string) (*models.BankCredit, error) {
	if !s.features.BankCredits {
		return nil, ErrFeatureDisabled
	}
	c, err := s.credits.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == models.BankCreditMatched {
		if c.ClosedReason == models.ClosedNotOurs {
			return c, nil
		}
		return nil, ErrAlreadyApplied
	}

	now := s.now()
	err = s.updateCredit(ctx, id, openCreditStatuses, map[string]interface{}{
		"status":             models.BankCreditMatched,
		"closed_reason":      models.ClosedNotOurs,
		"matched_invoice_id": nil,
		"matched_by":         user,
		"matched_at":         &now,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("bank_credit_id", id.String()).Str("user", user).Msg("Bank credit marked not ours")
	return s.credits.GetByID(ctx, id)
}

// FlagBankCredit moves an unmatched credit to needs_review.
func (s *ReconciliationService) FlagBankCredit(ctx context.Context, id uuid.UUID, user string) (*models.BankCredit, error) {
	if !s.features.BankCredits {
		return nil, ErrFeatureDisabled
	}
	c, err := s.credits.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case models.BankCreditNeedsReview:
		return c, nil
	case models.BankCreditMatched:
		return nil, fmt.Errorf("bank credit is closed: %w", ErrInvalidTransition)
	}

	err = s.updateCredit(ctx, id, []models.BankCreditStatus{models.BankCreditUnmatched}, map[string]interface{}{
		"status": models.BankCreditNeedsReview,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("bank_credit_id", id.String()).Str("user", user).Msg("Bank credit flagged for review")
	return s.credits.GetByID(ctx, id)
}

// UnmatchBankCredit reopens a flagged or not-ours credit. Credits applied to
// an invoice stay matched.
func (s *ReconciliationService) UnmatchBankCredit(ctx context.Context, id uuid.UUID, user string) (*models.BankCredit, error) {
	if !s.features.BankCredits {
		return nil, ErrFeatureDisabled
	}
	c, err := s.credits.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case c.Status == models.BankCreditUnmatched:
		return c, nil
	case c.Status == models.BankCreditMatched && c.ClosedReason != models.ClosedNotOurs:
		return nil, ErrAlreadyApplied
	}

	err = s.updateCredit(ctx, id, []models.BankCreditStatus{c.Status}, map[string]interface{}{
		"status":             models.BankCreditUnmatched,
		"closed_reason":      "",
		"matched_invoice_id": nil,
		"matched_by":         "",
		"matched_at":         nil,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("bank_credit_id", id.String()).Str("user", user).Msg("Bank credit reopened")
	return s.credits.GetByID(ctx, id)
}

func (s *ReconciliationService) updateCredit(ctx context.Context, id uuid.UUID, from []models.BankCreditStatus, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.BankCredit{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("bank credit %s changed concurrently: %w", id, ErrInvalidTransition)
	}
	return nil
}
