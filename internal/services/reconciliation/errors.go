package reconciliation

import (
	"errors"

	"payment-evidence-backend/internal/repository"
	"payment-evidence-backend/internal/services/ledger"
	"payment-evidence-backend/internal/services/matching"
)

var (
	ErrNotFound        = repository.ErrNotFound
	ErrInvoiceNotFound = ledger.ErrInvoiceNotFound
	ErrInvoiceClosed   = ledger.ErrInvoiceClosed
	ErrInvalidAmount   = ledger.ErrInvalidAmount
	ErrNoAmount        = matching.ErrNoAmount

	ErrReasonRequired    = errors.New("a reason is required")
	ErrInvalidTransition = errors.New("transition not allowed from current status")
	// ErrAlreadyApplied is returned for changes that would undo a ledger
	// application; ledger effects are never reversed.
	ErrAlreadyApplied  = errors.New("evidence already applied to an invoice")
	ErrNotMatched      = errors.New("evidence is not matched to an invoice")
	ErrFeatureDisabled = errors.New("feature disabled")
	ErrSiblingApplied  = errors.New("another evidence item from the same message is already applied")
)
