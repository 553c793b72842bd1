package ledger

import "errors"

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrInvoiceClosed   = errors.New("invoice is canceled")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrInvalidEvidence = errors.New("evidence reference is incomplete")
	// ErrConcurrentUpdate means another writer changed the invoice or the
	// evidence between our read and our write.
	ErrConcurrentUpdate = errors.New("concurrent update")
)
