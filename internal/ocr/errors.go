package ocr

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentTooLarge is returned for documents above the synchronous API limit (20MB).
	ErrDocumentTooLarge = errors.New("document exceeds the 20MB synchronous limit")

	// ErrInvalidPDF is returned when the data does not start with a PDF header.
	ErrInvalidPDF = errors.New("invalid or corrupted PDF document")

	ErrOCRFailed = errors.New("OCR processing failed")

	// ErrEmptyDocument is returned when no text was detected.
	ErrEmptyDocument = errors.New("document contains no readable text")

	ErrPermissionDenied = errors.New("insufficient permissions for OCR provider")
	ErrQuotaExceeded    = errors.New("OCR provider quota exceeded")
)

// OCRError wraps errors with the failing operation and extra detail.
type OCRError struct {
	Op      string
	Err     error
	Details string
}

func (e *OCRError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

func (e *OCRError) Unwrap() error {
	return e.Err
}

// WrapOCRError wraps err as an OCRError unless it already is one.
func WrapOCRError(op string, err error, details string) error {
	if err == nil {
		return nil
	}
	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err
	}
	return &OCRError{Op: op, Err: err, Details: details}
}
