// Package ocr implements the PDF and image text providers used by amount
// extraction, backed by Google Cloud Vision and Document AI.
//
// Both APIs are called synchronously with inline content, so documents are
// limited to 20MB. Vision handles images and short PDFs; when a Document AI
// processor is configured it takes over PDFs.
package ocr

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"payment-evidence-backend/internal/config"
	"payment-evidence-backend/internal/services/extraction"
)

// MaxDocumentBytes is the synchronous request limit shared by both APIs.
const MaxDocumentBytes = 20 * 1024 * 1024

// Providers bundles the text extractors and the clients backing them.
type Providers struct {
	PDF   extraction.PDFTextExtractor
	Image extraction.ImageTextExtractor

	closers []func() error
}

// NewProviders connects the configured OCR backends.
func NewProviders(ctx context.Context, cfg config.OCRConfig, mb config.MailboxConfig) (*Providers, error) {
	const op = "NewProviders"

	opts := credentialOptions(mb)
	vision, err := NewVision(ctx, opts...)
	if err != nil {
		return nil, WrapOCRError(op, err, "vision client")
	}
	p := &Providers{PDF: vision, Image: vision, closers: []func() error{vision.Close}}

	if cfg.DocumentAIProcessorID != "" {
		docAI, err := NewDocumentAI(ctx, cfg, opts...)
		if err != nil {
			_ = p.Close()
			return nil, WrapOCRError(op, err, fmt.Sprintf("document ai client for location %s", cfg.Location))
		}
		p.PDF = docAI
		p.closers = append(p.closers, docAI.Close)
	}
	return p, nil
}

func (p *Providers) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func credentialOptions(mb config.MailboxConfig) []option.ClientOption {
	switch {
	case mb.CredentialsJSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(mb.CredentialsJSON))}
	case mb.CredentialsFile != "":
		return []option.ClientOption{option.WithCredentialsFile(mb.CredentialsFile)}
	}
	return nil
}

// classify maps gRPC status codes onto package errors.
func classify(op string, err error) error {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return WrapOCRError(op, ErrPermissionDenied, err.Error())
	case codes.ResourceExhausted:
		return WrapOCRError(op, ErrQuotaExceeded, err.Error())
	case codes.InvalidArgument:
		return WrapOCRError(op, ErrInvalidPDF, err.Error())
	case codes.DeadlineExceeded:
		return WrapOCRError(op, context.DeadlineExceeded, "processing timeout")
	case codes.Canceled:
		return WrapOCRError(op, context.Canceled, "processing canceled")
	}
	return WrapOCRError(op, ErrOCRFailed, err.Error())
}

func checkPDF(op string, data []byte) error {
	if len(data) > MaxDocumentBytes {
		return WrapOCRError(op, ErrDocumentTooLarge, fmt.Sprintf("file size: %d bytes", len(data)))
	}
	if len(data) < 4 || string(data[:4]) != "%PDF" {
		return WrapOCRError(op, ErrInvalidPDF, "missing PDF header")
	}
	return nil
}
