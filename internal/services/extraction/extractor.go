// Package extraction turns payment documents into amounts. Text is read
// directly for text documents and obtained from pluggable OCR providers for
// PDFs and images; provider failures never escape as errors.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"payment-evidence-backend/internal/logger"
	"payment-evidence-backend/internal/metrics"
)

// PDFTextExtractor converts a PDF document into plain text.
type PDFTextExtractor interface {
	PDFToText(ctx context.Context, data []byte) (string, error)
}

// ImageTextExtractor runs OCR over an image.
type ImageTextExtractor interface {
	ImageToText(ctx context.Context, data []byte) (string, error)
}

var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrNoProvider      = errors.New("no text provider configured")
)

type Extractor struct {
	pdf     PDFTextExtractor
	image   ImageTextExtractor
	timeout time.Duration
	log     zerolog.Logger
}

// NewExtractor builds an extractor. Either provider may be nil, in which case
// documents of that type yield no amount.
func NewExtractor(pdf PDFTextExtractor, image ImageTextExtractor, timeout time.Duration) *Extractor {
	return &Extractor{
		pdf:     pdf,
		image:   image,
		timeout: timeout,
		log:     logger.WithComponent("extraction"),
	}
}

// Extract returns the amount found in the document, if any.
func (e *Extractor) Extract(ctx context.Context, data []byte, contentType string) (Amount, bool) {
	text, err := e.Text(ctx, data, contentType)
	if err != nil {
		outcome := "provider_error"
		if errors.Is(err, ErrUnsupportedType) || errors.Is(err, ErrNoProvider) {
			outcome = "unsupported"
		}
		metrics.ExtractionResults.WithLabelValues(outcome).Inc()
		e.log.Warn().Err(err).Str("content_type", contentType).Int("bytes", len(data)).Msg("Text extraction failed, recording evidence without amount")
		return Amount{}, false
	}

	amount, ok := AmountFromText(text)
	if !ok {
		metrics.ExtractionResults.WithLabelValues("none").Inc()
		e.log.Debug().Str("content_type", contentType).Int("chars", len(text)).Msg("No amount found in document text")
		return Amount{}, false
	}
	metrics.ExtractionResults.WithLabelValues("found").Inc()
	return amount, true
}

// Text returns the document text without looking for an amount.
func (e *Extractor) Text(ctx context.Context, data []byte, contentType string) (string, error) {
	const op = "Text"

	mediaType := baseMediaType(contentType)
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	switch {
	case mediaType == "text/html":
		return htmlTags.ReplaceAllString(string(data), "\n"), nil
	case strings.HasPrefix(mediaType, "text/"):
		return string(data), nil
	case mediaType == "application/pdf":
		if e.pdf == nil {
			return "", fmt.Errorf("%s: pdf: %w", op, ErrNoProvider)
		}
		return e.pdf.PDFToText(ctx, data)
	case strings.HasPrefix(mediaType, "image/"):
		if e.image == nil {
			return "", fmt.Errorf("%s: image: %w", op, ErrNoProvider)
		}
		return e.image.ImageToText(ctx, data)
	default:
		return "", fmt.Errorf("%s: %q: %w", op, contentType, ErrUnsupportedType)
	}
}

var htmlTags = regexp.MustCompile(`<[^>]+>`)

func baseMediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// ContentTypeFor resolves the effective content type of an attachment,
// falling back to the file extension when the sender used a generic type.
func ContentTypeFor(declared, fileName string) string {
	mediaType := baseMediaType(declared)
	if mediaType != "" && mediaType != "application/octet-stream" {
		return mediaType
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".txt":
		return "text/plain"
	}
	return mediaType
}

// IsSlipType reports whether documents of this type can carry a payment slip.
func IsSlipType(contentType string) bool {
	mt := baseMediaType(contentType)
	return mt == "application/pdf" || strings.HasPrefix(mt, "image/")
}
