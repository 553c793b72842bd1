package ocr

import (
	"context"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"

	"payment-evidence-backend/internal/config"
)

type documentProcessor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
	Close() error
}

// DocumentAI extracts PDF text with a Document AI OCR processor.
type DocumentAI struct {
	client        documentProcessor
	processorName string
}

func NewDocumentAI(ctx context.Context, cfg config.OCRConfig, opts ...option.ClientOption) (*DocumentAI, error) {
	// non-US processors live behind a regional endpoint
	if cfg.Location != "" && cfg.Location != "us" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)))
	}
	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, WrapOCRError("NewDocumentAI", err, "failed to create document processor client")
	}
	return newDocumentAIWithClient(client, cfg), nil
}

func newDocumentAIWithClient(client documentProcessor, cfg config.OCRConfig) *DocumentAI {
	location := cfg.Location
	if location == "" {
		location = "us"
	}
	return &DocumentAI{
		client:        client,
		processorName: fmt.Sprintf("projects/%s/locations/%s/processors/%s", cfg.ProjectID, location, cfg.DocumentAIProcessorID),
	}
}

func (d *DocumentAI) PDFToText(ctx context.Context, data []byte) (string, error) {
	const op = "DocumentAI.PDFToText"

	if err := checkPDF(op, data); err != nil {
		return "", err
	}

	resp, err := d.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: d.processorName,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: data, MimeType: "application/pdf"},
		},
	})
	if err != nil {
		return "", classify(op, err)
	}
	if resp.Document == nil || strings.TrimSpace(resp.Document.Text) == "" {
		return "", WrapOCRError(op, ErrEmptyDocument, d.processorName)
	}
	return resp.Document.Text, nil
}

func (d *DocumentAI) Close() error {
	return d.client.Close()
}
