package ocr

import (
	"context"
	"fmt"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"payment-evidence-backend/internal/logger"
)

type imageAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	BatchAnnotateFiles(ctx context.Context, req *visionpb.BatchAnnotateFilesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateFilesResponse, error)
	Close() error
}

// Vision reads text from images and PDFs with DOCUMENT_TEXT_DETECTION.
type Vision struct {
	client imageAnnotator
	log    zerolog.Logger
}

func NewVision(ctx context.Context, opts ...option.ClientOption) (*Vision, error) {
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, WrapOCRError("NewVision", err, "failed to create image annotator client")
	}
	return newVisionWithClient(client), nil
}

func newVisionWithClient(client imageAnnotator) *Vision {
	return &Vision{client: client, log: logger.WithComponent("vision")}
}

func (v *Vision) ImageToText(ctx context.Context, data []byte) (string, error) {
	const op = "ImageToText"

	if len(data) > MaxDocumentBytes {
		return "", WrapOCRError(op, ErrDocumentTooLarge, fmt.Sprintf("file size: %d bytes", len(data)))
	}

	resp, err := v.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: data},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
		}},
	})
	if err != nil {
		return "", classify(op, err)
	}
	if len(resp.Responses) == 0 {
		return "", WrapOCRError(op, ErrOCRFailed, "no response from Vision API")
	}
	return pageText(op, resp.Responses[0])
}

func (v *Vision) PDFToText(ctx context.Context, data []byte) (string, error) {
	const op = "PDFToText"

	if err := checkPDF(op, data); err != nil {
		return "", err
	}

	resp, err := v.client.BatchAnnotateFiles(ctx, &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{{
			InputConfig: &visionpb.InputConfig{Content: data, MimeType: "application/pdf"},
			Features:    []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
		}},
	})
	if err != nil {
		return "", classify(op, err)
	}
	if len(resp.Responses) == 0 {
		return "", WrapOCRError(op, ErrOCRFailed, "no response from Vision API")
	}
	file := resp.Responses[0]
	if file.Error != nil {
		return "", WrapOCRError(op, ErrOCRFailed, file.Error.Message)
	}

	pages := make([]string, 0, len(file.Responses))
	for i, page := range file.Responses {
		text, err := pageText(op, page)
		if err != nil {
			v.log.Debug().Err(err).Int("page", i+1).Msg("Skipping page without text")
			continue
		}
		pages = append(pages, text)
	}
	if len(pages) == 0 {
		return "", WrapOCRError(op, ErrEmptyDocument, fmt.Sprintf("%d pages", len(file.Responses)))
	}
	return strings.Join(pages, "\n"), nil
}

func (v *Vision) Close() error {
	return v.client.Close()
}

func pageText(op string, r *visionpb.AnnotateImageResponse) (string, error) {
	if r.Error != nil {
		return "", WrapOCRError(op, ErrOCRFailed, r.Error.Message)
	}
	if r.FullTextAnnotation == nil || strings.TrimSpace(r.FullTextAnnotation.Text) == "" {
		return "", WrapOCRError(op, ErrEmptyDocument, "")
	}
	return r.FullTextAnnotation.Text, nil
}
