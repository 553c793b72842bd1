package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePDF struct {
	text string
	err  error
}

func (f fakePDF) PDFToText(ctx context.Context, data []byte) (string, error) { return f.text, f.err }

type fakeImage struct {
	text string
	err  error
}

func (f fakeImage) ImageToText(ctx context.Context, data []byte) (string, error) { return f.text, f.err }

type slowPDF struct{}

func (slowPDF) PDFToText(ctx context.Context, data []byte) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestExtractorRoutesByContentType(t *testing.T) {
	e := NewExtractor(
		fakePDF{text: "Amount: LKR 1,000.00"},
		fakeImage{text: "Paid USD 55.25"},
		time.Second,
	)
	ctx := context.Background()

	got, ok := e.Extract(ctx, []byte("%PDF-1.7"), "application/pdf")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(1000).Equal(got.Value))

	got, ok = e.Extract(ctx, []byte{0xff, 0xd8}, "image/jpeg; name=slip.jpg")
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("55.25").Equal(got.Value))

	got, ok = e.Extract(ctx, []byte("Amount: Rs 300"), "text/plain; charset=utf-8")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(300).Equal(got.Value))

	got, ok = e.Extract(ctx, []byte("<p>Amount:</p><p>LKR 450.00</p>"), "text/html")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(450).Equal(got.Value))
}

func TestExtractorAbsorbsFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		e           *Extractor
		contentType string
	}{
		{"pdf provider error", NewExtractor(fakePDF{err: errors.New("ocr down")}, nil, time.Second), "application/pdf"},
		{"no image provider", NewExtractor(nil, nil, time.Second), "image/png"},
		{"unsupported type", NewExtractor(fakePDF{text: "Amount: 5"}, nil, time.Second), "application/zip"},
		{"provider timeout", NewExtractor(slowPDF{}, nil, 10*time.Millisecond), "application/pdf"},
		{"text without amount", NewExtractor(nil, nil, time.Second), "text/plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := tt.e.Extract(ctx, []byte("hello"), tt.contentType)
			assert.False(t, ok)
		})
	}
}

func TestTextReportsProviderErrors(t *testing.T) {
	e := NewExtractor(nil, nil, 0)
	_, err := e.Text(context.Background(), nil, "application/pdf")
	assert.ErrorIs(t, err, ErrNoProvider)

	_, err = e.Text(context.Background(), nil, "application/msword")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/pdf", ContentTypeFor("application/octet-stream", "Slip.PDF"))
	assert.Equal(t, "image/jpeg", ContentTypeFor("", "photo.jpeg"))
	assert.Equal(t, "image/png", ContentTypeFor("image/png", "whatever.bin"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("application/octet-stream", "data.bin"))

	assert.True(t, IsSlipType("application/pdf"))
	assert.True(t, IsSlipType("image/heic"))
	assert.False(t, IsSlipType("text/plain"))
}
