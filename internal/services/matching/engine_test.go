package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-evidence-backend/internal/models"
)

type stubInvoices struct {
	invoices []models.Invoice
	err      error
}

func (s *stubInvoices) ListOpen(ctx context.Context) ([]models.Invoice, error) {
	return s.invoices, s.err
}

func invoice(number, customer string, total int64) models.Invoice {
	return models.Invoice{
		ID:            uuid.New(),
		InvoiceNumber: number,
		CustomerName:  customer,
		Total:         decimal.NewFromInt(total),
		Status:        models.InvoiceSent,
	}
}

func numbers(s []Suggestion) []string {
	out := make([]string, len(s))
	for i := range s {
		out[i] = s[i].Invoice.InvoiceNumber
	}
	return out
}

func TestSuggestOrdersByAmountDistance(t *testing.T) {
	stub := &stubInvoices{invoices: []models.Invoice{
		invoice("INV-90", "A", 90),
		invoice("INV-100", "B", 100),
		invoice("INV-110", "C", 110),
	}}
	m := NewMatcher(stub)

	got, err := m.Suggest(context.Background(), Candidate{Amount: decimal.NewFromInt(101), Currency: "LKR"})
	require.NoError(t, err)
	assert.Equal(t, []string{"INV-100", "INV-110", "INV-90"}, numbers(got))
	assert.True(t, decimal.NewFromInt(1).Equal(got[0].Difference))
	assert.True(t, decimal.NewFromInt(9).Equal(got[1].Difference))
	assert.True(t, decimal.NewFromInt(11).Equal(got[2].Difference))
}

func TestSuggestPrefersMatchingCurrencyOnTies(t *testing.T) {
	usd := invoice("INV-1", "Acme", 100)
	usd.Currency = "USD"
	lkr := invoice("INV-2", "Initech", 100)
	lkr.Currency = "LKR"
	far := invoice("INV-3", "Acme", 150)
	far.Currency = "LKR"
	m := NewMatcher(&stubInvoices{invoices: []models.Invoice{usd, lkr, far}})

	got, err := m.Suggest(context.Background(), Candidate{Amount: decimal.NewFromInt(100), Currency: "LKR", PayerName: "acme"})
	require.NoError(t, err)
	assert.Equal(t, []string{"INV-2", "INV-1", "INV-3"}, numbers(got))
	assert.True(t, got[0].SameCurrency)
	assert.False(t, got[1].SameCurrency)
}

func TestSuggestBreaksTiesByPayerName(t *testing.T) {
	m := NewMatcher(&stubInvoices{invoices: []models.Invoice{
		invoice("INV-1", "Globex Corporation", 100),
		invoice("INV-2", "Acme Traders", 100),
		invoice("INV-3", "Initech", 100),
	}})

	got, err := m.Suggest(context.Background(), Candidate{Amount: decimal.NewFromInt(100), PayerName: "accounts@acme-traders.lk"})
	require.NoError(t, err)
	assert.Equal(t, "INV-2", got[0].Invoice.InvoiceNumber)
}

func TestSuggestCapsAtFive(t *testing.T) {
	var invoices []models.Invoice
	for i := 0; i < 8; i++ {
		invoices = append(invoices, invoice(uuid.NewString(), "X", int64(100+i)))
	}
	got, err := NewMatcher(&stubInvoices{invoices: invoices}).Suggest(context.Background(), Candidate{Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.Len(t, got, MaxSuggestions)
	assert.True(t, decimal.NewFromInt(100).Equal(got[0].Invoice.Total))
}

func TestSuggestErrors(t *testing.T) {
	_, err := NewMatcher(&stubInvoices{}).Suggest(context.Background(), Candidate{})
	assert.ErrorIs(t, err, ErrNoAmount)

	boom := errors.New("db down")
	_, err = NewMatcher(&stubInvoices{err: boom}).Suggest(context.Background(), Candidate{Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, boom)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("ACME", "ACME"))
	assert.Equal(t, 3, levenshtein("KITTEN", "SITTING"))
	assert.Equal(t, 4, levenshtein("", "ACME"))
}
