// Package matching ranks open invoices against a piece of evidence. Rankings
// are advisory and recomputed on every call.
package matching

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"payment-evidence-backend/internal/models"
)

// MaxSuggestions caps the ranked list.
const MaxSuggestions = 5

var ErrNoAmount = errors.New("evidence has no amount to match on")

// InvoiceLister returns invoices that can still be paid.
type InvoiceLister interface {
	ListOpen(ctx context.Context) ([]models.Invoice, error)
}

// Candidate describes the evidence being matched.
type Candidate struct {
	Amount   decimal.Decimal
	Currency string
	// PayerName is free text (sender, payer email, bank narration) used to
	// break ties between equally close amounts.
	PayerName string
}

type Suggestion struct {
	Invoice      models.Invoice  `json:"invoice"`
	Difference   decimal.Decimal `json:"difference"`
	// SameCurrency is false only when both sides name different currencies.
	SameCurrency bool            `json:"same_currency"`
	NameScore    float64         `json:"name_score"`
}

type Matcher struct {
	invoices InvoiceLister
}

func NewMatcher(invoices InvoiceLister) *Matcher {
	return &Matcher{invoices: invoices}
}

// Suggest orders open invoices by how close their total is to the amount,
// then by currency agreement and payer name.
func (m *Matcher) Suggest(ctx context.Context, c Candidate) ([]Suggestion, error) {
	if !c.Amount.IsPositive() {
		return nil, ErrNoAmount
	}

	invoices, err := m.invoices.ListOpen(ctx)
	if err != nil {
		return nil, err
	}

	suggestions := make([]Suggestion, 0, len(invoices))
	for _, inv := range invoices {
		suggestions = append(suggestions, Suggestion{
			Invoice:      inv,
			Difference:   inv.Total.Sub(c.Amount).Abs(),
			SameCurrency: sameCurrency(c.Currency, inv.Currency),
			NameScore:    computeNameSimilarity(c.PayerName, inv.CustomerName),
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		a, b := suggestions[i], suggestions[j]
		if cmp := a.Difference.Cmp(b.Difference); cmp != 0 {
			return cmp < 0
		}
		if a.SameCurrency != b.SameCurrency {
			return a.SameCurrency
		}
		if a.NameScore != b.NameScore {
			return a.NameScore > b.NameScore
		}
		return a.Invoice.InvoiceNumber < b.Invoice.InvoiceNumber
	})

	if len(suggestions) > MaxSuggestions {
		suggestions = suggestions[:MaxSuggestions]
	}
	return suggestions, nil
}

func sameCurrency(a, b string) bool {
	return a == "" || b == "" || strings.EqualFold(a, b)
}

// computeNameSimilarity scores 0-100 how well the invoice name tokens are
// covered by the payer text, token by token with Levenshtein distance.
func computeNameSimilarity(payer, invoiceName string) float64 {
	pTokens := strings.Fields(normalizeName(payer))
	iTokens := strings.Fields(normalizeName(invoiceName))

	if len(iTokens) == 0 || len(pTokens) == 0 {
		return 0
	}

	totalScore := 0.0
	for _, invTok := range iTokens {
		best := 0.0
		for _, payTok := range pTokens {
			dist := levenshtein(invTok, payTok)
			maxLen := math.Max(float64(len(invTok)), float64(len(payTok)))
			sim := 1 - float64(dist)/maxLen
			if sim > best {
				best = sim
			}
		}
		totalScore += best
	}

	return (totalScore / float64(len(iTokens))) * 100
}

func normalizeName(s string) string {
	s = strings.ToUpper(s)
	for _, sep := range []string{"@", ".", "_", "-", ","} {
		s = strings.ReplaceAll(s, sep, " ")
	}
	return strings.TrimSpace(s)
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
