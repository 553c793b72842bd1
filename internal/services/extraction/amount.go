package extraction

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value pulled out of free text.
type Amount struct {
	Value    decimal.Decimal
	Currency string
}

const numberPattern = `((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d{1,2})?)`

const currencyPattern = `(?:\b(LKR|USD|EUR|GBP|INR|AUD|Rs)\.?|(\$|€|£))`

// amountPattern: optional "amount" label, optional currency, number.
var amountPattern = regexp.MustCompile(
	`(?i)(\bamount(?:\s+(?:paid|due|received|total))?\s*[:=\-]?\s*)?` + `(?:` + currencyPattern + `\s*)?` + numberPattern,
)

// bankPattern is the single-pass pattern used on bank notification snippets.
var bankPattern = regexp.MustCompile(`(?i)(?:` + currencyPattern + `\s*)?` + numberPattern)

// AmountFromText finds a payment amount in extracted document text. It tries
// each line, then each pair of adjacent lines, then the whole text, and each
// pass returns the first match in reading order. A bare number counts only
// when it is money-shaped (grouped thousands or decimals) and stands alone.
func AmountFromText(text string) (Amount, bool) {
	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return Amount{}, false
	}

	if a, ok := firstMatch(lines); ok {
		return a, true
	}

	windows := make([]string, 0, len(lines))
	for i := 0; i+1 < len(lines); i++ {
		windows = append(windows, lines[i]+" "+lines[i+1])
	}
	if a, ok := firstMatch(windows); ok {
		return a, true
	}

	return firstMatch([]string{strings.Join(lines, " ")})
}

// BankAmountFromText reads the credited amount from a bank email snippet.
// The currency is optional; a currency-anchored number is preferred over a
// bare one.
func BankAmountFromText(text string) (Amount, bool) {
	var bare *Amount
	for _, sm := range bankPattern.FindAllStringSubmatch(text, -1) {
		value, ok := parseNumber(sm[3])
		if !ok {
			continue
		}
		cur := NormalizeCurrency(firstNonEmpty(sm[1], sm[2]))
		if cur != "" {
			return Amount{Value: value, Currency: cur}, true
		}
		if bare == nil {
			bare = &Amount{Value: value}
		}
	}
	if bare != nil {
		return *bare, true
	}
	return Amount{}, false
}

func firstMatch(segments []string) (Amount, bool) {
	for _, s := range segments {
		if a, ok := firstInSegment(s); ok {
			return a, true
		}
	}
	return Amount{}, false
}

func firstInSegment(s string) (Amount, bool) {
	for _, idx := range amountPattern.FindAllStringSubmatchIndex(s, -1) {
		group := func(n int) string {
			if idx[2*n] < 0 {
				return ""
			}
			return s[idx[2*n]:idx[2*n+1]]
		}
		label, cur, raw := group(1), firstNonEmpty(group(2), group(3)), group(4)
		if label == "" && cur == "" && !moneyShaped(s, idx[8], idx[9]) {
			continue
		}
		value, ok := parseNumber(raw)
		if !ok {
			continue
		}
		return Amount{Value: value, Currency: NormalizeCurrency(cur)}, true
	}
	return Amount{}, false
}

// moneyShaped reports whether s[start:end] reads as an amount on its own:
// it carries grouping or decimals and is not part of a date, code or longer
// number.
func moneyShaped(s string, start, end int) bool {
	if !strings.ContainsAny(s[start:end], ".,") {
		return false
	}
	if start > 0 && strings.IndexByte("0123456789.,-/", s[start-1]) >= 0 {
		return false
	}
	if end < len(s) {
		next := s[end]
		if next >= '0' && next <= '9' {
			return false
		}
		if strings.IndexByte(".,-/", next) >= 0 && end+1 < len(s) && s[end+1] >= '0' && s[end+1] <= '9' {
			return false
		}
	}
	return true
}

func parseNumber(raw string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d.Round(2), true
}

// NormalizeCurrency maps the recognised tokens onto ISO codes.
func NormalizeCurrency(token string) string {
	switch strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(token), ".")) {
	case "":
		return ""
	case "RS", "LKR":
		return "LKR"
	case "$", "USD":
		return "USD"
	case "€", "EUR":
		return "EUR"
	case "£", "GBP":
		return "GBP"
	case "INR":
		return "INR"
	case "AUD":
		return "AUD"
	default:
		return strings.ToUpper(token)
	}
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
