package collector

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Rules are the heuristics the collector filters mail with. Every field has
// a default and may be overridden from a TOML file.
type Rules struct {
	// ReferencePattern matches our invoice numbers.
	ReferencePattern string `toml:"reference_pattern"`

	BounceSenders  []string `toml:"bounce_senders"`
	BounceSubjects []string `toml:"bounce_subjects"`
	SlipKeywords   []string `toml:"slip_keywords"`

	BankSenders  []string `toml:"bank_senders"`
	BankSubjects []string `toml:"bank_subjects"`

	// Attachments smaller than these are treated as logos and signatures.
	MinImageBytes int64 `toml:"min_image_bytes"`
	MinPDFBytes   int64 `toml:"min_pdf_bytes"`

	SlipWindowDays int `toml:"slip_window_days"`
	BankWindowDays int `toml:"bank_window_days"`

	SlipQuery string `toml:"slip_query"`
	// BankQuery is built from BankSenders and BankSubjects when empty.
	BankQuery string `toml:"bank_query"`

	reference *regexp.Regexp
}

func DefaultRules() Rules {
	return Rules{
		ReferencePattern: `(?i)\bINV-\d{4,}(?:-\d+)?\b`,
		BounceSenders:    []string{"mailer-daemon", "postmaster", "mail-daemon", "noreply-bounce"},
		BounceSubjects: []string{
			"undelivered",
			"undeliverable",
			"delivery status notification",
			"delivery failure",
			"failure notice",
			"returned mail",
			"mail delivery failed",
		},
		SlipKeywords:   []string{"slip", "receipt", "payment", "transfer", "deposit", "remittance"},
		BankSenders:    []string{"alerts@", "notifications@", "noreply@", "ebanking@"},
		BankSubjects:   []string{"credit", "credited", "deposit", "payment received", "funds received"},
		MinImageBytes:  15 * 1024,
		MinPDFBytes:    8 * 1024,
		SlipWindowDays: 30,
		BankWindowDays: 7,
		SlipQuery:      "has:attachment INV -in:sent -in:drafts",
	}
}

// LoadRules returns the defaults overlaid with the TOML file at path. An
// empty path yields the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path != "" {
		meta, err := toml.DecodeFile(path, &rules)
		if err != nil {
			return Rules{}, fmt.Errorf("LoadRules: %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Rules{}, fmt.Errorf("LoadRules: %s: unknown keys %v", path, undecoded)
		}
	}
	if err := rules.compile(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func (r *Rules) compile() error {
	re, err := regexp.Compile(r.ReferencePattern)
	if err != nil {
		return fmt.Errorf("rules: reference_pattern: %w", err)
	}
	r.reference = re
	if r.SlipWindowDays <= 0 || r.BankWindowDays <= 0 {
		return fmt.Errorf("rules: lookback windows must be positive")
	}
	if r.BankQuery == "" {
		r.BankQuery = buildBankQuery(r.BankSenders, r.BankSubjects)
	}
	return nil
}

// buildBankQuery ORs sender and subject terms with Gmail's brace syntax.
func buildBankQuery(senders, subjects []string) string {
	terms := make([]string, 0, len(senders)+len(subjects))
	for _, s := range senders {
		terms = append(terms, "from:"+quoteTerm(s))
	}
	for _, s := range subjects {
		terms = append(terms, "subject:"+quoteTerm(s))
	}
	if len(terms) == 0 {
		return "-in:sent"
	}
	return "{" + strings.Join(terms, " ") + "} -in:sent"
}

func quoteTerm(s string) string {
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}

func (r Rules) slipWindow() time.Duration { return time.Duration(r.SlipWindowDays) * 24 * time.Hour }
func (r Rules) bankWindow() time.Duration { return time.Duration(r.BankWindowDays) * 24 * time.Hour }

// Reference returns the first invoice reference in text, upper-cased.
func (r Rules) Reference(text string) string {
	if r.reference == nil {
		return ""
	}
	return strings.ToUpper(r.reference.FindString(text))
}

// IsBounce reports whether a message looks like a delivery failure notice.
func (r Rules) IsBounce(from, subject string) bool {
	from, subject = strings.ToLower(from), strings.ToLower(subject)
	for _, s := range r.BounceSenders {
		if s != "" && strings.Contains(from, strings.ToLower(s)) {
			return true
		}
	}
	return containsAny(subject, r.BounceSubjects)
}

// HasSlipKeyword checks the slip vocabulary across the given texts.
func (r Rules) HasSlipKeyword(texts ...string) bool {
	for _, t := range texts {
		if containsAny(strings.ToLower(t), r.SlipKeywords) {
			return true
		}
	}
	return false
}

// BelowMinimumSize reports whether an attachment is too small to be a slip.
func (r Rules) BelowMinimumSize(contentType string, size int64) bool {
	if contentType == "application/pdf" {
		return size < r.MinPDFBytes
	}
	return size < r.MinImageBytes
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
