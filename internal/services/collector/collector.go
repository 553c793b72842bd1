// Package collector pulls payment evidence out of the mailbox.
//
// Two passes exist: slips attached to replies about our invoices, and bank
// credit notifications. Each pass is triggered on demand, processes the
// messages it finds one at a time and upserts evidence through its identity
// key, so running a pass again over the same window changes nothing new.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"payment-evidence-backend/internal/config"
	"payment-evidence-backend/internal/logger"
	"payment-evidence-backend/internal/mailbox"
	"payment-evidence-backend/internal/metrics"
	"payment-evidence-backend/internal/models"
	"payment-evidence-backend/internal/repository"
	"payment-evidence-backend/internal/services/evidence"
	"payment-evidence-backend/internal/services/extraction"
)

const (
	passSlips = "slips"
	passBank  = "bank_credits"

	confidenceRecognized   = 0.9
	confidenceUnrecognized = 0.6
	confidenceBankCredit   = 0.5
)

var (
	ErrFeatureDisabled    = errors.New("feature disabled")
	ErrMailboxUnavailable = errors.New("mailbox is not configured")
	ErrNotOpen            = errors.New("evidence is no longer open")
	ErrAttachmentGone     = errors.New("attachment no longer present in message")
)

// AmountExtractor reads a payment amount from a document.
type AmountExtractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (extraction.Amount, bool)
}

type InvoiceFinder interface {
	FindByNumber(ctx context.Context, number string) (*models.Invoice, error)
}

// Deps are the collaborators of a Collector. Mailbox may be nil when no
// mailbox is configured; passes then fail with ErrMailboxUnavailable.
type Deps struct {
	Mailbox     mailbox.Provider
	Extractor   AmountExtractor
	Invoices    InvoiceFinder
	Receipts    *repository.ReceiptRepository
	BankCredits *repository.BankCreditRepository
	Runs        *repository.SyncRunRepository
}

type Collector struct {
	Deps
	rules       Rules
	features    config.Features
	callTimeout time.Duration
	log         zerolog.Logger
}

// Report summarizes one pass.
type Report struct {
	RunID uuid.UUID `json:"run_id"`
	Count int       `json:"count"`
}

func New(deps Deps, rules Rules, cfg config.CollectorConfig, features config.Features) *Collector {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Collector{
		Deps:        deps,
		rules:       rules,
		features:    features,
		callTimeout: timeout,
		log:         logger.WithComponent("collector"),
	}
}

// pass tracks the counters of a running pass.
type pass struct {
	name    string
	run     *models.SyncRun
	skipped map[string]int
}

func (p *pass) skip(reason string) {
	p.skipped[reason]++
	p.run.SkippedCount++
	metrics.MessagesSkipped.WithLabelValues(p.name, reason).Inc()
}

func (c *Collector) startPass(ctx context.Context, name, kind string) (*pass, error) {
	if c.Mailbox == nil {
		return nil, ErrMailboxUnavailable
	}
	run, err := c.Runs.Start(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("start %s run: %w", name, err)
	}
	return &pass{name: name, run: run, skipped: map[string]int{}}, nil
}

func (c *Collector) finishPass(p *pass, passErr error) Report {
	details := make(map[string]interface{}, len(p.skipped))
	for reason, n := range p.skipped {
		details["skipped_"+reason] = n
	}

	// record the run even when the caller's context is gone
	ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
	defer cancel()
	if err := c.Runs.Finish(ctx, p.run, passErr, details); err != nil {
		c.log.Error().Err(err).Str("run_id", p.run.ID.String()).Msg("Failed to record sync run")
	}

	status := models.SyncCompleted
	if passErr != nil {
		status = models.SyncFailed
	}
	metrics.SyncPasses.WithLabelValues(p.name, status).Inc()

	evt := c.log.Info()
	if passErr != nil {
		evt = c.log.Warn().Err(passErr)
	}
	evt.Str("pass", p.name).
		Str("run_id", p.run.ID.String()).
		Int("scanned", p.run.ScannedCount).
		Int("processed", p.run.ProcessedCount).
		Int("skipped", p.run.SkippedCount).
		Msg("Collector pass finished")

	return Report{RunID: p.run.ID, Count: p.run.ProcessedCount}
}

// fatal reports whether an error must stop the whole pass.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, mailbox.ErrUnauthorized) || ctx.Err() != nil
}

// SyncSlips runs the slip evidence pass and reports how many receipts were
// created or refreshed. On a mailbox failure the partial count is returned
// together with the error.
func (c *Collector) SyncSlips(ctx context.Context) (Report, error) {
	p, err := c.startPass(ctx, passSlips, models.SyncKindSlips)
	if err != nil {
		return Report{}, fmt.Errorf("SyncSlips: %w", err)
	}

	summaries, err := c.search(ctx, c.rules.SlipQuery, c.rules.slipWindow())
	if err != nil {
		err = fmt.Errorf("SyncSlips: search: %w", err)
		return c.finishPass(p, err), err
	}
	p.run.ScannedCount = len(summaries)

	for _, s := range summaries {
		if ctx.Err() != nil {
			err := fmt.Errorf("SyncSlips: %w", ctx.Err())
			return c.finishPass(p, err), err
		}

		n, err := c.collectSlips(ctx, p, s)
		p.run.ProcessedCount += n
		if err == nil {
			continue
		}
		if fatal(ctx, err) {
			err = fmt.Errorf("SyncSlips: message %s: %w", s.ID, err)
			return c.finishPass(p, err), err
		}
		p.skip("error")
		c.log.Warn().Err(err).Str("message_id", s.ID).Msg("Skipping message after error")
	}
	return c.finishPass(p, nil), nil
}

// collectSlips handles one candidate message and returns the number of
// receipts upserted from it.
func (c *Collector) collectSlips(ctx context.Context, p *pass, s mailbox.MessageSummary) (int, error) {
	log := c.log.With().Str("message_id", s.ID).Logger()

	if c.rules.IsBounce(s.From, s.Subject) {
		p.skip("bounce")
		log.Debug().Str("from", s.From).Msg("Bounce message ignored")
		return 0, nil
	}

	ref := c.rules.Reference(s.Subject)
	if ref == "" {
		ref = c.rules.Reference(s.Snippet)
	}
	if ref == "" {
		p.skip("no_reference")
		return 0, nil
	}

	var invoice *models.Invoice
	err := c.call(ctx, "invoice_lookup", func(ctx context.Context) error {
		var err error
		invoice, err = c.Invoices.FindByNumber(ctx, ref)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		p.skip("unknown_invoice")
		log.Debug().Str("reference", ref).Msg("Reference does not resolve to an invoice")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("invoice %s: %w", ref, err)
	}
	recognized := invoice.IsOpen()

	authentic, err := c.authentic(ctx, s, ref)
	if err != nil {
		if errors.Is(err, mailbox.ErrUnauthorized) {
			return 0, err
		}
		p.skip("thread_unavailable")
		log.Warn().Err(err).Str("thread_id", s.ThreadID).Msg("Thread lookup failed, not trusting attachment")
		return 0, nil
	}
	if !authentic {
		p.skip("unauthenticated")
		log.Info().Str("reference", ref).Str("from", s.From).Msg("No outbound invoice mail in thread, attachment ignored")
		return 0, nil
	}

	var msg *mailbox.Message
	err = c.call(ctx, "get_message", func(ctx context.Context) error {
		var err error
		msg, err = c.Mailbox.Get(ctx, s.ID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get: %w", err)
	}

	attachments := slipAttachments(msg.Payload)
	if len(attachments) == 0 {
		p.skip("no_attachment")
		return 0, nil
	}

	count := 0
	for _, att := range attachments {
		size := att.part.Size
		if size == 0 {
			size = int64(len(att.part.Data))
		}
		if !recognized && c.rules.BelowMinimumSize(att.contentType, size) {
			p.skip("too_small")
			continue
		}
		if !recognized && !c.rules.HasSlipKeyword(att.part.Filename, s.Subject, s.Snippet) {
			p.skip("no_keyword")
			continue
		}

		data, err := c.attachmentData(ctx, msg.ID, att.part)
		if err != nil {
			if fatal(ctx, err) {
				return count, err
			}
			p.skip("attachment_error")
			log.Warn().Err(err).Str("file", att.part.Filename).Msg("Attachment download failed")
			continue
		}

		receipt := &models.Receipt{
			IdentityKey:       evidence.ForReceipt(msg.ID, att.part.Filename).Key(),
			ExternalMessageID: msg.ID,
			ThreadID:          msg.ThreadID,
			FileName:          att.part.Filename,
			FileType:          att.contentType,
			FileSize:          size,
			InvoiceReference:  ref,
			Confidence:        confidenceUnrecognized,
			Status:            models.ReceiptSubmitted,
			PayerEmail:        s.From,
			Subject:           s.Subject,
		}
		if recognized {
			id := invoice.ID
			receipt.InvoiceID = &id
			receipt.Confidence = confidenceRecognized
		}
		if amount, ok := c.Extractor.Extract(ctx, data, att.contentType); ok {
			receipt.Amount = decimal.NewNullDecimal(amount.Value)
			receipt.Currency = firstNonEmpty(amount.Currency, invoice.Currency)
		}

		created, err := c.Receipts.Upsert(ctx, receipt)
		if err != nil {
			return count, fmt.Errorf("upsert %s: %w", att.part.Filename, err)
		}
		recordUpsert(evidence.KindReceipt, created)
		count++

		log.Info().
			Str("receipt_id", receipt.ID.String()).
			Str("reference", ref).
			Str("file", receipt.FileName).
			Bool("created", created).
			Bool("has_amount", receipt.Amount.Valid).
			Msg("Receipt collected")
	}
	return count, nil
}

// authentic reports whether the thread holds an outbound message of ours
// whose subject carries the same invoice reference.
func (c *Collector) authentic(ctx context.Context, s mailbox.MessageSummary, ref string) (bool, error) {
	if s.ThreadID == "" {
		return false, errors.New("message has no thread")
	}
	var thread []mailbox.MessageSummary
	err := c.call(ctx, "thread", func(ctx context.Context) error {
		var err error
		thread, err = c.Mailbox.Thread(ctx, s.ThreadID)
		return err
	})
	if err != nil {
		return false, err
	}
	for _, m := range thread {
		if m.ID == s.ID || !m.Outbound {
			continue
		}
		if c.rules.Reference(m.Subject) == ref {
			return true, nil
		}
	}
	return false, nil
}

// SyncBankCredits runs the bank notification pass.
func (c *Collector) SyncBankCredits(ctx context.Context) (Report, error) {
	if !c.features.BankCredits {
		return Report{}, fmt.Errorf("SyncBankCredits: %w", ErrFeatureDisabled)
	}
	p, err := c.startPass(ctx, passBank, models.SyncKindBankCredits)
	if err != nil {
		return Report{}, fmt.Errorf("SyncBankCredits: %w", err)
	}

	summaries, err := c.search(ctx, c.rules.BankQuery, c.rules.bankWindow())
	if err != nil {
		err = fmt.Errorf("SyncBankCredits: search: %w", err)
		return c.finishPass(p, err), err
	}
	p.run.ScannedCount = len(summaries)

	for _, s := range summaries {
		if ctx.Err() != nil {
			err := fmt.Errorf("SyncBankCredits: %w", ctx.Err())
			return c.finishPass(p, err), err
		}

		ok, err := c.collectBankCredit(ctx, p, s)
		if ok {
			p.run.ProcessedCount++
		}
		if err == nil {
			continue
		}
		if fatal(ctx, err) {
			err = fmt.Errorf("SyncBankCredits: message %s: %w", s.ID, err)
			return c.finishPass(p, err), err
		}
		p.skip("error")
		c.log.Warn().Err(err).Str("message_id", s.ID).Msg("Skipping bank message after error")
	}
	return c.finishPass(p, nil), nil
}

func (c *Collector) collectBankCredit(ctx context.Context, p *pass, s mailbox.MessageSummary) (bool, error) {
	if s.Outbound {
		p.skip("outbound")
		return false, nil
	}
	if c.rules.IsBounce(s.From, s.Subject) {
		p.skip("bounce")
		return false, nil
	}

	amount, ok := extraction.BankAmountFromText(s.Snippet)
	if !ok {
		p.skip("no_amount")
		return false, nil
	}

	credit := &models.BankCredit{
		IdentityKey:       evidence.ForBankCredit(s.ID).Key(),
		ExternalMessageID: s.ID,
		Amount:            amount.Value,
		Currency:          amount.Currency,
		Sender:            s.From,
		Subject:           s.Subject,
		Snippet:           s.Snippet,
		Confidence:        confidenceBankCredit,
		Status:            models.BankCreditUnmatched,
	}
	if !s.Date.IsZero() {
		received := s.Date
		credit.ReceivedAt = &received
	}

	created, err := c.BankCredits.Upsert(ctx, credit)
	if err != nil {
		return false, fmt.Errorf("upsert: %w", err)
	}
	recordUpsert(evidence.KindBankCredit, created)
	c.log.Info().
		Str("bank_credit_id", credit.ID.String()).
		Str("amount", credit.Amount.StringFixed(2)).
		Str("currency", credit.Currency).
		Bool("created", created).
		Msg("Bank credit collected")
	return true, nil
}

// ReextractReceipt downloads the receipt's attachment again and refreshes
// its amount. Attachment ids are not stable across fetches, so the
// attachment is located by file name. found is false when no amount could be
// read; the receipt is then returned unchanged.
func (c *Collector) ReextractReceipt(ctx context.Context, id uuid.UUID) (receipt *models.Receipt, found bool, err error) {
	const op = "ReextractReceipt"
	if c.Mailbox == nil {
		return nil, false, fmt.Errorf("%s: %w", op, ErrMailboxUnavailable)
	}

	receipt, err = c.Receipts.GetByID(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if receipt.Status != models.ReceiptSubmitted {
		return receipt, false, fmt.Errorf("%s: %s is %s: %w", op, id, receipt.Status, ErrNotOpen)
	}

	var msg *mailbox.Message
	if err := c.call(ctx, "get_message", func(ctx context.Context) error {
		var err error
		msg, err = c.Mailbox.Get(ctx, receipt.ExternalMessageID)
		return err
	}); err != nil {
		return nil, false, fmt.Errorf("%s: get: %w", op, err)
	}

	var target *attachment
	for _, att := range slipAttachments(msg.Payload) {
		if strings.EqualFold(att.part.Filename, receipt.FileName) {
			att := att
			target = &att
			break
		}
	}
	if target == nil {
		return nil, false, fmt.Errorf("%s: %s: %w", op, receipt.FileName, ErrAttachmentGone)
	}

	data, err := c.attachmentData(ctx, msg.ID, target.part)
	if err != nil {
		return nil, false, fmt.Errorf("%s: download: %w", op, err)
	}

	amount, ok := c.Extractor.Extract(ctx, data, target.contentType)
	if !ok {
		return receipt, false, nil
	}

	refreshed := *receipt
	refreshed.Amount = decimal.NewNullDecimal(amount.Value)
	refreshed.Currency = firstNonEmpty(amount.Currency, receipt.Currency)
	if _, err := c.Receipts.Upsert(ctx, &refreshed); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return &refreshed, true, nil
}

// ReextractBankCredit parses the notification again and refreshes the amount
// of an unmatched credit.
func (c *Collector) ReextractBankCredit(ctx context.Context, id uuid.UUID) (credit *models.BankCredit, found bool, err error) {
	const op = "ReextractBankCredit"
	if !c.features.BankCredits {
		return nil, false, fmt.Errorf("%s: %w", op, ErrFeatureDisabled)
	}
	if c.Mailbox == nil {
		return nil, false, fmt.Errorf("%s: %w", op, ErrMailboxUnavailable)
	}

	credit, err = c.BankCredits.GetByID(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if credit.Status != models.BankCreditUnmatched {
		return credit, false, fmt.Errorf("%s: %s is %s: %w", op, id, credit.Status, ErrNotOpen)
	}

	var msg *mailbox.Message
	if err := c.call(ctx, "get_message", func(ctx context.Context) error {
		var err error
		msg, err = c.Mailbox.Get(ctx, credit.ExternalMessageID)
		return err
	}); err != nil {
		return nil, false, fmt.Errorf("%s: get: %w", op, err)
	}

	amount, ok := extraction.BankAmountFromText(msg.Snippet)
	if !ok {
		return credit, false, nil
	}

	refreshed := *credit
	refreshed.Amount = amount.Value
	refreshed.Currency = firstNonEmpty(amount.Currency, credit.Currency)
	refreshed.Snippet = msg.Snippet
	if _, err := c.BankCredits.Upsert(ctx, &refreshed); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return &refreshed, true, nil
}

func (c *Collector) search(ctx context.Context, query string, window time.Duration) ([]mailbox.MessageSummary, error) {
	var out []mailbox.MessageSummary
	err := c.call(ctx, "search", func(ctx context.Context) error {
		var err error
		out, err = c.Mailbox.Search(ctx, query, window)
		return err
	})
	return out, err
}

func (c *Collector) attachmentData(ctx context.Context, messageID string, part *mailbox.Part) ([]byte, error) {
	if part.AttachmentID == "" {
		if len(part.Data) == 0 {
			return nil, errors.New("attachment has no data")
		}
		return part.Data, nil
	}
	var data []byte
	err := c.call(ctx, "attachment", func(ctx context.Context) error {
		var err error
		data, err = c.Mailbox.Attachment(ctx, messageID, part.AttachmentID)
		return err
	})
	return data, err
}

// call runs one external call under its own timeout.
func (c *Collector) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	metrics.ProviderCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}

func recordUpsert(kind evidence.Kind, created bool) {
	outcome := "refreshed"
	if created {
		outcome = "created"
	}
	metrics.EvidenceUpserted.WithLabelValues(string(kind), outcome).Inc()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
