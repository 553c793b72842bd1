package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"payment-evidence-backend/internal/config"
	"payment-evidence-backend/internal/logger"
	"payment-evidence-backend/internal/mailbox"
	"payment-evidence-backend/internal/ocr"
	"payment-evidence-backend/internal/repository"
	"payment-evidence-backend/internal/services/collector"
	"payment-evidence-backend/internal/services/extraction"
	"payment-evidence-backend/internal/services/ledger"
	"payment-evidence-backend/internal/services/matching"
	"payment-evidence-backend/internal/services/reconciliation"
	"payment-evidence-backend/internal/settings"
)

// app is the wired service graph shared by serve and sync.
type app struct {
	db             *gorm.DB
	settings       *settings.Service
	collector      *collector.Collector
	reconciliation *reconciliation.ReconciliationService
	runs           *repository.SyncRunRepository
	closers        []func() error
	log            zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{log: logger.WithComponent("app")}

	db, err := config.InitDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.db = db
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	a.settings = settings.NewService(db, cfg.Mailbox.SettingsTTL, cfg.Mailbox.Address)

	extractor, closeOCR, err := newExtractor(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeOCR)

	rules := collector.DefaultRules()
	if cfg.Collector.RulesFile != "" {
		if rules, err = collector.LoadRules(cfg.Collector.RulesFile); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	var provider mailbox.Provider
	if cfg.MailboxConfigured() {
		gm, err := mailbox.NewGmail(ctx, cfg.Mailbox, a.settings, cfg.Collector.MaxMessages)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		provider = gm
	} else {
		a.log.Warn().Msg("Mailbox credentials not configured, sync passes are disabled")
	}

	invoices := repository.NewInvoiceRepository(db)
	receipts := repository.NewReceiptRepository(db)
	credits := repository.NewBankCreditRepository(db)
	a.runs = repository.NewSyncRunRepository(db)

	a.collector = collector.New(collector.Deps{
		Mailbox:     provider,
		Extractor:   extractor,
		Invoices:    invoices,
		Receipts:    receipts,
		BankCredits: credits,
		Runs:        a.runs,
	}, rules, cfg.Collector, cfg.Features)

	a.reconciliation = reconciliation.NewReconciliationService(
		invoices,
		receipts,
		credits,
		ledger.New(db),
		matching.NewMatcher(invoices),
		cfg.Features,
	)

	a.log.Info().
		Str("db_driver", cfg.Database.Driver).
		Bool("mailbox", provider != nil).
		Bool("bank_credits", cfg.Features.BankCredits).
		Bool("ocr", cfg.Features.OCR).
		Msg("Application wired")
	return a, nil
}

// newExtractor builds the amount extractor, with OCR providers when the
// feature is on. The returned func releases the OCR clients.
func newExtractor(ctx context.Context, cfg *config.Config) (*extraction.Extractor, func() error, error) {
	var (
		pdf   extraction.PDFTextExtractor
		image extraction.ImageTextExtractor
		done  = func() error { return nil }
	)
	if cfg.Features.OCR {
		providers, err := ocr.NewProviders(ctx, cfg.OCR, cfg.Mailbox)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect OCR providers: %w", err)
		}
		pdf, image, done = providers.PDF, providers.Image, providers.Close
	}
	return extraction.NewExtractor(pdf, image, cfg.OCR.Timeout), done, nil
}

// Close releases clients in reverse order of creation.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}
