package reconciliation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-evidence-backend/internal/config"
	"payment-evidence-backend/internal/models"
	"payment-evidence-backend/internal/repository"
	"payment-evidence-backend/internal/services/evidence"
	"payment-evidence-backend/internal/services/ledger"
	"payment-evidence-backend/internal/services/matching"
)

type fixture struct {
	svc      *ReconciliationService
	invoices *repository.InvoiceRepository
	receipts *repository.ReceiptRepository
	credits  *repository.BankCreditRepository
	ledger   *ledger.Ledger
}

func newFixture(t *testing.T, features config.Features) *fixture {
	t.Helper()
	db, err := config.InitDB(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)

	f := &fixture{
		invoices: repository.NewInvoiceRepository(db),
		receipts: repository.NewReceiptRepository(db),
		credits:  repository.NewBankCreditRepository(db),
		ledger:   ledger.New(db),
	}
	f.svc = NewReconciliationService(f.invoices, f.receipts, f.credits, f.ledger, matching.NewMatcher(f.invoices), features)
	return f
}

func (f *fixture) invoice(t *testing.T, number string, total int64) *models.Invoice {
	t.Helper()
	inv, err := f.svc.CreateInvoice(context.Background(), InvoiceInput{
		InvoiceNumber: number,
		CustomerName:  "Acme Holdings",
		Currency:      "LKR",
		Total:         decimal.NewFromInt(total),
	})
	require.NoError(t, err)
	return inv
}

func (f *fixture) receipt(t *testing.T, msg string, amount int64) *models.Receipt {
	t.Helper()
	r := &models.Receipt{
		IdentityKey:       evidence.ForReceipt(msg, "slip.pdf").Key(),
		ExternalMessageID: msg,
		FileName:          "slip.pdf",
		PayerEmail:        "ap@acme.lk",
	}
	if amount > 0 {
		r.Amount = decimal.NewNullDecimal(decimal.NewFromInt(amount))
		r.Currency = "LKR"
	}
	_, err := f.receipts.Upsert(context.Background(), r)
	require.NoError(t, err)
	return r
}

func (f *fixture) credit(t *testing.T, msg string, amount int64) *models.BankCredit {
	t.Helper()
	c := &models.BankCredit{
		IdentityKey:       evidence.ForBankCredit(msg).Key(),
		ExternalMessageID: msg,
		Amount:            decimal.NewFromInt(amount),
		Currency:          "LKR",
		Sender:            "alerts@bank.lk",
		Snippet:           "credited by ACME HOLDINGS",
	}
	_, err := f.credits.Upsert(context.Background(), c)
	require.NoError(t, err)
	return c
}

// resync upserts the same slip again the way a later collector pass would.
func (f *fixture) resync(t *testing.T, msg, file string, amount int64, confidence float64, invoiceID *uuid.UUID) *models.Receipt {
	t.Helper()
	r := &models.Receipt{
		IdentityKey:       evidence.ForReceipt(msg, file).Key(),
		ExternalMessageID: msg,
		FileName:          file,
		PayerEmail:        "finance@acme.lk",
		Amount:            decimal.NewNullDecimal(decimal.NewFromInt(amount)),
		Currency:          "LKR",
		Confidence:        confidence,
		InvoiceID:         invoiceID,
	}
	_, err := f.receipts.Upsert(context.Background(), r)
	require.NoError(t, err)
	return r
}

func dec(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestVerifyReceiptAppliesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Features{BankCredits: true})
	inv := f.invoice(t, "INV-2024-001", 100)
	r := f.receipt(t, "m1", 40)

	_, err := f.svc.MatchReceipt(ctx, r.ID, inv.ID, nil, "alice")
	require.NoError(t, err)

	verified, err := f.svc.VerifyReceipt(ctx, r.ID, "alice", "looks right")
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptVerified, verified.Status)
	assert.Equal(t, "alice", verified.ReviewedBy)
	assert.NotNil(t, verified.ReviewedAt)

	again, err := f.svc.VerifyReceipt(ctx, r.ID, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.ReviewedBy)

	got, matches, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, got.Collected.Equal(decimal.NewFromInt(40)))
	assert.True(t, got.Outstanding.Equal(decimal.NewFromInt(60)))
	assert.Equal(t, models.InvoicePartiallyPaid, got.Status)
	assert.Len(t, matches, 1)
}

func TestVerifyReceiptPreconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Features{})
	inv := f.invoice(t, "INV-2024-002", 100)

	unlinked := f.receipt(t, "m1", 40)
	_, err := f.svc.VerifyReceipt(ctx, unlinked.ID, "alice", "")
	assert.ErrorIs(t, err, ErrNotMatched)

	noAmount := f.receipt(t, "m2", 0)
	_, err = f.svc.MatchReceipt(ctx, noAmount.ID, inv.ID, nil, "alice")
	require.NoError(t, err)
	_, err = f.svc.VerifyReceipt(ctx, noAmount.ID, "alice", "")
	assert.ErrorIs(t, err, ErrNoAmount)

	_, err = f.svc.VerifyReceipt(ctx, uuid.New(), "alice", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMatchReceiptOverridesAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Features{})
	inv := f.invoice(t, "INV-2024-003", 100)
	r := f.receipt(t, "m1", 0)

	matched, err := f.svc.MatchReceipt(ctx, r.ID, inv.ID, dec(100), "alice")
	require.NoError(t, err)
	require.NotNil(t, matched.InvoiceID)
	assert.Equal(t, inv.ID, *matched.InvoiceID)
	assert.True(t, matched.Amount.Decimal.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "LKR", matched.Currency)
	assert.Equal(t, 1.0, matched.Confidence)

	_, err = f.svc.MatchReceipt(ctx, r.ID, inv.ID, dec(0), "alice")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.svc.MatchReceipt(ctx, r.ID, uuid.New(), nil, "alice")
	assert.ErrorIs(t, err, ErrInvoiceNotFound)

	_, err = f.svc.VerifyReceipt(ctx, r.ID, "alice", "")
	require.NoError(t, err)
	got, _, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoicePaid, got.Status)
}

func TestMatchReceiptRefusesCanceledInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Features{})
	inv := &models.Invoice{InvoiceNumber: "INV-2024-004", Total: decimal.NewFromInt(10), Status: models.InvoiceCanceled}
	require.NoError(t, f.invoices.Create(ctx, inv))
	r := f.receipt(t, "m1", 10)

	_, err := f.svc.MatchReceipt(ctx, r.ID, inv.ID, nil, "alice")
	assert.ErrorIs(t, err, ErrInvoiceClosed)
}

func TestRejectAndUnmatchReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Features{})
	inv := f.invoice(t, "INV-2024-005", 100)
	r := f.receipt(t, "m1", 40)
	_, err := f.svc.MatchReceipt(ctx, r.ID, inv.ID, nil, "alice")
	require.NoError(t, err)

	_, err = f.svc.RejectReceipt(ctx, r.ID, "alice", "   ")
	assert.ErrorIs(t, err, ErrReasonRequired)

	rejected, err := f.svc.RejectReceipt(ctx, r.ID, "alice", "duplicate slip")
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptRejected, rejected.Status)
	assert.Equal(t, "duplicate slip", rejected.ReviewNote)

	_, err = f.svc.VerifyReceipt(ctx, r.ID, "alice", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	reopened, err := f.svc.UnmatchReceipt(ctx, r.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptSubmitted, reopened.Status)
	assert.Nil(t, reopened.InvoiceID)
	assert.Empty(t, reopened.ReviewNote)

	got, _, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, got.Collected.IsZero())
}

func TestVerifiedReceiptCannotBeUndone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Features{})
	inv := f.invoice(t, "INV-2024-006", 100)
	r := f.receipt(t, "m1", 100)
	_, err := f.svc.MatchReceipt(ctx, r.ID, inv.ID, nil, "alice")
	require.NoError(t, err)
	_, err = f.svc.VerifyReceipt(ctx, r.ID, "alice", "")
	require.NoError(t, err)

	_, err = f.svc.UnmatchReceipt(ctx, r.ID, "alice")
	assert.ErrorIs(t, err, ErrAlreadyApplied)
	_, err = f.svc.RejectReceipt(ctx, r.ID, "alice", "changed my mind")
	assert.ErrorIs(t, err, ErrAlreadyApplied)
	_, err = f.svc.MatchReceipt(ctx, r.ID, inv.ID, nil, "alice")
	assert.ErrorIs(t, err, ErrAlreadyApplied)
}

func TestMatchBankCreditIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Features{BankCredits: true})
	inv := f.invoice(t, "INV-2024-007", 100)
	c := f.credit(t, "b1", 150)

	matched, err := f.svc.MatchBankCredit(ctx, c.ID, inv.ID, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.BankCreditMatched, matched.Status)
	require.NotNil(t, matched.MatchedInvoiceID)
	assert.Equal(t, "alice", matched.MatchedBy)

	_, err = f.svc.MatchBankCredit(ctx, c.ID, inv.ID, nil, "bob")
	require.NoError(t, err)

	other := f.invoice(t, "INV-2024-008", 10)
	_, err = f.svc.MatchBankCredit(ctx, c.ID, other.ID, nil, "bob")
	assert.ErrorIs(t, err, ErrAlreadyApplied)

	got, matches, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.True(t, got.Collected.Equal(decimal.NewFromInt(150)))
	assert.True(t, got.Outstanding.IsZero())
	assert.True(t, matches[0].Overpayment.Equal(decimal.NewFromInt(50)))

	_, err = f.svc.UnmatchBankCredit(ctx, c.ID, "alice")
	assert.ErrorIs(t, err, ErrAlreadyApplied)
}

func TestBankCreditReviewTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Features{BankCredits: true})
	c := f.credit(t, "b1", 75)

	flagged, err := f.svc.FlagBankCredit(ctx, c.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.BankCreditNeedsReview, flagged.Status)

	closed, err := f.svc.MarkBankCreditNotOurs(ctx, c.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.BankCreditMatched, closed.Status)
	assert.Equal(t, models.ClosedNotOurs, closed.ClosedReason)
	assert.Nil(t, closed.MatchedInvoiceID)

	_, err = f.svc.FlagBankCredit(ctx, c.ID, "alice")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	reopened, err := f.svc.UnmatchBankCredit(ctx, c.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.BankCreditUnmatched, reopened.Status)
	assert.Empty(t, reopened.ClosedReason)
	assert.Empty(t, reopened.MatchedBy)

	inv := f.invoice(t, "INV-2024-009", 75)
	matched, err := f.svc.MatchBankCredit(ctx, c.ID, inv.ID, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.BankCreditMatched, matched.Status)
}

func TestBankCreditOperationsNeedFeature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Features{BankCredits: false})
	id := uuid.New()

	_, _, _, err := f.svc.ListBankCredits(ctx, repository.ListFilter{})
	assert.ErrorIs(t, err, ErrFeatureDisabled)
	_, err = f.svc.MatchBankCredit(ctx, id, uuid.New(), nil, "alice")
	assert.ErrorIs(t, err, ErrFeatureDisabled)
	_, err = f.svc.FlagBankCredit(ctx, id, "alice")
	assert.ErrorIs(t, err, ErrFeatureDisabled)
	_, err = f.svc.MarkBankCreditNotOurs(ctx, id, "alice")
	assert.ErrorIs(t, err, ErrFeatureDisabled)
	_, err = f.svc.UnmatchBankCredit(ctx, id, "alice")
	assert.ErrorIs(t, err, ErrFeatureDisabled)
	_, err = f.svc.SuggestForBankCredit(ctx, id)
	assert.ErrorIs(t, err, ErrFeatureDisabled)
}

func TestSuggestions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Features{BankCredits: true})
	f.invoice(t, "INV-2024-010", 90)
	f.invoice(t, "INV-2024-011", 100)
	f.invoice(t, "INV-2024-012", 110)

	r := f.receipt(t, "m1", 101)
	got, err := f.svc.SuggestForReceipt(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "INV-2024-011", got[0].Invoice.InvoiceNumber)

	noAmount := f.receipt(t, "m2", 0)
	_, err = f.svc.SuggestForReceipt(ctx, noAmount.ID)
	assert.ErrorIs(t, err, ErrNoAmount)

	c := f.credit(t, "b1", 89)
	got, err = f.svc.SuggestForBankCredit(ctx, c.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "INV-2024-010", got[0].Invoice.InvoiceNumber)
}

func TestCreateInvoiceValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Features{})

	_, err := f.svc.CreateInvoice(ctx, InvoiceInput{Total: decimal.Zero})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	inv, err := f.svc.CreateInvoice(ctx, InvoiceInput{Total: decimal.NewFromInt(5), Currency: "lkr"})
	require.NoError(t, err)
	assert.Contains(t, inv.InvoiceNumber, "INV-")
	assert.Equal(t, "LKR", inv.Currency)
	assert.Equal(t, models.InvoiceSent, inv.Status)

	f.invoice(t, "INV-2024-013", 5)
	_, err = f.svc.CreateInvoice(ctx, InvoiceInput{InvoiceNumber: "inv-2024-013", Total: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestResyncKeepsReviewerMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Features{})
	inv := f.invoice(t, "INV-2024-014", 500)
	r := f.receipt(t, "m1", 200)

	_, err := f.svc.MatchReceipt(ctx, r.ID, inv.ID, dec(250), "alice")
	require.NoError(t, err)

	other := f.invoice(t, "INV-2024-015", 300)
	synced := f.resync(t, "m1", "slip.pdf", 300, 0.6, &other.ID)
	assert.Equal(t, r.ID, synced.ID)
	assert.True(t, synced.Amount.Decimal.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, 1.0, synced.Confidence)
	assert.Equal(t, "finance@acme.lk", synced.PayerEmail)
	require.NotNil(t, synced.InvoiceID)
	assert.Equal(t, inv.ID, *synced.InvoiceID)
	assert.Equal(t, "alice", synced.MatchedBy)

	verified, err := f.svc.VerifyReceipt(ctx, r.ID, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptVerified, verified.Status)

	got, matches, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, got.Collected.Equal(decimal.NewFromInt(250)), "collected %s", got.Collected)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].Amount.Equal(decimal.NewFromInt(250)))

	untouched, _, err := f.svc.GetInvoice(ctx, other.ID)
	require.NoError(t, err)
	assert.True(t, untouched.Collected.IsZero())
}

func TestRecollectAfterRejectAndUnmatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Features{})
	inv := f.invoice(t, "INV-2024-016", 100)
	r := f.receipt(t, "m1", 40)

	_, err := f.svc.MatchReceipt(ctx, r.ID, inv.ID, nil, "alice")
	require.NoError(t, err)
	_, err = f.svc.RejectReceipt(ctx, r.ID, "alice", "wrong amount")
	require.NoError(t, err)

	synced := f.resync(t, "m1", "slip.pdf", 45, 0.9, &inv.ID)
	assert.Equal(t, models.ReceiptRejected, synced.Status)
	assert.True(t, synced.Amount.Decimal.Equal(decimal.NewFromInt(40)))

	reopened, err := f.svc.UnmatchReceipt(ctx, r.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptSubmitted, reopened.Status)
	assert.Nil(t, reopened.InvoiceID)
	assert.Empty(t, reopened.MatchedBy)

	synced = f.resync(t, "m1", "slip.pdf", 45, 0.9, &inv.ID)
	assert.Equal(t, models.ReceiptSubmitted, synced.Status)
	assert.True(t, synced.Amount.Decimal.Equal(decimal.NewFromInt(45)))
	assert.Equal(t, 0.9, synced.Confidence)
	require.NotNil(t, synced.InvoiceID)
	assert.Equal(t, inv.ID, *synced.InvoiceID)

	_, err = f.svc.VerifyReceipt(ctx, r.ID, "alice", "")
	require.NoError(t, err)
	got, _, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, got.Collected.Equal(decimal.NewFromInt(45)))
}

func TestVerifySiblingReceiptConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Features{})
	first := f.invoice(t, "INV-2024-017", 100)
	second := f.invoice(t, "INV-2024-018", 100)
	slip := f.receipt(t, "m1", 40)
	copySlip := f.resync(t, "m1", "slip-copy.pdf", 40, 0.6, nil)
	require.NotEqual(t, slip.ID, copySlip.ID)

	_, err := f.svc.MatchReceipt(ctx, slip.ID, first.ID, nil, "alice")
	require.NoError(t, err)
	_, err = f.svc.VerifyReceipt(ctx, slip.ID, "alice", "")
	require.NoError(t, err)

	_, err = f.svc.MatchReceipt(ctx, copySlip.ID, second.ID, nil, "alice")
	require.NoError(t, err)
	_, err = f.svc.VerifyReceipt(ctx, copySlip.ID, "alice", "")
	assert.ErrorIs(t, err, ErrSiblingApplied)

	still, err := f.receipts.GetByID(ctx, copySlip.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptSubmitted, still.Status)

	got, _, err := f.svc.GetInvoice(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, got.Collected.IsZero())

	rejected, err := f.svc.RejectReceipt(ctx, copySlip.ID, "alice", "duplicate of slip.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptRejected, rejected.Status)
}
