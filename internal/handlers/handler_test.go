package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-evidence-backend/internal/config"
	handler "payment-evidence-backend/internal/handlers"
	"payment-evidence-backend/internal/mailbox"
	"payment-evidence-backend/internal/models"
	"payment-evidence-backend/internal/repository"
	"payment-evidence-backend/internal/routes"
	"payment-evidence-backend/internal/services/collector"
	"payment-evidence-backend/internal/services/evidence"
	"payment-evidence-backend/internal/services/ledger"
	"payment-evidence-backend/internal/services/matching"
	service "payment-evidence-backend/internal/services/reconciliation"
)

type fakeCollector struct {
	report collector.Report
	err    error
}

func (f *fakeCollector) SyncSlips(context.Context) (collector.Report, error) {
	return f.report, f.err
}

func (f *fakeCollector) SyncBankCredits(context.Context) (collector.Report, error) {
	return f.report, f.err
}

func (f *fakeCollector) ReextractReceipt(context.Context, uuid.UUID) (*models.Receipt, bool, error) {
	return nil, false, f.err
}

func (f *fakeCollector) ReextractBankCredit(context.Context, uuid.UUID) (*models.BankCredit, bool, error) {
	return nil, false, f.err
}

type testServer struct {
	router    *gin.Engine
	collector *fakeCollector
	invoices  *repository.InvoiceRepository
	receipts  *repository.ReceiptRepository
	runs      *repository.SyncRunRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := config.InitDB(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)

	ts := &testServer{
		collector: &fakeCollector{},
		invoices:  repository.NewInvoiceRepository(db),
		receipts:  repository.NewReceiptRepository(db),
		runs:      repository.NewSyncRunRepository(db),
	}
	svc := service.NewReconciliationService(
		ts.invoices,
		ts.receipts,
		repository.NewBankCreditRepository(db),
		ledger.New(db),
		matching.NewMatcher(ts.invoices),
		config.Features{BankCredits: false},
	)
	ts.router = gin.New()
	routes.RegisterRoutes(ts.router, handler.NewReconciliationHandler(svc, ts.collector, ts.runs))
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", "alice")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func (ts *testServer) seedReceipt(t *testing.T, msg string, amount int64) *models.Receipt {
	t.Helper()
	return ts.seedSlip(t, msg, "slip.pdf", amount)
}

func (ts *testServer) seedSlip(t *testing.T, msg, file string, amount int64) *models.Receipt {
	t.Helper()
	r := &models.Receipt{
		IdentityKey:       evidence.ForReceipt(msg, file).Key(),
		ExternalMessageID: msg,
		FileName:          file,
		Amount:            decimal.NewNullDecimal(decimal.NewFromInt(amount)),
		Currency:          "LKR",
	}
	_, err := ts.receipts.Upsert(context.Background(), r)
	require.NoError(t, err)
	return r
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestReceiptReviewFlow(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/api/invoices", map[string]interface{}{
		"invoice_number": "INV-2024-001",
		"customer_name":  "Acme",
		"currency":       "LKR",
		"total":          100,
		"due_date":       "2024-12-31",
	})
	require.Equal(t, http.StatusCreated, code)
	invoiceID := body["invoice"].(map[string]interface{})["id"].(string)

	r := ts.seedReceipt(t, "m1", 100)
	base := "/api/evidence/receipts/" + r.ID.String()

	code, _ = ts.do(t, http.MethodPost, base+"/verify", nil)
	assert.Equal(t, http.StatusBadRequest, code, "verify before match")

	code, _ = ts.do(t, http.MethodPost, base+"/match", map[string]string{"invoice_id": invoiceID})
	require.Equal(t, http.StatusOK, code)

	code, body = ts.do(t, http.MethodPost, base+"/verify", map[string]string{"note": "ok"})
	require.Equal(t, http.StatusOK, code)
	receipt := body["receipt"].(map[string]interface{})
	assert.Equal(t, "verified", receipt["status"])
	assert.Equal(t, "alice", receipt["reviewed_by"])

	code, _ = ts.do(t, http.MethodPost, base+"/unmatch", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, body = ts.do(t, http.MethodGet, "/api/invoices/"+invoiceID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "paid", body["invoice"].(map[string]interface{})["status"])
	assert.Len(t, body["matches"], 1)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	r := ts.seedReceipt(t, "m1", 10)

	code, _ := ts.do(t, http.MethodPost, "/api/evidence/receipts/not-a-uuid/verify", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodPost, "/api/evidence/receipts/"+uuid.NewString()+"/verify", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodPost, "/api/evidence/receipts/"+r.ID.String()+"/reject", map[string]string{"reason": ""})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodPost, "/api/evidence/receipts/"+r.ID.String()+"/match", map[string]string{"invoice_id": uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodGet, "/api/evidence/bank-credits", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = ts.do(t, http.MethodGet, "/api/evidence/receipts?min_confidence=7", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodGet, "/api/evidence/receipts?cursor=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestVerifySiblingSlipIsConflict(t *testing.T) {
	ts := newTestServer(t)
	inv := &models.Invoice{InvoiceNumber: "INV-2024-002", Currency: "LKR", Total: decimal.NewFromInt(100)}
	require.NoError(t, ts.invoices.Create(context.Background(), inv))

	slip := ts.seedSlip(t, "m1", "slip.pdf", 40)
	copySlip := ts.seedSlip(t, "m1", "scan.jpg", 40)

	for i, r := range []*models.Receipt{slip, copySlip} {
		base := "/api/evidence/receipts/" + r.ID.String()
		code, _ := ts.do(t, http.MethodPost, base+"/match", map[string]string{"invoice_id": inv.ID.String()})
		require.Equal(t, http.StatusOK, code)

		code, body := ts.do(t, http.MethodPost, base+"/verify", nil)
		if i == 0 {
			assert.Equal(t, http.StatusOK, code)
			continue
		}
		assert.Equal(t, http.StatusConflict, code)
		assert.Contains(t, body["error"], "same message")
	}
}

func TestListReceipts(t *testing.T) {
	ts := newTestServer(t)
	ts.seedReceipt(t, "m1", 10)
	ts.seedReceipt(t, "m2", 20)

	code, body := ts.do(t, http.MethodGet, "/api/evidence/receipts?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["items"], 1)
	assert.Equal(t, true, body["has_more"])

	code, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/evidence/receipts?limit=1&cursor=%s", body["next_cursor"]), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["items"], 1)
	assert.Equal(t, false, body["has_more"])
}

func TestSyncReportsPartialCount(t *testing.T) {
	ts := newTestServer(t)
	runID := uuid.New()

	ts.collector.report = collector.Report{RunID: runID, Count: 3}
	code, body := ts.do(t, http.MethodPost, "/api/evidence/receipts/sync", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["count"])

	ts.collector.report = collector.Report{RunID: runID, Count: 2}
	ts.collector.err = fmt.Errorf("thread: %w", mailbox.ErrUnauthorized)
	code, body = ts.do(t, http.MethodPost, "/api/evidence/receipts/sync", nil)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.EqualValues(t, 2, body["count"])
	assert.Equal(t, runID.String(), body["run_id"])

	ts.collector.report = collector.Report{}
	ts.collector.err = collector.ErrFeatureDisabled
	code, _ = ts.do(t, http.MethodPost, "/api/evidence/bank-credits/sync", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestGetSyncRun(t *testing.T) {
	ts := newTestServer(t)
	run, err := ts.runs.Start(context.Background(), models.SyncKindSlips)
	require.NoError(t, err)
	require.NoError(t, ts.runs.Finish(context.Background(), run, nil, map[string]interface{}{"skipped_bounce": 1}))

	code, body := ts.do(t, http.MethodGet, "/api/sync-runs/"+run.ID.String(), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.SyncCompleted, body["status"])

	code, _ = ts.do(t, http.MethodGet, "/api/sync-runs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUploadInvoices(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "invoices.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("invoice_number,customer_name,customer_email,total,currency,due_date\n" +
		"INV-2024-100,Acme,ap@acme.lk,1500.00,LKR,2024-12-31\n" +
		"INV-2024-101,Globex,,not-a-number,LKR,2024-12-31\n" +
		"INV-2024-102,Initech,,250,USD,31-12-2024\n" +
		"INV-2024-100,Acme,,1500.00,LKR,\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/invoices/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["invoices_added"])
	assert.EqualValues(t, 2, body["skipped"])

	inv, err := ts.invoices.FindByNumber(context.Background(), "INV-2024-102")
	require.NoError(t, err)
	assert.Equal(t, "USD", inv.Currency)
	assert.True(t, inv.Total.Equal(decimal.NewFromInt(250)))
}
