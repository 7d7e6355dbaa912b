package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/averos/go-chatpay-backend/internal/domain"
	"github.com/averos/go-chatpay-backend/internal/services"
)

//
// Fake
//

type fakePaySvc struct {
	txn       *domain.PaymentTransaction
	createErr error
	getErr    error

	ingestRes *services.IngestResult
	ingestErr error

	lastBody      []byte
	lastSignature string
	lastEventID   string
}

func (f *fakePaySvc) CreateOrder(_ context.Context, amount int64, currency string) (*domain.PaymentTransaction, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.txn, nil
}

func (f *fakePaySvc) GetByOrderID(_ context.Context, orderID string) (*domain.PaymentTransaction, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.txn, nil
}

func (f *fakePaySvc) Ingest(_ context.Context, body []byte, signature, eventID string) (*services.IngestResult, error) {
	f.lastBody = append([]byte(nil), body...)
	f.lastSignature = signature
	f.lastEventID = eventID
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	return f.ingestRes, nil
}

//
// Tests
//

func TestCreateOrder_Handler(t *testing.T) {
	txn := &domain.PaymentTransaction{
		ID: "t1", OrderID: "order_abc", Amount: 49900, Currency: "INR",
		Status: domain.PaymentStatusCreated,
	}
	pay := &fakePaySvc{txn: txn}
	h := New(&fakeSessionSvc{}, &fakeChatSvc{}, pay, &fakeWalletSvc{}, Options{})
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodPost, "/payments/orders", `{"amount":49900,"currency":"INR"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp OrderResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OrderID != "order_abc" || resp.Status != domain.PaymentStatusCreated {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCreateOrder_Handler_Validation(t *testing.T) {
	h := New(&fakeSessionSvc{}, &fakeChatSvc{}, &fakePaySvc{}, &fakeWalletSvc{}, Options{})
	r := newTestRouter(h)

	for name, body := range map[string]string{
		"missing amount":  `{"currency":"INR"}`,
		"zero amount":     `{"amount":0}`,
		"negative amount": `{"amount":-5}`,
		"malformed":       `{`,
	} {
		t.Run(name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/payments/orders", body, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestCreateOrder_Handler_GatewayDown(t *testing.T) {
	pay := &fakePaySvc{createErr: fmt.Errorf("%w: connect refused", services.ErrUpstream)}
	h := New(&fakeSessionSvc{}, &fakeChatSvc{}, pay, &fakeWalletSvc{}, Options{})

	w := doJSON(t, newTestRouter(h), http.MethodPost, "/payments/orders", `{"amount":100}`, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if errCode(t, w) != ErrCodeUpstream {
		t.Fatalf("code %q", errCode(t, w))
	}
}

func TestGetPayment_Handler(t *testing.T) {
	txn := &domain.PaymentTransaction{
		ID: "t1", OrderID: "order_abc", PaymentID: "pay_1", Amount: 100,
		Currency: "INR", Status: domain.PaymentStatusCaptured,
	}
	h := New(&fakeSessionSvc{}, &fakeChatSvc{}, &fakePaySvc{txn: txn}, &fakeWalletSvc{}, Options{})
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodGet, "/payments/order_abc", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp OrderResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.PaymentID != "pay_1" || resp.Status != domain.PaymentStatusCaptured {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGetPayment_Handler_NotFound(t *testing.T) {
	h := New(&fakeSessionSvc{}, &fakeChatSvc{}, &fakePaySvc{getErr: services.ErrTransactionNotFound}, &fakeWalletSvc{}, Options{})
	w := doJSON(t, newTestRouter(h), http.MethodGet, "/payments/order_missing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleWebhook_PassesRawBodyAndHeaders(t *testing.T) {
	pay := &fakePaySvc{ingestRes: &services.IngestResult{Outcome: domain.WebhookOutcomeProcessed}}
	h := New(&fakeSessionSvc{}, &fakeChatSvc{}, pay, &fakeWalletSvc{}, Options{})

	body := `{"event":"payment.captured","payload":{}}`
	w := doJSON(t, newTestRouter(h), http.MethodPost, "/payments/webhook", body, map[string]string{
		HeaderWebhookSignature: "abc123",
		HeaderWebhookEventID:   "evt_1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if string(pay.lastBody) != body {
		t.Fatalf("raw body altered before ingestion: %q", pay.lastBody)
	}
	if pay.lastSignature != "abc123" || pay.lastEventID != "evt_1" {
		t.Fatalf("headers not forwarded: %q %q", pay.lastSignature, pay.lastEventID)
	}

	var resp map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" || resp["outcome"] != domain.WebhookOutcomeProcessed {
		t.Fatalf("unexpected ack body: %v", resp)
	}
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	pay := &fakePaySvc{ingestErr: services.ErrInvalidSignature}
	h := New(&fakeSessionSvc{}, &fakeChatSvc{}, pay, &fakeWalletSvc{}, Options{})

	w := doJSON(t, newTestRouter(h), http.MethodPost, "/payments/webhook", `{}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if errCode(t, w) != ErrCodeInvalidSignature {
		t.Fatalf("code %q", errCode(t, w))
	}
}

func TestHandleWebhook_MissingEventID(t *testing.T) {
	pay := &fakePaySvc{ingestErr: services.ErrMissingEventID}
	h := New(&fakeSessionSvc{}, &fakeChatSvc{}, pay, &fakeWalletSvc{}, Options{})

	w := doJSON(t, newTestRouter(h), http.MethodPost, "/payments/webhook", `{}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleWebhook_InternalFailureStillAcked(t *testing.T) {
	pay := &fakePaySvc{ingestErr: errors.New("database is locked")}
	h := New(&fakeSessionSvc{}, &fakeChatSvc{}, pay, &fakeWalletSvc{}, Options{})

	w := doJSON(t, newTestRouter(h), http.MethodPost, "/payments/webhook", `{}`, map[string]string{
		HeaderWebhookEventID: "evt_retry",
	})
	// The gateway retries any non-2xx; an internal failure must not leak one.
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Fatalf("unexpected ack body: %v", resp)
	}
	if _, hasOutcome := resp["outcome"]; hasOutcome {
		t.Fatalf("failed processing must not report an outcome: %v", resp)
	}
}

func TestHandleWebhook_DuplicateFlagged(t *testing.T) {
	pay := &fakePaySvc{ingestRes: &services.IngestResult{Outcome: domain.WebhookOutcomeProcessed, Duplicate: true}}
	h := New(&fakeSessionSvc{}, &fakeChatSvc{}, pay, &fakeWalletSvc{}, Options{})

	w := doJSON(t, newTestRouter(h), http.MethodPost, "/payments/webhook", `{}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("duplicate delivery not flagged")
	}
}
