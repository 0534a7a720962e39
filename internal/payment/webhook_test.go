package payment

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
)

func newWebhookFixture(t *testing.T) (*orchFixture, Webhook, Mpesa) {
	t.Helper()
	f := newOrchestrator(t)
	mpesa := Mpesa{WebhookSecret: "secret", ShortCode: "174379"}
	f.orch.Clients["mpesa"] = mpesa

	mr := miniredis.RunT(t)
	replay := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = replay.Close() })

	return f, Webhook{Orchestrator: f.orch, Replay: replay, ReplayTTL: time.Minute}, mpesa
}

func postWebhook(t *testing.T, h Webhook, gateway string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest("POST", "/webhooks/"+gateway, strings.NewReader(string(body)))
	if signature != "" {
		r.Header.Set("X-Callback-Signature", signature)
	}
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("gateway", gateway)
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()
	h.Handle(w, r)
	return w
}

// amount is in whole shillings, the denomination Daraja reports.
func mpesaCallbackBody(reference string, resultCode int, amount int64) []byte {
	return []byte(fmt.Sprintf(
		`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":%d,"AccountReference":"%s","CallbackMetadata":{"Item":[{"Name":"Amount","Value":%d}]}}}}`,
		resultCode, reference, amount))
}

func TestWebhookHandlerSettlesPayment(t *testing.T) {
	f, h, mpesa := newWebhookFixture(t)
	o := f.seedOrder(t, 268_800)
	out, err := f.orch.Initiate(context.Background(), InitiateCommand{
		OrderID: o.ID, Method: MethodMobileMoney, Country: "KE", CustomerPhone: "+254712345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	body := mpesaCallbackBody(out.Transaction.Reference, 0, 2_688)
	w := postWebhook(t, h, "mpesa", body, signSHA256(mpesa.WebhookSecret, body))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	tx, _ := f.store.GetByReference(context.Background(), out.Transaction.Reference)
	if tx.Status != TxSuccess {
		t.Fatalf("expected settled transaction, got %s", tx.Status)
	}
}

func TestWebhookHandlerRejectsForgedSignature(t *testing.T) {
	f, h, _ := newWebhookFixture(t)
	o := f.seedOrder(t, 268_800)
	out, err := f.orch.Initiate(context.Background(), InitiateCommand{
		OrderID: o.ID, Method: MethodMobileMoney, Country: "KE", CustomerPhone: "+254712345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	body := mpesaCallbackBody(out.Transaction.Reference, 0, 2_688)
	w := postWebhook(t, h, "mpesa", body, "forged")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	tx, _ := f.store.GetByReference(context.Background(), out.Transaction.Reference)
	if tx.Status != TxPending {
		t.Fatalf("transaction must be untouched, got %s", tx.Status)
	}
}

func TestWebhookHandlerDeduplicatesReplays(t *testing.T) {
	f, h, mpesa := newWebhookFixture(t)
	o := f.seedOrder(t, 268_800)
	out, err := f.orch.Initiate(context.Background(), InitiateCommand{
		OrderID: o.ID, Method: MethodMobileMoney, Country: "KE", CustomerPhone: "+254712345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	body := mpesaCallbackBody(out.Transaction.Reference, 0, 2_688)
	sig := signSHA256(mpesa.WebhookSecret, body)
	if w := postWebhook(t, h, "mpesa", body, sig); w.Code != http.StatusNoContent {
		t.Fatalf("first delivery: expected 204, got %d", w.Code)
	}
	if w := postWebhook(t, h, "mpesa", body, sig); w.Code != http.StatusNoContent {
		t.Fatalf("replay must be acknowledged, got %d", w.Code)
	}
	if f.orders.paidCalls != 1 {
		t.Fatalf("settlement must run exactly once, ran %d times", f.orders.paidCalls)
	}
}

func TestWebhookHandlerUnknownGateway(t *testing.T) {
	_, h, _ := newWebhookFixture(t)
	w := postWebhook(t, h, "stripe", []byte(`{}`), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
