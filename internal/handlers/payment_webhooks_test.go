package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/alma-estilo/api/internal/domain"
	"github.com/alma-estilo/api/internal/payments"
	"github.com/alma-estilo/api/internal/services"
)

type stubPaymentProvider struct {
	createPreferenceFunc func(ctx context.Context, req payments.PreferenceRequest) (payments.Preference, error)
	lookupPaymentFunc    func(ctx context.Context, paymentID string) (payments.PaymentDetails, error)
	parseWebhookFunc     func(payload []byte, signatureHeader string) (payments.WebhookEvent, error)
}

func (s *stubPaymentProvider) CreatePreference(ctx context.Context, req payments.PreferenceRequest) (payments.Preference, error) {
	if s.createPreferenceFunc == nil {
		return payments.Preference{}, errors.New("unexpected CreatePreference call")
	}
	return s.createPreferenceFunc(ctx, req)
}

func (s *stubPaymentProvider) LookupPayment(ctx context.Context, paymentID string) (payments.PaymentDetails, error) {
	if s.lookupPaymentFunc == nil {
		return payments.PaymentDetails{}, errors.New("unexpected LookupPayment call")
	}
	return s.lookupPaymentFunc(ctx, paymentID)
}

func (s *stubPaymentProvider) ParseWebhook(payload []byte, signatureHeader string) (payments.WebhookEvent, error) {
	if s.parseWebhookFunc == nil {
		return payments.WebhookEvent{}, errors.New("unexpected ParseWebhook call")
	}
	return s.parseWebhookFunc(payload, signatureHeader)
}

func newStripeManager(t *testing.T, provider payments.Provider) *payments.Manager {
	t.Helper()
	manager, err := payments.NewManager(map[string]payments.Provider{"stripe": provider})
	if err != nil {
		t.Fatalf("unexpected error constructing manager: %v", err)
	}
	return manager
}

func newWebhookRouter(manager *payments.Manager, orders services.OrderService, opts ...PaymentWebhookOption) http.Handler {
	h := NewPaymentWebhookHandlers(manager, orders, zap.NewNop(), opts...)
	r := chi.NewRouter()
	r.Route("/webhooks", h.Routes)
	return r
}

func approvedWebhookEvent() payments.WebhookEvent {
	return payments.WebhookEvent{
		Provider:          "stripe",
		EventID:           "evt_1",
		PaymentID:         "T1",
		ExternalReference: "ord_1",
		Status:            payments.StatusApproved,
		RawStatus:         "succeeded",
		ReceivedAt:        time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	}
}

func TestPaymentWebhookUnknownProvider(t *testing.T) {
	router := newWebhookRouter(newStripeManager(t, &stubPaymentProvider{}), &stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/paypal", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPaymentWebhookInvalidSignature(t *testing.T) {
	provider := &stubPaymentProvider{
		parseWebhookFunc: func(payload []byte, signatureHeader string) (payments.WebhookEvent, error) {
			if signatureHeader != "t=1,v1=bad" {
				t.Fatalf("expected Stripe-Signature forwarded, got %q", signatureHeader)
			}
			return payments.WebhookEvent{}, errors.New("signature mismatch")
		},
	}
	router := newWebhookRouter(newStripeManager(t, provider), &stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPaymentWebhookApproved(t *testing.T) {
	provider := &stubPaymentProvider{
		parseWebhookFunc: func(payload []byte, signatureHeader string) (payments.WebhookEvent, error) {
			return approvedWebhookEvent(), nil
		},
	}
	var captured domain.PaymentNotification
	orders := &stubOrderService{
		reconcileFunc: func(ctx context.Context, notification domain.PaymentNotification) (services.ReconcileResult, error) {
			captured = notification
			order := sampleOrder("user-1")
			order.Status = domain.OrderStatusCompleted
			order.Payment.PaymentID = notification.ProviderPaymentID
			return services.ReconcileResult{Order: order, Transitioned: true}, nil
		},
	}
	router := newWebhookRouter(newStripeManager(t, provider), orders)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{"id":"evt_1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.ProviderPaymentID != "T1" || captured.ExternalReference != "ord_1" || captured.Status != "approved" {
		t.Fatalf("unexpected notification %+v", captured)
	}
	if captured.Provider != "stripe" || captured.EventID != "evt_1" {
		t.Fatalf("unexpected notification source %+v", captured)
	}

	var resp webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "applied" || resp.OrderStatus != "completed" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPaymentWebhookReplayAcknowledged(t *testing.T) {
	provider := &stubPaymentProvider{
		parseWebhookFunc: func(payload []byte, signatureHeader string) (payments.WebhookEvent, error) {
			return approvedWebhookEvent(), nil
		},
	}
	orders := &stubOrderService{
		reconcileFunc: func(ctx context.Context, notification domain.PaymentNotification) (services.ReconcileResult, error) {
			order := sampleOrder("user-1")
			order.Status = domain.OrderStatusCompleted
			return services.ReconcileResult{Order: order}, nil
		},
	}
	router := newWebhookRouter(newStripeManager(t, provider), orders)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{"id":"evt_1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "acknowledged" {
		t.Fatalf("expected acknowledged replay, got %+v", resp)
	}
}

func TestPaymentWebhookConflictingTerminalIgnored(t *testing.T) {
	provider := &stubPaymentProvider{
		parseWebhookFunc: func(payload []byte, signatureHeader string) (payments.WebhookEvent, error) {
			event := approvedWebhookEvent()
			event.Status = payments.StatusRejected
			return event, nil
		},
	}
	orders := &stubOrderService{
		reconcileFunc: func(ctx context.Context, notification domain.PaymentNotification) (services.ReconcileResult, error) {
			return services.ReconcileResult{}, services.ErrOrderInvalidTransition
		},
	}
	router := newWebhookRouter(newStripeManager(t, provider), orders)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{"id":"evt_1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// Retries cannot change a terminal outcome, so the delivery is absorbed.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ignored" {
		t.Fatalf("expected ignored, got %+v", resp)
	}
}

func TestPaymentWebhookOrderNotFound(t *testing.T) {
	provider := &stubPaymentProvider{
		parseWebhookFunc: func(payload []byte, signatureHeader string) (payments.WebhookEvent, error) {
			return approvedWebhookEvent(), nil
		},
	}
	orders := &stubOrderService{
		reconcileFunc: func(ctx context.Context, notification domain.PaymentNotification) (services.ReconcileResult, error) {
			return services.ReconcileResult{}, services.ErrOrderNotFound
		},
	}
	router := newWebhookRouter(newStripeManager(t, provider), orders)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{"id":"evt_1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// A 4xx would keep the provider retrying a reference we will never know,
	// so the delivery is acknowledged and dropped.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ignored" {
		t.Fatalf("expected ignored, got %+v", resp)
	}
}

func TestPaymentWebhookRateLimited(t *testing.T) {
	provider := &stubPaymentProvider{
		parseWebhookFunc: func(payload []byte, signatureHeader string) (payments.WebhookEvent, error) {
			return approvedWebhookEvent(), nil
		},
	}
	orders := &stubOrderService{
		reconcileFunc: func(ctx context.Context, notification domain.PaymentNotification) (services.ReconcileResult, error) {
			return services.ReconcileResult{Order: sampleOrder("user-1")}, nil
		},
	}
	router := newWebhookRouter(newStripeManager(t, provider), orders, WithWebhookRateLimit(1, time.Minute))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{"id":"evt_1"}`))
		req.RemoteAddr = "203.0.113.9:4242"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("delivery %d: expected %d, got %d", i+1, want, rec.Code)
		}
	}
}

func TestPaymentWebhookEmptyBody(t *testing.T) {
	router := newWebhookRouter(newStripeManager(t, &stubPaymentProvider{}), &stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
