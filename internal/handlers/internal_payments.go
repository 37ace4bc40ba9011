package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/alma-estilo/api/internal/domain"
	"github.com/alma-estilo/api/internal/payments"
	"github.com/alma-estilo/api/internal/platform/httpx"
	"github.com/alma-estilo/api/internal/services"
)

const maxInternalBodySize = 16 * 1024

type reconcilePaymentRequest struct {
	Provider  string `json:"provider"`
	PaymentID string `json:"payment_id"`
}

// InternalPaymentHandlers exposes server-to-server reconciliation endpoints
// used by scheduled sweeps to re-pull payment state from the provider.
type InternalPaymentHandlers struct {
	manager *payments.Manager
	orders  services.OrderService
	clock   func() time.Time
}

// NewInternalPaymentHandlers constructs the internal payment handlers.
func NewInternalPaymentHandlers(manager *payments.Manager, orders services.OrderService) *InternalPaymentHandlers {
	return &InternalPaymentHandlers{
		manager: manager,
		orders:  orders,
		clock:   time.Now,
	}
}

// Routes registers the /internal payment endpoints.
func (h *InternalPaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/reconcile", h.reconcile)
}

func (h *InternalPaymentHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.manager == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("reconcile_unavailable", "reconciliation unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxInternalBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req reconcilePaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment_id is required", http.StatusBadRequest))
		return
	}

	details, err := h.manager.LookupPayment(ctx, payments.PaymentContext{
		PreferredProvider: strings.TrimSpace(req.Provider),
	}, paymentID)
	switch {
	case err == nil:
	case errors.Is(err, payments.ErrUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_provider", "unknown payment provider", http.StatusNotFound))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_provider_error", "payment lookup failed", http.StatusBadGateway))
		return
	}

	result, err := h.orders.ReconcileNotification(ctx, domain.PaymentNotification{
		ProviderPaymentID: details.PaymentID,
		ExternalReference: details.ExternalReference,
		Status:            string(details.Status),
		Provider:          details.Provider,
		ReceivedAt:        h.clock().UTC(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	status := "acknowledged"
	if result.Transitioned {
		status = "applied"
	}

	writeJSONResponse(w, http.StatusOK, webhookResponse{
		Status:      status,
		OrderStatus: strings.TrimSpace(string(result.Order.Status)),
	})
}
