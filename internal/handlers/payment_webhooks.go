package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/alma-estilo/api/internal/domain"
	"github.com/alma-estilo/api/internal/payments"
	"github.com/alma-estilo/api/internal/platform/httpx"
	"github.com/alma-estilo/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

var defaultSignatureHeaders = map[string]string{
	"stripe": "Stripe-Signature",
}

// PaymentWebhookHandlers receives asynchronous payment notifications and
// feeds them into order reconciliation.
type PaymentWebhookHandlers struct {
	manager          *payments.Manager
	orders           services.OrderService
	logger           *zap.Logger
	signatureHeaders map[string]string
	limiter          rateLimiter
}

// PaymentWebhookOption customises webhook handler construction.
type PaymentWebhookOption func(*PaymentWebhookHandlers)

// WithWebhookSignatureHeader overrides the signature header consulted for a provider.
func WithWebhookSignatureHeader(provider, header string) PaymentWebhookOption {
	return func(h *PaymentWebhookHandlers) {
		provider = strings.ToLower(strings.TrimSpace(provider))
		header = strings.TrimSpace(header)
		if provider == "" || header == "" {
			return
		}
		h.signatureHeaders[provider] = header
	}
}

// WithWebhookRateLimit throttles webhook deliveries per provider and source address.
func WithWebhookRateLimit(limit int, window time.Duration) PaymentWebhookOption {
	return func(h *PaymentWebhookHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewPaymentWebhookHandlers constructs the webhook handlers.
func NewPaymentWebhookHandlers(manager *payments.Manager, orders services.OrderService, logger *zap.Logger, opts ...PaymentWebhookOption) *PaymentWebhookHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	headers := make(map[string]string, len(defaultSignatureHeaders))
	for k, v := range defaultSignatureHeaders {
		headers[k] = v
	}
	h := &PaymentWebhookHandlers{
		manager:          manager,
		orders:           orders,
		logger:           logger,
		signatureHeaders: headers,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.receive)
}

func (h *PaymentWebhookHandlers) receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.manager == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	providerKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if providerKey == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "provider is required", http.StatusBadRequest))
		return
	}

	resolvedKey, provider, err := h.manager.Resolve(payments.PaymentContext{PreferredProvider: providerKey})
	if err != nil || resolvedKey != providerKey {
		httpx.WriteError(ctx, w, httpx.NewError("unknown_provider", "unknown payment provider", http.StatusNotFound))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(providerKey+"|"+r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many webhook deliveries", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	signature := ""
	if header, ok := h.signatureHeaders[providerKey]; ok {
		signature = r.Header.Get(header)
	}

	event, err := provider.ParseWebhook(body, signature)
	if err != nil {
		h.logger.Warn("webhook rejected",
			zap.String("provider", providerKey),
			zap.Error(err),
		)
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook verification failed", http.StatusBadRequest))
		return
	}

	notification := domain.PaymentNotification{
		ProviderPaymentID: event.PaymentID,
		ExternalReference: event.ExternalReference,
		Status:            string(event.Status),
		Provider:          providerKey,
		EventID:           event.EventID,
		ReceivedAt:        event.ReceivedAt,
	}

	result, err := h.orders.ReconcileNotification(ctx, notification)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrOrderNotFound):
		// The reference points at an order we do not know, typically a stale
		// or foreign delivery. A 4xx would make the provider retry forever,
		// so acknowledge and log.
		h.logger.Warn("webhook ignored: unknown order reference",
			zap.String("provider", providerKey),
			zap.String("eventId", event.EventID),
			zap.String("orderId", event.ExternalReference),
			zap.String("status", string(event.Status)),
		)
		writeJSONResponse(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	case errors.Is(err, services.ErrOrderInvalidTransition):
		// The provider disagrees with our terminal state. Retrying the
		// delivery cannot change the outcome, so acknowledge and log.
		h.logger.Warn("webhook ignored: conflicting terminal status",
			zap.String("provider", providerKey),
			zap.String("eventId", event.EventID),
			zap.String("orderId", event.ExternalReference),
			zap.String("status", string(event.Status)),
		)
		writeJSONResponse(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	default:
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

type webhookResponse struct {
	Status      string `json:"status"`
	OrderStatus string `json:"order_status,omitempty"`
}
