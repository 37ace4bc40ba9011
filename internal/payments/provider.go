package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
// Notification reconciliation maps these onto order outcomes; values outside
// this set normalise to StatusUnknown and are acknowledged without effect.
type Status string

const (
	// StatusApproved indicates the provider captured the payment.
	StatusApproved Status = "approved"
	// StatusRejected indicates the provider declined the payment.
	StatusRejected Status = "rejected"
	// StatusCancelled indicates the payment attempt was abandoned or voided.
	StatusCancelled Status = "cancelled"
	// StatusPending indicates the payment is awaiting customer action.
	StatusPending Status = "pending"
	// StatusInProcess indicates the provider is still settling the payment.
	StatusInProcess Status = "in_process"
	// StatusUnknown covers provider states with no lifecycle meaning here.
	StatusUnknown Status = "unknown"
)

// NormalizeStatus folds a raw provider status string into the shared vocabulary.
func NormalizeStatus(raw string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusApproved:
		return StatusApproved
	case StatusRejected:
		return StatusRejected
	case StatusCancelled:
		return StatusCancelled
	case StatusPending:
		return StatusPending
	case StatusInProcess:
		return StatusInProcess
	default:
		return StatusUnknown
	}
}

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// PreferenceLineItem describes a single line item to include in a payment preference.
type PreferenceLineItem struct {
	Name        string
	Description string
	SKU         string
	Quantity    int64
	UnitAmount  int64
	Currency    string
}

// BackURLs are the redirect targets the customer returns to after checkout.
type BackURLs struct {
	Success string
	Pending string
	Failure string
}

// PreferenceRequest captures the payload required to create a payment preference.
// ExternalReference carries the order id and is echoed back on notifications.
type PreferenceRequest struct {
	ExternalReference   string
	Amount              int64
	Currency            string
	PayerEmail          string
	Items               []PreferenceLineItem
	BackURLs            BackURLs
	StatementDescriptor string
	Metadata            map[string]string
	IdempotencyKey      string
}

// Preference represents the provider-side checkout handle returned to the client.
type Preference struct {
	ID                string
	Provider          string
	InitPoint         string
	ExternalReference string
	ExpiresAt         time.Time
	Raw               map[string]any
}

// PaymentDetails normalises provider specific payment fields for reconciliation.
type PaymentDetails struct {
	Provider          string
	PaymentID         string
	ExternalReference string
	Status            Status
	RawStatus         string
	Amount            int64
	Currency          string
	Raw               map[string]any
}

// WebhookEvent is a provider notification decoded into the shared vocabulary.
type WebhookEvent struct {
	Provider          string
	EventID           string
	PaymentID         string
	ExternalReference string
	Status            Status
	RawStatus         string
	ReceivedAt        time.Time
}

// Provider defines the contract for payment provider adapters to implement.
type Provider interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error)
	LookupPayment(ctx context.Context, paymentID string) (PaymentDetails, error)
	ParseWebhook(payload []byte, signatureHeader string) (WebhookEvent, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
	Metadata          map[string]string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Resolve exposes provider lookup for callers that need direct access, such as
// webhook handlers dispatching on the provider path segment.
func (m *Manager) Resolve(paymentCtx PaymentContext) (string, Provider, error) {
	return m.resolveProvider(paymentCtx)
}

// CreatePreference delegates to the resolved provider.
func (m *Manager) CreatePreference(ctx context.Context, paymentCtx PaymentContext, req PreferenceRequest) (Preference, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Preference{}, err
	}
	pref, err := provider.CreatePreference(ctx, req)
	if err != nil {
		return Preference{}, err
	}
	pref.Provider = key
	return pref, nil
}

// LookupPayment delegates to the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, paymentCtx PaymentContext, paymentID string) (PaymentDetails, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.LookupPayment(ctx, paymentID)
	if err != nil {
		return PaymentDetails{}, err
	}
	if details.Provider == "" {
		details.Provider = key
	}
	return details, nil
}
