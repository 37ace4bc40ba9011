package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp  string
	pref    Preference
	payment PaymentDetails
	event   WebhookEvent
	err     error
}

func (f *fakeProvider) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	f.lastOp = "preference"
	return f.pref, f.err
}

func (f *fakeProvider) LookupPayment(ctx context.Context, paymentID string) (PaymentDetails, error) {
	f.lastOp = "lookup"
	return f.payment, f.err
}

func (f *fakeProvider) ParseWebhook(payload []byte, signatureHeader string) (WebhookEvent, error) {
	f.lastOp = "webhook"
	return f.event, f.err
}

func TestManagerCreatePreferenceUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{pref: Preference{ID: "pref_stripe"}}
	paypal := &fakeProvider{pref: Preference{ID: "pref_paypal"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"paypal": paypal,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	pref, err := mgr.CreatePreference(ctx, PaymentContext{PreferredProvider: "paypal"}, PreferenceRequest{Currency: "USD"})
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}

	if pref.Provider != "paypal" {
		t.Fatalf("expected provider 'paypal', got %q", pref.Provider)
	}
	if paypal.lastOp != "preference" {
		t.Fatalf("expected paypal provider to handle call")
	}
	if stripe.lastOp != "" {
		t.Fatalf("expected stripe provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{pref: Preference{ID: "pref_stripe"}}
	paypal := &fakeProvider{pref: Preference{ID: "pref_paypal"}}

	mgr, err := NewManager(
		map[string]Provider{
			"stripe": stripe,
			"paypal": paypal,
		},
		WithCurrencyRoutes(map[string]string{"JPY": "paypal"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	pref, err := mgr.CreatePreference(ctx, PaymentContext{Currency: "JPY"}, PreferenceRequest{Currency: "JPY"})
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}
	if pref.Provider != "paypal" {
		t.Fatalf("expected provider 'paypal', got %q", pref.Provider)
	}
	if paypal.lastOp != "preference" {
		t.Fatalf("expected paypal provider to handle call")
	}
}

func TestManagerFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{payment: PaymentDetails{PaymentID: "pi_123"}}

	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.LookupPayment(ctx, PaymentContext{}, "pi_123")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stripe.lastOp != "lookup" {
		t.Fatalf("expected lookup to invoke default provider")
	}
	if details.Provider != "stripe" {
		t.Fatalf("expected provider filled by manager, got %q", details.Provider)
	}
}

func TestManagerResolveExactKey(t *testing.T) {
	stripe := &fakeProvider{}
	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	key, provider, err := mgr.Resolve(PaymentContext{PreferredProvider: "STRIPE"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "stripe" || provider != stripe {
		t.Fatalf("unexpected resolution %q", key)
	}

	// An unregistered preferred key falls back to the default provider.
	key, _, err = mgr.Resolve(PaymentContext{PreferredProvider: "paypal"})
	if err != nil {
		t.Fatalf("resolve fallback: %v", err)
	}
	if key != "stripe" {
		t.Fatalf("expected fallback to stripe, got %q", key)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}, "paypal": &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.CreatePreference(ctx, PaymentContext{PreferredProvider: "unknown"}, PreferenceRequest{Currency: "USD"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]Status{
		"approved":     StatusApproved,
		" Approved ":   StatusApproved,
		"REJECTED":     StatusRejected,
		"cancelled":    StatusCancelled,
		"pending":      StatusPending,
		"in_process":   StatusInProcess,
		"charged_back": StatusUnknown,
		"":             StatusUnknown,
	}
	for raw, want := range cases {
		if got := NormalizeStatus(raw); got != want {
			t.Fatalf("NormalizeStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}
