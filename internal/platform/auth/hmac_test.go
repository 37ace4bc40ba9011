package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type staticSecrets map[string]string

func (s staticSecrets) GetSecret(_ context.Context, name string) (string, error) {
	if value, ok := s[name]; ok {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not found", name)
}

func signWebhookRequest(req *http.Request, body []byte, secret, timestamp, nonce string) {
	signature := computeHMAC([]byte(secret), buildCanonicalString(req, body, timestamp, nonce))
	req.Header.Set(defaultSignatureHeader, base64.StdEncoding.EncodeToString(signature))
	req.Header.Set(defaultTimestampHeader, timestamp)
	req.Header.Set(defaultNonceHeader, nonce)
}

func TestRequireHMACAcceptsSignedWebhook(t *testing.T) {
	const secretName = "webhooks/stripe"
	const secretValue = "whsec_test"

	now := time.Now().UTC().Truncate(time.Second)
	metrics := &metricsCapture{}
	validator := NewHMACValidator(staticSecrets{secretName: secretValue}, NewInMemoryNonceStore(),
		WithHMACLogger(quietLogger{}),
		WithHMACClock(func() time.Time { return now }),
		WithHMACMetrics(metrics),
	)

	body := []byte(`{"type":"checkout.session.completed"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewReader(body))
	signWebhookRequest(req, body, secretValue, now.Format(time.RFC3339), "n-0001")

	rr := httptest.NewRecorder()
	validator.RequireHMAC(secretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, ok := HMACMetadataFromContext(r.Context())
		if !ok {
			t.Fatal("hmac metadata missing from context")
		}
		if meta.SecretName != secretName {
			t.Fatalf("metadata secret = %q, want %q", meta.SecretName, secretName)
		}
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}
	if event := metrics.last(t); !event.success {
		t.Fatalf("metric event = %+v, want success", event)
	}
}

func TestRequireHMACRejectsNonceReplay(t *testing.T) {
	const secretName = "webhooks/stripe"
	const secretValue = "whsec_replay"

	now := time.Now().UTC().Truncate(time.Second)
	validator := NewHMACValidator(staticSecrets{secretName: secretValue}, NewInMemoryNonceStore(),
		WithHMACLogger(quietLogger{}),
		WithHMACClock(func() time.Time { return now }),
	)

	body := []byte(`{"type":"payment_intent.succeeded"}`)
	timestamp := now.Format(time.RFC3339)

	newSigned := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewReader(body))
		signWebhookRequest(req, body, secretValue, timestamp, "n-replay")
		return req
	}

	handler := validator.RequireHMAC(secretName)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newSigned())
	if first.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d, want 200", first.Code)
	}

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, newSigned())
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", replay.Code)
	}
}

func TestRequireHMACRejectsTamperedBody(t *testing.T) {
	const secretName = "webhooks/shipping"
	const secretValue = "ship_secret"

	now := time.Now().UTC().Truncate(time.Second)
	validator := NewHMACValidator(staticSecrets{secretName: secretValue}, NewInMemoryNonceStore(),
		WithHMACLogger(quietLogger{}),
		WithHMACClock(func() time.Time { return now }),
	)

	signedBody := []byte(`{"shipment":"in_transit"}`)
	timestamp := now.Format(time.RFC3339)
	nonce := "n-ship"

	// Sign one body, deliver another.
	signedReq := httptest.NewRequest(http.MethodPost, "/v1/webhooks/shipping", bytes.NewReader(signedBody))
	signature := computeHMAC([]byte(secretValue), buildCanonicalString(signedReq, signedBody, timestamp, nonce))

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/shipping", bytes.NewReader([]byte(`{"shipment":"delivered"}`)))
	req.Header.Set(defaultSignatureHeader, base64.StdEncoding.EncodeToString(signature))
	req.Header.Set(defaultTimestampHeader, timestamp)
	req.Header.Set(defaultNonceHeader, nonce)

	rr := httptest.NewRecorder()
	validator.RequireHMAC(secretName)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run on signature mismatch")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestRequireHMACRejectsStaleTimestamp(t *testing.T) {
	const secretName = "webhooks/shipping"
	const secretValue = "ship_secret"

	now := time.Now().UTC().Truncate(time.Second)
	validator := NewHMACValidator(staticSecrets{secretName: secretValue}, NewInMemoryNonceStore(),
		WithHMACLogger(quietLogger{}),
		WithHMACClock(func() time.Time { return now }),
	)

	body := []byte(`{"shipment":"delivered"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/shipping", bytes.NewReader(body))
	signWebhookRequest(req, body, secretValue, now.Add(-10*time.Minute).Format(time.RFC3339), "n-stale")

	rr := httptest.NewRecorder()
	validator.RequireHMAC(secretName)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run with a stale timestamp")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestRequireHMACFailsClosedWithoutSecret(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	validator := NewHMACValidator(
		SecretProviderFunc(func(context.Context, string) (string, error) {
			return "", fmt.Errorf("secret manager unreachable")
		}),
		NewInMemoryNonceStore(),
		WithHMACLogger(quietLogger{}),
		WithHMACClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	validator.RequireHMAC("webhooks/missing")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run when the secret cannot be resolved")
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewReader(nil)))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestRequireHMACResolverRouting(t *testing.T) {
	const secretName = "webhooks/stripe"
	const secretValue = "whsec_resolver"

	now := time.Now().UTC().Truncate(time.Second)
	validator := NewHMACValidator(staticSecrets{secretName: secretValue}, NewInMemoryNonceStore(),
		WithHMACLogger(quietLogger{}),
		WithHMACClock(func() time.Time { return now }),
	)

	body := []byte(`{"type":"charge.refunded"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewReader(body))
	signWebhookRequest(req, body, secretValue, now.Format(time.RFC3339), "n-resolver")

	rr := httptest.NewRecorder()
	validator.RequireHMACResolver(func(*http.Request) (string, bool) {
		return secretName, true
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("resolved provider status = %d, want 200", rr.Code)
	}

	unknown := httptest.NewRecorder()
	validator.RequireHMACResolver(func(*http.Request) (string, bool) {
		return "", false
	})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run for an unknown provider")
	})).ServeHTTP(unknown, httptest.NewRequest(http.MethodPost, "/v1/webhooks/unknown", nil))

	if unknown.Code != http.StatusUnauthorized {
		t.Fatalf("unknown provider status = %d, want 401", unknown.Code)
	}
}
