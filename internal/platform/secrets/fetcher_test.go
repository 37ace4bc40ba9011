package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type scriptedSecretManager struct {
	mu       sync.Mutex
	payloads map[string]string
	failures map[string]error
	accesses map[string]int
}

func newScriptedSecretManager() *scriptedSecretManager {
	return &scriptedSecretManager{
		payloads: make(map[string]string),
		failures: make(map[string]error),
		accesses: make(map[string]int),
	}
}

func (s *scriptedSecretManager) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := req.GetName()
	s.accesses[name]++

	if err, ok := s.failures[name]; ok && err != nil {
		return nil, err
	}
	if payload, ok := s.payloads[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(payload)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (s *scriptedSecretManager) Close() error { return nil }

func (s *scriptedSecretManager) accessCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accesses[name]
}

func writeFallbackFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}
	return path
}

const stripeKeyResource = "projects/alma-estilo/secrets/stripe_api_key/versions/latest"

func TestResolveFetchesOnceThenServesCache(t *testing.T) {
	ctx := context.Background()

	manager := newScriptedSecretManager()
	manager.payloads[stripeKeyResource] = "sk_live_abc"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(manager),
		WithDefaultProject("alma-estilo"),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://stripe_api_key")
		if err != nil {
			t.Fatalf("Resolve call %d: %v", i+1, err)
		}
		if got != "sk_live_abc" {
			t.Fatalf("Resolve call %d = %q", i+1, got)
		}
	}

	if n := manager.accessCount(stripeKeyResource); n != 1 {
		t.Fatalf("remote accesses = %d, want 1", n)
	}
}

func TestResolveFallsBackWhenAccessDenied(t *testing.T) {
	ctx := context.Background()

	manager := newScriptedSecretManager()
	manager.failures[stripeKeyResource] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(manager),
		WithDefaultProject("alma-estilo"),
		WithFallbackFile(writeFallbackFile(t, "secret://stripe_api_key=sk_test_local\n")),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://stripe_api_key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "sk_test_local" {
		t.Fatalf("Resolve = %q, want fallback value", got)
	}
}

func TestResolveDoesNotMaskMissingSecret(t *testing.T) {
	ctx := context.Background()

	manager := newScriptedSecretManager()
	manager.failures[stripeKeyResource] = status.Error(codes.NotFound, "missing")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(manager),
		WithDefaultProject("alma-estilo"),
		WithFallbackFile(writeFallbackFile(t, "secret://stripe_api_key=sk_test_local\n")),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	if _, err := fetcher.Resolve(ctx, "secret://stripe_api_key"); err == nil {
		t.Fatal("Resolve succeeded for a missing secret")
	}
}

func TestInvalidateWakesSubscribers(t *testing.T) {
	ctx := context.Background()

	manager := newScriptedSecretManager()
	manager.payloads[stripeKeyResource] = "sk_live_abc"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(manager),
		WithDefaultProject("alma-estilo"),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	if _, err := fetcher.Resolve(ctx, "secret://stripe_api_key"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	ch, cancel := fetcher.Subscribe("secret://stripe_api_key")
	defer cancel()

	fetcher.Invalidate("secret://stripe_api_key")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no notification after Invalidate")
	}
}

func TestResolveHonoursVersionPin(t *testing.T) {
	ctx := context.Background()

	const pinnedResource = "projects/alma-estilo/secrets/stripe_api_key/versions/7"
	manager := newScriptedSecretManager()
	manager.payloads[pinnedResource] = "sk_live_v7"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(manager),
		WithDefaultProject("alma-estilo"),
		WithVersionPins(map[string]string{"secret://stripe_api_key": "7"}),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://stripe_api_key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "sk_live_v7" {
		t.Fatalf("Resolve = %q, want pinned version payload", got)
	}
	if n := manager.accessCount(pinnedResource); n != 1 {
		t.Fatalf("pinned resource accesses = %d, want 1", n)
	}
}

func TestNewFetcherSurvivesMissingCredentials(t *testing.T) {
	ctx := context.Background()

	savedFactory := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("could not find default credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = savedFactory })

	fetcher, err := NewFetcher(ctx,
		WithFallbackFile(writeFallbackFile(t, "secret://stripe_api_key=sk_test_local\n")),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://stripe_api_key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "sk_test_local" {
		t.Fatalf("Resolve = %q, want fallback value", got)
	}
}
