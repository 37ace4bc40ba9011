package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubHealthRepository struct {
	pingFunc func(ctx context.Context) error
}

func (s *stubHealthRepository) Ping(ctx context.Context) error {
	if s.pingFunc == nil {
		return nil
	}
	return s.pingFunc(ctx)
}

func TestSystemServiceRequiresHealthRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected constructor error without health repository")
	}
}

func TestSystemServiceReady(t *testing.T) {
	pingErr := errors.New("firestore unreachable")
	calls := 0
	repo := &stubHealthRepository{
		pingFunc: func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return nil
			}
			return pingErr
		},
	}

	service, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := service.Ready(context.Background()); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}
	if err := service.Ready(context.Background()); !errors.Is(err, pingErr) {
		t.Fatalf("expected ping error surfaced, got %v", err)
	}
}
