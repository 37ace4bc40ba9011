package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alma-estilo/api/internal/services"
)

type stubSystemService struct {
	readyFunc func(ctx context.Context) error
}

func (s *stubSystemService) Ready(ctx context.Context) error {
	if s.readyFunc == nil {
		return nil
	}
	return s.readyFunc(ctx)
}

func TestHealthzReportsBuildInfo(t *testing.T) {
	started := time.Date(2026, 8, 28, 7, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Minute)

	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.4.0",
			CommitSHA:   "abc1234",
			Environment: "production",
			StartedAt:   started,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["status"] != "ok" || payload["version"] != "1.4.0" || payload["environment"] != "production" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload["uptime"] != "1h30m0s" {
		t.Fatalf("unexpected uptime %v", payload["uptime"])
	}
}

func TestReadyzWithoutSystemService(t *testing.T) {
	h := NewHealthHandlers()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReadyzDegraded(t *testing.T) {
	h := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{
			readyFunc: func(ctx context.Context) error {
				return errors.New("firestore unreachable")
			},
		}),
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["status"] != "degraded" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestReadyzHealthy(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{}))

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
