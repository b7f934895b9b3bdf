package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/supperclub/clubdesk/internal/config"
	"github.com/supperclub/clubdesk/internal/payments"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Booking.Timezone = "UTC"
	cfg.Auth.JWTSecret = "clubdesk-test-secret-0001"
	cfg.Attachments.Dir = t.TempDir()
	cfg.Reminders.Enabled = false
	return cfg
}

func quiet() Options {
	return Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestNewServesHealth(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), quiet())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	rec := httptest.NewRecorder()
	a.Server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

func TestNewWithSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = config.Storage{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "clubdesk.db")}
	a, err := New(context.Background(), cfg, quiet())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, err := a.Services.Booking.Tables(context.Background()); err != nil {
		t.Errorf("Tables: %v", err)
	}
}

func TestNewRejectsBadBookingHours(t *testing.T) {
	cfg := testConfig(t)
	cfg.Booking.Opens = "late"
	if _, err := New(context.Background(), cfg, quiet()); err == nil {
		t.Fatal("expected an error for unparseable opening time")
	}
}

func TestCardsDisabledWithoutProcessor(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), quiet())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, err := a.Services.Members.SetupCard(context.Background(), "mem_000001"); !errors.Is(err, payments.ErrNotConfigured) {
		t.Errorf("SetupCard error = %v, want ErrNotConfigured", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = 0
	cfg.Reminders.Enabled = true
	a, err := New(context.Background(), cfg, quiet())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}
