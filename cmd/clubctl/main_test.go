package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/supperclub/clubdesk/internal/app"
	"github.com/supperclub/clubdesk/internal/auth"
	"github.com/supperclub/clubdesk/internal/config"
)

const secret = "clubctl-test-secret-0001"

func writeConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Booking.Timezone = "UTC"
	cfg.Auth.JWTSecret = secret
	cfg.Attachments.Dir = t.TempDir()
	cfg.Reminders.Enabled = false
	path := filepath.Join(t.TempDir(), "clubdesk.yaml")
	if err := config.Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path, cfg
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenVerifies(t *testing.T) {
	path, cfg := writeConfig(t)
	out, err := execute(t, "token", "--config", path, "--subject", "host@clubdesk.test", "--role", "admin")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	m := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	claims, err := m.Verify(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "host@clubdesk.test" || !claims.HasRole(auth.RoleAdmin) {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenRejectsUnknownRole(t *testing.T) {
	path, _ := writeConfig(t)
	if _, err := execute(t, "token", "--config", path, "--subject", "x", "--role", "root"); err == nil {
		t.Fatal("expected an error for an unknown role")
	}
}

func TestStateExportImport(t *testing.T) {
	path, cfg := writeConfig(t)
	a, err := app.New(context.Background(), cfg, app.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer a.Close()
	srv := httptest.NewServer(a.Server)
	defer srv.Close()

	seed := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(seed, []byte(`{"tables":{"tbl_000001":{"id":"tbl_000001","name":"Window","seats":2,"active":true}}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "state", "import", seed, "--server", srv.URL, "--config", path); err != nil {
		t.Fatalf("import: %v", err)
	}

	dump := filepath.Join(t.TempDir(), "dump.json")
	if _, err := execute(t, "state", "export", "-o", dump, "--server", srv.URL, "--config", path); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(dump)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"Window"`) {
		t.Errorf("export missing imported table: %s", data)
	}

	out, err := execute(t, "health", "--server", srv.URL)
	if err != nil || !strings.Contains(out, "ok") {
		t.Errorf("health = %q, %v", out, err)
	}
	if _, err := execute(t, "reset", "--server", srv.URL, "--config", path); err == nil {
		t.Error("expected reset without --yes to fail")
	}
}

func TestCheckRunsScenarios(t *testing.T) {
	path, cfg := writeConfig(t)
	cfg.Server.EnableReset = true
	a, err := app.New(context.Background(), cfg, app.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer a.Close()
	srv := httptest.NewServer(a.Server)
	defer srv.Close()

	dir := t.TempDir()
	pass := `
name: tables
setup:
  reset: true
steps:
  - name: create table
    request:
      method: POST
      path: /api/tables
      body: {name: Window, seats: 2, active: true}
    assert:
      status: 201
  - name: anonymous caller is rejected
    as: public
    request:
      method: GET
      path: /api/tables
    assert:
      status: 401
`
	if err := os.WriteFile(filepath.Join(dir, "tables.yaml"), []byte(pass), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "check", dir, "--server", srv.URL, "--config", path)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	if !strings.Contains(out, "PASS tables") {
		t.Errorf("output = %q", out)
	}

	fail := `
name: wrong
steps:
  - name: expects a missing route
    request:
      method: GET
      path: /api/tables
    assert:
      status: 404
`
	if err := os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(fail), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "check", dir, "--server", srv.URL, "--config", path)
	if err == nil {
		t.Fatal("expected check to fail")
	}
	if !strings.Contains(out, "FAIL wrong") {
		t.Errorf("output = %q", out)
	}
}
