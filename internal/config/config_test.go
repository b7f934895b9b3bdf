package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef-test"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromYAML(t *testing.T) {
	path := writeFile(t, "clubdesk.yaml", `
server:
  port: 9090
  allowed_origins: ["https://club.example"]
storage:
  driver: sqlite
  path: /tmp/clubdesk.db
booking:
  timezone: UTC
  opens: "18:00"
  closes: "22:30"
  slot_minutes: 15
  seating_minutes: 120
  max_party_size: 8
  hold_per_guest_cents: 5000
auth:
  jwt_secret: `+testSecret+`
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "/tmp/clubdesk.db" {
		t.Errorf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Booking.SeatingMinutes != 120 {
		t.Errorf("seating = %d, want 120", cfg.Booking.SeatingMinutes)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Booking.Currency != "usd" {
		t.Errorf("currency = %q, want default usd", cfg.Booking.Currency)
	}
	opens, closes, err := cfg.Booking.OpenClose()
	if err != nil {
		t.Fatalf("OpenClose() error: %v", err)
	}
	if opens != 18*time.Hour || closes != 22*time.Hour+30*time.Minute {
		t.Errorf("open/close = %v/%v", opens, closes)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CLUBDESK_AUTH_JWT_SECRET", testSecret)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Booking.SlotMinutes != 15 {
		t.Errorf("slot minutes = %d, want 15", cfg.Booking.SlotMinutes)
	}
	if cfg.Booking.HoldPerGuestCents != 2500 {
		t.Errorf("hold per guest = %d, want 2500", cfg.Booking.HoldPerGuestCents)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "clubdesk.yaml", "server:\n  port: 9090\nauth:\n  jwt_secret: "+testSecret+"\n")
	t.Setenv("CLUBDESK_SERVER_PORT", "7070")
	t.Setenv("CLUBDESK_SERVER_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("CLUBDESK_REMINDERS_INTERVAL", "30s")
	t.Setenv("CLUBDESK_TWILIO_FROM", "+15550001111")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("allowed origins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Reminders.Interval != 30*time.Second {
		t.Errorf("interval = %v, want 30s", cfg.Reminders.Interval)
	}
	if cfg.Twilio.From != "+15550001111" {
		t.Errorf("twilio from = %q", cfg.Twilio.From)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "CLUBDESK_STRIPE_API_KEY=sk_test_dotenv\n")
	t.Setenv("CLUBDESK_STRIPE_API_KEY", "")
	os.Unsetenv("CLUBDESK_STRIPE_API_KEY")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error: %v", err)
	}
	if got := os.Getenv("CLUBDESK_STRIPE_API_KEY"); got != "sk_test_dotenv" {
		t.Errorf("env = %q, want value from .env", got)
	}
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("missing .env should not error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with secret", func(*Config) {}, ""},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "jwt_secret"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"sqlite without path", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.path"},
		{"closes before opens", func(c *Config) { c.Booking.Closes = "16:00" }, "after booking.opens"},
		{"bad clock", func(c *Config) { c.Booking.Opens = "5pm" }, "booking.opens"},
		{"bad timezone", func(c *Config) { c.Booking.Timezone = "Mars/Olympus" }, "booking.timezone"},
		{"zero party", func(c *Config) { c.Booking.MaxPartySize = 0 }, "max_party_size"},
		{"zero interval", func(c *Config) { c.Reminders.Interval = 0 }, "reminders.interval"},
		{"proxy cidr", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/8", "127.0.0.1"} }, ""},
		{"bad proxy", func(c *Config) { c.Server.TrustedProxies = []string{"lb.internal"} }, "trusted_proxies"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = testSecret
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "clubdesk.yaml")
	cfg := Default()
	cfg.Auth.JWTSecret = testSecret
	cfg.Webhooks.URL = "https://hooks.example/clubdesk"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Webhooks.URL != cfg.Webhooks.URL {
		t.Errorf("webhook url = %q, want %q", loaded.Webhooks.URL, cfg.Webhooks.URL)
	}
}
