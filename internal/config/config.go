// Package config loads the clubdesk service configuration from a YAML file,
// then applies CLUBDESK_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "clubdesk.yaml"

// EnvPrefix prefixes every environment override, e.g. CLUBDESK_SERVER_PORT.
const EnvPrefix = "CLUBDESK_"

// Config is the full service configuration.
type Config struct {
	Server      Server      `yaml:"server" envPrefix:"SERVER_"`
	Storage     Storage     `yaml:"storage" envPrefix:"STORAGE_"`
	Booking     Booking     `yaml:"booking" envPrefix:"BOOKING_"`
	Stripe      Stripe      `yaml:"stripe" envPrefix:"STRIPE_"`
	Twilio      Twilio      `yaml:"twilio" envPrefix:"TWILIO_"`
	Toast       Toast       `yaml:"toast" envPrefix:"TOAST_"`
	Auth        Auth        `yaml:"auth" envPrefix:"AUTH_"`
	Attachments Attachments `yaml:"attachments" envPrefix:"ATTACHMENTS_"`
	Reminders   Reminders   `yaml:"reminders" envPrefix:"REMINDERS_"`
	Webhooks    Webhooks    `yaml:"webhooks" envPrefix:"WEBHOOKS_"`
}

// Server configures the HTTP listener and middleware.
type Server struct {
	Port           int      `yaml:"port" env:"PORT"`
	Verbose        bool     `yaml:"verbose" env:"VERBOSE"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	PublicRPS      float64  `yaml:"public_rps" env:"PUBLIC_RPS"`
	PublicBurst    int      `yaml:"public_burst" env:"PUBLIC_BURST"`
	EnableReset    bool     `yaml:"enable_reset" env:"ENABLE_RESET"`
	// TrustedProxies lists the peers (IPs or CIDRs) whose X-Forwarded-For is believed.
	TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES" envSeparator:","`
}

// Storage selects the record backend.
type Storage struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	Path   string `yaml:"path" env:"PATH"`
}

// Booking holds the service hours and hold policy.
type Booking struct {
	Timezone          string `yaml:"timezone" env:"TIMEZONE"`
	Opens             string `yaml:"opens" env:"OPENS"`   // "HH:MM"
	Closes            string `yaml:"closes" env:"CLOSES"` // "HH:MM"
	SlotMinutes       int    `yaml:"slot_minutes" env:"SLOT_MINUTES"`
	SeatingMinutes    int    `yaml:"seating_minutes" env:"SEATING_MINUTES"`
	MaxPartySize      int    `yaml:"max_party_size" env:"MAX_PARTY_SIZE"`
	WindowDays        int    `yaml:"window_days" env:"WINDOW_DAYS"`
	LeadMinutes       int    `yaml:"lead_minutes" env:"LEAD_MINUTES"`
	HoldPerGuestCents int64  `yaml:"hold_per_guest_cents" env:"HOLD_PER_GUEST_CENTS"`
	Currency          string `yaml:"currency" env:"CURRENCY"`
}

// Location resolves the booking timezone.
func (b Booking) Location() (*time.Location, error) {
	if b.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return nil, fmt.Errorf("booking.timezone: %w", err)
	}
	return loc, nil
}

// OpenClose returns the opening and closing times as offsets from midnight.
func (b Booking) OpenClose() (time.Duration, time.Duration, error) {
	opens, err := parseClock(b.Opens)
	if err != nil {
		return 0, 0, fmt.Errorf("booking.opens: %w", err)
	}
	closes, err := parseClock(b.Closes)
	if err != nil {
		return 0, 0, fmt.Errorf("booking.closes: %w", err)
	}
	if closes <= opens {
		return 0, 0, fmt.Errorf("booking.closes must be after booking.opens")
	}
	return opens, closes, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Stripe configures the payment processor client.
type Stripe struct {
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
}

// Twilio configures the SMS provider client.
type Twilio struct {
	AccountSID          string `yaml:"account_sid" env:"ACCOUNT_SID"`
	AuthToken           string `yaml:"auth_token" env:"AUTH_TOKEN"`
	From                string `yaml:"from" env:"FROM"`
	MessagingServiceSID string `yaml:"messaging_service_sid" env:"MESSAGING_SERVICE_SID"`
	BaseURL             string `yaml:"base_url" env:"BASE_URL"`
	// InboundURL is the public URL the provider posts inbound SMS to; it is
	// part of the signed payload.
	InboundURL string `yaml:"inbound_url" env:"INBOUND_URL"`
}

// Toast configures the POS client used for house-account imports.
type Toast struct {
	BaseURL        string `yaml:"base_url" env:"BASE_URL"`
	Token          string `yaml:"token" env:"TOKEN"`
	RestaurantGUID string `yaml:"restaurant_guid" env:"RESTAURANT_GUID"`
}

// Auth configures staff bearer tokens.
type Auth struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string        `yaml:"issuer" env:"ISSUER"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

// Attachments configures transaction attachment storage.
type Attachments struct {
	Dir          string   `yaml:"dir" env:"DIR"`
	MaxBytes     int64    `yaml:"max_bytes" env:"MAX_BYTES"`
	AllowedTypes []string `yaml:"allowed_types" env:"ALLOWED_TYPES" envSeparator:","`
}

// Reminders configures the background reminder worker.
type Reminders struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

// Webhooks configures outbound event notifications.
type Webhooks struct {
	URL    string `yaml:"url" env:"URL"`
	Secret string `yaml:"secret" env:"SECRET"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:        8080,
			PublicRPS:   5,
			PublicBurst: 20,
		},
		Storage: Storage{Driver: "memory"},
		Booking: Booking{
			Timezone:          "America/New_York",
			Opens:             "17:00",
			Closes:            "23:00",
			SlotMinutes:       15,
			SeatingMinutes:    90,
			MaxPartySize:      12,
			WindowDays:        60,
			LeadMinutes:       30,
			HoldPerGuestCents: 2500,
			Currency:          "usd",
		},
		Stripe: Stripe{BaseURL: "https://api.stripe.com"},
		Twilio: Twilio{BaseURL: "https://api.twilio.com"},
		Toast:  Toast{BaseURL: "https://ws-api.toasttab.com"},
		Auth: Auth{
			Issuer:   "clubdesk",
			TokenTTL: 12 * time.Hour,
		},
		Attachments: Attachments{
			Dir:          "data/attachments",
			MaxBytes:     10 << 20,
			AllowedTypes: []string{"application/pdf", "image/png", "image/jpeg", "image/heic"},
		},
		Reminders: Reminders{
			Enabled:  true,
			Interval: time.Minute,
		},
	}
}

// Load reads path (a missing file yields defaults), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	for _, p := range c.Server.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err != nil {
			if _, err := netip.ParseAddr(p); err != nil {
				errs = append(errs, fmt.Errorf("server.trusted_proxies: %q is not an IP or CIDR", p))
			}
		}
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q must be memory or sqlite", c.Storage.Driver))
	}
	if _, err := c.Booking.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := c.Booking.OpenClose(); err != nil {
		errs = append(errs, err)
	}
	if c.Booking.SlotMinutes <= 0 {
		errs = append(errs, errors.New("booking.slot_minutes must be positive"))
	}
	if c.Booking.SeatingMinutes <= 0 {
		errs = append(errs, errors.New("booking.seating_minutes must be positive"))
	}
	if c.Booking.MaxPartySize <= 0 {
		errs = append(errs, errors.New("booking.max_party_size must be positive"))
	}
	if c.Booking.HoldPerGuestCents < 0 {
		errs = append(errs, errors.New("booking.hold_per_guest_cents must not be negative"))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters"))
	}
	if c.Attachments.MaxBytes <= 0 {
		errs = append(errs, errors.New("attachments.max_bytes must be positive"))
	}
	if c.Reminders.Enabled && c.Reminders.Interval <= 0 {
		errs = append(errs, errors.New("reminders.interval must be positive"))
	}
	return errors.Join(errs...)
}
