// Package app assembles the clubdesk service from its configuration: the
// store, the provider clients, the domain services, the HTTP routes and the
// reminder worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/supperclub/clubdesk/internal/admin"
	"github.com/supperclub/clubdesk/internal/api"
	"github.com/supperclub/clubdesk/internal/auth"
	"github.com/supperclub/clubdesk/internal/blob"
	"github.com/supperclub/clubdesk/internal/booking"
	"github.com/supperclub/clubdesk/internal/campaigns"
	"github.com/supperclub/clubdesk/internal/config"
	"github.com/supperclub/clubdesk/internal/ledger"
	"github.com/supperclub/clubdesk/internal/members"
	"github.com/supperclub/clubdesk/internal/messaging"
	"github.com/supperclub/clubdesk/internal/payments"
	"github.com/supperclub/clubdesk/internal/pos"
	"github.com/supperclub/clubdesk/internal/reminders"
	"github.com/supperclub/clubdesk/internal/server"
	"github.com/supperclub/clubdesk/internal/sms"
	"github.com/supperclub/clubdesk/internal/store"
	"github.com/supperclub/clubdesk/internal/waitlist"
	"github.com/supperclub/clubdesk/internal/webhook"
)

// App is a wired clubdesk service.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Server   *server.Server
	Store    *store.Store
	Auth     *auth.Manager
	Webhooks *webhook.Dispatcher
	Services api.Services
}

// Options overrides parts of the wiring, mainly for tests.
type Options struct {
	Logger *slog.Logger
	// HTTPClient is used for the payment, SMS and POS providers.
	HTTPClient *http.Client
}

// New builds the service described by cfg.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = server.NewLogger(cfg.Server.Verbose)
	}

	st, err := store.Open(ctx, store.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	now := st.Clock.Now

	bcfg, err := booking.ConfigFrom(cfg.Booking)
	if err != nil {
		st.Close()
		return nil, err
	}

	hooks := webhook.NewDispatcher(webhook.Config{
		URL:         cfg.Webhooks.URL,
		Secret:      cfg.Webhooks.Secret,
		Logger:      logger,
		AutoDeliver: cfg.Webhooks.URL != "",
		Now:         now,
	})

	srv := server.New(server.Options{
		Port:           cfg.Server.Port,
		Verbose:        cfg.Server.Verbose,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PublicRPS:      cfg.Server.PublicRPS,
		PublicBurst:    cfg.Server.PublicBurst,
		TrustedProxies: cfg.Server.TrustedProxies,
		Logger:         logger,
	})

	bookingOpts := booking.Options{Config: bcfg, Notifier: hooks, Logger: logger, Now: now}
	var memberProcessor members.Processor
	if cfg.Stripe.APIKey != "" {
		pc := payments.New(payments.Config{
			APIKey:     cfg.Stripe.APIKey,
			BaseURL:    cfg.Stripe.BaseURL,
			HTTPClient: opts.HTTPClient,
			Logger:     logger,
		})
		bookingOpts.Processor = pc
		memberProcessor = pc
	} else {
		logger.Warn("payment processor not configured; holds and cards are disabled")
	}

	msgOpts := messaging.Options{Logger: logger, Now: now}
	if cfg.Twilio.AccountSID != "" {
		msgOpts.Sender = sms.New(sms.Config{
			AccountSID:          cfg.Twilio.AccountSID,
			AuthToken:           cfg.Twilio.AuthToken,
			From:                cfg.Twilio.From,
			MessagingServiceSID: cfg.Twilio.MessagingServiceSID,
			BaseURL:             cfg.Twilio.BaseURL,
			HTTPClient:          opts.HTTPClient,
		})
	} else {
		logger.Warn("sms provider not configured; outbound messages will be recorded as failed")
	}
	msg := messaging.New(st, msgOpts)

	blobs, err := blob.NewFS(cfg.Attachments.Dir)
	if err != nil {
		st.Close()
		return nil, err
	}
	ledgerOpts := ledger.Options{
		Blobs:        blobs,
		MaxBytes:     cfg.Attachments.MaxBytes,
		AllowedTypes: cfg.Attachments.AllowedTypes,
		Logger:       logger,
		Now:          now,
	}
	if cfg.Toast.Token != "" {
		ledgerOpts.POS = pos.New(pos.Config{
			BaseURL:        cfg.Toast.BaseURL,
			Token:          cfg.Toast.Token,
			RestaurantGUID: cfg.Toast.RestaurantGUID,
			HTTPClient:     opts.HTTPClient,
		})
	}

	camp := campaigns.New(st, msg, logger, now)
	rem := reminders.New(st, reminders.Options{
		Deliverer: msg,
		Location:  bcfg.Location,
		Interval:  cfg.Reminders.Interval,
		Logger:    logger,
		Now:       now,
	})
	svc := api.Services{
		Booking:   booking.New(st, bookingOpts),
		Members:   members.New(st, memberProcessor, logger, now),
		Messaging: msg,
		Campaigns: camp,
		Reminders: rem,
		Worker:    reminders.NewWorker(rem, camp),
		Waitlist:  waitlist.New(st, hooks, logger, now),
		Ledger:    ledger.New(st, ledgerOpts),
	}

	authm := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	api.NewHandler(svc, api.Options{
		Auth:         authm,
		Middleware:   srv.MW,
		SMSAuthToken: cfg.Twilio.AuthToken,
		InboundURL:   cfg.Twilio.InboundURL,
		Logger:       logger,
		Now:          now,
	}).Routes(srv.Router)
	admin.NewHandler(st, srv.MW, st.Clock, hooks, admin.Options{
		EnableReset: cfg.Server.EnableReset,
		Guard:       authm.Require(auth.RoleAdmin),
		Now:         now,
	}).Routes(srv.Router)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Server:   srv,
		Store:    st,
		Auth:     authm,
		Webhooks: hooks,
		Services: svc,
	}, nil
}

// Run serves HTTP and, when enabled, runs the reminder worker until ctx is
// cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Server.Serve(ctx) })
	if a.Config.Reminders.Enabled {
		g.Go(func() error {
			a.Services.Worker.Run(ctx)
			return nil
		})
	}
	err := g.Wait()
	a.Webhooks.Wait()
	return err
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}
