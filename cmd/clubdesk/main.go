// clubdesk serves the reservation, membership and messaging API for a
// members' supper club.
//
// Usage:
//
//	clubdesk [--config clubdesk.yaml] [--port 8080] [--verbose] [--seed-file state.json]
//
// Settings are read from the YAML file, then CLUBDESK_* environment variables
// (optionally primed from .env), then flags.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/supperclub/clubdesk/internal/app"
	"github.com/supperclub/clubdesk/internal/config"
	"github.com/supperclub/clubdesk/internal/server"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type flags struct {
	configPath string
	envFile    string
	port       int
	verbose    bool
	seedFile   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:          "clubdesk",
		Short:        "Reservation, membership and messaging server",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", config.DefaultFile, "path to the YAML config file")
	cmd.Flags().StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before environment overrides")
	cmd.Flags().IntVar(&f.port, "port", 0, "HTTP listen port (overrides config)")
	cmd.Flags().BoolVar(&f.verbose, "verbose", false, "enable debug logging")
	cmd.Flags().StringVar(&f.seedFile, "seed-file", "", "JSON state loaded into the store at startup")
	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, f flags) error {
	if err := config.LoadDotEnv(f.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = f.port
	}
	if f.verbose {
		cfg.Server.Verbose = true
	}

	logger := server.NewLogger(cfg.Server.Verbose)
	a, err := app.New(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()

	if f.seedFile != "" {
		data, err := os.ReadFile(f.seedFile)
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}
		if err := a.Store.LoadState(ctx, data); err != nil {
			return fmt.Errorf("load seed file: %w", err)
		}
		logger.Info("loaded seed data", "file", f.seedFile)
	}

	logger.Info("clubdesk ready",
		"version", version,
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"reminders", cfg.Reminders.Enabled,
		"pos_sync", cfg.Toast.Token != "",
	)
	return a.Run(ctx)
}
