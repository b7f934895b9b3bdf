// Package server provides the base HTTP server, middleware chain and JSON
// response helpers used by the clubdesk API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Options configures a Server.
type Options struct {
	Port           int
	Verbose        bool
	AllowedOrigins []string
	PublicRPS      float64
	PublicBurst    int
	TrustedProxies []string     // peers allowed to set X-Forwarded-For; IPs or CIDRs
	Logger         *slog.Logger // optional; defaults to JSON on stdout
}

// Server wraps a chi router with the common middleware stack and lifecycle.
type Server struct {
	Router *chi.Mux
	Logger *slog.Logger
	MW     *Middleware

	port int
}

// NewLogger returns the JSON stdout logger, at debug level when verbose.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// New creates a Server with RequestID, RealIP, Recoverer, CORS and request logging mounted.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(opts.Verbose)
	}

	r := chi.NewRouter()
	mw := NewMiddleware(opts, logger)

	r.Use(chimw.RequestID)
	r.Use(mw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(mw.CORS)
	r.Use(mw.RequestLog)

	return &Server{
		Router: r,
		Logger: logger,
		MW:     mw,
		port:   opts.Port,
	}
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.Logger.Info("starting clubdesk", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	s.Logger.Info("shutting down clubdesk")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ServeHTTP implements http.Handler so Server can be used directly in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// Error writes a JSON error response with the status text as type.
func Error(w http.ResponseWriter, status int, message string) {
	TypedError(w, status, http.StatusText(status), message)
}

// TypedError writes a JSON error response with an explicit error type.
func TypedError(w http.ResponseWriter, status int, errType, message string) {
	JSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"code":    status,
		},
	})
}

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Decode reads a JSON request body into v, rejecting unknown fields.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
