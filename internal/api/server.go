// Package api serves the relay's HTTP surface: health, the event stream for
// monitors, the bot listing and the Telegram webhook ingress.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/tgrelay/internal/events"
)

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey protects /events and /bots.
	APIKey string
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	hub       *events.Hub
	bots      []BotInfo
	logger    *slog.Logger
	startedAt time.Time

	mu       sync.RWMutex
	webhooks map[string]http.Handler

	server *http.Server
}

// New creates a Server. bots is the static listing served at /bots.
func New(config Config, hub *events.Hub, bots []BotInfo, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		hub:       hub,
		bots:      bots,
		logger:    logger,
		startedAt: time.Now(),
		webhooks:  make(map[string]http.Handler),
	}
}

// RegisterWebhook routes POST /telegram/{bot} to h.
func (s *Server) RegisterWebhook(bot string, h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[bot] = h
}

// Name identifies the server as a supervised unit.
func (s *Server) Name() string { return "api" }

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error { return s.Start(ctx) }

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Telegram authenticates itself with the per-bot secret header.
	r.Post("/telegram/{bot}", s.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/events", s.handleEvents)
		r.Get("/bots", s.handleBots)
	})

	return r
}

// loggingMiddleware logs HTTP requests. The long-lived /events stream is
// logged when it closes like any other request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
