// Package server exposes scan reports, hints and redemption over HTTP, plus
// a WebSocket feed of scan events.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/observability/metrics"
	"github.com/alanyoungcy/trovewatch/internal/server/handler"
	"github.com/alanyoungcy/trovewatch/internal/server/middleware"
	"github.com/alanyoungcy/trovewatch/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards every route except health and metrics. Empty disables
	// authentication.
	APIKey string
	// ScanRateLimit bounds on-demand scans and hint requests per client
	// per minute. Zero disables limiting.
	ScanRateLimit int
}

// Handlers aggregates the HTTP handlers the server registers. Hints may be
// nil when no chain writer is configured.
type Handlers struct {
	Health *handler.HealthHandler
	Scans  *handler.ScanHandler
	Hints  *handler.HintHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain: CORS, logging, then auth.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()

	limited := func(scope string, h http.HandlerFunc) http.Handler {
		if limiter == nil || cfg.ScanRateLimit <= 0 {
			return h
		}
		return middleware.RateLimit(limiter, scope, cfg.ScanRateLimit, time.Minute, logger)(h)
	}

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/scan/latest", handlers.Scans.Latest)
	mux.HandleFunc("GET /api/scans", handlers.Scans.History)
	mux.Handle("POST /api/scan", limited("scan", handlers.Scans.Trigger))

	if handlers.Hints != nil {
		mux.Handle("POST /api/hints/redemption", limited("hints", handlers.Hints.Redemption))
		mux.Handle("POST /api/hints/insert", limited("hints", handlers.Hints.Insert))
		mux.Handle("POST /api/redeem", limited("redeem", handlers.Hints.Redeem))
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
