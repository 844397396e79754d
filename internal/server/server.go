// Package server exposes the order book, pricing and order endpoints over
// HTTP, plus the websocket stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/server/handler"
	"github.com/alanyoungcy/limitdesk/internal/server/middleware"
	"github.com/alanyoungcy/limitdesk/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// Limiter enables per-IP rate limiting when set and RateLimit > 0.
	Limiter    domain.RateLimiter
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Orders  *handler.OrderHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewHandler registers every route and wraps them in the middleware chain:
// CORS, then request logging, then rate limiting, then auth.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market endpoints.
	mux.HandleFunc("GET /api/{chainId}/orderbook", handlers.Markets.OrderBook)
	mux.HandleFunc("GET /api/{chainId}/depth", handlers.Markets.Depth)
	mux.HandleFunc("GET /api/{chainId}/stats", handlers.Markets.Stats)
	mux.HandleFunc("GET /api/{chainId}/pairs", handlers.Markets.Pairs)
	mux.HandleFunc("GET /api/{chainId}/tokens", handlers.Markets.Tokens)
	mux.HandleFunc("GET /api/{chainId}/quote", handlers.Markets.Quote)
	mux.HandleFunc("GET /api/{chainId}/pricing", handlers.Markets.Pricing)

	// Order endpoints.
	mux.HandleFunc("POST /api/{chainId}/orders", handlers.Orders.CreateOrder)
	mux.HandleFunc("GET /api/{chainId}/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("GET /api/{chainId}/orders/{id}", handlers.Orders.GetOrder)
	mux.HandleFunc("GET /api/{chainId}/orders/{id}/events", handlers.Orders.OrderEvents)
	mux.HandleFunc("DELETE /api/{chainId}/orders/{id}", handlers.Orders.CancelOrder)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// NewServer creates a new Server with all routes registered.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewHandler(cfg, handlers, wsHub, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
