// Package server implements the Request Surface: HTTP handlers for
// Submit/Get/List/Cancel/Health/Metrics, the live-update WebSocket
// endpoint, and the middleware stack (recovery, CORS, correlation ID,
// auth, rate limiting, logging) applied in the corpus's composition
// order.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/makr-code/loraforge/internal/auth"
	"github.com/makr-code/loraforge/internal/common"
	"github.com/makr-code/loraforge/internal/hub"
	"github.com/makr-code/loraforge/internal/jobmanager"
	"github.com/makr-code/loraforge/internal/metrics"
)

// Server wraps the HTTP server for one of the two control-plane
// endpoints (training or dataset-assembly); both share the same handler
// set and differ only in bind address and which trainer kinds the
// Manager's Registry has enabled.
type Server struct {
	manager *jobmanager.Manager
	hub     *hub.Hub
	gate    *auth.Gate
	metrics *metrics.Metrics
	config  *common.Config
	logger  *common.Logger

	httpServer *http.Server
}

// New constructs a Server bound to addr, wiring the full middleware
// stack and route table.
func New(addr string, manager *jobmanager.Manager, h *hub.Hub, gate *auth.Gate, m *metrics.Metrics, config *common.Config, logger *common.Logger) *Server {
	s := &Server{
		manager: manager,
		hub:     h,
		gate:    gate,
		metrics: m,
		config:  config,
		logger:  logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	limiter := newRateLimiter(config.Server.GetRateLimitPerSecond(), config.Server.GetRateLimitBurst())
	handler := applyMiddleware(mux, logger, gate, limiter)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the wrapped HTTP handler, for use in tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server (blocking) until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
