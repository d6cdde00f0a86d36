// Package api exposes the similarusers HTTP surface: the similarity query
// endpoint, the liveness probe and the refresh-status probe.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"similarusers/internal/augment"
	"similarusers/internal/cache"
	"similarusers/internal/config"
	"similarusers/internal/logging"
	"similarusers/internal/storage"
	"similarusers/internal/wiki"
)

// Server represents the HTTP API server
type Server struct {
	router *http.ServeMux
	server *http.Server
	addr   string
	logger *logging.Logger

	cache  *cache.Cache
	engine *augment.Engine
	client wiki.Client
	lock   storage.Lock
	cfg    *config.Config

	earliestTS time.Time
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *config.Config, c *cache.Cache, engine *augment.Engine, client wiki.Client, lock storage.Lock, logger *logging.Logger) (*Server, error) {
	earliest, err := time.Parse(storage.TimeFormat, cfg.Wiki.EarliestTimestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid wiki.earliestTimestamp: %w", err)
	}

	s := &Server{
		addr:       cfg.Listen,
		logger:     logger,
		cache:      c,
		engine:     engine,
		client:     client,
		lock:       lock,
		cfg:        cfg,
		earliestTS: earliest,
		router:     http.NewServeMux(),
	}

	s.registerRoutes()

	handler := s.applyMiddleware(s.router)
	s.server = &http.Server{
		Addr:         cfg.Listen,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"addr": s.addr,
	})

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server", nil)

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server shut down successfully", nil)
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// applyMiddleware wraps the handler with middleware in the correct order
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	// Apply middleware in reverse order (last one wraps first)
	handler = RecoveryMiddleware(s.logger)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware()(handler)
	handler = CORSMiddleware()(handler)
	return handler
}

// refreshInProgress is the reader side of the consistency protocol: sample
// the ingestion lock once, never block on it. A failed probe degrades to
// "no refresh" with a warning; the collision risk is accepted.
func (s *Server) refreshInProgress() bool {
	held, err := s.lock.IsHeld(s.cfg.Database.LockName)
	if err != nil {
		s.logger.Warn("Failed to test for refresh lock", map[string]interface{}{
			"name":  s.cfg.Database.LockName,
			"error": err.Error(),
		})
		return false
	}
	return held
}
