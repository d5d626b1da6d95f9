package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rcliao/adaptive-memory/internal/engine"
	"github.com/rcliao/adaptive-memory/internal/logger"
)

// Server runs the HTTP API for one engine.
type Server struct {
	server *http.Server
	log    logger.Logger
}

// NewServer creates a server listening on the configured address.
func NewServer(e *engine.Engine, log logger.Logger) *Server {
	log = logger.OrNop(log).With("component", "api")
	return &Server{
		server: &http.Server{
			Addr:              e.Config().Server.Addr,
			Handler:           NewRouter(e, log),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
