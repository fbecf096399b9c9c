// File: internal/server/server.go
// HTTP surface for the bridge: a small JSON API plus a WebSocket event
// feed. The server owns no worker state; everything flows through the
// injected Desktop implementation.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskbridge/api/schemas"
	"github.com/xkilldash9x/deskbridge/internal/config"
)

// Server hosts the bridge API and event hub.
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	handlers   *Handlers
	hub        *Hub
	httpServer *http.Server
}

// NewServer wires the API around the given desktop implementation.
func NewServer(cfg *config.Config, logger *zap.Logger, desktop schemas.Desktop) *Server {
	hub := NewHub(logger)
	return &Server{
		cfg:      cfg,
		logger:   logger.Named("server"),
		hub:      hub,
		handlers: NewHandlers(logger, desktop, hub),
	}
}

// Hub exposes the event hub so other surfaces can publish through it.
func (s *Server) Hub() *Hub { return s.hub }

// Router builds the chi router with the full route set.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Vision resolves can take most of their 120s budget; the HTTP
	// timeout has to outlast the worker timeout.
	r.Use(middleware.Timeout(3 * time.Minute))

	// WebSocket route stays outside the logging group; the logger
	// middleware does not play well with hijacked connections.
	r.Get("/ws/v1/events", s.hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		s.handlers.RegisterRoutes(r)
	})

	return r
}

// Start runs the HTTP listener until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, fmt.Sprintf("%d", s.cfg.Server.Port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Bridge API starting", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down bridge API...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	s.hub.Close()

	if err := <-errCh; err != nil {
		return err
	}
	s.logger.Info("Bridge API stopped.")
	return nil
}
