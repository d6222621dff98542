package clientapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wipmate/homectl/internal/infrastructure/config"
	"github.com/wipmate/homectl/internal/infrastructure/httpserver"
	"github.com/wipmate/homectl/internal/infrastructure/logging"
	"github.com/wipmate/homectl/internal/protocol"
	"github.com/wipmate/homectl/internal/registry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// StateSource assembles the system-state answer for a registry snapshot.
// Implemented by *telemetry.Cache.
type StateSource interface {
	SystemState(active []registry.Record) *protocol.SystemState
}

// Deps holds the dependencies required by the client API service.
type Deps struct {
	Listen   config.ListenConfig
	Timeouts config.TimeoutConfig
	Logger   *logging.Logger
	Registry *registry.Registry
	State    StateSource
}

// Service is the client-facing endpoint of the controller.
//
// It is created with New() and started with Start(). All handlers are safe
// for concurrent use.
type Service struct {
	listen   config.ListenConfig
	timeouts config.TimeoutConfig
	logger   *logging.Logger
	registry *registry.Registry
	state    StateSource
	server   *http.Server
}

// New creates a client API service with the given dependencies.
//
// The service is not started until Start() is called.
func New(deps Deps) (*Service, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.State == nil {
		return nil, fmt.Errorf("state source is required")
	}

	return &Service{
		listen:   deps.Listen,
		timeouts: deps.Timeouts,
		logger:   deps.Logger,
		registry: deps.Registry,
		state:    deps.State,
	}, nil
}

// Start begins listening for client requests in a background goroutine.
func (s *Service) Start(ctx context.Context) error {
	s.server = httpserver.New(s.listen.Addr(), s.buildRouter(), s.timeouts)

	go func() {
		s.logger.Info("client API listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("client API server error", "error", err)
		}
	}()

	return nil
}

// Handler returns the service's configured route tree for mounting on an
// externally managed listener.
func (s *Service) Handler() http.Handler {
	return s.buildRouter()
}

// Close gracefully shuts down the client API service.
func (s *Service) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("client API shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down client API: %w", err)
	}
	return nil
}

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Service) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(httpserver.RequestID)
	r.Use(httpserver.Logging(s.logger))
	r.Use(httpserver.Recovery(s.logger))
	r.Use(httpserver.BodyLimit)

	r.Post("/v1/client", s.handleClient)

	return r
}
