package discovery

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

// Dialer establishes back-channel connections to entities.
// Implemented by *backchannel.Manager via DialerFunc.
type Dialer interface {
	Connect(ctx context.Context, endpoint string) (registry.BackChannel, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, endpoint string) (registry.BackChannel, error)

// Connect calls f.
func (f DialerFunc) Connect(ctx context.Context, endpoint string) (registry.BackChannel, error) {
	return f(ctx, endpoint)
}

// TelemetryStore is the slice of the telemetry cache the discovery service
// drives: newness on register, purge on unregister.
type TelemetryStore interface {
	MarkNew(typ protocol.EntityType, name string)
	Forget(typ protocol.EntityType, name string)
}

// Deps holds the dependencies required by the discovery service.
type Deps struct {
	Listen    config.ListenConfig
	Timeouts  config.TimeoutConfig
	Logger    *logging.Logger
	Registry  *registry.Registry
	Dialer    Dialer
	Telemetry TelemetryStore
}

// Service is the discovery endpoint of the controller.
//
// It is created with New() and started with Start(). All handlers are safe
// for concurrent use.
type Service struct {
	listen    config.ListenConfig
	timeouts  config.TimeoutConfig
	logger    *logging.Logger
	registry  *registry.Registry
	dialer    Dialer
	telemetry TelemetryStore
	server    *http.Server
}

// New creates a discovery service with the given dependencies.
//
// The service is not started until Start() is called.
func New(deps Deps) (*Service, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if deps.Telemetry == nil {
		return nil, fmt.Errorf("telemetry store is required")
	}

	return &Service{
		listen:    deps.Listen,
		timeouts:  deps.Timeouts,
		logger:    deps.Logger,
		registry:  deps.Registry,
		dialer:    deps.Dialer,
		telemetry: deps.Telemetry,
	}, nil
}

// Start begins listening for discovery requests in a background goroutine.
func (s *Service) Start(ctx context.Context) error {
	s.server = httpserver.New(s.listen.Addr(), s.buildRouter(), s.timeouts)

	go func() {
		s.logger.Info("discovery service listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("discovery server error", "error", err)
		}
	}()

	return nil
}

// Handler returns the service's configured route tree for mounting on an
// externally managed listener.
func (s *Service) Handler() http.Handler {
	return s.buildRouter()
}

// Close gracefully shuts down the discovery service.
func (s *Service) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("discovery service shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down discovery service: %w", err)
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

	r.Post("/v1/discovery", s.handleDiscovery)

	return r
}
