package backchannel

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds Manager timeouts.
type Config struct {
	// DialTimeout bounds the websocket handshake when opening a connection.
	DialTimeout time.Duration

	// RequestTimeout bounds each request/response exchange.
	RequestTimeout time.Duration
}

// Manager opens and closes back-channel connections.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	dialer         *websocket.Dialer
	requestTimeout time.Duration
	logger         Logger
}

// NewManager creates a Manager with the given timeouts.
func NewManager(cfg Config) *Manager {
	return &Manager{
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
		},
		requestTimeout: cfg.RequestTimeout,
		logger:         noopLogger{},
	}
}

// SetLogger sets the logger for the manager and connections it creates.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Connect dials the entity's advertised endpoint (host:port).
//
// Returns ErrConnectFailed if the entity cannot be reached; no connection
// exists afterwards.
func (m *Manager) Connect(ctx context.Context, endpoint string) (*Conn, error) {
	u := url.URL{Scheme: "ws", Host: endpoint, Path: "/"}

	ws, resp, err := m.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, endpoint, err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	m.logger.Debug("back-channel connected", "endpoint", endpoint)
	return &Conn{
		ws:       ws,
		endpoint: endpoint,
		timeout:  m.requestTimeout,
	}, nil
}

// Disconnect closes a connection, logging the outcome. Safe on nil.
func (m *Manager) Disconnect(c *Conn) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		m.logger.Warn("back-channel close failed", "endpoint", c.Endpoint(), "error", err)
		return
	}
	m.logger.Debug("back-channel disconnected", "endpoint", c.Endpoint())
}
