package entity

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wipmate/homectl/internal/infrastructure/logging"
	"github.com/wipmate/homectl/internal/protocol"
)

// commandHandler answers one back-channel envelope with a reply envelope.
type commandHandler func(env protocol.Envelope) protocol.Envelope

// commandListener accepts the controller's back-channel connection on an
// ephemeral port and serves request/response exchanges over it.
//
// Each connection is handled strictly in order: one read, one handler call,
// one write. A frame that does not decode as an envelope poisons the framing
// and drops the connection.
type commandListener struct {
	handler  commandHandler
	logger   *logging.Logger
	upgrader websocket.Upgrader
	server   *http.Server
	port     int
}

func newCommandListener(handler commandHandler, logger *logging.Logger) *commandListener {
	return &commandListener{
		handler: handler,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Start binds an ephemeral port and begins accepting connections.
func (l *commandListener) Start() error {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return fmt.Errorf("binding command listener: %w", err)
	}
	l.port = ln.Addr().(*net.TCPAddr).Port

	l.server = &http.Server{
		Handler:           http.HandlerFunc(l.handleUpgrade),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			l.logger.Error("command listener error", "error", err)
		}
	}()

	l.logger.Info("command listener ready", "port", l.port)
	return nil
}

// Port returns the bound port. Valid after Start.
func (l *commandListener) Port() int {
	return l.port
}

// Close stops accepting and tears down open connections.
func (l *commandListener) Close() error {
	if l.server == nil {
		return nil
	}
	return l.server.Close()
}

// handleUpgrade turns an incoming connection into a command loop.
func (l *commandListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("back-channel upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer ws.Close()

	l.logger.Info("back-channel connected", "remote", r.RemoteAddr)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Warn("back-channel read failed", "error", err)
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			// Framing can no longer be trusted; drop the connection.
			l.logger.Warn("dropping back-channel after malformed frame", "error", err)
			return
		}

		reply := l.handler(env)
		out, err := reply.Encode()
		if err != nil {
			l.logger.Error("encoding back-channel reply", "error", err)
			return
		}
		if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
			l.logger.Warn("back-channel write failed", "error", err)
			return
		}
	}
}
