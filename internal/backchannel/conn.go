package backchannel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wipmate/homectl/internal/protocol"
)

// Conn is a single back-channel connection to one entity.
//
// A Conn is either idle or has exactly one request in flight. Concurrent
// callers queue on the request mutex; frames from separate requests are
// never interleaved on the wire.
type Conn struct {
	ws       *websocket.Conn
	endpoint string
	timeout  time.Duration

	// reqMu serializes request/response exchanges.
	reqMu sync.Mutex

	// stateMu guards closed.
	stateMu sync.Mutex
	closed  bool
}

// Endpoint returns the host:port this connection was dialed to.
func (c *Conn) Endpoint() string {
	return c.endpoint
}

// Request sends one envelope and waits for exactly one envelope in response.
//
// The exchange is bounded by the connection's request timeout or the
// context's deadline, whichever ends first. A timeout yields ErrTimeout and
// is never retried here; retry, if any, is the caller's responsibility.
//
// Any failed exchange drops the connection. Websocket read errors are
// sticky, and a late reply to a timed-out request would desynchronize the
// request/response framing, so a Conn that has failed once is never reused.
// The same applies to a response that does not decode as an envelope.
func (c *Conn) Request(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	data, err := env.Encode()
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("encoding request: %w", err)
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if c.isClosed() {
		return protocol.Envelope{}, fmt.Errorf("%w: %s", ErrClosed, c.endpoint)
	}

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return protocol.Envelope{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		_ = c.Close()
		return protocol.Envelope{}, c.classify(err)
	}

	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return protocol.Envelope{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	_, respData, err := c.ws.ReadMessage()
	if err != nil {
		_ = c.Close()
		return protocol.Envelope{}, c.classify(err)
	}

	resp, err := protocol.Decode(respData)
	if err != nil {
		// Undecodable peer: drop the connection rather than guess at framing.
		_ = c.Close()
		return protocol.Envelope{}, fmt.Errorf("%w: %s: %w", ErrBadResponse, c.endpoint, err)
	}

	return resp, nil
}

// classify maps transport errors onto the package's error taxonomy.
func (c *Conn) classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s after %v", ErrTimeout, c.endpoint, c.timeout)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnreachable, c.endpoint, err)
}

// Close shuts the connection down. Safe to call multiple times.
func (c *Conn) Close() error {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return nil
	}
	c.closed = true
	c.stateMu.Unlock()

	// Best-effort close frame so the entity's read loop ends cleanly.
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	return c.ws.Close()
}

// isClosed reports whether Close has been called.
func (c *Conn) isClosed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.closed
}
