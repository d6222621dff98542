package clientapi

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/wipmate/homectl/internal/protocol"
)

// handleClient processes one client command envelope.
//
// Protocol errors (undecodable body, wrong payload kind) are carrier-level
// failures: 400 and the connection closes. Domain failures, an unknown
// target included, answer in-band with an error response.
func (s *Service) handleClient(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.rejectProtocolError(w, r, fmt.Errorf("reading body: %w", err))
		return
	}

	env, err := protocol.Decode(body)
	if err != nil {
		s.rejectProtocolError(w, r, err)
		return
	}

	cmd, ok := env.Payload.(*protocol.ClientCommand)
	if !ok {
		s.rejectProtocolError(w, r, fmt.Errorf("unexpected payload kind %q", env.Payload.Kind()))
		return
	}

	var reply protocol.Payload
	switch {
	case cmd.Query != nil:
		reply = s.query()
	case cmd.Update != nil:
		reply = s.update(r.Context(), env, cmd.Update)
	default:
		// Unreachable: Decode validates the one-of.
		reply = protocol.ErrorResponse("empty client command")
	}

	s.writeEnvelope(w, env.Reply(reply))
}

// query assembles the system state from the live registry snapshot.
func (s *Service) query() protocol.Payload {
	return s.state.SystemState(s.registry.Snapshot())
}

// update forwards a named entity update over the target's back-channel and
// relays the entity's verdict to the client.
//
// The target type is implied by the update's payload: a sensor configuration
// targets the sensor namespace, an actuator state the actuator namespace. An
// unknown target fails without any network traffic.
func (s *Service) update(ctx context.Context, env protocol.Envelope, upd *protocol.NamedEntityUpdate) protocol.Payload {
	typ := upd.TargetType()

	rec, found := s.registry.Lookup(upd.EntityName, typ)
	if !found {
		s.logger.Warn("update for unknown entity", "type", typ, "name", upd.EntityName)
		return protocol.ErrorResponse(fmt.Sprintf("%s %q is not registered", typ, upd.EntityName))
	}

	// The forwarded envelope carries the client's headers so the trace spans
	// all three processes.
	forward := protocol.Envelope{Headers: env.Headers, Payload: upd}

	resp, err := rec.Conn.Request(ctx, forward)
	if err != nil {
		s.logger.Warn("back-channel request failed",
			"type", typ, "name", upd.EntityName, "error", err)
		return protocol.ErrorResponse(fmt.Sprintf("%s %q is unreachable", typ, upd.EntityName))
	}

	rc, ok := resp.Payload.(*protocol.ResponseCode)
	if !ok {
		s.logger.Warn("entity answered with unexpected payload kind",
			"type", typ, "name", upd.EntityName, "kind", resp.Payload.Kind())
		return protocol.ErrorResponse(fmt.Sprintf("%s %q answered with %s", typ, upd.EntityName, resp.Payload.Kind()))
	}

	// The entity's verdict is relayed unchanged, ok or error.
	return rc
}

// rejectProtocolError answers a request whose body could not be understood.
func (s *Service) rejectProtocolError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Warn("rejecting malformed client request",
		"remote", r.RemoteAddr, "error", err)
	w.Header().Set("Connection", "close")
	http.Error(w, "malformed envelope", http.StatusBadRequest)
}

// writeEnvelope serializes a response envelope onto the HTTP response.
func (s *Service) writeEnvelope(w http.ResponseWriter, env protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		s.logger.Error("encoding client response", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("writing client response", "error", err)
	}
}
