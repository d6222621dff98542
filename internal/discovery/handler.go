package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/wipmate/homectl/internal/protocol"
	"github.com/wipmate/homectl/internal/registry"
)

// handleDiscovery processes one discovery envelope.
//
// Protocol errors (undecodable body, wrong payload kind) are carrier-level
// failures: the request is rejected with 400 and the connection is closed.
// Everything after that point answers in-band with a response envelope, ok
// or error, echoing the request headers.
func (s *Service) handleDiscovery(w http.ResponseWriter, r *http.Request) {
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

	cmd, ok := env.Payload.(*protocol.DiscoveryCommand)
	if !ok {
		s.rejectProtocolError(w, r, fmt.Errorf("unexpected payload kind %q", env.Payload.Kind()))
		return
	}

	var resp *protocol.ResponseCode
	switch cmd.Action {
	case protocol.ActionRegister:
		resp = s.register(r.Context(), cmd, remoteHost(r))
	case protocol.ActionHeartbeat:
		resp = s.heartbeat(cmd)
	case protocol.ActionUnregister:
		resp = s.unregister(cmd)
	default:
		// Unreachable: Decode validates the action.
		resp = protocol.ErrorResponse(fmt.Sprintf("unsupported action %q", cmd.Action))
	}

	s.writeEnvelope(w, env.Reply(resp))
}

// register connects the entity's back-channel, then creates the record.
// Order matters: a dial failure must be surfaced before anything is
// registered, and a lost registration race must not leak the connection.
func (s *Service) register(ctx context.Context, cmd *protocol.DiscoveryCommand, host string) *protocol.ResponseCode {
	ep := registry.Endpoint{Host: host, Port: cmd.Port}

	// Fast-fail duplicates before paying for a dial.
	if _, taken := s.registry.Lookup(cmd.EntityName, cmd.EntityType); taken {
		s.logger.Warn("rejecting duplicate registration",
			"type", cmd.EntityType, "name", cmd.EntityName)
		return protocol.ErrorResponse(fmt.Sprintf("%s %q is already registered", cmd.EntityType, cmd.EntityName))
	}

	conn, err := s.dialer.Connect(ctx, ep.String())
	if err != nil {
		s.logger.Warn("back-channel dial failed",
			"type", cmd.EntityType, "name", cmd.EntityName,
			"endpoint", ep.String(), "error", err)
		return protocol.ErrorResponse(fmt.Sprintf("back-channel %s unreachable", ep.String()))
	}

	if err := s.registry.Register(cmd.EntityName, cmd.EntityType, ep, conn); err != nil {
		// Lost a registration race after the dial. The record that won keeps
		// its own connection; ours must not leak.
		if cerr := conn.Close(); cerr != nil {
			s.logger.Warn("closing back-channel after lost registration race",
				"endpoint", ep.String(), "error", cerr)
		}
		return protocol.ErrorResponse(err.Error())
	}

	s.telemetry.MarkNew(cmd.EntityType, cmd.EntityName)
	return protocol.OkResponse()
}

// heartbeat refreshes the entity's liveness timestamp.
func (s *Service) heartbeat(cmd *protocol.DiscoveryCommand) *protocol.ResponseCode {
	if err := s.registry.Heartbeat(cmd.EntityName, cmd.EntityType); err != nil {
		s.logger.Warn("heartbeat from unknown entity",
			"type", cmd.EntityType, "name", cmd.EntityName)
		return protocol.ErrorResponse(err.Error())
	}
	return protocol.OkResponse()
}

// unregister removes the entity, closes its back-channel, and purges its
// cached telemetry.
func (s *Service) unregister(cmd *protocol.DiscoveryCommand) *protocol.ResponseCode {
	rec, err := s.registry.Unregister(cmd.EntityName, cmd.EntityType)
	if err != nil {
		s.logger.Warn("unregister of unknown entity",
			"type", cmd.EntityType, "name", cmd.EntityName)
		return protocol.ErrorResponse(err.Error())
	}

	if rec.Conn != nil {
		if cerr := rec.Conn.Close(); cerr != nil {
			s.logger.Warn("closing back-channel on unregister",
				"type", rec.Type, "name", rec.Name, "error", cerr)
		}
	}
	s.telemetry.Forget(rec.Type, rec.Name)

	return protocol.OkResponse()
}

// rejectProtocolError answers a request whose body could not be understood.
// The connection is closed rather than left open for more garbage.
func (s *Service) rejectProtocolError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Warn("rejecting malformed discovery request",
		"remote", r.RemoteAddr, "error", err)
	w.Header().Set("Connection", "close")
	http.Error(w, "malformed envelope", http.StatusBadRequest)
}

// writeEnvelope serializes a response envelope onto the HTTP response.
func (s *Service) writeEnvelope(w http.ResponseWriter, env protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		s.logger.Error("encoding discovery response", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("writing discovery response", "error", err)
	}
}

// remoteHost extracts the peer address a back-channel would dial back to.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
