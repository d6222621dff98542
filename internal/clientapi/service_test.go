package clientapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wipmate/homectl/internal/infrastructure/logging"
	"github.com/wipmate/homectl/internal/protocol"
	"github.com/wipmate/homectl/internal/registry"
	"github.com/wipmate/homectl/internal/telemetry"
)

// scriptedConn is a back-channel whose answer is fixed up front.
type scriptedConn struct {
	got  []protocol.Envelope
	resp protocol.Envelope
	err  error
}

func (c *scriptedConn) Request(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	c.got = append(c.got, env)
	if c.err != nil {
		return protocol.Envelope{}, c.err
	}
	return c.resp, nil
}

func (c *scriptedConn) Close() error { return nil }

type testHarness struct {
	reg   *registry.Registry
	cache *telemetry.Cache
	ts    *httptest.Server
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	reg := registry.New()
	cache := telemetry.NewCache()
	svc, err := New(Deps{
		Logger:   logging.Default("test"),
		Registry: reg,
		State:    cache,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ts := httptest.NewServer(svc.buildRouter())
	t.Cleanup(ts.Close)
	return &testHarness{reg: reg, cache: cache, ts: ts}
}

func (h *testHarness) registerEntity(t *testing.T, name string, typ protocol.EntityType, conn registry.BackChannel) {
	t.Helper()
	if err := h.reg.Register(name, typ, registry.Endpoint{Host: "127.0.0.1", Port: 9001}, conn); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
}

func (h *testHarness) send(t *testing.T, env protocol.Envelope) (*http.Response, protocol.Envelope) {
	t.Helper()

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	resp, err := http.Post(h.ts.URL+"/v1/client", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return resp, protocol.Envelope{}
	}
	reply, err := protocol.Decode(body)
	if err != nil {
		t.Fatalf("Decode(reply) error = %v (body %q)", err, body)
	}
	return resp, reply
}

func queryEnvelope() protocol.Envelope {
	return protocol.NewEnvelope(&protocol.ClientCommand{Query: &protocol.SystemStateQuery{}}, nil)
}

func TestQueryReturnsSystemState(t *testing.T) {
	h := newTestHarness(t)

	h.registerEntity(t, "kitchen-temp", protocol.EntityTypeSensor, &scriptedConn{})
	h.cache.MarkNew(protocol.EntityTypeSensor, "kitchen-temp")
	h.cache.Publish(protocol.EntityTypeSensor, "kitchen-temp",
		&protocol.Measurement{Variant: protocol.MeasurementTemperature, Value: 21.5, Unit: "C"}, time.Now())

	_, reply := h.send(t, queryEnvelope())

	state, ok := reply.Payload.(*protocol.SystemState)
	if !ok {
		t.Fatalf("reply payload = %T, want *SystemState", reply.Payload)
	}
	if got := state.Sensors["kitchen-temp"].Value; got != 21.5 {
		t.Errorf("kitchen-temp = %v, want 21.5", got)
	}
	if len(state.NewSensors) != 1 || state.NewSensors[0] != "kitchen-temp" {
		t.Errorf("new_sensors = %v, want [kitchen-temp]", state.NewSensors)
	}

	// Newness drains exactly once.
	_, second := h.send(t, queryEnvelope())
	if got := second.Payload.(*protocol.SystemState).NewSensors; len(got) != 0 {
		t.Errorf("second query new_sensors = %v, want empty", got)
	}
}

func TestQueryOmitsExpiredEntities(t *testing.T) {
	h := newTestHarness(t)

	// A sample without a backing record never surfaces.
	h.cache.Publish(protocol.EntityTypeSensor, "departed",
		&protocol.Measurement{Variant: protocol.MeasurementTemperature, Value: 9, Unit: "C"}, time.Now())

	_, reply := h.send(t, queryEnvelope())
	state := reply.Payload.(*protocol.SystemState)
	if len(state.Sensors) != 0 {
		t.Errorf("sensors = %v, want empty", state.Sensors)
	}
}

func updateEnvelope(upd *protocol.NamedEntityUpdate) protocol.Envelope {
	return protocol.NewEnvelope(&protocol.ClientCommand{Update: upd}, nil)
}

func TestUpdateForwardsOverBackChannel(t *testing.T) {
	h := newTestHarness(t)

	conn := &scriptedConn{resp: protocol.Envelope{Payload: protocol.OkResponse()}}
	h.registerEntity(t, "kitchen-temp", protocol.EntityTypeSensor, conn)

	env := updateEnvelope(&protocol.NamedEntityUpdate{
		EntityName:   "kitchen-temp",
		SensorConfig: &protocol.SensorConfiguration{UpdateFrequencyMS: 500},
	})
	env.Headers["origin"] = "cli"
	_, reply := h.send(t, env)

	rc, ok := reply.Payload.(*protocol.ResponseCode)
	if !ok || !rc.Ok() {
		t.Fatalf("reply = %+v, want ok response", reply.Payload)
	}
	if reply.Headers["origin"] != "cli" {
		t.Errorf("reply headers = %v, want origin echoed", reply.Headers)
	}

	if len(conn.got) != 1 {
		t.Fatalf("forwarded %d envelopes, want 1", len(conn.got))
	}
	fwd := conn.got[0]
	upd, ok := fwd.Payload.(*protocol.NamedEntityUpdate)
	if !ok {
		t.Fatalf("forwarded payload = %T, want *NamedEntityUpdate", fwd.Payload)
	}
	if upd.SensorConfig == nil || upd.SensorConfig.UpdateFrequencyMS != 500 {
		t.Errorf("forwarded update = %+v, want frequency 500", upd)
	}
	// The client's headers ride along so the trace spans all three processes.
	if fwd.Headers["origin"] != "cli" {
		t.Errorf("forwarded headers = %v, want origin=cli", fwd.Headers)
	}
	if protocol.TraceID(fwd.Headers) != protocol.TraceID(env.Headers) {
		t.Error("forwarded trace id differs from the client's")
	}
}

func TestUpdateRelaysEntityVerdictUnchanged(t *testing.T) {
	h := newTestHarness(t)

	conn := &scriptedConn{resp: protocol.Envelope{
		Payload: protocol.ErrorResponse("brightness out of range"),
	}}
	h.registerEntity(t, "hallway-light", protocol.EntityTypeActuator, conn)

	_, reply := h.send(t, updateEnvelope(&protocol.NamedEntityUpdate{
		EntityName:    "hallway-light",
		ActuatorState: &protocol.ActuatorState{Variant: protocol.ActuatorLight, Brightness: 0.9},
	}))

	rc := reply.Payload.(*protocol.ResponseCode)
	if rc.Ok() {
		t.Fatal("entity error verdict was not relayed")
	}
	if rc.Message != "brightness out of range" {
		t.Errorf("message = %q, want the entity's own detail", rc.Message)
	}
}

func TestUpdateForUnknownEntityFailsWithoutForwarding(t *testing.T) {
	h := newTestHarness(t)

	_, reply := h.send(t, updateEnvelope(&protocol.NamedEntityUpdate{
		EntityName:   "ghost",
		SensorConfig: &protocol.SensorConfiguration{UpdateFrequencyMS: 500},
	}))

	if reply.Payload.(*protocol.ResponseCode).Ok() {
		t.Error("update for unknown entity returned ok")
	}
}

func TestUpdateTargetsNamespaceImpliedByPayload(t *testing.T) {
	h := newTestHarness(t)

	// Only a sensor named "shared" exists. An actuator-state update for
	// "shared" targets the actuator namespace and must miss.
	conn := &scriptedConn{resp: protocol.Envelope{Payload: protocol.OkResponse()}}
	h.registerEntity(t, "shared", protocol.EntityTypeSensor, conn)

	_, reply := h.send(t, updateEnvelope(&protocol.NamedEntityUpdate{
		EntityName:    "shared",
		ActuatorState: &protocol.ActuatorState{Variant: protocol.ActuatorLight, Brightness: 0.5},
	}))

	if reply.Payload.(*protocol.ResponseCode).Ok() {
		t.Error("actuator update hit a sensor record")
	}
	if len(conn.got) != 0 {
		t.Errorf("forwarded %d envelopes, want 0", len(conn.got))
	}
}

func TestUpdateWhenEntityUnreachable(t *testing.T) {
	h := newTestHarness(t)

	conn := &scriptedConn{err: errors.New("request timed out")}
	h.registerEntity(t, "kitchen-temp", protocol.EntityTypeSensor, conn)

	_, reply := h.send(t, updateEnvelope(&protocol.NamedEntityUpdate{
		EntityName:   "kitchen-temp",
		SensorConfig: &protocol.SensorConfiguration{UpdateFrequencyMS: 500},
	}))

	if reply.Payload.(*protocol.ResponseCode).Ok() {
		t.Error("unreachable entity produced an ok verdict")
	}
}

func TestUpdateWhenEntityAnswersWrongKind(t *testing.T) {
	h := newTestHarness(t)

	conn := &scriptedConn{resp: protocol.Envelope{
		Payload: &protocol.Measurement{Variant: protocol.MeasurementTemperature, Value: 1, Unit: "C"},
	}}
	h.registerEntity(t, "kitchen-temp", protocol.EntityTypeSensor, conn)

	_, reply := h.send(t, updateEnvelope(&protocol.NamedEntityUpdate{
		EntityName:   "kitchen-temp",
		SensorConfig: &protocol.SensorConfiguration{UpdateFrequencyMS: 500},
	}))

	if reply.Payload.(*protocol.ResponseCode).Ok() {
		t.Error("non-response answer produced an ok verdict")
	}
}

func TestMalformedBodyIsRejectedAtCarrierLevel(t *testing.T) {
	h := newTestHarness(t)

	resp, err := http.Post(h.ts.URL+"/v1/client", "application/json", bytes.NewBufferString("{"))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestNonClientPayloadIsRejectedAtCarrierLevel(t *testing.T) {
	h := newTestHarness(t)

	env := protocol.NewEnvelope(&protocol.DiscoveryCommand{
		EntityType: protocol.EntityTypeSensor,
		EntityName: "s",
		Action:     protocol.ActionHeartbeat,
	}, nil)
	resp, _ := h.send(t, env)

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
