package discovery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wipmate/homectl/internal/infrastructure/logging"
	"github.com/wipmate/homectl/internal/protocol"
	"github.com/wipmate/homectl/internal/registry"
)

type fakeConn struct {
	closed int
}

func (c *fakeConn) Request(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	return protocol.Envelope{}, nil
}

func (c *fakeConn) Close() error {
	c.closed++
	return nil
}

type fakeDialer struct {
	err       error
	conns     []*fakeConn
	endpoints []string
}

func (d *fakeDialer) Connect(ctx context.Context, endpoint string) (registry.BackChannel, error) {
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{}
	d.conns = append(d.conns, c)
	d.endpoints = append(d.endpoints, endpoint)
	return c, nil
}

type fakeTelemetry struct {
	marked    []string
	forgotten []string
}

func (f *fakeTelemetry) MarkNew(typ protocol.EntityType, name string) {
	f.marked = append(f.marked, string(typ)+"/"+name)
}

func (f *fakeTelemetry) Forget(typ protocol.EntityType, name string) {
	f.forgotten = append(f.forgotten, string(typ)+"/"+name)
}

func newTestService(t *testing.T, dialer Dialer) (*Service, *registry.Registry, *fakeTelemetry, *httptest.Server) {
	t.Helper()

	reg := registry.New()
	tel := &fakeTelemetry{}
	svc, err := New(Deps{
		Logger:    logging.Default("test"),
		Registry:  reg,
		Dialer:    dialer,
		Telemetry: tel,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ts := httptest.NewServer(svc.buildRouter())
	t.Cleanup(ts.Close)
	return svc, reg, tel, ts
}

// post sends an envelope to the discovery endpoint and decodes the reply.
func post(t *testing.T, url string, env protocol.Envelope) (*http.Response, protocol.Envelope) {
	t.Helper()

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	resp, err := http.Post(url+"/v1/discovery", "application/json", bytes.NewReader(data))
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

func registerCmd(name string, typ protocol.EntityType, port int) protocol.Envelope {
	return protocol.NewEnvelope(&protocol.DiscoveryCommand{
		EntityType: typ,
		EntityName: name,
		Action:     protocol.ActionRegister,
		Port:       port,
	}, nil)
}

func TestRegisterCreatesRecordWithBackChannel(t *testing.T) {
	dialer := &fakeDialer{}
	_, reg, tel, ts := newTestService(t, dialer)

	env := registerCmd("kitchen-temp", protocol.EntityTypeSensor, 9001)
	_, reply := post(t, ts.URL, env)

	rc, ok := reply.Payload.(*protocol.ResponseCode)
	if !ok || !rc.Ok() {
		t.Fatalf("reply = %+v, want ok response", reply.Payload)
	}
	if got, want := protocol.TraceID(reply.Headers), protocol.TraceID(env.Headers); got != want {
		t.Errorf("reply trace id = %q, want %q (echoed)", got, want)
	}

	rec, found := reg.Lookup("kitchen-temp", protocol.EntityTypeSensor)
	if !found {
		t.Fatal("record missing after register")
	}
	if rec.Endpoint.Host != "127.0.0.1" || rec.Endpoint.Port != 9001 {
		t.Errorf("endpoint = %v, want 127.0.0.1:9001", rec.Endpoint)
	}
	if len(dialer.endpoints) != 1 || dialer.endpoints[0] != "127.0.0.1:9001" {
		t.Errorf("dialed = %v, want [127.0.0.1:9001]", dialer.endpoints)
	}
	if len(tel.marked) != 1 || tel.marked[0] != "sensor/kitchen-temp" {
		t.Errorf("marked = %v, want [sensor/kitchen-temp]", tel.marked)
	}
}

func TestRegisterFailsWhenBackChannelUnreachable(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("dial refused")}
	_, reg, tel, ts := newTestService(t, dialer)

	_, reply := post(t, ts.URL, registerCmd("s", protocol.EntityTypeSensor, 9001))

	rc := reply.Payload.(*protocol.ResponseCode)
	if rc.Ok() {
		t.Fatal("register succeeded despite dial failure")
	}
	if reg.Len() != 0 {
		t.Error("record exists despite dial failure")
	}
	if len(tel.marked) != 0 {
		t.Errorf("marked = %v, want none", tel.marked)
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	dialer := &fakeDialer{}
	_, reg, _, ts := newTestService(t, dialer)

	_, first := post(t, ts.URL, registerCmd("s", protocol.EntityTypeSensor, 9001))
	if !first.Payload.(*protocol.ResponseCode).Ok() {
		t.Fatal("first register failed")
	}

	_, second := post(t, ts.URL, registerCmd("s", protocol.EntityTypeSensor, 9002))
	if second.Payload.(*protocol.ResponseCode).Ok() {
		t.Fatal("duplicate register succeeded")
	}

	// The duplicate must be refused before a second dial happens.
	if len(dialer.conns) != 1 {
		t.Errorf("dial count = %d, want 1", len(dialer.conns))
	}
	rec, _ := reg.Lookup("s", protocol.EntityTypeSensor)
	if rec.Endpoint.Port != 9001 {
		t.Errorf("surviving endpoint port = %d, want 9001 (first registration)", rec.Endpoint.Port)
	}
}

func TestSameNameAcrossNamespaces(t *testing.T) {
	dialer := &fakeDialer{}
	_, reg, _, ts := newTestService(t, dialer)

	_, first := post(t, ts.URL, registerCmd("shared", protocol.EntityTypeSensor, 9001))
	_, second := post(t, ts.URL, registerCmd("shared", protocol.EntityTypeActuator, 9002))

	if !first.Payload.(*protocol.ResponseCode).Ok() || !second.Payload.(*protocol.ResponseCode).Ok() {
		t.Fatal("same name in different namespaces should both register")
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}
}

func TestHeartbeatRequiresRegistration(t *testing.T) {
	_, _, _, ts := newTestService(t, &fakeDialer{})

	heartbeat := protocol.NewEnvelope(&protocol.DiscoveryCommand{
		EntityType: protocol.EntityTypeSensor,
		EntityName: "ghost",
		Action:     protocol.ActionHeartbeat,
	}, nil)
	_, reply := post(t, ts.URL, heartbeat)

	if reply.Payload.(*protocol.ResponseCode).Ok() {
		t.Error("heartbeat for unregistered entity returned ok")
	}
}

func TestHeartbeatRefreshesRegisteredEntity(t *testing.T) {
	_, _, _, ts := newTestService(t, &fakeDialer{})

	post(t, ts.URL, registerCmd("s", protocol.EntityTypeSensor, 9001))

	heartbeat := protocol.NewEnvelope(&protocol.DiscoveryCommand{
		EntityType: protocol.EntityTypeSensor,
		EntityName: "s",
		Action:     protocol.ActionHeartbeat,
	}, nil)
	_, reply := post(t, ts.URL, heartbeat)

	if !reply.Payload.(*protocol.ResponseCode).Ok() {
		t.Error("heartbeat for registered entity returned error")
	}
}

func TestUnregisterReleasesEverything(t *testing.T) {
	dialer := &fakeDialer{}
	_, reg, tel, ts := newTestService(t, dialer)

	post(t, ts.URL, registerCmd("s", protocol.EntityTypeSensor, 9001))

	unregister := protocol.NewEnvelope(&protocol.DiscoveryCommand{
		EntityType: protocol.EntityTypeSensor,
		EntityName: "s",
		Action:     protocol.ActionUnregister,
	}, nil)
	_, reply := post(t, ts.URL, unregister)

	if !reply.Payload.(*protocol.ResponseCode).Ok() {
		t.Fatal("unregister returned error")
	}
	if reg.Len() != 0 {
		t.Error("record survived unregister")
	}
	if dialer.conns[0].closed != 1 {
		t.Errorf("conn closed %d times, want 1", dialer.conns[0].closed)
	}
	if len(tel.forgotten) != 1 || tel.forgotten[0] != "sensor/s" {
		t.Errorf("forgotten = %v, want [sensor/s]", tel.forgotten)
	}

	// A released name is immediately reusable.
	_, again := post(t, ts.URL, registerCmd("s", protocol.EntityTypeSensor, 9002))
	if !again.Payload.(*protocol.ResponseCode).Ok() {
		t.Error("re-register after unregister failed")
	}
}

func TestUnregisterUnknownEntity(t *testing.T) {
	_, _, _, ts := newTestService(t, &fakeDialer{})

	unregister := protocol.NewEnvelope(&protocol.DiscoveryCommand{
		EntityType: protocol.EntityTypeActuator,
		EntityName: "ghost",
		Action:     protocol.ActionUnregister,
	}, nil)
	_, reply := post(t, ts.URL, unregister)

	if reply.Payload.(*protocol.ResponseCode).Ok() {
		t.Error("unregister of unknown entity returned ok")
	}
}

func TestMalformedBodyIsRejectedAtCarrierLevel(t *testing.T) {
	_, reg, _, ts := newTestService(t, &fakeDialer{})

	for _, body := range []string{"", "{", `{"kind":"bogus","payload":{}}`} {
		resp, err := http.Post(ts.URL+"/v1/discovery", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("POST error = %v", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status for %q = %d, want 400", body, resp.StatusCode)
		}
	}
	if reg.Len() != 0 {
		t.Error("malformed request mutated the registry")
	}
}

func TestWrongPayloadKindIsRejectedAtCarrierLevel(t *testing.T) {
	_, _, _, ts := newTestService(t, &fakeDialer{})

	env := protocol.NewEnvelope(&protocol.Measurement{
		Variant: protocol.MeasurementTemperature,
		Value:   1,
		Unit:    "C",
	}, nil)
	resp, _ := post(t, ts.URL, env)

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestReplyEchoesCustomHeaders(t *testing.T) {
	_, _, _, ts := newTestService(t, &fakeDialer{})

	env := registerCmd("s", protocol.EntityTypeSensor, 9001)
	env.Headers["origin"] = "cli"
	_, reply := post(t, ts.URL, env)

	if reply.Headers["origin"] != "cli" {
		t.Errorf("reply headers = %v, want origin=cli echoed", reply.Headers)
	}
}
