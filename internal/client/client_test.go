package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/wipmate/homectl/internal/protocol"
)

// fakeEndpoint answers every client command with a scripted payload.
type fakeEndpoint struct {
	mu       sync.Mutex
	received []*protocol.ClientCommand
	answer   protocol.Payload
	ts       *httptest.Server
}

func newFakeEndpoint(t *testing.T, answer protocol.Payload) *fakeEndpoint {
	t.Helper()

	fe := &fakeEndpoint{answer: answer}
	fe.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("reading body: %v", err)
			return
		}
		env, err := protocol.Decode(body)
		if err != nil {
			t.Errorf("decoding client command: %v", err)
			return
		}

		fe.mu.Lock()
		fe.received = append(fe.received, env.Payload.(*protocol.ClientCommand))
		fe.mu.Unlock()

		data, err := env.Reply(fe.answer).Encode()
		if err != nil {
			t.Errorf("encoding reply: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}))
	t.Cleanup(fe.ts.Close)
	return fe
}

func (fe *fakeEndpoint) last() *protocol.ClientCommand {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.received[len(fe.received)-1]
}

func TestQuery(t *testing.T) {
	fe := newFakeEndpoint(t, &protocol.SystemState{
		Sensors: map[string]protocol.Measurement{
			"kitchen-temp": {Variant: protocol.MeasurementTemperature, Value: 21.5, Unit: "C"},
		},
		Actuators:  map[string]protocol.ActuatorState{},
		NewSensors: []string{"kitchen-temp"},
	})

	state, err := New(fe.ts.URL).Query(context.Background())
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if state.Sensors["kitchen-temp"].Value != 21.5 {
		t.Errorf("kitchen-temp = %v, want 21.5", state.Sensors["kitchen-temp"].Value)
	}
	if fe.last().Query == nil {
		t.Error("controller did not receive a query command")
	}
}

func TestSetSensorFrequency(t *testing.T) {
	fe := newFakeEndpoint(t, protocol.OkResponse())

	rc, err := New(fe.ts.URL).SetSensorFrequency(context.Background(), "kitchen-temp", 500*time.Millisecond)
	if err != nil {
		t.Fatalf("SetSensorFrequency() error = %v", err)
	}
	if !rc.Ok() {
		t.Errorf("verdict = %+v, want ok", rc)
	}

	upd := fe.last().Update
	if upd == nil || upd.EntityName != "kitchen-temp" {
		t.Fatalf("update = %+v, want one for kitchen-temp", upd)
	}
	if upd.SensorConfig == nil || upd.SensorConfig.UpdateFrequencyMS != 500 {
		t.Errorf("sensor config = %+v, want 500ms", upd.SensorConfig)
	}
}

func TestSetLight(t *testing.T) {
	fe := newFakeEndpoint(t, protocol.OkResponse())

	if _, err := New(fe.ts.URL).SetLight(context.Background(), "hallway-light", 0.8); err != nil {
		t.Fatalf("SetLight() error = %v", err)
	}

	st := fe.last().Update.ActuatorState
	if st == nil || st.Variant != protocol.ActuatorLight || st.Brightness != 0.8 {
		t.Errorf("actuator state = %+v, want light at 0.8", st)
	}
}

func TestSetAirConditioning(t *testing.T) {
	fe := newFakeEndpoint(t, protocol.OkResponse())

	if _, err := New(fe.ts.URL).SetAirConditioning(context.Background(), "bedroom-ac", true); err != nil {
		t.Fatalf("SetAirConditioning() error = %v", err)
	}

	st := fe.last().Update.ActuatorState
	if st == nil || st.Variant != protocol.ActuatorAirConditioning || !st.On {
		t.Errorf("actuator state = %+v, want air_conditioning on", st)
	}
}

func TestUpdateRelaysErrorVerdict(t *testing.T) {
	fe := newFakeEndpoint(t, protocol.ErrorResponse("sensor \"ghost\" is not registered"))

	rc, err := New(fe.ts.URL).SetSensorFrequency(context.Background(), "ghost", time.Second)
	if err != nil {
		t.Fatalf("SetSensorFrequency() error = %v", err)
	}
	if rc.Ok() {
		t.Error("verdict ok for unknown entity")
	}
	if rc.Message == "" {
		t.Error("error verdict lost its detail")
	}
}

func TestQueryRejectsWrongReplyKind(t *testing.T) {
	fe := newFakeEndpoint(t, protocol.OkResponse())

	_, err := New(fe.ts.URL).Query(context.Background())
	if !errors.Is(err, ErrBadReply) {
		t.Errorf("Query() error = %v, want ErrBadReply", err)
	}
}

func TestUnreachableController(t *testing.T) {
	_, err := New("http://127.0.0.1:1/v1/client").Query(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Query() error = %v, want ErrUnreachable", err)
	}
}
