package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope wraps one payload with opaque pass-through headers.
//
// Headers carry cross-process trace context. A process that sends a message
// as a consequence of a received one must copy the received headers onto it
// unchanged.
type Envelope struct {
	Headers map[string]string
	Payload Payload
}

// NewEnvelope builds an envelope around a payload, stamping a trace id if
// the headers do not carry one yet.
func NewEnvelope(payload Payload, headers map[string]string) Envelope {
	return Envelope{
		Headers: EnsureTraceID(headers),
		Payload: payload,
	}
}

// Reply builds a response envelope to this one: the same headers, the given
// payload.
func (e Envelope) Reply(payload Payload) Envelope {
	return Envelope{
		Headers: e.Headers,
		Payload: payload,
	}
}

// wireEnvelope is the JSON shape on the wire.
type wireEnvelope struct {
	Headers map[string]string `json:"headers,omitempty"`
	Kind    Kind              `json:"kind"`
	Payload json.RawMessage   `json:"payload"`
}

// Encode serializes the envelope.
func (e Envelope) Encode() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("%w: envelope without payload", ErrInvalidPayload)
	}
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", e.Payload.Kind(), err)
	}
	return json.Marshal(wireEnvelope{
		Headers: e.Headers,
		Kind:    e.Payload.Kind(),
		Payload: body,
	})
}

// Decode parses an envelope, dispatching on the payload kind.
//
// The payload set is closed: an unknown kind fails with ErrUnknownKind,
// undecodable bytes with ErrMalformedEnvelope/ErrMalformedPayload, and a
// schema violation with ErrInvalidPayload. Callers must treat all of these
// as hard failures and drop the message unprocessed.
func Decode(data []byte) (Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}

	payload, err := newPayload(wire.Kind)
	if err != nil {
		return Envelope{}, err
	}

	if len(wire.Payload) == 0 {
		return Envelope{}, fmt.Errorf("%w: %s envelope without payload body", ErrMalformedEnvelope, wire.Kind)
	}
	if err := json.Unmarshal(wire.Payload, payload); err != nil {
		return Envelope{}, fmt.Errorf("%w: %s: %w", ErrMalformedPayload, wire.Kind, err)
	}
	if err := payload.validate(); err != nil {
		return Envelope{}, err
	}

	return Envelope{
		Headers: wire.Headers,
		Payload: payload,
	}, nil
}

// newPayload allocates the concrete type for a kind tag.
func newPayload(kind Kind) (Payload, error) {
	switch kind {
	case KindDiscovery:
		return &DiscoveryCommand{}, nil
	case KindMeasurement:
		return &Measurement{}, nil
	case KindActuatorState:
		return &ActuatorState{}, nil
	case KindSensorConfig:
		return &SensorConfiguration{}, nil
	case KindResponse:
		return &ResponseCode{}, nil
	case KindQuery:
		return &SystemStateQuery{}, nil
	case KindSystemState:
		return &SystemState{}, nil
	case KindEntityUpdate:
		return &NamedEntityUpdate{}, nil
	case KindClientCommand:
		return &ClientCommand{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
