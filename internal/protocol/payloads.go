package protocol

import "fmt"

// EntityType distinguishes the two independent entity namespaces.
type EntityType string

const (
	EntityTypeSensor   EntityType = "sensor"
	EntityTypeActuator EntityType = "actuator"
)

// Valid reports whether the entity type is one of the known values.
func (t EntityType) Valid() bool {
	return t == EntityTypeSensor || t == EntityTypeActuator
}

// Kind tags an envelope payload. The set is closed; decoding any other tag
// fails with ErrUnknownKind.
type Kind string

const (
	KindDiscovery     Kind = "discovery"
	KindMeasurement   Kind = "measurement"
	KindActuatorState Kind = "actuator_state"
	KindSensorConfig  Kind = "sensor_config"
	KindResponse      Kind = "response"
	KindQuery         Kind = "query"
	KindSystemState   Kind = "system_state"
	KindEntityUpdate  Kind = "entity_update"
	KindClientCommand Kind = "client_command"
)

// Payload is one of the closed set of message bodies an Envelope can carry.
type Payload interface {
	Kind() Kind

	// validate checks schema constraints after JSON decoding.
	validate() error
}

// DiscoveryAction is the command variant of a DiscoveryCommand.
type DiscoveryAction string

const (
	ActionRegister   DiscoveryAction = "register"
	ActionHeartbeat  DiscoveryAction = "heartbeat"
	ActionUnregister DiscoveryAction = "unregister"
)

// DiscoveryCommand is sent by an entity on the discovery channel.
// Register additionally advertises the port of the entity's back-channel
// listener; the host is taken from the request origin.
type DiscoveryCommand struct {
	EntityType EntityType      `json:"entity_type"`
	EntityName string          `json:"entity_name"`
	Action     DiscoveryAction `json:"action"`
	Port       int             `json:"port,omitempty"`
}

func (*DiscoveryCommand) Kind() Kind { return KindDiscovery }

func (c *DiscoveryCommand) validate() error {
	if !c.EntityType.Valid() {
		return fmt.Errorf("%w: discovery entity_type %q", ErrInvalidPayload, c.EntityType)
	}
	if c.EntityName == "" {
		return fmt.Errorf("%w: discovery entity_name is empty", ErrInvalidPayload)
	}
	switch c.Action {
	case ActionRegister:
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("%w: register port %d", ErrInvalidPayload, c.Port)
		}
	case ActionHeartbeat, ActionUnregister:
		if c.Port != 0 {
			return fmt.Errorf("%w: %s carries a port", ErrInvalidPayload, c.Action)
		}
	default:
		return fmt.Errorf("%w: discovery action %q", ErrInvalidPayload, c.Action)
	}
	return nil
}

// MeasurementVariant distinguishes sensor measurement types.
type MeasurementVariant string

const (
	MeasurementTemperature MeasurementVariant = "temperature"
	MeasurementHumidity    MeasurementVariant = "humidity"
)

// Measurement is a single sensor reading.
type Measurement struct {
	Variant MeasurementVariant `json:"variant"`
	Value   float64            `json:"value"`
	Unit    string             `json:"unit"`
}

func (*Measurement) Kind() Kind { return KindMeasurement }

func (m *Measurement) validate() error {
	switch m.Variant {
	case MeasurementTemperature, MeasurementHumidity:
		return nil
	default:
		return fmt.Errorf("%w: measurement variant %q", ErrInvalidPayload, m.Variant)
	}
}

// ActuatorVariant distinguishes actuator state types.
type ActuatorVariant string

const (
	ActuatorLight           ActuatorVariant = "light"
	ActuatorAirConditioning ActuatorVariant = "air_conditioning"
)

// ActuatorState is the reported or targeted state of an actuator.
// Brightness applies to lights, On to air conditioning.
type ActuatorState struct {
	Variant    ActuatorVariant `json:"variant"`
	Brightness float64         `json:"brightness,omitempty"`
	On         bool            `json:"on,omitempty"`
}

func (*ActuatorState) Kind() Kind { return KindActuatorState }

func (s *ActuatorState) validate() error {
	switch s.Variant {
	case ActuatorLight:
		if s.Brightness < 0 || s.Brightness > 1 {
			return fmt.Errorf("%w: light brightness %v outside [0,1]", ErrInvalidPayload, s.Brightness)
		}
		if s.On {
			return fmt.Errorf("%w: light carries on", ErrInvalidPayload)
		}
	case ActuatorAirConditioning:
		if s.Brightness != 0 {
			return fmt.Errorf("%w: air_conditioning carries brightness", ErrInvalidPayload)
		}
	default:
		return fmt.Errorf("%w: actuator variant %q", ErrInvalidPayload, s.Variant)
	}
	return nil
}

// SensorConfiguration updates a sensor's publish frequency.
type SensorConfiguration struct {
	UpdateFrequencyMS int64 `json:"update_frequency_ms"`
}

func (*SensorConfiguration) Kind() Kind { return KindSensorConfig }

func (c *SensorConfiguration) validate() error {
	if c.UpdateFrequencyMS <= 0 {
		return fmt.Errorf("%w: update_frequency_ms %d", ErrInvalidPayload, c.UpdateFrequencyMS)
	}
	return nil
}

// ResponseStatus is the outcome carried by a ResponseCode.
type ResponseStatus string

const (
	StatusOk    ResponseStatus = "ok"
	StatusError ResponseStatus = "error"
)

// ResponseCode answers a request/response exchange. Message is an optional
// human-readable detail; callers must never dispatch on it.
type ResponseCode struct {
	Code    ResponseStatus `json:"code"`
	Message string         `json:"message,omitempty"`
}

func (*ResponseCode) Kind() Kind { return KindResponse }

func (r *ResponseCode) validate() error {
	if r.Code != StatusOk && r.Code != StatusError {
		return fmt.Errorf("%w: response code %q", ErrInvalidPayload, r.Code)
	}
	return nil
}

// Ok reports whether the response signals success.
func (r *ResponseCode) Ok() bool { return r.Code == StatusOk }

// OkResponse builds a success response.
func OkResponse() *ResponseCode { return &ResponseCode{Code: StatusOk} }

// ErrorResponse builds an error response with optional detail.
func ErrorResponse(message string) *ResponseCode {
	return &ResponseCode{Code: StatusError, Message: message}
}

// SystemStateQuery requests the aggregated system state.
type SystemStateQuery struct{}

func (*SystemStateQuery) Kind() Kind { return KindQuery }

func (*SystemStateQuery) validate() error { return nil }

// SystemState is the aggregated answer to a SystemStateQuery: the latest
// sample for every active entity that has one, plus the names registered
// since the previous query.
type SystemState struct {
	Sensors      map[string]Measurement   `json:"sensors"`
	Actuators    map[string]ActuatorState `json:"actuators"`
	NewSensors   []string                 `json:"new_sensors"`
	NewActuators []string                 `json:"new_actuators"`
}

func (*SystemState) Kind() Kind { return KindSystemState }

func (s *SystemState) validate() error {
	for name, m := range s.Sensors {
		if err := m.validate(); err != nil {
			return fmt.Errorf("sensor %q: %w", name, err)
		}
	}
	for name, a := range s.Actuators {
		if err := a.validate(); err != nil {
			return fmt.Errorf("actuator %q: %w", name, err)
		}
	}
	return nil
}

// NamedEntityUpdate targets one entity with either a sensor configuration or
// an actuator state. Exactly one of the two members must be set; the target
// entity type is inferred from which one it is.
type NamedEntityUpdate struct {
	EntityName    string               `json:"entity_name"`
	SensorConfig  *SensorConfiguration `json:"sensor_config,omitempty"`
	ActuatorState *ActuatorState       `json:"actuator_state,omitempty"`
}

func (*NamedEntityUpdate) Kind() Kind { return KindEntityUpdate }

func (u *NamedEntityUpdate) validate() error {
	if u.EntityName == "" {
		return fmt.Errorf("%w: entity update without entity_name", ErrInvalidPayload)
	}
	switch {
	case u.SensorConfig != nil && u.ActuatorState != nil:
		return fmt.Errorf("%w: entity update with both members set", ErrInvalidPayload)
	case u.SensorConfig != nil:
		return u.SensorConfig.validate()
	case u.ActuatorState != nil:
		return u.ActuatorState.validate()
	default:
		return fmt.Errorf("%w: entity update without payload", ErrInvalidPayload)
	}
}

// TargetType returns the entity type implied by the update's payload.
func (u *NamedEntityUpdate) TargetType() EntityType {
	if u.SensorConfig != nil {
		return EntityTypeSensor
	}
	return EntityTypeActuator
}

// ClientCommand wraps either a system-state query or a named-entity update.
// Exactly one member must be set.
type ClientCommand struct {
	Query  *SystemStateQuery  `json:"query,omitempty"`
	Update *NamedEntityUpdate `json:"update,omitempty"`
}

func (*ClientCommand) Kind() Kind { return KindClientCommand }

func (c *ClientCommand) validate() error {
	switch {
	case c.Query != nil && c.Update != nil:
		return fmt.Errorf("%w: client command with both members set", ErrInvalidPayload)
	case c.Query != nil:
		return nil
	case c.Update != nil:
		return c.Update.validate()
	default:
		return fmt.Errorf("%w: client command without payload", ErrInvalidPayload)
	}
}
