package entity

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/wipmate/homectl/internal/protocol"
)

// Device produces the telemetry an entity publishes.
type Device interface {
	Type() protocol.EntityType

	// Sample returns the next payload to publish. Called once per publish
	// interval from the runtime's publish loop.
	Sample() protocol.Payload
}

// Actuator is a device that additionally accepts targeted state updates
// from the back-channel.
type Actuator interface {
	Device
	Apply(state *protocol.ActuatorState) error
}

// sensor simulates a physical probe as a bounded random walk around a
// midpoint, which is enough to make dashboards and history queries move.
type sensor struct {
	variant protocol.MeasurementVariant
	unit    string
	min     float64
	max     float64
	step    float64

	mu    sync.Mutex
	value float64
}

// NewTemperatureSensor creates a simulated indoor temperature probe.
func NewTemperatureSensor() Device {
	return &sensor{
		variant: protocol.MeasurementTemperature,
		unit:    "C",
		min:     16,
		max:     28,
		step:    0.3,
		value:   21,
	}
}

// NewHumiditySensor creates a simulated relative humidity probe.
func NewHumiditySensor() Device {
	return &sensor{
		variant: protocol.MeasurementHumidity,
		unit:    "%",
		min:     30,
		max:     70,
		step:    1.0,
		value:   50,
	}
}

func (s *sensor) Type() protocol.EntityType { return protocol.EntityTypeSensor }

func (s *sensor) Sample() protocol.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value += (rand.Float64()*2 - 1) * s.step
	if s.value < s.min {
		s.value = s.min
	}
	if s.value > s.max {
		s.value = s.max
	}

	return &protocol.Measurement{
		Variant: s.variant,
		Value:   s.value,
		Unit:    s.unit,
	}
}

// light is a dimmable light actuator.
type light struct {
	mu         sync.Mutex
	brightness float64
}

// NewLight creates a light actuator starting switched off.
func NewLight() Actuator {
	return &light{}
}

func (l *light) Type() protocol.EntityType { return protocol.EntityTypeActuator }

func (l *light) Sample() protocol.Payload {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &protocol.ActuatorState{
		Variant:    protocol.ActuatorLight,
		Brightness: l.brightness,
	}
}

func (l *light) Apply(state *protocol.ActuatorState) error {
	if state.Variant != protocol.ActuatorLight {
		return fmt.Errorf("light cannot apply %s state", state.Variant)
	}
	l.mu.Lock()
	l.brightness = state.Brightness
	l.mu.Unlock()
	return nil
}

// airConditioning is an on/off air conditioning actuator.
type airConditioning struct {
	mu sync.Mutex
	on bool
}

// NewAirConditioning creates an air conditioning actuator starting switched off.
func NewAirConditioning() Actuator {
	return &airConditioning{}
}

func (a *airConditioning) Type() protocol.EntityType { return protocol.EntityTypeActuator }

func (a *airConditioning) Sample() protocol.Payload {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &protocol.ActuatorState{
		Variant: protocol.ActuatorAirConditioning,
		On:      a.on,
	}
}

func (a *airConditioning) Apply(state *protocol.ActuatorState) error {
	if state.Variant != protocol.ActuatorAirConditioning {
		return fmt.Errorf("air conditioning cannot apply %s state", state.Variant)
	}
	a.mu.Lock()
	a.on = state.On
	a.mu.Unlock()
	return nil
}
