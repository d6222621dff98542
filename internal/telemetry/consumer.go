package telemetry

import (
	"fmt"
	"time"

	"github.com/wipmate/homectl/internal/infrastructure/mqtt"
	"github.com/wipmate/homectl/internal/protocol"
	"github.com/wipmate/homectl/internal/registry"
)

// Logger defines the logging interface used by the Consumer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Subscriber is the slice of the MQTT client the consumer needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// ActiveLookup answers whether an entity is currently registered.
// Implemented by *registry.Registry.
type ActiveLookup interface {
	Lookup(name string, typ protocol.EntityType) (registry.Record, bool)
}

// Recorder receives every accepted sample, e.g. for the history sink.
type Recorder interface {
	Record(typ protocol.EntityType, name string, payload protocol.Payload, at time.Time)
}

// Consumer drains the entity-data channel into the cache.
//
// Publishes are fire-and-forget, so errors never reach the publishing
// entity: a malformed envelope, a payload kind that does not belong on the
// topic, or an unknown entity name all discard the message with a log line
// and no cache write.
type Consumer struct {
	subscriber Subscriber
	cache      *Cache
	reg        ActiveLookup
	recorder   Recorder // optional
	logger     Logger
	qos        byte
	now        func() time.Time
}

// ConsumerDeps holds the dependencies for NewConsumer.
type ConsumerDeps struct {
	Subscriber Subscriber
	Cache      *Cache
	Registry   ActiveLookup
	Recorder   Recorder // optional history sink; may be nil
	Logger     Logger
	QoS        byte
}

// NewConsumer creates a consumer. Call Start to begin receiving.
func NewConsumer(deps ConsumerDeps) *Consumer {
	return &Consumer{
		subscriber: deps.Subscriber,
		cache:      deps.Cache,
		reg:        deps.Registry,
		recorder:   deps.Recorder,
		logger:     deps.Logger,
		qos:        deps.QoS,
		now:        time.Now,
	}
}

// Start subscribes to the whole entity-data channel.
func (c *Consumer) Start() error {
	topic := mqtt.Topics{}.AllEntityData()
	if err := c.subscriber.Subscribe(topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	c.logger.Info("telemetry consumer started", "topic", topic)
	return nil
}

// Stop unsubscribes from the entity-data channel.
func (c *Consumer) Stop() error {
	return c.subscriber.Unsubscribe(mqtt.Topics{}.AllEntityData())
}

// handleMessage processes one published envelope.
func (c *Consumer) handleMessage(topic string, payload []byte) error {
	typ, name, err := mqtt.Topics{}.ParseEntityData(topic)
	if err != nil {
		c.logger.Warn("telemetry on unexpected topic", "topic", topic, "error", err)
		return nil
	}

	env, err := protocol.Decode(payload)
	if err != nil {
		c.logger.Warn("discarding malformed telemetry",
			"topic", topic, "error", err)
		return nil
	}

	if !kindMatchesChannel(typ, env.Payload.Kind()) {
		c.logger.Warn("discarding telemetry with mismatched payload kind",
			"topic", topic, "kind", env.Payload.Kind())
		return nil
	}

	// Register-first rule: publishes for unknown names are rejected outright,
	// never buffered awaiting a later Register.
	if _, active := c.reg.Lookup(name, typ); !active {
		c.logger.Warn("discarding telemetry from unknown entity",
			"type", typ, "name", name,
			"trace_id", protocol.TraceID(env.Headers))
		return nil
	}

	at := c.now()
	c.cache.Publish(typ, name, env.Payload, at)
	if c.recorder != nil {
		c.recorder.Record(typ, name, env.Payload, at)
	}

	c.logger.Debug("telemetry cached", "type", typ, "name", name)
	return nil
}

// kindMatchesChannel checks that the payload kind belongs on the topic's
// namespace: measurements for sensors, actuator states for actuators.
func kindMatchesChannel(typ protocol.EntityType, kind protocol.Kind) bool {
	switch typ {
	case protocol.EntityTypeSensor:
		return kind == protocol.KindMeasurement
	case protocol.EntityTypeActuator:
		return kind == protocol.KindActuatorState
	default:
		return false
	}
}
