package entity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wipmate/homectl/internal/infrastructure/logging"
	"github.com/wipmate/homectl/internal/infrastructure/mqtt"
	"github.com/wipmate/homectl/internal/protocol"
)

// Publisher is the slice of the MQTT client entities publish through.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Config holds the settings for one entity runtime.
type Config struct {
	// Name is the entity's unique name within its type namespace.
	Name string

	// Device produces telemetry and, for actuators, applies state updates.
	Device Device

	// DiscoveryURL is the controller's discovery endpoint.
	DiscoveryURL string

	// Publisher carries the entity-data channel.
	Publisher Publisher

	// QoS for telemetry publishes.
	QoS byte

	// HeartbeatPeriod is the cadence of liveness announcements.
	HeartbeatPeriod time.Duration

	// PublishInterval is the initial telemetry cadence. Sensors adjust it
	// when a configuration update arrives.
	PublishInterval time.Duration

	// Logger is required.
	Logger *logging.Logger
}

// Runtime runs one entity end to end.
//
// Start opens the command listener, registers with the controller, and
// launches the heartbeat and publish loops. Close unwinds it all, ending
// with a best-effort unregister.
type Runtime struct {
	name   string
	device Device
	cp     *controlPlane
	pub    Publisher
	qos    byte
	logger *logging.Logger

	heartbeatPeriod time.Duration

	// intervalMu guards interval; intervalCh nudges the publish loop after
	// a configuration update.
	intervalMu sync.Mutex
	interval   time.Duration
	intervalCh chan struct{}

	listener *commandListener

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a runtime. Call Start to bring the entity online.
func New(cfg Config) (*Runtime, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("entity name is required")
	}
	if cfg.Device == nil {
		return nil, fmt.Errorf("device is required")
	}
	if cfg.DiscoveryURL == "" {
		return nil, fmt.Errorf("discovery URL is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	heartbeat := cfg.HeartbeatPeriod
	if heartbeat <= 0 {
		heartbeat = time.Second
	}
	interval := cfg.PublishInterval
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}

	r := &Runtime{
		name:            cfg.Name,
		device:          cfg.Device,
		cp:              newControlPlane(cfg.DiscoveryURL),
		pub:             cfg.Publisher,
		qos:             cfg.QoS,
		logger:          cfg.Logger.With("entity", cfg.Name),
		heartbeatPeriod: heartbeat,
		interval:        interval,
		intervalCh:      make(chan struct{}, 1),
		done:            make(chan struct{}),
	}
	r.listener = newCommandListener(r.handleCommand, r.logger)
	return r, nil
}

// Start brings the entity online.
//
// The command listener must be accepting before the register goes out: the
// controller dials back during the exchange, and a refused dial fails the
// registration.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.listener.Start(); err != nil {
		return err
	}

	rc, err := r.cp.send(ctx, &protocol.DiscoveryCommand{
		EntityType: r.device.Type(),
		EntityName: r.name,
		Action:     protocol.ActionRegister,
		Port:       r.listener.Port(),
	})
	if err != nil {
		r.listener.Close()
		return fmt.Errorf("registering %s %q: %w", r.device.Type(), r.name, err)
	}
	if !rc.Ok() {
		r.listener.Close()
		return fmt.Errorf("%w: %s", ErrRegistrationRefused, rc.Message)
	}

	r.logger.Info("entity online",
		"type", r.device.Type(), "port", r.listener.Port())

	r.wg.Add(2)
	go r.heartbeatLoop(ctx)
	go r.publishLoop(ctx)
	return nil
}

// Close takes the entity offline: loops stop, a best-effort unregister goes
// out, and the command listener shuts down.
func (r *Runtime) Close() error {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), defaultControlTimeout)
		defer cancel()
		rc, err := r.cp.send(ctx, &protocol.DiscoveryCommand{
			EntityType: r.device.Type(),
			EntityName: r.name,
			Action:     protocol.ActionUnregister,
		})
		switch {
		case err != nil:
			r.logger.Warn("unregister failed", "error", err)
		case !rc.Ok():
			r.logger.Warn("unregister refused", "message", rc.Message)
		}

		if err := r.listener.Close(); err != nil {
			r.logger.Warn("closing command listener", "error", err)
		}
		r.logger.Info("entity offline")
	})
	return nil
}

// PublishInterval returns the current telemetry cadence.
func (r *Runtime) PublishInterval() time.Duration {
	r.intervalMu.Lock()
	defer r.intervalMu.Unlock()
	return r.interval
}

// handleCommand answers one back-channel envelope. The reply always echoes
// the request headers.
func (r *Runtime) handleCommand(env protocol.Envelope) protocol.Envelope {
	upd, ok := env.Payload.(*protocol.NamedEntityUpdate)
	if !ok {
		return env.Reply(protocol.ErrorResponse(
			fmt.Sprintf("unexpected payload kind %q", env.Payload.Kind())))
	}
	if upd.EntityName != r.name {
		return env.Reply(protocol.ErrorResponse(
			fmt.Sprintf("update addressed to %q", upd.EntityName)))
	}

	switch {
	case upd.SensorConfig != nil:
		if r.device.Type() != protocol.EntityTypeSensor {
			return env.Reply(protocol.ErrorResponse("not a sensor"))
		}
		r.setInterval(time.Duration(upd.SensorConfig.UpdateFrequencyMS) * time.Millisecond)
		r.logger.Info("publish interval updated",
			"interval", r.PublishInterval(),
			"trace_id", protocol.TraceID(env.Headers))
		return env.Reply(protocol.OkResponse())

	case upd.ActuatorState != nil:
		act, isActuator := r.device.(Actuator)
		if !isActuator {
			return env.Reply(protocol.ErrorResponse("not an actuator"))
		}
		if err := act.Apply(upd.ActuatorState); err != nil {
			return env.Reply(protocol.ErrorResponse(err.Error()))
		}
		r.logger.Info("actuator state applied",
			"variant", upd.ActuatorState.Variant,
			"trace_id", protocol.TraceID(env.Headers))
		return env.Reply(protocol.OkResponse())

	default:
		// Unreachable: Decode validates the one-of.
		return env.Reply(protocol.ErrorResponse("empty update"))
	}
}

// setInterval updates the publish cadence and nudges the publish loop.
func (r *Runtime) setInterval(d time.Duration) {
	r.intervalMu.Lock()
	r.interval = d
	r.intervalMu.Unlock()

	select {
	case r.intervalCh <- struct{}{}:
	default:
	}
}

// heartbeatLoop announces liveness once per period.
func (r *Runtime) heartbeatLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, r.heartbeatPeriod)
			rc, err := r.cp.send(hbCtx, &protocol.DiscoveryCommand{
				EntityType: r.device.Type(),
				EntityName: r.name,
				Action:     protocol.ActionHeartbeat,
			})
			cancel()
			switch {
			case err != nil:
				r.logger.Warn("heartbeat failed", "error", err)
			case !rc.Ok():
				r.logger.Warn("heartbeat refused", "message", rc.Message)
			}
		}
	}
}

// publishLoop publishes one sample per interval. A configuration update
// resets the timer to the new cadence.
func (r *Runtime) publishLoop(ctx context.Context) {
	defer r.wg.Done()

	timer := time.NewTimer(r.PublishInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.intervalCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.PublishInterval())
		case <-timer.C:
			r.publishSample()
			timer.Reset(r.PublishInterval())
		}
	}
}

// publishSample publishes one envelope on the entity-data channel.
// The channel is fire-and-forget: failures are logged and the cadence
// continues.
func (r *Runtime) publishSample() {
	env := protocol.NewEnvelope(r.device.Sample(), nil)
	data, err := env.Encode()
	if err != nil {
		r.logger.Error("encoding telemetry", "error", err)
		return
	}

	topic := mqtt.Topics{}.EntityData(r.device.Type(), r.name)
	if err := r.pub.Publish(topic, data, r.qos, false); err != nil {
		r.logger.Warn("publishing telemetry", "topic", topic, "error", err)
	}
}
