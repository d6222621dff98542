// homectl - home automation controller
//
// The controller is the hub every other process talks to: entities register
// and heartbeat on the discovery endpoint, publish telemetry over MQTT, and
// receive targeted updates over controller-initiated back-channels; clients
// query and command through the client endpoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wipmate/homectl/internal/backchannel"
	"github.com/wipmate/homectl/internal/clientapi"
	"github.com/wipmate/homectl/internal/discovery"
	"github.com/wipmate/homectl/internal/infrastructure/config"
	"github.com/wipmate/homectl/internal/infrastructure/history"
	"github.com/wipmate/homectl/internal/infrastructure/logging"
	"github.com/wipmate/homectl/internal/infrastructure/mqtt"
	"github.com/wipmate/homectl/internal/monitor"
	"github.com/wipmate/homectl/internal/registry"
	"github.com/wipmate/homectl/internal/telemetry"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default("homectl")
	log.Info("starting homectl controller", "version", version, "commit", commit)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, "homectl", version)

	// Core state: the registry of live entities and the telemetry cache.
	reg := registry.New()
	reg.SetLogger(log.With("component", "registry"))
	cache := telemetry.NewCache()

	// Connect to MQTT broker for the entity-data channel
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.With("component", "mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect the optional history sink
	var sink *history.Sink
	if cfg.History.Enabled {
		sink, err = history.Connect(cfg.History)
		if err != nil {
			return fmt.Errorf("connecting history sink: %w", err)
		}
		defer func() {
			log.Info("closing history sink")
			if closeErr := sink.Close(); closeErr != nil {
				log.Error("error closing history sink", "error", closeErr)
			}
		}()
		sink.SetOnError(func(err error) {
			log.Error("history write error", "error", err)
		})
		log.Info("history sink connected", "url", cfg.History.URL, "bucket", cfg.History.Bucket)
	} else {
		log.Info("history sink disabled")
	}

	// Start the telemetry consumer
	consumerDeps := telemetry.ConsumerDeps{
		Subscriber: mqttClient,
		Cache:      cache,
		Registry:   reg,
		Logger:     log.With("component", "telemetry"),
		QoS:        byte(cfg.MQTT.QoS),
	}
	if sink != nil {
		consumerDeps.Recorder = sink
	}
	consumer := telemetry.NewConsumer(consumerDeps)
	if err := consumer.Start(); err != nil {
		return fmt.Errorf("starting telemetry consumer: %w", err)
	}
	defer func() {
		log.Info("stopping telemetry consumer")
		if stopErr := consumer.Stop(); stopErr != nil {
			log.Error("error stopping telemetry consumer", "error", stopErr)
		}
	}()

	// Back-channel manager for controller-initiated entity connections
	bcManager := backchannel.NewManager(backchannel.Config{
		DialTimeout:    cfg.BackChannel.DialTimeout(),
		RequestTimeout: cfg.BackChannel.RequestTimeout(),
	})
	bcManager.SetLogger(log.With("component", "backchannel"))

	// Heartbeat monitor
	mon := monitor.New(monitor.Config{
		HeartbeatPeriod: cfg.Heartbeat.Period(),
		ExpiryFactor:    cfg.Heartbeat.ExpiryFactor,
		Roster:          reg,
		Purger:          cache,
		Logger:          log.With("component", "monitor"),
	})
	mon.Start(ctx)
	defer func() {
		log.Info("stopping heartbeat monitor")
		mon.Stop()
	}()

	// Discovery endpoint
	disco, err := discovery.New(discovery.Deps{
		Listen:   cfg.Controller.Discovery,
		Timeouts: cfg.Controller.Timeouts,
		Logger:   log.With("component", "discovery"),
		Registry: reg,
		Dialer: discovery.DialerFunc(func(ctx context.Context, endpoint string) (registry.BackChannel, error) {
			return bcManager.Connect(ctx, endpoint)
		}),
		Telemetry: cache,
	})
	if err != nil {
		return fmt.Errorf("creating discovery service: %w", err)
	}
	if err := disco.Start(ctx); err != nil {
		return fmt.Errorf("starting discovery service: %w", err)
	}
	defer func() {
		if closeErr := disco.Close(); closeErr != nil {
			log.Error("error closing discovery service", "error", closeErr)
		}
	}()

	// Client endpoint
	api, err := clientapi.New(clientapi.Deps{
		Listen:   cfg.Controller.ClientAPI,
		Timeouts: cfg.Controller.Timeouts,
		Logger:   log.With("component", "clientapi"),
		Registry: reg,
		State:    cache,
	})
	if err != nil {
		return fmt.Errorf("creating client API: %w", err)
	}
	if err := api.Start(ctx); err != nil {
		return fmt.Errorf("starting client API: %w", err)
	}
	defer func() {
		if closeErr := api.Close(); closeErr != nil {
			log.Error("error closing client API", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"discovery", cfg.Controller.Discovery.Addr(),
		"client_api", cfg.Controller.ClientAPI.Addr(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Release every registered entity's back-channel before the deferred
	// teardown runs.
	for _, rec := range reg.Snapshot() {
		if rec.Conn != nil {
			if closeErr := rec.Conn.Close(); closeErr != nil {
				log.Warn("closing back-channel",
					"type", rec.Type, "name", rec.Name, "error", closeErr)
			}
		}
	}

	log.Info("homectl controller stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HOMECTL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HOMECTL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
