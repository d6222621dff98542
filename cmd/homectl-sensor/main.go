// homectl-sensor - simulated sensor entity
//
// Usage:
//
//	homectl-sensor <name> <temperature|humidity>
//
// The process registers with the controller, publishes measurements over
// MQTT on its configured cadence, heartbeats once per period, and answers
// configuration updates on the back-channel until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wipmate/homectl/internal/entity"
	"github.com/wipmate/homectl/internal/infrastructure/config"
	"github.com/wipmate/homectl/internal/infrastructure/logging"
	"github.com/wipmate/homectl/internal/infrastructure/mqtt"
)

var version = "dev"

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: homectl-sensor <name> <temperature|humidity>")
	}
	name := args[0]

	var device entity.Device
	switch args[1] {
	case "temperature":
		device = entity.NewTemperatureSensor()
	case "humidity":
		device = entity.NewHumiditySensor()
	default:
		return fmt.Errorf("unknown sensor variant %q (want temperature or humidity)", args[1])
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, "homectl-sensor", version)
	log.Info("starting sensor", "name", name, "variant", args[1])

	// Each entity needs its own MQTT identity.
	cfg.MQTT.Broker.ClientID = fmt.Sprintf("%s-sensor-%s", cfg.MQTT.Broker.ClientID, name)
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.With("component", "mqtt"))

	runtime, err := entity.New(entity.Config{
		Name:            name,
		Device:          device,
		DiscoveryURL:    cfg.Entity.DiscoveryURL,
		Publisher:       mqttClient,
		QoS:             byte(cfg.MQTT.QoS),
		HeartbeatPeriod: cfg.Heartbeat.Period(),
		PublishInterval: cfg.Entity.PublishInterval(),
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("creating sensor runtime: %w", err)
	}

	if err := runtime.Start(ctx); err != nil {
		return fmt.Errorf("starting sensor: %w", err)
	}
	defer func() {
		if closeErr := runtime.Close(); closeErr != nil {
			log.Error("error closing sensor runtime", "error", closeErr)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("HOMECTL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
