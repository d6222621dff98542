// homectl-client - command-line client for the controller
//
// Usage:
//
//	homectl-client query
//	homectl-client set-frequency <sensor> <millis>
//	homectl-client set-light <name> <brightness>
//	homectl-client set-ac <name> <on|off>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/wipmate/homectl/internal/client"
	"github.com/wipmate/homectl/internal/infrastructure/config"
	"github.com/wipmate/homectl/internal/protocol"
)

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
	if len(args) < 1 {
		return usageError()
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	c := client.New(cfg.Client.APIURL)

	switch args[0] {
	case "query":
		return query(ctx, c)

	case "set-frequency":
		if len(args) != 3 {
			return usageError()
		}
		millis, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil || millis <= 0 {
			return fmt.Errorf("invalid frequency %q (want positive milliseconds)", args[2])
		}
		rc, err := c.SetSensorFrequency(ctx, args[1], time.Duration(millis)*time.Millisecond)
		if err != nil {
			return err
		}
		return printVerdict(rc)

	case "set-light":
		if len(args) != 3 {
			return usageError()
		}
		brightness, err := strconv.ParseFloat(args[2], 64)
		if err != nil || brightness < 0 || brightness > 1 {
			return fmt.Errorf("invalid brightness %q (want a value in [0, 1])", args[2])
		}
		rc, err := c.SetLight(ctx, args[1], brightness)
		if err != nil {
			return err
		}
		return printVerdict(rc)

	case "set-ac":
		if len(args) != 3 {
			return usageError()
		}
		var on bool
		switch args[2] {
		case "on":
			on = true
		case "off":
			on = false
		default:
			return fmt.Errorf("invalid state %q (want on or off)", args[2])
		}
		rc, err := c.SetAirConditioning(ctx, args[1], on)
		if err != nil {
			return err
		}
		return printVerdict(rc)

	default:
		return usageError()
	}
}

// query prints the aggregated system state.
func query(ctx context.Context, c *client.Client) error {
	state, err := c.Query(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("sensors (%d):\n", len(state.Sensors))
	for _, name := range sortedKeys(state.Sensors) {
		m := state.Sensors[name]
		fmt.Printf("  %-20s %s %.2f %s\n", name, m.Variant, m.Value, m.Unit)
	}

	fmt.Printf("actuators (%d):\n", len(state.Actuators))
	for _, name := range sortedActuatorKeys(state.Actuators) {
		a := state.Actuators[name]
		switch a.Variant {
		case protocol.ActuatorLight:
			fmt.Printf("  %-20s %s brightness=%.2f\n", name, a.Variant, a.Brightness)
		case protocol.ActuatorAirConditioning:
			fmt.Printf("  %-20s %s on=%t\n", name, a.Variant, a.On)
		}
	}

	if len(state.NewSensors) > 0 {
		fmt.Printf("new sensors since last query: %v\n", state.NewSensors)
	}
	if len(state.NewActuators) > 0 {
		fmt.Printf("new actuators since last query: %v\n", state.NewActuators)
	}
	return nil
}

// printVerdict reports the entity's relayed verdict; an error verdict sets
// the exit code.
func printVerdict(rc *protocol.ResponseCode) error {
	if rc.Ok() {
		fmt.Println("ok")
		return nil
	}
	if rc.Message != "" {
		return fmt.Errorf("refused: %s", rc.Message)
	}
	return fmt.Errorf("refused")
}

func sortedKeys(m map[string]protocol.Measurement) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedActuatorKeys(m map[string]protocol.ActuatorState) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func usageError() error {
	return fmt.Errorf("usage: homectl-client query | set-frequency <sensor> <millis> | set-light <name> <brightness> | set-ac <name> <on|off>")
}

func getConfigPath() string {
	if path := os.Getenv("HOMECTL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
