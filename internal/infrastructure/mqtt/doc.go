// Package mqtt provides MQTT client connectivity for homectl.
//
// MQTT carries the entity-data channel: sensors and actuators publish their
// telemetry fire-and-forget through the broker, and the controller's
// telemetry consumer subscribes to all of it. The broker decouples entity
// processes from the controller, so a publish never blocks on controller
// availability.
//
//	entities → MQTT broker → controller (telemetry consumer)
//
// The package manages:
//   - Connection with auto-reconnect and re-subscription
//   - Last Will and Testament on homectl/system/status
//   - Publish/subscribe with per-operation timeouts
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllEntityData(), 0,
//	    func(topic string, payload []byte) error {
//	        // decode envelope, update cache
//	        return nil
//	    })
package mqtt
