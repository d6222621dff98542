// Package entity is the runtime shared by sensor and actuator processes.
//
// A Runtime owns the whole entity lifecycle: it opens a command listener on
// an ephemeral port, registers with the controller advertising that port,
// heartbeats on a fixed cadence, publishes telemetry over MQTT, and answers
// targeted updates arriving on the controller-initiated back-channel.
package entity
