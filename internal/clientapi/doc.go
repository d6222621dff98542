// Package clientapi serves the controller's client endpoint: system-state
// queries answered from the registry and telemetry cache, and named entity
// updates forwarded over the target's back-channel.
package clientapi
