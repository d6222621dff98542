// Package telemetry holds the latest-value-per-entity cache and the consumer
// that feeds it from the entity-data channel.
//
// The cache also tracks "newness": names registered since the last served
// system-state query. A query drains that set exactly once.
package telemetry
