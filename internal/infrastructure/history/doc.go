// Package history is the optional InfluxDB sink for accepted telemetry.
//
// The controller answers queries from the in-memory cache alone; the sink
// exists so telemetry survives for offline analysis. Writes are batched and
// non-blocking, and a sink failure never affects the data path.
package history
