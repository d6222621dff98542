// Package registry owns the authoritative map of registered entities.
//
// A record exists if and only if the entity is active; removal (explicit
// unregister or monitor-driven expiry) releases the name for reuse. Sensors
// and actuators are independent namespaces, so the same name can exist once
// in each.
//
// The registry holds no durable state. A controller restart forgets every
// entity; recovery is entirely on the entity side via its own retry loop.
package registry
