// Package discovery serves the controller's discovery endpoint, where
// entities register, heartbeat, and unregister.
//
// Register is the only operation with side effects beyond the registry: the
// controller dials the entity's back-channel listener before creating the
// record, so a registration only ever succeeds with a live connection behind
// it.
package discovery
