// Package backchannel manages the outbound connections the controller opens
// to each active entity, used to push configuration and actuation commands.
//
// Exactly one connection exists per active entity. It is dialed synchronously
// during registration, so a dial failure surfaces as an error to the
// registering entity before any record is created, and closed when the
// entity unregisters or expires.
//
// Each connection serializes its own requests: a second concurrent forward
// to the same entity queues behind the first, never interleaves on the wire.
package backchannel
