package entity

import "errors"

// Sentinel errors for the entity runtime.
var (
	// ErrRegistrationRefused indicates the controller answered the register
	// with an error response (duplicate name, unreachable back-channel).
	ErrRegistrationRefused = errors.New("entity: registration refused")

	// ErrControllerUnreachable indicates the discovery endpoint could not be
	// reached at all.
	ErrControllerUnreachable = errors.New("entity: controller unreachable")

	// ErrBadReply indicates the controller answered with something other
	// than a response envelope.
	ErrBadReply = errors.New("entity: unexpected controller reply")
)
