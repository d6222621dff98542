package registry

import "errors"

// Domain errors for the registry package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, registry.ErrAlreadyRegistered) {
//	    // reject the duplicate registration
//	}
var (
	// ErrAlreadyRegistered is returned when a (type, name) pair is taken.
	ErrAlreadyRegistered = errors.New("registry: already registered")

	// ErrNotRegistered is returned when no record exists for a (type, name) pair.
	ErrNotRegistered = errors.New("registry: not registered")
)
