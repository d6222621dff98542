package protocol

import "errors"

// Protocol errors. A message failing with any of these must be treated as a
// hard failure: the carrying connection is dropped (or the message discarded
// on fire-and-forget channels) and nothing is processed.
//
// Use errors.Is() to check:
//
//	if errors.Is(err, protocol.ErrUnknownKind) {
//	    // close the connection
//	}
var (
	// ErrMalformedEnvelope is returned when the outer envelope cannot be parsed.
	ErrMalformedEnvelope = errors.New("protocol: malformed envelope")

	// ErrUnknownKind is returned when the payload kind is outside the closed set.
	ErrUnknownKind = errors.New("protocol: unknown payload kind")

	// ErrMalformedPayload is returned when the payload bytes do not parse as
	// the declared kind.
	ErrMalformedPayload = errors.New("protocol: malformed payload")

	// ErrInvalidPayload is returned when a payload parses but violates the
	// schema (missing one-of member, invalid enum value, out-of-range port).
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)
