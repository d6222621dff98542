package backchannel

import "errors"

// Domain errors for back-channel operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectFailed is returned when dialing an entity's endpoint fails.
	ErrConnectFailed = errors.New("backchannel: connect failed")

	// ErrTimeout is returned when a request exceeds its deadline.
	ErrTimeout = errors.New("backchannel: request timed out")

	// ErrUnreachable is returned when a request fails for I/O reasons other
	// than a timeout.
	ErrUnreachable = errors.New("backchannel: entity unreachable")

	// ErrClosed is returned when using a connection after Close.
	ErrClosed = errors.New("backchannel: connection closed")

	// ErrBadResponse is returned when the peer answers with bytes that do not
	// decode as an envelope. The connection is dropped.
	ErrBadResponse = errors.New("backchannel: undecodable response")
)
