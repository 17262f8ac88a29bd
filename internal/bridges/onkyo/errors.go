package onkyo

import "errors"

// Domain errors for the Onkyo bridge package.
var (
	// ErrConnectionFailed is returned when the receiver cannot be dialled.
	ErrConnectionFailed = errors.New("onkyo: connection to receiver failed")

	// ErrNotConnected is returned when the connection drops while a
	// command is outstanding.
	ErrNotConnected = errors.New("onkyo: not connected to receiver")

	// ErrTimeout is returned when the receiver does not answer a query
	// before the context expires.
	ErrTimeout = errors.New("onkyo: operation timed out")

	// ErrNotAvailable is returned when the receiver answers "N/A", which it
	// does for queries that make no sense in its current mode (for example
	// volume while in standby).
	ErrNotAvailable = errors.New("onkyo: value not available")

	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("onkyo: receiver unavailable")

	// ErrInvalidPacket is returned when an eISCP frame cannot be decoded.
	ErrInvalidPacket = errors.New("onkyo: invalid eISCP packet")

	// ErrUnexpectedResponse is returned when a reply parameter cannot be parsed.
	ErrUnexpectedResponse = errors.New("onkyo: unexpected response")

	// ErrUnknownSource is returned for an input name with no ISCP code.
	ErrUnknownSource = errors.New("onkyo: unknown source")

	// ErrInvalidValue is returned for out-of-range command parameters.
	ErrInvalidValue = errors.New("onkyo: invalid value")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("onkyo: client closed")
)
