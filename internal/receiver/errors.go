package receiver

import "errors"

// Domain errors for the receiver package.
//
//	if errors.Is(err, receiver.ErrUnknownDevice) {
//	    // 404
//	}
var (
	// ErrNotCached is returned by a StateCache when no entry exists for an id.
	ErrNotCached = errors.New("receiver: no cached state")

	// ErrCorruptCacheEntry is returned when a stored cache entry cannot be decoded.
	ErrCorruptCacheEntry = errors.New("receiver: corrupt cache entry")

	// ErrUnknownDevice is returned when a receiver id is not registered.
	ErrUnknownDevice = errors.New("receiver: unknown device")

	// ErrDeviceExists is returned when registering a receiver id twice.
	ErrDeviceExists = errors.New("receiver: device already registered")

	// ErrInvalidDevice is returned when a device definition is unusable.
	ErrInvalidDevice = errors.New("receiver: invalid device")

	// ErrInvalidCommand is returned by Execute for malformed commands.
	ErrInvalidCommand = errors.New("receiver: invalid command")

	// ErrNoPowerMechanism marks the configuration gap where power control
	// was requested but no mechanism is configured.
	ErrNoPowerMechanism = errors.New("receiver: no power mechanism configured")
)
