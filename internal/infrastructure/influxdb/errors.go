package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned when the server cannot be reached.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by operations on a closed client.
	ErrNotConnected = errors.New("influxdb: not connected")
)
