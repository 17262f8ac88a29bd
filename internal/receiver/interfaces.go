package receiver

import "context"

// Client is the device driver for one receiver. Every call must honour
// ctx; the core always passes a context with a short deadline.
type Client interface {
	IsOn(ctx context.Context) (bool, error)
	// Volume returns the raw device volume (0..maxVolume).
	Volume(ctx context.Context) (int, error)
	Muted(ctx context.Context) (bool, error)
	// Source returns the name of the selected input.
	Source(ctx context.Context) (string, error)

	SetSource(ctx context.Context, name string) error
	SetVolume(ctx context.Context, raw int) error
	SetMute(ctx context.Context, muted bool) error
	VolumeUp(ctx context.Context) error
	VolumeDown(ctx context.Context) error
	SendRemoteKey(ctx context.Context, code string) error
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
}

// Prober reports whether a host currently answers on the network.
// It never returns an error; failure is simply false.
type Prober interface {
	Probe(ctx context.Context, host string) bool
}

// StateCache persists the last complete reading per receiver.
// Get returns ErrNotCached when nothing is stored.
type StateCache interface {
	Get(ctx context.Context, id string) (CachedState, error)
	Put(ctx context.Context, id string, state CachedState) error
}

// PowerSwitch turns a receiver on or off by whatever means is configured.
type PowerSwitch interface {
	SetPower(ctx context.Context, on bool) error
}

// StateHistory records published states that differ from the previous one.
type StateHistory interface {
	Record(ctx context.Context, id string, state State, trigger Trigger) error
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
