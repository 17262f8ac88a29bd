package receiver

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Default timings applied when a DeviceConfig leaves them zero.
const (
	DefaultMaxVolume          = 75
	DefaultPowerOnDelay       = 45 * time.Second
	DefaultRestoreSourceDelay = 12 * time.Second
	DefaultQueryTimeout       = 1500 * time.Millisecond
	DefaultPowerTimeout       = 5 * time.Second
)

// Phase is the poll state of a device as seen by the scheduler.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseCooldown
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseCooldown:
		return "cooldown"
	default:
		return "idle"
	}
}

// DeviceConfig describes one receiver.
type DeviceConfig struct {
	ID        string
	Name      string
	Host      string
	MaxVolume int
	Sources   []string

	PowerOnDelay           time.Duration
	RestoreSourceOnPowerOn bool
	RestoreSourceDelay     time.Duration

	// QueryTimeout bounds every individual device call.
	QueryTimeout time.Duration

	// PowerTimeout bounds the power mechanism, which may be a slow shell command.
	PowerTimeout time.Duration
}

// Device is the per-receiver context shared by the synchronizer, dispatcher
// and scheduler. It is always handled by pointer.
type Device struct {
	ID        string
	Name      string
	Host      string
	MaxVolume int
	Sources   SourceTable

	PowerOnDelay           time.Duration
	RestoreSourceOnPowerOn bool
	RestoreSourceDelay     time.Duration
	QueryTimeout           time.Duration
	PowerTimeout           time.Duration

	client Client
	prober Prober
	power  PowerSwitch // nil when no mechanism is configured

	// inFlight admits at most one poll-triggered synchronize.
	inFlight atomic.Bool
	phase    atomic.Int32

	windowMu    sync.Mutex
	windowOpen  bool
	windowUntil time.Time
	windowGen   uint64

	viewMu  sync.RWMutex
	view    State
	hasView bool
	viewAt  time.Time
}

// NewDevice validates cfg and binds the device to its collaborators.
// power may be nil.
func NewDevice(cfg DeviceConfig, client Client, prober Prober, power PowerSwitch) (*Device, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if client == nil || prober == nil {
		return nil, fmt.Errorf("%w: %s: client and prober are required", ErrInvalidDevice, cfg.ID)
	}
	if cfg.MaxVolume < 0 {
		return nil, fmt.Errorf("%w: %s: max volume must be positive", ErrInvalidDevice, cfg.ID)
	}

	d := &Device{
		ID:                     cfg.ID,
		Name:                   cfg.Name,
		Host:                   cfg.Host,
		MaxVolume:              cfg.MaxVolume,
		Sources:                NewSourceTable(cfg.Sources),
		PowerOnDelay:           cfg.PowerOnDelay,
		RestoreSourceOnPowerOn: cfg.RestoreSourceOnPowerOn,
		RestoreSourceDelay:     cfg.RestoreSourceDelay,
		QueryTimeout:           cfg.QueryTimeout,
		PowerTimeout:           cfg.PowerTimeout,
		client:                 client,
		prober:                 prober,
		power:                  power,
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	if d.MaxVolume == 0 {
		d.MaxVolume = DefaultMaxVolume
	}
	if d.PowerOnDelay == 0 {
		d.PowerOnDelay = DefaultPowerOnDelay
	}
	if d.RestoreSourceDelay == 0 {
		d.RestoreSourceDelay = DefaultRestoreSourceDelay
	}
	if d.QueryTimeout == 0 {
		d.QueryTimeout = DefaultQueryTimeout
	}
	if d.PowerTimeout == 0 {
		d.PowerTimeout = DefaultPowerTimeout
	}
	return d, nil
}

// PoweringOn reports whether the power-on transition window is open.
func (d *Device) PoweringOn() bool {
	d.windowMu.Lock()
	defer d.windowMu.Unlock()
	return d.windowOpen
}

// PoweringOnUntil returns the window deadline, or the zero time when closed.
func (d *Device) PoweringOnUntil() time.Time {
	d.windowMu.Lock()
	defer d.windowMu.Unlock()
	if !d.windowOpen {
		return time.Time{}
	}
	return d.windowUntil
}

// openWindow opens (or extends) the transition window and returns a
// generation token; only the matching closeWindow call closes it.
func (d *Device) openWindow(length time.Duration) uint64 {
	d.windowMu.Lock()
	defer d.windowMu.Unlock()
	d.windowGen++
	d.windowOpen = true
	d.windowUntil = time.Now().Add(length)
	return d.windowGen
}

// closeWindow closes the window if gen is still the latest opening.
func (d *Device) closeWindow(gen uint64) bool {
	d.windowMu.Lock()
	defer d.windowMu.Unlock()
	if gen != d.windowGen || !d.windowOpen {
		return false
	}
	d.windowOpen = false
	d.windowUntil = time.Time{}
	return true
}

// Phase returns the current poll phase.
func (d *Device) Phase() Phase {
	return Phase(d.phase.Load())
}

func (d *Device) setPhase(p Phase) {
	d.phase.Store(int32(p))
}

// View returns the last published state. ok is false before the first publish.
func (d *Device) View() (state State, at time.Time, ok bool) {
	d.viewMu.RLock()
	defer d.viewMu.RUnlock()
	return d.view, d.viewAt, d.hasView
}

// swapView stores s as the current view and reports whether it differs
// from the previous one.
func (d *Device) swapView(s State, at time.Time) (changed bool) {
	d.viewMu.Lock()
	defer d.viewMu.Unlock()
	changed = !d.hasView || d.view != s
	d.view = s
	d.viewAt = at
	d.hasView = true
	return changed
}

// HasPowerMechanism reports whether power on/off can reach the device.
func (d *Device) HasPowerMechanism() bool {
	return d.power != nil
}
