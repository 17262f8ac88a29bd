package receiver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options configures a Manager.
type Options struct {
	Cache   StateCache
	History StateHistory // optional
	Metrics *Metrics     // optional
	Logger  Logger       // optional

	PollInterval time.Duration
	Cooldown     time.Duration
	SettleDelay  time.Duration
}

// Manager owns the registered receivers and wires the synchronizer,
// dispatcher, scheduler and publisher around them.
//
// All public methods are thread-safe.
type Manager struct {
	mu      sync.RWMutex
	devices map[string]*Device
	order   []string

	syncer     *Synchronizer
	pub        *Publisher
	dispatcher *Dispatcher
	scheduler  *Scheduler
	logger     Logger
}

// NewManager creates a manager. opts.Cache is required.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	m := &Manager{
		devices: make(map[string]*Device),
		logger:  logger,
	}

	m.syncer = NewSynchronizer(opts.Cache)
	m.syncer.SetLogger(logger)
	m.syncer.SetMetrics(opts.Metrics)

	m.pub = NewPublisher(opts.History)
	m.pub.SetLogger(logger)
	m.pub.SetMetrics(opts.Metrics)

	m.dispatcher = NewDispatcher(m.syncer, m.pub, opts.Cache, opts.SettleDelay)
	m.dispatcher.SetLogger(logger)
	m.dispatcher.SetMetrics(opts.Metrics)

	m.scheduler = NewScheduler(m.syncer, m.pub, m.Devices, opts.PollInterval, opts.Cooldown)
	m.scheduler.SetLogger(logger)
	m.scheduler.SetMetrics(opts.Metrics)

	return m
}

// Add registers a device. Returns ErrDeviceExists for a duplicate id.
func (m *Manager) Add(d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[d.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDeviceExists, d.ID)
	}
	m.devices[d.ID] = d
	m.order = append(m.order, d.ID)
	return nil
}

// Device returns the device with id, or ErrUnknownDevice.
func (m *Manager) Device(id string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return d, nil
}

// Devices returns all devices in registration order.
func (m *Manager) Devices() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Device, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.devices[id])
	}
	return out
}

// AddListener registers a listener for every published state.
func (m *Manager) AddListener(l Listener) {
	m.pub.AddListener(l)
}

// Dispatcher returns the command dispatcher.
func (m *Manager) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// Synchronizer returns the synchronizer, mainly for observers.
func (m *Manager) Synchronizer() *Synchronizer {
	return m.syncer
}

// PollInterval returns the effective poll interval.
func (m *Manager) PollInterval() time.Duration {
	return m.scheduler.Interval()
}

// Start synchronizes every device once, publishing the results so
// consumers have a view immediately, then starts the poll scheduler.
func (m *Manager) Start(ctx context.Context) error {
	devices := m.Devices()
	m.logger.Info("starting receiver sync",
		"receivers", len(devices),
		"poll_interval", m.scheduler.Interval().String(),
	)

	var g errgroup.Group
	for _, d := range devices {
		g.Go(func() error {
			state := m.syncer.Synchronize(ctx, d)
			m.pub.Publish(ctx, d, state, TriggerStartup)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // Startup syncs never fail

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("starting receiver sync: %w", err)
	}

	m.scheduler.Start(ctx)
	return nil
}

// Stop halts polling and cancels pending command resyncs.
func (m *Manager) Stop() {
	m.scheduler.Stop()
	m.dispatcher.Close()
	m.logger.Info("receiver sync stopped")
}

// Tick runs one poll round immediately.
func (m *Manager) Tick(ctx context.Context) int {
	return m.scheduler.Tick(ctx)
}
