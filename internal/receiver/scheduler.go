package receiver

import (
	"context"
	"sync"
	"time"
)

// Poll scheduler defaults.
const (
	MinPollInterval     = 3 * time.Second
	DefaultPollInterval = 30 * time.Second
	DefaultCooldown     = time.Second
)

// Skip reasons reported in logs and metrics.
const (
	skipPoweringOn = "powering_on"
	skipInFlight   = "in_flight"
)

// Scheduler triggers a synchronize for every device on a fixed interval.
//
// Per device and tick: an open power-on window skips the device; a cycle
// already in flight skips it too (ticks are never queued); otherwise the
// guard is taken, the device is synchronized, the result published and the
// guard released after the cooldown.
type Scheduler struct {
	interval time.Duration
	cooldown time.Duration
	devices  func() []*Device

	syncer *Synchronizer
	pub    *Publisher

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
	stopped  bool
	mu       sync.Mutex

	logger  Logger
	metrics *Metrics
}

// NewScheduler creates a scheduler over the devices returned by devices.
// interval is raised to MinPollInterval; zero values take the defaults.
func NewScheduler(syncer *Synchronizer, pub *Publisher, devices func() []*Device, interval, cooldown time.Duration) *Scheduler {
	if interval == 0 {
		interval = DefaultPollInterval
	}
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Scheduler{
		interval: interval,
		cooldown: cooldown,
		devices:  devices,
		syncer:   syncer,
		pub:      pub,
		done:     make(chan struct{}),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// SetMetrics sets the Prometheus collectors.
func (s *Scheduler) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Interval returns the effective poll interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start begins ticking. It returns immediately; ticking stops when ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// Stop stops ticking and waits for running cycles to finish.
// Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		close(s.done)
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// Tick runs one poll round and returns how many device cycles it started.
// Cycles run in the background, one goroutine per device.
func (s *Scheduler) Tick(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0
	}

	started := 0
	for _, d := range s.devices() {
		if d.PoweringOn() {
			s.logger.Debug("poll skipped: receiver is powering on",
				"receiver_id", d.ID,
				"until", d.PoweringOnUntil(),
			)
			s.metrics.recordSkip(d.ID, skipPoweringOn)
			continue
		}
		if !d.inFlight.CompareAndSwap(false, true) {
			s.logger.Debug("poll skipped: previous cycle still in flight", "receiver_id", d.ID)
			s.metrics.recordSkip(d.ID, skipInFlight)
			continue
		}

		d.setPhase(PhaseRunning)
		s.wg.Add(1)
		go s.cycle(ctx, d)
		started++
	}
	return started
}

func (s *Scheduler) cycle(ctx context.Context, d *Device) {
	defer s.wg.Done()
	defer func() {
		d.setPhase(PhaseIdle)
		d.inFlight.Store(false)
	}()

	state := s.syncer.Synchronize(ctx, d)
	if ctx.Err() != nil {
		return
	}
	s.pub.Publish(ctx, d, state, TriggerPoll)

	d.setPhase(PhaseCooldown)
	timer := time.NewTimer(s.cooldown)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.done:
	case <-ctx.Done():
	}
}
