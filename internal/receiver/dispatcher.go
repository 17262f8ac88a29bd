package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultSettleDelay is the wait between a command and its resync.
const DefaultSettleDelay = 2 * time.Second

// Dispatcher turns consumer intents into device commands. Every entry point
// returns immediately: the device call runs in the background, failures are
// logged, and exactly one resync is scheduled afterwards.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Dispatcher struct {
	syncer      *Synchronizer
	pub         *Publisher
	cache       StateCache
	settleDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
	wg     sync.WaitGroup

	logger  Logger
	metrics *Metrics
}

// NewDispatcher creates a dispatcher. A zero settleDelay uses DefaultSettleDelay.
func NewDispatcher(syncer *Synchronizer, pub *Publisher, cache StateCache, settleDelay time.Duration) *Dispatcher {
	if settleDelay <= 0 {
		settleDelay = DefaultSettleDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		syncer:      syncer,
		pub:         pub,
		cache:       cache,
		settleDelay: settleDelay,
		ctx:         ctx,
		cancel:      cancel,
		timers:      make(map[*time.Timer]struct{}),
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger.
func (p *Dispatcher) SetLogger(logger Logger) {
	p.logger = logger
}

// SetMetrics sets the Prometheus collectors.
func (p *Dispatcher) SetMetrics(m *Metrics) {
	p.metrics = m
}

// Close cancels pending resyncs and waits for running device calls.
func (p *Dispatcher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for t := range p.timers {
		t.Stop()
	}
	p.timers = nil
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Power turns the receiver on or off.
//
// Power(true) opens the transition window for d.PowerOnDelay, during which
// poll ticks are skipped; when it closes one resync runs. Power(false) uses
// the ordinary settle delay and leaves any open window alone.
func (p *Dispatcher) Power(d *Device, on bool) {
	command := "power_off"
	if on {
		command = "power_on"
	}

	call := func(ctx context.Context) error {
		if d.power == nil {
			return ErrNoPowerMechanism
		}
		return d.power.SetPower(ctx, on)
	}

	if !on {
		p.send(d, command, d.PowerTimeout, call)
		p.after(p.settleDelay, func() { p.resync(d, TriggerCommand) })
		return
	}

	gen := d.openWindow(d.PowerOnDelay)
	p.logger.Info("power-on transition started",
		"receiver_id", d.ID,
		"window", d.PowerOnDelay.String(),
	)
	p.send(d, command, d.PowerTimeout, call)

	if d.RestoreSourceOnPowerOn {
		p.after(d.RestoreSourceDelay, func() { p.restoreSource(d) })
	}
	p.after(d.PowerOnDelay, func() {
		d.closeWindow(gen)
		p.logger.Info("power-on transition finished", "receiver_id", d.ID)
		p.resync(d, TriggerPowerOn)
	})
}

// SetSource selects the input at index in the device's source table.
func (p *Dispatcher) SetSource(d *Device, index int) {
	name, ok := d.Sources.Name(index)
	if !ok {
		p.logger.Warn("source index not in source table",
			"receiver_id", d.ID,
			"index", index,
			"sources", d.Sources.Len(),
		)
		p.metrics.recordCommand(d.ID, "set_source", "unsupported")
	} else {
		p.send(d, "set_source", d.QueryTimeout, func(ctx context.Context) error {
			return d.client.SetSource(ctx, name)
		})
	}
	p.after(p.settleDelay, func() { p.resync(d, TriggerCommand) })
}

// SetVolume sets an absolute volume in percent of the device's maximum.
func (p *Dispatcher) SetVolume(d *Device, percent int) {
	raw := PercentToVolume(percent, d.MaxVolume)
	p.send(d, "set_volume", d.QueryTimeout, func(ctx context.Context) error {
		return d.client.SetVolume(ctx, raw)
	})
	p.after(p.settleDelay, func() { p.resync(d, TriggerCommand) })
}

// SetMute mutes or unmutes the receiver.
func (p *Dispatcher) SetMute(d *Device, muted bool) {
	p.send(d, "set_mute", d.QueryTimeout, func(ctx context.Context) error {
		return d.client.SetMute(ctx, muted)
	})
	p.after(p.settleDelay, func() { p.resync(d, TriggerCommand) })
}

// SetExternalMute exposes mute with switch semantics: on means audible.
func (p *Dispatcher) SetExternalMute(d *Device, on bool) {
	p.SetMute(d, !on)
}

// StepVolume nudges the volume one device step up or down.
func (p *Dispatcher) StepVolume(d *Device, dir Direction) {
	switch dir {
	case StepUp:
		p.send(d, "volume_up", d.QueryTimeout, d.client.VolumeUp)
	case StepDown:
		p.send(d, "volume_down", d.QueryTimeout, d.client.VolumeDown)
	default:
		p.logger.Warn("unknown volume direction", "receiver_id", d.ID, "direction", dir)
		p.metrics.recordCommand(d.ID, "volume_step", "unsupported")
	}
	p.after(p.settleDelay, func() { p.resync(d, TriggerCommand) })
}

// RemoteKey sends a logical remote-control key. Keys without a device
// code are logged and ignored; the resync still runs.
func (p *Dispatcher) RemoteKey(d *Device, key RemoteKey) {
	code, ok := RemoteKeyCode(key)
	switch {
	case ok:
		p.send(d, "remote_key", d.QueryTimeout, func(ctx context.Context) error {
			return d.client.SendRemoteKey(ctx, code)
		})
	case key == KeyPlayPause:
		p.logger.Info("remote key not available on this receiver", "receiver_id", d.ID, "key", key)
		p.metrics.recordCommand(d.ID, "remote_key", "unsupported")
	default:
		p.logger.Debug("unknown remote key ignored", "receiver_id", d.ID, "key", key)
		p.metrics.recordCommand(d.ID, "remote_key", "unsupported")
	}
	p.after(p.settleDelay, func() { p.resync(d, TriggerCommand) })
}

// send runs call in the background with the device's timeout.
func (p *Dispatcher) send(d *Device, command string, timeout time.Duration, call func(context.Context) error) {
	if !p.track() {
		return
	}
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(p.ctx, timeout)
		defer cancel()

		err := safeCall(ctx, call)
		switch {
		case errors.Is(err, ErrNoPowerMechanism):
			p.logger.Warn("power control requested but no power mechanism is configured; receiver left untouched",
				"receiver_id", d.ID,
				"command", command,
			)
			p.metrics.recordCommand(d.ID, command, "unsupported")
		case err != nil:
			p.logger.Error("receiver command failed",
				"receiver_id", d.ID,
				"command", command,
				"error", err,
			)
			p.metrics.recordCommand(d.ID, command, "failed")
		default:
			p.logger.Debug("receiver command sent", "receiver_id", d.ID, "command", command)
			p.metrics.recordCommand(d.ID, command, "ok")
		}
	}()
}

// track registers a background goroutine; false once closed.
func (p *Dispatcher) track() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.wg.Add(1)
	return true
}

// after runs fn once delay has elapsed unless the dispatcher is closed first.
func (p *Dispatcher) after(delay time.Duration, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		delete(p.timers, t)
		p.wg.Add(1)
		p.mu.Unlock()

		defer p.wg.Done()
		fn()
	})
	p.timers[t] = struct{}{}
}

// resync reads the device and publishes the result. Not gated by the
// poll in-flight guard.
func (p *Dispatcher) resync(d *Device, trigger Trigger) {
	state := p.syncer.Synchronize(p.ctx, d)
	if p.ctx.Err() != nil {
		return
	}
	p.pub.Publish(p.ctx, d, state, trigger)
}

// restoreSource re-selects the last cached input after power-on.
func (p *Dispatcher) restoreSource(d *Device) {
	cached, err := p.cache.Get(p.ctx, d.ID)
	if err != nil {
		p.logger.Debug("no cached source to restore", "receiver_id", d.ID, "error", err)
		return
	}
	name, ok := d.Sources.Name(cached.Source)
	if !ok {
		return
	}
	p.logger.Info("restoring source after power-on", "receiver_id", d.ID, "source", name)

	ctx, cancel := context.WithTimeout(p.ctx, d.QueryTimeout)
	defer cancel()
	if err := safeCall(ctx, func(ctx context.Context) error { return d.client.SetSource(ctx, name) }); err != nil {
		p.logger.Error("source restore failed", "receiver_id", d.ID, "source", name, "error", err)
		p.metrics.recordCommand(d.ID, "restore_source", "failed")
		return
	}
	p.metrics.recordCommand(d.ID, "restore_source", "ok")
}

func safeCall(ctx context.Context, call func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("device command panicked: %v", r)
		}
	}()
	return call(ctx)
}
