package receiver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// SyncObserver is told how every synchronize cycle ended.
type SyncObserver func(id string, outcome Outcome, took time.Duration)

// Synchronizer reads the current state of a receiver and reconciles it with
// the state cache.
//
// Thread Safety:
//   - Synchronize may run concurrently for the same or different devices.
type Synchronizer struct {
	cache    StateCache
	logger   Logger
	metrics  *Metrics
	observer SyncObserver
}

// NewSynchronizer creates a synchronizer backed by cache.
func NewSynchronizer(cache StateCache) *Synchronizer {
	return &Synchronizer{
		cache:  cache,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger.
func (s *Synchronizer) SetLogger(logger Logger) {
	s.logger = logger
}

// SetMetrics sets the Prometheus collectors.
func (s *Synchronizer) SetMetrics(m *Metrics) {
	s.metrics = m
}

// SetObserver registers a callback for cycle outcomes.
func (s *Synchronizer) SetObserver(o SyncObserver) {
	s.observer = o
}

// reading holds the four independent query results of one cycle.
type reading struct {
	power, volume, mute, source          bool // value present
	isOn, muted                          bool
	raw                                  int
	sourceName                           string
	powerErr, volumeErr, muteErr, srcErr error
}

func (r *reading) complete() bool {
	return r.power && r.volume && r.mute && r.source
}

func (r *reading) missing() []string {
	var out []string
	if !r.power {
		out = append(out, "power")
	}
	if !r.volume {
		out = append(out, "volume")
	}
	if !r.mute {
		out = append(out, "mute")
	}
	if !r.source {
		out = append(out, "source")
	}
	return out
}

// Synchronize returns the best available view of d. It never fails:
// an unreachable receiver or an incomplete reading yields the cached
// fallback, and only a complete reading updates the cache.
func (s *Synchronizer) Synchronize(ctx context.Context, d *Device) State {
	start := time.Now()
	if !d.prober.Probe(ctx, d.Host) {
		s.logger.Warn("receiver unreachable, using cached state", "receiver_id", d.ID, "host", d.Host)
		s.finish(d, OutcomeUnreachable, start)
		return s.fallback(ctx, d)
	}

	r := s.read(ctx, d)
	if !r.complete() {
		s.logger.Warn("incomplete response from receiver, using cached state",
			"receiver_id", d.ID,
			"missing", r.missing(),
			"error", errors.Join(r.powerErr, r.volumeErr, r.muteErr, r.srcErr),
		)
		s.finish(d, OutcomeIncomplete, start)
		return s.fallback(ctx, d)
	}

	state := State{
		Power:  r.isOn,
		Volume: VolumeToPercent(r.raw, d.MaxVolume),
		Mute:   r.muted,
		Source: d.Sources.Index(r.sourceName),
	}

	cached := CachedState{Source: state.Source, Volume: state.Volume, Mute: state.Mute}
	if err := s.cache.Put(ctx, d.ID, cached); err != nil {
		s.logger.Error("failed to write state cache", "receiver_id", d.ID, "error", err)
	}

	s.logger.Debug("receiver synchronized",
		"receiver_id", d.ID,
		"power", state.Power,
		"volume", state.Volume,
		"raw_volume", r.raw,
		"mute", state.Mute,
		"source", r.sourceName,
	)
	s.finish(d, OutcomeOK, start)
	return state
}

// read issues the four queries concurrently. A failed query leaves its
// value absent and does not cancel the others.
func (s *Synchronizer) read(ctx context.Context, d *Device) *reading {
	r := &reading{}
	var g errgroup.Group

	g.Go(func() error {
		r.isOn, r.powerErr = query(ctx, d.QueryTimeout, d.client.IsOn)
		r.power = r.powerErr == nil
		return nil
	})
	g.Go(func() error {
		r.raw, r.volumeErr = query(ctx, d.QueryTimeout, d.client.Volume)
		r.volume = r.volumeErr == nil
		return nil
	})
	g.Go(func() error {
		r.muted, r.muteErr = query(ctx, d.QueryTimeout, d.client.Muted)
		r.mute = r.muteErr == nil
		return nil
	})
	g.Go(func() error {
		r.sourceName, r.srcErr = query(ctx, d.QueryTimeout, d.client.Source)
		r.source = r.srcErr == nil
		return nil
	})

	_ = g.Wait() //nolint:errcheck // Queries report through r
	return r
}

// query runs fn with its own deadline and converts a panic into an error.
func query[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (v T, err error) {
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("device query panicked: %v", p)
		}
	}()
	return fn(qctx)
}

// fallback is the state reported when the device could not be read.
func (s *Synchronizer) fallback(ctx context.Context, d *Device) State {
	cached, err := s.cache.Get(ctx, d.ID)
	if err != nil {
		if !errors.Is(err, ErrNotCached) {
			s.logger.Warn("state cache unreadable, treating as empty", "receiver_id", d.ID, "error", err)
		}
		return State{}
	}

	source := cached.Source
	if !d.Sources.valid(source) {
		source = 0
	}
	return State{Power: false, Volume: 0, Mute: true, Source: source}
}

func (s *Synchronizer) finish(d *Device, outcome Outcome, start time.Time) {
	took := time.Since(start)
	s.metrics.recordSync(d.ID, outcome, took)
	if s.observer != nil {
		s.observer(d.ID, outcome, took)
	}
}
