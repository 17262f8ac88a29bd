package receiver

import (
	"context"
	"sync"
	"time"
)

// Publisher is the consumer view. It stores each device's latest state,
// records changes to the history store and fans updates out to listeners.
//
// Publication is last-write-wins: a poll result and a command resync that
// race simply overwrite each other in arrival order.
type Publisher struct {
	mu        sync.RWMutex
	listeners []Listener

	history StateHistory
	metrics *Metrics
	logger  Logger
}

// NewPublisher creates a publisher. history may be nil.
func NewPublisher(history StateHistory) *Publisher {
	return &Publisher{
		history: history,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger.
func (p *Publisher) SetLogger(logger Logger) {
	p.logger = logger
}

// SetMetrics sets the Prometheus collectors.
func (p *Publisher) SetMetrics(m *Metrics) {
	p.metrics = m
}

// AddListener registers l for every future update.
func (p *Publisher) AddListener(l Listener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
}

// Publish replaces d's view with s and notifies listeners.
func (p *Publisher) Publish(ctx context.Context, d *Device, s State, trigger Trigger) {
	now := time.Now()
	changed := d.swapView(s, now)
	p.metrics.recordState(d.ID, s)

	if changed && p.history != nil {
		if err := p.history.Record(ctx, d.ID, s, trigger); err != nil {
			p.logger.Warn("failed to record state history", "receiver_id", d.ID, "error", err)
		}
	}

	name, _ := d.Sources.Name(s.Source)
	u := Update{
		ReceiverID: d.ID,
		State:      s,
		SourceName: name,
		Trigger:    trigger,
		Changed:    changed,
		At:         now,
	}

	p.mu.RLock()
	listeners := make([]Listener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.RUnlock()

	for _, l := range listeners {
		p.notify(l, u)
	}

	p.logger.Debug("state published",
		"receiver_id", d.ID,
		"trigger", trigger,
		"changed", changed,
		"power", s.Power,
		"volume", s.Volume,
		"mute", s.Mute,
		"source", s.Source,
	)
}

func (p *Publisher) notify(l Listener, u Update) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("state listener panic recovered", "receiver_id", u.ReceiverID, "panic", r)
		}
	}()
	l(u)
}
