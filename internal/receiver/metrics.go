package receiver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the reconciliation loop.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	syncs        *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	skippedTicks *prometheus.CounterVec
	commands     *prometheus.CounterVec
	power        *prometheus.GaugeVec
	volume       *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		syncs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "avrsync_synchronize_total",
				Help: "Synchronize cycles by outcome (ok, unreachable, incomplete)",
			},
			[]string{"receiver", "outcome"},
		),
		syncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "avrsync_synchronize_duration_seconds",
				Help:    "Duration of synchronize cycles in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"receiver"},
		),
		skippedTicks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "avrsync_poll_skipped_total",
				Help: "Poll ticks skipped per receiver by reason (powering_on, in_flight)",
			},
			[]string{"receiver", "reason"},
		),
		commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "avrsync_commands_total",
				Help: "Device commands by result (ok, failed, unsupported)",
			},
			[]string{"receiver", "command", "result"},
		),
		power: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "avrsync_receiver_power",
				Help: "Last published power state (1 on, 0 off)",
			},
			[]string{"receiver"},
		),
		volume: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "avrsync_receiver_volume_percent",
				Help: "Last published volume in percent",
			},
			[]string{"receiver"},
		),
	}
}

func (m *Metrics) recordSync(id string, outcome Outcome, took time.Duration) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(id, string(outcome)).Inc()
	m.syncDuration.WithLabelValues(id).Observe(took.Seconds())
}

func (m *Metrics) recordSkip(id, reason string) {
	if m == nil {
		return
	}
	m.skippedTicks.WithLabelValues(id, reason).Inc()
}

func (m *Metrics) recordCommand(id, command, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(id, command, result).Inc()
}

func (m *Metrics) recordState(id string, s State) {
	if m == nil {
		return
	}
	power := 0.0
	if s.Power {
		power = 1
	}
	m.power.WithLabelValues(id).Set(power)
	m.volume.WithLabelValues(id).Set(float64(s.Volume))
}
