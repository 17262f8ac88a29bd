package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementReceiverState = "receiver_state"
	MeasurementSyncOutcome   = "receiver_sync"
)

// ReceiverSample is one published receiver state.
type ReceiverSample struct {
	ReceiverID string
	Power      bool
	Volume     int
	Mute       bool
	Source     int
	SourceName string
	Trigger    string
	Time       time.Time
}

// WriteReceiverState records a published state. Non-blocking; the point is
// batched and sent asynchronously.
func (c *Client) WriteReceiverState(s ReceiverSample) {
	if !c.IsConnected() {
		return
	}

	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{
		"receiver_id": s.ReceiverID,
		"trigger":     s.Trigger,
	}
	if s.SourceName != "" {
		tags["source_name"] = s.SourceName
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementReceiverState,
		tags,
		map[string]interface{}{
			"power":  s.Power,
			"volume": int64(s.Volume),
			"mute":   s.Mute,
			"source": int64(s.Source),
		},
		ts,
	))
}

// WriteSyncOutcome records how a synchronize cycle ended
// ("ok", "unreachable" or "incomplete") and how long it took.
func (c *Client) WriteSyncOutcome(receiverID, outcome string, took time.Duration) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementSyncOutcome,
		map[string]string{
			"receiver_id": receiverID,
			"outcome":     outcome,
		},
		map[string]interface{}{
			"duration_ms": took.Milliseconds(),
		},
		time.Now(),
	))
}
