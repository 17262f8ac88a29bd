package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics is the JSON snapshot served on /api/v1/system.
// Prometheus series live on /metrics; this is the quick human-readable view.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          *MQTTMetrics     `json:"mqtt,omitempty"`
	Receivers     ReceiverMetrics  `json:"receivers"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedEvents    uint64 `json:"dropped_events"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// ReceiverMetrics summarises the registered receivers.
type ReceiverMetrics struct {
	Total      int            `json:"total"`
	PoweredOn  int            `json:"powered_on"`
	PoweringOn int            `json:"powering_on"`
	NoState    int            `json:"no_state"`
	ByPhase    map[string]int `json:"by_phase"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleSystem returns runtime, connection and receiver statistics.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			DroppedEvents:    s.hub.Dropped(),
		},
		Receivers: ReceiverMetrics{
			ByPhase: make(map[string]int),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	for _, d := range s.receivers.Devices() {
		metrics.Receivers.Total++
		metrics.Receivers.ByPhase[d.Phase().String()]++
		if d.PoweringOn() {
			metrics.Receivers.PoweringOn++
		}
		state, _, ok := d.View()
		switch {
		case !ok:
			metrics.Receivers.NoState++
		case state.Power:
			metrics.Receivers.PoweredOn++
		}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
