package statebus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-avr/internal/infrastructure/mqtt"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the interface for publishing health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Service is the service name in health messages.
	Service string

	// Version is the software version.
	Version string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	// Publisher and Receivers are filled in by NewBridge.
	Publisher HealthPublisher
	Receivers Receivers
}

// HealthReporter publishes the retained health message periodically.
type HealthReporter struct {
	service   string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	receivers Receivers
	topic     string

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
	mu       sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a health reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	service := cfg.Service
	if service == "" {
		service = mqtt.TopicPrefix
	}
	return &HealthReporter{
		service:   service,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		receivers: cfg.Receivers,
		topic:     mqtt.Topics{}.Health(),
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "service starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// Snapshot builds the current health message without publishing it.
func (h *HealthReporter) Snapshot() HealthMessage {
	status, reason := h.determineStatus()
	return h.buildMessage(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Service:       h.service,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Receivers:     []ReceiverHealth{},
		Reason:        reason,
	}
	if h.receivers == nil {
		return msg
	}
	for _, d := range h.receivers.Devices() {
		rh := ReceiverHealth{
			ID:         d.ID,
			Phase:      d.Phase().String(),
			PoweringOn: d.PoweringOn(),
		}
		if _, at, ok := d.View(); ok {
			at = at.UTC()
			rh.LastUpdated = &at
		}
		msg.Receivers = append(msg.Receivers, rh)
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	logger.Error(msg, "error", err)
}
