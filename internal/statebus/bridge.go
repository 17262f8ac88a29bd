package statebus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-avr/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-avr/internal/receiver"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the subset of *mqtt.Client the bridge needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Receivers looks up registered receivers. Satisfied by *receiver.Manager.
type Receivers interface {
	Device(id string) (*receiver.Device, error)
	Devices() []*receiver.Device
}

// Executor runs validated commands. Satisfied by *receiver.Dispatcher.
type Executor interface {
	Execute(d *receiver.Device, cmd receiver.Command) error
}

// Options holds the bridge's collaborators.
type Options struct {
	MQTT      MQTTClient
	Receivers Receivers
	Executor  Executor
	Health    HealthReporterConfig
	QoS       byte
	Logger    Logger
}

// Bridge connects the receiver core to MQTT.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt      MQTTClient
	receivers Receivers
	executor  Executor
	health    *HealthReporter
	topics    mqtt.Topics
	qos       byte

	stopOnce sync.Once
	logger   Logger
}

// NewBridge creates a bridge. Call Start to subscribe.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Receivers == nil || opts.Executor == nil {
		return nil, fmt.Errorf("receivers and executor are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	healthCfg := opts.Health
	healthCfg.Publisher = opts.MQTT
	healthCfg.Receivers = opts.Receivers

	b := &Bridge{
		mqtt:      opts.MQTT,
		receivers: opts.Receivers,
		executor:  opts.Executor,
		health:    NewHealthReporter(healthCfg),
		qos:       opts.QoS,
		logger:    logger,
	}
	b.health.SetLogger(logger)
	return b, nil
}

// Start subscribes to receiver commands, republishes every known view and
// starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	topic := b.topics.AllReceiverCommands()
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to receiver commands", "topic", topic)

	for _, d := range b.receivers.Devices() {
		state, at, ok := d.View()
		if !ok {
			continue
		}
		name, _ := d.Sources.Name(state.Source)
		b.publishState(d, receiver.Update{
			ReceiverID: d.ID,
			State:      state,
			SourceName: name,
			Trigger:    receiver.TriggerStartup,
			At:         at,
		})
	}

	b.health.Start(ctx)
	return nil
}

// Stop halts health reporting and publishes a final "stopping" status.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.health.Stop()
		b.logger.Info("state bus stopped")
	})
}

// PublishState renders an update on the receiver's retained state topic.
// It has the receiver.Listener signature.
func (b *Bridge) PublishState(u receiver.Update) {
	d, err := b.receivers.Device(u.ReceiverID)
	if err != nil {
		b.logger.Warn("state update for unknown receiver", "receiver_id", u.ReceiverID)
		return
	}
	b.publishState(d, u)
}

func (b *Bridge) publishState(d *receiver.Device, u receiver.Update) {
	payload, err := json.Marshal(NewStateMessage(d.Name, u, d.PoweringOn()))
	if err != nil {
		b.logger.Error("failed to marshal state", "receiver_id", d.ID, "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.ReceiverState(d.ID), payload, b.qos, true); err != nil {
		b.logger.Warn("failed to publish state", "receiver_id", d.ID, "error", err)
	}
}

// handleCommand processes a command published on a receiver's command topic.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	id, ok := mqtt.ReceiverIDFromTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	var cmd receiver.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishAck(NewAckError(id, cmd, ErrCodeInvalidPayload, "command is not valid JSON"))
		return fmt.Errorf("parsing command for %s: %w", id, err)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logger.Info("received command",
		"command_id", cmd.ID,
		"receiver_id", id,
		"action", cmd.Action,
	)

	d, err := b.receivers.Device(id)
	if err != nil {
		b.publishAck(NewAckError(id, cmd, ErrCodeNotConfigured, fmt.Sprintf("receiver %s not configured", id)))
		return nil
	}

	if err := b.executor.Execute(d, cmd); err != nil {
		b.publishAck(NewAckError(id, cmd, ErrCodeInvalidCommand, err.Error()))
		return nil
	}

	b.publishAck(NewAckMessage(id, cmd, AckAccepted))
	return nil
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.ReceiverAck(ack.ReceiverID), payload, b.qos, false); err != nil {
		b.logger.Warn("failed to publish ack", "receiver_id", ack.ReceiverID, "error", err)
	}
	if ack.Error != nil {
		b.logger.Warn("command rejected",
			"command_id", ack.CommandID,
			"receiver_id", ack.ReceiverID,
			"code", ack.Error.Code,
			"message", ack.Error.Message,
		)
	}
}
