package statebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-avr/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-avr/internal/receiver"
)

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockMQTT implements MQTTClient for testing.
type mockMQTT struct {
	mu         sync.Mutex
	connected  bool
	messages   []publishedMessage
	handlers   map[string]mqtt.MessageHandler
	publishErr error
	subErr     error
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.messages = append(m.messages, publishedMessage{topic, payload, qos, retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTT) deliver(t *testing.T, topic string, payload string) error {
	t.Helper()
	m.mu.Lock()
	handler := m.handlers[mqtt.Topics{}.AllReceiverCommands()]
	m.mu.Unlock()
	if handler == nil {
		t.Fatal("no command subscription")
	}
	return handler(topic, []byte(payload))
}

func (m *mockMQTT) published(topic string) []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMessage
	for _, msg := range m.messages {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// stubClient is a receiver that answers nothing; the bridge never talks
// to devices directly.
type stubClient struct{}

func (stubClient) IsOn(context.Context) (bool, error)         { return false, nil }
func (stubClient) Volume(context.Context) (int, error)        { return 0, nil }
func (stubClient) Muted(context.Context) (bool, error)        { return false, nil }
func (stubClient) Source(context.Context) (string, error)     { return "", nil }
func (stubClient) SetSource(context.Context, string) error    { return nil }
func (stubClient) SetVolume(context.Context, int) error       { return nil }
func (stubClient) SetMute(context.Context, bool) error        { return nil }
func (stubClient) VolumeUp(context.Context) error             { return nil }
func (stubClient) VolumeDown(context.Context) error           { return nil }
func (stubClient) SendRemoteKey(context.Context, string) error { return nil }
func (stubClient) PowerOn(context.Context) error              { return nil }
func (stubClient) PowerOff(context.Context) error             { return nil }

type stubProber struct{}

func (stubProber) Probe(context.Context, string) bool { return true }

type fakeReceivers struct {
	devices []*receiver.Device
}

func (f *fakeReceivers) Device(id string) (*receiver.Device, error) {
	for _, d := range f.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", receiver.ErrUnknownDevice, id)
}

func (f *fakeReceivers) Devices() []*receiver.Device {
	return f.devices
}

type fakeExecutor struct {
	mu       sync.Mutex
	commands []receiver.Command
}

func (f *fakeExecutor) Execute(_ *receiver.Device, cmd receiver.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
	return nil
}

func (f *fakeExecutor) executed() []receiver.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]receiver.Command(nil), f.commands...)
}

func newTestDevice(t *testing.T, id string) *receiver.Device {
	t.Helper()
	d, err := receiver.NewDevice(receiver.DeviceConfig{
		ID:      id,
		Name:    "Living Room AVR",
		Host:    "192.0.2.10",
		Sources: []string{"CD", "TUNER"},
	}, stubClient{}, stubProber{}, nil)
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	return d
}

func newTestBridge(t *testing.T) (*Bridge, *mockMQTT, *fakeExecutor, *receiver.Device) {
	t.Helper()
	client := newMockMQTT()
	d := newTestDevice(t, "living-room")
	exec := &fakeExecutor{}

	b, err := NewBridge(Options{
		MQTT:      client,
		Receivers: &fakeReceivers{devices: []*receiver.Device{d}},
		Executor:  exec,
		Health:    HealthReporterConfig{Version: "test", Interval: time.Hour},
		QoS:       1,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b, client, exec, d
}

func decodeAck(t *testing.T, client *mockMQTT, id string) []AckMessage {
	t.Helper()
	var acks []AckMessage
	for _, msg := range client.published(mqtt.Topics{}.ReceiverAck(id)) {
		var ack AckMessage
		if err := json.Unmarshal(msg.payload, &ack); err != nil {
			t.Fatalf("ack not JSON: %v", err)
		}
		if msg.retained {
			t.Error("acks must not be retained")
		}
		acks = append(acks, ack)
	}
	return acks
}

func TestNewBridge_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no mqtt", Options{Receivers: &fakeReceivers{}, Executor: &fakeExecutor{}}},
		{"no receivers", Options{MQTT: newMockMQTT(), Executor: &fakeExecutor{}}},
		{"no executor", Options{MQTT: newMockMQTT(), Receivers: &fakeReceivers{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBridge(tt.opts); err == nil {
				t.Error("NewBridge() should fail")
			}
		})
	}
}

func TestBridge_StartSubscribeError(t *testing.T) {
	client := newMockMQTT()
	client.subErr = errors.New("broker said no")
	b, err := NewBridge(Options{MQTT: client, Receivers: &fakeReceivers{}, Executor: &fakeExecutor{}})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	defer b.Stop()

	if err := b.Start(context.Background()); err == nil || !strings.Contains(err.Error(), "subscribe") {
		t.Errorf("Start() error = %v, want subscribe failure", err)
	}
}

func TestBridge_CommandAccepted(t *testing.T) {
	_, client, exec, _ := newTestBridge(t)

	topic := mqtt.Topics{}.ReceiverCommand("living-room")
	if err := client.deliver(t, topic, `{"id":"cmd-1","action":"volume","value":40}`); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	cmds := exec.executed()
	if len(cmds) != 1 || cmds[0].Action != receiver.ActionVolume || *cmds[0].Value != 40 {
		t.Fatalf("executed = %+v", cmds)
	}

	acks := decodeAck(t, client, "living-room")
	if len(acks) != 1 {
		t.Fatalf("acks = %d, want 1", len(acks))
	}
	if acks[0].Status != AckAccepted || acks[0].CommandID != "cmd-1" || acks[0].Action != "volume" {
		t.Errorf("ack = %+v", acks[0])
	}
}

func TestBridge_CommandWithoutIDGetsOne(t *testing.T) {
	_, client, exec, _ := newTestBridge(t)

	topic := mqtt.Topics{}.ReceiverCommand("living-room")
	if err := client.deliver(t, topic, `{"action":"power","on":true}`); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	cmds := exec.executed()
	if len(cmds) != 1 {
		t.Fatalf("executed = %d commands, want 1", len(cmds))
	}
	if _, err := uuid.Parse(cmds[0].ID); err != nil {
		t.Errorf("generated id %q is not a UUID: %v", cmds[0].ID, err)
	}
	if acks := decodeAck(t, client, "living-room"); acks[0].CommandID != cmds[0].ID {
		t.Errorf("ack id %q does not match command id %q", acks[0].CommandID, cmds[0].ID)
	}
}

func TestBridge_CommandRejected(t *testing.T) {
	tests := []struct {
		name     string
		receiver string
		payload  string
		wantCode string
		wantErr  bool
	}{
		{"invalid json", "living-room", `{"action":`, ErrCodeInvalidPayload, true},
		{"unknown receiver", "attic", `{"action":"mute","on":true}`, ErrCodeNotConfigured, false},
		{"invalid command", "living-room", `{"action":"volume","value":150}`, ErrCodeInvalidCommand, false},
		{"unknown action", "living-room", `{"action":"eject"}`, ErrCodeInvalidCommand, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client, exec, _ := newTestBridge(t)

			err := client.deliver(t, mqtt.Topics{}.ReceiverCommand(tt.receiver), tt.payload)
			if (err != nil) != tt.wantErr {
				t.Errorf("handler error = %v, wantErr %v", err, tt.wantErr)
			}
			if n := len(exec.executed()); n != 0 {
				t.Errorf("executed %d commands, want 0", n)
			}

			acks := decodeAck(t, client, tt.receiver)
			if len(acks) != 1 {
				t.Fatalf("acks = %d, want 1", len(acks))
			}
			if acks[0].Status != AckFailed || acks[0].Error == nil || acks[0].Error.Code != tt.wantCode {
				t.Errorf("ack = %+v, want failed %s", acks[0], tt.wantCode)
			}
		})
	}
}

func TestBridge_UnexpectedTopic(t *testing.T) {
	_, client, _, _ := newTestBridge(t)
	if err := client.deliver(t, "avrsync/health", `{}`); err == nil {
		t.Error("handler should reject a non-receiver topic")
	}
}

func TestBridge_PublishState(t *testing.T) {
	b, client, _, d := newTestBridge(t)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	b.PublishState(receiver.Update{
		ReceiverID: d.ID,
		State:      receiver.State{Power: true, Volume: 49, Source: 1},
		SourceName: "TUNER",
		Trigger:    receiver.TriggerPoll,
		At:         at,
	})
	b.PublishState(receiver.Update{ReceiverID: "attic"})

	msgs := client.published(mqtt.Topics{}.ReceiverState(d.ID))
	if len(msgs) != 1 {
		t.Fatalf("state messages = %d, want 1", len(msgs))
	}
	if !msgs[0].retained {
		t.Error("state must be retained")
	}

	var got StateMessage
	if err := json.Unmarshal(msgs[0].payload, &got); err != nil {
		t.Fatalf("state not JSON: %v", err)
	}
	if !got.Timestamp.Equal(at) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, at)
	}
	got.Timestamp = time.Time{}
	want := StateMessage{
		ReceiverID: "living-room",
		Name:       "Living Room AVR",
		Trigger:    receiver.TriggerPoll,
		Power:      true,
		Volume:     49,
		Source:     1,
		SourceName: "TUNER",
	}
	if got != want {
		t.Errorf("state = %+v\nwant    %+v", got, want)
	}
}

func TestBridge_PublishErrorsAreSwallowed(t *testing.T) {
	b, client, _, d := newTestBridge(t)
	client.mu.Lock()
	client.publishErr = errors.New("offline")
	client.mu.Unlock()

	b.PublishState(receiver.Update{ReceiverID: d.ID})
	if err := client.deliver(t, mqtt.Topics{}.ReceiverCommand(d.ID), `{"action":"mute","on":false}`); err != nil {
		t.Errorf("handler error = %v", err)
	}
}
