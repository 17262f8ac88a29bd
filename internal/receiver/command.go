package receiver

import (
	"fmt"
	"strings"
)

// Command actions accepted by Execute.
const (
	ActionPower        = "power"
	ActionSource       = "source"
	ActionVolume       = "volume"
	ActionMute         = "mute"
	ActionExternalMute = "external_mute"
	ActionVolumeStep   = "volume_step"
	ActionRemoteKey    = "remote_key"
)

// Command is the transport-neutral form of a consumer intent, as received
// over MQTT or HTTP.
//
//	{"action":"power","on":true}
//	{"action":"volume","value":40}
//	{"action":"source","value":2}
//	{"action":"mute","on":true}
//	{"action":"volume_step","direction":"up"}
//	{"action":"remote_key","key":"SELECT"}
type Command struct {
	ID        string    `json:"id,omitempty"`
	Action    string    `json:"action"`
	On        *bool     `json:"on,omitempty"`
	Value     *int      `json:"value,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	Key       RemoteKey `json:"key,omitempty"`
}

// Validate checks that the fields required by the action are present.
func (c Command) Validate() error {
	switch c.Action {
	case ActionPower, ActionMute, ActionExternalMute:
		if c.On == nil {
			return fmt.Errorf("%w: %s requires \"on\"", ErrInvalidCommand, c.Action)
		}
	case ActionSource:
		if c.Value == nil || *c.Value < 0 {
			return fmt.Errorf("%w: source requires a non-negative \"value\"", ErrInvalidCommand)
		}
	case ActionVolume:
		if c.Value == nil || *c.Value < 0 || *c.Value > 100 {
			return fmt.Errorf("%w: volume requires \"value\" between 0 and 100", ErrInvalidCommand)
		}
	case ActionVolumeStep:
		if c.Direction != StepUp && c.Direction != StepDown {
			return fmt.Errorf("%w: volume_step requires \"direction\" up or down", ErrInvalidCommand)
		}
	case ActionRemoteKey:
		if c.Key == "" {
			return fmt.Errorf("%w: remote_key requires \"key\"", ErrInvalidCommand)
		}
	case "":
		return fmt.Errorf("%w: action is required", ErrInvalidCommand)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, c.Action)
	}
	return nil
}

// Execute validates cmd and hands it to the matching entry point. The only
// error it returns is a validation error; device failures are logged later.
func (p *Dispatcher) Execute(d *Device, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	switch cmd.Action {
	case ActionPower:
		p.Power(d, *cmd.On)
	case ActionSource:
		p.SetSource(d, *cmd.Value)
	case ActionVolume:
		p.SetVolume(d, *cmd.Value)
	case ActionMute:
		p.SetMute(d, *cmd.On)
	case ActionExternalMute:
		p.SetExternalMute(d, *cmd.On)
	case ActionVolumeStep:
		p.StepVolume(d, cmd.Direction)
	case ActionRemoteKey:
		p.RemoteKey(d, RemoteKey(strings.ToUpper(string(cmd.Key))))
	}
	return nil
}
