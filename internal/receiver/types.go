package receiver

import (
	"math"
	"strings"
	"time"
)

// State is the consumer-facing snapshot of a receiver.
// A new State replaces the previous view wholesale; it is never patched.
type State struct {
	Power  bool `json:"power"`
	Volume int  `json:"volume"` // percent, 0-100 in normal operation
	Mute   bool `json:"mute"`
	Source int  `json:"source"` // index into the device's SourceTable
}

// CachedState is the last known good source/volume/mute for a receiver.
// There is no Power field: an unreachable receiver is reported off.
type CachedState struct {
	Source int  `json:"source"`
	Volume int  `json:"volume"`
	Mute   bool `json:"mute"`
}

// Trigger names what caused a state to be published.
type Trigger string

const (
	TriggerStartup Trigger = "startup"
	TriggerPoll    Trigger = "poll"
	TriggerCommand Trigger = "command"
	TriggerPowerOn Trigger = "power_on"
)

// Outcome classifies a synchronize cycle.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeUnreachable Outcome = "unreachable"
	OutcomeIncomplete  Outcome = "incomplete"
)

// Update is delivered to listeners every time a state is published.
type Update struct {
	ReceiverID string
	State      State
	SourceName string
	Trigger    Trigger
	// Changed is false when the state equals the previously published one.
	Changed bool
	At      time.Time
}

// Listener receives published updates. Listeners run synchronously on the
// publishing goroutine and must not block.
type Listener func(Update)

// Direction is a relative volume step.
type Direction string

const (
	StepUp   Direction = "up"
	StepDown Direction = "down"
)

// RemoteKey is a logical remote-control key.
type RemoteKey string

const (
	KeyArrowUp     RemoteKey = "ARROW_UP"
	KeyArrowDown   RemoteKey = "ARROW_DOWN"
	KeyArrowLeft   RemoteKey = "ARROW_LEFT"
	KeyArrowRight  RemoteKey = "ARROW_RIGHT"
	KeySelect      RemoteKey = "SELECT"
	KeyBack        RemoteKey = "BACK"
	KeyInformation RemoteKey = "INFORMATION"
	KeyPlayPause   RemoteKey = "PLAY_PAUSE"
)

// remoteKeyCodes maps logical keys to the receiver's on-screen menu codes.
// PLAY_PAUSE has no equivalent and is intentionally missing.
var remoteKeyCodes = map[RemoteKey]string{
	KeyArrowUp:     "UP",
	KeyArrowDown:   "DOWN",
	KeyArrowLeft:   "LEFT",
	KeyArrowRight:  "RIGHT",
	KeySelect:      "ENTER",
	KeyBack:        "EXIT",
	KeyInformation: "MENU",
}

// RemoteKeyCode returns the device code for a logical key.
func RemoteKeyCode(key RemoteKey) (string, bool) {
	code, ok := remoteKeyCodes[key]
	return code, ok
}

// VolumeToPercent scales a raw device volume to a percentage of maxVolume.
// The result is not clamped.
func VolumeToPercent(raw, maxVolume int) int {
	if maxVolume <= 0 {
		return 0
	}
	return int(math.Round(float64(raw) / float64(maxVolume) * 100))
}

// PercentToVolume scales a percentage to raw device units. Not clamped.
func PercentToVolume(percent, maxVolume int) int {
	return int(math.Round(float64(maxVolume) / 100 * float64(percent)))
}

// SourceTable is the ordered list of input names a receiver exposes.
// The position of a name is the source index seen by consumers.
type SourceTable struct {
	names []string
}

// NewSourceTable copies names into a table.
func NewSourceTable(names []string) SourceTable {
	return SourceTable{names: append([]string(nil), names...)}
}

// Index returns the position of name, matched case-insensitively.
// Unknown names map to 0.
func (t SourceTable) Index(name string) int {
	name = strings.TrimSpace(name)
	for i, n := range t.names {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	return 0
}

// Name returns the source name at index.
func (t SourceTable) Name(index int) (string, bool) {
	if index < 0 || index >= len(t.names) {
		return "", false
	}
	return t.names[index], true
}

// Len returns the number of sources.
func (t SourceTable) Len() int {
	return len(t.names)
}

// Names returns a copy of the table.
func (t SourceTable) Names() []string {
	return append([]string(nil), t.names...)
}

// valid reports whether index addresses an entry, treating an empty table
// as having the single default index 0.
func (t SourceTable) valid(index int) bool {
	if len(t.names) == 0 {
		return index == 0
	}
	return index >= 0 && index < len(t.names)
}
