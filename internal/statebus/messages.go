package statebus

import (
	"time"

	"github.com/nerrad567/gray-logic-avr/internal/receiver"
)

// StateMessage is the retained payload on a receiver's state topic.
type StateMessage struct {
	ReceiverID string           `json:"receiver_id"`
	Name       string           `json:"name,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	Trigger    receiver.Trigger `json:"trigger"`
	Power      bool             `json:"power"`
	Volume     int              `json:"volume"`
	Mute       bool             `json:"mute"`
	Source     int              `json:"source"`
	SourceName string           `json:"source_name,omitempty"`

	// PoweringOn is true while the power-on transition window is open.
	PoweringOn bool `json:"powering_on"`
}

// NewStateMessage builds the state payload for an update.
func NewStateMessage(name string, u receiver.Update, poweringOn bool) StateMessage {
	return StateMessage{
		ReceiverID: u.ReceiverID,
		Name:       name,
		Timestamp:  u.At.UTC(),
		Trigger:    u.Trigger,
		Power:      u.State.Power,
		Volume:     u.State.Volume,
		Mute:       u.State.Mute,
		Source:     u.State.Source,
		SourceName: u.SourceName,
		PoweringOn: poweringOn,
	}
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was validated and dispatched.
	// It says nothing about whether the receiver obeyed.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command was rejected.
	AckFailed AckStatus = "failed"
)

// Error codes for rejected commands.
const (
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	ErrCodeNotConfigured  = "NOT_CONFIGURED"
)

// AckMessage acknowledges a command on the receiver's ack topic.
type AckMessage struct {
	CommandID  string    `json:"command_id"`
	ReceiverID string    `json:"receiver_id"`
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action,omitempty"`
	Status     AckStatus `json:"status"`
	Error      *AckError `json:"error,omitempty"`
}

// AckError contains error details for rejected commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAckMessage creates an acknowledgment for a command.
func NewAckMessage(receiverID string, cmd receiver.Command, status AckStatus) AckMessage {
	return AckMessage{
		CommandID:  cmd.ID,
		ReceiverID: receiverID,
		Timestamp:  time.Now().UTC(),
		Action:     cmd.Action,
		Status:     status,
	}
}

// NewAckError creates a failed acknowledgment.
func NewAckError(receiverID string, cmd receiver.Command, code, message string) AckMessage {
	ack := NewAckMessage(receiverID, cmd, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// HealthStatus represents the operational status of the service.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained payload on the health topic.
type HealthMessage struct {
	Service       string           `json:"service"`
	Timestamp     time.Time        `json:"timestamp"`
	Status        HealthStatus     `json:"status"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Receivers     []ReceiverHealth `json:"receivers"`
	Reason        string           `json:"reason,omitempty"`
}

// ReceiverHealth summarises one receiver in a health message.
type ReceiverHealth struct {
	ID          string     `json:"id"`
	Phase       string     `json:"phase"`
	PoweringOn  bool       `json:"powering_on"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}
