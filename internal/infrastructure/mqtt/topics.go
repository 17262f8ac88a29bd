package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic this service publishes or consumes.
const TopicPrefix = "avrsync"

// Topics builds the service's MQTT topic names.
//
//	topics := mqtt.Topics{}
//	topics.ReceiverState("living-room")   // avrsync/receiver/living-room/state
//	topics.ReceiverCommand("living-room") // avrsync/receiver/living-room/command
type Topics struct{}

// ReceiverState is the retained topic carrying the latest published state.
func (Topics) ReceiverState(receiverID string) string {
	return fmt.Sprintf("%s/receiver/%s/state", TopicPrefix, receiverID)
}

// ReceiverCommand is the topic consumers publish commands to.
func (Topics) ReceiverCommand(receiverID string) string {
	return fmt.Sprintf("%s/receiver/%s/command", TopicPrefix, receiverID)
}

// ReceiverAck is the topic command acknowledgements are published on.
func (Topics) ReceiverAck(receiverID string) string {
	return fmt.Sprintf("%s/receiver/%s/ack", TopicPrefix, receiverID)
}

// Health is the retained service health topic.
func (Topics) Health() string {
	return TopicPrefix + "/health"
}

// SystemStatus carries online/offline status, including the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllReceiverCommands matches the command topic of every receiver.
func (Topics) AllReceiverCommands() string {
	return TopicPrefix + "/receiver/+/command"
}

// AllReceiverStates matches the state topic of every receiver.
func (Topics) AllReceiverStates() string {
	return TopicPrefix + "/receiver/+/state"
}

// ReceiverIDFromTopic extracts the receiver id from any
// avrsync/receiver/{id}/... topic. ok is false for other topics.
func ReceiverIDFromTopic(topic string) (id string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefix+"/receiver/")
	if !found {
		return "", false
	}
	id, _, found = strings.Cut(rest, "/")
	if !found || id == "" {
		return "", false
	}
	return id, true
}
