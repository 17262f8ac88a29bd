// Package statebus renders receiver state onto MQTT and accepts commands
// from it.
//
// Topics (see mqtt.Topics):
//
//	avrsync/receiver/{id}/state    retained StateMessage, one per publish
//	avrsync/receiver/{id}/command  CommandMessage from consumers
//	avrsync/receiver/{id}/ack      AckMessage for every command
//	avrsync/health                 retained HealthMessage, periodic
//
// Commands are acknowledged as soon as they are validated and handed to
// the dispatcher. The resulting device state arrives later on the state
// topic, after the dispatcher's resync.
package statebus
