// Package mqtt provides the broker connection used to render receiver state
// to other home automation consumers.
//
// Topic layout:
//
//	avrsync/receiver/{id}/state     retained JSON state
//	avrsync/receiver/{id}/command   inbound commands
//	avrsync/receiver/{id}/ack       command acknowledgements
//	avrsync/health                  retained service health
//	avrsync/system/status           online/offline (LWT)
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllReceiverCommands(), 1, handler)
package mqtt
