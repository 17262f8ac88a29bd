package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps outgoing messages at 1MB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to acknowledge it.
// State topics should be retained; acks and commands should not.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return await(c.client.Publish(topic, qos, retained, payload), defaultPublishTimeout, ErrPublishFailed)
}

// await waits for a paho token and wraps a timeout or broker error in kind.
func await(token pahomqtt.Token, timeout time.Duration, kind error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: timeout after %v", kind, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}

// PublishRetained publishes a retained message with the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.QoS(), true)
}
