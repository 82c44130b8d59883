package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps a single message at 1 MiB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to acknowledge
// it (QoS 1 and 2) or for defaultPublishTimeout.
//
// Parameters:
//   - topic: Full topic, e.g. "graylogic/state/nad/zone1/power"
//   - payload: Message body, usually JSON, at most 1 MiB
//   - qos: 0, 1 or 2
//   - retained: Whether the broker keeps the message for later subscribers
//
// The NAD bridge publishes state and options retained, and acks,
// responses and health not retained.
//
// Returns:
//   - error: nil on success; ErrNotConnected, ErrInvalidTopic, ErrInvalidQoS,
//     or ErrPublishFailed wrapping the broker error or ErrTimeout
//
// Example:
//
//	payload := []byte(`{"channel":"zone1#power","value":true}`)
//	err := client.Publish("graylogic/state/nad/zone1/power", payload, 1, true)
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

	return c.wait(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// PublishString publishes a string payload.
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}

// PublishRetained publishes a retained message at the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}

// wait blocks on token and wraps a timeout or failure in sentinel.
func (c *Client) wait(token pahomqtt.Token, sentinel error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %w after %v", sentinel, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
