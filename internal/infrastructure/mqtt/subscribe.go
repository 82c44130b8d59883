package mqtt

import "fmt"

// Subscribe registers handler for topic, which may hold + and #
// wildcards. The subscription is tracked and restored after reconnects.
// Subscribing again to the same topic replaces the handler.
//
// Parameters:
//   - topic: Topic filter, e.g. "graylogic/command/nad/#"
//   - qos: Maximum QoS for delivered messages (0, 1 or 2)
//   - handler: Called once per message; a returned error is logged
//
// Returns:
//   - error: nil on success; ErrNotConnected, ErrInvalidTopic, ErrInvalidQoS,
//     or ErrSubscribeFailed
//
// Example:
//
//	err := client.Subscribe("graylogic/request/nad/+", 1,
//	    func(topic string, payload []byte) error {
//	        return handleRequest(topic, payload)
//	    })
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := c.wait(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.forget(topic)
		return err
	}
	return nil
}

// Unsubscribe removes a subscription. Messages already in flight may
// still reach the handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.forget(topic)
	return c.wait(c.client.Unsubscribe(topic), ErrUnsubscribeFailed)
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether topic (compared literally) is tracked.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[topic]
	return ok
}
