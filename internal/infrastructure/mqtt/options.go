package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second

	// defaultDisconnectQuiesce is in milliseconds, as paho expects.
	defaultDisconnectQuiesce = 1000

	maxQoS = 2
)

// buildClientOptions maps the mqtt section of the configuration to paho
// options. Sessions are clean; Client restores subscriptions itself.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// Option customises a Client at Connect time.
type Option func(*connectSettings)

type connectSettings struct {
	willTopic   string
	willPayload []byte
}

// WithWill replaces the default will (the client's offline presence).
// The NAD bridge passes its offline health message here.
func WithWill(topic string, payload []byte) Option {
	return func(s *connectSettings) {
		s.willTopic = topic
		s.willPayload = payload
	}
}

// configureLWT sets the will: retained, QoS 1.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string, settings connectSettings) {
	if settings.willTopic != "" {
		opts.SetBinaryWill(settings.willTopic, settings.willPayload, 1, true)
		return
	}
	opts.SetBinaryWill(PresenceTopic(clientID), presencePayload(clientID, presenceOffline, reasonUnexpected), 1, true)
}

// Presence statuses and reasons.
const (
	presenceOnline  = "online"
	presenceOffline = "offline"

	reasonUnexpected = "unexpected_disconnect"
	reasonShutdown   = "graceful_shutdown"
)

// presenceMessage is published retained on PresenceTopic.
type presenceMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func presencePayload(clientID, status, reason string) []byte {
	payload, err := json.Marshal(presenceMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Strings only; Marshal cannot fail.
		return nil
	}
	return payload
}
