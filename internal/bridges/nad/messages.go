package nad

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MQTT message types exchanged between Gray Logic Core and the NAD bridge.

// Protocol is the protocol identifier used in topics and payloads.
const Protocol = "nad"

// CommandMessage is sent from Core to Bridge to drive one channel.
// Topic: graylogic/command/nad/{scope}/{attribute}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Channel is the channel ID ("zone1#power"). Filled from the topic when
	// omitted.
	Channel string `json:"channel,omitempty"`

	// Command is the command name: on, off, set, percent, increase,
	// decrease, refresh, text.
	Command string `json:"command"`

	// Value is the command argument for set, percent and text.
	Value string `json:"value,omitempty"`

	// Source indicates where the command originated ("api", "scene", ...).
	Source string `json:"source"`

	// UserID is the user who triggered the command (if applicable).
	UserID string `json:"user_id,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was written to the receiver.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is sent from Bridge to Core to acknowledge a command.
// Topic: graylogic/ack/nad/{scope}/{attribute}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeUnsupportedValue  = "UNSUPPORTED_VALUE"
	ErrCodeUnknownChannel    = "UNKNOWN_CHANNEL"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is sent from Bridge to Core when a channel changes.
// Topic: graylogic/state/nad/{scope}/{attribute}
// QoS: 1, Retained: Yes
type StateMessage struct {
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
	Value     any       `json:"value"`
	Protocol  string    `json:"protocol"`
}

// OptionsMessage publishes the selectable values of a channel.
// Topic: graylogic/options/nad/{scope}/{attribute}
// QoS: 1, Retained: Yes
type OptionsMessage struct {
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
	Options   []Option  `json:"options"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the receiver is connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge runs but the receiver is unreachable.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates a configuration problem.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is sent from Bridge to Core to report operational status.
// Topic: graylogic/health/nad
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	ReceiverStatus Status            `json:"receiver_status,omitempty"`
	Connection     *ConnectionStatus `json:"connection,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	Reason         string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the receiver link.
type ConnectionStatus struct {
	Status       string     `json:"status"`
	Address      string     `json:"address"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	LinesReceived uint64 `json:"lines_received"`
	LinesSent     uint64 `json:"lines_sent"`
	ParseErrors   uint64 `json:"parse_errors"`
	Unrecognized  uint64 `json:"unrecognized"`
	Errors        uint64 `json:"errors"`
	Reconnects    uint64 `json:"reconnects"`
}

// RequestMessage is sent from Core to Bridge for request/response operations.
// Topic: graylogic/request/nad/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is "read_state" (one channel) or "read_all".
	Action string `json:"action"`

	// Channel is the target of read_state.
	Channel string `json:"channel,omitempty"`
}

// Request actions.
const (
	ActionReadState = "read_state"
	ActionReadAll   = "read_all"
)

// ResponseMessage is sent from Bridge to Core in response to a request.
// Topic: graylogic/response/nad/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MarshalJSON marshals a CommandMessage with an RFC3339 timestamp.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON unmarshals a CommandMessage from JSON.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Channel:   cmd.Channel,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message for one channel.
func NewStateMessage(channelID string, value any) StateMessage {
	return StateMessage{
		Channel:   channelID,
		Timestamp: time.Now().UTC(),
		Value:     value,
		Protocol:  Protocol,
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, receiver Status, address string, stats ClientStats, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		ReceiverStatus: receiver,
		Connection: &ConnectionStatus{
			Status:  stats.State.String(),
			Address: address,
		},
		Statistics: &BridgeStatistics{
			LinesReceived: stats.LinesRx,
			LinesSent:     stats.LinesTx,
			ParseErrors:   stats.ParseErrors,
			Unrecognized:  stats.Unrecognized,
			Errors:        stats.ErrorsTotal,
			Reconnects:    stats.ReconnectsTotal,
		},
	}
	if !stats.LastActivity.IsZero() {
		last := stats.LastActivity.UTC()
		msg.Connection.LastActivity = &last
	}
	return msg
}

// NewLWTMessage creates the Last Will and Testament published by the broker
// if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all Gray Logic messages.
	TopicPrefix = "graylogic"
)

// channelTopicPath turns "zone1#power" into "zone1/power"; '#' is a
// wildcard in MQTT topics.
func channelTopicPath(channelID string) string {
	return strings.Replace(channelID, channelSep, "/", 1)
}

// CommandTopic returns the MQTT topic for commands to a channel.
// Example: graylogic/command/nad/zone1/power
func CommandTopic(channelID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, channelTopicPath(channelID))
}

// AckTopic returns the MQTT topic for command acknowledgments.
// Example: graylogic/ack/nad/zone1/power
func AckTopic(channelID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, channelTopicPath(channelID))
}

// StateTopic returns the MQTT topic for channel state.
// Example: graylogic/state/nad/zone2/volumeDB
func StateTopic(channelID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, channelTopicPath(channelID))
}

// OptionsTopic returns the MQTT topic for a channel's options.
// Example: graylogic/options/nad/zone1/source
func OptionsTopic(channelID string) string {
	return fmt.Sprintf("%s/options/%s/%s", TopicPrefix, Protocol, channelTopicPath(channelID))
}

// HealthTopic returns the MQTT topic for health status.
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// RequestTopic returns the MQTT topic for requests.
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, Protocol, requestID)
}

// ResponseTopic returns the MQTT topic for responses.
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, Protocol, requestID)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
// Example: graylogic/command/nad/+/+
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/+/+", TopicPrefix, Protocol)
}

// RequestSubscribeTopic returns the subscription pattern for all requests.
// Example: graylogic/request/nad/+
func RequestSubscribeTopic() string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefix, Protocol)
}

// ChannelFromTopic extracts the channel ID from a command, state, ack or
// options topic: graylogic/<kind>/nad/zone1/power → zone1#power.
func ChannelFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != TopicPrefix || parts[2] != Protocol { //nolint:mnd // prefix/kind/protocol/scope/attr
		return "", fmt.Errorf("%w: topic %q", ErrUnknownChannel, topic)
	}
	if parts[3] == "" || parts[4] == "" {
		return "", fmt.Errorf("%w: topic %q", ErrUnknownChannel, topic)
	}
	return ChannelID(parts[3], parts[4]), nil
}
