package influxdb

import (
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	// MeasurementChannel holds one point per receiver channel change.
	MeasurementChannel = "nad_channel"

	// MeasurementBridge holds periodic connection and traffic counters.
	MeasurementBridge = "nad_bridge"
)

// WriteChannelState records a receiver channel value.
//
// The channel ID ("zone1#volumeDB") is split into scope and attribute tags.
// Numbers and booleans go to the "value" field (booleans as 0/1) so they
// can be graphed; strings go to the "text" field.
//
// Example:
//
//	client.WriteChannelState("nad-living", "zone1#volumeDB", -35.0, time.Now())
//	client.WriteChannelState("nad-living", "tuner#rdsName", "BBC R4", time.Now())
func (c *Client) WriteChannelState(bridgeID, channel string, value any, at time.Time) {
	if !c.IsConnected() {
		return
	}

	fields, ok := channelFields(value)
	if !ok {
		return
	}

	scope, attr, _ := strings.Cut(channel, "#")
	tags := map[string]string{
		"bridge": bridgeID,
		"scope":  scope,
		"attr":   attr,
	}
	if at.IsZero() {
		at = time.Now()
	}

	c.writeAPI.WritePoint(write.NewPoint(MeasurementChannel, tags, fields, at))
}

// channelFields maps a channel value onto typed Influx fields.
func channelFields(value any) (map[string]interface{}, bool) {
	switch v := value.(type) {
	case bool:
		n := 0.0
		if v {
			n = 1
		}
		return map[string]interface{}{"value": n}, true
	case float64:
		return map[string]interface{}{"value": v}, true
	case float32:
		return map[string]interface{}{"value": float64(v)}, true
	case int:
		return map[string]interface{}{"value": float64(v)}, true
	case int64:
		return map[string]interface{}{"value": float64(v)}, true
	case string:
		return map[string]interface{}{"text": v}, true
	default:
		return nil, false
	}
}

// BridgeCounters is a snapshot of bridge traffic for WriteBridgeCounters.
type BridgeCounters struct {
	Connected      bool
	LinesTx        uint64
	LinesRx        uint64
	ParseErrors    uint64
	Reconnects     uint64
	CommandsOK     uint64
	CommandsFailed uint64
}

// WriteBridgeCounters records one sample of the bridge's counters.
func (c *Client) WriteBridgeCounters(bridgeID string, counters BridgeCounters) {
	if !c.IsConnected() {
		return
	}
	connected := 0
	if counters.Connected {
		connected = 1
	}
	fields := map[string]interface{}{
		"connected":       connected,
		"lines_tx":        counters.LinesTx,
		"lines_rx":        counters.LinesRx,
		"parse_errors":    counters.ParseErrors,
		"reconnects":      counters.Reconnects,
		"commands_ok":     counters.CommandsOK,
		"commands_failed": counters.CommandsFailed,
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementBridge, map[string]string{"bridge": bridgeID}, fields, time.Now()))
}
