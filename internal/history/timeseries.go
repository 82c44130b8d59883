package history

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-nad/internal/bridges/nad"
)

// PointWriter is the time-series sink (influxdb.Client).
type PointWriter interface {
	WriteChannelState(bridgeID, channel string, value any, at time.Time)
}

// TimeSeries forwards channel changes to a PointWriter. Writes are batched
// by the sink, so RecordState never blocks on the network.
type TimeSeries struct {
	BridgeID string
	Writer   PointWriter
}

// RecordState implements nad.StateObserver.
func (ts TimeSeries) RecordState(_ context.Context, change nad.StateChange) error {
	if ts.Writer == nil {
		return nil
	}
	ts.Writer.WriteChannelState(ts.BridgeID, change.Channel, change.Value, change.Timestamp)
	return nil
}
