// Package influxdb is the optional time-series sink of the NAD bridge.
//
// Two measurements are written through a batching, non-blocking write API:
//
//	nad_channel  tags bridge, scope, attr  fields value (number) | text (string)
//	nad_bridge   tags bridge               fields connected, lines_tx, lines_rx, ...
//
// Booleans such as zone1#power are stored as 0/1 so they graph alongside
// volume. Recent values are also kept in SQLite by the history package, so
// the bridge runs without InfluxDB when influxdb.enabled is false.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without time series
//	}
//	client.WriteChannelState("nad-living", "zone1#volumeDB", -35.0, time.Now())
package influxdb
