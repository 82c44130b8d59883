// Package logging wraps log/slog for the NAD bridge and nadctl.
//
// Every entry carries service and version fields. The daemon logs JSON to
// stdout by default; nadctl uses NewWithWriter with text output on stderr
// so command output on stdout stays clean.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// *Logger satisfies the small Logger interfaces declared by the nad, mqtt
// and history packages, so one value is passed everywhere:
//
//	log := logging.New(cfg.Logging, version)
//	handler := nad.NewHandler(nadCfg, nad.WithLogger(log))
//
// MQTT passwords and InfluxDB tokens are never logged.
package logging
