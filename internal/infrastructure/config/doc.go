// Package config loads the NAD bridge configuration.
//
// Values come from built-in defaults, then the YAML file, then
// environment variables. Receiver settings use the GRAYLOGIC_NAD_ prefix
// (GRAYLOGIC_NAD_ADDRESS, GRAYLOGIC_NAD_MODEL, GRAYLOGIC_NAD_ZONES,
// GRAYLOGIC_NAD_PRESET_FILE); the rest use GRAYLOGIC_<SECTION>_<KEY>.
//
// Validate reports every problem at once rather than the first. Checks
// that depend on the receiver model (zone and source limits) live in
// nad.Config.Validate, which the daemon runs before opening the database.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
//
// Keep MQTT and InfluxDB credentials in the environment rather than the file.
package config
