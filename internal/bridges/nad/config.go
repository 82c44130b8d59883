package nad

import (
	"fmt"
	"strings"
	"time"
)

// Default receiver settings.
const (
	DefaultSourceCount = 10
	maxSourceCount     = 12
)

// ModelProfile describes the limits of one receiver model family.
type ModelProfile struct {
	Model   string
	Zones   int
	Sources int
	Tuner   bool
}

// modelProfiles lists models with limits below MaxZones or a different
// source count. Unknown models get the most permissive profile.
var modelProfiles = map[string]ModelProfile{
	"T748": {Model: "T748", Zones: 2, Sources: 10, Tuner: true},
	"T758": {Model: "T758", Zones: 2, Sources: 10, Tuner: true},
	"T765": {Model: "T765", Zones: 4, Sources: 10, Tuner: true},
	"T775": {Model: "T775", Zones: 4, Sources: 10, Tuner: true},
	"T785": {Model: "T785", Zones: 4, Sources: 10, Tuner: true},
	"T187": {Model: "T187", Zones: 2, Sources: 10, Tuner: false},
	"C368": {Model: "C368", Zones: 1, Sources: 8, Tuner: false},
}

// LookupModel returns the profile for a model name. The second result is
// false for unknown models.
func LookupModel(model string) (ModelProfile, bool) {
	p, ok := modelProfiles[strings.ToUpper(strings.TrimSpace(model))]
	if !ok {
		return ModelProfile{Model: model, Zones: MaxZones, Sources: maxSourceCount, Tuner: true}, false
	}
	return p, true
}

// Config is the handler configuration for one receiver.
type Config struct {
	// Address is the receiver address, see ClientConfig.Address.
	Address string

	// Model selects the zone and source limits. Optional.
	Model string

	// Zones is the number of zones to control (1..4, limited by model).
	Zones int

	// Sources is the number of input sources. Default: 10.
	Sources int

	// Tuner enables the tuner channels and monitors.
	Tuner bool

	// PresetFile is an optional YAML preset-name file.
	PresetFile string

	// RefreshInterval re-queries every channel periodically. 0 disables.
	RefreshInterval time.Duration

	// BandCheckInterval, RDSPollInterval and XMPollInterval drive the tuner
	// monitors. Defaults: 10s, 25s, 10s.
	BandCheckInterval time.Duration
	RDSPollInterval   time.Duration
	XMPollInterval    time.Duration

	// Client timeouts and backoff; zero values take the client defaults.
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	SendRetries       int
	FastRetries       int
	FastRetryInterval time.Duration
	SlowRetryInterval time.Duration
}

// Validate checks the configuration against the model profile. All
// problems are reported together, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Address) == "" {
		errs = append(errs, "address is required")
	} else if _, err := parseConnectionURL(c.Address); err != nil {
		errs = append(errs, fmt.Sprintf("address: %v", err))
	}

	profile, _ := LookupModel(c.Model)
	if c.Zones < 1 || c.Zones > profile.Zones {
		errs = append(errs, fmt.Sprintf("zones must be between 1 and %d for model %q, got %d", profile.Zones, profile.Model, c.Zones))
	}
	if c.Sources < 0 {
		errs = append(errs, fmt.Sprintf("sources must not be negative, got %d", c.Sources))
	} else if c.Sources > profile.Sources {
		errs = append(errs, fmt.Sprintf("sources must be at most %d for model %q, got %d", profile.Sources, profile.Model, c.Sources))
	}
	if c.Tuner && !profile.Tuner {
		errs = append(errs, fmt.Sprintf("model %q has no tuner", profile.Model))
	}
	if c.RefreshInterval < 0 {
		errs = append(errs, "refresh interval must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// SourceCount returns Sources, or when unset the default capped to the
// model's source count.
func (c *Config) SourceCount() int {
	if c.Sources > 0 {
		return c.Sources
	}
	profile, _ := LookupModel(c.Model)
	return min(DefaultSourceCount, profile.Sources)
}

// ClientConfig returns the connection settings for NewClient.
func (c *Config) ClientConfig() ClientConfig {
	return ClientConfig{
		Address:           c.Address,
		ConnectTimeout:    c.ConnectTimeout,
		ReadTimeout:       c.ReadTimeout,
		WriteTimeout:      c.WriteTimeout,
		SendRetries:       c.SendRetries,
		FastRetries:       c.FastRetries,
		FastRetryInterval: c.FastRetryInterval,
		SlowRetryInterval: c.SlowRetryInterval,
	}
}
