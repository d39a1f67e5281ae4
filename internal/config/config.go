// Package config provides the configuration schema, loader, and device
// provider registry for the surveyor client.
package config

// LogLevel controls log verbosity for the surveyor client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the surveyor client.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Server  ServerConfig  `yaml:"server"`
	State   StateConfig   `yaml:"state"`
	Capture CaptureConfig `yaml:"capture"`
	Devices DevicesConfig `yaml:"devices"`
}

// GatewayConfig points the client at the survey backend.
type GatewayConfig struct {
	// BaseURL is the backend origin (e.g., "https://api.example.com").
	BaseURL string `yaml:"base_url"`

	// TimeoutSec bounds individual HTTP requests. 0 means the client default.
	TimeoutSec int `yaml:"timeout_sec"`
}

// ServerConfig holds settings for the optional local listener that serves
// health checks, metrics, and the gateway passthrough.
type ServerConfig struct {
	// ListenAddr is the TCP address the listener binds (e.g., ":8090").
	// Empty disables the listener entirely.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// StateConfig locates the persisted client state.
type StateConfig struct {
	// Path is the SQLite database file. Defaults to "surveyor.db".
	Path string `yaml:"path"`
}

// CaptureConfig tunes the recording session timings. Zero values take the
// controller defaults.
type CaptureConfig struct {
	// SliceIntervalSec is the audio slice emission period in seconds.
	SliceIntervalSec int `yaml:"slice_interval_sec"`

	// ProbeTimeoutSec bounds the position read that gates session start.
	ProbeTimeoutSec int `yaml:"probe_timeout_sec"`

	// FinalizeLocationTimeoutSec bounds the fallback position read during
	// finalize.
	FinalizeLocationTimeoutSec int `yaml:"finalize_location_timeout_sec"`

	// SampleMaxAgeSec is how old a cached position sample may be before
	// finalize takes a fresh read instead.
	SampleMaxAgeSec int `yaml:"sample_max_age_sec"`
}

// DevicesConfig selects the recorder and locator implementations.
type DevicesConfig struct {
	Recorder DeviceEntry `yaml:"recorder"`
	Locator  DeviceEntry `yaml:"locator"`
}

// DeviceEntry is the common configuration block shared by all device kinds.
// The Name field is used to look up the constructor in the [Registry].
type DeviceEntry struct {
	// Name selects the registered implementation (e.g., "cmdrec", "gpsd",
	// "fixed").
	Name string `yaml:"name"`

	// Options holds implementation-specific values not covered by a standard
	// field: the capture command line for cmdrec, the daemon address for
	// gpsd, the coordinates for fixed.
	Options map[string]any `yaml:"options"`
}

// StringOption returns the named option as a string, or def when absent or
// not a string.
func (e DeviceEntry) StringOption(name, def string) string {
	if v, ok := e.Options[name].(string); ok && v != "" {
		return v
	}
	return def
}

// FloatOption returns the named option as a float64, accepting YAML integers
// too, or def when absent.
func (e DeviceEntry) FloatOption(name string, def float64) float64 {
	switch v := e.Options[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}
