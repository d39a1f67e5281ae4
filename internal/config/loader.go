package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("gateway.base_url is required"))
	} else if u, err := url.Parse(cfg.Gateway.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("gateway.base_url %q is not an absolute URL", cfg.Gateway.BaseURL))
	}
	if cfg.Gateway.TimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("gateway.timeout_sec %d must not be negative", cfg.Gateway.TimeoutSec))
	}

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Capture.SliceIntervalSec < 0 {
		errs = append(errs, fmt.Errorf("capture.slice_interval_sec %d must not be negative", cfg.Capture.SliceIntervalSec))
	}
	if cfg.Capture.ProbeTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("capture.probe_timeout_sec %d must not be negative", cfg.Capture.ProbeTimeoutSec))
	}
	if cfg.Capture.FinalizeLocationTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("capture.finalize_location_timeout_sec %d must not be negative", cfg.Capture.FinalizeLocationTimeoutSec))
	}
	if cfg.Capture.SampleMaxAgeSec < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_max_age_sec %d must not be negative", cfg.Capture.SampleMaxAgeSec))
	}

	return errors.Join(errs...)
}
