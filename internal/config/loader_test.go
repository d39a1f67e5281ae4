package config_test

import (
	"strings"
	"testing"

	"github.com/ilxomkh/survey/internal/config"
)

const validYAML = `
gateway:
  base_url: "https://api.example.com"
  timeout_sec: 20
server:
  listen_addr: ":8090"
  log_level: debug
state:
  path: "/var/lib/surveyor/state.db"
capture:
  slice_interval_sec: 10
  probe_timeout_sec: 15
  finalize_location_timeout_sec: 10
devices:
  recorder:
    name: cmdrec
    options:
      command: "arecord -q -f S16_LE -r 16000 -c 1 -t wav -"
  locator:
    name: gpsd
    options:
      addr: "localhost:2947"
`

func TestLoadFromReaderValid(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Gateway.BaseURL != "https://api.example.com" {
		t.Errorf("gateway.base_url = %q", cfg.Gateway.BaseURL)
	}
	if cfg.Gateway.TimeoutSec != 20 {
		t.Errorf("gateway.timeout_sec = %d, want 20", cfg.Gateway.TimeoutSec)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Devices.Recorder.Name != "cmdrec" {
		t.Errorf("devices.recorder.name = %q, want cmdrec", cfg.Devices.Recorder.Name)
	}
	if got := cfg.Devices.Locator.StringOption("addr", ""); got != "localhost:2947" {
		t.Errorf("locator addr option = %q, want localhost:2947", got)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	yaml := `
gateway:
  base_url: "https://api.example.com"
  basepath: "/v2"
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("unknown field was accepted")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Gateway: config.GatewayConfig{BaseURL: "not a url", TimeoutSec: -1},
		Server:  config.ServerConfig{LogLevel: "verbose"},
		Capture: config.CaptureConfig{SliceIntervalSec: -5},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, want := range []string{"gateway.base_url", "gateway.timeout_sec", "server.log_level", "capture.slice_interval_sec"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestValidateRequiresBaseURL(t *testing.T) {
	t.Parallel()

	if err := config.Validate(&config.Config{}); err == nil || !strings.Contains(err.Error(), "gateway.base_url is required") {
		t.Fatalf("Validate = %v, want base_url requirement", err)
	}
}

func TestDeviceEntryOptions(t *testing.T) {
	t.Parallel()

	e := config.DeviceEntry{Name: "fixed", Options: map[string]any{
		"latitude":  41.31,
		"longitude": 69,
		"label":     "office",
	}}
	if got := e.FloatOption("latitude", 0); got != 41.31 {
		t.Errorf("FloatOption(latitude) = %v, want 41.31", got)
	}
	if got := e.FloatOption("longitude", 0); got != 69 {
		t.Errorf("FloatOption(longitude) = %v, want 69 (yaml integer)", got)
	}
	if got := e.FloatOption("missing", 7.5); got != 7.5 {
		t.Errorf("FloatOption default = %v, want 7.5", got)
	}
	if got := e.StringOption("label", ""); got != "office" {
		t.Errorf("StringOption(label) = %q, want office", got)
	}
	if got := e.StringOption("missing", "fallback"); got != "fallback" {
		t.Errorf("StringOption default = %q, want fallback", got)
	}
}
