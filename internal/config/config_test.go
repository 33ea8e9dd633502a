package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `
clock:
  start: 2025-06-01T12:00:00Z
  tick: 5ms
  duration: 2s
manager:
  workers: 3
  threaded: true
sensors:
  - name: cam1
    plugin: camera.so
    parent: robot::head
    rate: 30
    params:
      width: 64
      fov: 1.2
  - name: imu1
    plugin: libimu.so
    rate: 100
events:
  - at: 500ms
    action: load
    sensor: {name: lidar1, plugin: lidar.so, rate: 10}
  - at: 1s
    action: remove
    name: cam1
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !cfg.Clock.Start.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("clock.start = %v", cfg.Clock.Start)
	}
	if cfg.Clock.Tick != 5*time.Millisecond || cfg.Clock.Duration != 2*time.Second {
		t.Fatalf("clock = %+v", cfg.Clock)
	}
	if cfg.Clock.Mode != DefaultMode {
		t.Fatalf("clock.mode = %q, want default %q", cfg.Clock.Mode, DefaultMode)
	}
	if cfg.Manager.Pace != DefaultPace || cfg.Manager.Workers != 3 || !cfg.Manager.Threaded {
		t.Fatalf("manager = %+v", cfg.Manager)
	}
	if cfg.Metrics.Addr != DefaultMetricsAddr || cfg.Control.Addr != DefaultControlAddr {
		t.Fatalf("addrs = %q %q", cfg.Metrics.Addr, cfg.Control.Addr)
	}

	if len(cfg.Sensors) != 2 {
		t.Fatalf("sensors = %d, want 2", len(cfg.Sensors))
	}
	def := cfg.Sensors[0].Definition()
	if def.Name != "cam1" || def.Parent != "robot::head" || def.UpdateRate != 30 {
		t.Fatalf("definition = %+v", def)
	}
	if def.Int("width", 0) != 64 || def.Float("fov", 0) != 1.2 {
		t.Fatalf("params = %v", def.Params)
	}

	if imu := cfg.Sensors[1].Definition(); imu.DefaultRate || imu.UpdateRate != 100 {
		t.Fatalf("imu definition = %+v", imu)
	}

	if len(cfg.Events) != 2 || cfg.Events[0].At != 500*time.Millisecond || cfg.Events[0].Sensor.Name != "lidar1" {
		t.Fatalf("events = %+v", cfg.Events)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero tick", "clock: {tick: 0s}", "clock.tick"},
		{"bad mode", "clock: {mode: warp}", "clock.mode"},
		{"duplicate sensor", "sensors: [{name: a, plugin: x.so}, {name: a, plugin: y.so}]", "duplicate name"},
		{"negative rate", "sensors: [{name: a, plugin: x.so, rate: -1}]", "rate must not be negative"},
		{"missing plugin", "sensors: [{name: a}]", "plugin is required"},
		{"unknown action", "events: [{at: 1s, action: explode}]", "unknown action"},
		{"load without sensor", "events: [{at: 1s, action: load}]", "load requires sensor"},
		{"remove without name", "events: [{at: 1s, action: remove}]", "remove requires name"},
		{"bad exporter", "tracing: {exporter: zipkin}", "tracing.exporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	cfg := Default()
	rate := 50.0
	cfg.Sensors = []SensorConfig{{Name: "c", Plugin: "contact.so", Rate: &rate}}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Clock.Tick != cfg.Clock.Tick || len(got.Sensors) != 1 || *got.Sensors[0].Rate != 50 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Load missing err = %v", err)
	}
}

func TestDefinitionRate(t *testing.T) {
	cfg, err := Parse([]byte("sensors: [{name: a, plugin: x.so}, {name: b, plugin: y.so, rate: 0}]"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a := cfg.Sensors[0].Definition(); !a.DefaultRate {
		t.Fatalf("unset rate should defer to plugin default: %+v", a)
	}
	if b := cfg.Sensors[1].Definition(); b.DefaultRate || b.UpdateRate != 0 {
		t.Fatalf("explicit zero rate should be force-only: %+v", b)
	}
}
