// Package config loads sensor-simulator scenarios from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/sensor-simulator/model"
)

const (
	DefaultTick        = 10 * time.Millisecond
	DefaultDuration    = 10 * time.Second
	DefaultPace        = time.Millisecond
	DefaultMetricsAddr = ":9090"
	DefaultControlAddr = ":50061"
	DefaultMode        = "accelerated"
)

// DefaultStart is the simulation epoch used when clock.start is unset.
var DefaultStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Event actions.
const (
	ActionLoad   = "load"
	ActionRemove = "remove"
)

type Config struct {
	Clock   ClockConfig    `yaml:"clock"`
	Manager ManagerConfig  `yaml:"manager"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Control ControlConfig  `yaml:"control"`
	Tracing TracingConfig  `yaml:"tracing"`
	World   WorldConfig    `yaml:"world"`
	Sensors []SensorConfig `yaml:"sensors"`
	Events  []EventConfig  `yaml:"events"`
}

type ClockConfig struct {
	Start    time.Time     `yaml:"start"`
	Tick     time.Duration `yaml:"tick"`
	Mode     string        `yaml:"mode"` // realtime, accelerated
	Factor   float64       `yaml:"factor"`
	Duration time.Duration `yaml:"duration"`
}

type ManagerConfig struct {
	Workers  int           `yaml:"workers"` // 0 sizes the pool to the sensor count
	Pace     time.Duration `yaml:"pace"`
	Threaded bool          `yaml:"threaded"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type ControlConfig struct {
	Addr string `yaml:"addr"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // stdout, otlp
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// WorldConfig seeds the in-memory rendering/physics world.
type WorldConfig struct {
	Ground  bool           `yaml:"ground"`
	Spheres []SphereConfig `yaml:"spheres"`
	Links   []LinkConfig   `yaml:"links"`
}

type SphereConfig struct {
	Name   string     `yaml:"name"`
	Center [3]float64 `yaml:"center"`
	Radius float64    `yaml:"radius"`
}

type LinkConfig struct {
	Name     string     `yaml:"name"`
	Position [3]float64 `yaml:"position"`
	Yaw      float64    `yaml:"yaw"`
	Velocity [3]float64 `yaml:"velocity"`
}

type SensorConfig struct {
	Name     string         `yaml:"name"`
	Plugin   string         `yaml:"plugin"`
	Parent   string         `yaml:"parent"`
	Rate     *float64       `yaml:"rate,omitempty"` // unset uses the plugin default; 0 is force-only
	Disabled bool           `yaml:"disabled"`
	Params   map[string]any `yaml:"params"`
}

// Definition converts the entry into a model.SensorDefinition.
func (s SensorConfig) Definition() model.SensorDefinition {
	def := model.SensorDefinition{
		Name:     s.Name,
		Parent:   s.Parent,
		Plugin:   s.Plugin,
		Disabled: s.Disabled,
		Params:   s.Params,
	}
	if s.Rate == nil {
		def.DefaultRate = true
	} else {
		def.UpdateRate = *s.Rate
	}
	return def
}

// EventConfig schedules a sensor load or removal at an offset from the
// simulation start.
type EventConfig struct {
	At     time.Duration `yaml:"at"`
	Action string        `yaml:"action"`
	Sensor *SensorConfig `yaml:"sensor,omitempty"`
	Name   string        `yaml:"name,omitempty"`
}

func Default() *Config {
	return &Config{
		Clock: ClockConfig{
			Start:    DefaultStart,
			Tick:     DefaultTick,
			Mode:     DefaultMode,
			Duration: DefaultDuration,
		},
		Manager: ManagerConfig{Pace: DefaultPace},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
		Control: ControlConfig{Addr: DefaultControlAddr},
		Tracing: TracingConfig{Exporter: "stdout", SampleRatio: 1.0},
		World:   WorldConfig{Ground: true},
	}
}

// Load reads path, applies it over Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Clock.Tick <= 0 {
		errs = append(errs, errors.New("clock.tick must be positive"))
	}
	if c.Clock.Duration < 0 {
		errs = append(errs, errors.New("clock.duration must not be negative"))
	}
	switch c.Clock.Mode {
	case "", "realtime", "accelerated":
	default:
		errs = append(errs, fmt.Errorf("clock.mode %q: want realtime or accelerated", c.Clock.Mode))
	}
	if c.Manager.Pace < 0 {
		errs = append(errs, errors.New("manager.pace must not be negative"))
	}
	switch c.Tracing.Exporter {
	case "", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter %q: want stdout or otlp", c.Tracing.Exporter))
	}

	names := make(map[string]bool)
	for i, s := range c.Sensors {
		errs = append(errs, validateSensor(fmt.Sprintf("sensors[%d]", i), s)...)
		if names[s.Name] {
			errs = append(errs, fmt.Errorf("sensors[%d]: duplicate name %q", i, s.Name))
		}
		names[s.Name] = true
	}

	for i, ev := range c.Events {
		where := fmt.Sprintf("events[%d]", i)
		if ev.At < 0 {
			errs = append(errs, fmt.Errorf("%s: at must not be negative", where))
		}
		switch ev.Action {
		case ActionLoad:
			if ev.Sensor == nil {
				errs = append(errs, fmt.Errorf("%s: load requires sensor", where))
				continue
			}
			errs = append(errs, validateSensor(where+".sensor", *ev.Sensor)...)
		case ActionRemove:
			if ev.Name == "" {
				errs = append(errs, fmt.Errorf("%s: remove requires name", where))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown action %q", where, ev.Action))
		}
	}

	return errors.Join(errs...)
}

func validateSensor(where string, s SensorConfig) []error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, fmt.Errorf("%s: name is required", where))
	}
	if s.Plugin == "" {
		errs = append(errs, fmt.Errorf("%s: plugin is required", where))
	}
	if s.Rate != nil && *s.Rate < 0 {
		errs = append(errs, fmt.Errorf("%s: rate must not be negative", where))
	}
	return errs
}
