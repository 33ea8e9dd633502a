package model

import (
	"fmt"
	"strconv"
	"time"
)

// SensorID is the process-unique handle the manager issues for a live sensor.
// IDs are allocated monotonically and never reused.
type SensorID uint64

// InvalidSensorID is returned alongside errors and never identifies a sensor.
const InvalidSensorID SensorID = 0

// Valid reports whether id could refer to a sensor.
func (id SensorID) Valid() bool { return id != InvalidSensorID }

func (id SensorID) String() string {
	if id == InvalidSensorID {
		return "sensor-invalid"
	}
	return fmt.Sprintf("sensor-%d", uint64(id))
}

// SensorDefinition describes a sensor to be created through a plugin.
// Plugin names a plugin file (for example "camera.so"); the registry
// resolves it to a factory.
type SensorDefinition struct {
	Name   string
	Parent string // URI of the parent link, e.g. "robot::base_link"
	Plugin string

	// UpdateRate is in Hz. Zero means the sensor only updates when forced.
	UpdateRate float64

	// DefaultRate asks the plugin to pick its own rate; UpdateRate is
	// ignored. Sensors loaded by filename alone use it.
	DefaultRate bool

	// Disabled sensors are loaded but never due.
	Disabled bool

	// Params carries plugin-specific settings.
	Params map[string]any
}

// Period converts UpdateRate into an update period. A non-positive rate
// yields zero.
func (d SensorDefinition) Period() time.Duration {
	return PeriodFromRate(d.UpdateRate)
}

// Rate returns the rate a plugin should use, given its own default.
func (d SensorDefinition) Rate(pluginDefault float64) float64 {
	if d.DefaultRate {
		return pluginDefault
	}
	return d.UpdateRate
}

// PeriodFromRate converts a rate in Hz into a period.
func PeriodFromRate(hz float64) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}

// Float returns a numeric parameter, falling back to def when the key is
// absent or not numeric.
func (d SensorDefinition) Float(key string, def float64) float64 {
	v, ok := d.Params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return def
	}
}

// Int returns an integer parameter with the same fallback rules as Float.
func (d SensorDefinition) Int(key string, def int) int {
	return int(d.Float(key, float64(def)))
}

// String returns a string parameter or def.
func (d SensorDefinition) String(key, def string) string {
	if s, ok := d.Params[key].(string); ok && s != "" {
		return s
	}
	return def
}

// Bool returns a boolean parameter. Strings accepted by strconv.ParseBool
// are converted; anything else yields def.
func (d SensorDefinition) Bool(key string, def bool) bool {
	switch v := d.Params[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Pose reads a static mounting pose from the x, y, z and yaw parameters.
func (d SensorDefinition) Pose() Pose {
	return Pose{
		Position: Vec3{X: d.Float("x", 0), Y: d.Float("y", 0), Z: d.Float("z", 0)},
		Yaw:      d.Float("yaw", 0),
	}
}
