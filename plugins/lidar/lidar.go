// Package lidar is a planar scanning range finder.
package lidar

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/sensor-simulator/engine"
	"github.com/signalsfoundry/sensor-simulator/model"
	"github.com/signalsfoundry/sensor-simulator/plugin"
	"github.com/signalsfoundry/sensor-simulator/sensor"
)

const (
	Type        = "lidar"
	DefaultRate = 10.0
)

// Lidar casts Samples horizontal rays between MinAngle and MaxAngle
// (radians, relative to the mount heading). Reading.Data holds one
// little-endian float32 range per beam; misses are reported as +Inf.
type Lidar struct {
	*sensor.Base

	samples            int
	minAngle, maxAngle float64
	maxRange           float64
	mount              model.Pose
}

func Register(reg *plugin.Registry) error {
	return reg.Register(Type, New, "ray", "laser")
}

func New(def model.SensorDefinition) (sensor.Sensor, error) {
	l := &Lidar{
		samples:  def.Int("samples", 32),
		minAngle: def.Float("min_angle", -math.Pi),
		maxAngle: def.Float("max_angle", math.Pi),
		maxRange: def.Float("range", 30),
		mount:    def.Pose(),
	}
	if l.samples < 1 {
		return nil, fmt.Errorf("lidar %q: samples must be at least 1", def.Name)
	}
	if l.maxAngle < l.minAngle {
		return nil, fmt.Errorf("lidar %q: max_angle %v below min_angle %v", def.Name, l.maxAngle, l.minAngle)
	}
	if l.maxRange <= 0 {
		return nil, fmt.Errorf("lidar %q: range must be positive", def.Name)
	}

	def.UpdateRate = def.Rate(DefaultRate)
	l.Base = sensor.NewBase(sensor.ConfigFromDefinition(Type, def), l.scan)
	return l, nil
}

// beamAngle spreads beams evenly; a full circle does not repeat its first
// beam at the end.
func (l *Lidar) beamAngle(i int) float64 {
	span := l.maxAngle - l.minAngle
	if l.samples == 1 {
		return l.minAngle + span/2
	}
	if span >= 2*math.Pi {
		return l.minAngle + span*float64(i)/float64(l.samples)
	}
	return l.minAngle + span*float64(i)/float64(l.samples-1)
}

func (l *Lidar) scan(ctx context.Context, _ time.Time) (sensor.Reading, error) {
	r := l.Rendering()
	if r == nil || !r.Valid() {
		return sensor.Reading{}, sensor.ErrRenderingUnavailable
	}
	if err := ctx.Err(); err != nil {
		return sensor.Reading{}, err
	}
	pose := engine.PoseOf(ctx, l.Physics(), l.Parent(), l.mount)

	data := make([]byte, 4*l.samples)
	hits := 0
	nearest := math.Inf(1)
	for i := range l.samples {
		a := pose.Yaw + l.beamAngle(i)
		rng := math.Inf(1)
		if d, ok := r.CastRay(ctx, pose.Position, model.Vec3{X: math.Cos(a), Y: math.Sin(a)}, l.maxRange); ok {
			rng = d
			hits++
			nearest = min(nearest, d)
		}
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(float32(rng)))
	}

	values := map[string]float64{
		"samples": float64(l.samples),
		"hits":    float64(hits),
	}
	if hits > 0 {
		values["min_range"] = nearest
	}
	return sensor.Reading{Values: values, Data: data}, nil
}
