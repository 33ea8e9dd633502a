// Package imu is an inertial measurement unit reading its parent link's
// kinematic state from the physics engine.
package imu

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aquilax/go-perlin"

	"github.com/signalsfoundry/sensor-simulator/model"
	"github.com/signalsfoundry/sensor-simulator/plugin"
	"github.com/signalsfoundry/sensor-simulator/sensor"
)

const (
	Type        = "imu"
	DefaultRate = 100.0

	// Gravity is standard gravity in m/s^2; a resting IMU reads +Gravity on z.
	Gravity = 9.80665
)

// IMU reports specific force (ax, ay, az) and angular rate (wx, wy, wz) in
// the link's frame. Each axis carries a slowly drifting bias drawn from
// Perlin noise, scaled by the "bias" parameter.
type IMU struct {
	*sensor.Base

	bias  float64
	drift float64 // noise-space units per simulated second
	noise *perlin.Perlin
}

func Register(reg *plugin.Registry) error {
	return reg.Register(Type, New, "inertial")
}

func New(def model.SensorDefinition) (sensor.Sensor, error) {
	if def.Parent == "" {
		return nil, fmt.Errorf("imu %q: parent link is required", def.Name)
	}
	bias := def.Float("bias", 0.01)
	if bias < 0 {
		return nil, fmt.Errorf("imu %q: bias must not be negative", def.Name)
	}
	u := &IMU{
		bias:  bias,
		drift: def.Float("drift", 0.1),
		noise: perlin.NewPerlin(2, 2, 3, int64(def.Int("seed", 1))),
	}
	def.UpdateRate = def.Rate(DefaultRate)
	u.Base = sensor.NewBase(sensor.ConfigFromDefinition(Type, def), u.measure)
	return u, nil
}

func (u *IMU) measure(ctx context.Context, simTime time.Time) (sensor.Reading, error) {
	p := u.Physics()
	if p == nil || !p.Valid() {
		return sensor.Reading{}, sensor.ErrPhysicsUnavailable
	}
	st, err := p.LinkState(ctx, u.Parent())
	if err != nil {
		return sensor.Reading{}, err
	}

	acc := st.LinearAcceleration.Add(model.Vec3{Z: Gravity})
	acc = toBody(acc, st.Pose.Yaw)
	gyro := toBody(st.AngularVelocity, st.Pose.Yaw)

	t := float64(simTime.UnixNano()) / float64(time.Second) * u.drift
	values := map[string]float64{
		"ax": acc.X + u.biasAt(t, 0),
		"ay": acc.Y + u.biasAt(t, 1),
		"az": acc.Z + u.biasAt(t, 2),
		"wx": gyro.X + u.biasAt(t, 3),
		"wy": gyro.Y + u.biasAt(t, 4),
		"wz": gyro.Z + u.biasAt(t, 5),
	}
	return sensor.Reading{Values: values}, nil
}

// biasAt samples an independent noise track per axis.
func (u *IMU) biasAt(t float64, axis int) float64 {
	if u.bias == 0 {
		return 0
	}
	return u.bias * u.noise.Noise2D(t, float64(axis)*17.3)
}

// toBody rotates a world-frame vector into a frame turned by yaw about z.
func toBody(v model.Vec3, yaw float64) model.Vec3 {
	c, s := math.Cos(yaw), math.Sin(yaw)
	return model.Vec3{
		X: c*v.X + s*v.Y,
		Y: -s*v.X + c*v.Y,
		Z: v.Z,
	}
}
