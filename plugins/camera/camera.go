// Package camera is a depth camera that ray-casts one ray per pixel into
// the rendering engine.
package camera

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
	Type        = "camera"
	DefaultRate = 30.0
)

// Camera renders a width x height depth image. Reading.Data holds the depth
// of each pixel, row-major from the top-left, as little-endian uint16
// millimetres; 0 means nothing was hit within range.
type Camera struct {
	*sensor.Base

	width, height int
	hfov          float64
	maxRange      float64
	mount         model.Pose
}

// Register adds the camera factory to reg.
func Register(reg *plugin.Registry) error {
	return reg.Register(Type, New, "cam", "depth_camera")
}

// New builds a camera. Parameters: width, height (pixels), fov (horizontal,
// radians), range (metres) and a static mount pose used when the parent
// link has no physics state.
func New(def model.SensorDefinition) (sensor.Sensor, error) {
	c := &Camera{
		width:    def.Int("width", 16),
		height:   def.Int("height", 12),
		hfov:     def.Float("fov", math.Pi/3),
		maxRange: def.Float("range", 100),
		mount:    def.Pose(),
	}
	if c.width <= 0 || c.height <= 0 {
		return nil, fmt.Errorf("camera %q: image size must be positive, got %dx%d", def.Name, c.width, c.height)
	}
	if c.hfov <= 0 || c.hfov >= math.Pi {
		return nil, fmt.Errorf("camera %q: fov must be in (0, pi), got %v", def.Name, c.hfov)
	}
	if c.maxRange <= 0 {
		return nil, fmt.Errorf("camera %q: range must be positive", def.Name)
	}

	def.UpdateRate = def.Rate(DefaultRate)
	c.Base = sensor.NewBase(sensor.ConfigFromDefinition(Type, def), c.render)
	return c, nil
}

func (c *Camera) render(ctx context.Context, _ time.Time) (sensor.Reading, error) {
	r := c.Rendering()
	if r == nil || !r.Valid() {
		return sensor.Reading{}, sensor.ErrRenderingUnavailable
	}
	pose := engine.PoseOf(ctx, c.Physics(), c.Parent(), c.mount)
	vfov := c.hfov * float64(c.height) / float64(c.width)

	depth := make([]byte, 2*c.width*c.height)
	var (
		hits      int
		sum, maxD float64
	)
	minD := math.Inf(1)
	for v := range c.height {
		if err := ctx.Err(); err != nil {
			return sensor.Reading{}, err
		}
		pitch := (0.5 - (float64(v)+0.5)/float64(c.height)) * vfov
		for u := range c.width {
			yaw := pose.Yaw + (0.5-(float64(u)+0.5)/float64(c.width))*c.hfov
			dir := model.Vec3{
				X: math.Cos(pitch) * math.Cos(yaw),
				Y: math.Cos(pitch) * math.Sin(yaw),
				Z: math.Sin(pitch),
			}
			var mm uint16
			if d, ok := r.CastRay(ctx, pose.Position, dir, c.maxRange); ok {
				hits++
				sum += d
				minD = min(minD, d)
				maxD = max(maxD, d)
				mm = uint16(min(math.Round(d*1000), math.MaxUint16))
			}
			binary.LittleEndian.PutUint16(depth[2*(v*c.width+u):], mm)
		}
	}

	values := map[string]float64{
		"width":  float64(c.width),
		"height": float64(c.height),
		"hits":   float64(hits),
	}
	if hits > 0 {
		values["min_depth"] = minD
		values["max_depth"] = maxD
		values["mean_depth"] = sum / float64(hits)
	}
	return sensor.Reading{Values: values, Data: depth}, nil
}
