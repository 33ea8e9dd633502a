package imu

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/sensor-simulator/engine"
	"github.com/signalsfoundry/sensor-simulator/model"
	"github.com/signalsfoundry/sensor-simulator/sensor"
)

func newIMU(t *testing.T, world *engine.World, params map[string]any) *IMU {
	t.Helper()
	s, err := New(model.SensorDefinition{Name: "imu", Parent: "robot::base", DefaultRate: true, Params: params})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	u := s.(*IMU)
	if world != nil {
		u.SetPhysics(world)
	}
	return u
}

func read(t *testing.T, u *IMU, at time.Time) map[string]float64 {
	t.Helper()
	if _, err := u.Update(context.Background(), at, true); err != nil {
		t.Fatalf("Update: %v", err)
	}
	r, _ := u.LastReading()
	return r.Values
}

func TestIMUAtRestReadsGravity(t *testing.T) {
	world := engine.NewWorld()
	world.SetLinkState("robot::base", engine.LinkState{})
	u := newIMU(t, world, map[string]any{"bias": 0})

	v := read(t, u, time.Unix(10, 0))
	if v["az"] != Gravity || v["ax"] != 0 || v["wz"] != 0 {
		t.Fatalf("resting IMU = %v", v)
	}
}

func TestIMURotatesIntoBodyFrame(t *testing.T) {
	world := engine.NewWorld()
	world.SetLinkState("robot::base", engine.LinkState{
		Pose:               model.Pose{Yaw: math.Pi / 2},
		LinearAcceleration: model.Vec3{X: 1},
		AngularVelocity:    model.Vec3{Z: 0.5},
	})
	u := newIMU(t, world, map[string]any{"bias": 0})

	v := read(t, u, time.Unix(0, 0))
	// Facing +Y, a world +X push is felt on the body's -Y axis.
	if math.Abs(v["ax"]) > 1e-12 || math.Abs(v["ay"]+1) > 1e-12 || v["wz"] != 0.5 {
		t.Fatalf("body-frame reading = %v", v)
	}
}

func TestIMUBiasIsBoundedAndDeterministic(t *testing.T) {
	world := engine.NewWorld()
	world.SetLinkState("robot::base", engine.LinkState{})
	a := newIMU(t, world, map[string]any{"bias": 0.05, "seed": 7})
	b := newIMU(t, world, map[string]any{"bias": 0.05, "seed": 7})

	for i := range 20 {
		at := time.Unix(int64(i), 500_000_000)
		va, vb := read(t, a, at), read(t, b, at)
		for k, x := range va {
			if x != vb[k] {
				t.Fatalf("same seed diverged on %s: %v vs %v", k, x, vb[k])
			}
		}
		if d := math.Abs(va["az"] - Gravity); d > 0.1 {
			t.Fatalf("bias %v exceeds bound", d)
		}
	}
}

func TestIMUErrors(t *testing.T) {
	if _, err := New(model.SensorDefinition{Name: "imu"}); err == nil {
		t.Fatalf("IMU without parent accepted")
	}
	u := newIMU(t, nil, nil)
	if _, err := u.Update(context.Background(), time.Unix(0, 0), true); !errors.Is(err, sensor.ErrPhysicsUnavailable) {
		t.Fatalf("err = %v, want ErrPhysicsUnavailable", err)
	}
	u.SetPhysics(engine.NewWorld())
	if _, err := u.Update(context.Background(), time.Unix(1, 0), true); !errors.Is(err, engine.ErrUnknownLink) {
		t.Fatalf("err = %v, want ErrUnknownLink", err)
	}
}
