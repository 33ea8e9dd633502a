package lidar

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/sensor-simulator/engine"
	"github.com/signalsfoundry/sensor-simulator/model"
	"github.com/signalsfoundry/sensor-simulator/sensor"
)

func TestLidarRangesToSphere(t *testing.T) {
	world := engine.NewWorld()
	world.AddSphere(engine.Sphere{Name: "post", Center: model.Vec3{X: 5}, Radius: 1})

	s, err := New(model.SensorDefinition{Name: "scan", UpdateRate: 10, Params: map[string]any{"samples": 4}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l := s.(*Lidar)
	l.SetRendering(world)

	if _, err := l.Update(context.Background(), time.Unix(0, 0), true); err != nil {
		t.Fatalf("Update: %v", err)
	}
	r, _ := l.LastReading()
	if r.Values["hits"] != 1 {
		t.Fatalf("hits = %v, want 1 (only the beam along +X)", r.Values["hits"])
	}
	if math.Abs(r.Values["min_range"]-4) > 1e-9 {
		t.Fatalf("min_range = %v, want 4", r.Values["min_range"])
	}

	// Beams are -pi, -pi/2, 0, pi/2; the third one faces the post.
	beam := func(i int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(r.Data[4*i:])) }
	if beam(2) != 4 || !math.IsInf(float64(beam(0)), 1) {
		t.Fatalf("beams = %v %v %v %v", beam(0), beam(1), beam(2), beam(3))
	}
}

func TestLidarBeamSpread(t *testing.T) {
	s, _ := New(model.SensorDefinition{Name: "fan", Params: map[string]any{"samples": 3, "min_angle": -1.0, "max_angle": 1.0}})
	l := s.(*Lidar)
	for i, want := range []float64{-1, 0, 1} {
		if got := l.beamAngle(i); math.Abs(got-want) > 1e-12 {
			t.Fatalf("beamAngle(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestLidarErrors(t *testing.T) {
	if _, err := New(model.SensorDefinition{Name: "x", Params: map[string]any{"samples": 0}}); err == nil {
		t.Fatalf("zero samples accepted")
	}
	if _, err := New(model.SensorDefinition{Name: "x", Params: map[string]any{"min_angle": 1.0, "max_angle": 0.0}}); err == nil {
		t.Fatalf("inverted angles accepted")
	}
	s, _ := New(model.SensorDefinition{Name: "x"})
	if _, err := s.Update(context.Background(), time.Unix(0, 0), true); !errors.Is(err, sensor.ErrRenderingUnavailable) {
		t.Fatalf("err = %v, want ErrRenderingUnavailable", err)
	}
}
