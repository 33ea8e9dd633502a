// Package sensor defines the capability every simulated sensor exposes to
// the manager, plus Base, which carries the scheduling state shared by all
// sensor types.
package sensor

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/sensor-simulator/engine"
)

var (
	// ErrNotDue is returned by Update when called without force before the
	// sensor's period has elapsed. Callers are expected to check
	// IsUpdateRequired first.
	ErrNotDue = errors.New("sensor update not due")
	// ErrNoData may be returned by a generator to signal that the update ran
	// but produced no output.
	ErrNoData = errors.New("sensor produced no data")
	// ErrRenderingUnavailable is returned by sensors that need a rendering
	// engine when none was supplied.
	ErrRenderingUnavailable = errors.New("rendering engine unavailable")
	// ErrPhysicsUnavailable is returned by sensors that need a physics
	// engine when none was supplied.
	ErrPhysicsUnavailable = errors.New("physics engine unavailable")
)

// Sensor is an opaque, pluggable unit producing periodic measurements.
// The manager depends only on this interface.
type Sensor interface {
	Name() string
	Parent() string
	Type() string

	UpdateRate() float64
	Period() time.Duration

	Enabled() bool
	SetEnabled(enabled bool)

	LastUpdate() time.Time

	// IsUpdateRequired reports whether the period has elapsed since the
	// last update. Always false for disabled or force-only sensors.
	IsUpdateRequired(simTime time.Time) bool

	// Update generates a measurement for simTime and reports whether output
	// was produced. Concurrent calls on one sensor are serialized.
	Update(ctx context.Context, simTime time.Time, force bool) (bool, error)
}

// Reading is one measurement emitted by a sensor.
type Reading struct {
	Sensor  string
	Type    string
	Parent  string
	SimTime time.Time
	Seq     uint64
	Values  map[string]float64
	Data    []byte
}

// Publisher receives readings as sensors produce them.
type Publisher interface {
	Publish(r Reading)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Reading)

// Publish calls f(r).
func (f PublisherFunc) Publish(r Reading) { f(r) }

// Optional capabilities the manager wires after construction.
type (
	RenderingUser interface {
		SetRendering(r engine.Rendering)
	}
	PhysicsUser interface {
		SetPhysics(p engine.Physics)
	}
	ClockUser interface {
		SetLastUpdate(t time.Time)
	}
	Publishing interface {
		SetPublisher(p Publisher)
	}
	ReadingSource interface {
		LastReading() (Reading, bool)
	}
)
