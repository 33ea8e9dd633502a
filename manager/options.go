package manager

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/sensor-simulator/engine"
	"github.com/signalsfoundry/sensor-simulator/internal/logging"
	"github.com/signalsfoundry/sensor-simulator/model"
	"github.com/signalsfoundry/sensor-simulator/sensor"
	"github.com/signalsfoundry/sensor-simulator/timectrl"
)

// DefaultPace is the wall-clock interval between threaded scheduling passes.
const DefaultPace = time.Millisecond

// Loader constructs sensors from definitions. *plugin.Registry implements it.
type Loader interface {
	Load(def model.SensorDefinition) (sensor.Sensor, error)
}

// Metrics receives manager measurements.
// *observability.ManagerCollector implements it.
type Metrics interface {
	ObserveUpdate(sensor, typ string, d time.Duration, produced bool, err error)
	ObservePass(mode string, d time.Duration)
	ObserveSkipped(sensor string)
	SetSensorsLoaded(n int)
	ForgetSensor(sensor string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveUpdate(string, string, time.Duration, bool, error) {}
func (noopMetrics) ObservePass(string, time.Duration)                        {}
func (noopMetrics) ObserveSkipped(string)                                    {}
func (noopMetrics) SetSensorsLoaded(int)                                     {}
func (noopMetrics) ForgetSensor(string)                                      {}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithLoader sets the plugin loader. The default is an empty registry.
func WithLoader(l Loader) Option {
	return func(m *Manager) {
		if l != nil {
			m.loader = l
		}
	}
}

// WithClock sets the simulation clock read at every pass.
func WithClock(c timectrl.SimClock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.log = logging.OrNoop(l) }
}

func WithMetrics(mt Metrics) Option {
	return func(m *Manager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithPublisher wires every loaded sensor that publishes readings to p.
func WithPublisher(p sensor.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithWorkers sets the threaded-mode pool size. n <= 0 sizes the pool to
// the number of sensors loaded when RunThreads starts.
func WithWorkers(n int) Option {
	return func(m *Manager) { m.workers = n }
}

// WithPace sets the wall-clock interval between threaded passes.
func WithPace(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pace = d
		}
	}
}

// InitOption supplies an engine handle to Init.
type InitOption func(*initConfig)

type initConfig struct {
	rendering    engine.Rendering
	hasRendering bool
	physics      engine.Physics
	hasPhysics   bool
}

// WithRendering gives sensors access to a rendering engine.
func WithRendering(r engine.Rendering) InitOption {
	return func(c *initConfig) {
		c.rendering = r
		c.hasRendering = true
	}
}

// WithPhysics gives sensors access to a physics engine.
func WithPhysics(p engine.Physics) InitOption {
	return func(c *initConfig) {
		c.physics = p
		c.hasPhysics = true
	}
}
