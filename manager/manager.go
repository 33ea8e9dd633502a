// Package manager schedules simulated sensors against a simulation clock.
//
// A Manager owns every loaded sensor. Each scheduling pass reads the clock
// once, asks the store which sensors are due and updates them, either
// synchronously (RunOnce) or on a worker pool driven by a background loop
// (RunThreads). Sensors may be loaded and removed while threads run: a
// removed sensor never starts another update and is destroyed once its
// in-flight update, if any, returns.
package manager

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/sensor-simulator/engine"
	"github.com/signalsfoundry/sensor-simulator/internal/logging"
	"github.com/signalsfoundry/sensor-simulator/internal/observability"
	"github.com/signalsfoundry/sensor-simulator/internal/store"
	"github.com/signalsfoundry/sensor-simulator/model"
	"github.com/signalsfoundry/sensor-simulator/plugin"
	"github.com/signalsfoundry/sensor-simulator/sensor"
	"github.com/signalsfoundry/sensor-simulator/timectrl"
)

// Status is the manager's execution state.
type Status int

const (
	StatusUninitialized Status = iota
	StatusInitialized
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitialized:
		return "initialized"
	case StatusRunning:
		return "running"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Info describes a loaded sensor.
type Info struct {
	ID         model.SensorID
	Name       string
	Parent     string
	Type       string
	UpdateRate float64
	Period     time.Duration
	Enabled    bool
	LastUpdate time.Time
}

// Manager is safe for concurrent use.
type Manager struct {
	store     *store.Store
	loader    Loader
	clock     timectrl.SimClock
	log       logging.Logger
	metrics   Metrics
	tracer    trace.Tracer
	publisher sensor.Publisher
	workers   int
	pace      time.Duration

	// mu guards the fields below. The threaded loop and its workers never
	// take it, so Stop may hold it while joining them.
	mu        sync.Mutex
	status    Status
	rendering engine.Rendering
	physics   engine.Physics
	threads   *threadRun
	stepping  int // RunOnce passes in progress
}

// New returns an uninitialized Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		loader:  plugin.NewRegistry(),
		clock:   timectrl.WallClock{},
		log:     logging.Noop(),
		metrics: noopMetrics{},
		tracer:  observability.Tracer(),
		pace:    DefaultPace,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.store = store.New(store.WithDestroyHook(m.onDestroy))
	return m
}

// Init prepares the manager, optionally with rendering and physics
// handles. It returns false if the manager was already initialised or a
// supplied handle is nil or invalid.
func (m *Manager) Init(opts ...InitOption) bool {
	var cfg initConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	ctx := context.Background()
	if cfg.hasRendering && !validHandle(cfg.rendering) {
		m.log.Warn(ctx, "init rejected: invalid rendering engine")
		return false
	}
	if cfg.hasPhysics && !validHandle(cfg.physics) {
		m.log.Warn(ctx, "init rejected: invalid physics engine")
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusUninitialized {
		m.log.Warn(ctx, "init rejected: already initialized", logging.String("status", m.status.String()))
		return false
	}
	m.rendering = cfg.rendering
	m.physics = cfg.physics
	m.status = StatusInitialized
	m.log.Info(ctx, "sensor manager initialized",
		logging.Bool("rendering", cfg.hasRendering),
		logging.Bool("physics", cfg.hasPhysics),
	)
	return true
}

func validHandle(h interface{ Valid() bool }) bool {
	if h == nil {
		return false
	}
	if v := reflect.ValueOf(h); v.Kind() == reflect.Pointer && v.IsNil() {
		return false
	}
	return h.Valid()
}

// Status reports the execution state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LoadSensor loads sensorName from the plugin named by filename, attached
// to parentName, at the plugin's default rate.
func (m *Manager) LoadSensor(ctx context.Context, filename, sensorName, parentName string) (model.SensorID, error) {
	return m.LoadDefinition(ctx, model.SensorDefinition{
		Name:        sensorName,
		Parent:      parentName,
		Plugin:      filename,
		DefaultRate: true,
	})
}

// LoadDefinition constructs and registers the sensor described by def.
// The sensor's last update is set to the current simulation time, so its
// first periodic update happens one period after loading.
func (m *Manager) LoadDefinition(ctx context.Context, def model.SensorDefinition) (model.SensorID, error) {
	m.mu.Lock()
	status, rendering, physics := m.status, m.rendering, m.physics
	m.mu.Unlock()
	if status == StatusUninitialized {
		return model.InvalidSensorID, ErrNotInitialized
	}
	if def.Name == "" {
		return model.InvalidSensorID, ErrInvalidName
	}
	if _, err := m.store.Lookup(def.Name); err == nil {
		return model.InvalidSensorID, fmt.Errorf("%w: %q", ErrDuplicateName, def.Name)
	}
	if err := ctx.Err(); err != nil {
		return model.InvalidSensorID, err
	}

	s, err := m.loader.Load(def)
	if err != nil {
		m.log.Warn(ctx, "sensor plugin load failed",
			logging.String("sensor", def.Name),
			logging.String("plugin", def.Plugin),
			logging.Err(err),
		)
		return model.InvalidSensorID, fmt.Errorf("%w: %w", ErrPluginLoad, err)
	}

	if u, ok := s.(sensor.RenderingUser); ok && rendering != nil {
		u.SetRendering(rendering)
	}
	if u, ok := s.(sensor.PhysicsUser); ok && physics != nil {
		u.SetPhysics(physics)
	}
	if u, ok := s.(sensor.ClockUser); ok {
		u.SetLastUpdate(m.clock.Now())
	}
	if u, ok := s.(sensor.Publishing); ok && m.publisher != nil {
		u.SetPublisher(m.publisher)
	}

	id, err := m.store.Insert(s)
	if err != nil {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
		return model.InvalidSensorID, err
	}
	m.metrics.SetSensorsLoaded(m.store.Len())
	m.log.Info(ctx, "sensor loaded",
		logging.Uint64("sensor_id", uint64(id)),
		logging.String("sensor", s.Name()),
		logging.String("type", s.Type()),
		logging.String("parent", s.Parent()),
		logging.Duration("period", s.Period()),
	)
	return id, nil
}

// Remove unloads the sensor with the given id. It does not wait for an
// update in progress. Every pass checks for removal as the last step
// before calling the sensor's Update, so no update of it starts after
// Remove returns; one already inside Update completes and the sensor is
// destroyed afterwards.
func (m *Manager) Remove(id model.SensorID) error {
	s, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if err := m.store.Remove(id); err != nil {
		return err
	}
	m.removed(id, s.Name())
	return nil
}

// RemoveByName unloads the sensor with the given name.
func (m *Manager) RemoveByName(name string) error {
	id, err := m.store.Lookup(name)
	if err != nil {
		return err
	}
	if err := m.store.RemoveByName(name); err != nil {
		return err
	}
	m.removed(id, name)
	return nil
}

func (m *Manager) removed(id model.SensorID, name string) {
	m.metrics.SetSensorsLoaded(m.store.Len())
	m.log.Info(context.Background(), "sensor removed",
		logging.Uint64("sensor_id", uint64(id)),
		logging.String("sensor", name),
	)
}

// onDestroy runs once the last in-flight update has released the sensor,
// so no later update can re-create its metric series.
func (m *Manager) onDestroy(id model.SensorID, s sensor.Sensor, err error) {
	m.metrics.ForgetSensor(s.Name())
	if err != nil {
		m.log.Warn(context.Background(), "sensor close failed",
			logging.Uint64("sensor_id", uint64(id)),
			logging.String("sensor", s.Name()),
			logging.Err(err),
		)
		return
	}
	m.log.Debug(context.Background(), "sensor destroyed",
		logging.Uint64("sensor_id", uint64(id)),
		logging.String("sensor", s.Name()),
	)
}

// Sensor returns the id of the sensor with the given name.
func (m *Manager) Sensor(name string) (model.SensorID, error) {
	return m.store.Lookup(name)
}

// SensorByID returns the live sensor with the given id.
func (m *Manager) SensorByID(id model.SensorID) (sensor.Sensor, error) {
	return m.store.Get(id)
}

// SetEnabled enables or disables a sensor. Disabled sensors are never due
// and skipped by forced passes.
func (m *Manager) SetEnabled(id model.SensorID, enabled bool) error {
	s, err := m.store.Get(id)
	if err != nil {
		return err
	}
	s.SetEnabled(enabled)
	return nil
}

// LatestReading returns the most recent reading of a sensor. ok is false
// if the sensor has not produced one or does not retain readings.
func (m *Manager) LatestReading(id model.SensorID) (r sensor.Reading, ok bool, err error) {
	s, err := m.store.Get(id)
	if err != nil {
		return sensor.Reading{}, false, err
	}
	src, isSource := s.(sensor.ReadingSource)
	if !isSource {
		return sensor.Reading{}, false, nil
	}
	r, ok = src.LastReading()
	return r, ok, nil
}

// Sensors lists loaded sensors in load order.
func (m *Manager) Sensors() []Info {
	ids := m.store.IDs()
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		s, err := m.store.Get(id)
		if err != nil {
			continue // removed since IDs was taken
		}
		out = append(out, Info{
			ID:         id,
			Name:       s.Name(),
			Parent:     s.Parent(),
			Type:       s.Type(),
			UpdateRate: s.UpdateRate(),
			Period:     s.Period(),
			Enabled:    s.Enabled(),
			LastUpdate: s.LastUpdate(),
		})
	}
	return out
}

// Len returns the number of loaded sensors.
func (m *Manager) Len() int { return m.store.Len() }

// Close stops threaded execution and destroys every sensor.
func (m *Manager) Close() error {
	m.Stop()
	m.store.RemoveAll()
	m.metrics.SetSensorsLoaded(0)
	return nil
}
