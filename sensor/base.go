package sensor

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/signalsfoundry/sensor-simulator/engine"
	"github.com/signalsfoundry/sensor-simulator/model"
)

// GenerateFunc produces a measurement for simTime. Base fills in the
// identity fields of the returned Reading.
type GenerateFunc func(ctx context.Context, simTime time.Time) (Reading, error)

// Config is the scheduling-related configuration of a sensor.
type Config struct {
	Name       string
	Parent     string
	Type       string
	UpdateRate float64
	Enabled    bool
}

// ConfigFromDefinition derives a Config for a sensor of type typ.
func ConfigFromDefinition(typ string, def model.SensorDefinition) Config {
	return Config{
		Name:       def.Name,
		Parent:     def.Parent,
		Type:       typ,
		UpdateRate: def.UpdateRate,
		Enabled:    !def.Disabled,
	}
}

// Base implements Sensor around a GenerateFunc. Concrete sensors embed a
// *Base and provide the generator.
type Base struct {
	// updateMu serializes Update calls; held for the whole generation.
	updateMu sync.Mutex

	mu         sync.RWMutex
	cfg        Config
	period     time.Duration
	enabled    bool
	lastUpdate time.Time
	seq        uint64
	last       *Reading
	publisher  Publisher
	rendering  engine.Rendering
	physics    engine.Physics

	gen GenerateFunc
}

var (
	_ Sensor        = (*Base)(nil)
	_ RenderingUser = (*Base)(nil)
	_ PhysicsUser   = (*Base)(nil)
	_ ClockUser     = (*Base)(nil)
	_ Publishing    = (*Base)(nil)
	_ ReadingSource = (*Base)(nil)
)

// NewBase builds a Base. A nil gen makes every update produce no data.
func NewBase(cfg Config, gen GenerateFunc) *Base {
	return &Base{
		cfg:     cfg,
		period:  model.PeriodFromRate(cfg.UpdateRate),
		enabled: cfg.Enabled,
		gen:     gen,
	}
}

func (b *Base) Name() string   { return b.cfg.Name }
func (b *Base) Parent() string { return b.cfg.Parent }
func (b *Base) Type() string   { return b.cfg.Type }

// UpdateRate returns the configured rate in Hz.
func (b *Base) UpdateRate() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.UpdateRate
}

// SetUpdateRate changes the rate; zero or negative makes the sensor
// force-only.
func (b *Base) SetUpdateRate(hz float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.UpdateRate = hz
	b.period = model.PeriodFromRate(hz)
}

// Period returns the update period; zero means force-only.
func (b *Base) Period() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.period
}

func (b *Base) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

func (b *Base) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

func (b *Base) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// SetLastUpdate positions the sensor's schedule, typically at the clock's
// current time when the sensor is loaded.
func (b *Base) SetLastUpdate(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUpdate = t
}

func (b *Base) SetPublisher(p Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publisher = p
}

func (b *Base) SetRendering(r engine.Rendering) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rendering = r
}

func (b *Base) SetPhysics(p engine.Physics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.physics = p
}

// Rendering returns the rendering handle, or nil if none was wired.
func (b *Base) Rendering() engine.Rendering {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rendering
}

// Physics returns the physics handle, or nil if none was wired.
func (b *Base) Physics() engine.Physics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.physics
}

// LastReading returns a copy of the most recent reading.
func (b *Base) LastReading() (Reading, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.last == nil {
		return Reading{}, false
	}
	r := *b.last
	r.Values = maps.Clone(r.Values)
	return r, true
}

func (b *Base) IsUpdateRequired(simTime time.Time) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dueLocked(simTime)
}

func (b *Base) dueLocked(simTime time.Time) bool {
	if !b.enabled || b.period <= 0 {
		return false
	}
	return simTime.Sub(b.lastUpdate) >= b.period
}

// Update runs the generator. lastUpdate advances to simTime whenever the
// generator runs, including when it fails, so a failing sensor is retried
// on its normal cadence rather than every pass.
func (b *Base) Update(ctx context.Context, simTime time.Time, force bool) (bool, error) {
	b.updateMu.Lock()
	defer b.updateMu.Unlock()

	b.mu.RLock()
	enabled, due := b.enabled, b.dueLocked(simTime)
	b.mu.RUnlock()
	if !enabled {
		return false, nil
	}
	if !force && !due {
		return false, ErrNotDue
	}

	var (
		r   Reading
		err error
	)
	if b.gen == nil {
		err = ErrNoData
	} else {
		r, err = b.gen(ctx, simTime)
	}

	b.mu.Lock()
	b.lastUpdate = simTime
	if err != nil {
		b.mu.Unlock()
		if errors.Is(err, ErrNoData) {
			return false, nil
		}
		return false, err
	}
	b.seq++
	r.Sensor = b.cfg.Name
	r.Type = b.cfg.Type
	r.Parent = b.cfg.Parent
	r.SimTime = simTime
	r.Seq = b.seq
	stored := r
	b.last = &stored
	pub := b.publisher
	b.mu.Unlock()

	if pub != nil {
		pub.Publish(r)
	}
	return true, nil
}
