// Package scenario turns a configuration into a running simulation: a world,
// a sim clock, a sensor manager, a reading bus and the timed load/remove
// events, driven together until the configured duration elapses.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/sensor-simulator/engine"
	"github.com/signalsfoundry/sensor-simulator/internal/bus"
	"github.com/signalsfoundry/sensor-simulator/internal/config"
	"github.com/signalsfoundry/sensor-simulator/internal/events"
	"github.com/signalsfoundry/sensor-simulator/internal/logging"
	"github.com/signalsfoundry/sensor-simulator/manager"
	"github.com/signalsfoundry/sensor-simulator/model"
	"github.com/signalsfoundry/sensor-simulator/sensor"
	"github.com/signalsfoundry/sensor-simulator/timectrl"
)

// ErrAlreadyRun is returned when Run is called more than once.
var ErrAlreadyRun = errors.New("scenario already run")

const summarySubscriber = "scenario-summary"

// Summary describes a finished run.
type Summary struct {
	RunID      string
	SimElapsed time.Duration
	Steps      int
	Events     int
	Failures   int
	Readings   map[string]int
	Dropped    uint64
}

// Runner owns every component of one simulation.
type Runner struct {
	World   *engine.World
	Clock   *timectrl.TimeController
	Manager *manager.Manager
	Bus     *bus.Bus
	Events  *events.Scheduler

	cfg      *config.Config
	log      logging.Logger
	runID    string
	velocity map[string]model.Vec3

	mu       sync.Mutex
	passCtx  context.Context
	ran      bool
	steps    int
	fired    int
	failures int
	lastTick time.Time
}

// Option customises a Runner.
type Option func(*runnerOptions)

type runnerOptions struct {
	log     logging.Logger
	loader  manager.Loader
	metrics manager.Metrics
}

func WithLogger(l logging.Logger) Option {
	return func(o *runnerOptions) { o.log = l }
}

// WithLoader sets the plugin loader; without it no sensor type resolves.
func WithLoader(l manager.Loader) Option {
	return func(o *runnerOptions) { o.loader = l }
}

func WithMetrics(mt manager.Metrics) Option {
	return func(o *runnerOptions) { o.metrics = mt }
}

// New builds the components described by cfg, loads the initial sensors
// and schedules the configured events. Any sensor that fails to load fails
// New.
func New(cfg *config.Config, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o runnerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	runID := logging.NewID()
	log := logging.OrNoop(o.log).With(logging.String("run_id", runID))

	r := &Runner{
		World:    buildWorld(cfg.World),
		Bus:      bus.New(),
		cfg:      cfg,
		log:      log,
		runID:    runID,
		velocity: make(map[string]model.Vec3),
		passCtx:  context.Background(),
	}
	for _, l := range cfg.World.Links {
		r.velocity[l.Name] = vec(l.Velocity)
	}

	r.Clock = timectrl.NewTimeController(cfg.Clock.Start, cfg.Clock.Tick, timectrl.ParseMode(cfg.Clock.Mode))
	if cfg.Clock.Factor >= 1 {
		r.Clock.Factor = int(cfg.Clock.Factor)
	}
	r.lastTick = r.Clock.Now()
	r.Events = events.NewScheduler(r.Clock)

	mopts := []manager.Option{
		manager.WithClock(r.Clock),
		manager.WithLogger(log),
		manager.WithPublisher(r.Bus),
		manager.WithWorkers(cfg.Manager.Workers),
		manager.WithPace(cfg.Manager.Pace),
	}
	if o.loader != nil {
		mopts = append(mopts, manager.WithLoader(o.loader))
	}
	if o.metrics != nil {
		mopts = append(mopts, manager.WithMetrics(o.metrics))
	}
	r.Manager = manager.New(mopts...)
	if !r.Manager.Init(manager.WithRendering(r.World), manager.WithPhysics(r.World)) {
		return nil, fmt.Errorf("sensor manager rejected initialization")
	}

	ctx := context.Background()
	for _, sc := range cfg.Sensors {
		if _, err := r.Manager.LoadDefinition(ctx, sc.Definition()); err != nil {
			_ = r.Manager.Close()
			return nil, fmt.Errorf("load sensor %q: %w", sc.Name, err)
		}
	}
	for _, ev := range cfg.Events {
		r.schedule(ev)
	}
	r.Clock.AddListener(r.onTick)

	log.Info(ctx, "scenario ready",
		logging.Int("sensors", len(cfg.Sensors)),
		logging.Int("events", len(cfg.Events)),
		logging.Bool("threaded", cfg.Manager.Threaded),
	)
	return r, nil
}

func buildWorld(wc config.WorldConfig) *engine.World {
	w := engine.NewWorld()
	w.SetGround(wc.Ground)
	for _, s := range wc.Spheres {
		w.AddSphere(engine.Sphere{Name: s.Name, Center: vec(s.Center), Radius: s.Radius})
	}
	for _, l := range wc.Links {
		w.SetLinkState(l.Name, engine.LinkState{
			Pose:           model.Pose{Position: vec(l.Position), Yaw: l.Yaw},
			LinearVelocity: vec(l.Velocity),
		})
	}
	return w
}

func vec(a [3]float64) model.Vec3 {
	return model.Vec3{X: a[0], Y: a[1], Z: a[2]}
}

// schedule registers a config event with the event scheduler. Event
// failures are logged and counted; they never stop the run.
func (r *Runner) schedule(ev config.EventConfig) {
	at := r.cfg.Clock.Start.Add(ev.At)
	switch ev.Action {
	case config.ActionLoad:
		def := ev.Sensor.Definition()
		r.Events.Schedule(at, func() {
			r.countEvent()
			ctx := context.Background()
			if _, err := r.Manager.LoadDefinition(ctx, def); err != nil {
				r.countFailure()
				r.log.Warn(ctx, "scheduled load failed", logging.String("sensor", def.Name), logging.Err(err))
				return
			}
			r.log.Info(ctx, "scheduled load", logging.String("sensor", def.Name), logging.Time("sim_time", r.Clock.Now()))
		})
	case config.ActionRemove:
		name := ev.Name
		r.Events.Schedule(at, func() {
			r.countEvent()
			ctx := context.Background()
			if err := r.Manager.RemoveByName(name); err != nil {
				r.countFailure()
				r.log.Warn(ctx, "scheduled remove failed", logging.String("sensor", name), logging.Err(err))
				return
			}
			r.log.Info(ctx, "scheduled remove", logging.String("sensor", name), logging.Time("sim_time", r.Clock.Now()))
		})
	}
}

// onTick runs after every clock advance: links move by their velocity and
// due events fire before any sensor sees the new time. Unless the manager
// runs its own threads, one scheduling pass follows.
func (r *Runner) onTick(now time.Time) {
	r.mu.Lock()
	dt := now.Sub(r.lastTick).Seconds()
	r.lastTick = now
	r.steps++
	ctx := r.passCtx
	r.mu.Unlock()

	if dt > 0 {
		r.moveLinks(dt)
	}
	r.Events.RunDue()

	if r.Manager.Status() == manager.StatusRunning {
		return
	}
	err := r.Manager.RunOnce(ctx, false)
	var pe *manager.PassError
	switch {
	case err == nil:
	case errors.As(err, &pe):
		r.mu.Lock()
		r.failures += len(pe.Failures)
		r.mu.Unlock()
	default:
		r.log.Warn(ctx, "scheduling pass failed", logging.Err(err))
	}
}

func (r *Runner) moveLinks(dt float64) {
	ctx := context.Background()
	for link, v := range r.velocity {
		if v == (model.Vec3{}) {
			continue
		}
		st, err := r.World.LinkState(ctx, link)
		if err != nil {
			continue
		}
		st.Pose.Position = st.Pose.Position.Add(v.Scale(dt))
		r.World.SetLinkState(link, st)
	}
}

// Step advances the clock by one tick by hand. The clock listener does the
// rest of the tick, including the scheduling pass. Sensor failures are
// counted and logged; only context errors are returned.
func (r *Runner) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.Clock.Step()
	return nil
}

// Run drives the simulation until the configured duration of sim time has
// passed or ctx is cancelled. A cancelled run still returns its summary.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		return Summary{}, ErrAlreadyRun
	}
	r.ran = true
	// Ticks finish their pass even when ctx ends mid-tick.
	r.passCtx = context.WithoutCancel(ctx)
	r.mu.Unlock()

	readings := make(chan sensor.Reading, 256)
	if err := r.Bus.Subscribe(summarySubscriber, readings, nil); err != nil {
		return Summary{}, fmt.Errorf("subscribe readings: %w", err)
	}

	counts := make(map[string]int)
	driveDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(driveDone)
		return r.drive(gctx)
	})
	g.Go(func() error {
		for {
			select {
			case rd := <-readings:
				counts[rd.Sensor]++
			case <-driveDone:
				for {
					select {
					case rd := <-readings:
						counts[rd.Sensor]++
					default:
						return nil
					}
				}
			}
		}
	})
	err := g.Wait()

	stats := r.Bus.Stats().Subscribers[summarySubscriber]
	_ = r.Bus.Unsubscribe(summarySubscriber)

	r.mu.Lock()
	sum := Summary{
		RunID:      r.runID,
		SimElapsed: r.Clock.Elapsed(),
		Steps:      r.steps,
		Events:     r.fired,
		Failures:   r.failures,
		Readings:   counts,
		Dropped:    stats.Dropped,
	}
	r.mu.Unlock()

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	r.log.Info(ctx, "scenario finished",
		logging.Duration("sim_elapsed", sum.SimElapsed),
		logging.Int("steps", sum.Steps),
		logging.Int("failures", sum.Failures),
		logging.Uint64("dropped", sum.Dropped),
	)
	return sum, err
}

// drive runs the clock's own loop for the rest of the configured duration.
// In threaded mode the manager's loop performs the scheduling passes.
func (r *Runner) drive(ctx context.Context) error {
	if r.cfg.Manager.Threaded {
		if err := r.Manager.RunThreads(ctx); err != nil {
			return err
		}
		defer r.Manager.Stop()
	}

	remaining := r.cfg.Clock.Duration
	if remaining > 0 {
		remaining -= r.Clock.Elapsed()
		if remaining <= 0 {
			return nil
		}
	}
	<-r.Clock.Start(ctx, remaining)
	return ctx.Err()
}

func (r *Runner) countEvent() {
	r.mu.Lock()
	r.fired++
	r.mu.Unlock()
}

func (r *Runner) countFailure() {
	r.mu.Lock()
	r.failures++
	r.mu.Unlock()
}

// Close stops the manager, releases every sensor and shuts the bus.
func (r *Runner) Close() error {
	err := r.Manager.Close()
	r.World.Close()
	return errors.Join(err, r.Bus.Close())
}
