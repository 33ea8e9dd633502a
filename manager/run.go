package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/sensor-simulator/internal/logging"
	"github.com/signalsfoundry/sensor-simulator/internal/store"
	"github.com/signalsfoundry/sensor-simulator/internal/workerpool"
	"github.com/signalsfoundry/sensor-simulator/sensor"
)

// Pass modes reported to Metrics.
const (
	ModeOnce     = "once"
	ModeThreaded = "threaded"
)

type threadRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// RunOnce runs one synchronous pass at the clock's current time. Every due
// sensor is updated in load order; with force, every enabled sensor is.
// Failing or panicking sensors do not stop the pass and are reported
// together as a *PassError.
func (m *Manager) RunOnce(ctx context.Context, force bool) error {
	m.mu.Lock()
	switch m.status {
	case StatusUninitialized:
		m.mu.Unlock()
		return ErrNotInitialized
	case StatusRunning:
		m.mu.Unlock()
		return fmt.Errorf("%w: RunOnce while threads are running", ErrInvalidState)
	}
	// RunThreads refuses to start while a synchronous pass is in progress.
	m.stepping++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.stepping--
		m.mu.Unlock()
	}()

	start := time.Now()
	simTime := m.clock.Now()
	ctx, span := m.tracer.Start(ctx, "sensor.RunOnce", trace.WithAttributes(
		attribute.Bool("sensor.force", force),
		attribute.String("sim.time", simTime.Format(time.RFC3339Nano)),
	))
	defer span.End()

	var (
		failures []*SensorError
		updated  int
	)
	for id := range m.store.AllDue(simTime, force) {
		h, ok := m.store.Acquire(id)
		if !ok {
			continue
		}
		if !h.TryBegin() {
			m.metrics.ObserveSkipped(h.Sensor().Name())
			h.Release()
			continue
		}
		ran, err := m.update(ctx, h, simTime, force)
		switch {
		case err != nil:
			m.logFailure(ctx, err)
			failures = append(failures, err)
		case ran:
			updated++
		}
		h.Release()
	}
	m.metrics.ObservePass(ModeOnce, time.Since(start))
	span.SetAttributes(attribute.Int("sensor.updated", updated))

	if len(failures) == 0 {
		return nil
	}
	err := &PassError{SimTime: simTime, Failures: failures}
	span.RecordError(err)
	span.SetStatus(codes.Error, "sensor updates failed")
	return err
}

// RunThreads starts background execution and returns immediately. Every
// pace interval a loop reads the clock and hands each due sensor that is
// not already updating to the worker pool. Cancelling ctx ends the loop;
// Stop must still be called to return to the initialized state. It fails
// with ErrInvalidState while a RunOnce pass is in progress.
func (m *Manager) RunThreads(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.status {
	case StatusUninitialized:
		return ErrNotInitialized
	case StatusRunning:
		return fmt.Errorf("%w: threads already running", ErrInvalidState)
	}
	if m.stepping > 0 {
		return fmt.Errorf("%w: RunThreads during a RunOnce pass", ErrInvalidState)
	}

	workers := m.workers
	if workers <= 0 {
		workers = max(m.store.Len(), 1)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	// Updates in progress are never aborted, so jobs get a context that
	// outlives Stop.
	pool := workerpool.New(context.WithoutCancel(ctx), workers,
		workerpool.WithErrorHandler(func(err error) { m.logFailure(context.Background(), err) }),
	)
	run := &threadRun{cancel: cancel, done: make(chan struct{})}
	m.threads = run
	m.status = StatusRunning

	go m.loop(loopCtx, run, pool)

	m.log.Info(ctx, "sensor threads started",
		logging.Int("workers", workers),
		logging.Duration("pace", m.pace),
	)
	return nil
}

// Stop ends threaded execution: the loop exits after its current pass,
// queued updates drain and the workers are joined. It is a no-op when
// threads are not running.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.threads
	if run == nil {
		return
	}
	run.cancel()
	<-run.done
	m.threads = nil
	m.status = StatusInitialized
	m.log.Info(context.Background(), "sensor threads stopped")
}

func (m *Manager) loop(ctx context.Context, run *threadRun, pool *workerpool.Pool) {
	defer close(run.done)
	defer pool.Close()

	ticker := time.NewTicker(m.pace)
	defer ticker.Stop()
	for {
		m.dispatch(ctx, pool)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatch submits one threaded pass. A sensor whose previous update is
// still running is skipped, so a slow sensor never has overlapping updates
// and never holds up the others.
func (m *Manager) dispatch(ctx context.Context, pool *workerpool.Pool) {
	start := time.Now()
	simTime := m.clock.Now()
	for id := range m.store.AllDue(simTime, false) {
		if ctx.Err() != nil {
			break
		}
		h, ok := m.store.Acquire(id)
		if !ok {
			continue
		}
		if !h.TryBegin() {
			m.metrics.ObserveSkipped(h.Sensor().Name())
			h.Release()
			continue
		}
		err := pool.Submit(ctx, func(jobCtx context.Context) error {
			defer h.Release()
			if _, se := m.update(jobCtx, h, simTime, false); se != nil {
				return se
			}
			return nil
		})
		if err != nil {
			h.Release()
			break
		}
	}
	m.metrics.ObservePass(ModeThreaded, time.Since(start))
}

// update runs one sensor update with panics turned into errors and reports
// whether Update ran to success. The removal check is the last step before
// Update is called.
func (m *Manager) update(ctx context.Context, h *store.Handle, simTime time.Time, force bool) (bool, *SensorError) {
	s := h.Sensor()
	ctx, span := m.tracer.Start(ctx, "sensor.Update", trace.WithAttributes(
		attribute.String("sensor.name", s.Name()),
		attribute.String("sensor.type", s.Type()),
	))
	defer span.End()

	if h.Removed() {
		span.SetAttributes(attribute.Bool("sensor.removed", true))
		return false, nil
	}
	start := time.Now()
	produced, err := safeUpdate(ctx, s, simTime, force)
	if errors.Is(err, sensor.ErrNotDue) {
		// Another pass updated it at this simTime first.
		return false, nil
	}
	m.metrics.ObserveUpdate(s.Name(), s.Type(), time.Since(start), produced, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return false, &SensorError{ID: h.ID(), Name: s.Name(), Err: err}
	}
	span.SetAttributes(attribute.Bool("sensor.produced", produced))
	return true, nil
}

func safeUpdate(ctx context.Context, s sensor.Sensor, simTime time.Time, force bool) (produced bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			produced = false
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return s.Update(ctx, simTime, force)
}

func (m *Manager) logFailure(ctx context.Context, err error) {
	var se *SensorError
	if errors.As(err, &se) {
		m.log.Warn(ctx, "sensor update failed",
			logging.Uint64("sensor_id", uint64(se.ID)),
			logging.String("sensor", se.Name),
			logging.Err(se.Err),
		)
		return
	}
	m.log.Error(ctx, "sensor worker failed", logging.Err(err))
}
