package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Update outcomes used as the result label of sensor_updates_total.
const (
	ResultProduced = "produced"
	ResultEmpty    = "empty"
	ResultError    = "error"
)

// ManagerCollector exposes sensor manager metrics. All methods are safe on
// a nil receiver.
type ManagerCollector struct {
	gatherer prometheus.Gatherer

	Updates        *prometheus.CounterVec
	UpdateErrors   *prometheus.CounterVec
	UpdateDuration *prometheus.HistogramVec
	SensorsLoaded  prometheus.Gauge
	Passes         *prometheus.CounterVec
	PassDuration   *prometheus.HistogramVec
	Skipped        *prometheus.CounterVec
}

// NewManagerCollector registers manager metrics against reg, defaulting to
// the global registry when nil.
func NewManagerCollector(reg prometheus.Registerer) (*ManagerCollector, error) {
	reg, gatherer := resolveRegistry(reg)

	updates, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensor_updates_total",
		Help: "Sensor updates run by the manager, labeled by sensor and result.",
	}, []string{"sensor", "result"}), "sensor_updates_total")
	if err != nil {
		return nil, err
	}

	updateErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensor_update_errors_total",
		Help: "Sensor updates that failed or panicked.",
	}, []string{"sensor"}), "sensor_update_errors_total")
	if err != nil {
		return nil, err
	}

	updateDuration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sensor_update_duration_seconds",
		Help:    "Wall-clock duration of a single sensor update, by sensor type.",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"type"}), "sensor_update_duration_seconds")
	if err != nil {
		return nil, err
	}

	loaded, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sensors_loaded",
		Help: "Number of sensors currently held by the manager.",
	}), "sensors_loaded")
	if err != nil {
		return nil, err
	}

	passes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduling_passes_total",
		Help: "Scheduling passes run, labeled by mode (once, threaded).",
	}, []string{"mode"}), "scheduling_passes_total")
	if err != nil {
		return nil, err
	}

	passDuration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduling_pass_duration_seconds",
		Help:    "Wall-clock duration of a scheduling pass.",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"mode"}), "scheduling_pass_duration_seconds")
	if err != nil {
		return nil, err
	}

	skipped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensor_dispatch_skipped_total",
		Help: "Due sensors not dispatched because a previous update was still in flight.",
	}, []string{"sensor"}), "sensor_dispatch_skipped_total")
	if err != nil {
		return nil, err
	}

	return &ManagerCollector{
		gatherer:       gatherer,
		Updates:        updates,
		UpdateErrors:   updateErrors,
		UpdateDuration: updateDuration,
		SensorsLoaded:  loaded,
		Passes:         passes,
		PassDuration:   passDuration,
		Skipped:        skipped,
	}, nil
}

// Gatherer returns the gatherer backing the collector.
func (c *ManagerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveUpdate records one sensor update.
func (c *ManagerCollector) ObserveUpdate(sensor, typ string, d time.Duration, produced bool, err error) {
	if c == nil {
		return
	}
	result := ResultEmpty
	switch {
	case err != nil:
		result = ResultError
		c.UpdateErrors.WithLabelValues(sensor).Inc()
	case produced:
		result = ResultProduced
	}
	c.Updates.WithLabelValues(sensor, result).Inc()
	c.UpdateDuration.WithLabelValues(typ).Observe(d.Seconds())
}

// ObservePass records a completed scheduling pass.
func (c *ManagerCollector) ObservePass(mode string, d time.Duration) {
	if c == nil {
		return
	}
	c.Passes.WithLabelValues(mode).Inc()
	c.PassDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveSkipped counts a due sensor left out of a pass because it was busy.
func (c *ManagerCollector) ObserveSkipped(sensor string) {
	if c == nil {
		return
	}
	c.Skipped.WithLabelValues(sensor).Inc()
}

// SetSensorsLoaded updates the loaded-sensor gauge.
func (c *ManagerCollector) SetSensorsLoaded(n int) {
	if c == nil {
		return
	}
	c.SensorsLoaded.Set(float64(n))
}

// ForgetSensor drops per-sensor series once a sensor is removed.
func (c *ManagerCollector) ForgetSensor(sensor string) {
	if c == nil {
		return
	}
	c.Updates.DeletePartialMatch(prometheus.Labels{"sensor": sensor})
	c.UpdateErrors.DeleteLabelValues(sensor)
	c.Skipped.DeleteLabelValues(sensor)
}
