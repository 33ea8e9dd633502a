package manager

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signalsfoundry/sensor-simulator/internal/store"
	"github.com/signalsfoundry/sensor-simulator/model"
)

var (
	// ErrNotInitialized is returned by operations that need Init first.
	ErrNotInitialized = errors.New("sensor manager not initialized")
	// ErrPluginLoad wraps plugin resolution and construction failures.
	ErrPluginLoad = errors.New("sensor plugin load failed")
	// ErrInvalidState is returned when an operation conflicts with the
	// current execution mode, e.g. RunOnce while threads are running.
	ErrInvalidState = errors.New("invalid sensor manager state")

	// Re-exported so callers need not import the store.
	ErrDuplicateName = store.ErrDuplicateName
	ErrNotFound      = store.ErrNotFound
	ErrInvalidName   = store.ErrInvalidName
)

// SensorError reports a failed update of one sensor.
type SensorError struct {
	ID   model.SensorID
	Name string
	Err  error
}

func (e *SensorError) Error() string {
	return fmt.Sprintf("sensor %q (%s): %v", e.Name, e.ID, e.Err)
}

func (e *SensorError) Unwrap() error { return e.Err }

// PassError collects the sensor failures of one RunOnce pass. The pass
// still visits every due sensor.
type PassError struct {
	SimTime  time.Time
	Failures []*SensorError
}

func (e *PassError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("%d sensor update(s) failed at %s: %s",
		len(e.Failures), e.SimTime.Format(time.RFC3339Nano), strings.Join(msgs, "; "))
}

// Unwrap exposes each failure to errors.Is and errors.As.
func (e *PassError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}
