package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock gives components access to simulation time without depending on
// a concrete controller. The sensor manager reads it once per scheduling pass.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// WallClock is a SimClock that reports wall-clock time.
type WallClock struct{}

// Now returns time.Now().
func (WallClock) Now() time.Time { return time.Now() }

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances one Tick per wall-clock Tick.
	RealTime Mode = iota
	// Accelerated advances one Tick per Tick/Factor of wall-clock time.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// ParseMode maps a config string onto a Mode. Unknown values fall back to
// RealTime.
func ParseMode(s string) Mode {
	if s == "accelerated" {
		return Accelerated
	}
	return RealTime
}

// DefaultFactor is the speed-up applied in Accelerated mode when Factor is unset.
const DefaultFactor = 10

// TimeController drives simulation time and notifies registered listeners.
// It can be stepped manually (Advance) or run on its own cadence (Start).
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode
	Factor    int

	currentTime time.Time
	listeners   []func(time.Time)
}

// NewTimeController constructs a controller positioned at start.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		Factor:      DefaultFactor,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Elapsed returns how far simulation time has moved past StartTime.
func (tc *TimeController) Elapsed() time.Duration {
	return tc.Now().Sub(tc.StartTime)
}

// AddListener registers a callback invoked after every advance.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Advance moves simulation time forward by d and notifies listeners with
// the new time. Listeners run on the caller's goroutine, outside the lock.
func (tc *TimeController) Advance(d time.Duration) time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(d)
	now := tc.currentTime
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// Step advances by a single Tick.
func (tc *TimeController) Step() time.Time {
	return tc.Advance(tc.Tick)
}

// Interval is the wall-clock gap between ticks for the configured mode.
func (tc *TimeController) Interval() time.Duration {
	if tc.Mode != Accelerated {
		return tc.Tick
	}
	factor := tc.Factor
	if factor <= 0 {
		factor = DefaultFactor
	}
	iv := tc.Tick / time.Duration(factor)
	if iv <= 0 {
		iv = time.Microsecond
	}
	return iv
}

// Start runs the controller in a separate goroutine until duration of
// simulation time has elapsed (duration <= 0 means unbounded) or ctx is
// cancelled. The returned channel is closed when the loop exits.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ticker := time.NewTicker(tc.Interval())
		defer ticker.Stop()

		var elapsed time.Duration
		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			tc.Step()
			elapsed += tc.Tick
		}
	}()
	return done
}
