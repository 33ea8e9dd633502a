// Package events runs callbacks at simulation times. The scenario runner
// uses it to spawn and remove sensors while a simulation is in progress.
package events

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/sensor-simulator/timectrl"
)

type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// Scheduler orders callbacks by simulation time. Callers advance the clock
// and then call RunDue.
type Scheduler struct {
	clock timectrl.SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // earliest first; equal times keep schedule order
	index   map[string]*scheduledEvent
}

// NewScheduler returns a Scheduler reading time from clock.
func NewScheduler(clock timectrl.SimClock) *Scheduler {
	return &Scheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

// Schedule registers f to run once the clock reaches at. The returned id
// can be passed to Cancel.
func (s *Scheduler) Schedule(at time.Time, f func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	ev := &scheduledEvent{id: fmt.Sprintf("ev-%d", s.counter), when: at, f: f}

	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(at)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev

	s.index[ev.id] = ev
	return ev.id
}

// ScheduleAfter registers f to run d after the clock's current time.
func (s *Scheduler) ScheduleAfter(d time.Duration, f func()) string {
	return s.Schedule(s.clock.Now().Add(d), f)
}

// Cancel drops a pending event. Unknown or already-run ids are ignored.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
}

// Now returns the clock's current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Pending returns the number of events still waiting to run.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// popDueLocked removes and returns the earliest due event, discarding
// cancelled ones on the way.
func (s *Scheduler) popDueLocked(now time.Time) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(now) {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

// RunDue runs every event scheduled at or before Now and returns how many
// ran. Callbacks run without the lock held, so they may schedule or cancel
// further events; newly scheduled events that are already due run in the
// same call.
func (s *Scheduler) RunDue() int {
	ran := 0
	for {
		s.mu.Lock()
		ev := s.popDueLocked(s.clock.Now())
		s.mu.Unlock()
		if ev == nil {
			return ran
		}
		if ev.f != nil {
			ev.f()
		}
		ran++
	}
}
