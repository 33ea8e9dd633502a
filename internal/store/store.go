// Package store is the identity registry and collection of live sensors.
//
// Entries are reference counted. Removal erases the id and name mappings
// immediately, so lookups and later scheduling passes no longer see the
// sensor, but destruction (io.Closer) is deferred until every in-flight
// Handle has been released.
package store

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/signalsfoundry/sensor-simulator/model"
	"github.com/signalsfoundry/sensor-simulator/sensor"
)

var (
	// ErrDuplicateName indicates a live sensor already uses the name.
	ErrDuplicateName = errors.New("sensor name already in use")
	// ErrNotFound indicates no live sensor has the id or name.
	ErrNotFound = errors.New("sensor not found")
	// ErrInvalidName indicates an empty sensor name.
	ErrInvalidName = errors.New("sensor name is required")
)

// DestroyFunc observes sensor destruction, e.g. for logging. err is the
// result of Close when the sensor implements io.Closer.
type DestroyFunc func(id model.SensorID, s sensor.Sensor, err error)

type entry struct {
	id     model.SensorID
	sensor sensor.Sensor

	mu       sync.Mutex
	refs     int
	removed  bool
	inFlight bool
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	nextID uint64
	byID   map[model.SensorID]*entry
	byName map[string]model.SensorID
	order  []model.SensorID // insertion order

	onDestroy DestroyFunc
}

// Option customises a Store.
type Option func(*Store)

// WithDestroyHook registers a callback run after a sensor is destroyed.
func WithDestroyHook(fn DestroyFunc) Option {
	return func(s *Store) { s.onDestroy = fn }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		byID:   make(map[model.SensorID]*entry),
		byName: make(map[string]model.SensorID),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Insert assigns a fresh id to sen and records it. Nothing is stored on error.
func (s *Store) Insert(sen sensor.Sensor) (model.SensorID, error) {
	if sen == nil {
		return model.InvalidSensorID, fmt.Errorf("nil sensor")
	}
	name := sen.Name()
	if name == "" {
		return model.InvalidSensorID, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return model.InvalidSensorID, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	s.nextID++
	id := model.SensorID(s.nextID)
	s.byID[id] = &entry{id: id, sensor: sen}
	s.byName[name] = id
	s.order = append(s.order, id)
	return id, nil
}

// Remove erases the sensor with the given id.
func (s *Store) Remove(id model.SensorID) error {
	s.mu.Lock()
	e, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.eraseLocked(e)
	s.mu.Unlock()

	s.retire(e)
	return nil
}

// RemoveByName erases the sensor with the given name.
func (s *Store) RemoveByName(name string) error {
	s.mu.Lock()
	id, ok := s.byName[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	e := s.byID[id]
	s.eraseLocked(e)
	s.mu.Unlock()

	s.retire(e)
	return nil
}

// RemoveAll erases every sensor, e.g. on manager teardown.
func (s *Store) RemoveAll() {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.byID[id])
	}
	s.byID = make(map[model.SensorID]*entry)
	s.byName = make(map[string]model.SensorID)
	s.order = nil
	s.mu.Unlock()

	for _, e := range entries {
		s.retire(e)
	}
}

// eraseLocked drops e from every index. Caller holds s.mu for writing.
func (s *Store) eraseLocked(e *entry) {
	delete(s.byID, e.id)
	delete(s.byName, e.sensor.Name())
	for i, id := range s.order {
		if id == e.id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// retire marks e removed and destroys it now if nothing holds a reference.
func (s *Store) retire(e *entry) {
	e.mu.Lock()
	e.removed = true
	destroy := e.refs == 0
	e.mu.Unlock()
	if destroy {
		s.destroy(e)
	}
}

func (s *Store) destroy(e *entry) {
	var err error
	if c, ok := e.sensor.(io.Closer); ok {
		err = c.Close()
	}
	if s.onDestroy != nil {
		s.onDestroy(e.id, e.sensor, err)
	}
}

// Lookup returns the id registered for name.
func (s *Store) Lookup(name string) (model.SensorID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return model.InvalidSensorID, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return id, nil
}

// Get returns the live sensor with the given id. The returned sensor may be
// removed concurrently; use Acquire to pin it across an update.
func (s *Store) Get(id model.SensorID) (sensor.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.sensor, nil
}

// Len returns the number of live sensors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// IDs returns live ids in insertion order.
func (s *Store) IDs() []model.SensorID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.SensorID(nil), s.order...)
}

// Names returns live sensor names in insertion order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.order))
	for _, id := range s.order {
		names = append(names, s.byID[id].sensor.Name())
	}
	return names
}

// AllDue yields, in insertion order, the ids of sensors needing an update at
// simTime. With force it yields every enabled sensor. Each range over the
// sequence takes a fresh snapshot, so the sequence is restartable and never
// reflects inserts or removals made while it is being consumed.
func (s *Store) AllDue(simTime time.Time, force bool) iter.Seq[model.SensorID] {
	return func(yield func(model.SensorID) bool) {
		for _, id := range s.snapshotDue(simTime, force) {
			if !yield(id) {
				return
			}
		}
	}
}

func (s *Store) snapshotDue(simTime time.Time, force bool) []model.SensorID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	due := make([]model.SensorID, 0, len(s.order))
	for _, id := range s.order {
		sen := s.byID[id].sensor
		if force {
			if sen.Enabled() {
				due = append(due, id)
			}
			continue
		}
		if sen.IsUpdateRequired(simTime) {
			due = append(due, id)
		}
	}
	return due
}

// Handle pins a sensor for the duration of an update.
type Handle struct {
	store *Store
	e     *entry
	began bool
	done  bool
}

// Acquire pins the live sensor id. It returns false if the sensor has been
// removed, so a removed sensor never starts a new update.
func (s *Store) Acquire(id model.SensorID) (*Handle, bool) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, false
	}
	e.refs++
	return &Handle{store: s, e: e}, true
}

// ID returns the pinned sensor's id.
func (h *Handle) ID() model.SensorID { return h.e.id }

// Sensor returns the pinned sensor.
func (h *Handle) Sensor() sensor.Sensor { return h.e.sensor }

// Removed reports whether the sensor has been removed since it was pinned.
func (h *Handle) Removed() bool {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	return h.e.removed
}

// TryBegin marks an update in flight. It fails if another update of the
// same sensor is already in flight or the sensor was removed.
func (h *Handle) TryBegin() bool {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	if h.e.inFlight || h.e.removed {
		return false
	}
	h.e.inFlight = true
	h.began = true
	return true
}

// Release ends any in-flight update begun through h and unpins the sensor,
// destroying it if it was removed and this was the last reference. Release
// is idempotent.
func (h *Handle) Release() {
	if h == nil || h.done {
		return
	}
	h.done = true

	h.e.mu.Lock()
	if h.began {
		h.e.inFlight = false
	}
	h.e.refs--
	destroy := h.e.removed && h.e.refs == 0
	h.e.mu.Unlock()

	if destroy {
		h.store.destroy(h.e)
	}
}
