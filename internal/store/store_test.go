package store

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signalsfoundry/sensor-simulator/model"
	"github.com/signalsfoundry/sensor-simulator/sensor"
)

var t0 = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// closingSensor counts Close calls.
type closingSensor struct {
	*sensor.Base
	closed atomic.Int32
}

func (c *closingSensor) Close() error {
	c.closed.Add(1)
	return nil
}

func newSensor(name string, rate float64) *closingSensor {
	b := sensor.NewBase(sensor.Config{Name: name, Type: "test", UpdateRate: rate, Enabled: true}, nil)
	b.SetLastUpdate(t0)
	return &closingSensor{Base: b}
}

func TestInsertAssignsMonotonicIDs(t *testing.T) {
	s := New()
	a, err := s.Insert(newSensor("a", 1))
	if err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	b, err := s.Insert(newSensor("b", 1))
	if err != nil {
		t.Fatalf("Insert b: %v", err)
	}
	if !a.Valid() || b <= a {
		t.Fatalf("ids not monotonic: a=%v b=%v", a, b)
	}

	if err := s.Remove(a); err != nil {
		t.Fatalf("Remove a: %v", err)
	}
	c, err := s.Insert(newSensor("a", 1))
	if err != nil {
		t.Fatalf("re-Insert a: %v", err)
	}
	if c == a || c <= b {
		t.Fatalf("removed id reused or not monotonic: a=%v c=%v", a, c)
	}
	if _, err := s.Get(a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(removed id) err = %v, want ErrNotFound", err)
	}
}

func TestInsertRejectsDuplicateName(t *testing.T) {
	s := New()
	first, err := s.Insert(newSensor("cam1", 30))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.Insert(newSensor("cam1", 30)); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("duplicate Insert err = %v, want ErrDuplicateName", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d after rejected insert, want 1", s.Len())
	}
	got, err := s.Lookup("cam1")
	if err != nil || got != first {
		t.Fatalf("Lookup = (%v, %v), want (%v, nil)", got, err, first)
	}
	if _, err := s.Insert(newSensor("", 1)); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("empty name err = %v, want ErrInvalidName", err)
	}
}

func TestRemoveByNameAndNotFound(t *testing.T) {
	s := New()
	sen := newSensor("lidar", 10)
	if _, err := s.Insert(sen); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.RemoveByName("lidar"); err != nil {
		t.Fatalf("RemoveByName: %v", err)
	}
	if _, err := s.Lookup("lidar"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup after remove err = %v, want ErrNotFound", err)
	}
	if err := s.RemoveByName("lidar"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second RemoveByName err = %v, want ErrNotFound", err)
	}
	if err := s.Remove(model.SensorID(99)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove(unknown) err = %v, want ErrNotFound", err)
	}
	if sen.closed.Load() != 1 {
		t.Fatalf("Close calls = %d, want 1", sen.closed.Load())
	}
}

func TestAllDueOrderAndForce(t *testing.T) {
	s := New()
	ids := map[string]model.SensorID{}
	for _, tc := range []struct {
		name string
		rate float64
	}{
		{"fast", 100},
		{"slow", 50},
		{"forced", 0},
		{"fast2", 100},
		{"disabled", 100},
	} {
		sen := newSensor(tc.name, tc.rate)
		if tc.name == "disabled" {
			sen.SetEnabled(false)
		}
		id, err := s.Insert(sen)
		if err != nil {
			t.Fatalf("Insert %s: %v", tc.name, err)
		}
		ids[tc.name] = id
	}

	due := slices.Collect(s.AllDue(t0.Add(15*time.Millisecond), false))
	want := []model.SensorID{ids["fast"], ids["fast2"]}
	if diff := cmp.Diff(want, due); diff != "" {
		t.Fatalf("AllDue(15ms) mismatch (-want +got):\n%s", diff)
	}

	forced := slices.Collect(s.AllDue(t0, true))
	want = []model.SensorID{ids["fast"], ids["slow"], ids["forced"], ids["fast2"]}
	if diff := cmp.Diff(want, forced); diff != "" {
		t.Fatalf("AllDue(force) mismatch (-want +got):\n%s", diff)
	}
}

func TestAllDueIsRestartableSnapshot(t *testing.T) {
	s := New()
	for i := range 3 {
		if _, err := s.Insert(newSensor(fmt.Sprintf("s%d", i), 1)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	seq := s.AllDue(t0.Add(time.Second), false)

	var seen []model.SensorID
	for id := range seq {
		seen = append(seen, id)
		// Mutations while iterating must not affect this pass.
		if len(seen) == 1 {
			if _, err := s.Insert(newSensor("late", 1)); err != nil {
				t.Fatalf("Insert late: %v", err)
			}
		}
	}
	if len(seen) != 3 {
		t.Fatalf("first pass saw %d ids, want 3", len(seen))
	}
	if again := slices.Collect(seq); len(again) != 4 {
		t.Fatalf("second pass saw %d ids, want 4", len(again))
	}
}

func TestRemoveDefersDestroyUntilRelease(t *testing.T) {
	var destroyed atomic.Int32
	s := New(WithDestroyHook(func(model.SensorID, sensor.Sensor, error) { destroyed.Add(1) }))
	sen := newSensor("imu", 100)
	id, err := s.Insert(sen)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	h, ok := s.Acquire(id)
	if !ok {
		t.Fatalf("Acquire failed")
	}
	if !h.TryBegin() {
		t.Fatalf("TryBegin failed")
	}
	if err := s.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if sen.closed.Load() != 0 || destroyed.Load() != 0 {
		t.Fatalf("sensor destroyed while pinned")
	}
	if !h.Removed() {
		t.Fatalf("handle should observe removal")
	}
	if _, ok := s.Acquire(id); ok {
		t.Fatalf("Acquire after removal should fail")
	}

	h.Release()
	h.Release()
	if sen.closed.Load() != 1 || destroyed.Load() != 1 {
		t.Fatalf("closed=%d destroyed=%d, want 1/1", sen.closed.Load(), destroyed.Load())
	}
}

func TestTryBeginExcludesConcurrentUpdates(t *testing.T) {
	s := New()
	id, err := s.Insert(newSensor("cam", 30))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	h1, _ := s.Acquire(id)
	h2, _ := s.Acquire(id)
	if !h1.TryBegin() {
		t.Fatalf("first TryBegin failed")
	}
	if h2.TryBegin() {
		t.Fatalf("second TryBegin should fail while first is in flight")
	}
	h2.Release()
	h1.Release()

	h3, _ := s.Acquire(id)
	defer h3.Release()
	if !h3.TryBegin() {
		t.Fatalf("TryBegin after release failed")
	}
}

func TestRemoveAllDestroysEverything(t *testing.T) {
	s := New()
	sensors := []*closingSensor{newSensor("a", 1), newSensor("b", 1)}
	for _, sen := range sensors {
		if _, err := s.Insert(sen); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	s.RemoveAll()
	if s.Len() != 0 || len(s.IDs()) != 0 {
		t.Fatalf("store not empty after RemoveAll")
	}
	for _, sen := range sensors {
		if sen.closed.Load() != 1 {
			t.Fatalf("%s not closed", sen.Name())
		}
	}
}

// TestConcurrentInsertRemoveAndScan runs scans alongside churn; run with -race.
func TestConcurrentInsertRemoveAndScan(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for id := range s.AllDue(t0.Add(time.Hour), false) {
				if h, ok := s.Acquire(id); ok {
					if h.TryBegin() {
						_ = h.Sensor().Name()
					}
					h.Release()
				}
			}
		}
	}()

	for w := range 4 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range 200 {
				name := fmt.Sprintf("w%d-%d", w, i)
				id, err := s.Insert(newSensor(name, 10))
				if err != nil {
					t.Errorf("Insert %s: %v", name, err)
					return
				}
				if i%2 == 0 {
					if err := s.Remove(id); err != nil {
						t.Errorf("Remove %s: %v", name, err)
					}
				} else if err := s.RemoveByName(name); err != nil {
					t.Errorf("RemoveByName %s: %v", name, err)
				}
			}
		}(w)
	}

	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()

	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
}

func TestNamesFollowInsertionOrder(t *testing.T) {
	s := New()
	for _, n := range []string{"imu", "cam", "lidar"} {
		if _, err := s.Insert(newSensor(n, 1)); err != nil {
			t.Fatalf("Insert %s: %v", n, err)
		}
	}
	_ = s.RemoveByName("cam")
	if diff := cmp.Diff([]string{"imu", "lidar"}, s.Names()); diff != "" {
		t.Fatalf("Names mismatch (-want +got):\n%s", diff)
	}
}
