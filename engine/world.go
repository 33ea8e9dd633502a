package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/signalsfoundry/sensor-simulator/model"
)

// Sphere is a named spherical obstacle.
type Sphere struct {
	Name   string
	Center model.Vec3
	Radius float64
}

// World is a small in-memory scene that serves as both the Rendering and the
// Physics collaborator: a ground plane at z=0, a set of spheres, and link
// states pushed in by the simulation loop.
type World struct {
	mu      sync.RWMutex
	ground  bool
	spheres map[string]Sphere
	links   map[string]LinkState
	closed  bool
}

var (
	_ Rendering = (*World)(nil)
	_ Physics   = (*World)(nil)
)

// NewWorld returns a world with a ground plane and no obstacles.
func NewWorld() *World {
	return &World{
		ground:  true,
		spheres: make(map[string]Sphere),
		links:   make(map[string]LinkState),
	}
}

// SetGround toggles the z=0 ground plane.
func (w *World) SetGround(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ground = enabled
}

// AddSphere adds or replaces an obstacle by name.
func (w *World) AddSphere(s Sphere) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.spheres[s.Name] = s
}

// RemoveSphere drops an obstacle. Unknown names are ignored.
func (w *World) RemoveSphere(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.spheres, name)
}

// SetLinkState records the current state of a link.
func (w *World) SetLinkState(link string, st LinkState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.links[link] = st
}

// RemoveLink forgets a link.
func (w *World) RemoveLink(link string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.links, link)
}

// Close marks the world invalid; later queries miss or fail.
func (w *World) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

// Valid implements Rendering and Physics.
func (w *World) Valid() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return !w.closed
}

// CastRay implements Rendering.
func (w *World) CastRay(_ context.Context, origin, dir model.Vec3, maxRange float64) (float64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed || maxRange <= 0 {
		return 0, false
	}
	dir = dir.Normalize()
	best := math.Inf(1)

	if w.ground && dir.Z < 0 && origin.Z >= 0 {
		if t := -origin.Z / dir.Z; t >= 0 {
			best = t
		}
	}
	for _, s := range w.spheres {
		if t, ok := raySphere(origin, dir, s); ok && t < best {
			best = t
		}
	}
	if best > maxRange {
		return 0, false
	}
	return best, true
}

// raySphere returns the nearest non-negative intersection distance.
func raySphere(origin, dir model.Vec3, s Sphere) (float64, bool) {
	oc := origin.Sub(s.Center)
	b := oc.Dot(dir)
	c := oc.Dot(oc) - s.Radius*s.Radius
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	t := -b - sq
	if t < 0 {
		t = -b + sq
	}
	if t < 0 {
		return 0, false
	}
	return t, true
}

// LinkState implements Physics.
func (w *World) LinkState(_ context.Context, link string) (LinkState, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return LinkState{}, fmt.Errorf("world closed")
	}
	st, ok := w.links[link]
	if !ok {
		return LinkState{}, fmt.Errorf("%w: %q", ErrUnknownLink, link)
	}
	return st, nil
}

// Contacts implements Physics. A link touches the ground when its position is
// at or below z=0, and a sphere when it lies inside it. Results are ordered
// by the other body's name.
func (w *World) Contacts(_ context.Context, link string) ([]Contact, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return nil, fmt.Errorf("world closed")
	}
	st, ok := w.links[link]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLink, link)
	}
	pos := st.Pose.Position

	var out []Contact
	if w.ground && pos.Z <= 0 {
		out = append(out, Contact{Link: link, Other: "ground", Position: model.Vec3{X: pos.X, Y: pos.Y}, Depth: -pos.Z})
	}
	for _, s := range w.spheres {
		d := pos.DistanceTo(s.Center)
		if d <= s.Radius {
			out = append(out, Contact{Link: link, Other: s.Name, Position: pos, Depth: s.Radius - d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Other < out[j].Other })
	return out, nil
}
