// Package engine declares the rendering and physics collaborators sensors
// query during updates. The manager stores them as borrowed handles; the
// caller that supplies them must keep them alive for the manager's lifetime.
package engine

import (
	"context"
	"errors"

	"github.com/signalsfoundry/sensor-simulator/model"
)

// ErrUnknownLink is returned when a physics query names a link that does
// not exist.
var ErrUnknownLink = errors.New("unknown link")

// Rendering answers visibility queries against the scene.
// Implementations must be safe for concurrent use.
type Rendering interface {
	// Valid reports whether the engine can serve queries.
	Valid() bool
	// CastRay returns the distance along dir (a unit vector) to the nearest
	// surface within maxRange, and whether anything was hit.
	CastRay(ctx context.Context, origin, dir model.Vec3, maxRange float64) (float64, bool)
}

// LinkState is the kinematic state of a physics link.
type LinkState struct {
	Pose               model.Pose
	LinearVelocity     model.Vec3
	LinearAcceleration model.Vec3
	AngularVelocity    model.Vec3
}

// Contact is a single touching point between a link and another body.
type Contact struct {
	Link     string
	Other    string
	Position model.Vec3
	Depth    float64
}

// Physics answers state and contact queries.
// Implementations must be safe for concurrent use.
type Physics interface {
	Valid() bool
	LinkState(ctx context.Context, link string) (LinkState, error)
	Contacts(ctx context.Context, link string) ([]Contact, error)
}
