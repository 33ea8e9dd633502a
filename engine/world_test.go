package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/sensor-simulator/model"
)

func TestCastRayHitsNearestSurface(t *testing.T) {
	w := NewWorld()
	w.AddSphere(Sphere{Name: "box", Center: model.Vec3{X: 10, Z: 1}, Radius: 1})
	ctx := context.Background()

	tests := []struct {
		name    string
		origin  model.Vec3
		dir     model.Vec3
		max     float64
		want    float64
		wantHit bool
	}{
		{"sphere ahead", model.Vec3{Z: 1}, model.Vec3{X: 1}, 100, 9, true},
		{"ground below", model.Vec3{Z: 2}, model.Vec3{Z: -1}, 100, 2, true},
		{"out of range", model.Vec3{Z: 1}, model.Vec3{X: 1}, 5, 0, false},
		{"open sky", model.Vec3{Z: 1}, model.Vec3{Z: 1}, 100, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, hit := w.CastRay(ctx, tt.origin, tt.dir, tt.max)
			if hit != tt.wantHit {
				t.Fatalf("hit = %v, want %v", hit, tt.wantHit)
			}
			if hit && math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("distance = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLinkStateAndContacts(t *testing.T) {
	w := NewWorld()
	ctx := context.Background()
	w.AddSphere(Sphere{Name: "rock", Center: model.Vec3{X: 1}, Radius: 2})
	w.SetLinkState("robot::foot", LinkState{Pose: model.Pose{Position: model.Vec3{X: 0, Z: -0.01}}})

	if _, err := w.LinkState(ctx, "missing"); !errors.Is(err, ErrUnknownLink) {
		t.Fatalf("LinkState(missing) err = %v, want ErrUnknownLink", err)
	}

	contacts, err := w.Contacts(ctx, "robot::foot")
	if err != nil {
		t.Fatalf("Contacts: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("contacts = %d, want 2 (%+v)", len(contacts), contacts)
	}
	if contacts[0].Other != "ground" || contacts[1].Other != "rock" {
		t.Fatalf("unexpected contact order: %+v", contacts)
	}
}

func TestClosedWorldIsInvalid(t *testing.T) {
	w := NewWorld()
	w.Close()
	if w.Valid() {
		t.Fatalf("closed world should be invalid")
	}
	if _, hit := w.CastRay(context.Background(), model.Vec3{Z: 1}, model.Vec3{Z: -1}, 10); hit {
		t.Fatalf("closed world should not report hits")
	}
}

func TestPoseOfFallsBack(t *testing.T) {
	w := NewWorld()
	mount := model.Pose{Position: model.Vec3{Z: 2}, Yaw: 1}
	w.SetLinkState("robot::base", LinkState{Pose: model.Pose{Position: model.Vec3{X: 5}}})

	if got := PoseOf(context.Background(), w, "robot::base", mount); got.Position.X != 5 {
		t.Fatalf("PoseOf(known link) = %+v", got)
	}
	if got := PoseOf(context.Background(), w, "robot::arm", mount); got != mount {
		t.Fatalf("PoseOf(unknown link) = %+v, want fallback", got)
	}
	if got := PoseOf(context.Background(), nil, "robot::base", mount); got != mount {
		t.Fatalf("PoseOf(nil physics) = %+v, want fallback", got)
	}
}
