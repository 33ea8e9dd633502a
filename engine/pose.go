package engine

import (
	"context"

	"github.com/signalsfoundry/sensor-simulator/model"
)

// PoseOf returns the pose of link from p, or fallback when there is no
// physics engine, no link, or the link is unknown.
func PoseOf(ctx context.Context, p Physics, link string, fallback model.Pose) model.Pose {
	if p == nil || link == "" {
		return fallback
	}
	st, err := p.LinkState(ctx, link)
	if err != nil {
		return fallback
	}
	return st.Pose
}
