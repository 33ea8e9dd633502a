// Package contact reports the bodies touching the parent link.
package contact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/signalsfoundry/sensor-simulator/model"
	"github.com/signalsfoundry/sensor-simulator/plugin"
	"github.com/signalsfoundry/sensor-simulator/sensor"
)

const (
	Type        = "contact"
	DefaultRate = 50.0
)

// Contact produces a reading only while the link touches something, unless
// the "report_empty" parameter is set. Reading.Data lists the touching
// bodies, newline separated.
type Contact struct {
	*sensor.Base
	reportEmpty bool
}

func Register(reg *plugin.Registry) error {
	return reg.Register(Type, New, "bumper", "touch")
}

func New(def model.SensorDefinition) (sensor.Sensor, error) {
	if def.Parent == "" {
		return nil, fmt.Errorf("contact %q: parent link is required", def.Name)
	}
	c := &Contact{reportEmpty: def.Bool("report_empty", false)}
	def.UpdateRate = def.Rate(DefaultRate)
	c.Base = sensor.NewBase(sensor.ConfigFromDefinition(Type, def), c.sense)
	return c, nil
}

func (c *Contact) sense(ctx context.Context, _ time.Time) (sensor.Reading, error) {
	p := c.Physics()
	if p == nil || !p.Valid() {
		return sensor.Reading{}, sensor.ErrPhysicsUnavailable
	}
	contacts, err := p.Contacts(ctx, c.Parent())
	if err != nil {
		return sensor.Reading{}, err
	}
	if len(contacts) == 0 && !c.reportEmpty {
		return sensor.Reading{}, sensor.ErrNoData
	}

	others := make([]string, 0, len(contacts))
	maxDepth := 0.0
	for _, ct := range contacts {
		others = append(others, ct.Other)
		maxDepth = max(maxDepth, ct.Depth)
	}
	return sensor.Reading{
		Values: map[string]float64{
			"count":     float64(len(contacts)),
			"max_depth": maxDepth,
		},
		Data: []byte(strings.Join(others, "\n")),
	}, nil
}
