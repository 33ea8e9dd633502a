// Package orbit is a position sensor for a satellite, propagated from a
// two-line element set with SGP4.
package orbit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/sensor-simulator/model"
	"github.com/signalsfoundry/sensor-simulator/plugin"
	"github.com/signalsfoundry/sensor-simulator/sensor"
)

const (
	Type        = "orbit"
	DefaultRate = 1.0

	// ISS elements, used when no TLE is configured.
	DefaultTLE1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	DefaultTLE2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"

	earthRadiusKm = 6378.137
	kmToM         = 1000.0
)

// Orbit reports ECEF position (x, y, z in metres) and a spherical-earth
// latitude, longitude (degrees) and altitude (km).
type Orbit struct {
	*sensor.Base
	sat satellite.Satellite
}

func Register(reg *plugin.Registry) error {
	return reg.Register(Type, New, "gps", "sgp4")
}

func New(def model.SensorDefinition) (sensor.Sensor, error) {
	line1 := def.String("tle1", DefaultTLE1)
	line2 := def.String("tle2", DefaultTLE2)
	if err := checkTLE(line1, line2); err != nil {
		return nil, fmt.Errorf("orbit %q: %w", def.Name, err)
	}

	sat, err := parseTLE(line1, line2)
	if err != nil {
		return nil, fmt.Errorf("orbit %q: %w", def.Name, err)
	}
	o := &Orbit{sat: sat}
	def.UpdateRate = def.Rate(DefaultRate)
	o.Base = sensor.NewBase(sensor.ConfigFromDefinition(Type, def), o.propagate)
	return o, nil
}

func checkTLE(line1, line2 string) error {
	if len(line1) != 69 || !strings.HasPrefix(line1, "1 ") {
		return fmt.Errorf("tle line 1 malformed")
	}
	if len(line2) != 69 || !strings.HasPrefix(line2, "2 ") {
		return fmt.Errorf("tle line 2 malformed")
	}
	return nil
}

// parseTLE wraps TLEToSat, which panics on unparsable numeric fields.
func parseTLE(line1, line2 string) (sat satellite.Satellite, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse tle: %v", r)
		}
	}()
	return satellite.TLEToSat(line1, line2, satellite.GravityWGS72), nil
}

// propagate follows the usual SGP4 pipeline: propagate to ECI, rotate by
// Greenwich sidereal time into ECEF. go-satellite works in kilometres.
func (o *Orbit) propagate(_ context.Context, simTime time.Time) (sensor.Reading, error) {
	simTime = simTime.UTC()
	year, month, day := simTime.Date()
	hour, minute, sec := simTime.Clock()

	posECI, _ := satellite.Propagate(o.sat, year, int(month), day, hour, minute, sec)
	jd := satellite.JDay(year, int(month), day, hour, minute, sec)
	gmst := satellite.ThetaG_JD(jd)
	ecef := satellite.ECIToECEF(posECI, gmst)

	r := math.Sqrt(ecef.X*ecef.X + ecef.Y*ecef.Y + ecef.Z*ecef.Z)
	if math.IsNaN(r) || r == 0 {
		return sensor.Reading{}, fmt.Errorf("sgp4 propagation failed at %s", simTime.Format(time.RFC3339))
	}

	return sensor.Reading{Values: map[string]float64{
		"x":       ecef.X * kmToM,
		"y":       ecef.Y * kmToM,
		"z":       ecef.Z * kmToM,
		"lat_deg": math.Asin(ecef.Z/r) * 180 / math.Pi,
		"lon_deg": math.Atan2(ecef.Y, ecef.X) * 180 / math.Pi,
		"alt_km":  r - earthRadiusKm,
	}}, nil
}
