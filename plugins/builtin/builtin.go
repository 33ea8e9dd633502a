// Package builtin registers every sensor type shipped with the simulator.
package builtin

import (
	"errors"

	"github.com/signalsfoundry/sensor-simulator/plugin"
	"github.com/signalsfoundry/sensor-simulator/plugins/camera"
	"github.com/signalsfoundry/sensor-simulator/plugins/contact"
	"github.com/signalsfoundry/sensor-simulator/plugins/imu"
	"github.com/signalsfoundry/sensor-simulator/plugins/lidar"
	"github.com/signalsfoundry/sensor-simulator/plugins/orbit"
)

var registrars = []func(*plugin.Registry) error{
	camera.Register,
	contact.Register,
	imu.Register,
	lidar.Register,
	orbit.Register,
}

// RegisterAll adds the built-in sensor types to reg. Registration continues
// past failures; all errors are returned joined.
func RegisterAll(reg *plugin.Registry) error {
	var errs []error
	for _, register := range registrars {
		if err := register(reg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewRegistry returns a registry holding the built-in sensor types.
func NewRegistry() *plugin.Registry {
	reg := plugin.NewRegistry()
	if err := RegisterAll(reg); err != nil {
		panic(err)
	}
	return reg
}
