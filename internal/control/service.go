// Package control exposes the sensor manager over gRPC as the
// sensorsim.v1.SensorControl service. Requests and responses are
// google.protobuf.Struct messages, so no generated code is needed on
// either side.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/sensor-simulator/internal/logging"
	"github.com/signalsfoundry/sensor-simulator/manager"
	"github.com/signalsfoundry/sensor-simulator/model"
	"github.com/signalsfoundry/sensor-simulator/sensor"
)

// SensorManager is the subset of *manager.Manager the service drives.
type SensorManager interface {
	LoadDefinition(ctx context.Context, def model.SensorDefinition) (model.SensorID, error)
	Remove(id model.SensorID) error
	RemoveByName(name string) error
	Sensor(name string) (model.SensorID, error)
	Sensors() []manager.Info
	RunOnce(ctx context.Context, force bool) error
	SetEnabled(id model.SensorID, enabled bool) error
	LatestReading(id model.SensorID) (sensor.Reading, bool, error)
}

var _ SensorManager = (*manager.Manager)(nil)

// Service implements SensorControlServer.
type Service struct {
	mgr SensorManager
	log logging.Logger
}

var _ SensorControlServer = (*Service)(nil)

func NewService(mgr SensorManager, log logging.Logger) *Service {
	return &Service{mgr: mgr, log: logging.OrNoop(log)}
}

// LoadSensor request: {plugin, name, parent?, rate?, disabled?, params?}.
// Without rate the plugin's default applies. Response: {id, name}.
func (s *Service) LoadSensor(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := fieldsOf(req)
	def := model.SensorDefinition{
		Name:     f.str("name"),
		Parent:   f.str("parent"),
		Plugin:   f.str("plugin"),
		Disabled: f.boolean("disabled"),
	}
	if def.Plugin == "" || def.Name == "" {
		return nil, ToStatusError(fmt.Errorf("%w: plugin and name are required", ErrInvalidRequest))
	}
	if rate, ok := f.number("rate"); ok {
		def.UpdateRate = rate
	} else {
		def.DefaultRate = true
	}
	if p := f.structField("params"); p != nil {
		def.Params = p.AsMap()
	}

	id, err := s.mgr.LoadDefinition(ctx, def)
	if err != nil {
		return nil, ToStatusError(err)
	}
	logging.FromContext(ctx, s.log).Info(ctx, "sensor loaded via control",
		logging.String("sensor", def.Name),
		logging.Uint64("sensor_id", uint64(id)),
	)
	return newStruct(map[string]any{"id": float64(id), "name": def.Name})
}

// RemoveSensor request: {id} or {name}.
func (s *Service) RemoveSensor(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := fieldsOf(req)
	var err error
	switch id, hasID := f.id(); {
	case hasID:
		err = s.mgr.Remove(id)
	case f.str("name") != "":
		err = s.mgr.RemoveByName(f.str("name"))
	default:
		err = fmt.Errorf("%w: id or name is required", ErrInvalidRequest)
	}
	if err != nil {
		return nil, ToStatusError(err)
	}
	return &structpb.Struct{}, nil
}

// LookupSensor request: {name}. Response: {id}.
func (s *Service) LookupSensor(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := fieldsOf(req).str("name")
	if name == "" {
		return nil, ToStatusError(fmt.Errorf("%w: name is required", ErrInvalidRequest))
	}
	id, err := s.mgr.Sensor(name)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return newStruct(map[string]any{"id": float64(id)})
}

// ListSensors response: {sensors: [...]} in load order.
func (s *Service) ListSensors(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	infos := s.mgr.Sensors()
	list := make([]any, 0, len(infos))
	for _, in := range infos {
		list = append(list, map[string]any{
			"id":          float64(in.ID),
			"name":        in.Name,
			"parent":      in.Parent,
			"type":        in.Type,
			"update_rate": in.UpdateRate,
			"period_ms":   float64(in.Period) / float64(time.Millisecond),
			"enabled":     in.Enabled,
			"last_update": in.LastUpdate.UTC().Format(time.RFC3339Nano),
		})
	}
	return newStruct(map[string]any{"sensors": list})
}

// RunOnce request: {force?}. Sensor failures are reported in the
// response, not as an RPC error: {failures: [{id, name, error}]}.
func (s *Service) RunOnce(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	err := s.mgr.RunOnce(ctx, fieldsOf(req).boolean("force"))

	failures := []any{}
	var pe *manager.PassError
	switch {
	case err == nil:
	case errors.As(err, &pe):
		for _, se := range pe.Failures {
			failures = append(failures, map[string]any{
				"id":    float64(se.ID),
				"name":  se.Name,
				"error": se.Err.Error(),
			})
		}
	default:
		return nil, ToStatusError(err)
	}
	return newStruct(map[string]any{"failures": failures})
}

// SetEnabled request: {id | name, enabled}.
func (s *Service) SetEnabled(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := fieldsOf(req)
	if _, ok := f["enabled"]; !ok {
		return nil, ToStatusError(fmt.Errorf("%w: enabled is required", ErrInvalidRequest))
	}
	id, err := s.resolve(f)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := s.mgr.SetEnabled(id, f.boolean("enabled")); err != nil {
		return nil, ToStatusError(err)
	}
	return &structpb.Struct{}, nil
}

// LatestReading request: {id | name}. Response: {found, reading?}; Data
// travels base64 encoded.
func (s *Service) LatestReading(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.resolve(fieldsOf(req))
	if err != nil {
		return nil, ToStatusError(err)
	}
	r, ok, err := s.mgr.LatestReading(id)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if !ok {
		return newStruct(map[string]any{"found": false})
	}

	values := make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		values[k] = finite(v)
	}
	reading := map[string]any{
		"sensor":   r.Sensor,
		"type":     r.Type,
		"parent":   r.Parent,
		"sim_time": r.SimTime.UTC().Format(time.RFC3339Nano),
		"seq":      float64(r.Seq),
		"values":   values,
	}
	if len(r.Data) > 0 {
		reading["data"] = r.Data
	}
	return newStruct(map[string]any{"found": true, "reading": reading})
}

func (s *Service) resolve(f fields) (model.SensorID, error) {
	if id, ok := f.id(); ok {
		return id, nil
	}
	if name := f.str("name"); name != "" {
		return s.mgr.Sensor(name)
	}
	return model.InvalidSensorID, fmt.Errorf("%w: id or name is required", ErrInvalidRequest)
}

// finite maps NaN and ±Inf to null so responses stay JSON-encodable.
func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return st, nil
}

type fields map[string]*structpb.Value

func fieldsOf(req *structpb.Struct) fields {
	return fields(req.GetFields())
}

func (f fields) str(key string) string {
	return f[key].GetStringValue()
}

func (f fields) boolean(key string) bool {
	return f[key].GetBoolValue()
}

func (f fields) number(key string) (float64, bool) {
	v, ok := f[key]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return n.NumberValue, true
}

func (f fields) structField(key string) *structpb.Struct {
	return f[key].GetStructValue()
}

// maxExactID is the largest id a JSON number carries exactly.
const maxExactID = 1 << 53

func (f fields) id() (model.SensorID, bool) {
	n, ok := f.number("id")
	if !ok || n < 1 || n > maxExactID || n != math.Trunc(n) {
		return model.InvalidSensorID, false
	}
	return model.SensorID(n), true
}
