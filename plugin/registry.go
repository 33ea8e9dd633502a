// Package plugin resolves sensor plugin filenames to factories. Sensor types
// register a Factory under a type key; a filename such as "camera.so",
// "libcamera_sensor.so" or "/opt/sensors/camera.so" resolves to key "camera".
package plugin

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/signalsfoundry/sensor-simulator/model"
	"github.com/signalsfoundry/sensor-simulator/sensor"
)

var (
	// ErrUnknownPlugin indicates no factory is registered for a filename.
	ErrUnknownPlugin = errors.New("unknown sensor plugin")
	// ErrPluginExists indicates a key or alias is already registered.
	ErrPluginExists = errors.New("sensor plugin already registered")
	// ErrConstruct indicates a factory failed to build a sensor.
	ErrConstruct = errors.New("sensor construction failed")
)

// Factory constructs a sensor from its definition.
type Factory func(def model.SensorDefinition) (sensor.Sensor, error)

// Registry maps type keys (and aliases) to factories. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	aliases   map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		aliases:   make(map[string]string),
	}
}

// Register adds a factory under key plus optional aliases.
func (r *Registry) Register(key string, f Factory, aliases ...string) error {
	key = normalize(key)
	if key == "" || f == nil {
		return fmt.Errorf("plugin key and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.taken(key) {
		return fmt.Errorf("%w: %q", ErrPluginExists, key)
	}
	for _, a := range aliases {
		if a = normalize(a); r.taken(a) {
			return fmt.Errorf("%w: alias %q", ErrPluginExists, a)
		}
	}
	r.factories[key] = f
	for _, a := range aliases {
		r.aliases[normalize(a)] = key
	}
	return nil
}

// MustRegister is Register that panics on error; meant for init-time wiring.
func (r *Registry) MustRegister(key string, f Factory, aliases ...string) {
	if err := r.Register(key, f, aliases...); err != nil {
		panic(err)
	}
}

func (r *Registry) taken(k string) bool {
	_, f := r.factories[k]
	_, a := r.aliases[k]
	return f || a
}

// Resolve maps a plugin filename to its canonical key and factory.
func (r *Registry) Resolve(filename string) (string, Factory, error) {
	k := KeyFromFilename(filename)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if target, ok := r.aliases[k]; ok {
		k = target
	}
	f, ok := r.factories[k]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, filename)
	}
	return k, f, nil
}

// Load resolves def.Plugin and constructs the sensor.
func (r *Registry) Load(def model.SensorDefinition) (sensor.Sensor, error) {
	_, f, err := r.Resolve(def.Plugin)
	if err != nil {
		return nil, err
	}
	s, err := f(def)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConstruct, def.Plugin, err)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s returned no sensor", ErrConstruct, def.Plugin)
	}
	return s, nil
}

// Keys lists registered type keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var libExtensions = []string{".so", ".dylib", ".dll"}

// KeyFromFilename derives a type key from a plugin filename.
func KeyFromFilename(filename string) string {
	name := normalize(filepath.Base(strings.TrimSpace(filename)))
	for _, ext := range libExtensions {
		name = strings.TrimSuffix(name, ext)
	}
	name = strings.TrimPrefix(name, "lib")
	for _, suffix := range []string{"_sensor", "-sensor"} {
		name = strings.TrimSuffix(name, suffix)
	}
	return name
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
