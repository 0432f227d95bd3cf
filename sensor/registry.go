package sensor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c360/assetflow/errors"
)

// Registry indexes sensors by id and by name. Both must be unique.
type Registry struct {
	mu     sync.RWMutex
	byID   map[int]Sensor
	byName map[string]Sensor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[int]Sensor),
		byName: make(map[string]Sensor),
	}
}

// Add registers s.
func (r *Registry) Add(s Sensor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[s.ID()]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: duplicate sensor id %d", errors.ErrInvalidConfig, s.ID()),
			"Registry", "Add", "register sensor")
	}
	if _, exists := r.byName[s.Name()]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: duplicate sensor name %q", errors.ErrInvalidConfig, s.Name()),
			"Registry", "Add", "register sensor")
	}

	r.byID[s.ID()] = s
	r.byName[s.Name()] = s
	return nil
}

// ByName returns the sensor registered under name.
func (r *Registry) ByName(name string) (Sensor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// ByID returns the sensor registered under id.
func (r *Registry) ByID(id int) (Sensor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// All returns every sensor ordered by id.
func (r *Registry) All() []Sensor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Sensor, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered sensors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
