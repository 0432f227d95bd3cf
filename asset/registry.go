package asset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/assetflow/errors"
)

// Listener is notified after an attribute value is committed.
type Listener func(Event)

// Registry is an in-memory asset store. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	assets    map[string]*Asset
	listeners []Listener
	now       func() time.Time
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		assets: make(map[string]*Asset),
		now:    time.Now,
		logger: logger.With("component", "asset-registry"),
	}
}

// Add stores a copy of a. Attribute names default to their map keys.
func (r *Registry) Add(a *Asset) error {
	if a == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: nil asset", errors.ErrInvalidData), "Registry", "Add", "validate asset")
	}
	if err := a.Validate(); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err), "Registry", "Add", "validate asset")
	}

	stored := a.clone()
	for name, attr := range stored.Attributes {
		attr.Name = name
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.assets[a.ID]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: duplicate asset %q", errors.ErrInvalidData, a.ID),
			"Registry", "Add", "check duplicate")
	}
	r.assets[a.ID] = stored
	return nil
}

// OnChange registers a listener for committed values.
func (r *Registry) OnChange(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// FindAssetByID returns a copy of the asset.
func (r *Registry) FindAssetByID(_ context.Context, id string) (*Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[id]
	if !ok {
		return nil, false
	}
	return a.clone(), true
}

// Attribute returns a copy of the referenced attribute.
func (r *Registry) Attribute(ref AttributeRef) (Attribute, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attr, ok := r.lookup(ref)
	if !ok {
		return Attribute{}, false
	}
	return attr.clone(), true
}

func (r *Registry) lookup(ref AttributeRef) (*Attribute, bool) {
	a, ok := r.assets[ref.AssetID]
	if !ok {
		return nil, false
	}
	attr, ok := a.Attributes[ref.Name]
	return attr, ok
}

// LinkedAttributes snapshots the attributes linked to protocolID.
func (r *Registry) LinkedAttributes(protocolID string) map[AttributeRef]Attribute {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[AttributeRef]Attribute)
	for id, a := range r.assets {
		for name, attr := range a.Attributes {
			if attr.Link != nil && attr.Link.ProtocolID == protocolID {
				out[AttributeRef{AssetID: id, Name: name}] = attr.clone()
			}
		}
	}
	return out
}

// BoundAttribute finds the attribute bound to the named sensor.
func (r *Registry) BoundAttribute(sensorName string) (AttributeRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found []AttributeRef
	for id, a := range r.assets {
		for name, attr := range a.Attributes {
			if attr.Sensor == sensorName {
				found = append(found, AttributeRef{AssetID: id, Name: name})
			}
		}
	}
	if len(found) == 0 {
		return AttributeRef{}, false
	}
	best := found[0]
	for _, ref := range found[1:] {
		if ref.Less(best) {
			best = ref
		}
	}
	return best, true
}

// Commit writes value to the referenced attribute and notifies listeners.
func (r *Registry) Commit(ref AttributeRef, value any) error {
	r.mu.Lock()
	attr, ok := r.lookup(ref)
	if !ok {
		r.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("%w: attribute %s", errors.ErrInvalidData, ref),
			"Registry", "Commit", "resolve attribute")
	}
	event := Event{Ref: ref, Value: value, Previous: attr.Value, Timestamp: r.now()}
	attr.Value = value
	attr.Timestamp = event.Timestamp
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()

	r.logger.Debug("Attribute committed", "ref", ref.String(), "value", value)
	for _, l := range listeners {
		l(event)
	}
	return nil
}

// Len returns the number of assets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}
