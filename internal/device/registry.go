package device

import (
	"sync"

	"github.com/google/uuid"
)

// Facing tells which way a camera points.
type Facing int

const (
	FacingUnknown Facing = iota
	FacingBack
	FacingFront
)

// Descriptor identifies one configured capture device.
type Descriptor struct {
	ID     string
	Node   string
	Card   string
	Facing Facing
}

// Registry enumerates the configured capture devices. It is an
// explicit object handed to whoever needs it; there is no package
// global.
type Registry struct {
	mu      sync.RWMutex
	devices []Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a device and returns its descriptor with a fresh id.
func (r *Registry) Register(node, card string, facing Facing) Descriptor {
	d := Descriptor{
		ID:     uuid.NewString(),
		Node:   node,
		Card:   card,
		Facing: facing,
	}
	r.mu.Lock()
	r.devices = append(r.devices, d)
	r.mu.Unlock()
	return d
}

// List returns an owned copy of all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, len(r.devices))
	copy(out, r.devices)
	return out
}

// Lookup finds a descriptor by id.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Len reports the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
