package device

import (
	"sort"
	"sync"

	"github.com/gravitational/trace"
)

// Registry is an in-process node table implementing Registrar.
type Registry struct {
	mu      sync.RWMutex
	devices map[int]*Device
}

func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[int]*Device),
	}
}

func (r *Registry) Register(minor int, dev *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[minor]; exists {
		return trace.AlreadyExists("minor %d is already registered", minor)
	}
	r.devices[minor] = dev
	return nil
}

func (r *Registry) Unregister(minor int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.devices, minor)
}

func (r *Registry) Lookup(minor int) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, exists := r.devices[minor]
	if !exists {
		return nil, trace.NotFound("device %d not found", minor)
	}
	return dev, nil
}

// List returns the registered minor numbers in ascending order.
func (r *Registry) List() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]int, 0, len(r.devices))
	for minor := range r.devices {
		result = append(result, minor)
	}
	sort.Ints(result)
	return result
}
