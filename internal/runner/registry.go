package runner

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds runners keyed by resource type. Swapping a runner never
// touches worker or queue logic.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry creates an empty runner registry.
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]Runner),
	}
}

// Register adds a runner for the given resource type.
func (r *Registry) Register(resourceType string, rn Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[resourceType] = rn
}

// Resolve returns the runner for the given resource type, or an error if
// none is registered.
func (r *Registry) Resolve(resourceType string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rn, ok := r.runners[resourceType]
	if !ok {
		return nil, fmt.Errorf("no runner registered for resource type %q", resourceType)
	}
	return rn, nil
}

// List returns the registered resource types, sorted for stable output.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.runners))
	for t := range r.runners {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
