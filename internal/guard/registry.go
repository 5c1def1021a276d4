package guard

import (
	"sync"

	"github.com/Harsh-BH/appjob/internal/domain"
)

// Registry hands out lockers for named resources, creating each resource
// on first use.
type Registry struct {
	readers int64

	mu        sync.Mutex
	resources map[string]*Resource
}

// NewRegistry creates a registry whose resources admit readers shared holders.
func NewRegistry(readers int64) *Registry {
	return &Registry{readers: readers, resources: make(map[string]*Resource)}
}

// Resource returns the named resource.
func (r *Registry) Resource(name string) *Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resources[name]
	if !ok {
		res = NewResource(name, r.readers)
		r.resources[name] = res
	}
	return res
}

// Locker returns a shared or exclusive locker for the named resource.
func (r *Registry) Locker(name string, exclusive bool) domain.DataLocker {
	res := r.Resource(name)
	if exclusive {
		return res.Exclusive()
	}
	return res.Shared()
}
