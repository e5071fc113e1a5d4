package objects

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps ObjectType tags to their descriptors. It is constructed once
// by an explicit startup routine that registers every domain object; after
// startup it is only read. Duplicate registration is an error rather than
// last-registration-wins.
type Registry struct {
	mu      sync.RWMutex
	objects map[string]*Object
}

func NewRegistry() *Registry {
	return &Registry{objects: make(map[string]*Object)}
}

// Register adds an object descriptor. Fails on duplicate type tags and on
// descriptors whose declared tenancy shape is inconsistent.
func (r *Registry) Register(obj *Object) error {
	if obj.Type == "" {
		return fmt.Errorf("object descriptor missing type tag")
	}
	if obj.Table == "" {
		return fmt.Errorf("object %s: missing table", obj.Type)
	}
	if obj.CampaignColumn != "" && !obj.TeamScoped {
		return fmt.Errorf("object %s: campaign-scoped objects must also be team-scoped", obj.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.objects[obj.Type]; exists {
		return fmt.Errorf("object type %q already registered", obj.Type)
	}
	r.objects[obj.Type] = obj
	return nil
}

// Get returns the object with the given type tag, or nil.
func (r *Registry) Get(objectType string) *Object {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.objects[objectType]
}

// All returns every registered object, ordered by type tag.
func (r *Registry) All() []*Object {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*Object, 0, len(r.objects))
	for _, o := range r.objects {
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Type < all[j].Type })
	return all
}
