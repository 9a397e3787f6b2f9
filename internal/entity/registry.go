package entity

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds entity definitions by name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds an entity definition.
// Panics if the name is taken or the definition is inconsistent.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Name]; exists {
		panic(fmt.Sprintf("entity already registered: %s", def.Name))
	}
	if def.Table == "" {
		def.Table = def.Name
	}
	if err := def.build(); err != nil {
		panic(err.Error())
	}

	r.defs[def.Name] = &def
}

// Get returns an entity definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	return def, ok
}

// All returns every definition in import order, then by name.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Name < result[j].Name
	})

	return result
}

// Names returns every entity name in import order.
func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, def := range all {
		names[i] = def.Name
	}
	return names
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
