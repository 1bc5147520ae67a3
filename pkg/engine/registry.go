package engine

import (
	"errors"
	"fmt"
)

// ErrUnknownEngine is returned when an engine id is not registered.
var ErrUnknownEngine = errors.New("unknown engine")

// Registry holds the engine definitions loaded at process start. It is
// immutable once built: lookups require no locking and definitions are
// shared by reference.
type Registry struct {
	defs  map[string]*Definition
	order []string
}

// NewRegistry builds a registry from programmatically constructed
// definitions, validating each the same way Load validates file-based
// ones.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	for _, def := range defs {
		if err := validateDefinition(def); err != nil {
			return nil, err
		}
	}
	return newRegistry(defs)
}

// newRegistry builds a registry from validated definitions, preserving
// load order for All.
func newRegistry(defs []*Definition) (*Registry, error) {
	r := &Registry{
		defs:  make(map[string]*Definition, len(defs)),
		order: make([]string, 0, len(defs)),
	}
	for _, def := range defs {
		if _, exists := r.defs[def.ID]; exists {
			return nil, fmt.Errorf("engine %q defined twice", def.ID)
		}
		r.defs[def.ID] = def
		r.order = append(r.order, def.ID)
	}
	return r, nil
}

// Lookup returns the definition for the given engine id.
func (r *Registry) Lookup(engineID string) (*Definition, error) {
	def, ok := r.defs[engineID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, engineID)
	}
	return def, nil
}

// All returns every registered definition in load order.
func (r *Registry) All() []*Definition {
	result := make([]*Definition, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.defs[id])
	}
	return result
}

// Len returns the number of registered engines.
func (r *Registry) Len() int {
	return len(r.defs)
}
