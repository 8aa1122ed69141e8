// Package transform provides the lookup table of named transform
// functions. The registry is built at pipeline-construction time and
// injected into each node; there is deliberately no package-level
// registration so tests stay hermetic.
package transform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/flexinfer/datapipe/internal/engine"
	"github.com/flexinfer/datapipe/internal/execctx"
)

// ErrNotFound is returned when a transform name is not registered.
var ErrNotFound = errors.New("transform not found")

// Func is a programmatic transform. Inputs name datasets already present
// in the execution context; the returned dataset becomes the node's
// registered value.
type Func func(ctx context.Context, eng engine.Engine, ec *execctx.Context, inputs []string) (*engine.Dataset, error)

// Entry pairs a transform with its documentation. Description is shown
// by the API when listing available transforms.
type Entry struct {
	Name        string
	Description string
	Fn          Func
}

// Registry is a name -> transform lookup table.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Register adds a transform. Registering an existing name fails so two
// pipelines cannot silently shadow each other's functions.
func (r *Registry) Register(name, description string, fn Func) error {
	if name == "" {
		return errors.New("transform name is required")
	}
	if fn == nil {
		return fmt.Errorf("transform %q: function is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("transform %q already registered", name)
	}
	r.entries[name] = Entry{Name: name, Description: description, Fn: fn}
	return nil
}

// Get returns the entry for a name.
func (r *Registry) Get(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e, nil
}

// List returns all entries sorted by name.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
