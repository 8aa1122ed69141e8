// Package execctx provides the per-run store of intermediate datasets
// shared across nodes within one pipeline run.
package execctx

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Common errors returned by Context operations.
var (
	ErrDuplicate = errors.New("dataset name already registered")
	ErrNotFound  = errors.New("dataset not found")
)

// Context is a mapping from logical dataset name to an in-memory tabular
// value. It is scoped to exactly one pipeline run, constructor-injected
// into each node, and safe for concurrent use so independent nodes in the
// same execution layer may register and read concurrently.
//
// Values are stored as opaque interfaces to keep this package free of the
// engine's dataset representation; readers must never mutate a stored
// value in place.
type Context struct {
	mu       sync.RWMutex
	datasets map[string]interface{}
}

// New creates an empty execution context.
func New() *Context {
	return &Context{
		datasets: make(map[string]interface{}),
	}
}

// Register stores a dataset under a unique name. Silent overwriting is
// disallowed: registering an existing name fails with ErrDuplicate. Use
// RegisterOverwrite for the deliberate replace performed when a node's
// transform phase supersedes its read phase.
func (c *Context) Register(name string, ds interface{}) error {
	if name == "" {
		return errors.New("dataset name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.datasets[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	c.datasets[name] = ds
	return nil
}

// RegisterOverwrite stores a dataset, replacing any existing registration
// under the same name.
func (c *Context) RegisterOverwrite(name string, ds interface{}) error {
	if name == "" {
		return errors.New("dataset name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.datasets[name] = ds
	return nil
}

// Get returns the dataset registered under name.
func (c *Context) Get(name string) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ds, ok := c.datasets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return ds, nil
}

// Has reports whether a dataset is registered under name.
func (c *Context) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.datasets[name]
	return ok
}

// Names returns all registered names, sorted for determinism.
func (c *Context) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.datasets))
	for name := range c.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear releases all held datasets. It is idempotent.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.datasets = make(map[string]interface{})
}
