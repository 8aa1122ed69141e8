// Package storage provides the connections nodes read from and write to.
// The orchestration core treats connections as opaque path resolvers over
// a byte store; dataset encoding is the engine's concern.
package storage

import (
	"context"
	"errors"
	"io"
	"sort"
)

// ErrObjectNotFound is returned by Open when the target does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Connection is a named location datasets can be read from and written to.
// Implementations must be safe for concurrent use.
type Connection interface {
	// Name returns the connection's configured name.
	Name() string

	// ResolvePath turns a dataset-relative path into the connection's
	// full physical path or object key.
	ResolvePath(relativePath string) string

	// Validate checks that the connection is usable. It must not mutate
	// any remote state.
	Validate(ctx context.Context) error

	// Exists reports whether an object exists at the relative path.
	Exists(ctx context.Context, relativePath string) (bool, error)

	// Open returns a reader for the object at the relative path.
	Open(ctx context.Context, relativePath string) (io.ReadCloser, error)

	// Create returns a writer that replaces the object at the relative
	// path. The write is effective once Close returns nil.
	Create(ctx context.Context, relativePath string) (io.WriteCloser, error)
}

// Registry is an immutable name -> Connection lookup built at startup.
type Registry struct {
	conns map[string]Connection
}

// NewRegistry builds a registry from the given connections.
func NewRegistry(conns ...Connection) *Registry {
	m := make(map[string]Connection, len(conns))
	for _, c := range conns {
		m[c.Name()] = c
	}
	return &Registry{conns: m}
}

// Get returns the named connection.
func (r *Registry) Get(name string) (Connection, error) {
	c, ok := r.conns[name]
	if !ok {
		return nil, errors.New("unknown connection: " + name)
	}
	return c, nil
}

// Names returns the registered connection names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.conns))
	for name := range r.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
