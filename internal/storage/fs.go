package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FSConnection stores datasets as files under a base directory. Suitable
// for local development and tests.
type FSConnection struct {
	name string
	base string
}

// NewFSConnection creates a filesystem connection rooted at base.
func NewFSConnection(name, base string) *FSConnection {
	return &FSConnection{name: name, base: base}
}

// Name returns the connection name.
func (c *FSConnection) Name() string {
	return c.name
}

// ResolvePath joins the relative path onto the base directory.
func (c *FSConnection) ResolvePath(relativePath string) string {
	return filepath.Join(c.base, filepath.FromSlash(relativePath))
}

// Validate ensures the base directory exists and is a directory.
func (c *FSConnection) Validate(ctx context.Context) error {
	info, err := os.Stat(c.base)
	if err != nil {
		return fmt.Errorf("connection %q: %w", c.name, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("connection %q: %s is not a directory", c.name, c.base)
	}
	return nil
}

// Exists reports whether the file exists.
func (c *FSConnection) Exists(ctx context.Context, relativePath string) (bool, error) {
	_, err := os.Stat(c.ResolvePath(relativePath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Open opens the file for reading.
func (c *FSConnection) Open(ctx context.Context, relativePath string) (io.ReadCloser, error) {
	f, err := os.Open(c.ResolvePath(relativePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, relativePath)
		}
		return nil, err
	}
	return f, nil
}

// Create truncates or creates the file for writing, creating parent
// directories as needed.
func (c *FSConnection) Create(ctx context.Context, relativePath string) (io.WriteCloser, error) {
	full := c.ResolvePath(relativePath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	return os.Create(full)
}
