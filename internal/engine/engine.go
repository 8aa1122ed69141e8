// Package engine provides the computation backend abstraction for node
// execution. Every pipeline-facing operation goes through the Engine
// contract so orchestration code never depends on a specific backend; a
// new backend only implements this interface.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/flexinfer/datapipe/internal/execctx"
	"github.com/flexinfer/datapipe/internal/storage"
	"github.com/flexinfer/datapipe/pkg/types"
)

// ColumnType is a backend-neutral column type name.
type ColumnType string

const (
	TypeInteger   ColumnType = "integer"
	TypeFloat     ColumnType = "float"
	TypeString    ColumnType = "string"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
)

// Column describes one column of a dataset.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Dataset is a materialized tabular value: ordered columns and row-major
// cells. Cells hold nil, int64, float64, string, bool, or time.Time.
// A Dataset registered in an execution context must never be mutated by
// readers.
type Dataset struct {
	Columns []Column
	Rows    [][]interface{}
}

// ColumnIndex returns the index of a named column, or -1.
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Target identifies what to read or write: a logical table name or an
// explicit path relative to the connection root.
type Target struct {
	Table string
	Path  string
}

// Resolve returns the relative path for the target. A table name maps to
// "<table>.<format>" under the connection root.
func (t Target) Resolve(format types.Format) (string, error) {
	if t.Path != "" {
		return t.Path, nil
	}
	if t.Table == "" {
		return "", fmt.Errorf("target requires a table or a path")
	}
	return t.Table + "." + string(format), nil
}

// Engine executes read, write, query, and introspection operations against
// one computation backend. Implementations must be safe for concurrent use
// by nodes of the same execution layer.
type Engine interface {
	// Name identifies the backend ("local", "warehouse").
	Name() string

	// Read loads external data through a connection. It must not mutate
	// connection state. Failures wrap the cause in a *ReadError.
	Read(ctx context.Context, conn storage.Connection, format types.Format, target Target, options map[string]string) (*Dataset, error)

	// Write stores a dataset through a connection. Mode overwrite
	// replaces the target; append extends it. Failures wrap the cause
	// in a *WriteError.
	Write(ctx context.Context, ds *Dataset, conn storage.Connection, format types.Format, target Target, mode types.WriteMode, options map[string]string) error

	// ExecuteQuery runs a SQL query in which every name registered in
	// the execution context is visible as a virtual table. Names are
	// resolved to the context's current values at call time; nothing is
	// cached across calls, and only names the query mentions are
	// materialized.
	ExecuteQuery(ctx context.Context, query string, ec *execctx.Context) (*Dataset, error)

	// Schema returns the ordered column list of a dataset.
	Schema(ds *Dataset) []Column

	// Shape returns (rowCount, columnCount). For this engine's
	// materialized datasets it is O(1); the contract allows lazy
	// backends to trigger full evaluation here.
	Shape(ds *Dataset) (rows int64, cols int64)

	// CountNulls returns the null count per requested column. An empty
	// column list means all columns.
	CountNulls(ds *Dataset, columns []string) (map[string]int64, error)

	// ValidateSchema checks the dataset against the rules and returns
	// violation descriptions; empty means valid.
	ValidateSchema(ds *Dataset, rules []types.ColumnRule) []string

	// Close releases backend resources.
	Close() error
}

// ReadError wraps a failure in the read operation.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string { return "read: " + e.Err.Error() }
func (e *ReadError) Unwrap() error { return e.Err }

// WriteError wraps a failure in the write operation.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return "write: " + e.Err.Error() }
func (e *WriteError) Unwrap() error { return e.Err }

// QueryError wraps a failure executing a query.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string { return "query: " + e.Err.Error() }
func (e *QueryError) Unwrap() error { return e.Err }

// DatasetFrom fetches a name from the execution context and asserts it is
// a Dataset.
func DatasetFrom(ec *execctx.Context, name string) (*Dataset, error) {
	v, err := ec.Get(name)
	if err != nil {
		return nil, err
	}
	ds, ok := v.(*Dataset)
	if !ok {
		return nil, fmt.Errorf("context entry %q is not a dataset", name)
	}
	return ds, nil
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validIdent rejects names that cannot be safely quoted as SQL
// identifiers for virtual-table registration.
func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

// schemaOf, shapeOf, countNulls, and validateSchema are the shared
// introspection implementations; materialized datasets make them
// backend-independent.

func schemaOf(ds *Dataset) []Column {
	out := make([]Column, len(ds.Columns))
	copy(out, ds.Columns)
	return out
}

func shapeOf(ds *Dataset) (int64, int64) {
	return int64(len(ds.Rows)), int64(len(ds.Columns))
}

func countNulls(ds *Dataset, columns []string) (map[string]int64, error) {
	if len(columns) == 0 {
		columns = make([]string, len(ds.Columns))
		for i, c := range ds.Columns {
			columns[i] = c.Name
		}
	}

	counts := make(map[string]int64, len(columns))
	idx := make([]int, len(columns))
	for i, name := range columns {
		j := ds.ColumnIndex(name)
		if j < 0 {
			return nil, fmt.Errorf("unknown column %q", name)
		}
		idx[i] = j
		counts[name] = 0
	}

	for _, row := range ds.Rows {
		for i, j := range idx {
			if row[j] == nil {
				counts[columns[i]]++
			}
		}
	}
	return counts, nil
}

func validateSchema(ds *Dataset, rules []types.ColumnRule) []string {
	var violations []string
	for _, rule := range rules {
		j := ds.ColumnIndex(rule.Name)
		if j < 0 {
			violations = append(violations, fmt.Sprintf("missing column %q", rule.Name))
			continue
		}
		if rule.Type != "" && !strings.EqualFold(rule.Type, string(ds.Columns[j].Type)) {
			violations = append(violations, fmt.Sprintf(
				"column %q has type %s, want %s", rule.Name, ds.Columns[j].Type, rule.Type))
		}
	}
	return violations
}
