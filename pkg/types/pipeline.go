// Package types provides shared types for the datapipe engine.
package types

import (
	"errors"
	"fmt"
)

// WriteMode controls how a write phase treats existing data.
type WriteMode string

const (
	WriteModeOverwrite WriteMode = "overwrite"
	WriteModeAppend    WriteMode = "append"
)

// Format identifies a dataset serialization format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// EngineType selects the computation backend for a pipeline.
type EngineType string

const (
	EngineTypeLocal     EngineType = "local"
	EngineTypeWarehouse EngineType = "warehouse"
)

// ReadSpec declares the read phase of a node.
type ReadSpec struct {
	Connection string            `json:"connection" yaml:"connection"`
	Format     Format            `json:"format" yaml:"format"`
	Table      string            `json:"table,omitempty" yaml:"table,omitempty"`
	Path       string            `json:"path,omitempty" yaml:"path,omitempty"`
	Options    map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// TransformSpec declares the transform phase of a node. Exactly one of
// SQL or Function should be set; Function names an entry in the pipeline's
// transform registry.
type TransformSpec struct {
	SQL      string   `json:"sql,omitempty" yaml:"sql,omitempty"`
	Function string   `json:"function,omitempty" yaml:"function,omitempty"`
	Inputs   []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// WriteSpec declares the write phase of a node.
type WriteSpec struct {
	Connection string            `json:"connection" yaml:"connection"`
	Format     Format            `json:"format" yaml:"format"`
	Table      string            `json:"table,omitempty" yaml:"table,omitempty"`
	Path       string            `json:"path,omitempty" yaml:"path,omitempty"`
	Mode       WriteMode         `json:"mode,omitempty" yaml:"mode,omitempty"`
	Options    map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// ColumnRule declares an expected column for schema validation.
type ColumnRule struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// ValidationSpec declares the validate phase of a node.
type ValidationSpec struct {
	// NotEmpty fails the node when the dataset has zero rows.
	NotEmpty bool `json:"not_empty,omitempty" yaml:"not_empty,omitempty"`

	// NotNull lists columns that must not contain nulls.
	NotNull []string `json:"not_null,omitempty" yaml:"not_null,omitempty"`

	// Schema lists columns the dataset must contain, in any order.
	Schema []ColumnRule `json:"schema,omitempty" yaml:"schema,omitempty"`

	// Expr is an expression over dataset aggregates that must evaluate
	// to true (e.g. `rows > 0 && nulls["id"] == 0`).
	Expr string `json:"expr,omitempty" yaml:"expr,omitempty"`
}

// NodeConfig is the declarative description of one node. It is immutable
// once a graph has been built from it.
type NodeConfig struct {
	Name       string          `json:"name" yaml:"name"`
	DependsOn  []string        `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Read       *ReadSpec       `json:"read,omitempty" yaml:"read,omitempty"`
	Transform  *TransformSpec  `json:"transform,omitempty" yaml:"transform,omitempty"`
	Write      *WriteSpec      `json:"write,omitempty" yaml:"write,omitempty"`
	Validation *ValidationSpec `json:"validation,omitempty" yaml:"validation,omitempty"`
	Cache      bool            `json:"cache,omitempty" yaml:"cache,omitempty"`
}

// ErrInvalidNode is returned when a node declares none of read, transform,
// or write.
var ErrInvalidNode = errors.New("node declares no read, transform, or write operation")

// Validate checks the structural invariants of a node configuration.
func (n *NodeConfig) Validate() error {
	if n.Name == "" {
		return errors.New("node name is required")
	}
	if n.Read == nil && n.Transform == nil && n.Write == nil {
		return fmt.Errorf("node %q: %w", n.Name, ErrInvalidNode)
	}
	if n.Transform != nil {
		if n.Transform.SQL == "" && n.Transform.Function == "" {
			return fmt.Errorf("node %q: transform requires sql or function", n.Name)
		}
		if n.Transform.SQL != "" && n.Transform.Function != "" {
			return fmt.Errorf("node %q: transform must set only one of sql or function", n.Name)
		}
	}
	if n.Write != nil {
		switch n.Write.Mode {
		case "", WriteModeOverwrite, WriteModeAppend:
		default:
			return fmt.Errorf("node %q: unknown write mode %q", n.Name, n.Write.Mode)
		}
	}
	return nil
}

// PipelineConfig describes one named pipeline.
type PipelineConfig struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Engine      EngineType   `json:"engine,omitempty" yaml:"engine,omitempty"`
	Nodes       []NodeConfig `json:"nodes" yaml:"nodes"`

	// Parallel enables concurrent execution of independent nodes within
	// one execution layer. The default is sequential topological order.
	Parallel bool `json:"parallel,omitempty" yaml:"parallel,omitempty"`
}

// Validate checks the pipeline and every node in it.
func (p *PipelineConfig) Validate() error {
	if p.Name == "" {
		return errors.New("pipeline name is required")
	}
	if len(p.Nodes) == 0 {
		return fmt.Errorf("pipeline %q has no nodes", p.Name)
	}
	for i := range p.Nodes {
		if err := p.Nodes[i].Validate(); err != nil {
			return fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
	}
	return nil
}
