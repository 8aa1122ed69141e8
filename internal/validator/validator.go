// Package validator provides JSON schema validation for pipeline definitions.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Validator validates pipeline definition documents before they are
// decoded into typed configuration.
type Validator struct {
	pipelineSchema *jsonschema.Schema
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds the result of a validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// New creates a new validator with the embedded schema.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource("pipeline.json", strings.NewReader(pipelineSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add pipeline schema: %w", err)
	}
	pipelineSchema, err := compiler.Compile("pipeline.json")
	if err != nil {
		return nil, fmt.Errorf("compile pipeline schema: %w", err)
	}

	return &Validator{pipelineSchema: pipelineSchema}, nil
}

// ValidatePipeline validates a decoded pipeline definition.
func (v *Validator) ValidatePipeline(pipeline map[string]interface{}) *ValidationResult {
	return v.validate(v.pipelineSchema, pipeline)
}

// ValidatePipelineJSON validates a JSON-encoded pipeline definition.
func (v *Validator) ValidatePipelineJSON(data []byte) *ValidationResult {
	var pipeline map[string]interface{}
	if err := json.Unmarshal(data, &pipeline); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.ValidatePipeline(pipeline)
}

// ValidatePipelineYAML validates a YAML-encoded pipeline definition.
// The document is round-tripped through JSON so number and key types
// match what the schema engine expects.
func (v *Validator) ValidatePipelineYAML(data []byte) *ValidationResult {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid YAML: %v", err)},
			},
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("normalize document: %v", err)},
			},
		}
	}
	return v.ValidatePipelineJSON(raw)
}

// validate runs schema validation and converts errors.
func (v *Validator) validate(schema *jsonschema.Schema, data interface{}) *ValidationResult {
	err := schema.Validate(data)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	result := &ValidationResult{Valid: false}
	if verr, ok := err.(*jsonschema.ValidationError); ok {
		result.Errors = extractErrors(verr)
	} else {
		result.Errors = []ValidationError{
			{Path: "$", Message: err.Error()},
		}
	}
	return result
}

// extractErrors recursively extracts validation errors.
func extractErrors(verr *jsonschema.ValidationError) []ValidationError {
	var errors []ValidationError

	if verr.Message != "" {
		errors = append(errors, ValidationError{
			Path:    verr.InstanceLocation,
			Message: verr.Message,
		})
	}
	for _, cause := range verr.Causes {
		errors = append(errors, extractErrors(cause)...)
	}
	return errors
}

// Embedded JSON schema

const pipelineSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "pipeline.json",
  "title": "Pipeline Definition",
  "description": "Schema for datapipe pipeline definitions",
  "type": "object",
  "required": ["name", "nodes"],
  "properties": {
    "name": {
      "type": "string",
      "pattern": "^[a-zA-Z][a-zA-Z0-9._-]*$",
      "description": "Unique pipeline identifier"
    },
    "description": {
      "type": "string",
      "description": "Human-readable pipeline description"
    },
    "engine": {
      "type": "string",
      "enum": ["local", "warehouse"],
      "description": "Execution engine backend"
    },
    "parallel": {
      "type": "boolean",
      "description": "Run independent nodes concurrently"
    },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {
            "type": "string",
            "pattern": "^[a-zA-Z_][a-zA-Z0-9_]*$",
            "description": "Node identifier, usable as a dataset name"
          },
          "depends_on": {
            "type": "array",
            "items": {"type": "string"},
            "description": "Names of upstream nodes"
          },
          "cache": {
            "type": "boolean",
            "description": "Keep the node's dataset for downstream reuse"
          },
          "read": {
            "type": "object",
            "required": ["connection", "format"],
            "properties": {
              "connection": {"type": "string"},
              "path": {"type": "string"},
              "table": {"type": "string"},
              "format": {"type": "string", "enum": ["csv", "json"]},
              "options": {
                "type": "object",
                "additionalProperties": {"type": "string"}
              }
            },
            "description": "Source extraction"
          },
          "transform": {
            "type": "object",
            "properties": {
              "sql": {"type": "string"},
              "function": {"type": "string"},
              "inputs": {
                "type": "array",
                "items": {"type": "string"}
              }
            },
            "description": "SQL query or registered function"
          },
          "validation": {
            "type": "object",
            "properties": {
              "not_empty": {"type": "boolean"},
              "not_null": {
                "type": "array",
                "items": {"type": "string"}
              },
              "schema": {
                "type": "array",
                "items": {
                  "type": "object",
                  "required": ["name"],
                  "properties": {
                    "name": {"type": "string"},
                    "type": {
                      "type": "string",
                      "enum": ["integer", "float", "string", "boolean", "timestamp"]
                    }
                  }
                }
              },
              "expr": {"type": "string"}
            },
            "description": "Quality rules applied before write"
          },
          "write": {
            "type": "object",
            "required": ["connection", "format"],
            "properties": {
              "connection": {"type": "string"},
              "path": {"type": "string"},
              "table": {"type": "string"},
              "format": {"type": "string", "enum": ["csv", "json"]},
              "mode": {"type": "string", "enum": ["overwrite", "append"]},
              "options": {
                "type": "object",
                "additionalProperties": {"type": "string"}
              }
            },
            "description": "Destination load"
          }
        }
      },
      "description": "Nodes in the dependency graph"
    }
  }
}`
