// Package rules evaluates a node's declared validation rules against its
// current dataset.
package rules

import (
	"fmt"
	"strings"

	"github.com/flexinfer/datapipe/internal/engine"
	"github.com/flexinfer/datapipe/pkg/types"
)

// Violation describes one failed rule.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Rule + ": " + v.Message
}

// Evaluator checks validation specs. Expression rules are compiled once
// and cached across nodes.
type Evaluator struct {
	expr *ExprEvaluator
}

// NewEvaluator creates an evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{expr: NewExprEvaluator()}
}

// Evaluate applies every declared rule and returns the violations; an
// empty slice means the dataset passed. Any violation is a node failure,
// not a warning.
func (e *Evaluator) Evaluate(eng engine.Engine, ds *engine.Dataset, spec *types.ValidationSpec) ([]Violation, error) {
	if spec == nil {
		return nil, nil
	}
	if ds == nil {
		return nil, fmt.Errorf("no dataset in context to validate")
	}

	var violations []Violation

	rowCount, _ := eng.Shape(ds)
	if spec.NotEmpty && rowCount == 0 {
		violations = append(violations, Violation{
			Rule:    "not_empty",
			Message: "dataset has zero rows",
		})
	}

	if len(spec.NotNull) > 0 {
		nulls, err := eng.CountNulls(ds, spec.NotNull)
		if err != nil {
			return nil, err
		}
		// Report in declared order.
		for _, col := range spec.NotNull {
			if n := nulls[col]; n > 0 {
				violations = append(violations, Violation{
					Rule:    "not_null",
					Message: fmt.Sprintf("column %q has %d null values", col, n),
				})
			}
		}
	}

	for _, msg := range eng.ValidateSchema(ds, spec.Schema) {
		violations = append(violations, Violation{Rule: "schema", Message: msg})
	}

	if spec.Expr != "" {
		ok, err := e.expr.EvaluateBool(spec.Expr, exprEnv(eng, ds))
		if err != nil {
			return nil, fmt.Errorf("expression rule: %w", err)
		}
		if !ok {
			violations = append(violations, Violation{
				Rule:    "expr",
				Message: fmt.Sprintf("expression %q evaluated to false", spec.Expr),
			})
		}
	}

	return violations, nil
}

// exprEnv builds the environment expression rules see: row/column counts,
// the column name list, and per-column null counts.
func exprEnv(eng engine.Engine, ds *engine.Dataset) map[string]interface{} {
	rows, cols := eng.Shape(ds)

	names := make([]string, 0, cols)
	for _, c := range eng.Schema(ds) {
		names = append(names, c.Name)
	}

	nulls, err := eng.CountNulls(ds, nil)
	if err != nil {
		nulls = map[string]int64{}
	}

	return map[string]interface{}{
		"rows":    rows,
		"cols":    cols,
		"columns": names,
		"nulls":   nulls,
	}
}

// Describe renders violations as a single failure message.
func Describe(violations []Violation) string {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}
