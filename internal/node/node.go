// Package node runs a single pipeline node through its four-phase
// lifecycle: read, transform, validate, write.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/flexinfer/datapipe/internal/engine"
	"github.com/flexinfer/datapipe/internal/execctx"
	"github.com/flexinfer/datapipe/internal/rules"
	"github.com/flexinfer/datapipe/internal/storage"
	"github.com/flexinfer/datapipe/internal/transform"
	"github.com/flexinfer/datapipe/pkg/types"
)

// PhaseError records which lifecycle phase failed and why. It becomes the
// node's error message, so diagnostics always name the phase.
type PhaseError struct {
	Node  string
	Phase types.Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("node %q failed in %s phase: %v", e.Node, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Node binds one node configuration to the run's shared context, engine,
// connection registry, and transform registry. All collaborators are
// constructor-injected; nothing ambient.
type Node struct {
	cfg        *types.NodeConfig
	eng        engine.Engine
	ec         *execctx.Context
	conns      *storage.Registry
	transforms *transform.Registry
	rules      *rules.Evaluator
	logger     *slog.Logger

	status types.NodeStatus
}

// New creates a node bound to its collaborators.
func New(cfg *types.NodeConfig, eng engine.Engine, ec *execctx.Context, conns *storage.Registry, transforms *transform.Registry, ruleEval *rules.Evaluator, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	if ruleEval == nil {
		ruleEval = rules.NewEvaluator()
	}
	return &Node{
		cfg:        cfg,
		eng:        eng,
		ec:         ec,
		conns:      conns,
		transforms: transforms,
		rules:      ruleEval,
		logger:     logger,
		status:     types.NodeStatusPending,
	}
}

// Status returns the node's current lifecycle status.
func (n *Node) Status() types.NodeStatus {
	return n.status
}

// Execute drives the lifecycle. Any phase error aborts the remaining
// phases and produces a failed NodeResult carrying the phase name and
// cause; errors never escape to the caller as Go errors, matching the
// record-and-continue policy of pipeline execution.
func (n *Node) Execute(ctx context.Context) *types.NodeResult {
	start := time.Now()
	n.status = types.NodeStatusRunning

	result := &types.NodeResult{
		Name:         n.cfg.Name,
		RowsAffected: types.RowsUnknown,
		Metadata:     make(map[string]string),
	}

	err := n.runPhases(ctx)
	result.DurationMillis = time.Since(start).Milliseconds()

	if err != nil {
		n.status = types.NodeStatusFailed
		result.Success = false
		if pe, ok := err.(*PhaseError); ok {
			result.Phase = pe.Phase
		}
		result.ErrorMessage = err.Error()
		n.logger.Error("node failed",
			slog.String("node", n.cfg.Name),
			slog.String("phase", string(result.Phase)),
			slog.String("error", result.ErrorMessage),
		)
		return result
	}

	n.status = types.NodeStatusCompleted
	result.Success = true
	n.annotate(result)
	n.logger.Info("node completed",
		slog.String("node", n.cfg.Name),
		slog.Int64("rows", result.RowsAffected),
		slog.Int64("duration_ms", result.DurationMillis),
	)
	return result
}

func (n *Node) runPhases(ctx context.Context) error {
	if n.cfg.Read != nil {
		if err := n.read(ctx); err != nil {
			return &PhaseError{Node: n.cfg.Name, Phase: types.PhaseRead, Err: err}
		}
	}
	if n.cfg.Transform != nil {
		if err := n.transform(ctx); err != nil {
			return &PhaseError{Node: n.cfg.Name, Phase: types.PhaseTransform, Err: err}
		}
	}
	if n.cfg.Validation != nil {
		if err := n.validate(); err != nil {
			return &PhaseError{Node: n.cfg.Name, Phase: types.PhaseValidate, Err: err}
		}
	}
	if n.cfg.Write != nil {
		if err := n.write(ctx); err != nil {
			return &PhaseError{Node: n.cfg.Name, Phase: types.PhaseWrite, Err: err}
		}
	}
	return nil
}

// read resolves the connection, loads the dataset, and registers it under
// the node's name.
func (n *Node) read(ctx context.Context) error {
	spec := n.cfg.Read
	conn, err := n.conns.Get(spec.Connection)
	if err != nil {
		return err
	}

	ds, err := n.eng.Read(ctx, conn, spec.Format, engine.Target{Table: spec.Table, Path: spec.Path}, spec.Options)
	if err != nil {
		return err
	}
	return n.ec.Register(n.cfg.Name, ds)
}

// transform produces a new dataset from context inputs and registers it
// under the node's name, replacing a read-phase registration when both
// phases are present.
func (n *Node) transform(ctx context.Context) error {
	spec := n.cfg.Transform

	var ds *engine.Dataset
	var err error
	switch {
	case spec.SQL != "":
		ds, err = n.eng.ExecuteQuery(ctx, spec.SQL, n.ec)
	case spec.Function != "":
		entry, gerr := n.transforms.Get(spec.Function)
		if gerr != nil {
			return gerr
		}
		inputs := spec.Inputs
		if len(inputs) == 0 {
			inputs = n.cfg.DependsOn
		}
		ds, err = entry.Fn(ctx, n.eng, n.ec, inputs)
	default:
		return fmt.Errorf("transform spec has neither sql nor function")
	}
	if err != nil {
		return err
	}
	if ds == nil {
		return fmt.Errorf("transform produced no dataset")
	}
	return n.ec.RegisterOverwrite(n.cfg.Name, ds)
}

// validate applies the declared rules to the node's current in-context
// dataset. Any violation fails the node.
func (n *Node) validate() error {
	ds, err := n.current()
	if err != nil {
		return err
	}
	violations, err := n.rules.Evaluate(n.eng, ds, n.cfg.Validation)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return fmt.Errorf("validation failed: %s", rules.Describe(violations))
	}
	return nil
}

// write stores the node's current dataset through the declared connection.
func (n *Node) write(ctx context.Context) error {
	spec := n.cfg.Write
	conn, err := n.conns.Get(spec.Connection)
	if err != nil {
		return err
	}
	ds, err := n.current()
	if err != nil {
		return err
	}

	mode := spec.Mode
	if mode == "" {
		mode = types.WriteModeOverwrite
	}
	return n.eng.Write(ctx, ds, conn, spec.Format, engine.Target{Table: spec.Table, Path: spec.Path}, mode, spec.Options)
}

// current returns the dataset this node operates on: its own registration
// when a read or transform phase produced one, otherwise its single
// dependency's dataset (the write-only passthrough case).
func (n *Node) current() (*engine.Dataset, error) {
	if n.ec.Has(n.cfg.Name) {
		return engine.DatasetFrom(n.ec, n.cfg.Name)
	}
	if len(n.cfg.DependsOn) == 1 {
		return engine.DatasetFrom(n.ec, n.cfg.DependsOn[0])
	}
	return nil, fmt.Errorf("no dataset registered for node %q", n.cfg.Name)
}

// annotate fills result metadata from the node's final dataset, when one
// exists in context.
func (n *Node) annotate(result *types.NodeResult) {
	ds, err := n.current()
	if err != nil {
		return
	}
	rows, cols := n.eng.Shape(ds)
	result.RowsAffected = rows
	result.Metadata["rows"] = strconv.FormatInt(rows, 10)
	result.Metadata["columns"] = strconv.FormatInt(cols, 10)

	schema := ""
	for i, c := range n.eng.Schema(ds) {
		if i > 0 {
			schema += ","
		}
		schema += c.Name + ":" + string(c.Type)
	}
	result.Metadata["schema"] = schema
	if n.cfg.Cache {
		result.Metadata["cached"] = "true"
	}
}
