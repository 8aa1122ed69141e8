// Package pipeline orchestrates pipeline runs: graph construction,
// execution ordering, node lifecycle driving, and result aggregation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flexinfer/datapipe/internal/engine"
	"github.com/flexinfer/datapipe/internal/execctx"
	"github.com/flexinfer/datapipe/internal/graph"
	"github.com/flexinfer/datapipe/internal/metrics"
	"github.com/flexinfer/datapipe/internal/node"
	"github.com/flexinfer/datapipe/internal/resultstore"
	"github.com/flexinfer/datapipe/internal/rules"
	"github.com/flexinfer/datapipe/internal/storage"
	"github.com/flexinfer/datapipe/internal/transform"
	"github.com/flexinfer/datapipe/pkg/types"
)

// Pipeline runs one named pipeline. All collaborators are injected at
// construction; a fresh execution context is created per run so runs
// never share state.
type Pipeline struct {
	cfg        *types.PipelineConfig
	eng        engine.Engine
	conns      *storage.Registry
	transforms *transform.Registry
	store      resultstore.Store
	logger     *slog.Logger
	tracer     trace.Tracer
	ruleEval   *rules.Evaluator
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithStore attaches a result store; runs are then persisted and their
// events streamed.
func WithStore(store resultstore.Store) Option {
	return func(p *Pipeline) { p.store = store }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// New creates a pipeline. The configuration is validated here so obvious
// problems fail fast, but graph construction is repeated per run to keep
// Run self-contained.
func New(cfg *types.PipelineConfig, eng engine.Engine, conns *storage.Registry, transforms *transform.Registry, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:        cfg,
		eng:        eng,
		conns:      conns,
		transforms: transforms,
		logger:     slog.Default(),
		tracer:     otel.Tracer("datapipe/pipeline"),
		ruleEval:   rules.NewEvaluator(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the pipeline's configured name.
func (p *Pipeline) Name() string {
	return p.cfg.Name
}

// Config returns the pipeline's configuration.
func (p *Pipeline) Config() *types.PipelineConfig {
	return p.cfg
}

// Run executes the pipeline once under a fresh run ID. Construction-time
// failures (unknown dependency, cycle, invalid node) return an error
// before any node runs. Node failures are recorded in the results and
// never escape: the run always completes and returns a full
// PipelineResults.
func (p *Pipeline) Run(ctx context.Context) (*types.PipelineResults, error) {
	return p.RunWithID(ctx, uuid.New().String())
}

// RunWithID executes the pipeline under a caller-supplied run ID, which
// lets callers hand out the ID (for event streaming) before the run
// finishes.
func (p *Pipeline) RunWithID(ctx context.Context, runID string) (*types.PipelineResults, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("pipeline", p.cfg.Name),
			attribute.String("run_id", runID),
		))
	defer span.End()

	p.createRun(ctx, runID)

	g, err := graph.New(p.cfg.Nodes)
	if err != nil {
		return nil, p.failConstruction(ctx, runID, err)
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, p.failConstruction(ctx, runID, err)
	}

	p.emitRunStatus(ctx, runID, types.RunStatusRunning, "")

	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	results := types.NewPipelineResults(p.cfg.Name, runID)
	ec := execctx.New()
	defer ec.Clear()

	run := &runState{
		pipeline: p,
		runID:    runID,
		graph:    g,
		ec:       ec,
		results:  results,
	}

	if p.cfg.Parallel {
		layers, err := g.ExecutionLayers()
		if err != nil {
			return nil, p.failConstruction(ctx, runID, err)
		}
		for _, layer := range layers {
			run.executeLayer(ctx, layer)
		}
	} else {
		for _, name := range order {
			run.executeOne(ctx, name)
		}
	}

	results.Finish()
	p.finishRun(ctx, runID, results)

	status := string(results.Status())
	metrics.RunsTotal.WithLabelValues(p.cfg.Name, status).Inc()
	metrics.RunDuration.WithLabelValues(p.cfg.Name, status).
		Observe(float64(results.DurationMillis) / 1000.0)

	p.logger.Info("pipeline finished",
		slog.String("pipeline", p.cfg.Name),
		slog.String("run_id", runID),
		slog.String("status", status),
		slog.Int("completed", len(results.Completed)),
		slog.Int("failed", len(results.Failed)),
		slog.Int("skipped", len(results.Skipped)),
		slog.Int64("duration_ms", results.DurationMillis),
	)
	return results, nil
}

// runState is the mutable state of one run. The mutex guards the result
// aggregate when a layer executes concurrently.
type runState struct {
	pipeline *Pipeline
	runID    string
	graph    *graph.Graph
	ec       *execctx.Context
	results  *types.PipelineResults
	mu       sync.Mutex
}

// executeLayer runs one execution layer. Skip checks run first, in
// declaration order, so skip records are deterministic; the remaining
// nodes are independent and run concurrently with a blocking join before
// the next layer starts.
func (r *runState) executeLayer(ctx context.Context, layer []string) {
	var runnable []string
	for _, name := range layer {
		if r.skipIfUnhealthy(ctx, name) {
			continue
		}
		runnable = append(runnable, name)
	}

	var wg sync.WaitGroup
	for _, name := range runnable {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			r.runNode(ctx, name)
		}(name)
	}
	wg.Wait()
}

// executeOne runs one node in the sequential baseline.
func (r *runState) executeOne(ctx context.Context, name string) {
	if r.skipIfUnhealthy(ctx, name) {
		return
	}
	r.runNode(ctx, name)
}

// skipIfUnhealthy applies the dependency-health check: a node is skipped
// when any direct dependency is failed OR skipped. Checking both sets is
// what makes skips propagate transitively; a node below a skipped (not
// failed) dependency must not execute against missing context data.
func (r *runState) skipIfUnhealthy(ctx context.Context, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dep := range r.graph.DirectDependencies(name) {
		var cause types.NodeStatus
		if contains(r.results.Failed, dep) {
			cause = types.NodeStatusFailed
		} else if contains(r.results.Skipped, dep) {
			cause = types.NodeStatusSkipped
		} else {
			continue
		}

		r.results.Skipped = append(r.results.Skipped, name)
		r.results.SkipRecords[name] = types.SkipRecord{
			Name:        name,
			Cause:       dep,
			CauseStatus: cause,
		}
		metrics.NodesTotal.WithLabelValues(string(types.NodeStatusSkipped)).Inc()
		r.pipeline.emitNodeStatus(ctx, r.runID, name, types.NodeStatusSkipped, "",
			fmt.Sprintf("dependency %q %s", dep, cause))
		r.pipeline.logger.Warn("node skipped",
			slog.String("pipeline", r.pipeline.cfg.Name),
			slog.String("node", name),
			slog.String("cause", dep),
			slog.String("cause_status", string(cause)),
		)
		return true
	}
	return false
}

// runNode executes the node lifecycle and records the outcome.
func (r *runState) runNode(ctx context.Context, name string) {
	p := r.pipeline
	cfg, _ := r.graph.Node(name)

	nodeCtx, span := p.tracer.Start(ctx, "node.execute",
		trace.WithAttributes(attribute.String("node", name)))
	defer span.End()

	p.emitNodeStatus(ctx, r.runID, name, types.NodeStatusRunning, "", "")

	n := node.New(cfg, p.eng, r.ec, p.conns, p.transforms, p.ruleEval, p.logger)
	result := n.Execute(nodeCtx)

	r.mu.Lock()
	r.results.NodeResults[name] = result
	if result.Success {
		r.results.Completed = append(r.results.Completed, name)
	} else {
		r.results.Failed = append(r.results.Failed, name)
	}
	r.mu.Unlock()

	status := types.NodeStatusCompleted
	if !result.Success {
		status = types.NodeStatusFailed
	}
	metrics.NodesTotal.WithLabelValues(string(status)).Inc()
	metrics.NodeDuration.WithLabelValues(string(status)).
		Observe(float64(result.DurationMillis) / 1000.0)
	if result.Success && result.RowsAffected >= 0 {
		metrics.NodeRows.Observe(float64(result.RowsAffected))
	}
	p.emitNodeStatus(ctx, r.runID, name, status, result.Phase, result.ErrorMessage)
}

func contains(list []string, name string) bool {
	for _, s := range list {
		if s == name {
			return true
		}
	}
	return false
}

// failConstruction wraps a graph construction error and marks the run
// failed in the store, so a caller that already handed out the run ID
// still sees a terminal record.
func (p *Pipeline) failConstruction(ctx context.Context, runID string, err error) error {
	wrapped := fmt.Errorf("pipeline %q: %w", p.cfg.Name, err)
	p.emitRunStatus(ctx, runID, types.RunStatusFailed, wrapped.Error())
	metrics.RunsTotal.WithLabelValues(p.cfg.Name, string(types.RunStatusFailed)).Inc()
	return wrapped
}

// Store helpers. A nil store turns persistence and events off; store
// errors are logged and never fail the run.

func (p *Pipeline) createRun(ctx context.Context, runID string) {
	if p.store == nil {
		return
	}
	if err := p.store.CreateRun(ctx, runID, p.cfg.Name); err != nil {
		metrics.StoreOperations.WithLabelValues("create", "error").Inc()
		p.logger.Error("create run record", "error", err, "run_id", runID)
		return
	}
	metrics.StoreOperations.WithLabelValues("create", "success").Inc()
}

func (p *Pipeline) finishRun(ctx context.Context, runID string, results *types.PipelineResults) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveResults(ctx, runID, results); err != nil {
		metrics.StoreOperations.WithLabelValues("save", "error").Inc()
		p.logger.Error("save results", "error", err, "run_id", runID)
	} else {
		metrics.StoreOperations.WithLabelValues("save", "success").Inc()
	}

	errMsg := ""
	if !results.Succeeded() {
		errMsg = fmt.Sprintf("%d failed, %d skipped", len(results.Failed), len(results.Skipped))
	}
	p.emitRunStatus(ctx, runID, results.Status(), errMsg)
}

func (p *Pipeline) emitRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) {
	if p.store == nil {
		return
	}
	p.appendEvent(ctx, runID, &types.EventInput{
		Type: types.EventTypeRunStatus,
		Data: types.RunStatusEvent{Status: status, Error: errMsg},
	})
	terminal := status == types.RunStatusSucceeded || status == types.RunStatusFailed
	if terminal {
		// Appended before the status flips so live subscribers still
		// receive it; SSE handlers use it to end resumed streams too.
		p.appendEvent(ctx, runID, &types.EventInput{Type: types.EventTypeStreamEnd})
	}
	if err := p.store.UpdateRunStatus(ctx, runID, status, errMsg); err != nil {
		metrics.StoreOperations.WithLabelValues("update", "error").Inc()
		p.logger.Error("update run status", "error", err, "run_id", runID)
		return
	}
	metrics.StoreOperations.WithLabelValues("update", "success").Inc()
}

func (p *Pipeline) emitNodeStatus(ctx context.Context, runID, name string, status types.NodeStatus, phase types.Phase, errMsg string) {
	if p.store == nil {
		return
	}
	p.appendEvent(ctx, runID, &types.EventInput{
		Type:     types.EventTypeNodeStatus,
		NodeName: name,
		Data:     types.NodeStatusEvent{Status: status, Phase: phase, Error: errMsg},
	})
}

func (p *Pipeline) appendEvent(ctx context.Context, runID string, input *types.EventInput) {
	if _, err := p.store.AppendEvent(ctx, runID, input); err != nil {
		p.logger.Error("append event", "error", err, "run_id", runID)
	}
}
