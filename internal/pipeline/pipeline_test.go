package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/flexinfer/datapipe/internal/engine"
	"github.com/flexinfer/datapipe/internal/resultstore"
	"github.com/flexinfer/datapipe/internal/storage"
	"github.com/flexinfer/datapipe/internal/transform"
	"github.com/flexinfer/datapipe/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sqlNode builds a transform-only node; the SQL decides whether it
// succeeds or fails, which keeps failure scenarios self-contained.
func sqlNode(name, sql string, deps ...string) types.NodeConfig {
	return types.NodeConfig{
		Name:      name,
		DependsOn: deps,
		Transform: &types.TransformSpec{SQL: sql},
	}
}

func newTestPipeline(t *testing.T, cfg *types.PipelineConfig, opts ...Option) *Pipeline {
	t.Helper()
	eng, err := engine.NewLocal()
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	opts = append(opts, WithLogger(discardLogger()))
	p, err := New(cfg, eng, storage.NewRegistry(), transform.NewRegistry(), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func sorted(list []string) []string {
	out := append([]string(nil), list...)
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPipeline_Run_Success(t *testing.T) {
	cfg := &types.PipelineConfig{
		Name: "simple",
		Nodes: []types.NodeConfig{
			sqlNode("raw", `SELECT 1 AS x UNION ALL SELECT 2`),
			sqlNode("doubled", `SELECT x * 2 AS x FROM raw`, "raw"),
		},
	}
	p := newTestPipeline(t, cfg)

	results, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !results.Succeeded() {
		t.Fatalf("expected success, got failed=%v skipped=%v", results.Failed, results.Skipped)
	}
	if results.Status() != types.RunStatusSucceeded {
		t.Errorf("expected succeeded status, got %q", results.Status())
	}
	if !equalStrings(results.Completed, []string{"raw", "doubled"}) {
		t.Errorf("expected completion in topological order, got %v", results.Completed)
	}
	if results.RunID == "" {
		t.Error("expected a generated run ID")
	}
	if results.EndTime.IsZero() {
		t.Error("expected end time to be set")
	}
	nr := results.NodeResults["doubled"]
	if nr == nil || !nr.Success || nr.RowsAffected != 2 {
		t.Errorf("unexpected node result for doubled: %+v", nr)
	}
}

// The canonical propagation scenario: B fails, D is skipped because of
// B, and E is skipped because of D. A and C are unaffected.
func propagationConfig(parallel bool) *types.PipelineConfig {
	return &types.PipelineConfig{
		Name:     "propagation",
		Parallel: parallel,
		Nodes: []types.NodeConfig{
			sqlNode("A", `SELECT 1 AS x`),
			sqlNode("B", `SELECT x FROM no_such_table`),
			sqlNode("C", `SELECT x + 1 AS x FROM A`, "A"),
			sqlNode("D", `SELECT 1 AS x`, "B", "C"),
			sqlNode("E", `SELECT 1 AS x`, "D"),
		},
	}
}

func checkPropagation(t *testing.T, results *types.PipelineResults) {
	t.Helper()
	if !equalStrings(sorted(results.Completed), []string{"A", "C"}) {
		t.Errorf("expected completed [A C], got %v", results.Completed)
	}
	if !equalStrings(results.Failed, []string{"B"}) {
		t.Errorf("expected failed [B], got %v", results.Failed)
	}
	if !equalStrings(results.Skipped, []string{"D", "E"}) {
		t.Errorf("expected skipped [D E], got %v", results.Skipped)
	}

	rec, ok := results.SkipRecords["D"]
	if !ok || rec.Cause != "B" || rec.CauseStatus != types.NodeStatusFailed {
		t.Errorf("unexpected skip record for D: %+v", rec)
	}
	rec, ok = results.SkipRecords["E"]
	if !ok || rec.Cause != "D" || rec.CauseStatus != types.NodeStatusSkipped {
		t.Errorf("unexpected skip record for E: %+v", rec)
	}

	if _, ok := results.NodeResults["D"]; ok {
		t.Error("skipped node must not have a node result")
	}
	nr := results.NodeResults["B"]
	if nr == nil || nr.Success || nr.Phase != types.PhaseTransform {
		t.Errorf("unexpected node result for B: %+v", nr)
	}
	if results.Succeeded() {
		t.Error("expected run to be marked failed")
	}
	if results.Status() != types.RunStatusFailed {
		t.Errorf("expected failed status, got %q", results.Status())
	}
}

func TestPipeline_Run_FailurePropagation(t *testing.T) {
	p := newTestPipeline(t, propagationConfig(false))
	results, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	checkPropagation(t, results)
}

func TestPipeline_Run_Parallel(t *testing.T) {
	t.Run("diamond succeeds", func(t *testing.T) {
		cfg := &types.PipelineConfig{
			Name:     "diamond",
			Parallel: true,
			Nodes: []types.NodeConfig{
				sqlNode("a", `SELECT 1 AS x`),
				sqlNode("b", `SELECT x + 1 AS x FROM a`, "a"),
				sqlNode("c", `SELECT x + 2 AS x FROM a`, "a"),
				sqlNode("d", `SELECT b.x + c.x AS x FROM b, c`, "b", "c"),
			},
		}
		p := newTestPipeline(t, cfg)
		results, err := p.Run(context.Background())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if !results.Succeeded() {
			t.Fatalf("expected success, got failed=%v skipped=%v", results.Failed, results.Skipped)
		}
		if len(results.Completed) != 4 {
			t.Errorf("expected 4 completed nodes, got %v", results.Completed)
		}
	})

	t.Run("propagation is deterministic", func(t *testing.T) {
		// Skip records must come out identical to the sequential run
		// even though runnable nodes execute concurrently.
		for i := 0; i < 5; i++ {
			p := newTestPipeline(t, propagationConfig(true))
			results, err := p.Run(context.Background())
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			checkPropagation(t, results)
		}
	})
}

func TestPipeline_Run_ConstructionError(t *testing.T) {
	cfg := &types.PipelineConfig{
		Name: "broken",
		Nodes: []types.NodeConfig{
			sqlNode("a", `SELECT 1 AS x`, "ghost"),
		},
	}
	store := resultstore.NewMemoryStore(nil)
	p := newTestPipeline(t, cfg, WithStore(store))

	results, err := p.RunWithID(context.Background(), "run-broken")
	if err == nil {
		t.Fatal("expected construction error")
	}
	if results != nil {
		t.Errorf("expected nil results, got %+v", results)
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("expected error to name the unknown dependency, got %v", err)
	}

	// The handed-out run ID still resolves to a terminal record.
	run, gerr := store.GetRun(context.Background(), "run-broken")
	if gerr != nil {
		t.Fatalf("GetRun failed: %v", gerr)
	}
	if run.Status != types.RunStatusFailed {
		t.Errorf("expected failed run record, got %q", run.Status)
	}
}

func TestPipeline_Run_EventStream(t *testing.T) {
	cfg := &types.PipelineConfig{
		Name: "evented",
		Nodes: []types.NodeConfig{
			sqlNode("only", `SELECT 1 AS x`),
		},
	}
	store := resultstore.NewMemoryStore(nil)
	p := newTestPipeline(t, cfg, WithStore(store))

	ctx := context.Background()
	results, err := p.RunWithID(ctx, "run-evt")
	if err != nil {
		t.Fatalf("RunWithID failed: %v", err)
	}
	if !results.Succeeded() {
		t.Fatalf("expected success, got failed=%v", results.Failed)
	}

	events, err := store.GetEventsSince(ctx, "run-evt", "")
	if err != nil {
		t.Fatalf("GetEventsSince failed: %v", err)
	}
	if len(events) < 4 {
		t.Fatalf("expected at least 4 events, got %d", len(events))
	}
	if events[0].Type != types.EventTypeRunStatus {
		t.Errorf("expected first event run_status, got %q", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != types.EventTypeStreamEnd {
		t.Errorf("expected final event stream_end, got %q", last.Type)
	}
	if events[len(events)-2].Type != types.EventTypeRunStatus {
		t.Errorf("expected terminal run_status before stream_end, got %q", events[len(events)-2].Type)
	}

	var sawNode bool
	for _, evt := range events {
		if evt.Type == types.EventTypeNodeStatus && evt.NodeName == "only" {
			sawNode = true
		}
	}
	if !sawNode {
		t.Error("expected node_status events for the executed node")
	}

	run, err := store.GetRun(ctx, "run-evt")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != types.RunStatusSucceeded {
		t.Errorf("expected succeeded run record, got %q", run.Status)
	}
	if run.Results == nil || run.Results.RunID != "run-evt" {
		t.Errorf("expected saved results for the run, got %+v", run.Results)
	}
}

func TestManager_Run(t *testing.T) {
	newManager := func(t *testing.T) *Manager {
		t.Helper()
		m := NewManager(discardLogger())
		first := newTestPipeline(t, &types.PipelineConfig{
			Name:  "first",
			Nodes: []types.NodeConfig{sqlNode("a", `SELECT 1 AS x`)},
		})
		second := newTestPipeline(t, &types.PipelineConfig{
			Name:  "second",
			Nodes: []types.NodeConfig{sqlNode("a", `SELECT 2 AS x`)},
		})
		if err := m.Register(first); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if err := m.Register(second); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		return m
	}

	t.Run("runs all in registration order", func(t *testing.T) {
		m := newManager(t)
		if !equalStrings(m.Names(), []string{"first", "second"}) {
			t.Fatalf("unexpected names: %v", m.Names())
		}
		out, err := m.Run(context.Background())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(out) != 2 {
			t.Fatalf("expected 2 results, got %d", len(out))
		}
		for name, results := range out {
			if !results.Succeeded() {
				t.Errorf("pipeline %q: expected success, got %+v", name, results)
			}
		}
	})

	t.Run("runs a named subset", func(t *testing.T) {
		m := newManager(t)
		out, err := m.Run(context.Background(), "second")
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(out) != 1 {
			t.Fatalf("expected 1 result, got %d", len(out))
		}
		if _, ok := out["second"]; !ok {
			t.Errorf("expected result for second, got %v", out)
		}
	})

	t.Run("rejects unknown names before running", func(t *testing.T) {
		m := newManager(t)
		if _, err := m.Run(context.Background(), "first", "nope"); err == nil {
			t.Error("expected error for unknown pipeline")
		}
	})

	t.Run("rejects duplicate registration", func(t *testing.T) {
		m := newManager(t)
		dup := newTestPipeline(t, &types.PipelineConfig{
			Name:  "first",
			Nodes: []types.NodeConfig{sqlNode("a", `SELECT 1 AS x`)},
		})
		if err := m.Register(dup); err == nil {
			t.Error("expected error for duplicate name")
		}
	})

	t.Run("records construction failures without aborting the batch", func(t *testing.T) {
		m := newManager(t)
		broken := newTestPipeline(t, &types.PipelineConfig{
			Name:  "broken",
			Nodes: []types.NodeConfig{sqlNode("a", `SELECT 1 AS x`, "ghost")},
		})
		if err := m.Register(broken); err != nil {
			t.Fatalf("Register failed: %v", err)
		}

		out, err := m.Run(context.Background())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(out) != 3 {
			t.Fatalf("expected 3 results, got %d", len(out))
		}
		br := out["broken"]
		if br == nil || br.Error == "" || br.Status() != types.RunStatusFailed {
			t.Errorf("expected failed construction result, got %+v", br)
		}
		if !out["first"].Succeeded() || !out["second"].Succeeded() {
			t.Error("expected healthy pipelines to run despite the broken one")
		}
	})
}
