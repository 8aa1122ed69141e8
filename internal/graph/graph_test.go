package graph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/flexinfer/datapipe/pkg/types"
)

// node builds a minimal valid node config for graph tests.
func node(name string, deps ...string) types.NodeConfig {
	return types.NodeConfig{
		Name:      name,
		DependsOn: deps,
		Transform: &types.TransformSpec{SQL: "SELECT 1"},
	}
}

func TestNew(t *testing.T) {
	t.Run("builds valid graph", func(t *testing.T) {
		g, err := New([]types.NodeConfig{
			node("a"),
			node("b", "a"),
			node("c", "a", "b"),
		})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if g.Len() != 3 {
			t.Errorf("expected 3 nodes, got %d", g.Len())
		}
		if _, ok := g.Node("b"); !ok {
			t.Error("expected node b to exist")
		}
	})

	t.Run("rejects duplicate node name", func(t *testing.T) {
		_, err := New([]types.NodeConfig{node("a"), node("a")})
		if err == nil {
			t.Fatal("expected error for duplicate node name")
		}
	})

	t.Run("rejects unknown dependency", func(t *testing.T) {
		_, err := New([]types.NodeConfig{node("a", "ghost")})
		if err == nil {
			t.Fatal("expected error for unknown dependency")
		}
		var unknownErr *UnknownDependencyError
		if !errors.As(err, &unknownErr) {
			t.Fatalf("expected UnknownDependencyError, got %T", err)
		}
		if unknownErr.Node != "a" || unknownErr.Dependency != "ghost" {
			t.Errorf("unexpected error fields: %+v", unknownErr)
		}
	})

	t.Run("rejects invalid node", func(t *testing.T) {
		_, err := New([]types.NodeConfig{{Name: "empty"}})
		if !errors.Is(err, types.ErrInvalidNode) {
			t.Errorf("expected ErrInvalidNode, got %v", err)
		}
	})

	t.Run("rejects cycle with full path", func(t *testing.T) {
		_, err := New([]types.NodeConfig{
			node("a", "c"),
			node("b", "a"),
			node("c", "b"),
		})
		if err == nil {
			t.Fatal("expected cycle error")
		}
		var cycleErr *CycleError
		if !errors.As(err, &cycleErr) {
			t.Fatalf("expected CycleError, got %T", err)
		}
		if len(cycleErr.Path) < 4 {
			t.Fatalf("expected full cycle path, got %v", cycleErr.Path)
		}
		if cycleErr.Path[0] != cycleErr.Path[len(cycleErr.Path)-1] {
			t.Errorf("cycle path should start and end at the same node: %v", cycleErr.Path)
		}
	})

	t.Run("rejects self dependency", func(t *testing.T) {
		_, err := New([]types.NodeConfig{node("a", "a")})
		var cycleErr *CycleError
		if !errors.As(err, &cycleErr) {
			t.Fatalf("expected CycleError, got %v", err)
		}
	})
}

func TestGraph_TopologicalOrder(t *testing.T) {
	t.Run("orders linear chain", func(t *testing.T) {
		g, err := New([]types.NodeConfig{
			node("c", "b"),
			node("b", "a"),
			node("a"),
		})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		order, err := g.TopologicalOrder()
		if err != nil {
			t.Fatalf("TopologicalOrder failed: %v", err)
		}
		want := []string{"a", "b", "c"}
		if !reflect.DeepEqual(order, want) {
			t.Errorf("expected %v, got %v", want, order)
		}
	})

	t.Run("diamond keeps declaration order for ties", func(t *testing.T) {
		g, err := New([]types.NodeConfig{
			node("a"),
			node("b", "a"),
			node("c", "a"),
			node("d", "b", "c"),
		})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		order, err := g.TopologicalOrder()
		if err != nil {
			t.Fatalf("TopologicalOrder failed: %v", err)
		}
		want := []string{"a", "b", "c", "d"}
		if !reflect.DeepEqual(order, want) {
			t.Errorf("expected %v, got %v", want, order)
		}
	})

	t.Run("is deterministic across invocations", func(t *testing.T) {
		nodes := []types.NodeConfig{
			node("x"),
			node("m", "x"),
			node("n", "x"),
			node("p", "m"),
			node("q", "n", "m"),
		}
		g, err := New(nodes)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		first, err := g.TopologicalOrder()
		if err != nil {
			t.Fatalf("TopologicalOrder failed: %v", err)
		}
		for i := 0; i < 20; i++ {
			again, err := g.TopologicalOrder()
			if err != nil {
				t.Fatalf("TopologicalOrder failed: %v", err)
			}
			if !reflect.DeepEqual(first, again) {
				t.Fatalf("order changed between runs: %v vs %v", first, again)
			}
		}
	})
}

func TestGraph_ExecutionLayers(t *testing.T) {
	t.Run("groups diamond into three layers", func(t *testing.T) {
		g, err := New([]types.NodeConfig{
			node("a"),
			node("b", "a"),
			node("c", "a"),
			node("d", "b", "c"),
		})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		layers, err := g.ExecutionLayers()
		if err != nil {
			t.Fatalf("ExecutionLayers failed: %v", err)
		}
		want := [][]string{{"a"}, {"b", "c"}, {"d"}}
		if !reflect.DeepEqual(layers, want) {
			t.Errorf("expected %v, got %v", want, layers)
		}
	})

	t.Run("independent nodes share one layer", func(t *testing.T) {
		g, err := New([]types.NodeConfig{node("a"), node("b"), node("c")})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		layers, err := g.ExecutionLayers()
		if err != nil {
			t.Fatalf("ExecutionLayers failed: %v", err)
		}
		if len(layers) != 1 || len(layers[0]) != 3 {
			t.Errorf("expected one layer of 3, got %v", layers)
		}
	})
}

func TestGraph_Closures(t *testing.T) {
	g, err := New([]types.NodeConfig{
		node("a"),
		node("b", "a"),
		node("c", "b"),
		node("d", "b"),
		node("e"),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	t.Run("DependenciesOf is transitive", func(t *testing.T) {
		deps := g.DependenciesOf("c")
		want := []string{"b", "a"}
		if !reflect.DeepEqual(deps, want) {
			t.Errorf("expected %v, got %v", want, deps)
		}
	})

	t.Run("DependentsOf is transitive", func(t *testing.T) {
		dependents := g.DependentsOf("a")
		if len(dependents) != 3 {
			t.Errorf("expected 3 dependents of a, got %v", dependents)
		}
	})

	t.Run("isolated node has empty closures", func(t *testing.T) {
		if deps := g.DependenciesOf("e"); len(deps) != 0 {
			t.Errorf("expected no dependencies, got %v", deps)
		}
		if dependents := g.DependentsOf("e"); len(dependents) != 0 {
			t.Errorf("expected no dependents, got %v", dependents)
		}
	})

	t.Run("Names preserves declaration order", func(t *testing.T) {
		want := []string{"a", "b", "c", "d", "e"}
		if got := g.Names(); !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})
}
