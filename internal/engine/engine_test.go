package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/flexinfer/datapipe/internal/execctx"
	"github.com/flexinfer/datapipe/internal/storage"
	"github.com/flexinfer/datapipe/pkg/types"
)

func sampleDataset() *Dataset {
	return &Dataset{
		Columns: []Column{
			{Name: "id", Type: TypeInteger},
			{Name: "amount", Type: TypeFloat},
			{Name: "region", Type: TypeString},
		},
		Rows: [][]interface{}{
			{int64(1), 10.0, "north"},
			{int64(2), 20.0, nil},
			{int64(3), 5.5, "south"},
		},
	}
}

func TestTarget_Resolve(t *testing.T) {
	t.Run("path wins over table", func(t *testing.T) {
		got, err := Target{Table: "orders", Path: "raw/orders.csv"}.Resolve(types.FormatCSV)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if got != "raw/orders.csv" {
			t.Errorf("expected raw/orders.csv, got %q", got)
		}
	})

	t.Run("table maps to file name", func(t *testing.T) {
		got, err := Target{Table: "orders"}.Resolve(types.FormatJSON)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if got != "orders.json" {
			t.Errorf("expected orders.json, got %q", got)
		}
	})

	t.Run("empty target fails", func(t *testing.T) {
		if _, err := (Target{}).Resolve(types.FormatCSV); err == nil {
			t.Error("expected error for empty target")
		}
	})
}

func TestInspection(t *testing.T) {
	ds := sampleDataset()

	t.Run("shape", func(t *testing.T) {
		rows, cols := shapeOf(ds)
		if rows != 3 || cols != 3 {
			t.Errorf("expected (3, 3), got (%d, %d)", rows, cols)
		}
	})

	t.Run("count nulls for all columns", func(t *testing.T) {
		counts, err := countNulls(ds, nil)
		if err != nil {
			t.Fatalf("countNulls failed: %v", err)
		}
		if counts["id"] != 0 || counts["region"] != 1 {
			t.Errorf("unexpected counts: %v", counts)
		}
	})

	t.Run("count nulls rejects unknown column", func(t *testing.T) {
		if _, err := countNulls(ds, []string{"ghost"}); err == nil {
			t.Error("expected error for unknown column")
		}
	})

	t.Run("schema copy is independent", func(t *testing.T) {
		schema := schemaOf(ds)
		schema[0].Name = "mutated"
		if ds.Columns[0].Name != "id" {
			t.Error("schemaOf must return a copy")
		}
	})

	t.Run("validate schema reports violations", func(t *testing.T) {
		violations := validateSchema(ds, []types.ColumnRule{
			{Name: "id", Type: "integer"},
			{Name: "amount", Type: "string"},
			{Name: "missing"},
		})
		if len(violations) != 2 {
			t.Fatalf("expected 2 violations, got %v", violations)
		}
	})

	t.Run("type match is case-insensitive", func(t *testing.T) {
		violations := validateSchema(ds, []types.ColumnRule{{Name: "id", Type: "INTEGER"}})
		if len(violations) != 0 {
			t.Errorf("expected no violations, got %v", violations)
		}
	})
}

func TestConcatDatasets(t *testing.T) {
	t.Run("reorders columns by name", func(t *testing.T) {
		a := &Dataset{
			Columns: []Column{{Name: "x", Type: TypeInteger}, {Name: "y", Type: TypeString}},
			Rows:    [][]interface{}{{int64(1), "a"}},
		}
		b := &Dataset{
			Columns: []Column{{Name: "y", Type: TypeString}, {Name: "x", Type: TypeInteger}},
			Rows:    [][]interface{}{{"b", int64(2)}},
		}

		merged, err := concatDatasets(a, b)
		if err != nil {
			t.Fatalf("concatDatasets failed: %v", err)
		}
		if len(merged.Rows) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(merged.Rows))
		}
		if merged.Rows[1][0] != int64(2) || merged.Rows[1][1] != "b" {
			t.Errorf("row not permuted to target order: %v", merged.Rows[1])
		}
	})

	t.Run("rejects column mismatch", func(t *testing.T) {
		a := &Dataset{Columns: []Column{{Name: "x"}}}
		b := &Dataset{Columns: []Column{{Name: "z"}}}
		if _, err := concatDatasets(a, b); err == nil {
			t.Error("expected error for mismatched columns")
		}
	})
}

func TestValidIdent(t *testing.T) {
	for _, name := range []string{"orders", "raw_2024", "_hidden"} {
		if err := validIdent(name); err != nil {
			t.Errorf("expected %q to be valid: %v", name, err)
		}
	}
	for _, name := range []string{"", "1abc", "a-b", `x"; DROP TABLE y; --`} {
		if err := validIdent(name); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestLocalEngine_ExecuteQuery(t *testing.T) {
	eng, err := NewLocal()
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	defer eng.Close()
	ctx := context.Background()

	t.Run("queries a context dataset", func(t *testing.T) {
		ec := execctx.New()
		if err := ec.Register("orders", sampleDataset()); err != nil {
			t.Fatalf("Register failed: %v", err)
		}

		ds, err := eng.ExecuteQuery(ctx, `SELECT id, amount FROM "orders" WHERE amount > 8 ORDER BY id`, ec)
		if err != nil {
			t.Fatalf("ExecuteQuery failed: %v", err)
		}
		if len(ds.Rows) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(ds.Rows))
		}
		if ds.Rows[0][0] != int64(1) || ds.Rows[1][0] != int64(2) {
			t.Errorf("unexpected rows: %v", ds.Rows)
		}
	})

	t.Run("joins two context datasets", func(t *testing.T) {
		ec := execctx.New()
		if err := ec.Register("orders", sampleDataset()); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		regions := &Dataset{
			Columns: []Column{
				{Name: "region", Type: TypeString},
				{Name: "manager", Type: TypeString},
			},
			Rows: [][]interface{}{
				{"north", "ada"},
				{"south", "grace"},
			},
		}
		if err := ec.Register("regions", regions); err != nil {
			t.Fatalf("Register failed: %v", err)
		}

		ds, err := eng.ExecuteQuery(ctx, `
			SELECT o.id, r.manager
			FROM "orders" o JOIN "regions" r ON o.region = r.region
			ORDER BY o.id`, ec)
		if err != nil {
			t.Fatalf("ExecuteQuery failed: %v", err)
		}
		if len(ds.Rows) != 2 {
			t.Fatalf("expected 2 joined rows, got %d", len(ds.Rows))
		}
		if ds.Rows[0][1] != "ada" {
			t.Errorf("unexpected join result: %v", ds.Rows)
		}
	})

	t.Run("temp tables do not leak across calls", func(t *testing.T) {
		ec := execctx.New()
		if err := ec.Register("once", sampleDataset()); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if _, err := eng.ExecuteQuery(ctx, `SELECT * FROM "once"`, ec); err != nil {
			t.Fatalf("ExecuteQuery failed: %v", err)
		}

		empty := execctx.New()
		if _, err := eng.ExecuteQuery(ctx, `SELECT * FROM "once"`, empty); err == nil {
			t.Error("expected query against missing table to fail")
		}
	})

	t.Run("rejects empty query", func(t *testing.T) {
		if _, err := eng.ExecuteQuery(ctx, "   ", execctx.New()); err == nil {
			t.Error("expected error for empty query")
		}
	})

	t.Run("rejects referenced non-dataset context entry", func(t *testing.T) {
		ec := execctx.New()
		if err := ec.Register("junk", 42); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if _, err := eng.ExecuteQuery(ctx, `SELECT * FROM junk`, ec); err == nil {
			t.Error("expected error for non-dataset entry")
		}
	})

	t.Run("ignores unreferenced unloadable datasets", func(t *testing.T) {
		ec := execctx.New()
		if err := ec.Register("good", sampleDataset()); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		// The shape an empty JSON array decodes to.
		if err := ec.Register("unrelated_empty", &Dataset{}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if err := ec.Register("weird-name", sampleDataset()); err != nil {
			t.Fatalf("Register failed: %v", err)
		}

		ds, err := eng.ExecuteQuery(ctx, `SELECT id FROM good ORDER BY id`, ec)
		if err != nil {
			t.Fatalf("ExecuteQuery failed: %v", err)
		}
		if len(ds.Rows) != 3 {
			t.Errorf("expected 3 rows, got %d", len(ds.Rows))
		}
	})

	t.Run("names a referenced zero-column dataset", func(t *testing.T) {
		ec := execctx.New()
		if err := ec.Register("empty", &Dataset{}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		_, err := eng.ExecuteQuery(ctx, `SELECT * FROM empty`, ec)
		if err == nil {
			t.Fatal("expected error for zero-column dataset")
		}
		if !strings.Contains(err.Error(), `"empty"`) || !strings.Contains(err.Error(), "no columns") {
			t.Errorf("expected error naming the dataset, got %v", err)
		}
	})
}

func TestLocalEngine_ReadWrite(t *testing.T) {
	eng, err := NewLocal()
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	defer eng.Close()
	ctx := context.Background()
	conn := storage.NewFSConnection("local", t.TempDir())

	t.Run("write then read CSV", func(t *testing.T) {
		target := Target{Table: "orders"}
		if err := eng.Write(ctx, sampleDataset(), conn, types.FormatCSV, target, types.WriteModeOverwrite, nil); err != nil {
			t.Fatalf("Write failed: %v", err)
		}

		ds, err := eng.Read(ctx, conn, types.FormatCSV, target, nil)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if rows, cols := eng.Shape(ds); rows != 3 || cols != 3 {
			t.Errorf("expected (3, 3), got (%d, %d)", rows, cols)
		}
	})

	t.Run("append mode extends the target", func(t *testing.T) {
		target := Target{Table: "events"}
		if err := eng.Write(ctx, sampleDataset(), conn, types.FormatJSON, target, types.WriteModeOverwrite, nil); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := eng.Write(ctx, sampleDataset(), conn, types.FormatJSON, target, types.WriteModeAppend, nil); err != nil {
			t.Fatalf("Append failed: %v", err)
		}

		ds, err := eng.Read(ctx, conn, types.FormatJSON, target, nil)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(ds.Rows) != 6 {
			t.Errorf("expected 6 rows after append, got %d", len(ds.Rows))
		}
	})

	t.Run("append to missing target behaves like overwrite", func(t *testing.T) {
		target := Target{Table: "fresh"}
		if err := eng.Write(ctx, sampleDataset(), conn, types.FormatCSV, target, types.WriteModeAppend, nil); err != nil {
			t.Fatalf("Append to missing target failed: %v", err)
		}
		ds, err := eng.Read(ctx, conn, types.FormatCSV, target, nil)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(ds.Rows) != 3 {
			t.Errorf("expected 3 rows, got %d", len(ds.Rows))
		}
	})

	t.Run("read failure wraps ReadError", func(t *testing.T) {
		_, err := eng.Read(ctx, conn, types.FormatCSV, Target{Table: "does_not_exist"}, nil)
		if err == nil {
			t.Fatal("expected error for missing target")
		}
		if !strings.HasPrefix(err.Error(), "read:") {
			t.Errorf("expected ReadError wrapping, got %v", err)
		}
	})
}
