package engine

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/flexinfer/datapipe/internal/execctx"
	"github.com/flexinfer/datapipe/internal/storage"
	"github.com/flexinfer/datapipe/pkg/types"
)

// dialect captures what differs between SQL backends: DDL type names and
// parameter placeholders.
type dialect interface {
	typeName(t ColumnType) string
	placeholder(n int) string
	columnType(databaseTypeName string) ColumnType
}

// sqlEngine is the shared implementation behind both backends. Datasets
// are materialized in process; queries run on the backing database with
// the execution context's datasets loaded as per-connection temp tables.
type sqlEngine struct {
	name    string
	db      *sql.DB
	dialect dialect
}

func (e *sqlEngine) Name() string {
	return e.name
}

func (e *sqlEngine) Close() error {
	return e.db.Close()
}

func (e *sqlEngine) Schema(ds *Dataset) []Column {
	return schemaOf(ds)
}

func (e *sqlEngine) Shape(ds *Dataset) (int64, int64) {
	return shapeOf(ds)
}

func (e *sqlEngine) CountNulls(ds *Dataset, columns []string) (map[string]int64, error) {
	return countNulls(ds, columns)
}

func (e *sqlEngine) ValidateSchema(ds *Dataset, rules []types.ColumnRule) []string {
	return validateSchema(ds, rules)
}

// Read loads and decodes a dataset from a connection.
func (e *sqlEngine) Read(ctx context.Context, conn storage.Connection, format types.Format, target Target, options map[string]string) (*Dataset, error) {
	rel, err := target.Resolve(format)
	if err != nil {
		return nil, &ReadError{Err: err}
	}

	r, err := conn.Open(ctx, rel)
	if err != nil {
		return nil, &ReadError{Err: err}
	}
	defer r.Close()

	ds, err := decodeDataset(r, format, options)
	if err != nil {
		return nil, &ReadError{Err: err}
	}
	return ds, nil
}

// Write encodes a dataset to a connection. Append reads the existing
// target, checks the column sets line up, concatenates, and rewrites; the
// connections expose no partial-write primitive so this keeps CSV headers
// and JSON arrays well formed on every backend.
func (e *sqlEngine) Write(ctx context.Context, ds *Dataset, conn storage.Connection, format types.Format, target Target, mode types.WriteMode, options map[string]string) error {
	if ds == nil {
		return &WriteError{Err: fmt.Errorf("no dataset to write")}
	}
	rel, err := target.Resolve(format)
	if err != nil {
		return &WriteError{Err: err}
	}

	out := ds
	if mode == types.WriteModeAppend {
		exists, err := conn.Exists(ctx, rel)
		if err != nil {
			return &WriteError{Err: err}
		}
		if exists {
			existing, err := e.Read(ctx, conn, format, target, options)
			if err != nil {
				return &WriteError{Err: fmt.Errorf("read existing target: %w", err)}
			}
			merged, err := concatDatasets(existing, ds)
			if err != nil {
				return &WriteError{Err: err}
			}
			out = merged
		}
	}

	w, err := conn.Create(ctx, rel)
	if err != nil {
		return &WriteError{Err: err}
	}
	if err := encodeDataset(w, out, format, options); err != nil {
		w.Close()
		return &WriteError{Err: err}
	}
	if err := w.Close(); err != nil {
		return &WriteError{Err: err}
	}
	return nil
}

// concatDatasets appends rows of b after a. The column name sets must
// match; b's rows are reordered to a's column order.
func concatDatasets(a, b *Dataset) (*Dataset, error) {
	if len(a.Columns) != len(b.Columns) {
		return nil, fmt.Errorf("append column mismatch: target has %d columns, dataset has %d", len(a.Columns), len(b.Columns))
	}
	perm := make([]int, len(a.Columns))
	for i, c := range a.Columns {
		j := b.ColumnIndex(c.Name)
		if j < 0 {
			return nil, fmt.Errorf("append column mismatch: target column %q missing from dataset", c.Name)
		}
		perm[i] = j
	}

	rows := make([][]interface{}, 0, len(a.Rows)+len(b.Rows))
	rows = append(rows, a.Rows...)
	for _, src := range b.Rows {
		row := make([]interface{}, len(perm))
		for i, j := range perm {
			row[i] = src[j]
		}
		rows = append(rows, row)
	}

	return &Dataset{Columns: schemaOf(a), Rows: rows}, nil
}

// ExecuteQuery loads the context datasets the query references into temp
// tables on a single database connection, runs the query there, and
// materializes the result. Temp tables are created fresh per call so each
// query sees the context's current values; names the query never mentions
// stay unloaded, so one unloadable dataset cannot fail unrelated queries.
func (e *sqlEngine) ExecuteQuery(ctx context.Context, query string, ec *execctx.Context) (*Dataset, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &QueryError{Err: fmt.Errorf("empty query")}
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	defer conn.Close()

	var registered []string
	defer func() {
		for _, name := range registered {
			conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name))
		}
	}()

	refs := queryIdents(query)
	for _, name := range ec.Names() {
		if _, ok := refs[strings.ToLower(name)]; !ok {
			continue
		}
		ds, err := DatasetFrom(ec, name)
		if err != nil {
			return nil, &QueryError{Err: err}
		}
		if err := e.loadTempTable(ctx, conn, name, ds); err != nil {
			return nil, &QueryError{Err: err}
		}
		registered = append(registered, name)
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	defer rows.Close()

	ds, err := e.scanDataset(rows)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	return ds, nil
}

func (e *sqlEngine) loadTempTable(ctx context.Context, conn *sql.Conn, name string, ds *Dataset) error {
	if err := validIdent(name); err != nil {
		return err
	}
	if len(ds.Columns) == 0 {
		// An empty JSON array decodes to this shape; the DDL would be a
		// syntax error, so name the dataset instead.
		return fmt.Errorf("dataset %q has no columns", name)
	}

	defs := make([]string, len(ds.Columns))
	for j, c := range ds.Columns {
		if err := validIdent(c.Name); err != nil {
			return fmt.Errorf("dataset %q: %w", name, err)
		}
		defs[j] = quoteIdent(c.Name) + " " + e.dialect.typeName(c.Type)
	}

	ddl := fmt.Sprintf("CREATE TEMP TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create temp table %q: %w", name, err)
	}
	if len(ds.Rows) == 0 {
		return nil
	}

	marks := make([]string, len(ds.Columns))
	for j := range marks {
		marks[j] = e.dialect.placeholder(j + 1)
	}
	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), strings.Join(marks, ", "))

	stmt, err := conn.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare insert for %q: %w", name, err)
	}
	defer stmt.Close()

	for i, row := range ds.Rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("insert row %d into %q: %w", i, name, err)
		}
	}
	return nil
}

var identTokens = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// queryIdents returns the lowercased identifier-like tokens of a query.
// It deliberately over-matches (keywords, column names, quoted strings);
// a false positive only loads an extra temp table, a miss never happens
// because table references are always identifier tokens.
func queryIdents(query string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range identTokens.FindAllString(query, -1) {
		out[strings.ToLower(tok)] = struct{}{}
	}
	return out
}

// scanDataset materializes a result set, normalizing driver values to the
// dataset cell types.
func (e *sqlEngine) scanDataset(rows *sql.Rows) (*Dataset, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	cols := make([]Column, len(colTypes))
	for j, ct := range colTypes {
		cols[j] = Column{
			Name: ct.Name(),
			Type: e.dialect.columnType(strings.ToUpper(ct.DatabaseTypeName())),
		}
	}

	var out [][]interface{}
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for j := range values {
		ptrs[j] = &values[j]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]interface{}, len(cols))
		for j, v := range values {
			cell := normalizeCell(v)
			row[j] = cell
			// Drivers report weak types for computed columns; refine
			// from the values we actually see.
			if cell != nil && cols[j].Type == TypeString {
				if t := cellType(cell); t != TypeString {
					cols[j].Type = t
				}
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Dataset{Columns: cols, Rows: out}, nil
}

func normalizeCell(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case int64, float64, bool, string, time.Time:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
