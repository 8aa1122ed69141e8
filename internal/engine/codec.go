package engine

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/flexinfer/datapipe/pkg/types"
)

// decodeDataset parses a serialized dataset. CSV infers cell types from
// the values, so round-tripping through CSV may coerce types; JSON keeps
// the distinction between numbers, strings, booleans, and nulls.
func decodeDataset(r io.Reader, format types.Format, options map[string]string) (*Dataset, error) {
	switch format {
	case types.FormatCSV:
		return decodeCSV(r, options)
	case types.FormatJSON:
		return decodeJSON(r)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// encodeDataset serializes a dataset.
func encodeDataset(w io.Writer, ds *Dataset, format types.Format, options map[string]string) error {
	switch format {
	case types.FormatCSV:
		return encodeCSV(w, ds, options)
	case types.FormatJSON:
		return encodeJSON(w, ds)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func csvDelimiter(options map[string]string) (rune, error) {
	d, ok := options["delimiter"]
	if !ok || d == "" {
		return ',', nil
	}
	runes := []rune(d)
	if len(runes) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", d)
	}
	return runes[0], nil
}

func decodeCSV(r io.Reader, options map[string]string) (*Dataset, error) {
	delim, err := csvDelimiter(options)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.ReuseRecord = false

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv input has no header row")
	}

	header := records[0]
	body := records[1:]

	cols := make([]Column, len(header))
	rows := make([][]interface{}, len(body))
	for i, rec := range body {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("csv row %d has %d fields, header has %d", i+1, len(rec), len(header))
		}
		row := make([]interface{}, len(rec))
		for j, field := range rec {
			row[j] = parseCSVValue(field)
		}
		rows[i] = row
	}

	for j, name := range header {
		cols[j] = Column{Name: name, Type: inferColumnType(rows, j)}
	}
	return &Dataset{Columns: cols, Rows: rows}, nil
}

// parseCSVValue coerces a CSV field: empty is null, then integer, float,
// boolean, and finally string.
func parseCSVValue(field string) interface{} {
	if field == "" {
		return nil
	}
	if i, err := strconv.ParseInt(field, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(field, 64); err == nil {
		return f
	}
	switch field {
	case "true", "True", "TRUE":
		return true
	case "false", "False", "FALSE":
		return false
	}
	if t, err := time.Parse(time.RFC3339, field); err == nil {
		return t
	}
	return field
}

// inferColumnType picks the narrowest type covering every non-null cell
// in a column; mixed or all-null columns fall back to string.
func inferColumnType(rows [][]interface{}, col int) ColumnType {
	var seen ColumnType
	for _, row := range rows {
		v := row[col]
		if v == nil {
			continue
		}
		t := cellType(v)
		switch {
		case seen == "":
			seen = t
		case seen == t:
		case seen == TypeInteger && t == TypeFloat, seen == TypeFloat && t == TypeInteger:
			seen = TypeFloat
		default:
			return TypeString
		}
	}
	if seen == "" {
		return TypeString
	}
	return seen
}

func cellType(v interface{}) ColumnType {
	switch v.(type) {
	case int64:
		return TypeInteger
	case float64:
		return TypeFloat
	case bool:
		return TypeBoolean
	case time.Time:
		return TypeTimestamp
	default:
		return TypeString
	}
}

func encodeCSV(w io.Writer, ds *Dataset, options map[string]string) error {
	delim, err := csvDelimiter(options)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	cw.Comma = delim

	header := make([]string, len(ds.Columns))
	for j, c := range ds.Columns {
		header[j] = c.Name
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(ds.Columns))
	for _, row := range ds.Rows {
		for j, v := range row {
			record[j] = formatCSVValue(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCSVValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// decodeJSON parses an array of flat objects. Column order is the sorted
// union of keys so decoding is deterministic regardless of object order.
func decodeJSON(r io.Reader) (*Dataset, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var objects []map[string]interface{}
	if err := dec.Decode(&objects); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	keySet := make(map[string]bool)
	for _, obj := range objects {
		for k := range obj {
			keySet[k] = true
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]interface{}, len(objects))
	for i, obj := range objects {
		row := make([]interface{}, len(keys))
		for j, k := range keys {
			v, ok := obj[k]
			if !ok {
				row[j] = nil
				continue
			}
			cell, err := jsonCell(v)
			if err != nil {
				return nil, fmt.Errorf("row %d, key %q: %w", i, k, err)
			}
			row[j] = cell
		}
		rows[i] = row
	}

	cols := make([]Column, len(keys))
	for j, k := range keys {
		cols[j] = Column{Name: k, Type: inferColumnType(rows, j)}
	}
	return &Dataset{Columns: cols, Rows: rows}, nil
}

func jsonCell(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil, bool, string:
		return x, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", x.String())
		}
		return f, nil
	default:
		// Nested structures are carried as their JSON text.
		raw, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	}
}

func encodeJSON(w io.Writer, ds *Dataset) error {
	objects := make([]map[string]interface{}, len(ds.Rows))
	for i, row := range ds.Rows {
		obj := make(map[string]interface{}, len(ds.Columns))
		for j, c := range ds.Columns {
			v := row[j]
			if t, ok := v.(time.Time); ok {
				v = t.UTC().Format(time.RFC3339)
			}
			obj[c.Name] = v
		}
		objects[i] = obj
	}

	enc := json.NewEncoder(w)
	return enc.Encode(objects)
}
