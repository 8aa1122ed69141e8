package engine

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// LocalEngine executes everything in process. SQL runs on an embedded
// SQLite database; datasets live in memory. This is the default backend
// and the one used by tests and local development.
type LocalEngine struct {
	sqlEngine
}

// NewLocal creates a local engine.
func NewLocal() (*LocalEngine, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	return &LocalEngine{sqlEngine: sqlEngine{
		name:    "local",
		db:      db,
		dialect: sqliteDialect{},
	}}, nil
}

// sqliteDialect maps the neutral column types onto SQLite's affinities.
// Booleans are stored as integers and timestamps as RFC 3339 text, so a
// query round trip may coerce those types (the CSV caveat applies here
// too).
type sqliteDialect struct{}

func (sqliteDialect) typeName(t ColumnType) string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "REAL"
	case TypeBoolean:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) placeholder(int) string {
	return "?"
}

func (sqliteDialect) columnType(dbType string) ColumnType {
	switch {
	case strings.Contains(dbType, "INT"):
		return TypeInteger
	case dbType == "REAL", dbType == "FLOAT", dbType == "DOUBLE", dbType == "NUMERIC":
		return TypeFloat
	default:
		return TypeString
	}
}
