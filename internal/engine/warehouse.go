package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
)

// WarehouseEngine pushes query execution to a PostgreSQL-compatible
// warehouse. Context datasets are loaded as session temp tables, so the
// server does the heavy lifting while the orchestration core keeps the
// same materialized-dataset contract as the local engine.
type WarehouseEngine struct {
	sqlEngine
}

// WarehouseConfig holds warehouse connection configuration.
type WarehouseConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	PingTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultWarehouseConfig returns sensible defaults.
func DefaultWarehouseConfig() *WarehouseConfig {
	return &WarehouseConfig{
		PingTimeout:     2 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// NewWarehouse creates a warehouse engine and verifies connectivity.
func NewWarehouse(cfg *WarehouseConfig) (*WarehouseEngine, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, fmt.Errorf("warehouse DSN is required")
	}
	defaults := DefaultWarehouseConfig()
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaults.PingTimeout
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaults.MaxOpenConns
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}

	return &WarehouseEngine{sqlEngine: sqlEngine{
		name:    "warehouse",
		db:      db,
		dialect: postgresDialect{},
	}}, nil
}

type postgresDialect struct{}

func (postgresDialect) typeName(t ColumnType) string {
	switch t {
	case TypeInteger:
		return "BIGINT"
	case TypeFloat:
		return "DOUBLE PRECISION"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func (postgresDialect) placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (postgresDialect) columnType(dbType string) ColumnType {
	switch dbType {
	case "INT2", "INT4", "INT8", "BIGINT", "INTEGER", "SMALLINT":
		return TypeInteger
	case "FLOAT4", "FLOAT8", "DOUBLE PRECISION", "NUMERIC", "REAL":
		return TypeFloat
	case "BOOL", "BOOLEAN":
		return TypeBoolean
	case "TIMESTAMP", "TIMESTAMPTZ", "DATE":
		return TypeTimestamp
	default:
		return TypeString
	}
}
