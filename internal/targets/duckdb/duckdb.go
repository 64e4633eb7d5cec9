// Package duckdb provides a golden-execution target backed by
// github.com/marcboeker/go-duckdb, used to verify emitted SQL for the
// DuckDB dialect target actually executes against the engine
// pre-aggregation rollup tables are frequently materialized in.
package duckdb

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/canonica-labs/cubecompile/internal/targets"
)

// Target is a DuckDB-backed targets.Target.
type Target struct {
	DSN string

	mu sync.Mutex
	db *sql.DB
}

// New returns a DuckDB Target against dsn (empty string opens an
// in-memory database).
func New(dsn string) *Target {
	return &Target{DSN: dsn}
}

// Name identifies this target.
func (t *Target) Name() string { return "duckdb" }

// Open establishes (or reuses) the connection.
func (t *Target) Open(ctx context.Context) (*sql.DB, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db != nil {
		return t.db, nil
	}
	db, err := targets.WithRetry(ctx, targets.DefaultRetryConfig(), func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open("duckdb", t.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	t.db = db
	return db, nil
}

// Execute runs sqlText against the live connection.
func (t *Target) Execute(ctx context.Context, sqlText string, params []interface{}) (*targets.QueryResult, error) {
	db, err := t.Open(ctx)
	if err != nil {
		return nil, err
	}
	return targets.RunRows(ctx, db, sqlText, params)
}
