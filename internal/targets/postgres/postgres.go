// Package postgres provides a golden-execution target backed by
// github.com/lib/pq, used to verify emitted SQL for the Postgres dialect
// target actually parses and executes against a real Postgres-compatible
// engine.
package postgres

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/lib/pq"

	"github.com/canonica-labs/cubecompile/internal/targets"
)

// Target is a Postgres-backed targets.Target.
type Target struct {
	ConnString string

	mu sync.Mutex
	db *sql.DB
}

// New returns a Postgres Target against connString (a lib/pq-style DSN).
func New(connString string) *Target {
	return &Target{ConnString: connString}
}

// Name identifies this target.
func (t *Target) Name() string { return "postgres" }

// Open establishes (or reuses) the connection.
func (t *Target) Open(ctx context.Context) (*sql.DB, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db != nil {
		return t.db, nil
	}
	db, err := targets.WithRetry(ctx, targets.DefaultRetryConfig(), func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open("postgres", t.ConnString)
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
