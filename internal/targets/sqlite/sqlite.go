// Package sqlite provides a pure-Go golden-execution target backed by
// modernc.org/sqlite, for executing emitted SQL without CGO in fast
// CI-style checks (exercised by this package's own test).
package sqlite

import (
	"context"
	"database/sql"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/canonica-labs/cubecompile/internal/targets"
)

// Target is a sqlite-backed targets.Target.
type Target struct {
	DSN string

	mu sync.Mutex
	db *sql.DB
}

// New returns a sqlite Target against dsn (":memory:" for an ephemeral
// in-process database, the common case in tests).
func New(dsn string) *Target {
	if dsn == "" {
		dsn = ":memory:"
	}
	return &Target{DSN: dsn}
}

// Name identifies this target.
func (t *Target) Name() string { return "sqlite" }

// Open establishes (or reuses) the connection.
func (t *Target) Open(ctx context.Context) (*sql.DB, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db != nil {
		return t.db, nil
	}
	db, err := targets.WithRetry(ctx, targets.DefaultRetryConfig(), func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open("sqlite", t.DSN)
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
