// Package targets defines the common interface for golden-execution
// adapters: thin wrappers that take the SQL + parameter vector
// internal/physical emits and actually run it against a real engine, so
// integration tests can assert on *executed* results rather than just the
// SQL string.
//
// These adapters are deliberately out of the compile path itself; nothing
// in internal/compiler imports this package. Only _test.go files under
// internal/targets/... and integration tests do.
package targets

import (
	"context"
	"database/sql"
	"time"
)

// QueryResult is the result of executing emitted SQL against a real engine.
type QueryResult struct {
	Columns  []string
	Rows     [][]interface{}
	RowCount int
}

// Target executes compiled SQL against one real engine.
type Target interface {
	// Name identifies the target ("postgres", "duckdb", "sqlite").
	Name() string

	// Open establishes (or reuses) the underlying connection.
	Open(ctx context.Context) (*sql.DB, error)

	// Execute runs sqlText with params bound positionally and returns the
	// result set.
	Execute(ctx context.Context, sqlText string, params []interface{}) (*QueryResult, error)
}

// RetryConfig bounds the exponential-backoff retry loop Open uses.
// Retries are bounded and surfaced via the returned error's wrapping,
// never infinite.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig returns a conservative bounded retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}
}

// WithRetry attempts open up to cfg.MaxAttempts times with exponential
// backoff, returning the last error if every attempt fails.
func WithRetry(ctx context.Context, cfg RetryConfig, open func(context.Context) (*sql.DB, error)) (*sql.DB, error) {
	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		db, err := open(ctx)
		if err == nil {
			return db, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// RunRows executes sqlText via db and materializes the result set, the
// shared tail every Target.Execute implementation delegates to once it has
// a live *sql.DB.
func RunRows(ctx context.Context, db *sql.DB, sqlText string, params []interface{}) (*QueryResult, error) {
	rows, err := db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Columns: cols}
	for rows.Next() {
		raw := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, raw)
		result.RowCount++
	}
	return result, rows.Err()
}
