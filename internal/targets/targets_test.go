package targets

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

func TestWithRetrySucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) (*sql.DB, error) {
		calls++
		return &sql.DB{}, nil
	})
	if err != nil {
		t.Fatalf("WithRetry() error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestWithRetryExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	calls := 0
	boom := errors.New("connection refused")
	_, err := WithRetry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) (*sql.DB, error) {
		calls++
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestWithRetryStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := WithRetry(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond}, func(ctx context.Context) (*sql.DB, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return nil, errors.New("still failing")
	})
	if err == nil {
		t.Fatal("expected an error once the context is cancelled")
	}
	if calls > 2 {
		t.Fatalf("calls = %d, expected retry loop to stop shortly after cancellation", calls)
	}
}
