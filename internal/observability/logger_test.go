package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestCompileLogEntryValidateRequiresQueryID(t *testing.T) {
	entry := CompileLogEntry{}
	if err := entry.Validate(); err == nil {
		t.Fatal("expected missing query_id to fail validation")
	}
}

func TestCompileLogEntryValidateRejectsNegativeElapsed(t *testing.T) {
	entry := CompileLogEntry{QueryID: "q1", ElapsedTime: -1}
	if err := entry.Validate(); err == nil {
		t.Fatal("expected negative elapsed_time to fail validation")
	}
}

func TestJSONLoggerWritesOneLinePerEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf)

	err := logger.LogCompile(context.Background(), CompileLogEntry{
		QueryID: "q1",
		Dialect: "postgres",
		Outcome: "success",
	})
	if err != nil {
		t.Fatalf("LogCompile() error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one log line, got %d", len(lines))
	}

	var out jsonLogOutput
	if err := json.Unmarshal([]byte(lines[0]), &out); err != nil {
		t.Fatalf("log line is not valid JSON: %v", err)
	}
	if out.QueryID != "q1" || out.Level != "info" {
		t.Fatalf("decoded log line = %+v", out)
	}
}

func TestJSONLoggerMarksErrorLevelOnFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf)
	_ = logger.LogCompile(context.Background(), CompileLogEntry{QueryID: "q1", Error: "unknown member"})

	var out jsonLogOutput
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out); err != nil {
		t.Fatalf("log line is not valid JSON: %v", err)
	}
	if out.Level != "error" {
		t.Fatalf("Level = %q, want error", out.Level)
	}
}

func TestJSONLoggerRejectsInvalidEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf)
	if err := logger.LogCompile(context.Background(), CompileLogEntry{}); err == nil {
		t.Fatal("expected invalid entry (no query_id) to error")
	}
	if buf.Len() != 0 {
		t.Fatal("expected nothing written for an invalid entry")
	}
}

func TestGetAuditSummaryAggregatesSuccessAndErrorCounts(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf)
	ctx := context.Background()

	_ = logger.LogCompile(ctx, CompileLogEntry{QueryID: "q1", Outcome: "success", PreAggregationUsed: "Orders.daily"})
	_ = logger.LogCompile(ctx, CompileLogEntry{QueryID: "q2", Outcome: "success", PreAggregationUsed: "Orders.daily"})
	_ = logger.LogCompile(ctx, CompileLogEntry{QueryID: "q3", Error: "unknown member"})

	summary := logger.GetAuditSummary()
	if summary.SuccessCount != 2 || summary.ErrorCount != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(summary.TopUsedPreAggs) != 1 || summary.TopUsedPreAggs[0].Count != 2 {
		t.Fatalf("TopUsedPreAggs = %+v", summary.TopUsedPreAggs)
	}
}

func TestNoopLoggerNeverErrors(t *testing.T) {
	logger := NewNoopLogger()
	if err := logger.LogCompile(context.Background(), CompileLogEntry{}); err != nil {
		t.Fatalf("NoopLogger.LogCompile() error: %v", err)
	}
	summary := logger.GetAuditSummary()
	if summary.SuccessCount != 0 || summary.ErrorCount != 0 {
		t.Fatalf("summary = %+v", summary)
	}
}
