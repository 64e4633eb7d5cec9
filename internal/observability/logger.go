// Package observability provides structured compile-event logging:
// validated entries marshalled as JSON lines (query_id, dialect, members
// touched, rules fired, outcome), with an RWMutex-guarded in-memory slice
// backing the audit summary. There is no durable persistence layer; a
// query compiler produces no audit trail the way a gateway access log does.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// CompileLogEntry records one compilation attempt's observable facts
// (determinism/telemetry needs the rule/member trail to be
// reconstructable from logs without re-running saturation).
type CompileLogEntry struct {
	// QueryID uniquely identifies this compilation (internal/cli's compile
	// command generates it with github.com/google/uuid).
	QueryID string

	// Dialect is the target SQL dialect name.
	Dialect string

	// MembersTouched lists every cube member full name the compiler
	// resolved while building this plan.
	MembersTouched []string

	// RulesFired lists the e-graph rewrite rule names that fired during
	// saturation, empty for the direct QueryRequest entry point.
	RulesFired []string

	// PreAggregationUsed is the matched pre-aggregation id, empty if none
	// matched.
	PreAggregationUsed string

	// MultiStageCount is how many multi-stage measures this query expanded.
	MultiStageCount int

	// ElapsedTime is how long compilation took end to end.
	ElapsedTime time.Duration

	// Outcome is "success", "error", or "cancelled".
	Outcome string

	// Error contains the error message if compilation failed. Empty on
	// success.
	Error string

	// InvariantViolated names the plan invariant broken, if any
	// (e.g. "multi-stage-not-bare" when a multi_stage measure reached a
	// LogicalJoin source unwrapped).
	InvariantViolated string
}

// Validate checks that the required fields are present.
func (e *CompileLogEntry) Validate() error {
	if e.QueryID == "" {
		return fmt.Errorf("observability: query_id is required")
	}
	if e.ElapsedTime < 0 {
		return fmt.Errorf("observability: elapsed_time cannot be negative")
	}
	return nil
}

// CompileLogger is the interface the compiler logs every compilation
// through.
type CompileLogger interface {
	// LogCompile logs one compilation event. Returns an error if logging
	// fails or the entry is invalid.
	LogCompile(ctx context.Context, entry CompileLogEntry) error

	// GetAuditSummary returns aggregated statistics over everything logged
	// so far.
	GetAuditSummary() *AuditSummary
}

// AuditSummary is aggregated compile-event statistics.
type AuditSummary struct {
	SuccessCount        int                   `json:"success_count"`
	ErrorCount          int                   `json:"error_count"`
	TopErrorReasons     []RejectionReasonStat `json:"top_error_reasons"`
	TopUsedPreAggs      []PreAggregationStat  `json:"top_used_pre_aggregations"`
}

// RejectionReasonStat is one (error message, count) bucket.
type RejectionReasonStat struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// PreAggregationStat is one (pre-aggregation id, count) bucket.
type PreAggregationStat struct {
	PreAggregation string `json:"pre_aggregation"`
	Count          int    `json:"count"`
}

// jsonLogOutput is the structured JSON log line shape.
type jsonLogOutput struct {
	Timestamp          string   `json:"timestamp"`
	Level              string   `json:"level"`
	QueryID            string   `json:"query_id"`
	Dialect            string   `json:"dialect"`
	MembersTouched     []string `json:"members_touched"`
	RulesFired         []string `json:"rules_fired"`
	PreAggregationUsed string   `json:"pre_aggregation_used,omitempty"`
	MultiStageCount    int      `json:"multi_stage_count"`
	ElapsedTimeMs      int64    `json:"elapsed_time_ms"`
	Outcome            string   `json:"outcome,omitempty"`
	Error              string   `json:"error,omitempty"`
	InvariantViolated  string   `json:"invariant_violated,omitempty"`
}

// JSONLogger implements CompileLogger with JSON-lines output.
type JSONLogger struct {
	writer  io.Writer
	entries []CompileLogEntry
	mu      sync.RWMutex
}

// NewJSONLogger creates a new JSON logger writing to w.
func NewJSONLogger(w io.Writer) *JSONLogger {
	return &JSONLogger{writer: w}
}

// LogCompile logs entry as one JSON line.
func (l *JSONLogger) LogCompile(ctx context.Context, entry CompileLogEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("observability: context error: %w", err)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	level := "info"
	if entry.Error != "" {
		level = "error"
	}

	output := jsonLogOutput{
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		Level:              level,
		QueryID:            entry.QueryID,
		Dialect:            entry.Dialect,
		MembersTouched:     entry.MembersTouched,
		RulesFired:         entry.RulesFired,
		PreAggregationUsed: entry.PreAggregationUsed,
		MultiStageCount:    entry.MultiStageCount,
		ElapsedTimeMs:      entry.ElapsedTime.Milliseconds(),
		Outcome:            entry.Outcome,
		Error:              entry.Error,
		InvariantViolated:  entry.InvariantViolated,
	}
	if output.MembersTouched == nil {
		output.MembersTouched = []string{}
	}
	if output.RulesFired == nil {
		output.RulesFired = []string{}
	}

	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("observability: failed to marshal log: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("observability: failed to write log: %w", err)
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return nil
}

// GetAuditSummary returns aggregated statistics over every entry logged so far.
func (l *JSONLogger) GetAuditSummary() *AuditSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	summary := &AuditSummary{
		TopErrorReasons: []RejectionReasonStat{},
		TopUsedPreAggs:  []PreAggregationStat{},
	}

	errorReasons := make(map[string]int)
	preAggCounts := make(map[string]int)

	for _, entry := range l.entries {
		if entry.Error == "" {
			summary.SuccessCount++
		} else {
			summary.ErrorCount++
			errorReasons[entry.Error]++
		}
		if entry.PreAggregationUsed != "" {
			preAggCounts[entry.PreAggregationUsed]++
		}
	}

	for reason, count := range errorReasons {
		summary.TopErrorReasons = append(summary.TopErrorReasons, RejectionReasonStat{Reason: reason, Count: count})
	}
	sort.Slice(summary.TopErrorReasons, func(i, j int) bool {
		return summary.TopErrorReasons[i].Count > summary.TopErrorReasons[j].Count
	})
	if len(summary.TopErrorReasons) > 5 {
		summary.TopErrorReasons = summary.TopErrorReasons[:5]
	}

	for id, count := range preAggCounts {
		summary.TopUsedPreAggs = append(summary.TopUsedPreAggs, PreAggregationStat{PreAggregation: id, Count: count})
	}
	sort.Slice(summary.TopUsedPreAggs, func(i, j int) bool {
		return summary.TopUsedPreAggs[i].Count > summary.TopUsedPreAggs[j].Count
	})
	if len(summary.TopUsedPreAggs) > 5 {
		summary.TopUsedPreAggs = summary.TopUsedPreAggs[:5]
	}

	return summary
}

// NoopLogger discards every log, used by tests and by `cubecompile compile`
// when debug logging is off.
type NoopLogger struct{}

// NewNoopLogger creates a no-op logger.
func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

// LogCompile does nothing and always succeeds.
func (l *NoopLogger) LogCompile(ctx context.Context, entry CompileLogEntry) error { return nil }

// GetAuditSummary returns an empty summary.
func (l *NoopLogger) GetAuditSummary() *AuditSummary {
	return &AuditSummary{TopErrorReasons: []RejectionReasonStat{}, TopUsedPreAggs: []PreAggregationStat{}}
}
